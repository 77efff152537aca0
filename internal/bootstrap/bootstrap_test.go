package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cdss-mcp-server/internal/config"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/fixtures"
	"github.com/cdss-mcp-server/internal/loader"
	"github.com/cdss-mcp-server/internal/model"
	"github.com/cdss-mcp-server/internal/registry"
	"github.com/cdss-mcp-server/internal/service"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type mockReference struct{ mock.Mock }

func (m *mockReference) LoadReference(ctx context.Context) ([]domain.PatientRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]domain.PatientRecord)
	return records, args.Error(1)
}


func TestFeatureBuilder_Defaults(t *testing.T) {
	b, err := FeatureBuilder(context.Background(), domain.FeatureConfig{}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, features.DefaultImputation(), b.Config().Imputation)
	assert.Equal(t, features.DefaultAgeBins, b.Config().AgeBins)
}

func TestFeatureBuilderFrom_ReferenceMediansWithOverrides(t *testing.T) {
	ref := &mockReference{}
	ref.On("LoadReference", mock.Anything).Return([]domain.PatientRecord{
		{Age: domain.Int(40), BMI: domain.Float(22)},
		{Age: domain.Int(50), BMI: domain.Float(24)},
		{Age: domain.Int(60), BMI: domain.Float(40)},
	}, nil)

	b, err := FeatureBuilderFrom(context.Background(),
		domain.FeatureConfig{Medians: map[string]float64{features.FeatureBMI: 31}}, ref, quietLogger())
	require.NoError(t, err)

	imp := b.Config().Imputation
	assert.Equal(t, 50.0, imp.Age, "age median comes from the reference cohort")
	assert.Equal(t, 31.0, imp.BMI, "explicit medians win")
	assert.Equal(t, features.DefaultImputation().Creatinine, imp.Creatinine, "absent fields keep defaults")
	ref.AssertExpectations(t)
}

func TestFeatureBuilderFrom_Errors(t *testing.T) {
	ref := &mockReference{}
	ref.On("LoadReference", mock.Anything).Return(nil, errors.New("disk gone"))
	_, err := FeatureBuilderFrom(context.Background(), domain.FeatureConfig{}, ref, quietLogger())
	assert.ErrorContains(t, err, "disk gone")

	_, err = FeatureBuilder(context.Background(),
		domain.FeatureConfig{Medians: map[string]float64{"heigth": 170}}, quietLogger())
	assert.Error(t, err)

	_, err = FeatureBuilder(context.Background(),
		domain.FeatureConfig{ReferenceCohort: "/nonexistent/reference.csv"}, quietLogger())
	assert.Error(t, err)
}

func TestFeatureBuilder_ReferenceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reference.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, loader.WriteCohort(f, fixtures.Cohort(200, 5, fixtures.DefaultCohortOptions())))
	require.NoError(t, f.Close())

	b, err := FeatureBuilder(context.Background(), domain.FeatureConfig{ReferenceCohort: path}, quietLogger())
	require.NoError(t, err)
	want := features.ComputeImputation(fixtures.Records(fixtures.Cohort(200, 5, fixtures.DefaultCohortOptions())))
	assert.InDelta(t, want.Age, b.Config().Imputation.Age, 1e-9)
	assert.InDelta(t, want.Creatinine, b.Config().Imputation.Creatinine, 1e-9)
}

func TestInteractionIndex_BundledSample(t *testing.T) {
	ix, err := InteractionIndex(context.Background(), domain.InteractionConfig{}, quietLogger())
	require.NoError(t, err)

	res := ix.Lookup([]string{"Coumadin", "aspirin"})
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.SeverityHigh, res.Findings[0].Severity)
	assert.Equal(t, 14, ix.Stats(0).Pairs)
}

func TestInteractionIndex_FilesAndVocabulary(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.csv")
	require.NoError(t, os.WriteFile(corpus, []byte(
		"drug_1,drug_2,interaction_description\n"+
			"Alpha,Beta,Monitor closely when combined\n"+
			"Beta,Gamma,Concurrent use may increase exposure\n"), 0644))
	vocab := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(vocab, []byte(`
aliases:
  alphamax: alpha
rules:
  - severity: High
    keywords: [monitor closely]
`), 0644))

	ix, err := InteractionIndex(context.Background(),
		domain.InteractionConfig{CorpusPath: corpus, AliasPath: vocab, ExtendedRules: true}, quietLogger())
	require.NoError(t, err)

	res := ix.Lookup([]string{"AlphaMax", "beta", "gamma"})
	require.Len(t, res.Findings, 2)
	bySeverity := map[domain.Severity]int{}
	for _, f := range res.Findings {
		bySeverity[f.Severity]++
	}
	assert.Equal(t, 1, bySeverity[domain.SeverityHigh])

	_, err = InteractionIndex(context.Background(),
		domain.InteractionConfig{CorpusPath: filepath.Join(dir, "missing.csv")}, quietLogger())
	assert.Error(t, err)
}

func TestAttributionEngine(t *testing.T) {
	e := AttributionEngine(domain.AttributionConfig{Samples: 12, Seed: 3})
	assert.Equal(t, 12, e.Samples())
}

func trainedArtifact(t *testing.T, b *features.Builder, version string) *model.Artifact {
	t.Helper()
	cohort := fixtures.Cohort(120, 9, fixtures.DefaultCohortOptions())
	vs, err := b.BuildAll(fixtures.Records(cohort))
	require.NoError(t, err)
	x := make([][]float64, len(vs))
	y := make([]bool, len(vs))
	for i := range vs {
		x[i] = vs[i].Values()
		y[i] = cohort[i].Label
	}
	clf, err := model.Fit(context.Background(), model.TypeLogistic, model.Hyperparameters{L2: 0.01, Iterations: 50}, x, y)
	require.NoError(t, err)
	a, err := model.NewArtifact(model.ArtifactSpec{
		Version:    version,
		Schema:     b.Schema(),
		Builder:    b.Config(),
		Classifier: clf,
		Provenance: model.Provenance{TrainedAt: time.Now().UTC(), ModelType: model.TypeLogistic},
		Background: x[:16],
	})
	require.NoError(t, err)
	return a
}

func TestPublishLatest(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()
	store, err := registry.NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.db"), logger)
	require.NoError(t, err)
	defer store.Close()

	b, err := FeatureBuilder(ctx, domain.FeatureConfig{}, logger)
	require.NoError(t, err)
	risk := service.NewRiskService(AttributionEngine(domain.AttributionConfig{Samples: 8, Seed: 1}), nil, logger)

	ok, err := PublishLatest(ctx, store, b, risk, logger)
	require.NoError(t, err)
	assert.False(t, ok, "empty registry is not an error")
	assert.Nil(t, risk.Current())

	_, err = store.Save(ctx, trainedArtifact(t, b, "v1").Bundle())
	require.NoError(t, err)
	_, err = store.Save(ctx, trainedArtifact(t, b, "v2").Bundle())
	require.NoError(t, err)

	ok, err = PublishLatest(ctx, store, b, risk, logger)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", risk.Current().Version())

	a, err := PublishVersion(ctx, store, "v1", b, risk)
	require.NoError(t, err)
	assert.Equal(t, "v1", a.Version())
	assert.Equal(t, "v1", risk.Current().Version())

	_, err = PublishVersion(ctx, store, "v9", b, risk)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	other, err := FeatureBuilder(ctx, domain.FeatureConfig{AgeBins: []float64{40, 60, 75, 90}}, logger)
	require.NoError(t, err)
	_, err = PublishLatest(ctx, store, other, risk, logger)
	assert.True(t, errors.Is(err, domain.ErrSchemaMismatch))
}

func TestNewRuntime_Requirements(t *testing.T) {
	_, err := NewRuntime(context.Background(), RuntimeConfig{}, quietLogger())
	assert.Error(t, err)
}

func TestLiteRuntime_Reload(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "cdss")
	cfg.AttributionSamples = 8

	rt, err := NewLiteRuntime(ctx, cfg, logger)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Risk.Current())
	assert.Equal(t, 14, rt.Interactions.Stats(0).Pairs)
	_, err = os.Stat(cfg.RegistryDBPath())
	require.NoError(t, err)

	_, err = rt.Store.Save(ctx, trainedArtifact(t, rt.Builder, "lite-v1").Bundle())
	require.NoError(t, err)
	require.NoError(t, rt.Reload(ctx))
	require.NotNil(t, rt.Risk.Current())
	assert.Equal(t, "lite-v1", rt.Risk.Current().Version())

	assessment, err := rt.Risk.Assess(ctx, domain.PatientRecord{Age: domain.Int(77)})
	require.NoError(t, err)
	assert.Equal(t, "lite-v1", assessment.ArtifactVersion)
}

func TestLiteRuntime_ReloadKeepsLiveModelOnCorruptBundle(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "cdss")
	cfg.AttributionSamples = 8

	rt, err := NewLiteRuntime(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Store.Save(ctx, trainedArtifact(t, rt.Builder, "live").Bundle())
	require.NoError(t, err)
	require.NoError(t, rt.Reload(ctx))
	live := rt.Risk.Current()
	require.NotNil(t, live)

	corrupt := trainedArtifact(t, rt.Builder, "corrupt").Bundle()
	corrupt.Model = model.Params{
		Type:     model.TypeForest,
		Features: rt.Builder.Schema().Len(),
		Trees: []model.Tree{{Nodes: []model.Node{
			{Feature: 99, Threshold: 1, Left: 1, Right: 2},
			{Feature: -1, Left: -1, Right: -1, Value: 0.1},
			{Feature: -1, Left: -1, Right: -1, Value: 0.9},
		}}},
	}
	_, err = rt.Store.Save(ctx, corrupt)
	require.NoError(t, err)

	require.NotPanics(t, func() { err = rt.Reload(ctx) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature 99")

	assert.Same(t, live, rt.Risk.Current())
	assessment, err := rt.Risk.Assess(ctx, domain.PatientRecord{Age: domain.Int(66)})
	require.NoError(t, err)
	assert.Equal(t, "live", assessment.ArtifactVersion)
	assert.Equal(t, 14, rt.Interactions.Stats(0).Pairs, "the index still reloads")
}
