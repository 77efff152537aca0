package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
)

func syntheticRows(n, nf int, seed uint64) ([][]float64, []bool) {
	rng := rand.New(rand.NewPCG(seed, 1))
	x := make([][]float64, n)
	y := make([]bool, n)
	for i := range x {
		row := make([]float64, nf)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		row[1] = math.Round(rng.Float64())
		x[i] = row
		y[i] = 1.5*row[0]+row[1]-0.8*row[2]+0.4*rng.NormFloat64() > 0.3
	}
	return x, y
}

func testSchema(t *testing.T) features.Schema {
	t.Helper()
	b, err := features.NewBuilder(features.DefaultConfig())
	require.NoError(t, err)
	return b.Schema()
}

var testHyper = map[Type]Hyperparameters{
	TypeLogistic: {L2: 0.01, Iterations: 200, Seed: 1},
	TypeForest:   {Trees: 20, MaxDepth: 5, MinLeaf: 3, FeatureFraction: 0.5, Seed: 7},
	TypeBoosted:  {Trees: 40, MaxDepth: 3, MinLeaf: 5, LearningRate: 0.2, Seed: 7},
}

func TestFit_AllTypesLearnSignal(t *testing.T) {
	x, y := syntheticRows(400, 18, 3)
	xt, yt := syntheticRows(200, 18, 4)

	for typ, hp := range testHyper {
		t.Run(string(typ), func(t *testing.T) {
			clf, err := Fit(context.Background(), typ, hp, x, y)
			require.NoError(t, err)
			assert.Equal(t, typ, clf.Type())

			probs := make([]float64, len(xt))
			for i, row := range xt {
				p := clf.PredictProba(row)
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
				probs[i] = p
			}
			assert.Greater(t, AUC(probs, yt), 0.8)
		})
	}
}

func TestFit_Deterministic(t *testing.T) {
	x, y := syntheticRows(200, 18, 5)

	for typ, hp := range testHyper {
		a, err := Fit(context.Background(), typ, hp, x, y)
		require.NoError(t, err)
		b, err := Fit(context.Background(), typ, hp, x, y)
		require.NoError(t, err)
		for _, row := range x[:50] {
			assert.Equal(t, a.PredictProba(row), b.PredictProba(row), string(typ))
		}
	}
}

func TestFit_CancelledContext(t *testing.T) {
	x, y := syntheticRows(100, 18, 6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for typ, hp := range testHyper {
		_, err := Fit(ctx, typ, hp, x, y)
		assert.ErrorIs(t, err, context.Canceled, string(typ))
	}
}

func TestFit_InvalidInput(t *testing.T) {
	_, err := Fit(context.Background(), TypeLogistic, Hyperparameters{}, nil, nil)
	assert.Error(t, err)

	x, y := syntheticRows(10, 18, 1)
	_, err = Fit(context.Background(), Type("svm"), Hyperparameters{}, x, y)
	assert.Error(t, err)
}

func TestFromParams_RoundTrip(t *testing.T) {
	x, y := syntheticRows(200, 18, 8)

	for typ, hp := range testHyper {
		clf, err := Fit(context.Background(), typ, hp, x, y)
		require.NoError(t, err)

		rebuilt, err := FromParams(clf.Params())
		require.NoError(t, err)
		for _, row := range x[:40] {
			assert.Equal(t, clf.PredictProba(row), rebuilt.PredictProba(row))
		}
	}

	_, err := FromParams(Params{Type: TypeForest})
	assert.Error(t, err)
	_, err = FromParams(Params{Type: TypeLogistic, Features: 3, Weights: []float64{1}})
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("rf")
	require.NoError(t, err)
	assert.Equal(t, TypeForest, typ)

	typ, err = ParseType("gradient_boosting")
	require.NoError(t, err)
	assert.Equal(t, TypeBoosted, typ)

	_, err = ParseType("svm")
	assert.Error(t, err)
}

func TestPermutationContributions_Efficiency(t *testing.T) {
	x, y := syntheticRows(150, 18, 9)
	background := x[:60]

	for typ, hp := range testHyper {
		clf, err := Fit(context.Background(), typ, hp, x, y)
		require.NoError(t, err)

		base := 0.0
		for _, row := range background {
			base += clf.PredictProba(row)
		}
		base /= float64(len(background))

		for _, samples := range []int{1, 2, 7} {
			target := x[100]
			phi := clf.FeatureContributions(target, background, samples, 42)
			require.Len(t, phi, 18)
			sum := base
			for _, c := range phi {
				sum += c
			}
			assert.InDelta(t, clf.PredictProba(target), sum, 1e-9, "%s samples=%d", typ, samples)
		}
	}
}

func TestPermutationContributions_Deterministic(t *testing.T) {
	x, y := syntheticRows(100, 18, 10)
	clf, err := Fit(context.Background(), TypeBoosted, testHyper[TypeBoosted], x, y)
	require.NoError(t, err)

	a := clf.FeatureContributions(x[3], x[:30], 8, 99)
	b := clf.FeatureContributions(x[3], x[:30], 8, 99)
	assert.Equal(t, a, b)
}

func TestPermutationContributions_LinearIsExact(t *testing.T) {
	// For an additive model the estimator recovers w_j * (x_j - mean_j) exactly.
	predict := func(z []float64) float64 { return 2*z[0] - z[1] + 0.5*z[2] }
	background := [][]float64{{0, 0, 0}, {1, 2, 3}, {-1, 4, 1}}
	x := []float64{3, 1, 2}

	phi := PermutationContributions(predict, x, background, 4, 1)

	assert.InDelta(t, 2*(3-0.0), phi[0], 1e-12)
	assert.InDelta(t, -1*(1-2.0), phi[1], 1e-12)
	assert.InDelta(t, 0.5*(2-4.0/3), phi[2], 1e-12)
}

func TestAUC(t *testing.T) {
	assert.InDelta(t, 0.75, AUC([]float64{0.1, 0.4, 0.35, 0.8}, []bool{false, false, true, true}), 1e-12)
	assert.InDelta(t, 1.0, AUC([]float64{0.1, 0.2, 0.7, 0.9}, []bool{false, false, true, true}), 1e-12)
	assert.InDelta(t, 0.5, AUC([]float64{0.5, 0.5, 0.5, 0.5}, []bool{false, true, false, true}), 1e-12)
	assert.Equal(t, 0.5, AUC([]float64{0.2, 0.3}, []bool{true, true}))
	assert.Equal(t, 0.5, AUC(nil, nil))

	// One tied positive/negative pair counts half.
	probs := []float64{0.9, 0.5, 0.2, 0.5}
	labels := []bool{true, false, false, true}
	assert.InDelta(t, 0.875, AUC(probs, labels), 1e-12)
	assert.Equal(t, []float64{0.9, 0.5, 0.2, 0.5}, probs, "inputs left unsorted")
	assert.Equal(t, []bool{true, false, false, true}, labels)
}

func TestEvaluate(t *testing.T) {
	probs := []float64{0.9, 0.6, 0.4, 0.2, 0.7}
	labels := []bool{true, true, true, false, false}

	m := Evaluate(probs, labels)

	assert.Equal(t, 5, m.Count)
	assert.Equal(t, 3, m.Positives)
	assert.InDelta(t, 2.0/3, m.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, m.Precision, 1e-12)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-12)
	assert.InDelta(t, (0.01+0.16+0.36+0.04+0.49)/5, m.Brier, 1e-12)
}

func TestReliability(t *testing.T) {
	probs := []float64{0.05, 0.08, 0.55, 1.0}
	labels := []bool{false, true, true, true}

	bins := Reliability(probs, labels, 10)

	require.Len(t, bins, 10)
	assert.Equal(t, 2, bins[0].Count)
	assert.InDelta(t, 0.5, bins[0].ObservedRate, 1e-12)
	assert.Equal(t, 1, bins[5].Count)
	assert.Equal(t, 1, bins[9].Count, "probability 1 lands in the last bin")
}

func fitArtifact(t *testing.T, typ Type) (*Artifact, [][]float64) {
	t.Helper()
	x, y := syntheticRows(150, 18, 11)
	clf, err := Fit(context.Background(), typ, testHyper[typ], x, y)
	require.NoError(t, err)

	a, err := NewArtifact(ArtifactSpec{
		Schema:     testSchema(t),
		Builder:    features.DefaultConfig(),
		Classifier: clf,
		Calibration: Calibrate(
			[]float64{clf.PredictProba(x[0]), clf.PredictProba(x[1])}, y[:2]),
		Provenance: Provenance{TrainingSize: 150, CVSeeds: []int64{1, 2, 3}, ModelType: typ},
		Background: x[:80],
	})
	require.NoError(t, err)
	return a, x
}

func TestArtifact_Baseline(t *testing.T) {
	a, x := fitArtifact(t, TypeLogistic)

	sum := 0.0
	for _, row := range x[:80] {
		sum += a.clf.PredictProba(row)
	}
	assert.Equal(t, sum/80, a.Baseline())
	assert.NotEmpty(t, a.Version())
	assert.Equal(t, 80, a.BackgroundSize())
}

func TestArtifact_AccessorsReturnCopies(t *testing.T) {
	a, _ := fitArtifact(t, TypeLogistic)

	bg := a.Background()
	bg[0][0] = 1e9
	assert.NotEqual(t, 1e9, a.Background()[0][0])

	prov := a.Provenance()
	prov.CVSeeds[0] = 99
	assert.Equal(t, int64(1), a.Provenance().CVSeeds[0])
}

func TestArtifact_SchemaMismatch(t *testing.T) {
	a, _ := fitArtifact(t, TypeLogistic)

	v, err := features.NewVector([]string{"age", "bmi"}, []float64{50, 25})
	require.NoError(t, err)

	_, err = a.PredictProba(v)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)

	_, err = a.Contributions(v, 4, 1)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestNewArtifact_Validation(t *testing.T) {
	x, y := syntheticRows(50, 5, 1)
	clf, err := Fit(context.Background(), TypeLogistic, testHyper[TypeLogistic], x, y)
	require.NoError(t, err)

	_, err = NewArtifact(ArtifactSpec{Schema: testSchema(t), Classifier: clf, Background: x})
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)

	_, err = NewArtifact(ArtifactSpec{Schema: testSchema(t)})
	assert.Error(t, err)
}

func TestBundle_RoundTrip(t *testing.T) {
	schema := testSchema(t)

	for _, typ := range []Type{TypeLogistic, TypeForest, TypeBoosted} {
		t.Run(string(typ), func(t *testing.T) {
			a, x := fitArtifact(t, typ)

			var buf bytes.Buffer
			require.NoError(t, a.WriteBundle(&buf))

			loaded, err := LoadBundle(&buf, schema)
			require.NoError(t, err)

			assert.Equal(t, a.Version(), loaded.Version())
			assert.Equal(t, a.Baseline(), loaded.Baseline())
			assert.Equal(t, a.Provenance().CVSeeds, loaded.Provenance().CVSeeds)
			assert.Equal(t, a.ModelType(), loaded.ModelType())
			assert.Equal(t, a.Calibration(), loaded.Calibration())
			for _, row := range x {
				v, err := features.NewVector(schema.Names(), row)
				require.NoError(t, err)
				want, err := a.PredictProba(v)
				require.NoError(t, err)
				got, err := loaded.PredictProba(v)
				require.NoError(t, err)
				assert.Equal(t, math.Float64bits(want), math.Float64bits(got))
			}
		})
	}
}

func TestLoadBundle_RejectsOtherSchema(t *testing.T) {
	a, _ := fitArtifact(t, TypeLogistic)
	data, err := a.MarshalBundle()
	require.NoError(t, err)

	other, err := features.NewBuilder(features.Config{AgeBins: []float64{45, 60, 75}})
	require.NoError(t, err)

	_, err = LoadBundle(bytes.NewReader(data), other.Schema())
	require.Error(t, err)
	var mismatch *domain.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.NotEmpty(t, mismatch.Expected)
}

func TestLoadBundle_RejectsUnknownFormat(t *testing.T) {
	a, _ := fitArtifact(t, TypeLogistic)
	b := a.Bundle()
	b.FormatVersion = 99

	_, err := b.Open(testSchema(t))
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestLoadBundle_RejectsTamperedFingerprint(t *testing.T) {
	a, _ := fitArtifact(t, TypeLogistic)
	b := a.Bundle()
	b.Schema.Fingerprint = "0000000000000000"

	_, err := b.Open(testSchema(t))
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func firstSplit(t *testing.T, tree Tree) int {
	t.Helper()
	for i, n := range tree.Nodes {
		if n.Left >= 0 {
			return i
		}
	}
	t.Fatal("tree has no internal node")
	return -1
}

func TestLoadBundle_RejectsCorruptTrees(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(n *Node, i, size int)
	}{
		{"feature out of range", func(n *Node, i, size int) { n.Feature = 99 }},
		{"negative feature", func(n *Node, i, size int) { n.Feature = -3 }},
		{"child past the end", func(n *Node, i, size int) { n.Right = size }},
		{"child points at an ancestor", func(n *Node, i, size int) { n.Left = i }},
		{"half a leaf", func(n *Node, i, size int) { n.Left = -1 }},
	}

	for _, typ := range []Type{TypeForest, TypeBoosted} {
		a, _ := fitArtifact(t, typ)
		for _, tt := range tests {
			t.Run(string(typ)+"/"+tt.name, func(t *testing.T) {
				b := a.Bundle()
				tree := b.Model.Trees[0]
				i := firstSplit(t, tree)
				tt.mutate(&tree.Nodes[i], i, len(tree.Nodes))

				data, err := json.Marshal(b)
				require.NoError(t, err)

				require.NotPanics(t, func() {
					_, err = LoadBundle(bytes.NewReader(data), testSchema(t))
				})
				require.Error(t, err)
				assert.Contains(t, err.Error(), "tree 0")
			})
		}
	}
}

func TestFromParams_RejectsMissingTrees(t *testing.T) {
	_, err := FromParams(Params{Type: TypeForest, Features: 3})
	assert.Error(t, err)

	_, err = FromParams(Params{Type: TypeBoosted, Features: 0, Trees: []Tree{{Nodes: []Node{{Left: -1, Right: -1}}}}})
	assert.Error(t, err)

	c, err := FromParams(Params{
		Type:            TypeBoosted,
		Hyperparameters: Hyperparameters{LearningRate: 1},
		Features:        2,
		InitScore:       0.1,
		Trees:           []Tree{{Nodes: []Node{{Feature: -1, Left: -1, Right: -1, Value: 0.2}}}},
	})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(0.3), c.PredictProba([]float64{1, 2}), 1e-12)
}
