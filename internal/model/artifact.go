package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
)

// Provenance describes how an artifact was produced. Test metrics are
// computed once after selection and never influence it.
type Provenance struct {
	TrainedAt       time.Time       `json:"trained_at"`
	TrainingSize    int             `json:"training_size"`
	ValidationSize  int             `json:"validation_size"`
	TestSize        int             `json:"test_size"`
	Candidate       string          `json:"candidate"`
	ModelType       Type            `json:"model_type"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	CVFolds         int             `json:"cv_folds"`
	CVSeeds         []int64         `json:"cv_seeds"`
	SplitSeed       int64           `json:"split_seed"`
	Resampling      string          `json:"resampling"`
	CVMeanAUC       float64         `json:"cv_mean_auc"`
	CVStdAUC        float64         `json:"cv_std_auc"`
	CVMeanRecall    float64         `json:"cv_mean_recall"`
	Validation      Metrics         `json:"validation"`
	Test            Metrics         `json:"test"`
	FitDurationMS   int64           `json:"fit_duration_ms"`
}

// ArtifactSpec collects what NewArtifact needs.
type ArtifactSpec struct {
	Version     string
	Schema      features.Schema
	Builder     features.Config
	Classifier  Classifier
	Calibration Calibration
	Provenance  Provenance
	Background  [][]float64
}

// Artifact is a trained, immutable model together with everything needed to
// score and explain: schema, builder configuration, calibration, provenance
// and the attribution background. All accessors return copies.
type Artifact struct {
	version     string
	schema      features.Schema
	names       []string
	builder     features.Config
	clf         Classifier
	calibration Calibration
	provenance  Provenance
	background  [][]float64
	baseline    float64
}

// NewArtifact validates spec and fixes the baseline as the mean prediction over
// the background rows.
func NewArtifact(spec ArtifactSpec) (*Artifact, error) {
	if spec.Classifier == nil {
		return nil, fmt.Errorf("artifact needs a classifier")
	}
	nf := spec.Schema.Len()
	if nf == 0 {
		return nil, fmt.Errorf("artifact needs a non-empty schema")
	}
	if got := spec.Classifier.Params().Features; got != nf {
		return nil, &domain.SchemaMismatchError{
			Reason: fmt.Sprintf("classifier has %d features, schema has %d", got, nf),
		}
	}
	if len(spec.Background) == 0 {
		return nil, fmt.Errorf("artifact needs background rows")
	}

	background := make([][]float64, len(spec.Background))
	sum := 0.0
	for i, row := range spec.Background {
		if len(row) != nf {
			return nil, &domain.SchemaMismatchError{
				Reason: fmt.Sprintf("background row %d has %d values, schema has %d", i, len(row), nf),
			}
		}
		background[i] = clone(row)
		sum += spec.Classifier.PredictProba(background[i])
	}

	version := spec.Version
	if version == "" {
		version = uuid.NewString()
	}
	prov := spec.Provenance
	prov.CVSeeds = append([]int64(nil), prov.CVSeeds...)

	return &Artifact{
		version:     version,
		schema:      spec.Schema,
		names:       spec.Schema.Names(),
		builder:     copyBuilderConfig(spec.Builder),
		clf:         spec.Classifier,
		calibration: copyCalibration(spec.Calibration),
		provenance:  prov,
		background:  background,
		baseline:    sum / float64(len(background)),
	}, nil
}

// Version is the unique artifact identifier.
func (a *Artifact) Version() string { return a.version }

// Schema is the feature schema the artifact was trained on.
func (a *Artifact) Schema() features.Schema { return a.schema }

// BuilderConfig returns the feature builder configuration used in training.
func (a *Artifact) BuilderConfig() features.Config { return copyBuilderConfig(a.builder) }

// ModelType returns the classifier family.
func (a *Artifact) ModelType() Type { return a.clf.Type() }

// Params returns the serialisable classifier parameters.
func (a *Artifact) Params() Params { return a.clf.Params() }

// Calibration returns the validation calibration record.
func (a *Artifact) Calibration() Calibration { return copyCalibration(a.calibration) }

// Provenance returns the training provenance.
func (a *Artifact) Provenance() Provenance {
	p := a.provenance
	p.CVSeeds = append([]int64(nil), p.CVSeeds...)
	return p
}

// Baseline is the mean predicted probability over the background set.
func (a *Artifact) Baseline() float64 { return a.baseline }

// BackgroundSize is the number of background rows.
func (a *Artifact) BackgroundSize() int { return len(a.background) }

// Background returns a deep copy of the background rows.
func (a *Artifact) Background() [][]float64 {
	out := make([][]float64, len(a.background))
	for i, row := range a.background {
		out[i] = clone(row)
	}
	return out
}

// CheckVector returns a SchemaMismatchError unless v follows the artifact schema.
func (a *Artifact) CheckVector(v features.Vector) error {
	if v.HasNames(a.names) {
		return nil
	}
	return &domain.SchemaMismatchError{
		Expected: append([]string(nil), a.names...),
		Got:      v.Names(),
		Reason:   "vector feature names or order differ from the artifact schema",
	}
}

// PredictProba scores a vector. It is pure and deterministic.
func (a *Artifact) PredictProba(v features.Vector) (float64, error) {
	if err := a.CheckVector(v); err != nil {
		return 0, err
	}
	return a.clf.PredictProba(v.Values()), nil
}

// Contributions asks the classifier for per-feature contributions of v
// against the background set, in schema order.
func (a *Artifact) Contributions(v features.Vector, samples int, seed int64) ([]float64, error) {
	if err := a.CheckVector(v); err != nil {
		return nil, err
	}
	return a.clf.FeatureContributions(v.Values(), a.background, samples, seed), nil
}

func copyBuilderConfig(c features.Config) features.Config {
	return features.Config{
		AgeBins:          append([]float64(nil), c.AgeBins...),
		PolypharmacyBins: append([]float64(nil), c.PolypharmacyBins...),
		Imputation:       c.Imputation,
	}
}

func copyCalibration(c Calibration) Calibration {
	return Calibration{Brier: c.Brier, Bins: append([]ReliabilityBin(nil), c.Bins...)}
}
