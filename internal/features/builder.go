package features

import (
	"fmt"
	"math"

	"github.com/cdss-mcp-server/internal/domain"
)

// Accepted age range, inclusive.
const (
	MinAge = 18
	MaxAge = 100
)

// CreatinineFloor bounds the denominator of clearance_burden.
const CreatinineFloor = 0.1

// Plausible ranges for vitals. Anything outside is treated as a data-entry error.
var (
	bmiRange        = [2]float64{5, 100}
	systolicRange   = [2]float64{40, 300}
	diastolicRange  = [2]float64{20, 200}
	creatinineRange = [2]float64{0.05, 25}
)

// Default bin edges. Each edge is the inclusive lower bound of the next level.
var (
	DefaultAgeBins          = []float64{50, 65, 80}
	DefaultPolypharmacyBins = []float64{4, 7, 10}
)

// PolypharmacyLevel is the ordinal medication burden.
type PolypharmacyLevel int

const (
	PolypharmacyLow PolypharmacyLevel = iota
	PolypharmacyModerate
	PolypharmacyHigh
	PolypharmacySevere
)

func (l PolypharmacyLevel) String() string {
	switch l {
	case PolypharmacyLow:
		return "Low"
	case PolypharmacyModerate:
		return "Moderate"
	case PolypharmacyHigh:
		return "High"
	case PolypharmacySevere:
		return "Severe"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// PolypharmacyLevelOf buckets a medication count with the default edges.
func PolypharmacyLevelOf(count int) PolypharmacyLevel {
	return PolypharmacyLevel(bucket(float64(count), DefaultPolypharmacyBins))
}

// ComorbidityScore weights the condition flags: diabetes 1, heart disease 1,
// kidney disease 2, liver disease 3, cancer 6.
func ComorbidityScore(diabetes, heart, kidney, liver, cancer bool) float64 {
	score := 0.0
	if diabetes {
		score++
	}
	if heart {
		score++
	}
	if kidney {
		score += 2
	}
	if liver {
		score += 3
	}
	if cancer {
		score += 6
	}
	return score
}

// Config is the fixed configuration of a Builder.
type Config struct {
	AgeBins          []float64  `json:"age_bins"`
	PolypharmacyBins []float64  `json:"polypharmacy_bins"`
	Imputation       Imputation `json:"imputation"`
}

// DefaultConfig returns the default bins and population medians.
func DefaultConfig() Config {
	return Config{
		AgeBins:          append([]float64(nil), DefaultAgeBins...),
		PolypharmacyBins: append([]float64(nil), DefaultPolypharmacyBins...),
		Imputation:       DefaultImputation(),
	}
}

// ConfigFromEngine translates the feature section of the engine configuration.
// Reference-cohort medians are the caller's job; explicit medians win here.
func ConfigFromEngine(fc domain.FeatureConfig) (Config, error) {
	cfg := DefaultConfig()
	if len(fc.AgeBins) > 0 {
		cfg.AgeBins = append([]float64(nil), fc.AgeBins...)
	}
	if len(fc.PolypharmacyBins) > 0 {
		cfg.PolypharmacyBins = append([]float64(nil), fc.PolypharmacyBins...)
	}
	if len(fc.Medians) > 0 {
		imp, err := ImputationFromMap(fc.Medians)
		if err != nil {
			return Config{}, err
		}
		cfg.Imputation = imp
	}
	return cfg, nil
}

// Builder turns patient records into vectors. It is immutable and safe for
// concurrent use.
type Builder struct {
	cfg    Config
	schema Schema
	names  []string
}

// NewBuilder validates cfg and fixes the schema. Empty bins fall back to the
// defaults and a zero Imputation to DefaultImputation.
func NewBuilder(cfg Config) (*Builder, error) {
	if len(cfg.AgeBins) == 0 {
		cfg.AgeBins = DefaultAgeBins
	}
	if len(cfg.PolypharmacyBins) == 0 {
		cfg.PolypharmacyBins = DefaultPolypharmacyBins
	}
	if cfg.Imputation == (Imputation{}) {
		cfg.Imputation = DefaultImputation()
	}
	cfg.AgeBins = append([]float64(nil), cfg.AgeBins...)
	cfg.PolypharmacyBins = append([]float64(nil), cfg.PolypharmacyBins...)

	if err := validateEdges("age_bins", cfg.AgeBins, MinAge, MaxAge); err != nil {
		return nil, err
	}
	if err := validateEdges("polypharmacy_bins", cfg.PolypharmacyBins, 0, math.MaxFloat64); err != nil {
		return nil, err
	}
	if err := validateImputation(cfg.Imputation); err != nil {
		return nil, err
	}

	schema := Schema{
		version: SchemaVersion,
		specs:   defaultSpecs(len(cfg.AgeBins), len(cfg.PolypharmacyBins)),
		bins:    binsKey(cfg.AgeBins, cfg.PolypharmacyBins),
	}
	return &Builder{cfg: cfg, schema: schema, names: schema.Names()}, nil
}

// Schema returns the schema every vector from this builder follows.
func (b *Builder) Schema() Schema { return b.schema }

// Config returns a copy of the builder configuration.
func (b *Builder) Config() Config {
	return Config{
		AgeBins:          append([]float64(nil), b.cfg.AgeBins...),
		PolypharmacyBins: append([]float64(nil), b.cfg.PolypharmacyBins...),
		Imputation:       b.cfg.Imputation,
	}
}

// AgeCategory buckets an age with the configured edges.
func (b *Builder) AgeCategory(age float64) int {
	return bucket(age, b.cfg.AgeBins)
}

// PolypharmacyLevel buckets a medication count with the configured edges.
func (b *Builder) PolypharmacyLevel(count float64) PolypharmacyLevel {
	return PolypharmacyLevel(bucket(count, b.cfg.PolypharmacyBins))
}

// Build converts one record. The record is taken by value and never modified.
func (b *Builder) Build(r domain.PatientRecord) (Vector, error) {
	if err := validateRecord(r); err != nil {
		return Vector{}, err
	}
	imp := b.cfg.Imputation

	age := intOr(r.Age, imp.Age)
	comorbCount := intOr(r.ComorbidityCount, imp.ComorbidityCount)
	meds := intOr(r.MedicationCount, imp.MedicationCount)
	labs := intOr(r.LabAbnormalCount, imp.LabAbnormalCount)
	bmi := floatOr(r.BMI, imp.BMI)
	sys := floatOr(r.SystolicBP, imp.SystolicBP)
	dia := floatOr(r.DiastolicBP, imp.DiastolicBP)
	creat := floatOr(r.Creatinine, imp.Creatinine)

	male, female := 0.0, 0.0
	switch r.Sex {
	case domain.SexMale:
		male = 1
	case domain.SexFemale:
		female = 1
	}

	score := ComorbidityScore(flag(r.Diabetes), flag(r.HeartDisease),
		flag(r.KidneyDisease), flag(r.LiverDisease), flag(r.Cancer))
	ageCat := float64(b.AgeCategory(age))
	poly := float64(b.PolypharmacyLevel(meds))

	values := []float64{
		age,
		male,
		female,
		comorbCount,
		meds,
		labs,
		flagValue(r.Smoking),
		flagValue(r.Alcohol),
		bmi,
		sys,
		dia,
		creat,
		score,
		poly,
		ageCat,
		age * score,
		meds / math.Max(creat, CreatinineFloor),
		ageCat * male,
	}
	return Vector{names: b.names, values: values}, nil
}

// BuildAll converts records in order and stops at the first invalid one.
func (b *Builder) BuildAll(records []domain.PatientRecord) ([]Vector, error) {
	out := make([]Vector, len(records))
	for i, r := range records {
		v, err := b.Build(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func validateRecord(r domain.PatientRecord) error {
	if r.Age != nil && (*r.Age < MinAge || *r.Age > MaxAge) {
		return &domain.OutOfRangeError{Field: FeatureAge, Value: *r.Age, Min: MinAge, Max: MaxAge}
	}
	counts := []struct {
		name string
		v    *int
	}{
		{FeatureComorbidityCount, r.ComorbidityCount},
		{FeatureMedicationCount, r.MedicationCount},
		{FeatureLabAbnormalCount, r.LabAbnormalCount},
	}
	for _, c := range counts {
		if c.v != nil && *c.v < 0 {
			return &domain.OutOfRangeError{Field: c.name, Value: *c.v, Min: 0, Max: Unbounded}
		}
	}
	vitals := []struct {
		name   string
		v      *float64
		bounds [2]float64
	}{
		{FeatureBMI, r.BMI, bmiRange},
		{FeatureSystolicBP, r.SystolicBP, systolicRange},
		{FeatureDiastolicBP, r.DiastolicBP, diastolicRange},
		{FeatureCreatinine, r.Creatinine, creatinineRange},
	}
	for _, vt := range vitals {
		if vt.v == nil {
			continue
		}
		if math.IsNaN(*vt.v) || *vt.v < vt.bounds[0] || *vt.v > vt.bounds[1] {
			return &domain.OutOfRangeError{Field: vt.name, Value: *vt.v, Min: vt.bounds[0], Max: vt.bounds[1]}
		}
	}
	return nil
}

func validateEdges(field string, edges []float64, lo, hi float64) error {
	for i, e := range edges {
		if math.IsNaN(e) || e <= lo || e > hi {
			return domain.NewValidationError(field, "edge outside accepted range", e)
		}
		if i > 0 && e <= edges[i-1] {
			return domain.NewValidationError(field, "edges must be strictly increasing", edges)
		}
	}
	return nil
}

func validateImputation(imp Imputation) error {
	checks := []struct {
		name   string
		v      float64
		bounds [2]float64
	}{
		{FeatureAge, imp.Age, [2]float64{MinAge, MaxAge}},
		{FeatureComorbidityCount, imp.ComorbidityCount, [2]float64{0, Unbounded}},
		{FeatureMedicationCount, imp.MedicationCount, [2]float64{0, Unbounded}},
		{FeatureLabAbnormalCount, imp.LabAbnormalCount, [2]float64{0, Unbounded}},
		{FeatureBMI, imp.BMI, bmiRange},
		{FeatureSystolicBP, imp.SystolicBP, systolicRange},
		{FeatureDiastolicBP, imp.DiastolicBP, diastolicRange},
		{FeatureCreatinine, imp.Creatinine, creatinineRange},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || c.v < c.bounds[0] || c.v > c.bounds[1] {
			return domain.NewValidationError("imputation."+c.name, "median outside accepted range", c.v)
		}
	}
	return nil
}

// bucket returns how many edges are <= v.
func bucket(v float64, edges []float64) int {
	n := 0
	for _, e := range edges {
		if v >= e {
			n++
		}
	}
	return n
}

func intOr(v *int, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return float64(*v)
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func flag(v *bool) bool { return v != nil && *v }

func flagValue(v *bool) float64 {
	if flag(v) {
		return 1
	}
	return 0
}
