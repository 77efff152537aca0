// Package features converts raw patient records into fixed-schema numeric
// feature vectors.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// SchemaVersion is bumped whenever the set, order or meaning of features changes.
const SchemaVersion = "cdss-features/v1"

// Feature names, in schema order.
const (
	FeatureAge              = "age"
	FeatureSexMale          = "sex_male"
	FeatureSexFemale        = "sex_female"
	FeatureComorbidityCount = "comorbidity_count"
	FeatureMedicationCount  = "medication_count"
	FeatureLabAbnormalCount = "lab_abnormal_count"
	FeatureSmoking          = "smoking"
	FeatureAlcohol          = "alcohol"
	FeatureBMI              = "bmi"
	FeatureSystolicBP       = "systolic_bp"
	FeatureDiastolicBP      = "diastolic_bp"
	FeatureCreatinine       = "creatinine"
	FeatureComorbidityScore = "comorbidity_score"
	FeaturePolypharmacy     = "polypharmacy_level"
	FeatureAgeCategory      = "age_category"
	FeatureAgeXComorbidity  = "age_x_comorbidity"
	FeatureClearanceBurden  = "clearance_burden"
	FeatureAgeCategoryXSex  = "age_category_x_sex"
)

// Unbounded marks an open upper range. It stays finite so schemas encode as JSON.
const Unbounded = math.MaxFloat64

// Kind describes how a feature was produced.
type Kind string

const (
	KindContinuous Kind = "continuous"
	KindCount      Kind = "count"
	KindBinary     Kind = "binary"
	KindOrdinal    Kind = "ordinal"
	KindDerived    Kind = "derived"
)

// Spec is one column of the schema with its expected range.
type Spec struct {
	Name string  `json:"name"`
	Kind Kind    `json:"kind"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Schema is the ordered list of features a builder produces. It is a value:
// accessors hand out copies.
type Schema struct {
	version string
	specs   []Spec
	bins    string
}

// NewSchema builds a schema from explicit specs. Used when decoding bundles.
func NewSchema(version string, specs []Spec, binsKey string) Schema {
	cp := make([]Spec, len(specs))
	copy(cp, specs)
	return Schema{version: version, specs: cp, bins: binsKey}
}

// Version returns the schema version string.
func (s Schema) Version() string { return s.version }

// Len returns the number of features.
func (s Schema) Len() int { return len(s.specs) }

// Specs returns a copy of the feature specs in order.
func (s Schema) Specs() []Spec {
	cp := make([]Spec, len(s.specs))
	copy(cp, s.specs)
	return cp
}

// Names returns the ordered feature names.
func (s Schema) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// BinsKey returns the canonical rendering of the bin edges baked into the schema.
func (s Schema) BinsKey() string { return s.bins }

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, spec := range s.specs {
		if spec.Name == name {
			return i
		}
	}
	return -1
}

// Fingerprint identifies the schema: version, ordered names and kinds, and bin edges.
func (s Schema) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(s.version))
	for _, spec := range s.specs {
		fmt.Fprintf(h, "|%s:%s", spec.Name, spec.Kind)
	}
	h.Write([]byte("|bins:" + s.bins))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Equal reports whether two schemas have the same fingerprint.
func (s Schema) Equal(other Schema) bool {
	return s.Fingerprint() == other.Fingerprint()
}

func binsKey(age, poly []float64) string {
	render := func(edges []float64) string {
		parts := make([]string, len(edges))
		for i, e := range edges {
			parts[i] = fmt.Sprintf("%g", e)
		}
		return strings.Join(parts, ",")
	}
	return "age=" + render(age) + ";poly=" + render(poly)
}

func defaultSpecs(ageLevels, polyLevels int) []Spec {
	open := Unbounded
	maxScore := 13.0
	return []Spec{
		{FeatureAge, KindContinuous, MinAge, MaxAge},
		{FeatureSexMale, KindBinary, 0, 1},
		{FeatureSexFemale, KindBinary, 0, 1},
		{FeatureComorbidityCount, KindCount, 0, open},
		{FeatureMedicationCount, KindCount, 0, open},
		{FeatureLabAbnormalCount, KindCount, 0, open},
		{FeatureSmoking, KindBinary, 0, 1},
		{FeatureAlcohol, KindBinary, 0, 1},
		{FeatureBMI, KindContinuous, bmiRange[0], bmiRange[1]},
		{FeatureSystolicBP, KindContinuous, systolicRange[0], systolicRange[1]},
		{FeatureDiastolicBP, KindContinuous, diastolicRange[0], diastolicRange[1]},
		{FeatureCreatinine, KindContinuous, creatinineRange[0], creatinineRange[1]},
		{FeatureComorbidityScore, KindDerived, 0, maxScore},
		{FeaturePolypharmacy, KindOrdinal, 0, float64(polyLevels)},
		{FeatureAgeCategory, KindOrdinal, 0, float64(ageLevels)},
		{FeatureAgeXComorbidity, KindDerived, 0, MaxAge * maxScore},
		{FeatureClearanceBurden, KindDerived, 0, open},
		{FeatureAgeCategoryXSex, KindDerived, 0, float64(ageLevels)},
	}
}
