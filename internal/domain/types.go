// Package domain contains the core business entities for clinical risk scoring
// and drug-drug interaction classification.
//
// The types here are shared by the feature builder, the trainer, the inference
// and attribution engines and the interaction index. None of them carry
// behaviour that touches I/O.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sex is the recorded sex of a patient. The empty value means unknown.
type Sex string

const (
	SexMale    Sex = "Male"
	SexFemale  Sex = "Female"
	SexOther   Sex = "Other"
	SexUnknown Sex = ""
)

// ParseSex maps free-form input onto a Sex value.
func ParseSex(s string) (Sex, error) {
	switch s {
	case "M", "m", "male", "Male", "MALE":
		return SexMale, nil
	case "F", "f", "female", "Female", "FEMALE":
		return SexFemale, nil
	case "O", "o", "other", "Other", "OTHER":
		return SexOther, nil
	case "", "U", "u", "unknown", "Unknown", "UNKNOWN":
		return SexUnknown, nil
	default:
		return SexUnknown, fmt.Errorf("%w: %q", ErrInvalidSex, s)
	}
}

// RiskTier is the clinical bucket for a predicted probability.
type RiskTier string

const (
	TierLow      RiskTier = "Low"
	TierModerate RiskTier = "Moderate"
	TierHigh     RiskTier = "High"
	TierSevere   RiskTier = "Severe"
)

// Fixed tier thresholds on the predicted probability.
const (
	ModerateThreshold = 0.25
	HighThreshold     = 0.50
	SevereThreshold   = 0.75
)

// TierFor maps a probability in [0,1] onto its tier. Lower bounds are inclusive.
func TierFor(p float64) RiskTier {
	switch {
	case p >= SevereThreshold:
		return TierSevere
	case p >= HighThreshold:
		return TierHigh
	case p >= ModerateThreshold:
		return TierModerate
	default:
		return TierLow
	}
}

// Severity is the derived severity of a drug-drug interaction.
type Severity string

const (
	SeverityHigh     Severity = "High"
	SeverityModerate Severity = "Moderate"
	SeverityMinor    Severity = "Minor"
)

// Rank orders severities for sorting; High sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityModerate:
		return 1
	default:
		return 2
	}
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityHigh, SeverityModerate, SeverityMinor:
		return true
	default:
		return false
	}
}

// Direction is the sign of a feature contribution.
type Direction string

const (
	IncreasesRisk Direction = "increases_risk"
	DecreasesRisk Direction = "decreases_risk"
	Neutral       Direction = "neutral"
)

// DirectionOf returns the direction for a contribution value.
func DirectionOf(c float64) Direction {
	switch {
	case c > 0:
		return IncreasesRisk
	case c < 0:
		return DecreasesRisk
	default:
		return Neutral
	}
}

// Validation errors for domain values
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSex  = errors.New("invalid sex")
	ErrInvalidTier = errors.New("invalid risk tier")
)

// PatientRecord is the raw input for a single patient. Every field is nullable;
// missing values are imputed by the feature builder. The core never mutates a
// record.
type PatientRecord struct {
	PatientID string `json:"patient_id,omitempty" yaml:"patient_id,omitempty"`

	Age *int `json:"age,omitempty" yaml:"age,omitempty"`
	Sex Sex  `json:"sex,omitempty" yaml:"sex,omitempty"`

	ComorbidityCount *int `json:"comorbidity_count,omitempty" yaml:"comorbidity_count,omitempty"`
	MedicationCount  *int `json:"medication_count,omitempty" yaml:"medication_count,omitempty"`
	LabAbnormalCount *int `json:"lab_abnormal_count,omitempty" yaml:"lab_abnormal_count,omitempty"`

	Smoking *bool `json:"smoking,omitempty" yaml:"smoking,omitempty"`
	Alcohol *bool `json:"alcohol,omitempty" yaml:"alcohol,omitempty"`

	Diabetes      *bool `json:"diabetes,omitempty" yaml:"diabetes,omitempty"`
	HeartDisease  *bool `json:"heart_disease,omitempty" yaml:"heart_disease,omitempty"`
	KidneyDisease *bool `json:"kidney_disease,omitempty" yaml:"kidney_disease,omitempty"`
	LiverDisease  *bool `json:"liver_disease,omitempty" yaml:"liver_disease,omitempty"`
	Cancer        *bool `json:"cancer,omitempty" yaml:"cancer,omitempty"`

	BMI         *float64 `json:"bmi,omitempty" yaml:"bmi,omitempty"`
	SystolicBP  *float64 `json:"systolic_bp,omitempty" yaml:"systolic_bp,omitempty"`
	DiastolicBP *float64 `json:"diastolic_bp,omitempty" yaml:"diastolic_bp,omitempty"`
	Creatinine  *float64 `json:"creatinine,omitempty" yaml:"creatinine,omitempty"`
}

// LabeledRecord pairs a patient record with the observed adverse-event outcome.
type LabeledRecord struct {
	Record PatientRecord `json:"record"`
	Label  bool          `json:"label"`
}

// Contribution is one feature's additive share of a prediction.
type Contribution struct {
	Feature      string    `json:"feature"`
	Value        float64   `json:"value"`
	Contribution float64   `json:"contribution"`
	Direction    Direction `json:"direction"`
}

// RiskAssessment is the per-request output of the risk service.
type RiskAssessment struct {
	PatientID       string         `json:"patient_id,omitempty"`
	Probability     float64        `json:"probability"`
	Tier            RiskTier       `json:"tier"`
	Baseline        float64        `json:"baseline"`
	Contributions   []Contribution `json:"contributions"`
	ArtifactVersion string         `json:"artifact_version"`
	ModelType       string         `json:"model_type"`
	RuleSummary     *RuleSummary   `json:"rule_summary,omitempty"`
	AssessedAt      time.Time      `json:"assessed_at"`
}

// RuleSummary is the transparent point-based score shown next to the model
// probability. It never feeds into the model.
type RuleSummary struct {
	Score         int      `json:"score"`
	MaxScore      int      `json:"max_score"`
	Level         string   `json:"level"`
	RiskFactors   []string `json:"risk_factors"`
	EvidenceNotes []string `json:"evidence_notes"`
}

// InteractionRecord is one row of the interaction corpus.
type InteractionRecord struct {
	DrugA       string `json:"drug_a"`
	DrugB       string `json:"drug_b"`
	Description string `json:"description"`
}

// InteractionFinding is an interaction found among a patient's medications.
type InteractionFinding struct {
	DrugA       string   `json:"drug_a"`
	DrugB       string   `json:"drug_b"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Int returns a pointer to v. Handy for building records in code and tests.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
