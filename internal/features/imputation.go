package features

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cdss-mcp-server/internal/domain"
)

// Imputation holds the replacement value for every nullable numeric input.
// Values are medians of a reference cohort, computed once.
type Imputation struct {
	Age              float64 `json:"age" yaml:"age"`
	ComorbidityCount float64 `json:"comorbidity_count" yaml:"comorbidity_count"`
	MedicationCount  float64 `json:"medication_count" yaml:"medication_count"`
	LabAbnormalCount float64 `json:"lab_abnormal_count" yaml:"lab_abnormal_count"`
	BMI              float64 `json:"bmi" yaml:"bmi"`
	SystolicBP       float64 `json:"systolic_bp" yaml:"systolic_bp"`
	DiastolicBP      float64 `json:"diastolic_bp" yaml:"diastolic_bp"`
	Creatinine       float64 `json:"creatinine" yaml:"creatinine"`
}

// DefaultImputation returns adult population medians used when no reference
// cohort is configured.
func DefaultImputation() Imputation {
	return Imputation{
		Age:              57,
		ComorbidityCount: 1,
		MedicationCount:  4,
		LabAbnormalCount: 1,
		BMI:              26.5,
		SystolicBP:       128,
		DiastolicBP:      80,
		Creatinine:       0.95,
	}
}

// ComputeImputation derives medians from a reference cohort. Values outside the
// accepted input ranges are ignored; a field with no usable values keeps the
// default.
func ComputeImputation(records []domain.PatientRecord) Imputation {
	imp := DefaultImputation()
	var age, comorb, meds, labs, bmi, sys, dia, creat []float64

	for _, r := range records {
		if r.Age != nil && *r.Age >= MinAge && *r.Age <= MaxAge {
			age = append(age, float64(*r.Age))
		}
		if r.ComorbidityCount != nil && *r.ComorbidityCount >= 0 {
			comorb = append(comorb, float64(*r.ComorbidityCount))
		}
		if r.MedicationCount != nil && *r.MedicationCount >= 0 {
			meds = append(meds, float64(*r.MedicationCount))
		}
		if r.LabAbnormalCount != nil && *r.LabAbnormalCount >= 0 {
			labs = append(labs, float64(*r.LabAbnormalCount))
		}
		bmi = appendInRange(bmi, r.BMI, bmiRange)
		sys = appendInRange(sys, r.SystolicBP, systolicRange)
		dia = appendInRange(dia, r.DiastolicBP, diastolicRange)
		creat = appendInRange(creat, r.Creatinine, creatinineRange)
	}

	setMedian(&imp.Age, age)
	setMedian(&imp.ComorbidityCount, comorb)
	setMedian(&imp.MedicationCount, meds)
	setMedian(&imp.LabAbnormalCount, labs)
	setMedian(&imp.BMI, bmi)
	setMedian(&imp.SystolicBP, sys)
	setMedian(&imp.DiastolicBP, dia)
	setMedian(&imp.Creatinine, creat)
	return imp
}

// ImputationFromMap reads medians keyed by feature name, starting from the
// defaults. Unknown keys are rejected so typos in configuration surface early.
func ImputationFromMap(m map[string]float64) (Imputation, error) {
	imp := DefaultImputation()
	for k, v := range m {
		switch k {
		case FeatureAge:
			imp.Age = v
		case FeatureComorbidityCount:
			imp.ComorbidityCount = v
		case FeatureMedicationCount:
			imp.MedicationCount = v
		case FeatureLabAbnormalCount:
			imp.LabAbnormalCount = v
		case FeatureBMI:
			imp.BMI = v
		case FeatureSystolicBP:
			imp.SystolicBP = v
		case FeatureDiastolicBP:
			imp.DiastolicBP = v
		case FeatureCreatinine:
			imp.Creatinine = v
		default:
			return Imputation{}, fmt.Errorf("unknown imputation field %q", k)
		}
	}
	return imp, nil
}

// Map renders the medians keyed by feature name.
func (i Imputation) Map() map[string]float64 {
	return map[string]float64{
		FeatureAge:              i.Age,
		FeatureComorbidityCount: i.ComorbidityCount,
		FeatureMedicationCount:  i.MedicationCount,
		FeatureLabAbnormalCount: i.LabAbnormalCount,
		FeatureBMI:              i.BMI,
		FeatureSystolicBP:       i.SystolicBP,
		FeatureDiastolicBP:      i.DiastolicBP,
		FeatureCreatinine:       i.Creatinine,
	}
}

func appendInRange(dst []float64, v *float64, bounds [2]float64) []float64 {
	if v != nil && *v >= bounds[0] && *v <= bounds[1] {
		return append(dst, *v)
	}
	return dst
}

func setMedian(dst *float64, values []float64) {
	if len(values) == 0 {
		return
	}
	*dst = median(values)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	m := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if len(sorted)%2 == 0 {
		m = (m + sorted[len(sorted)/2]) / 2
	}
	return m
}
