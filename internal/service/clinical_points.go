package service

import (
	"fmt"

	"github.com/cdss-mcp-server/internal/domain"
)

// MaxClinicalPoints caps the point score.
const MaxClinicalPoints = 15

// Point score levels.
const (
	PointsLow      = "LOW"
	PointsModerate = "MODERATE"
	PointsHigh     = "HIGH"
)

type conditionPoints struct {
	present func(domain.PatientRecord) *bool
	name    string
	points  int
}

var scoredConditions = []conditionPoints{
	{func(r domain.PatientRecord) *bool { return r.Diabetes }, "Diabetes", 2},
	{func(r domain.PatientRecord) *bool { return r.HeartDisease }, "Heart disease", 3},
	{func(r domain.PatientRecord) *bool { return r.KidneyDisease }, "Kidney disease", 2},
	{func(r domain.PatientRecord) *bool { return r.LiverDisease }, "Liver disease", 3},
	{func(r domain.PatientRecord) *bool { return r.Cancer }, "Cancer", 4},
}

// PointsLevel maps a point score onto its level: LOW up to 4, MODERATE up to
// 8, HIGH above.
func PointsLevel(score int) string {
	switch {
	case score <= 4:
		return PointsLow
	case score <= 8:
		return PointsModerate
	default:
		return PointsHigh
	}
}

// ClinicalPoints computes the transparent rule-based score shown next to the
// model probability. Missing fields score nothing.
func ClinicalPoints(r domain.PatientRecord) *domain.RuleSummary {
	s := &domain.RuleSummary{MaxScore: MaxClinicalPoints, RiskFactors: []string{}, EvidenceNotes: []string{}}
	add := func(points int, factor, note string) {
		s.Score += points
		s.RiskFactors = append(s.RiskFactors, factor)
		s.EvidenceNotes = append(s.EvidenceNotes, note)
	}

	if r.Age != nil {
		switch age := *r.Age; {
		case age > 80:
			add(3, "Very advanced age (>80)", "Age above 80 is associated with frailty and adverse outcomes")
		case age > 65:
			add(2, "Advanced age (>65)", "Age above 65 raises the risk of complications and drug interactions")
		case age > 50:
			add(1, "Middle age (51-65)", "Chronic disease prevalence rises after 50")
		}
	}

	for _, c := range scoredConditions {
		if v := c.present(r); v != nil && *v {
			add(c.points, "High-risk condition: "+c.name, c.name+" significantly increases clinical complexity")
		}
	}

	if r.MedicationCount != nil {
		switch n := *r.MedicationCount; {
		case n > 10:
			add(4, fmt.Sprintf("Severe polypharmacy (%d medications)", n), "More than 10 medications sharply increases adverse drug events")
		case n > 5:
			add(2, fmt.Sprintf("Polypharmacy (%d medications)", n), "6 to 10 medications increases drug interaction risk")
		case n > 3:
			add(1, fmt.Sprintf("Multiple medications (%d)", n), "4 or 5 medications warrants interaction monitoring")
		}
	}

	if r.LabAbnormalCount != nil {
		switch n := *r.LabAbnormalCount; {
		case n > 3:
			add(3, fmt.Sprintf("Multiple lab abnormalities (%d)", n), "Multiple abnormal labs suggest multisystem dysfunction")
		case n > 0:
			add(n, fmt.Sprintf("%d abnormal lab value(s)", n), "Abnormal labs require monitoring and intervention")
		}
	}

	if r.Smoking != nil && *r.Smoking {
		add(2, "Current smoker", "Smoking increases cardiovascular and respiratory risk")
	}
	if r.Alcohol != nil && *r.Alcohol {
		add(1, "Regular alcohol use", "Alcohol may interact with medications and affect organ function")
	}

	if s.Score > MaxClinicalPoints {
		s.Score = MaxClinicalPoints
	}
	s.Level = PointsLevel(s.Score)
	return s
}
