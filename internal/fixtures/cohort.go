// Package fixtures generates reproducible synthetic cohorts and a small
// interaction corpus. The CLI `synth` command and the tests share them.
package fixtures

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/cdss-mcp-server/internal/domain"
)

// CohortOptions tunes the synthetic cohort.
type CohortOptions struct {
	// MissingRate is the chance that each vital is left empty.
	MissingRate float64
	// Signal scales the latent risk; larger means easier separation.
	Signal float64
}

// DefaultCohortOptions returns the settings used by tests and `cdss synth`.
func DefaultCohortOptions() CohortOptions {
	return CohortOptions{MissingRate: 0.03, Signal: 1.8}
}

// Cohort generates n labelled records from a fixed seed. Risk rises with
// age, weighted comorbidity, polypharmacy, smoking, abnormal labs and
// creatinine, matching the clinical intuition the features encode.
func Cohort(n int, seed uint64, opts CohortOptions) []domain.LabeledRecord {
	rng := rand.New(rand.NewPCG(seed, 0xc0ffee))
	out := make([]domain.LabeledRecord, n)

	for i := range out {
		age := 18 + rng.IntN(78)
		ageb := float64(age-18) / 77

		diabetes := rng.Float64() < 0.15+0.25*ageb
		heart := rng.Float64() < 0.10+0.25*ageb
		kidney := rng.Float64() < 0.08+0.15*ageb
		liver := rng.Float64() < 0.06
		cancer := rng.Float64() < 0.05+0.10*ageb

		conditions := 0
		score := 0.0
		for _, c := range []struct {
			on bool
			w  float64
		}{{diabetes, 1}, {heart, 1}, {kidney, 2}, {liver, 3}, {cancer, 6}} {
			if c.on {
				conditions++
				score += c.w
			}
		}

		meds := clampInt(int(3+6*ageb+2.5*rng.NormFloat64()), 0, 15)
		labs := rng.IntN(6)
		smoking := rng.Float64() < 0.3
		alcohol := rng.Float64() < 0.25

		creat := math.Exp(0.3 * rng.NormFloat64())
		if kidney {
			creat *= 1.4
		}
		creat = clampFloat(round2(creat), 0.3, 8)

		var sex domain.Sex
		switch u := rng.Float64(); {
		case u < 0.48:
			sex = domain.SexMale
		case u < 0.96:
			sex = domain.SexFemale
		default:
			sex = domain.SexOther
		}

		bmi := clampFloat(round1(27+4.5*rng.NormFloat64()), 15, 50)
		sys := clampFloat(math.Round(120+15*ageb+15*rng.NormFloat64()), 85, 220)
		dia := clampFloat(math.Round(78+10*rng.NormFloat64()), 45, 130)

		latent := opts.Signal * (-0.6 + 0.07*float64(age-56) + 0.45*(score-2) +
			0.3*float64(meds-6) + boolf(smoking) + 0.45*(float64(labs)-2.5) + 1.2*(creat-1.1))
		label := rng.Float64() < 1/(1+math.Exp(-latent))

		rec := domain.PatientRecord{
			PatientID:        fmt.Sprintf("SYN-%05d", i+1),
			Age:              domain.Int(age),
			Sex:              sex,
			ComorbidityCount: domain.Int(conditions),
			MedicationCount:  domain.Int(meds),
			LabAbnormalCount: domain.Int(labs),
			Smoking:          domain.Bool(smoking),
			Alcohol:          domain.Bool(alcohol),
			Diabetes:         domain.Bool(diabetes),
			HeartDisease:     domain.Bool(heart),
			KidneyDisease:    domain.Bool(kidney),
			LiverDisease:     domain.Bool(liver),
			Cancer:           domain.Bool(cancer),
			Creatinine:       domain.Float(creat),
		}
		if rng.Float64() >= opts.MissingRate {
			rec.BMI = domain.Float(bmi)
		}
		if rng.Float64() >= opts.MissingRate {
			rec.SystolicBP = domain.Float(sys)
			rec.DiastolicBP = domain.Float(dia)
		}
		out[i] = domain.LabeledRecord{Record: rec, Label: label}
	}
	return out
}

// Records strips labels.
func Records(cohort []domain.LabeledRecord) []domain.PatientRecord {
	out := make([]domain.PatientRecord, len(cohort))
	for i, r := range cohort {
		out[i] = r.Record
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
