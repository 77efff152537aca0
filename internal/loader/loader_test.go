package loader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/fixtures"
	"github.com/cdss-mcp-server/internal/interaction"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

const cohortCSV = `patient_id,Age,sex,medication_count,diabetes,kidney_disease,bmi,creatinine,adverse_event
P1,72,M,8,yes,1,31.2,1.4,1
P2,45,female,2.0,no,0,,NA,0
P3,60,,3,,,24,,
`

func TestReadCohort(t *testing.T) {
	cohort, skipped, err := ReadCohort(strings.NewReader(cohortCSV))
	require.NoError(t, err)
	require.Len(t, cohort, 2)
	assert.Equal(t, 1, skipped, "P3 has no outcome")

	p1 := cohort[0]
	assert.Equal(t, "P1", p1.Record.PatientID)
	assert.True(t, p1.Label)
	assert.Equal(t, 72, *p1.Record.Age)
	assert.Equal(t, domain.SexMale, p1.Record.Sex)
	assert.Equal(t, 8, *p1.Record.MedicationCount)
	assert.True(t, *p1.Record.Diabetes)
	assert.True(t, *p1.Record.KidneyDisease)
	assert.Equal(t, 31.2, *p1.Record.BMI)
	assert.Nil(t, p1.Record.Smoking, "absent column stays missing")

	p2 := cohort[1]
	assert.False(t, p2.Label)
	assert.Equal(t, domain.SexFemale, p2.Record.Sex)
	assert.Equal(t, 2, *p2.Record.MedicationCount)
	assert.Nil(t, p2.Record.BMI)
	assert.Nil(t, p2.Record.Creatinine)
}

func TestReadRecords_IgnoresOutcome(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(cohortCSV))
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 24.0, *records[2].BMI)
}

func TestReadCohort_Errors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want string
	}{
		{"empty", "", "empty"},
		{"bad integer", "age,adverse_event\nold,1\n", "line 2: age"},
		{"fractional integer", "age,adverse_event\n61.5,1\n", "line 2: age"},
		{"bad boolean", "smoking,adverse_event\nsometimes,0\n", "line 2: smoking"},
		{"bad sex", "sex,adverse_event\nX,0\n", "invalid sex"},
		{"bad label", "age,adverse_event\n50,maybe\n", "adverse_event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadCohort(strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, _, err := ReadCohort(strings.NewReader("age,sex\n50,M\n"))
	assert.True(t, errors.Is(err, ErrNoLabelColumn))
}

func TestWriteCohort_RoundTrip(t *testing.T) {
	cohort := fixtures.Cohort(50, 3, fixtures.DefaultCohortOptions())

	var buf bytes.Buffer
	require.NoError(t, WriteCohort(&buf, cohort))

	got, skipped, err := ReadCohort(&buf)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, cohort, got)
}

func TestCohortFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "loader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "cohort.csv")
	require.NoError(t, os.WriteFile(path, []byte(cohortCSV), 0644))

	src := NewCohortFile(path, quietLogger())
	cohort, err := src.LoadCohort(context.Background())
	require.NoError(t, err)
	assert.Len(t, cohort, 2)

	ref, err := src.LoadReference(context.Background())
	require.NoError(t, err)
	assert.Len(t, ref, 3)

	_, err = NewCohortFile(filepath.Join(dir, "missing.csv"), nil).LoadCohort(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.LoadCohort(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

const corpusCSV = `Drug 1,Drug 2,Interaction Description
Warfarin,Aspirin,"Concurrent use may increase the risk of bleeding."
Simvastatin,,missing partner
Sildenafil,Nitroglycerin,Contraindicated: dangerous drop in blood pressure.
`

func TestReadCorpus(t *testing.T) {
	records, skipped, err := ReadCorpus(strings.NewReader(corpusCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, records, 2)
	assert.Equal(t, domain.InteractionRecord{
		DrugA:       "Warfarin",
		DrugB:       "Aspirin",
		Description: "Concurrent use may increase the risk of bleeding.",
	}, records[0])

	ix := interaction.NewIndex(records)
	res := ix.Lookup([]string{"sildenafil", "NITROGLYCERIN"})
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.SeverityHigh, res.Findings[0].Severity)
}

func TestReadCorpus_SnakeCaseHeader(t *testing.T) {
	records, _, err := ReadCorpus(strings.NewReader("drug_a,drug_b,description\na,b,monitor\n"))
	require.NoError(t, err)
	assert.Equal(t, "monitor", records[0].Description)

	_, _, err = ReadCorpus(strings.NewReader("name,description\na,b\n"))
	assert.Error(t, err)
}

func TestCorpusFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "loader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "interactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(corpusCSV), 0644))

	records, err := NewCorpusFile(path, quietLogger()).LoadInteractions(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

const vocabularyYAML = `
aliases:
  Tylenol: acetaminophen
  coumadin: warfarin
rules:
  - severity: High
    keywords: [bleeding]
  - severity: Moderate
    keywords: [monitor]
`

func TestReadVocabulary(t *testing.T) {
	v, err := ReadVocabulary(strings.NewReader(vocabularyYAML))
	require.NoError(t, err)
	assert.Equal(t, "warfarin", v.Aliases["coumadin"])
	require.Len(t, v.Rules, 2)
	assert.Equal(t, domain.SeverityHigh, v.Rules[0].Severity)

	records, _, err := ReadCorpus(strings.NewReader(corpusCSV))
	require.NoError(t, err)

	ix := interaction.NewIndex(records, v.Options()...)
	res := ix.Lookup([]string{"Coumadin", "aspirin"})
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.SeverityHigh, res.Findings[0].Severity, "custom rules replace the defaults")
}

func TestReadVocabulary_AliasesOnly(t *testing.T) {
	v, err := ReadVocabulary(strings.NewReader("aliases:\n  advil: ibuprofen\n"))
	require.NoError(t, err)
	assert.Empty(t, v.Rules)
	assert.Len(t, v.Options(), 1)

	v, err = ReadVocabulary(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, v.Aliases)
}

func TestReadVocabulary_Invalid(t *testing.T) {
	for _, doc := range []string{
		"aliases:\n  advil: ''\n",
		"rules:\n  - severity: Fatal\n    keywords: [x]\n",
		"rules:\n  - severity: High\n",
		"aliases: [not, a, map]\n",
	} {
		_, err := ReadVocabulary(strings.NewReader(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoadVocabulary(t *testing.T) {
	dir, err := os.MkdirTemp("", "loader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(vocabularyYAML), 0644))

	v, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Len(t, v.Aliases, 2)

	_, err = LoadVocabulary(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

var (
	_ domain.CohortSource    = (*CohortFile)(nil)
	_ domain.ReferenceSource = (*CohortFile)(nil)
	_ domain.CorpusSource    = (*CorpusFile)(nil)
)
