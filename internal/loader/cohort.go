// Package loader reads cohorts, interaction corpora and alias tables from
// files. Every loader finishes before training or indexing starts.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
)

// CohortColumns is the header WriteCohort emits. ReadCohort accepts any
// subset in any order; absent columns leave the field missing.
var CohortColumns = []string{
	"patient_id", "age", "sex", "comorbidity_count", "medication_count", "lab_abnormal_count",
	"smoking", "alcohol", "diabetes", "heart_disease", "kidney_disease", "liver_disease", "cancer",
	"bmi", "systolic_bp", "diastolic_bp", "creatinine", "adverse_event",
}

// labelAliases are accepted names for the outcome column.
var labelAliases = []string{"adverse_event", "event", "label"}

// ErrNoLabelColumn is returned when a labeled load finds no outcome column.
var ErrNoLabelColumn = errors.New("cohort has no adverse_event column")

// CohortFile reads a cohort CSV from disk. It implements domain.CohortSource
// and domain.ReferenceSource.
type CohortFile struct {
	Path   string
	Logger *logrus.Logger
}

// NewCohortFile creates a cohort loader for path.
func NewCohortFile(path string, logger *logrus.Logger) *CohortFile {
	return &CohortFile{Path: path, Logger: logger}
}

// LoadCohort reads the labeled rows. Rows with an empty outcome are skipped.
func (f *CohortFile) LoadCohort(ctx context.Context) ([]domain.LabeledRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cohort: %w", err)
	}
	defer file.Close()

	cohort, skipped, err := ReadCohort(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	if f.Logger != nil {
		f.Logger.WithFields(logrus.Fields{
			"path":      f.Path,
			"records":   len(cohort),
			"unlabeled": skipped,
		}).Info("Loaded cohort")
	}
	return cohort, nil
}

// LoadReference reads every row, labeled or not.
func (f *CohortFile) LoadReference(ctx context.Context) ([]domain.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference cohort: %w", err)
	}
	defer file.Close()

	records, err := ReadRecords(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return records, nil
}

// ReadCohort parses labeled rows and reports how many rows had no outcome.
func ReadCohort(r io.Reader) ([]domain.LabeledRecord, int, error) {
	var (
		cohort  []domain.LabeledRecord
		skipped int
	)
	err := readPatients(r, true, func(rec domain.PatientRecord, label *bool) {
		if label == nil {
			skipped++
			return
		}
		cohort = append(cohort, domain.LabeledRecord{Record: rec, Label: *label})
	})
	if err != nil {
		return nil, 0, err
	}
	return cohort, skipped, nil
}

// ReadRecords parses every row and ignores any outcome column.
func ReadRecords(r io.Reader) ([]domain.PatientRecord, error) {
	var records []domain.PatientRecord
	err := readPatients(r, false, func(rec domain.PatientRecord, _ *bool) {
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func readPatients(r io.Reader, labeled bool, emit func(domain.PatientRecord, *bool)) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("cohort is empty")
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	cols := indexHeader(header)

	labelCol := -1
	for _, name := range labelAliases {
		if i, ok := cols[name]; ok {
			labelCol = i
			break
		}
	}
	if labeled && labelCol < 0 {
		return ErrNoLabelColumn
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parsePatient(row, cols)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		var label *bool
		if labelCol >= 0 {
			if label, err = parseBool(cell(row, labelCol)); err != nil {
				return fmt.Errorf("line %d: adverse_event: %w", line, err)
			}
		}
		emit(rec, label)
	}
}

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parsePatient(row []string, cols map[string]int) (domain.PatientRecord, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok {
			return ""
		}
		return cell(row, i)
	}

	var (
		rec domain.PatientRecord
		err error
	)
	rec.PatientID = get("patient_id")
	if rec.Sex, err = domain.ParseSex(get("sex")); err != nil {
		return rec, err
	}

	ints := []struct {
		name string
		dst  **int
	}{
		{"age", &rec.Age},
		{"comorbidity_count", &rec.ComorbidityCount},
		{"medication_count", &rec.MedicationCount},
		{"lab_abnormal_count", &rec.LabAbnormalCount},
	}
	for _, f := range ints {
		if *f.dst, err = parseInt(get(f.name)); err != nil {
			return rec, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	bools := []struct {
		name string
		dst  **bool
	}{
		{"smoking", &rec.Smoking},
		{"alcohol", &rec.Alcohol},
		{"diabetes", &rec.Diabetes},
		{"heart_disease", &rec.HeartDisease},
		{"kidney_disease", &rec.KidneyDisease},
		{"liver_disease", &rec.LiverDisease},
		{"cancer", &rec.Cancer},
	}
	for _, f := range bools {
		if *f.dst, err = parseBool(get(f.name)); err != nil {
			return rec, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	floats := []struct {
		name string
		dst  **float64
	}{
		{"bmi", &rec.BMI},
		{"systolic_bp", &rec.SystolicBP},
		{"diastolic_bp", &rec.DiastolicBP},
		{"creatinine", &rec.Creatinine},
	}
	for _, f := range floats {
		if *f.dst, err = parseFloat(get(f.name)); err != nil {
			return rec, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return rec, nil
}

func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "na", "n/a", "nan", "null", "none":
		return true
	}
	return false
}

func parseInt(s string) (*int, error) {
	if isMissing(s) {
		return nil, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return &v, nil
	}
	// Exports from spreadsheets often write integers as 3.0.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	v := int(f)
	return &v, nil
}

func parseFloat(s string) (*float64, error) {
	if isMissing(s) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return &v, nil
}

func parseBool(s string) (*bool, error) {
	if isMissing(s) {
		return nil, nil
	}
	var v bool
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y":
		v = true
	case "0", "false", "f", "no", "n":
		v = false
	default:
		return nil, fmt.Errorf("invalid boolean %q", s)
	}
	return &v, nil
}

// WriteCohort writes cohort as CSV with the CohortColumns header. Missing
// values are written as empty cells.
func WriteCohort(w io.Writer, cohort []domain.LabeledRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CohortColumns); err != nil {
		return err
	}
	for _, ex := range cohort {
		r := ex.Record
		row := []string{
			r.PatientID, fmtInt(r.Age), string(r.Sex),
			fmtInt(r.ComorbidityCount), fmtInt(r.MedicationCount), fmtInt(r.LabAbnormalCount),
			fmtBool(r.Smoking), fmtBool(r.Alcohol), fmtBool(r.Diabetes), fmtBool(r.HeartDisease),
			fmtBool(r.KidneyDisease), fmtBool(r.LiverDisease), fmtBool(r.Cancer),
			fmtFloat(r.BMI), fmtFloat(r.SystolicBP), fmtFloat(r.DiastolicBP), fmtFloat(r.Creatinine),
			strconv.FormatBool(ex.Label),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func fmtBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
