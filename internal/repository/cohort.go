// Package repository implements the engine's data sources over PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
)

const patientColumns = `COALESCE(patient_id, ''), age, sex, comorbidity_count, medication_count, lab_abnormal_count,
	smoking, alcohol, diabetes, heart_disease, kidney_disease, liver_disease, cancer,
	bmi, systolic_bp, diastolic_bp, creatinine`

// CohortRepository handles patient record persistence. Rows with a non-null
// adverse_event form the labeled training cohort; every row counts toward the
// imputation reference.
type CohortRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCohortRepository creates a new cohort repository
func NewCohortRepository(db *pgxpool.Pool, logger *logrus.Logger) *CohortRepository {
	return &CohortRepository{
		db:  db,
		log: logger,
	}
}

// Insert bulk-loads labeled records with COPY.
func (r *CohortRepository) Insert(ctx context.Context, cohort []domain.LabeledRecord) (int64, error) {
	rows := make([][]interface{}, len(cohort))
	for i, ex := range cohort {
		label := ex.Label
		rows[i] = append(patientValues(ex.Record), &label)
	}
	return r.copyRows(ctx, rows, true)
}

// InsertUnlabeled bulk-loads records without an outcome.
func (r *CohortRepository) InsertUnlabeled(ctx context.Context, records []domain.PatientRecord) (int64, error) {
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		rows[i] = patientValues(rec)
	}
	return r.copyRows(ctx, rows, false)
}

func (r *CohortRepository) copyRows(ctx context.Context, rows [][]interface{}, labeled bool) (int64, error) {
	cols := []string{
		"patient_id", "age", "sex", "comorbidity_count", "medication_count", "lab_abnormal_count",
		"smoking", "alcohol", "diabetes", "heart_disease", "kidney_disease", "liver_disease", "cancer",
		"bmi", "systolic_bp", "diastolic_bp", "creatinine",
	}
	if labeled {
		cols = append(cols, "adverse_event")
	}

	n, err := r.db.CopyFrom(ctx, pgx.Identifier{"patients"}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"rows":  len(rows),
			"error": err,
		}).Error("Failed to copy patient records")
		return 0, fmt.Errorf("copying patients: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"rows":    n,
		"labeled": labeled,
	}).Info("Patient records stored")
	return n, nil
}

// LoadCohort implements domain.CohortSource.
func (r *CohortRepository) LoadCohort(ctx context.Context) ([]domain.LabeledRecord, error) {
	query := `SELECT ` + patientColumns + `, adverse_event
		FROM patients
		WHERE adverse_event IS NOT NULL
		ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying cohort: %w", err)
	}
	defer rows.Close()

	var cohort []domain.LabeledRecord
	for rows.Next() {
		var ex domain.LabeledRecord
		dest := append(patientDest(&ex.Record), &ex.Label)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning cohort row: %w", err)
		}
		cohort = append(cohort, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cohort rows: %w", err)
	}

	r.log.WithField("records", len(cohort)).Info("Cohort loaded from database")
	return cohort, nil
}

// LoadReference implements domain.ReferenceSource.
func (r *CohortRepository) LoadReference(ctx context.Context) ([]domain.PatientRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying reference records: %w", err)
	}
	defer rows.Close()

	var out []domain.PatientRecord
	for rows.Next() {
		var rec domain.PatientRecord
		if err := rows.Scan(patientDest(&rec)...); err != nil {
			return nil, fmt.Errorf("scanning reference row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetByPatientID retrieves one record.
func (r *CohortRepository) GetByPatientID(ctx context.Context, patientID string) (*domain.PatientRecord, error) {
	var rec domain.PatientRecord
	err := r.db.QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, patientID,
	).Scan(patientDest(&rec)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return &rec, nil
}

// Count returns the number of labeled and total records.
func (r *CohortRepository) Count(ctx context.Context) (labeled, total int64, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE adverse_event IS NOT NULL), COUNT(*) FROM patients`,
	).Scan(&labeled, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting patients: %w", err)
	}
	return labeled, total, nil
}

func patientValues(r domain.PatientRecord) []interface{} {
	var id *string
	if r.PatientID != "" {
		id = &r.PatientID
	}
	return []interface{}{
		id, r.Age, string(r.Sex), r.ComorbidityCount, r.MedicationCount, r.LabAbnormalCount,
		r.Smoking, r.Alcohol, r.Diabetes, r.HeartDisease, r.KidneyDisease, r.LiverDisease, r.Cancer,
		r.BMI, r.SystolicBP, r.DiastolicBP, r.Creatinine,
	}
}

// patientDest returns scan targets in patientColumns order. Nullable columns
// scan into the record's pointer fields.
func patientDest(r *domain.PatientRecord) []interface{} {
	return []interface{}{
		&r.PatientID, &r.Age, (*string)(&r.Sex), &r.ComorbidityCount, &r.MedicationCount, &r.LabAbnormalCount,
		&r.Smoking, &r.Alcohol, &r.Diabetes, &r.HeartDisease, &r.KidneyDisease, &r.LiverDisease, &r.Cancer,
		&r.BMI, &r.SystolicBP, &r.DiastolicBP, &r.Creatinine,
	}
}
