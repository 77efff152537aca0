package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/model"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL bundle store.
// It expects the model_artifacts table to exist (created via migrations).
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, log: logger}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL bundle store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save stores or replaces a bundle.
func (s *PostgresStore) Save(ctx context.Context, b model.Bundle) (*Entry, error) {
	data, err := encodeBundle(b)
	if err != nil {
		return nil, err
	}
	e := entryFor(b)

	query := `
		INSERT INTO model_artifacts (
			version, model_type, schema_fingerprint, test_auc, trained_at, bundle
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (version) DO UPDATE SET
			model_type = EXCLUDED.model_type,
			schema_fingerprint = EXCLUDED.schema_fingerprint,
			test_auc = EXCLUDED.test_auc,
			trained_at = EXCLUDED.trained_at,
			bundle = EXCLUDED.bundle
		RETURNING id, created_at
	`
	err = s.db.QueryRowContext(ctx, query,
		e.Version, e.ModelType, e.SchemaFingerprint, e.TestAUC, e.TrainedAt, string(data),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save bundle: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"version":    e.Version,
		"model_type": e.ModelType,
		"test_auc":   e.TestAUC,
	}).Info("Stored model bundle")
	return &e, nil
}

// Get retrieves the bundle for version.
func (s *PostgresStore) Get(ctx context.Context, version string) (model.Bundle, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT bundle FROM model_artifacts WHERE version = $1`, version,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bundle{}, notFound(version)
	}
	if err != nil {
		return model.Bundle{}, fmt.Errorf("failed to get bundle: %w", err)
	}
	return decodeBundle(data)
}

// Latest retrieves the most recently added bundle.
func (s *PostgresStore) Latest(ctx context.Context) (model.Bundle, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT bundle FROM model_artifacts ORDER BY id DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bundle{}, notFound("latest")
	}
	if err != nil {
		return model.Bundle{}, fmt.Errorf("failed to get latest bundle: %w", err)
	}
	return decodeBundle(data)
}

// List returns entries newest first with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	query := `
		SELECT id, version, model_type, schema_fingerprint, test_auc,
			COALESCE(trained_at, 'epoch'::timestamptz), created_at
		FROM model_artifacts
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the number of stored bundles.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM model_artifacts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bundles: %w", err)
	}
	return count, nil
}

// Delete removes a bundle by version.
func (s *PostgresStore) Delete(ctx context.Context, version string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM model_artifacts WHERE version = $1", version)
	if err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(version)
	}
	return nil
}

// ExportJSON exports all bundles to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportAll(ctx, s, writer)
}

// ImportJSON imports bundles from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importAll(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
