package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/cdss-mcp-server/internal/model"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewSQLiteStore creates a new SQLite bundle store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers proceed while a new bundle is written
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Debug("Opened SQLite artifact registry")
	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		log:    logger,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const entryColumns = `id, version, model_type, schema_fingerprint, test_auc, trained_at, created_at`

func scanEntry(s scanner) (*Entry, error) {
	e := &Entry{}
	err := s.Scan(&e.ID, &e.Version, &e.ModelType, &e.SchemaFingerprint, &e.TestAUC, &e.TrainedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL UNIQUE,
		model_type TEXT NOT NULL,
		schema_fingerprint TEXT NOT NULL,
		test_auc REAL NOT NULL DEFAULT 0,
		trained_at DATETIME,
		bundle TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_schema_fingerprint ON model_artifacts(schema_fingerprint);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or replaces a bundle.
func (s *SQLiteStore) Save(ctx context.Context, b model.Bundle) (*Entry, error) {
	data, err := encodeBundle(b)
	if err != nil {
		return nil, err
	}
	e := entryFor(b)
	e.CreatedAt = time.Now().UTC()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO model_artifacts (
			version, model_type, schema_fingerprint, test_auc, trained_at, bundle, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			model_type = excluded.model_type,
			schema_fingerprint = excluded.schema_fingerprint,
			test_auc = excluded.test_auc,
			trained_at = excluded.trained_at,
			bundle = excluded.bundle
		RETURNING id
	`,
		e.Version, e.ModelType, e.SchemaFingerprint, e.TestAUC, e.TrainedAt, string(data), e.CreatedAt,
	).Scan(&e.ID)
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
func (s *SQLiteStore) Get(ctx context.Context, version string) (model.Bundle, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT bundle FROM model_artifacts WHERE version = ?", version,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bundle{}, notFound(version)
	}
	if err != nil {
		return model.Bundle{}, fmt.Errorf("failed to get bundle: %w", err)
	}
	return decodeBundle([]byte(data))
}

// Latest retrieves the most recently added bundle.
func (s *SQLiteStore) Latest(ctx context.Context) (model.Bundle, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT bundle FROM model_artifacts ORDER BY id DESC LIMIT 1",
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bundle{}, notFound("latest")
	}
	if err != nil {
		return model.Bundle{}, fmt.Errorf("failed to get latest bundle: %w", err)
	}
	return decodeBundle([]byte(data))
}

// List returns entries newest first with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM model_artifacts
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM model_artifacts").Scan(&count)
	return count, err
}

// Delete removes a bundle by version.
func (s *SQLiteStore) Delete(ctx context.Context, version string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM model_artifacts WHERE version = ?", version)
	if err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(version)
	}
	return nil
}

// ExportJSON exports all bundles to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportAll(ctx, s, writer)
}

// ImportJSON imports bundles from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importAll(ctx, s, reader)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
