// Package registry stores trained model bundles so a serving process can load
// a specific or the latest artifact without retraining.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/model"
)

// Entry summarises one stored bundle.
type Entry struct {
	ID                int64     `json:"id,omitempty"`
	Version           string    `json:"version"`
	ModelType         string    `json:"model_type"`
	SchemaFingerprint string    `json:"schema_fingerprint"`
	TestAUC           float64   `json:"test_auc"`
	TrainedAt         time.Time `json:"trained_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store defines the interface for bundle storage operations.
type Store interface {
	// Save stores a bundle. Saving an existing version replaces its bundle.
	Save(ctx context.Context, b model.Bundle) (*Entry, error)

	// Get returns the bundle for version, or an error matching domain.ErrNotFound.
	Get(ctx context.Context, version string) (model.Bundle, error)

	// Latest returns the most recently added bundle.
	Latest(ctx context.Context) (model.Bundle, error)

	// List returns entries newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*Entry, error)

	// Count returns the number of stored bundles.
	Count(ctx context.Context) (int64, error)

	// Delete removes a bundle by version.
	Delete(ctx context.Context, version string) error

	// ExportJSON writes every bundle to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export and stores versions not already present.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// ExportFormatVersion tags the JSON export layout.
const ExportFormatVersion = "1.0"

// Export represents the JSON export format.
type Export struct {
	Version    string         `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Bundles    []model.Bundle `json:"bundles"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 100000

// Open fetches version from s and rebuilds the artifact against schema.
func Open(ctx context.Context, s Store, version string, schema features.Schema) (*model.Artifact, error) {
	b, err := s.Get(ctx, version)
	if err != nil {
		return nil, err
	}
	return b.Open(schema)
}

// OpenLatest rebuilds the newest stored artifact against schema.
func OpenLatest(ctx context.Context, s Store, schema features.Schema) (*model.Artifact, error) {
	b, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return b.Open(schema)
}

func entryFor(b model.Bundle) Entry {
	return Entry{
		Version:           b.Version,
		ModelType:         string(b.Model.Type),
		SchemaFingerprint: b.Schema.Fingerprint,
		TestAUC:           b.Provenance.Test.AUC,
		TrainedAt:         b.Provenance.TrainedAt.UTC(),
	}
}

func encodeBundle(b model.Bundle) ([]byte, error) {
	if b.Version == "" {
		return nil, fmt.Errorf("bundle has no version")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	return data, nil
}

func decodeBundle(data []byte) (model.Bundle, error) {
	b, err := model.ReadBundle(bytes.NewReader(data))
	if err != nil {
		return model.Bundle{}, err
	}
	return b, nil
}

// NewStore opens the store selected by cfg. postgresURL is used when the
// postgres driver has no URL of its own.
func NewStore(cfg domain.RegistryConfig, postgresURL string, logger *logrus.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path, logger)
	case "postgres":
		url := cfg.URL
		if url == "" {
			url = postgresURL
		}
		return NewPostgresStoreFromURL(url, logger)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

func notFound(version string) error {
	return fmt.Errorf("bundle %q not found: %w", version, domain.ErrNotFound)
}

// exportAll writes the export document for s.
func exportAll(ctx context.Context, s Store, writer io.Writer) error {
	entries, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list bundles: %w", err)
	}

	export := &Export{
		Version:    ExportFormatVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(entries),
		Bundles:    make([]model.Bundle, 0, len(entries)),
	}
	// Oldest first so an import reproduces the original ordering.
	for i := len(entries) - 1; i >= 0; i-- {
		b, err := s.Get(ctx, entries[i].Version)
		if err != nil {
			return err
		}
		export.Bundles = append(export.Bundles, b)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importAll stores every bundle in the export not already present in s.
func importAll(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, b := range export.Bundles {
		if _, err := s.Get(ctx, b.Version); err == nil {
			skipped++
			continue
		} else if !isNotFound(err) {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if _, err := s.Save(ctx, b); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
