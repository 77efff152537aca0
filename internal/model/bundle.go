package model

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
)

// BundleFormatVersion is bumped on incompatible changes to the bundle layout.
const BundleFormatVersion = 1

// SchemaDoc is the serialised feature schema.
type SchemaDoc struct {
	Version     string          `json:"version"`
	Fingerprint string          `json:"fingerprint"`
	BinsKey     string          `json:"bins_key"`
	Features    []features.Spec `json:"features"`
}

// Bundle is the versioned on-disk form of an Artifact.
type Bundle struct {
	FormatVersion int             `json:"format_version"`
	Version       string          `json:"version"`
	Schema        SchemaDoc       `json:"schema"`
	Builder       features.Config `json:"builder"`
	Model         Params          `json:"model"`
	Calibration   Calibration     `json:"calibration"`
	Provenance    Provenance      `json:"provenance"`
	Baseline      float64         `json:"baseline"`
	Background    [][]float64     `json:"background"`
}

// Bundle renders the artifact for storage.
func (a *Artifact) Bundle() Bundle {
	return Bundle{
		FormatVersion: BundleFormatVersion,
		Version:       a.version,
		Schema: SchemaDoc{
			Version:     a.schema.Version(),
			Fingerprint: a.schema.Fingerprint(),
			BinsKey:     a.schema.BinsKey(),
			Features:    a.schema.Specs(),
		},
		Builder:     a.BuilderConfig(),
		Model:       a.clf.Params(),
		Calibration: a.Calibration(),
		Provenance:  a.Provenance(),
		Baseline:    a.baseline,
		Background:  a.Background(),
	}
}

// WriteBundle encodes the artifact as JSON.
func (a *Artifact) WriteBundle(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a.Bundle()); err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	return nil
}

// MarshalBundle returns the JSON bundle bytes.
func (a *Artifact) MarshalBundle() ([]byte, error) {
	data, err := json.Marshal(a.Bundle())
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	return data, nil
}

// ReadBundle decodes a bundle without checking it against a builder.
func ReadBundle(r io.Reader) (Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return b, nil
}

// LoadBundle decodes a bundle and rebuilds the artifact, rejecting unknown
// format versions and any schema that differs from the supplied builder's.
func LoadBundle(r io.Reader, schema features.Schema) (*Artifact, error) {
	b, err := ReadBundle(r)
	if err != nil {
		return nil, err
	}
	return b.Open(schema)
}

// Open rebuilds the artifact after checking it against schema.
func (b Bundle) Open(schema features.Schema) (*Artifact, error) {
	if b.FormatVersion != BundleFormatVersion {
		return nil, &domain.SchemaMismatchError{
			Reason: fmt.Sprintf("unsupported bundle format version %d (want %d)", b.FormatVersion, BundleFormatVersion),
		}
	}

	stored := features.NewSchema(b.Schema.Version, b.Schema.Features, b.Schema.BinsKey)
	if stored.Fingerprint() != b.Schema.Fingerprint {
		return nil, &domain.SchemaMismatchError{
			Reason: "bundle fingerprint does not match its own feature list",
		}
	}
	if !stored.Equal(schema) {
		return nil, &domain.SchemaMismatchError{
			Expected: stored.Names(),
			Got:      schema.Names(),
			Reason: fmt.Sprintf("bundle schema %s (%s) differs from builder schema %s (%s)",
				stored.Fingerprint(), stored.Version(), schema.Fingerprint(), schema.Version()),
		}
	}

	clf, err := FromParams(b.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild classifier: %w", err)
	}
	return NewArtifact(ArtifactSpec{
		Version:     b.Version,
		Schema:      stored,
		Builder:     b.Builder,
		Classifier:  clf,
		Calibration: b.Calibration,
		Provenance:  b.Provenance,
		Background:  b.Background,
	})
}
