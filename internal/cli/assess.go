package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/bootstrap"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/loader"
	"github.com/cdss-mcp-server/internal/model"
	"github.com/cdss-mcp-server/internal/service"
)

type artifactOptions struct {
	version string
	bundle  string
}

func (o *artifactOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.version, "model-version", "", "registry version to load (default: latest)")
	cmd.Flags().StringVar(&o.bundle, "bundle", "", "load the model from a bundle file instead of the registry")
}

func newAssessCommand(a *app) *cobra.Command {
	var (
		art artifactOptions
		top int
	)
	cmd := &cobra.Command{
		Use:   "assess <patients.csv|patients.json|->",
		Short: "Score patients and explain each prediction",
		Long: `Assess loads a trained model and scores every patient in the input. CSV
input uses the cohort layout without the label column; JSON input is a single
record or an array of records. "-" reads JSON from stdin.

Example:
  cdss assess patients.csv --top 5
  echo '{"age": 82, "medication_count": 12}' | cdss assess -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			records, err := readPatients(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no patient records in %s", args[0])
			}

			risk, err := a.riskService(ctx, art, nil)
			if err != nil {
				return err
			}
			results, err := risk.AssessBatch(ctx, records)
			if err != nil {
				return err
			}
			if top > 0 {
				for _, r := range results {
					r.Contributions = service.TopContributions(r.Contributions, top)
				}
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	art.bind(cmd)
	cmd.Flags().IntVar(&top, "top", 0, "keep only the n largest contributions (0 keeps all)")
	return cmd
}

// riskService builds a risk service with the selected artifact published.
func (a *app) riskService(ctx context.Context, opts artifactOptions, cache *service.ExplanationCache) (*service.RiskService, error) {
	eng := a.manager.GetEngineConfig()
	builder, err := bootstrap.FeatureBuilder(ctx, eng.Features, a.logger)
	if err != nil {
		return nil, err
	}
	risk := service.NewRiskService(bootstrap.AttributionEngine(eng.Attribution), cache, a.logger)

	artifact, err := a.loadArtifact(ctx, opts, builder)
	if err != nil {
		return nil, err
	}
	if err := risk.Publish(artifact); err != nil {
		return nil, err
	}
	return risk, nil
}

func (a *app) loadArtifact(ctx context.Context, opts artifactOptions, builder *features.Builder) (*model.Artifact, error) {
	if opts.bundle != "" {
		if opts.version != "" {
			return nil, fmt.Errorf("--bundle and --model-version are mutually exclusive")
		}
		f, err := os.Open(opts.bundle)
		if err != nil {
			return nil, fmt.Errorf("failed to open bundle: %w", err)
		}
		defer f.Close()
		return model.LoadBundle(f, builder.Schema())
	}

	store, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if opts.version != "" {
		b, err := store.Get(ctx, opts.version)
		if err != nil {
			return nil, err
		}
		return b.Open(builder.Schema())
	}
	b, err := store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("no trained model available, run `cdss train` first: %w", err)
	}
	return b.Open(builder.Schema())
}

// readPatients reads CSV by extension and JSON otherwise.
func readPatients(stdin io.Reader, path string) ([]domain.PatientRecord, error) {
	if path == "-" {
		return decodePatients(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return loader.ReadRecords(f)
	}
	return decodePatients(f)
}

func decodePatients(r io.Reader) ([]domain.PatientRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []domain.PatientRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("invalid patient records: %w", err)
		}
		return records, nil
	}
	var record domain.PatientRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid patient record: %w", err)
	}
	return []domain.PatientRecord{record}, nil
}
