package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/bootstrap"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/loader"
	"github.com/cdss-mcp-server/internal/repository"
	"github.com/cdss-mcp-server/internal/training"
)

type trainOptions struct {
	cohort     string
	fromDB     bool
	version    string
	bundleOut  string
	report     bool
	noRegistry bool
	modelTypes []string
}

// trainSummary is printed after a successful run.
type trainSummary struct {
	Version   string           `json:"version"`
	ModelType string           `json:"model_type"`
	TestAUC   float64          `json:"test_auc"`
	Recall    float64          `json:"test_recall"`
	Brier     float64          `json:"brier"`
	Registry  string           `json:"registry,omitempty"`
	Bundle    string           `json:"bundle,omitempty"`
	Report    *training.Report `json:"report,omitempty"`
}

func newTrainCommand(a *app) *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train, select and register a risk model",
		Long: `Train runs the full protocol on a labelled cohort: stratified 60/20/20
split, repeated k-fold cross-validation over the candidate grid, refit of the
winner, calibration on validation and a single evaluation on the test split.
The resulting bundle is stored in the artifact registry.

Example:
  cdss train --cohort cohort.csv
  cdss train --from-db --version 2026-10 --out model.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runTrain(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.cohort, "cohort", "", "labelled cohort CSV")
	cmd.Flags().BoolVar(&opts.fromDB, "from-db", false, "load the cohort from PostgreSQL")
	cmd.Flags().StringVar(&opts.version, "version", "", "artifact version (default: generated)")
	cmd.Flags().StringVarP(&opts.bundleOut, "out", "o", "", "also write the bundle to this file")
	cmd.Flags().BoolVar(&opts.report, "report", false, "include the cross-validation report")
	cmd.Flags().BoolVar(&opts.noRegistry, "no-registry", false, "do not store the bundle in the registry")
	cmd.Flags().StringSliceVar(&opts.modelTypes, "model-types", nil, "restrict the candidate grid to these model types")
	return cmd
}

func (a *app) cohortSource(ctx context.Context, path string, fromDB bool) (domain.CohortSource, func(), error) {
	switch {
	case fromDB && path != "":
		return nil, nil, fmt.Errorf("--cohort and --from-db are mutually exclusive")
	case fromDB:
		db, err := a.openDatabase(ctx)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewCohortRepository(db.Pool, a.logger), db.Close, nil
	case path != "":
		return loader.NewCohortFile(path, a.logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("a cohort is required: pass --cohort or --from-db")
	}
}

func (a *app) runTrain(ctx context.Context, cmd *cobra.Command, opts *trainOptions) error {
	if opts.noRegistry && opts.bundleOut == "" {
		return fmt.Errorf("--no-registry needs --out, otherwise the model is discarded")
	}
	eng := a.manager.GetEngineConfig()

	src, closeSrc, err := a.cohortSource(ctx, opts.cohort, opts.fromDB)
	if err != nil {
		return err
	}
	defer closeSrc()

	builder, err := bootstrap.FeatureBuilder(ctx, eng.Features, a.logger)
	if err != nil {
		return err
	}

	tc := eng.Training
	if len(opts.modelTypes) > 0 {
		tc.ModelTypes = opts.modelTypes
	}
	tcfg, err := training.ConfigFromEngine(tc)
	if err != nil {
		return err
	}
	trainer, err := training.NewTrainer(builder, tcfg, a.logger)
	if err != nil {
		return err
	}

	cohort, err := src.LoadCohort(ctx)
	if err != nil {
		return err
	}
	a.logger.WithField("records", len(cohort)).Info("Loaded training cohort")

	artifact, report, err := trainer.FitWithReport(ctx, cohort)
	if err != nil {
		return err
	}

	bundle := artifact.Bundle()
	if opts.version != "" {
		bundle.Version = opts.version
	}
	prov := bundle.Provenance
	summary := trainSummary{
		Version:   bundle.Version,
		ModelType: string(prov.ModelType),
		TestAUC:   prov.Test.AUC,
		Recall:    prov.Test.Recall,
		Brier:     prov.Test.Brier,
	}
	if opts.report {
		summary.Report = report
	}

	if opts.bundleOut != "" {
		f, err := os.Create(opts.bundleOut)
		if err != nil {
			return fmt.Errorf("failed to create bundle file: %w", err)
		}
		if err := writeJSON(f, bundle); err != nil {
			f.Close()
			return fmt.Errorf("failed to write bundle: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		summary.Bundle = opts.bundleOut
	}

	if !opts.noRegistry {
		store, err := a.openRegistry()
		if err != nil {
			return err
		}
		defer store.Close()
		entry, err := store.Save(ctx, bundle)
		if err != nil {
			return err
		}
		summary.Registry = a.config().Registry.Driver
		a.logger.WithFields(logrus.Fields{
			"version": entry.Version,
			"id":      entry.ID,
		}).Info("Registered model bundle")
	}

	return writeJSON(cmd.OutOrStdout(), summary)
}
