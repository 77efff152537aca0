// Package bootstrap assembles the engine components from configuration. Both
// command-line binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/attribution"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/fixtures"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/loader"
	"github.com/cdss-mcp-server/internal/model"
	"github.com/cdss-mcp-server/internal/registry"
	"github.com/cdss-mcp-server/internal/service"
)

// FeatureBuilder builds the feature builder from fc. Medians come from the
// reference cohort when one is configured and explicit medians override
// individual fields.
func FeatureBuilder(ctx context.Context, fc domain.FeatureConfig, logger *logrus.Logger) (*features.Builder, error) {
	var ref domain.ReferenceSource
	if fc.ReferenceCohort != "" {
		ref = loader.NewCohortFile(fc.ReferenceCohort, logger)
	}
	return FeatureBuilderFrom(ctx, fc, ref, logger)
}

// FeatureBuilderFrom is FeatureBuilder with an explicit reference source,
// which may be nil.
func FeatureBuilderFrom(ctx context.Context, fc domain.FeatureConfig, ref domain.ReferenceSource, logger *logrus.Logger) (*features.Builder, error) {
	if ref != nil {
		records, err := ref.LoadReference(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load reference cohort: %w", err)
		}
		medians := features.ComputeImputation(records).Map()
		for k, v := range fc.Medians {
			medians[k] = v
		}
		fc.Medians = medians
		logger.WithField("records", len(records)).Info("Computed imputation medians from reference cohort")
	}

	cfg, err := features.ConfigFromEngine(fc)
	if err != nil {
		return nil, err
	}
	return features.NewBuilder(cfg)
}

// InteractionIndex loads the corpus and vocabulary named by ic. An empty
// corpus path falls back to the bundled sample corpus and its aliases.
func InteractionIndex(ctx context.Context, ic domain.InteractionConfig, logger *logrus.Logger) (*interaction.Index, error) {
	var src domain.CorpusSource
	if ic.CorpusPath != "" {
		src = loader.NewCorpusFile(ic.CorpusPath, logger)
	}
	return InteractionIndexFrom(ctx, src, ic, logger)
}

// InteractionIndexFrom builds the index over src, or over the bundled sample
// corpus when src is nil.
func InteractionIndexFrom(ctx context.Context, src domain.CorpusSource, ic domain.InteractionConfig, logger *logrus.Logger) (*interaction.Index, error) {
	var (
		records []domain.InteractionRecord
		opts    []interaction.Option
	)
	if src != nil {
		var err error
		if records, err = src.LoadInteractions(ctx); err != nil {
			return nil, err
		}
	} else {
		records = fixtures.Corpus()
		opts = append(opts, interaction.WithAliases(fixtures.Aliases()))
		logger.Warn("No interaction corpus configured, using the bundled sample corpus")
	}

	if ic.ExtendedRules {
		opts = append(opts, interaction.WithClassifier(interaction.NewKeywordClassifier(interaction.ExtendedKeywordRules())))
	}
	if ic.AliasPath != "" {
		vocab, err := loader.LoadVocabulary(ic.AliasPath)
		if err != nil {
			return nil, err
		}
		// Later options win, so vocabulary rules override extended rules.
		opts = append(opts, vocab.Options()...)
	}

	ix := interaction.NewIndex(records, opts...)
	stats := ix.Stats(0)
	logger.WithFields(logrus.Fields{
		"pairs":      stats.Pairs,
		"vocabulary": stats.Vocabulary,
		"aliases":    stats.Aliases,
		"duplicates": stats.Duplicates,
		"malformed":  stats.Malformed,
	}).Info("Built interaction index")
	return ix, nil
}

// AttributionEngine builds the explanation engine.
func AttributionEngine(ac domain.AttributionConfig) *attribution.Engine {
	return attribution.NewEngine(attribution.Config{Samples: ac.Samples, Seed: ac.Seed})
}

// PublishLatest opens the newest bundle in store against the builder's schema
// and publishes it. It returns false when the registry is empty.
func PublishLatest(ctx context.Context, store registry.Store, builder *features.Builder, risk *service.RiskService, logger *logrus.Logger) (bool, error) {
	a, err := registry.OpenLatest(ctx, store, builder.Schema())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Artifact registry is empty; risk scoring stays unavailable until a model is trained")
			return false, nil
		}
		return false, err
	}
	return true, risk.Publish(a)
}

// PublishVersion opens a specific bundle and publishes it.
func PublishVersion(ctx context.Context, store registry.Store, version string, builder *features.Builder, risk *service.RiskService) (*model.Artifact, error) {
	a, err := registry.Open(ctx, store, version, builder.Schema())
	if err != nil {
		return nil, err
	}
	return a, risk.Publish(a)
}
