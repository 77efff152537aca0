package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/config"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/registry"
	"github.com/cdss-mcp-server/internal/service"
)

// IndexLoader builds a fresh interaction index.
type IndexLoader func(ctx context.Context) (*interaction.Index, error)

// RuntimeConfig describes a long-running server. Store is owned by the
// runtime once NewRuntime succeeds.
type RuntimeConfig struct {
	Features    domain.FeatureConfig
	Attribution domain.AttributionConfig
	Cache       domain.CacheConfig
	Store       registry.Store
	Index       IndexLoader
}

// Runtime holds the services shared by the HTTP and MCP servers.
type Runtime struct {
	Builder      *features.Builder
	Store        registry.Store
	Cache        *service.ExplanationCache
	Risk         *service.RiskService
	Interactions *service.InteractionService

	index  IndexLoader
	logger *logrus.Logger
}

// NewRuntime wires the services and publishes the newest registered model.
// An empty registry leaves risk scoring unavailable, not the server.
func NewRuntime(ctx context.Context, rc RuntimeConfig, logger *logrus.Logger) (*Runtime, error) {
	if rc.Store == nil || rc.Index == nil {
		return nil, errors.New("runtime needs a registry store and an index loader")
	}
	rt := &Runtime{Store: rc.Store, index: rc.Index, logger: logger}

	var err error
	if rt.Builder, err = FeatureBuilder(ctx, rc.Features, logger); err != nil {
		return nil, err
	}
	if rt.Cache, err = service.NewExplanationCache(rc.Cache, logger); err != nil {
		return nil, err
	}
	rt.Risk = service.NewRiskService(AttributionEngine(rc.Attribution), rt.Cache, logger)

	if _, err := PublishLatest(ctx, rt.Store, rt.Builder, rt.Risk, logger); err != nil {
		rt.Cache.Close()
		return nil, err
	}
	ix, err := rt.index(ctx)
	if err != nil {
		rt.Cache.Close()
		return nil, err
	}
	rt.Interactions = service.NewInteractionService(ix, logger)
	return rt, nil
}

// NewLiteRuntime builds the standalone runtime: SQLite registry in the data
// directory, in-memory cache and the configured or bundled corpus.
func NewLiteRuntime(ctx context.Context, cfg *config.LiteConfig, logger *logrus.Logger) (*Runtime, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	store, err := registry.NewSQLiteStore(cfg.RegistryDBPath(), logger)
	if err != nil {
		return nil, err
	}
	ic := domain.InteractionConfig{CorpusPath: cfg.CorpusPath, AliasPath: cfg.AliasPath}
	rt, err := NewRuntime(ctx, RuntimeConfig{
		Attribution: domain.AttributionConfig{Samples: cfg.AttributionSamples, Seed: 1},
		Cache:       cfg.CacheConfig(),
		Store:       store,
		Index: func(ctx context.Context) (*interaction.Index, error) {
			return InteractionIndex(ctx, ic, logger)
		},
	}, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return rt, nil
}

// Reload republishes the newest model and swaps in a rebuilt interaction
// index. A failed step leaves the previous state serving.
func (r *Runtime) Reload(ctx context.Context) error {
	var errs []error
	if _, err := PublishLatest(ctx, r.Store, r.Builder, r.Risk, r.logger); err != nil {
		errs = append(errs, err)
	}
	if ix, err := r.index(ctx); err != nil {
		errs = append(errs, err)
	} else {
		r.Interactions.Replace(ix)
	}
	return errors.Join(errs...)
}

// ReloadOnHangup calls Reload on every SIGHUP until ctx ends.
func (r *Runtime) ReloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				r.logger.Info("Reload requested")
				if err := r.Reload(ctx); err != nil {
					r.logger.WithError(err).Error("Reload failed; previous state kept")
				}
			}
		}
	}()
}

// Close releases the store and the cache.
func (r *Runtime) Close() error {
	return errors.Join(r.Store.Close(), r.Cache.Close())
}
