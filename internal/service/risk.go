// Package service composes the feature builder, the published model artifact
// and the attribution engine into per-patient risk assessments, and wraps the
// interaction index for callers that need logging and metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cdss-mcp-server/internal/attribution"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/metrics"
	"github.com/cdss-mcp-server/internal/model"
)

// ErrNoArtifact is returned by Assess before any artifact has been published.
var ErrNoArtifact = errors.New("no model artifact published")

// published pairs an artifact with the builder configured from it, so every
// assessment uses the bins and medians the model was trained with.
type published struct {
	artifact *model.Artifact
	builder  *features.Builder
}

// RiskService scores patients against the currently published artifact.
// Publishing swaps the artifact atomically; in-flight assessments finish on
// the artifact they started with.
type RiskService struct {
	logger  *logrus.Logger
	engine  *attribution.Engine
	cache   *ExplanationCache
	current atomic.Pointer[published]
	now     func() time.Time
}

// NewRiskService creates a risk service. cache may be nil to disable memoising.
func NewRiskService(engine *attribution.Engine, cache *ExplanationCache, logger *logrus.Logger) *RiskService {
	if engine == nil {
		engine = attribution.NewEngine(attribution.Config{})
	}
	return &RiskService{
		logger: logger,
		engine: engine,
		cache:  cache,
		now:    time.Now,
	}
}

// Publish makes artifact a the one served to subsequent assessments.
func (s *RiskService) Publish(a *model.Artifact) error {
	if a == nil {
		return fmt.Errorf("cannot publish a nil artifact")
	}
	b, err := features.NewBuilder(a.BuilderConfig())
	if err != nil {
		return fmt.Errorf("artifact %s carries an invalid builder config: %w", a.Version(), err)
	}
	if !b.Schema().Equal(a.Schema()) {
		return &domain.SchemaMismatchError{
			Expected: a.Schema().Names(),
			Got:      b.Schema().Names(),
			Reason:   "builder configuration does not reproduce the artifact schema",
		}
	}

	prev := s.current.Swap(&published{artifact: a, builder: b})
	metrics.RecordArtifactSwap()

	fields := logrus.Fields{
		"version":    a.Version(),
		"model_type": a.ModelType(),
		"baseline":   a.Baseline(),
	}
	if prev != nil {
		fields["previous_version"] = prev.artifact.Version()
	}
	s.logger.WithFields(fields).Info("Published model artifact")
	return nil
}

// Current returns the published artifact, or nil.
func (s *RiskService) Current() *model.Artifact {
	if p := s.current.Load(); p != nil {
		return p.artifact
	}
	return nil
}

// Assess builds the feature vector for r, predicts, explains and tiers it.
func (s *RiskService) Assess(ctx context.Context, r domain.PatientRecord) (*domain.RiskAssessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.current.Load()
	if p == nil {
		return nil, ErrNoArtifact
	}
	return s.assess(ctx, p, r)
}

func (s *RiskService) assess(ctx context.Context, p *published, r domain.PatientRecord) (*domain.RiskAssessment, error) {
	start := s.now()

	v, err := p.builder.Build(r)
	if err != nil {
		return nil, err
	}
	exp, err := s.explain(ctx, p.artifact, v)
	if err != nil {
		return nil, fmt.Errorf("failed to explain prediction: %w", err)
	}

	tier := domain.TierFor(exp.Prediction)
	assessment := &domain.RiskAssessment{
		PatientID:       r.PatientID,
		Probability:     exp.Prediction,
		Tier:            tier,
		Baseline:        exp.Baseline,
		Contributions:   exp.Contributions,
		ArtifactVersion: p.artifact.Version(),
		ModelType:       string(p.artifact.ModelType()),
		RuleSummary:     ClinicalPoints(r),
		AssessedAt:      start.UTC(),
	}

	elapsed := s.now().Sub(start)
	metrics.RecordAssessment(string(tier), elapsed)
	s.logger.WithFields(logrus.Fields{
		"patient_id":  r.PatientID,
		"probability": exp.Prediction,
		"tier":        tier,
		"version":     p.artifact.Version(),
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Assessed patient risk")
	return assessment, nil
}

func (s *RiskService) explain(ctx context.Context, a *model.Artifact, v features.Vector) (attribution.Explanation, error) {
	if s.cache == nil {
		return s.engine.Explain(a, v)
	}
	key := CacheKey(a.Version(), s.engine.Samples(), s.engine.Seed(), v)
	if exp, ok := s.cache.Get(ctx, key); ok {
		return cloneExplanation(exp), nil
	}
	exp, err := s.engine.Explain(a, v)
	if err != nil {
		return attribution.Explanation{}, err
	}
	s.cache.Set(ctx, key, cloneExplanation(exp))
	return exp, nil
}

// AssessBatch assesses records concurrently against a single artifact
// snapshot. Results are in input order; the first error aborts the batch.
func (s *RiskService) AssessBatch(ctx context.Context, records []domain.PatientRecord) ([]*domain.RiskAssessment, error) {
	p := s.current.Load()
	if p == nil {
		return nil, ErrNoArtifact
	}

	out := make([]*domain.RiskAssessment, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := s.assess(gctx, p, records[i])
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneExplanation copies the contribution slice so cached values are never
// shared with callers.
func cloneExplanation(e attribution.Explanation) attribution.Explanation {
	e.Contributions = append([]domain.Contribution(nil), e.Contributions...)
	return e
}

// TopContributions keeps the n largest contributions by magnitude, ties in
// schema order.
func TopContributions(cs []domain.Contribution, n int) []domain.Contribution {
	if n >= len(cs) {
		return cs
	}
	out := append([]domain.Contribution(nil), cs...)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	return out[:n]
}
