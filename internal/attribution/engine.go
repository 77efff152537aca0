// Package attribution explains single predictions as additive per-feature
// contributions relative to the artifact baseline.
package attribution

import (
	"fmt"
	"math"
	"sort"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/model"
)

const (
	// DefaultSamples is the number of sampled permutations per explanation.
	DefaultSamples = 32
	// DefaultDelta is the failure probability used for the reported error bound.
	DefaultDelta = 0.05
)

// Config controls the sampling of the estimator.
type Config struct {
	Samples int
	Seed    int64
}

// Explanation decomposes one prediction. Baseline plus the sum of all
// contributions equals Prediction up to float rounding.
type Explanation struct {
	Prediction    float64               `json:"prediction"`
	Baseline      float64               `json:"baseline"`
	Contributions []domain.Contribution `json:"contributions"`
	Samples       int                   `json:"samples"`
	ErrorBound    float64               `json:"error_bound"`
}

// Sum returns baseline plus all contributions.
func (e Explanation) Sum() float64 {
	s := e.Baseline
	for _, c := range e.Contributions {
		s += c.Contribution
	}
	return s
}

// Engine produces explanations. It keeps no state between calls.
type Engine struct {
	samples int
	seed    int64
}

// NewEngine builds an engine; zero Samples means DefaultSamples.
func NewEngine(cfg Config) *Engine {
	samples := cfg.Samples
	if samples <= 0 {
		samples = DefaultSamples
	}
	return &Engine{samples: samples, seed: cfg.Seed}
}

// Samples returns the configured permutation count.
func (e *Engine) Samples() int { return e.samples }

// Seed returns the permutation stream seed.
func (e *Engine) Seed() int64 { return e.seed }

// Explain computes contributions for v under artifact a. The output is sorted
// by absolute contribution, largest first, ties in schema order.
func (e *Engine) Explain(a *model.Artifact, v features.Vector) (Explanation, error) {
	if a == nil {
		return Explanation{}, fmt.Errorf("no artifact to explain against")
	}
	pred, err := a.PredictProba(v)
	if err != nil {
		return Explanation{}, err
	}
	phi, err := a.Contributions(v, e.samples, e.seed)
	if err != nil {
		return Explanation{}, err
	}
	if len(phi) != v.Len() {
		return Explanation{}, &domain.SchemaMismatchError{
			Reason: fmt.Sprintf("classifier returned %d contributions for %d features", len(phi), v.Len()),
		}
	}

	contribs := make([]domain.Contribution, len(phi))
	for i, c := range phi {
		contribs[i] = domain.Contribution{
			Feature:      v.NameAt(i),
			Value:        v.At(i),
			Contribution: c,
			Direction:    domain.DirectionOf(c),
		}
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Contribution) > math.Abs(contribs[j].Contribution)
	})

	return Explanation{
		Prediction:    pred,
		Baseline:      a.Baseline(),
		Contributions: contribs,
		Samples:       e.samples,
		ErrorBound:    ErrorBound(e.samples, DefaultDelta),
	}, nil
}

// ErrorBound is the Hoeffding half-width for one contribution: with
// probability at least 1-delta the estimate lies within the returned distance
// of the exact Shapley value. Marginal terms are bounded in [-1, 1].
func ErrorBound(samples int, delta float64) float64 {
	if samples <= 0 || delta <= 0 || delta >= 1 {
		return math.Inf(1)
	}
	return math.Sqrt(2 * math.Log(2/delta) / float64(samples))
}
