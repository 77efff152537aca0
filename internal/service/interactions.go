package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/metrics"
)

// InteractionService serves lookups from the current interaction index. A
// reloaded corpus replaces the index atomically.
type InteractionService struct {
	logger *logrus.Logger
	index  atomic.Pointer[interaction.Index]
}

// NewInteractionService creates an interaction service over ix.
func NewInteractionService(ix *interaction.Index, logger *logrus.Logger) *InteractionService {
	s := &InteractionService{logger: logger}
	s.index.Store(ix)
	return s
}

// Replace swaps in a rebuilt index.
func (s *InteractionService) Replace(ix *interaction.Index) {
	if ix == nil {
		return
	}
	s.index.Store(ix)
	st := ix.Stats(0)
	s.logger.WithFields(logrus.Fields{
		"pairs":      st.Pairs,
		"vocabulary": st.Vocabulary,
		"aliases":    st.Aliases,
	}).Info("Interaction index replaced")
}

// Index returns the current index.
func (s *InteractionService) Index() *interaction.Index { return s.index.Load() }

// Check looks up interactions among drugs.
func (s *InteractionService) Check(ctx context.Context, drugs []string) (interaction.Result, error) {
	if err := ctx.Err(); err != nil {
		return interaction.Result{}, err
	}
	start := time.Now()
	res := s.index.Load().Lookup(drugs)

	severities := make([]string, len(res.Findings))
	for i, f := range res.Findings {
		severities[i] = string(f.Severity)
	}
	metrics.RecordInteractionLookup(severities, len(res.Warnings))

	entry := s.logger.WithFields(logrus.Fields{
		"drugs":       len(drugs),
		"resolved":    len(res.Resolved),
		"findings":    len(res.Findings),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	for _, w := range res.Warnings {
		entry.WithField("warning", w.String()).Warn("Unknown drug in interaction check")
	}
	entry.Debug("Checked drug interactions")
	return res, nil
}

// Stats summarises the current index.
func (s *InteractionService) Stats(top int) interaction.Stats {
	return s.index.Load().Stats(top)
}
