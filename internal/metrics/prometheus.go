// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Training metrics
	trainingFits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdss_training_fits_total",
			Help: "Total number of model fits, cross-validation folds included",
		},
		[]string{"model_type"},
	)

	trainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cdss_training_duration_seconds",
			Help:    "Duration of complete training runs in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	trainingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdss_training_failures_total",
			Help: "Total number of failed training runs",
		},
		[]string{"reason"},
	)

	artifactTestAUC = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdss_artifact_test_auc",
			Help: "Held-out test AUC of the most recently trained artifact",
		},
	)

	// Inference metrics
	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdss_assessments_total",
			Help: "Total number of risk assessments",
		},
		[]string{"tier"},
	)

	assessmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cdss_assessment_duration_seconds",
			Help:    "Risk assessment duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	explanationCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdss_explanation_cache_total",
			Help: "Explanation cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	artifactSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdss_artifact_swaps_total",
			Help: "Total number of artifacts published to the risk service",
		},
	)

	// Interaction metrics
	interactionLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdss_interaction_lookups_total",
			Help: "Total number of interaction lookups",
		},
	)

	interactionFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdss_interaction_findings_total",
			Help: "Total number of interaction findings by severity",
		},
		[]string{"severity"},
	)

	unknownDrugs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdss_unknown_drugs_total",
			Help: "Total number of medication names that did not resolve",
		},
	)

	// MCP metrics
	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdss_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFit counts one model fit.
func RecordFit(modelType string) {
	trainingFits.WithLabelValues(modelType).Inc()
}

// RecordTraining records a finished training run.
func RecordTraining(duration time.Duration, testAUC float64) {
	trainingDuration.Observe(duration.Seconds())
	artifactTestAUC.Set(testAUC)
}

// RecordTrainingFailure counts a failed run by reason.
func RecordTrainingFailure(reason string) {
	trainingFailures.WithLabelValues(reason).Inc()
}

// RecordAssessment records a completed risk assessment.
func RecordAssessment(tier string, duration time.Duration) {
	assessmentsTotal.WithLabelValues(tier).Inc()
	assessmentDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records an explanation cache hit or miss on a tier.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	explanationCache.WithLabelValues(tier, result).Inc()
}

// RecordArtifactSwap counts a publish.
func RecordArtifactSwap() {
	artifactSwaps.Inc()
}

// RecordInteractionLookup records one lookup and its outcome.
func RecordInteractionLookup(severities []string, unknown int) {
	interactionLookups.Inc()
	for _, s := range severities {
		interactionFindings.WithLabelValues(s).Inc()
	}
	unknownDrugs.Add(float64(unknown))
}

// RecordToolCall records an MCP tool invocation.
func RecordToolCall(tool, status string) {
	toolCalls.WithLabelValues(tool, status).Inc()
}
