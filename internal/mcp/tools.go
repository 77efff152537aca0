package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/metrics"
	"github.com/cdss-mcp-server/internal/model"
	"github.com/cdss-mcp-server/internal/service"
)

// AssessRiskParams defines parameters for the assess_risk tool
type AssessRiskParams struct {
	Patient     domain.PatientRecord `json:"patient" jsonschema:"patient record; omitted fields are imputed"`
	TopFeatures int                  `json:"top_features,omitempty" jsonschema:"return only the N largest contributions by magnitude"`
}

// CheckInteractionsParams defines parameters for the check_interactions tool
type CheckInteractionsParams struct {
	Medications []string `json:"medications" jsonschema:"drug names, brand or generic"`
}

// CheckInteractionsResult defines the result structure for check_interactions
type CheckInteractionsResult struct {
	interaction.Result
	Summary map[domain.Severity]int `json:"summary"`
}

// ModelInfoParams defines parameters for the model_info tool
type ModelInfoParams struct {
	TopDrugs int `json:"top_drugs,omitempty" jsonschema:"number of most-connected drugs to list"`
}

// ModelInfoResult defines the result structure for model_info
type ModelInfoResult struct {
	Loaded            bool               `json:"loaded"`
	Version           string             `json:"version,omitempty"`
	ModelType         string             `json:"model_type,omitempty"`
	SchemaVersion     string             `json:"schema_version,omitempty"`
	SchemaFingerprint string             `json:"schema_fingerprint,omitempty"`
	Features          []string           `json:"features,omitempty"`
	Baseline          float64            `json:"baseline,omitempty"`
	Provenance        *model.Provenance  `json:"provenance,omitempty"`
	Interactions      *interaction.Stats `json:"interactions,omitempty"`
}

// handleAssessRisk handles the assess_risk tool invocation
func (s *Server) handleAssessRisk(ctx context.Context, req *mcp.CallToolRequest, params AssessRiskParams) (*mcp.CallToolResult, any, error) {
	if res := s.admit(ToolAssessRisk); res != nil {
		return res, nil, nil
	}
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	assessment, err := s.risk.Assess(ctx, params.Patient)
	if err != nil {
		return s.toolError(ToolAssessRisk, err), nil, nil
	}
	if params.TopFeatures > 0 {
		assessment.Contributions = service.TopContributions(assessment.Contributions, params.TopFeatures)
	}

	text := fmt.Sprintf("Risk %s (p=%.3f, baseline %.3f) from model %s",
		assessment.Tier, assessment.Probability, assessment.Baseline, assessment.ArtifactVersion)
	return s.jsonResult(ToolAssessRisk, text, assessment), assessment, nil
}

// handleCheckInteractions handles the check_interactions tool invocation
func (s *Server) handleCheckInteractions(ctx context.Context, req *mcp.CallToolRequest, params CheckInteractionsParams) (*mcp.CallToolResult, any, error) {
	if res := s.admit(ToolCheckInteractions); res != nil {
		return res, nil, nil
	}
	if len(params.Medications) == 0 {
		return s.toolError(ToolCheckInteractions, fmt.Errorf("medications is required")), nil, nil
	}
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	res, err := s.interactions.Check(ctx, params.Medications)
	if err != nil {
		return s.toolError(ToolCheckInteractions, err), nil, nil
	}

	out := CheckInteractionsResult{Result: res, Summary: map[domain.Severity]int{}}
	for _, f := range res.Findings {
		out.Summary[f.Severity]++
	}

	var text string
	if len(res.Findings) == 0 {
		text = fmt.Sprintf("No known interactions among %d medications", len(res.Resolved))
	} else {
		parts := make([]string, 0, len(res.Findings))
		for _, f := range res.Findings {
			parts = append(parts, fmt.Sprintf("%s + %s (%s)", f.DrugA, f.DrugB, f.Severity))
		}
		text = fmt.Sprintf("%d interactions: %s", len(res.Findings), strings.Join(parts, "; "))
	}
	return s.jsonResult(ToolCheckInteractions, text, out), out, nil
}

// handleModelInfo handles the model_info tool invocation
func (s *Server) handleModelInfo(ctx context.Context, req *mcp.CallToolRequest, params ModelInfoParams) (*mcp.CallToolResult, any, error) {
	if res := s.admit(ToolModelInfo); res != nil {
		return res, nil, nil
	}
	top := params.TopDrugs
	if top <= 0 {
		top = 10
	}

	info := ModelInfoResult{}
	if a := s.risk.Current(); a != nil {
		prov := a.Provenance()
		info.Loaded = true
		info.Version = a.Version()
		info.ModelType = string(a.ModelType())
		info.SchemaVersion = a.Schema().Version()
		info.SchemaFingerprint = a.Schema().Fingerprint()
		info.Features = a.Schema().Names()
		info.Baseline = a.Baseline()
		info.Provenance = &prov
	}
	if s.interactions != nil && s.interactions.Index() != nil {
		stats := s.interactions.Stats(top)
		info.Interactions = &stats
	}

	text := "No model artifact loaded"
	if info.Loaded {
		text = fmt.Sprintf("Model %s (%s) over %d features", info.Version, info.ModelType, len(info.Features))
	}
	return s.jsonResult(ToolModelInfo, text, info), info, nil
}

// admit applies the shared rate limit.
func (s *Server) admit(tool string) *mcp.CallToolResult {
	if s.limiter.Allow() {
		return nil
	}
	metrics.RecordToolCall(tool, "rate_limited")
	s.logger.WithField("tool", tool).Warn("Tool call rejected by rate limit")
	return s.createErrorResult("Rate limit exceeded", nil)
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	metrics.RecordToolCall(tool, "error")
	s.logger.WithError(err).WithField("tool", tool).Warn("Tool call failed")

	var (
		rangeErr  *domain.OutOfRangeError
		schemaErr *domain.SchemaMismatchError
	)
	switch {
	case errors.Is(err, service.ErrNoArtifact):
		return s.createErrorResult("No model artifact is loaded", nil)
	case errors.As(err, &rangeErr):
		return s.createErrorResult("Invalid patient record", err)
	case errors.As(err, &schemaErr):
		return s.createErrorResult("Model and feature schema disagree", err)
	case errors.Is(err, context.DeadlineExceeded):
		return s.createErrorResult("Request timed out", nil)
	default:
		return s.createErrorResult("Tool execution failed", err)
	}
}

// jsonResult renders a one-line summary followed by the JSON payload.
func (s *Server) jsonResult(tool, summary string, payload any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return s.toolError(tool, fmt.Errorf("failed to encode result: %w", err))
	}
	metrics.RecordToolCall(tool, "ok")
	s.logger.WithFields(logrus.Fields{
		"tool":  tool,
		"bytes": len(data),
	}).Debug("Tool call completed")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}
}

