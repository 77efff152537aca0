package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-mcp-server/internal/attribution"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/fixtures"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/model"
	"github.com/cdss-mcp-server/internal/service"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testServices(t *testing.T, publish bool) (*service.RiskService, *service.InteractionService) {
	t.Helper()
	logger := quietLogger()
	risk := service.NewRiskService(attribution.NewEngine(attribution.Config{Samples: 4, Seed: 1}), nil, logger)
	ix := interaction.NewIndex(fixtures.Corpus(), interaction.WithAliases(fixtures.Aliases()))
	inter := service.NewInteractionService(ix, logger)
	if !publish {
		return risk, inter
	}

	cohort := fixtures.Cohort(160, 21, fixtures.DefaultCohortOptions())
	b, err := features.NewBuilder(features.DefaultConfig())
	require.NoError(t, err)
	vs, err := b.BuildAll(fixtures.Records(cohort))
	require.NoError(t, err)
	x := make([][]float64, len(vs))
	y := make([]bool, len(vs))
	for i := range vs {
		x[i] = vs[i].Values()
		y[i] = cohort[i].Label
	}
	clf, err := model.Fit(context.Background(), model.TypeLogistic, model.Hyperparameters{L2: 0.01, Iterations: 80}, x, y)
	require.NoError(t, err)
	a, err := model.NewArtifact(model.ArtifactSpec{
		Version:    "test-artifact",
		Schema:     b.Schema(),
		Builder:    b.Config(),
		Classifier: clf,
		Background: x[:30],
	})
	require.NoError(t, err)
	require.NoError(t, risk.Publish(a))
	return risk, inter
}

func newTestServer(t *testing.T, cfg domain.MCPConfig, publish bool) *Server {
	t.Helper()
	risk, inter := testServices(t, publish)
	return NewServer(cfg, risk, inter, quietLogger())
}

func textOf(t *testing.T, res *mcp.CallToolResult, i int) string {
	t.Helper()
	require.Greater(t, len(res.Content), i)
	tc, ok := res.Content[i].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{}, false)
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, s.limiter)
}

func TestAssessRisk(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{RequestTimeout: 5 * time.Second}, true)

	params := AssessRiskParams{Patient: domain.PatientRecord{
		PatientID:       "P-7",
		Age:             domain.Int(78),
		MedicationCount: domain.Int(11),
		Diabetes:        domain.Bool(true),
		KidneyDisease:   domain.Bool(true),
	}}
	res, out, err := s.handleAssessRisk(context.Background(), &mcp.CallToolRequest{}, params)
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res, 0))

	assessment, ok := out.(*domain.RiskAssessment)
	require.True(t, ok)
	assert.Equal(t, "P-7", assessment.PatientID)
	assert.Equal(t, "test-artifact", assessment.ArtifactVersion)
	assert.Equal(t, domain.TierFor(assessment.Probability), assessment.Tier)
	require.NotNil(t, assessment.RuleSummary)

	var decoded domain.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res, 1)), &decoded))
	assert.Equal(t, assessment.Probability, decoded.Probability)
	assert.Contains(t, textOf(t, res, 0), string(assessment.Tier))
}

func TestAssessRisk_TopFeatures(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{}, true)

	params := AssessRiskParams{Patient: domain.PatientRecord{Age: domain.Int(55)}, TopFeatures: 3}
	_, out, err := s.handleAssessRisk(context.Background(), &mcp.CallToolRequest{}, params)
	require.NoError(t, err)

	cs := out.(*domain.RiskAssessment).Contributions
	require.Len(t, cs, 3)
	for i := 1; i < len(cs); i++ {
		assert.GreaterOrEqual(t, abs(cs[i-1].Contribution), abs(cs[i].Contribution))
	}
}

func TestAssessRisk_Errors(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{}, false)
	res, out, err := s.handleAssessRisk(context.Background(), &mcp.CallToolRequest{}, AssessRiskParams{})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res, 0), "No model artifact")

	s = newTestServer(t, domain.MCPConfig{}, true)
	res, _, err = s.handleAssessRisk(context.Background(), &mcp.CallToolRequest{},
		AssessRiskParams{Patient: domain.PatientRecord{Age: domain.Int(140)}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res, 0), "Invalid patient record")
}

func TestCheckInteractions(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{}, false)

	res, out, err := s.handleCheckInteractions(context.Background(), &mcp.CallToolRequest{},
		CheckInteractionsParams{Medications: []string{"Coumadin", "advil", "aspirin", "unobtainium"}})
	require.NoError(t, err)
	require.False(t, res.IsError)

	result := out.(CheckInteractionsResult)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, 2, result.Summary[domain.SeverityHigh])
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, textOf(t, res, 0), "2 interactions")

	res, _, err = s.handleCheckInteractions(context.Background(), &mcp.CallToolRequest{}, CheckInteractionsParams{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestModelInfo(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{}, false)
	_, out, err := s.handleModelInfo(context.Background(), &mcp.CallToolRequest{}, ModelInfoParams{})
	require.NoError(t, err)
	info := out.(ModelInfoResult)
	assert.False(t, info.Loaded)
	require.NotNil(t, info.Interactions)
	assert.Equal(t, 14, info.Interactions.Pairs)

	s = newTestServer(t, domain.MCPConfig{}, true)
	_, out, err = s.handleModelInfo(context.Background(), &mcp.CallToolRequest{}, ModelInfoParams{TopDrugs: 2})
	require.NoError(t, err)
	info = out.(ModelInfoResult)
	assert.True(t, info.Loaded)
	assert.Equal(t, "test-artifact", info.Version)
	assert.Equal(t, "logistic_regression", info.ModelType)
	assert.NotEmpty(t, info.Features)
	assert.Len(t, info.Interactions.TopDrugs, 2)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, domain.MCPConfig{RateLimit: 0.001, RateBurst: 2}, false)

	for i := 0; i < 2; i++ {
		res, _, err := s.handleModelInfo(context.Background(), &mcp.CallToolRequest{}, ModelInfoParams{})
		require.NoError(t, err)
		assert.False(t, res.IsError)
	}
	res, _, err := s.handleModelInfo(context.Background(), &mcp.CallToolRequest{}, ModelInfoParams{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res, 0), "Rate limit")
}


func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
