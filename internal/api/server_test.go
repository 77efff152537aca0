package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cdss-mcp-server/internal/attribution"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/fixtures"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/model"
	"github.com/cdss-mcp-server/internal/service"
)

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testDeps(t *testing.T, publish bool) Deps {
	t.Helper()
	logger := quietLogger()
	deps := Deps{
		Risk: service.NewRiskService(attribution.NewEngine(attribution.Config{Samples: 4, Seed: 1}), nil, logger),
		Interactions: service.NewInteractionService(
			interaction.NewIndex(fixtures.Corpus(), interaction.WithAliases(fixtures.Aliases())), logger),
	}
	if !publish {
		return deps
	}

	cohort := fixtures.Cohort(160, 8, fixtures.DefaultCohortOptions())
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
		Version:    "api-artifact",
		Schema:     b.Schema(),
		Builder:    b.Config(),
		Classifier: clf,
		Background: x[:30],
	})
	require.NoError(t, err)
	require.NoError(t, deps.Risk.Publish(a))
	return deps
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, Deps{}, quietLogger())
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestReady(t *testing.T) {
	db := &mockPinger{}
	db.On("Health", mock.Anything).Return(nil)

	deps := testDeps(t, false)
	deps.Database = db
	s := NewServer(domain.ServerConfig{}, deps, quietLogger())

	w := do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"artifact":"not loaded"`)

	deps = testDeps(t, true)
	deps.Database = db
	s = NewServer(domain.ServerConfig{}, deps, quietLogger())
	w = do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"artifact":"api-artifact"`)
	db.AssertExpectations(t)
}

func TestReady_DatabaseDown(t *testing.T) {
	db := &mockPinger{}
	db.On("Health", mock.Anything).Return(errors.New("connection refused"))

	deps := testDeps(t, true)
	deps.Database = db
	s := NewServer(domain.ServerConfig{}, deps, quietLogger())

	w := do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	db.AssertNumberOfCalls(t, "Health", 1)
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, Deps{}, quietLogger())
	w := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAssess(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, testDeps(t, true), quietLogger())

	w := do(t, s, http.MethodPost, "/api/v1/assess", domain.PatientRecord{PatientID: "H-1", Age: domain.Int(70)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got domain.RiskAssessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "H-1", got.PatientID)
	assert.Equal(t, "api-artifact", got.ArtifactVersion)

	w = do(t, s, http.MethodPost, "/api/v1/assess", domain.PatientRecord{Age: domain.Int(17)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/assess", "not a record")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssess_NoArtifact(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, testDeps(t, false), quietLogger())
	w := do(t, s, http.MethodPost, "/api/v1/assess", domain.PatientRecord{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/model", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssessBatch(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, testDeps(t, true), quietLogger())

	body := map[string]any{"patients": []domain.PatientRecord{
		{PatientID: "a", Age: domain.Int(40)},
		{PatientID: "b", Age: domain.Int(85)},
	}}
	w := do(t, s, http.MethodPost, "/api/v1/assess/batch", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		Assessments []domain.RiskAssessment `json:"assessments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Assessments, 2)
	assert.Equal(t, "b", got.Assessments[1].PatientID)
}

func TestInteractions(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, testDeps(t, false), quietLogger())

	w := do(t, s, http.MethodPost, "/api/v1/interactions", map[string]any{"medications": []string{"viagra", "nitroglycerin"}})
	require.Equal(t, http.StatusOK, w.Code)
	var res interaction.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.SeverityHigh, res.Findings[0].Severity)

	w = do(t, s, http.MethodPost, "/api/v1/interactions", map[string]any{"medications": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/interactions/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pairs":14`)
}

func TestModel(t *testing.T) {
	s := NewServer(domain.ServerConfig{}, testDeps(t, true), quietLogger())
	w := do(t, s, http.MethodGet, "/api/v1/model", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"api-artifact"`)
	assert.Contains(t, w.Body.String(), `"model_type":"logistic_regression"`)
}
