package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/loader"
	"github.com/cdss-mcp-server/internal/registry"
	"github.com/cdss-mcp-server/internal/setup"
)

// workspace writes a config that keeps training small and the registry in dir.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "cdss.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
logging:
  level: error
registry:
  driver: sqlite
  path: `+filepath.Join(dir, "registry", "artifacts.db")+`
engine:
  training:
    folds: 2
    seeds: [5]
    model_types: [logistic_regression]
  attribution:
    samples: 8
`), 0644))
	return dir, cfgPath
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	_, cfg := workspace(t)
	out, err := run(t, "", "--config", cfg, "version")
	require.NoError(t, err)
	assert.Equal(t, "cdss dev\n", out)
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("registry:\n  driver: mysql\n"), 0644))

	_, err := run(t, "", "--config", cfg, "version")
	assert.ErrorContains(t, err, "registry.driver")
}

func TestSynth(t *testing.T) {
	dir, cfg := workspace(t)
	path := filepath.Join(dir, "cohort.csv")

	_, err := run(t, "", "--config", cfg, "synth", "--n", "50", "--seed", "4", "--out", path)
	require.NoError(t, err)

	cohort, err := loader.NewCohortFile(path, nil).LoadCohort(t.Context())
	require.NoError(t, err)
	assert.Len(t, cohort, 50)

	stdout, err := run(t, "", "--config", cfg, "synth", "--n", "50", "--seed", "4")
	require.NoError(t, err)
	fromFile, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(fromFile), stdout, "same seed, same cohort")

	_, err = run(t, "", "--config", cfg, "synth", "--n", "0")
	assert.Error(t, err)
}

func TestTrainAssessRegistry(t *testing.T) {
	dir, cfg := workspace(t)
	cohortPath := filepath.Join(dir, "cohort.csv")
	bundlePath := filepath.Join(dir, "bundle.json")

	_, err := run(t, "", "--config", cfg, "synth", "--n", "400", "--seed", "3", "--out", cohortPath)
	require.NoError(t, err)

	out, err := run(t, "", "--config", cfg, "train", "--cohort", cohortPath, "--version", "v-test", "--out", bundlePath, "--report")
	require.NoError(t, err)
	var summary trainSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "v-test", summary.Version)
	assert.Equal(t, "logistic_regression", summary.ModelType)
	assert.Equal(t, "sqlite", summary.Registry)
	assert.Greater(t, summary.TestAUC, 0.5)
	require.NotNil(t, summary.Report)
	assert.Equal(t, 3, summary.Report.Fits, "two folds, one seed, one candidate, plus the refit")

	patients := filepath.Join(dir, "patients.json")
	require.NoError(t, os.WriteFile(patients, []byte(`[
  {"patient_id": "p1", "age": 84, "medication_count": 12, "heart_disease": true, "creatinine": 2.4},
  {"patient_id": "p2", "age": 31}
]`), 0644))

	out, err = run(t, "", "--config", cfg, "assess", patients, "--top", "3")
	require.NoError(t, err)
	var results []domain.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].PatientID)
	assert.Equal(t, "v-test", results[0].ArtifactVersion)
	assert.Len(t, results[0].Contributions, 3)
	assert.Greater(t, results[0].Probability, results[1].Probability)
	require.NotNil(t, results[0].RuleSummary)

	out, err = run(t, `{"patient_id": "stdin", "age": 70}`, "--config", cfg, "assess", "-", "--bundle", bundlePath)
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "stdin", results[0].PatientID)

	_, err = run(t, `{"age": 140}`, "--config", cfg, "assess", "-")
	assert.ErrorIs(t, err, domain.ErrOutOfRangeInput)

	_, err = run(t, "", "--config", cfg, "assess", patients, "--model-version", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err = run(t, "", "--config", cfg, "registry", "list", "--json")
	require.NoError(t, err)
	var entries []registry.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "v-test", entries[0].Version)

	out, err = run(t, "", "--config", cfg, "registry", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "v-test")

	exportPath := filepath.Join(dir, "export.json")
	_, err = run(t, "", "--config", cfg, "registry", "export", "--out", exportPath)
	require.NoError(t, err)

	out, err = run(t, "", "--config", cfg, "registry", "delete", "v-test")
	require.NoError(t, err)
	assert.Equal(t, "deleted v-test, 0 remaining\n", out)

	_, err = run(t, "", "--config", cfg, "assess", patients)
	assert.ErrorIs(t, err, domain.ErrNotFound, "empty registry")

	out, err = run(t, "", "--config", cfg, "registry", "import", exportPath)
	require.NoError(t, err)
	assert.Equal(t, "imported 1, skipped 0\n", out)

	out, err = run(t, "", "--config", cfg, "registry", "show", "v-test")
	require.NoError(t, err)
	assert.Contains(t, out, `"format_version": 1`)
}

func TestTrain_Errors(t *testing.T) {
	dir, cfg := workspace(t)

	_, err := run(t, "", "--config", cfg, "train")
	assert.ErrorContains(t, err, "cohort is required")

	_, err = run(t, "", "--config", cfg, "train", "--cohort", "x.csv", "--from-db")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = run(t, "", "--config", cfg, "train", "--cohort", filepath.Join(dir, "x.csv"), "--no-registry")
	assert.ErrorContains(t, err, "--out")

	_, err = run(t, "", "--config", cfg, "train", "--cohort", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestInteractions(t *testing.T) {
	_, cfg := workspace(t)

	out, err := run(t, "", "--config", cfg, "interactions", "Coumadin", "aspirin", "unobtainium")
	require.NoError(t, err)
	var res interaction.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.SeverityHigh, res.Findings[0].Severity)
	assert.Len(t, res.Warnings, 1)

	out, err = run(t, "", "--config", cfg, "interactions", "--stats", "--top", "3")
	require.NoError(t, err)
	var stats interaction.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 14, stats.Pairs)
	assert.Len(t, stats.TopDrugs, 3)

	_, err = run(t, "", "--config", cfg, "interactions")
	assert.Error(t, err)
}

func TestSetupCommand(t *testing.T) {
	dir, cfg := workspace(t)
	clientCfg := filepath.Join(dir, "client.json")
	bin := filepath.Join(dir, "cdss")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	out, err := run(t, "", "--config", cfg, "setup", "--type", "full", "--binary", bin, "--client-config", clientCfg)
	require.NoError(t, err)
	assert.Contains(t, out, clientCfg)

	client, err := setup.LoadClientConfig(clientCfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp"}, client.MCPServers[setup.ServerName].Args)

	out, err = run(t, "", "--config", cfg, "setup", "remove", "--client-config", clientCfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")
}
