package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cdss-mcp-server/internal/database"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/fixtures"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	config := database.Config{
		Host:     host,
		Port:     port.Int(),
		Database: "testdb",
		Username: "testuser",
		Password: testPassword,
		MaxConns: 10,
		MinConns: 2,
		SSLMode:  "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	require.NoError(t, err)

	runner, err := database.NewMigrationRunner(config.URL(), logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(ctx))

	cleanup := func() {
		runner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return db, cleanup
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestCohortRepository_RoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	repo := NewCohortRepository(db.Pool, quietLogger())

	cohort := fixtures.Cohort(50, 3, fixtures.DefaultCohortOptions())
	n, err := repo.Insert(ctx, cohort)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	_, err = repo.InsertUnlabeled(ctx, []domain.PatientRecord{{Age: domain.Int(44), BMI: domain.Float(22.5)}})
	require.NoError(t, err)

	loaded, err := repo.LoadCohort(ctx)
	require.NoError(t, err)
	assert.Equal(t, cohort, loaded, "nullable fields survive the round trip")

	ref, err := repo.LoadReference(ctx)
	require.NoError(t, err)
	assert.Len(t, ref, 51)
	assert.Nil(t, ref[50].Smoking)

	labeled, total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), labeled)
	assert.Equal(t, int64(51), total)

	got, err := repo.GetByPatientID(ctx, cohort[7].Record.PatientID)
	require.NoError(t, err)
	assert.Equal(t, cohort[7].Record, *got)

	_, err = repo.GetByPatientID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInteractionRepository_RoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	repo := NewInteractionRepository(db.Pool, quietLogger())

	corpus := fixtures.Corpus()
	n, err := repo.Insert(ctx, corpus, "fixtures")
	require.NoError(t, err)
	assert.Equal(t, int64(len(corpus)), n)

	loaded, err := repo.LoadInteractions(ctx)
	require.NoError(t, err)
	assert.Equal(t, corpus, loaded, "insertion order is preserved")

	deleted, err := repo.DeleteSource(ctx, "fixtures")
	require.NoError(t, err)
	assert.Equal(t, int64(len(corpus)), deleted)
}

var (
	_ domain.CohortSource    = (*CohortRepository)(nil)
	_ domain.ReferenceSource = (*CohortRepository)(nil)
	_ domain.CorpusSource    = (*InteractionRepository)(nil)
)
