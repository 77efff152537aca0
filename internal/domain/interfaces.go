package domain

import (
	"context"
)

// CohortSource yields labeled patient records for training. Implementations own
// file or database access; loading completes before training starts.
type CohortSource interface {
	LoadCohort(ctx context.Context) ([]LabeledRecord, error)
}

// CorpusSource yields the pairwise drug-interaction corpus.
type CorpusSource interface {
	LoadInteractions(ctx context.Context) ([]InteractionRecord, error)
}

// ReferenceSource yields unlabeled records used to compute imputation medians.
type ReferenceSource interface {
	LoadReference(ctx context.Context) ([]PatientRecord, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetEngineConfig() *EngineConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
