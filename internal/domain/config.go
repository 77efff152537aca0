package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	MCP         MCPConfig      `mapstructure:"mcp"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Registry    RegistryConfig `mapstructure:"registry"`
}

// ServerConfig represents the health/metrics HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents the explanation cache configuration. An empty
// RedisURL disables the distributed tier.
type CacheConfig struct {
	MaxItems    int           `mapstructure:"max_items"`
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	TransportType  string        `mapstructure:"transport_type"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// RegistryConfig selects where model bundles are stored.
type RegistryConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`   // sqlite file
	URL    string `mapstructure:"url"`    // postgres url
}

// EngineConfig groups the configuration consumed by the core engine.
type EngineConfig struct {
	Features     FeatureConfig     `mapstructure:"features"`
	Training     TrainingConfig    `mapstructure:"training"`
	Attribution  AttributionConfig `mapstructure:"attribution"`
	Interactions InteractionConfig `mapstructure:"interactions"`
}

// FeatureConfig holds bin edges and optional precomputed imputation medians.
// AgeBins are the lower bounds of age categories 1..n; PolypharmacyBins are the
// lower bounds of polypharmacy levels 1..n.
type FeatureConfig struct {
	AgeBins          []float64          `mapstructure:"age_bins"`
	PolypharmacyBins []float64          `mapstructure:"polypharmacy_bins"`
	Medians          map[string]float64 `mapstructure:"medians"`
	ReferenceCohort  string             `mapstructure:"reference_cohort"`
}

// TrainingConfig holds the training protocol parameters.
type TrainingConfig struct {
	Folds             int           `mapstructure:"folds"`
	Seeds             []int64       `mapstructure:"seeds"`
	SplitSeed         int64         `mapstructure:"split_seed"`
	Parallelism       int           `mapstructure:"parallelism"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxFits           int           `mapstructure:"max_fits"`
	ResampleStrategy  string        `mapstructure:"resample_strategy"`
	ResampleRatio     float64       `mapstructure:"resample_ratio"`
	ResampleNeighbors int           `mapstructure:"resample_neighbors"`
	ModelTypes        []string      `mapstructure:"model_types"`
}

// AttributionConfig holds the sampling parameters of the attribution engine.
type AttributionConfig struct {
	Samples int   `mapstructure:"samples"`
	Seed    int64 `mapstructure:"seed"`
}

// InteractionConfig points at the corpus and alias table.
type InteractionConfig struct {
	CorpusPath    string `mapstructure:"corpus_path"`
	AliasPath     string `mapstructure:"alias_path"`
	ExtendedRules bool   `mapstructure:"extended_rules"`
}
