package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cdss-mcp-server/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. CDSS_ENGINE_TRAINING_FOLDS.
const EnvPrefix = "CDSS"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	file   string
	config *domain.Config
}

// NewManager loads config.yaml from the usual search paths, environment
// variables and defaults.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile is NewManager with an explicit config file. An empty
// path falls back to the search paths.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{file: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cdss-mcp-server/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The config file is optional unless named explicitly.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.file != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Health and metrics server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "cdss")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Explanation cache; Redis is off unless a URL is given
	v.SetDefault("cache.max_items", 1024)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "cdss-mcp-server")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.transport_type", "stdio")
	v.SetDefault("mcp.request_timeout", "30s")
	v.SetDefault("mcp.rate_limit", 20.0)
	v.SetDefault("mcp.rate_burst", 40)

	// Artifact registry
	v.SetDefault("registry.driver", "sqlite")
	v.SetDefault("registry.path", "./data/artifacts.db")
	v.SetDefault("registry.url", "")

	// Engine
	v.SetDefault("engine.features.age_bins", []float64{50, 65, 80})
	v.SetDefault("engine.features.polypharmacy_bins", []float64{4, 7, 10})
	v.SetDefault("engine.features.medians", map[string]float64{})
	v.SetDefault("engine.features.reference_cohort", "")

	v.SetDefault("engine.training.folds", 5)
	v.SetDefault("engine.training.seeds", []int64{11, 23, 47})
	v.SetDefault("engine.training.split_seed", 42)
	v.SetDefault("engine.training.parallelism", 0)
	v.SetDefault("engine.training.timeout", "30m")
	v.SetDefault("engine.training.max_fits", 0)
	v.SetDefault("engine.training.resample_strategy", "none")
	v.SetDefault("engine.training.resample_ratio", 0.0)
	v.SetDefault("engine.training.resample_neighbors", 5)
	v.SetDefault("engine.training.model_types", []string{})

	v.SetDefault("engine.attribution.samples", 32)
	v.SetDefault("engine.attribution.seed", 1)

	v.SetDefault("engine.interactions.corpus_path", "")
	v.SetDefault("engine.interactions.alias_path", "")
	v.SetDefault("engine.interactions.extended_rules", false)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetEngineConfig returns the engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
}

var validResampling = map[string]bool{"": true, "none": true, "oversample": true, "smote": true}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return domain.NewValidationError("server.port", "must be between 1 and 65535", config.Server.Port)
	}

	switch config.Registry.Driver {
	case "sqlite":
		if config.Registry.Path == "" {
			return domain.NewValidationError("registry.path", "required for the sqlite driver", "")
		}
	case "postgres":
		if config.Registry.URL == "" && config.Database.Host == "" {
			return domain.NewValidationError("registry.url", "required for the postgres driver", "")
		}
	default:
		return domain.NewValidationError("registry.driver", "must be sqlite or postgres", config.Registry.Driver)
	}

	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return domain.NewValidationError("logging.level", "unknown log level", config.Logging.Level)
	}

	tr := config.Engine.Training
	if tr.Folds < 2 {
		return domain.NewValidationError("engine.training.folds", "must be at least 2", tr.Folds)
	}
	if len(tr.Seeds) == 0 {
		return domain.NewValidationError("engine.training.seeds", "at least one seed is required", tr.Seeds)
	}
	if !validResampling[strings.ToLower(tr.ResampleStrategy)] {
		return domain.NewValidationError("engine.training.resample_strategy", "must be none, oversample or smote", tr.ResampleStrategy)
	}
	if tr.MaxFits < 0 {
		return domain.NewValidationError("engine.training.max_fits", "must not be negative", tr.MaxFits)
	}
	if config.Engine.Attribution.Samples < 1 {
		return domain.NewValidationError("engine.attribution.samples", "must be at least 1", config.Engine.Attribution.Samples)
	}
	if config.MCP.RateLimit < 0 {
		return domain.NewValidationError("mcp.rate_limit", "must not be negative", config.MCP.RateLimit)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

// NewLogger builds a logrus logger from the logging section.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		logger.SetOutput(os.Stderr)
	}
	return logger
}
