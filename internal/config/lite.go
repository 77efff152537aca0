// Package config provides configuration management for the CDSS servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cdss-mcp-server/internal/domain"
)

// LiteConfig is a simplified configuration for the standalone MCP server.
// It requires no external databases and reads only environment variables.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the artifact registry and exports

	// Engine inputs
	CorpusPath string // Interaction corpus CSV; empty uses the bundled sample
	AliasPath  string // Brand to generic alias YAML

	// Cache settings
	CacheMaxItems int           // Maximum explanations held in memory
	CacheTTL      time.Duration // Redis TTL when a Redis URL is set
	RedisURL      string        // Optional distributed explanation cache

	// Permutation samples per explanation
	AttributionSamples int

	// Request limits
	RateLimit float64 // Tool calls per second
	RateBurst int

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cdss")

	return &LiteConfig{
		DataDir:            dataDir,
		CacheMaxItems:      1024,
		CacheTTL:           time.Hour,
		AttributionSamples: 32,
		RateLimit:          20,
		RateBurst:          40,
		Transport:          "stdio",
		HTTPPort:           8080,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("CDSS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.CorpusPath = os.Getenv("CDSS_CORPUS_PATH")
	cfg.AliasPath = os.Getenv("CDSS_ALIAS_PATH")

	// Cache settings
	if v := os.Getenv("CDSS_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("CDSS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	cfg.RedisURL = os.Getenv("CDSS_REDIS_URL")

	if v := os.Getenv("CDSS_ATTRIBUTION_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AttributionSamples = n
		}
	}

	if v := os.Getenv("CDSS_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimit = f
		}
	}
	if v := os.Getenv("CDSS_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateBurst = n
		}
	}

	// Transport
	if v := os.Getenv("CDSS_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("CDSS_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("CDSS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CDSS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// RegistryDBPath returns the path to the artifact registry SQLite database.
func (c *LiteConfig) RegistryDBPath() string {
	return filepath.Join(c.DataDir, "artifacts.db")
}

// ExportDir returns the directory for JSON bundle exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// CacheConfig maps the lite settings onto the shared cache configuration.
func (c *LiteConfig) CacheConfig() domain.CacheConfig {
	return domain.CacheConfig{
		MaxItems:   c.CacheMaxItems,
		RedisURL:   c.RedisURL,
		DefaultTTL: c.CacheTTL,
	}
}

// MCPConfig maps the lite settings onto the shared MCP configuration.
func (c *LiteConfig) MCPConfig() domain.MCPConfig {
	return domain.MCPConfig{TransportType: c.Transport, RateLimit: c.RateLimit, RateBurst: c.RateBurst}
}

// ServerConfig is the HTTP listener used when the transport is http.
func (c *LiteConfig) ServerConfig() domain.ServerConfig {
	return domain.ServerConfig{
		Port:         c.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// LoggingConfig maps the lite settings onto the shared logging configuration.
// Stdio transports log to stderr so stdout stays reserved for the protocol.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	out := "stderr"
	if c.Transport == "http" {
		out = "stdout"
	}
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: out}
}
