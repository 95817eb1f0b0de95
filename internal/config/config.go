// Package config provides unified configuration loading for docmill.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docmill.
type Config struct {
	Conversion    ConversionConfig    `yaml:"conversion"`
	Batch         BatchConfig         `yaml:"batch"`
	State         StateConfig         `yaml:"state"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ConversionConfig holds conversion backend settings.
type ConversionConfig struct {
	Backend  string `yaml:"backend"`   // fitz, exec or text
	ToolPath string `yaml:"tool_path"` // external converter binary for the exec backend
	MaxPages int    `yaml:"max_pages"` // 0 converts all pages
}

// BatchConfig holds batch run settings.
type BatchConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Delay         time.Duration `yaml:"delay"`
	BackoffFactor float64       `yaml:"backoff_factor"` // 1.0 keeps the delay fixed
	GCInterval    int           `yaml:"gc_interval"`    // files between memory reclamations, 0 disables
	RetryFailed   bool          `yaml:"retry_failed"`   // re-attempt failed entries on resume
	Recursive     bool          `yaml:"recursive"`
	Extensions    []string      `yaml:"extensions"`
}

// StateConfig holds progress ledger settings.
type StateConfig struct {
	Dir string `yaml:"dir"` // directory where progress ledgers are written
}

// CatalogConfig holds run catalog database settings.
type CatalogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ServerConfig holds status API server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Conversion: ConversionConfig{
			Backend:  "fitz",
			MaxPages: 0,
		},
		Batch: BatchConfig{
			MaxAttempts:   3,
			Delay:         time.Second,
			BackoffFactor: 1.0,
			GCInterval:    5,
			RetryFailed:   true,
			Recursive:     false,
			Extensions:    []string{".pdf"},
		},
		State: StateConfig{
			Dir: ".",
		},
		Catalog: CatalogConfig{
			Enabled: false,
			Driver:  "sqlite",
			SQLite: SQLiteConfig{
				Path:         "docmill.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8085,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Conversion.Backend {
	case "fitz", "exec", "text":
	default:
		return fmt.Errorf("invalid conversion backend: %s", c.Conversion.Backend)
	}

	if c.Conversion.Backend == "exec" && c.Conversion.ToolPath == "" {
		return fmt.Errorf("exec backend requires tool_path")
	}

	if c.Conversion.MaxPages < 0 {
		return fmt.Errorf("max_pages must not be negative")
	}

	if c.Batch.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	if c.Batch.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}

	if c.Batch.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be at least 1.0")
	}

	if c.Batch.GCInterval < 0 {
		return fmt.Errorf("gc_interval must not be negative")
	}

	if len(c.Batch.Extensions) == 0 {
		return fmt.Errorf("extensions must not be empty")
	}

	if c.Catalog.Driver != "sqlite" && c.Catalog.Driver != "postgres" {
		return fmt.Errorf("invalid catalog driver: %s", c.Catalog.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// CatalogDSN returns the appropriate catalog connection string.
func (c *Config) CatalogDSN() string {
	if c.Catalog.Driver == "sqlite" {
		return c.Catalog.SQLite.Path
	}
	return c.Catalog.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCMILL_BACKEND"); v != "" {
		cfg.Conversion.Backend = v
	}

	if v := os.Getenv("DOCMILL_TOOL_PATH"); v != "" {
		cfg.Conversion.ToolPath = v
	}

	if v := os.Getenv("DOCMILL_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Catalog.Enabled = true
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Catalog.Driver = "sqlite"
			cfg.Catalog.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Catalog.Driver = "postgres"
			cfg.Catalog.Postgres.DSN = v
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Catalog.Postgres.DSN = v
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
