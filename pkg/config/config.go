package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for dsr-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3550"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine database configuration (PostgreSQL, holds requests/items/audit/catalog)
	Database DatabaseConfig `yaml:"database"`

	// Warehouse configuration (where subject data actually lives)
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// Privacy request processing knobs
	Privacy PrivacyConfig `yaml:"privacy"`
}

// DatabaseConfig holds PostgreSQL database configuration for the engine store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"dsr"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"dsr_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// WarehouseConfig holds the analytical warehouse connection settings.
// Type selects the connector implementation ("postgres" or "mssql").
type WarehouseConfig struct {
	Type     string `yaml:"type" env:"WAREHOUSE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"WAREHOUSE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"WAREHOUSE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"WAREHOUSE_USER" env-default:"dsr_reader"`
	Password string `yaml:"-" env:"WAREHOUSE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"WAREHOUSE_DATABASE" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"WAREHOUSE_SSLMODE" env-default:"disable"`
}

// PrivacyConfig holds tunables for discovery, risk gating and background processing.
type PrivacyConfig struct {
	// ConfidenceThreshold is the minimum table-level relevance score for
	// discovery. It applies to export and delete alike; the delete path
	// additionally drops tables with no rows for the subject.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"PRIVACY_CONFIDENCE_THRESHOLD" env-default:"0.3"`

	// ApprovalRowThreshold forces human approval for deletion plans whose total
	// estimated rows exceed it.
	ApprovalRowThreshold int64 `yaml:"approval_row_threshold" env:"PRIVACY_APPROVAL_ROW_THRESHOLD" env-default:"10000"`

	// MaxConcurrentRequests bounds how many requests are processed in parallel.
	// Items within one request are always sequential.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests" env:"PRIVACY_MAX_CONCURRENT_REQUESTS" env-default:"4"`

	// ReconcileIntervalMinutes is how often the reconciliation sweep re-enqueues
	// requests the process lost track of (e.g. after a crash).
	ReconcileIntervalMinutes int `yaml:"reconcile_interval_minutes" env:"PRIVACY_RECONCILE_INTERVAL_MINUTES" env-default:"5"`

	// StaleProcessingMinutes is how long a request may sit in processing before
	// the sweep treats it as abandoned and fails it.
	StaleProcessingMinutes int `yaml:"stale_processing_minutes" env:"PRIVACY_STALE_PROCESSING_MINUTES" env-default:"120"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// WAREHOUSE_PASSWORD) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom reads configuration from a specific YAML path. Split out from Load
// so tests can point at fixture files.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err != nil {
		// No config file - environment variables and defaults only.
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	} else {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Warehouse.Type {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("unsupported warehouse type: %q", c.Warehouse.Type)
	}
	if c.Privacy.ConfidenceThreshold < 0 || c.Privacy.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.Privacy.ConfidenceThreshold)
	}
	if c.Privacy.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be positive, got %d", c.Privacy.MaxConcurrentRequests)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string for the engine store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ConnectionString returns a connection string for the configured warehouse.
func (c *WarehouseConfig) ConnectionString() string {
	switch c.Type {
	case "mssql":
		return fmt.Sprintf(
			"sqlserver://%s:%s@%s:%d?database=%s",
			c.User, c.Password, c.Host, c.Port, c.Database,
		)
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		)
	}
}
