// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Schemas    SchemasConfig    `yaml:"schemas"`
	AutoNumber AutoNumberConfig `yaml:"autonumber"`
	IDs        IDsConfig        `yaml:"ids"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// DatabaseConfig configures the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`    // file path or ":memory:"
}

// SchemasConfig locates the entity schema files.
type SchemasConfig struct {
	Dir string `yaml:"dir"`
}

// AutoNumberConfig selects the auto-number provider.
type AutoNumberConfig struct {
	Provider string `yaml:"provider"` // "sqlite" or "memory"
}

// IDsConfig selects the record id generator.
type IDsConfig struct {
	Generator string `yaml:"generator"` // "uuid" or "sequential"
	Prefix    string `yaml:"prefix,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// SecurityConfig configures secret attribute hashing.
type SecurityConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded and ENTITYSDK_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration from environment variables only.
//
// Environment variables:
//
//	ENTITYSDK_DATABASE_DSN       - Database path (default: entitysdk.db)
//	ENTITYSDK_SCHEMAS_DIR        - Schema directory (default: schemas)
//	ENTITYSDK_AUTONUMBER         - Auto-number provider: sqlite or memory
//	ENTITYSDK_SERVER_HOST        - Admin server host (default: 127.0.0.1)
//	ENTITYSDK_SERVER_PORT        - Admin server port (default: 9090)
//	ENTITYSDK_LOG_LEVEL          - Log level (default: info)
//	ENTITYSDK_LOG_FORMAT         - Log format: json or console (default: json)
//	ENTITYSDK_METRICS_ENABLED    - Enable the metrics endpoint
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies ENTITYSDK_* environment variables.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("ENTITYSDK_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ENTITYSDK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database configuration
	if v := os.Getenv("ENTITYSDK_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ENTITYSDK_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("ENTITYSDK_SCHEMAS_DIR"); v != "" {
		cfg.Schemas.Dir = v
	}
	if v := os.Getenv("ENTITYSDK_AUTONUMBER"); v != "" {
		cfg.AutoNumber.Provider = v
	}
	if v := os.Getenv("ENTITYSDK_IDS"); v != "" {
		cfg.IDs.Generator = v
	}

	// Logging configuration
	if v := os.Getenv("ENTITYSDK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ENTITYSDK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("ENTITYSDK_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ENTITYSDK_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	if v := os.Getenv("ENTITYSDK_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.BcryptCost = n
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "entitysdk.db"
	}

	if cfg.Schemas.Dir == "" {
		cfg.Schemas.Dir = "schemas"
	}
	if cfg.AutoNumber.Provider == "" {
		cfg.AutoNumber.Provider = "sqlite"
	}
	if cfg.IDs.Generator == "" {
		cfg.IDs.Generator = "uuid"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	validProviders := map[string]bool{"sqlite": true, "memory": true}
	if !validProviders[cfg.AutoNumber.Provider] {
		return fmt.Errorf("autonumber.provider must be 'sqlite' or 'memory', got %q", cfg.AutoNumber.Provider)
	}

	validGenerators := map[string]bool{"uuid": true, "sequential": true}
	if !validGenerators[cfg.IDs.Generator] {
		return fmt.Errorf("ids.generator must be 'uuid' or 'sequential', got %q", cfg.IDs.Generator)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	if cfg.Security.BcryptCost < 0 {
		return fmt.Errorf("security.bcrypt_cost must not be negative")
	}

	return nil
}
