// Package config holds the central configuration for the pulsar CLI and
// daemon. Values are layered: defaults, then an optional YAML file, then
// PULSAR_* environment overrides, then command-line flags.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileConfig holds file-backend settings.
type FileConfig struct {
	Dir string `yaml:"dir"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// ObservabilityConfig groups metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	// Backend selects the storage adapter: memory, file, redis, postgres.
	Backend string `yaml:"backend"`
	// Mode selects the fault policy: throw or fail.
	Mode string `yaml:"mode"`

	File          FileConfig          `yaml:"file"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: "memory",
		Mode:    "throw",
		File: FileConfig{
			Dir: "/var/cache/pulsar",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			DB:     0,
			Prefix: "pulsar:cache:",
		},
		Postgres: PostgresConfig{
			DSN:   "",
			Table: "cache_entries",
		},
		Daemon: DaemonConfig{
			HTTPAddr:  ":8480",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "pulsar",
			},
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "pulsar",
				SampleRate:  1.0,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PULSAR_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("PULSAR_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("PULSAR_FILE_DIR"); v != "" {
		cfg.File.Dir = v
	}
	if v := os.Getenv("PULSAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PULSAR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PULSAR_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("PULSAR_REDIS_PREFIX"); v != "" {
		cfg.Redis.Prefix = v
	}
	if v := os.Getenv("PULSAR_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("PULSAR_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
}
