package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const version = "0.1.0"

// Config is the YAML-backed configuration of the hosting binary.
type Config struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogLevel string `yaml:"log_level"`

	// MetricsAddr, when set, serves the Prometheus exposition endpoint
	// on a side channel; stdio stays dedicated to the wire.
	MetricsAddr string `yaml:"metrics_addr"`

	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig is the tracing section of the config file.
type TracingConfig struct {
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Name:     "mcpd",
		Version:  version,
		LogLevel: "info",
		Tracing:  TracingConfig{Exporter: "none"},
	}
}

// LoadConfig reads the YAML file at path, layering it over the
// defaults. Environment variables override both: MCPD_LOG_LEVEL and
// MCPD_METRICS_ADDR.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("MCPD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCPD_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if cfg.Name == "" {
		cfg.Name = "mcpd"
	}
	if cfg.Version == "" {
		cfg.Version = version
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
	return cfg, nil
}
