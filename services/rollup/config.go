// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollup

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,gt=0,lte=65535"`

	// ShutdownTimeoutSeconds bounds graceful shutdown.
	ShutdownTimeoutSeconds int `yaml:"shutdownTimeoutSeconds" validate:"gt=0"`
}

// StorageConfig configures the shared BadgerDB instance.
type StorageConfig struct {
	// Path is the database directory. Ignored when InMemory.
	Path string `yaml:"path"`

	// InMemory runs without disk persistence. For development only.
	InMemory bool `yaml:"inMemory"`

	SyncWrites bool `yaml:"syncWrites"`

	// GCIntervalSeconds is the value log GC period. Zero disables GC.
	GCIntervalSeconds int `yaml:"gcIntervalSeconds" validate:"gte=0"`
}

// CacheConfig configures the result cache TTLs.
type CacheConfig struct {
	DownstreamTTLSeconds int `yaml:"downstreamTtlSeconds" validate:"gte=0"`
	UpstreamTTLSeconds   int `yaml:"upstreamTtlSeconds" validate:"gte=0"`
	CyclesTTLSeconds     int `yaml:"cyclesTtlSeconds" validate:"gte=0"`
	ImpactTTLSeconds     int `yaml:"impactTtlSeconds" validate:"gte=0"`
	WarmupConcurrency    int `yaml:"warmupConcurrency" validate:"gte=0"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is "json" or "text".
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DefaultConfig returns production defaults: localhost:8086, persistent
// storage under ./data/rollup, JSON logs at info, metrics on /metrics.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8086,
			ShutdownTimeoutSeconds: 15,
		},
		Storage: StorageConfig{
			Path:              "data/rollup",
			SyncWrites:        true,
			GCIntervalSeconds: 300,
		},
		Cache: CacheConfig{
			DownstreamTTLSeconds: 1800,
			UpstreamTTLSeconds:   1800,
			CyclesTTLSeconds:     3600,
			ImpactTTLSeconds:     1800,
			WarmupConcurrency:    4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless storage.inMemory", ErrInvalidRequest)
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("%w: metrics.path is required when metrics are enabled", ErrInvalidRequest)
	}
	return nil
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// TTLs returns the cache TTLs as durations.
func (c *CacheConfig) TTLs() (downstream, upstream, cycles, impact time.Duration) {
	return time.Duration(c.DownstreamTTLSeconds) * time.Second,
		time.Duration(c.UpstreamTTLSeconds) * time.Second,
		time.Duration(c.CyclesTTLSeconds) * time.Second,
		time.Duration(c.ImpactTTLSeconds) * time.Second
}

// GCInterval returns the Badger GC period.
func (c *StorageConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}
