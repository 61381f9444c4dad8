// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the labeler service configuration.
//
// # Description
//
// Configuration is read in three layers, later layers winning:
//
//  1. DefaultConfig()
//  2. An optional YAML file
//  3. Environment variables (LABELER_PORT, LABELER_STORAGE_PATH,
//     LABELER_SEARCH_BACKEND, LABELER_LOG_LEVEL, LABELER_TRACE_EXPORTER,
//     WEAVIATE_SERVICE_URL, OTEL_EXPORTER_OTLP_ENDPOINT)
//
// Zero values left after the three layers are filled by applyConfigDefaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Search backends.
const (
	BackendLocal    = "local"
	BackendWeaviate = "weaviate"
)

// Trace exporters.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

const (
	defaultPort        = 12220
	defaultStoragePath = "./data/labeler"
	defaultClassName   = "LabelingRecord"
	defaultServiceName = "labeler"
)

// Config is the full service configuration.
type Config struct {
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig configures the badger database.
type StorageConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// SearchConfig selects and configures the record search engine.
type SearchConfig struct {
	// Backend is "local" (badger records, in-process evaluation) or
	// "weaviate".
	Backend     string `yaml:"backend"`
	WeaviateURL string `yaml:"weaviate_url"`
	ClassName   string `yaml:"class_name"`
	// Concurrency bounds parallel Weaviate count queries per search.
	Concurrency int `yaml:"concurrency"`
}

// TelemetryConfig configures tracing.
//
// An empty Exporter resolves to "otlp" when OTLPEndpoint is set and to
// "none" otherwise.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Port:     defaultPort,
		LogLevel: "info",
		Storage: StorageConfig{
			Path:       defaultStoragePath,
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Search: SearchConfig{
			Backend:     BackendLocal,
			ClassName:   defaultClassName,
			Concurrency: 4,
		},
		Telemetry: TelemetryConfig{
			ServiceName: defaultServiceName,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	cfg = applyEnv(cfg)
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.Port = getEnvInt("LABELER_PORT", cfg.Port)
	cfg.LogLevel = getEnvString("LABELER_LOG_LEVEL", cfg.LogLevel)
	cfg.Storage.Path = getEnvString("LABELER_STORAGE_PATH", cfg.Storage.Path)
	cfg.Search.Backend = getEnvString("LABELER_SEARCH_BACKEND", cfg.Search.Backend)
	cfg.Search.WeaviateURL = getEnvString("WEAVIATE_SERVICE_URL", cfg.Search.WeaviateURL)
	cfg.Telemetry.Exporter = getEnvString("LABELER_TRACE_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	return cfg
}

// applyConfigDefaults fills zero values with defaults.
func applyConfigDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.Storage.Path == "" && !cfg.Storage.InMemory {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Search.Backend == "" {
		cfg.Search.Backend = defaults.Search.Backend
	}
	cfg.Search.Backend = strings.ToLower(cfg.Search.Backend)
	if cfg.Search.ClassName == "" {
		cfg.Search.ClassName = defaults.Search.ClassName
	}
	if cfg.Search.Concurrency <= 0 {
		cfg.Search.Concurrency = defaults.Search.Concurrency
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = ExporterNone
		if cfg.Telemetry.OTLPEndpoint != "" {
			cfg.Telemetry.Exporter = ExporterOTLP
		}
	}
	cfg.Telemetry.Exporter = strings.ToLower(cfg.Telemetry.Exporter)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Search.Backend {
	case BackendLocal:
	case BackendWeaviate:
		if c.Search.WeaviateURL == "" {
			return errors.New("search backend weaviate requires weaviate_url or WEAVIATE_SERVICE_URL")
		}
	default:
		return fmt.Errorf("unknown search backend %q", c.Search.Backend)
	}
	switch c.Telemetry.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.Telemetry.OTLPEndpoint == "" {
			return errors.New("trace exporter otlp requires otlp_endpoint or OTEL_EXPORTER_OTLP_ENDPOINT")
		}
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Telemetry.Exporter)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Ignoring non-integer environment variable", "key", key, "value", value)
	}
	return defaultValue
}
