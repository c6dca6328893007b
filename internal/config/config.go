/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config provides configuration management for authtrail.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Environment variables (AUTHTRAIL_* prefix)
2. Configuration file (YAML format)
3. Default values (lowest priority)

CONFIGURATION CATEGORIES:
=========================
- Storage: base_path, format, rotation, sizes, compression, retention, index
- Maintenance: background lifecycle cadence and status snapshots
- Forwarder: optional Kafka forwarding of stored events
- Observability: metrics endpoint, log level and format

EXAMPLE CONFIGURATION FILE:
===========================

	storage:
	  base_path: /var/lib/authtrail
	  format: jsonl
	  rotation: daily
	  retention_days: 365
	maintenance:
	  interval: 1h

ENVIRONMENT VARIABLES:
======================
Example: AUTHTRAIL_BASE_PATH=/var/lib/authtrail AUTHTRAIL_LOG_LEVEL=debug
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "AUTHTRAIL_"

// EnvConfigFile names the configuration file when no explicit path is given.
const EnvConfigFile = EnvPrefix + "CONFIG"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"./authtrail.yaml",
	"/etc/authtrail/authtrail.yaml",
}

// StorageConfig holds the audit storage engine configuration.
type StorageConfig struct {
	BasePath           string `koanf:"base_path" json:"base_path"`                       // Root of the events/indexes/backups tree
	Format             string `koanf:"format" json:"format"`                             // jsonl | json
	Rotation           string `koanf:"rotation" json:"rotation"`                         // hourly | daily | weekly | size
	MaxFileSizeMB      int    `koanf:"max_file_size_mb" json:"max_file_size_mb"`         // Size threshold for rotation
	CompressOldFiles   bool   `koanf:"compress_old_files" json:"compress_old_files"`     // Gzip files past CompressAfterDays
	CompressOnRotation bool   `koanf:"compress_on_rotation" json:"compress_on_rotation"` // Gzip size-rotated files immediately
	CompressAfterDays  int    `koanf:"compress_after_days" json:"compress_after_days"`
	RetentionDays      int    `koanf:"retention_days" json:"retention_days"`
	BackupEnabled      bool   `koanf:"backup_enabled" json:"backup_enabled"` // Monthly tar.gz archives
	IndexEnabled       bool   `koanf:"index_enabled" json:"index_enabled"`   // Monthly index files
	ReplayDays         int    `koanf:"replay_days" json:"replay_days"`       // Risk cache warm-up window
	SummaryMaxEvents   int    `koanf:"summary_max_events" json:"summary_max_events"`
	ReadWorkers        int    `koanf:"read_workers" json:"read_workers"` // Concurrent file readers per query
}

// MaintenanceConfig holds the lifecycle maintainer configuration.
type MaintenanceConfig struct {
	Enabled        bool          `koanf:"enabled" json:"enabled"`
	Interval       time.Duration `koanf:"interval" json:"interval"`
	StatusSnapshot bool          `koanf:"status_snapshot" json:"status_snapshot"`
}

// ForwarderConfig holds Kafka forwarding configuration.
type ForwarderConfig struct {
	Enabled     bool          `koanf:"enabled" json:"enabled"`
	Brokers     []string      `koanf:"brokers" json:"brokers"`
	Topic       string        `koanf:"topic" json:"topic"`
	BufferSize  int           `koanf:"buffer_size" json:"buffer_size"`
	MaxFailures uint32        `koanf:"max_failures" json:"max_failures"` // Consecutive failures before the breaker opens
	OpenTimeout time.Duration `koanf:"open_timeout" json:"open_timeout"` // Time the breaker stays open
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Addr    string `koanf:"addr" json:"addr"`
}

// Config is the complete authtrail configuration.
type Config struct {
	Storage     StorageConfig     `koanf:"storage" json:"storage"`
	Maintenance MaintenanceConfig `koanf:"maintenance" json:"maintenance"`
	Forwarder   ForwarderConfig   `koanf:"forwarder" json:"forwarder"`
	Metrics     MetricsConfig     `koanf:"metrics" json:"metrics"`

	LogLevel string `koanf:"log_level" json:"log_level"`
	LogJSON  bool   `koanf:"log_json" json:"log_json"`

	ConfigFile string `koanf:"-" json:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			BasePath:          "./data/audit",
			Format:            "jsonl",
			Rotation:          "daily",
			MaxFileSizeMB:     100,
			CompressOldFiles:  true,
			CompressAfterDays: 7,
			RetentionDays:     365,
			BackupEnabled:     false,
			IndexEnabled:      true,
			ReplayDays:        7,
			SummaryMaxEvents:  10000,
			ReadWorkers:       4,
		},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			Interval:       time.Hour,
			StatusSnapshot: true,
		},
		Forwarder: ForwarderConfig{
			Enabled:     false,
			Brokers:     []string{"localhost:9092"},
			Topic:       "auth-audit-events",
			BufferSize:  1024,
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
		LogLevel: "info",
		LogJSON:  true,
	}
}

// envKeys maps AUTHTRAIL_* suffixes to configuration paths.
var envKeys = map[string]string{
	"base_path":            "storage.base_path",
	"format":               "storage.format",
	"rotation":             "storage.rotation",
	"max_file_size_mb":     "storage.max_file_size_mb",
	"compress_old_files":   "storage.compress_old_files",
	"compress_on_rotation": "storage.compress_on_rotation",
	"compress_after_days":  "storage.compress_after_days",
	"retention_days":       "storage.retention_days",
	"backup_enabled":       "storage.backup_enabled",
	"index_enabled":        "storage.index_enabled",
	"replay_days":          "storage.replay_days",
	"summary_max_events":   "storage.summary_max_events",
	"read_workers":         "storage.read_workers",

	"maintenance_enabled":  "maintenance.enabled",
	"maintenance_interval": "maintenance.interval",
	"status_snapshot":      "maintenance.status_snapshot",

	"forwarder_enabled":      "forwarder.enabled",
	"forwarder_brokers":      "forwarder.brokers",
	"forwarder_topic":        "forwarder.topic",
	"forwarder_buffer_size":  "forwarder.buffer_size",
	"forwarder_max_failures": "forwarder.max_failures",
	"forwarder_open_timeout": "forwarder.open_timeout",

	"metrics_enabled": "metrics.enabled",
	"metrics_addr":    "metrics.addr",

	"log_level": "log_level",
	"log_json":  "log_json",
}

// sliceKeys are split on commas when they arrive as a single string.
var sliceKeys = []string{"forwarder.brokers"}

func envTransform(key string) string {
	suffix := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envKeys[suffix]
}

// Load builds the configuration from defaults, the YAML file at path (or the
// first of DefaultConfigPaths / AUTHTRAIL_CONFIG found) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceKeys(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.ConfigFile = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func splitSliceKeys(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	s := &c.Storage
	if s.BasePath == "" {
		return fmt.Errorf("storage.base_path is required")
	}
	switch s.Format {
	case "jsonl", "json":
	default:
		return fmt.Errorf("storage.format must be 'jsonl' or 'json', got %q", s.Format)
	}
	switch s.Rotation {
	case "hourly", "daily", "weekly", "size":
	default:
		return fmt.Errorf("storage.rotation must be 'hourly', 'daily', 'weekly' or 'size', got %q", s.Rotation)
	}
	if s.MaxFileSizeMB < 0 {
		return fmt.Errorf("storage.max_file_size_mb must be non-negative")
	}
	if s.RetentionDays <= 0 {
		return fmt.Errorf("storage.retention_days must be positive")
	}
	if s.CompressAfterDays < 0 {
		return fmt.Errorf("storage.compress_after_days must be non-negative")
	}
	if s.ReplayDays < 0 {
		return fmt.Errorf("storage.replay_days must be non-negative")
	}
	if s.SummaryMaxEvents <= 0 {
		return fmt.Errorf("storage.summary_max_events must be positive")
	}
	if s.ReadWorkers <= 0 {
		s.ReadWorkers = 4
	}

	if c.Maintenance.Enabled && c.Maintenance.Interval <= 0 {
		c.Maintenance.Interval = time.Hour
	}

	if c.Forwarder.Enabled {
		if len(c.Forwarder.Brokers) == 0 {
			return fmt.Errorf("forwarder.brokers is required when the forwarder is enabled")
		}
		if c.Forwarder.Topic == "" {
			return fmt.Errorf("forwarder.topic is required when the forwarder is enabled")
		}
		if c.Forwarder.BufferSize <= 0 {
			c.Forwarder.BufferSize = 1024
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}
