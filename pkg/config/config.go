// Copyright 2025 The kafbridge Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the bridge configuration schema. Configuration loads
// from a YAML file; KAFBRIDGE_* environment variables override file values so
// containerized deployments can tune a shared base config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Legacy    LegacyConfig    `yaml:"legacy"`
	Migration MigrationConfig `yaml:"migration"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	Log       LogConfig       `yaml:"log"`
}

type BrokerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Namespace   string `yaml:"namespace"`
}

type FetchConfig struct {
	// MaxReadEntries caps the entry count of one cursor read.
	MaxReadEntries int `yaml:"max_read_entries"`
	// ManagerCacheSize bounds the cached consumer-manager handles.
	ManagerCacheSize int `yaml:"manager_cache_size"`
}

type LegacyConfig struct {
	// SeedBrokers of the legacy Kafka cluster that migrating topics still
	// read from. Empty disables the legacy fallback.
	SeedBrokers []string `yaml:"seed_brokers"`
	PollWaitMs  int      `yaml:"poll_wait_ms"`
}

type MigrationConfig struct {
	// Backend selects where migration metadata lives: "etcd" or "memory".
	Backend string `yaml:"backend"`
}

type EtcdConfig struct {
	Endpoints          []string `yaml:"endpoints"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	DialTimeoutSeconds int      `yaml:"dial_timeout_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads path (optional; empty path starts from defaults), applies
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Broker.ListenAddr = envOrDefault("KAFBRIDGE_LISTEN_ADDR", cfg.Broker.ListenAddr)
	cfg.Broker.MetricsAddr = envOrDefault("KAFBRIDGE_METRICS_ADDR", cfg.Broker.MetricsAddr)
	cfg.Broker.Namespace = envOrDefault("KAFBRIDGE_NAMESPACE", cfg.Broker.Namespace)
	cfg.Fetch.MaxReadEntries = parseEnvInt("KAFBRIDGE_FETCH_MAX_READ_ENTRIES", cfg.Fetch.MaxReadEntries)
	cfg.Fetch.ManagerCacheSize = parseEnvInt("KAFBRIDGE_MANAGER_CACHE_SIZE", cfg.Fetch.ManagerCacheSize)
	if seeds := strings.TrimSpace(os.Getenv("KAFBRIDGE_LEGACY_SEEDS")); seeds != "" {
		cfg.Legacy.SeedBrokers = splitAndTrim(seeds)
	}
	cfg.Legacy.PollWaitMs = parseEnvInt("KAFBRIDGE_LEGACY_POLL_WAIT_MS", cfg.Legacy.PollWaitMs)
	cfg.Migration.Backend = envOrDefault("KAFBRIDGE_MIGRATION_BACKEND", cfg.Migration.Backend)
	if endpoints := strings.TrimSpace(os.Getenv("KAFBRIDGE_ETCD_ENDPOINTS")); endpoints != "" {
		cfg.Etcd.Endpoints = splitAndTrim(endpoints)
	}
	cfg.Etcd.Username = envOrDefault("KAFBRIDGE_ETCD_USERNAME", cfg.Etcd.Username)
	cfg.Etcd.Password = envOrDefault("KAFBRIDGE_ETCD_PASSWORD", cfg.Etcd.Password)
	cfg.Log.Level = envOrDefault("KAFBRIDGE_LOG_LEVEL", cfg.Log.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.Broker.ListenAddr == "" {
		cfg.Broker.ListenAddr = ":19092"
	}
	if cfg.Broker.MetricsAddr == "" {
		cfg.Broker.MetricsAddr = ":19093"
	}
	if cfg.Broker.Namespace == "" {
		cfg.Broker.Namespace = "default"
	}
	if cfg.Fetch.ManagerCacheSize <= 0 {
		cfg.Fetch.ManagerCacheSize = 1024
	}
	if cfg.Legacy.PollWaitMs <= 0 {
		cfg.Legacy.PollWaitMs = 100
	}
	if cfg.Migration.Backend == "" {
		cfg.Migration.Backend = "memory"
	}
	if cfg.Etcd.DialTimeoutSeconds <= 0 {
		cfg.Etcd.DialTimeoutSeconds = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg Config) error {
	switch cfg.Migration.Backend {
	case "memory":
	case "etcd":
		if len(cfg.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd.endpoints is required for migration.backend=etcd")
		}
	default:
		return fmt.Errorf("migration.backend %q is not supported", cfg.Migration.Backend)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
