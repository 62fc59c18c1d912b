// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

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

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/listening-engine/config.yaml",
	"/etc/listening-engine/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:      "/data/listening.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Status: StatusConfig{
			Path: "/data/status",
		},
		Queue: QueueConfig{
			URL:           "nats://127.0.0.1:4222",
			Stream:        "INGEST_TASKS",
			TaskSubject:   "ingest.tasks",
			BackfillTopic: "ingest.backfill.artist",
			DurableName:   "ingest-worker",
			AckWait:       2 * time.Minute,
			MaxDeliver:    5,
			FetchBatch:    8,
		},
		Spotify: SpotifyConfig{
			APIBaseURL:      "https://api.spotify.com/v1",
			AccountsBaseURL: "https://accounts.spotify.com",
			ClientID:        "",
			ClientSecret:    "",
			Timeout:         30 * time.Second,
			RetryAttempts:   3,
			RetryDelay:      time.Second,
		},
		RateLimit: RateLimitConfig{
			InitialRate:    10,
			FloorRate:      1,
			Burst:          10,
			IncreaseAfter:  20,
			IncreaseFactor: 1.5,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           time.Minute,
			ResetTimeout:     2 * time.Minute,
		},
		Auth: AuthConfig{
			MaxAuthFailures: 3,
		},
		Ingest: IngestConfig{
			SkipThresholdMs: 30_000,
			BatchSize:       500,
		},
		Sync: SyncConfig{
			Cooldown:    10 * time.Minute,
			PageSize:    50,
			MaxPages:    50,
			Concurrency: 4,
		},
		Import: ImportConfig{
			BatchSize:        500,
			SearchLimit:      5,
			MinPlayedMs:      30_000,
			MaxFallbackBytes: 64 << 20, // 64 MiB
			LeaseInterval:    30 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8090,
			Timeout: 30 * time.Second,
		},
	}
}

// Load loads configuration using koanf with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if found)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment noise never leaks
// into configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Status store
		"status_store_path": "status.path",

		// Queue
		"nats_url":             "queue.url",
		"queue_stream":         "queue.stream",
		"queue_task_subject":   "queue.task_subject",
		"queue_backfill_topic": "queue.backfill_topic",
		"queue_durable_name":   "queue.durable_name",
		"queue_ack_wait":       "queue.ack_wait",
		"queue_max_deliver":    "queue.max_deliver",
		"queue_fetch_batch":    "queue.fetch_batch",

		// Spotify
		"spotify_api_base_url":      "spotify.api_base_url",
		"spotify_accounts_base_url": "spotify.accounts_base_url",
		"spotify_client_id":         "spotify.client_id",
		"spotify_client_secret":     "spotify.client_secret",
		"spotify_timeout":           "spotify.timeout",
		"spotify_retry_attempts":    "spotify.retry_attempts",
		"spotify_retry_delay":       "spotify.retry_delay",

		// Rate limiter
		"rate_limit_initial":         "rate_limit.initial_rate",
		"rate_limit_floor":           "rate_limit.floor_rate",
		"rate_limit_burst":           "rate_limit.burst",
		"rate_limit_increase_after":  "rate_limit.increase_after",
		"rate_limit_increase_factor": "rate_limit.increase_factor",

		// Circuit breaker
		"breaker_failure_threshold": "breaker.failure_threshold",
		"breaker_window":            "breaker.window",
		"breaker_reset_timeout":     "breaker.reset_timeout",

		// Auth
		"auth_max_failures": "auth.max_auth_failures",

		// Ingest
		"ingest_skip_threshold_ms": "ingest.skip_threshold_ms",
		"ingest_batch_size":        "ingest.batch_size",

		// Sync
		"sync_cooldown":    "sync.cooldown",
		"sync_page_size":   "sync.page_size",
		"sync_max_pages":   "sync.max_pages",
		"sync_concurrency": "sync.concurrency",

		// Import
		"import_batch_size":         "import.batch_size",
		"import_search_limit":       "import.search_limit",
		"import_min_played_ms":      "import.min_played_ms",
		"import_max_fallback_bytes": "import.max_fallback_bytes",
		"import_lease_interval":     "import.lease_interval",

		// Ops server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
