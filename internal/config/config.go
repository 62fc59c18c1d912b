// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package config loads and validates engine configuration.
//
// Configuration is layered via koanf: struct defaults, then an optional
// YAML file, then environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the ingestion engine.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Status    StatusConfig    `koanf:"status"`
	Queue     QueueConfig     `koanf:"queue"`
	Spotify   SpotifyConfig   `koanf:"spotify"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Auth      AuthConfig      `koanf:"auth"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Sync      SyncConfig      `koanf:"sync"`
	Import    ImportConfig    `koanf:"import"`
	Server    ServerConfig    `koanf:"server"`
}

// LoggingConfig controls the zerolog facade.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig controls the DuckDB event store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// StatusConfig controls the Badger status/progress store.
type StatusConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// QueueConfig controls the NATS JetStream task transport.
type QueueConfig struct {
	URL           string        `koanf:"url" validate:"required"`
	Stream        string        `koanf:"stream" validate:"required"`
	TaskSubject   string        `koanf:"task_subject" validate:"required"`
	BackfillTopic string        `koanf:"backfill_topic" validate:"required"`
	DurableName   string        `koanf:"durable_name"`
	AckWait       time.Duration `koanf:"ack_wait" validate:"gt=0"`
	MaxDeliver    int           `koanf:"max_deliver" validate:"gt=0"`
	FetchBatch    int           `koanf:"fetch_batch" validate:"gt=0"`
}

// SpotifyConfig controls the provider API client.
type SpotifyConfig struct {
	APIBaseURL      string        `koanf:"api_base_url" validate:"required,url"`
	AccountsBaseURL string        `koanf:"accounts_base_url" validate:"required,url"`
	ClientID        string        `koanf:"client_id" validate:"required"`
	ClientSecret    string        `koanf:"client_secret" validate:"required"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryAttempts   int           `koanf:"retry_attempts" validate:"gt=0"`
	RetryDelay      time.Duration `koanf:"retry_delay" validate:"gt=0"`
}

// RateLimitConfig controls the shared adaptive token bucket.
// InitialRate doubles as the hard ceiling: recovery never exceeds it.
type RateLimitConfig struct {
	InitialRate    float64 `koanf:"initial_rate" validate:"gt=0"`
	FloorRate      float64 `koanf:"floor_rate" validate:"gt=0"`
	Burst          int     `koanf:"burst" validate:"gt=0"`
	IncreaseAfter  int     `koanf:"increase_after" validate:"gt=0"`
	IncreaseFactor float64 `koanf:"increase_factor" validate:"gt=1"`
}

// BreakerConfig controls circuit breakers around provider calls.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gt=0"`
	Window           time.Duration `koanf:"window" validate:"gt=0"`
	ResetTimeout     time.Duration `koanf:"reset_timeout" validate:"gt=0"`
}

// AuthConfig controls the credential provider.
type AuthConfig struct {
	// MaxAuthFailures is the consecutive-failure count after which a
	// credential is marked invalid.
	MaxAuthFailures int `koanf:"max_auth_failures" validate:"gt=0"`
}

// IngestConfig controls idempotent ingestion.
type IngestConfig struct {
	// SkipThresholdMs marks events played for less than this many
	// milliseconds as skips.
	SkipThresholdMs int64 `koanf:"skip_threshold_ms" validate:"gte=0"`
	BatchSize       int   `koanf:"batch_size" validate:"gt=0"`
}

// SyncConfig controls the backward-walking sync engine.
type SyncConfig struct {
	Cooldown time.Duration `koanf:"cooldown" validate:"gte=0"`
	PageSize int           `koanf:"page_size" validate:"gt=0,lte=50"`
	// MaxPages is the dead-man's switch for the backward walk.
	MaxPages    int `koanf:"max_pages" validate:"gt=0"`
	Concurrency int `koanf:"concurrency" validate:"gt=0"`
}

// ImportConfig controls the bulk import pipeline.
type ImportConfig struct {
	BatchSize   int   `koanf:"batch_size" validate:"gt=0"`
	SearchLimit int   `koanf:"search_limit" validate:"gt=0,lte=50"`
	MinPlayedMs int64 `koanf:"min_played_ms" validate:"gte=0"`
	// MaxFallbackBytes caps the whole-file reparse path for malformed
	// inputs; larger files are rejected instead of buffered.
	MaxFallbackBytes int64         `koanf:"max_fallback_bytes" validate:"gt=0"`
	LeaseInterval    time.Duration `koanf:"lease_interval" validate:"gt=0"`
}

// ServerConfig controls the ops HTTP server (health + metrics only).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.RateLimit.FloorRate > c.RateLimit.InitialRate {
		return fmt.Errorf("rate_limit.floor_rate (%v) must not exceed rate_limit.initial_rate (%v)",
			c.RateLimit.FloorRate, c.RateLimit.InitialRate)
	}

	if c.Import.LeaseInterval >= c.Queue.AckWait {
		return fmt.Errorf("import.lease_interval (%v) must be shorter than queue.ack_wait (%v)",
			c.Import.LeaseInterval, c.Queue.AckWait)
	}

	return nil
}
