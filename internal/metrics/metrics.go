// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package metrics provides Prometheus metrics for the ingestion engine.
//
// Metrics are exposed on the ops server at /metrics in Prometheus text
// format. Collectors are registered via promauto on the default registry
// at package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rate Limiter Metrics
	RateLimiterRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rate_limiter_current_rate",
			Help: "Current token refill rate in requests per second",
		},
		[]string{"service"},
	)

	RateLimiterBackoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_backoffs_total",
			Help: "Total number of provider rate-limit responses handled",
		},
		[]string{"service"},
	)

	RateLimiterWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate-limiter token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"service"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests by circuit breaker outcome",
		},
		[]string{"service", "outcome"}, // "success", "failure", "rejected"
	)

	// Provider API Metrics
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of provider API calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Total number of provider API errors by taxonomy class",
		},
		[]string{"operation", "class"},
	)

	// Credential Metrics
	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refreshes_total",
			Help: "Total number of token refresh attempts by outcome",
		},
		[]string{"outcome"}, // "success", "revoked", "transient_error"
	)

	CredentialInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_invalidations_total",
			Help: "Total number of credentials invalidated after repeated auth failures",
		},
	)

	// Sync Operation Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of per-user sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_total",
			Help: "Total number of listening events handled by sync, by ingestion result",
		},
		[]string{"result"}, // "added", "updated", "skipped", "error"
	)

	SyncPages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_pages_per_run",
			Help:    "Number of history pages walked per sync run",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of failed sync runs",
		},
		[]string{"error_type"}, // "credential", "provider", "database"
	)

	// Import Pipeline Metrics
	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_records_total",
			Help: "Total number of import records handled, by ingestion result",
		},
		[]string{"result"}, // "added", "updated", "skipped", "error"
	)

	ImportResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_resolutions_total",
			Help: "Total number of unique-track resolutions by outcome",
		},
		[]string{"outcome"}, // "cache_hit", "matched", "unmatched"
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "import_phase_duration_seconds",
			Help:    "Duration of import pipeline phases",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"phase"}, // "resolution", "materialization"
	)

	// Worker Pool Metrics
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_processed_total",
			Help: "Total number of queue tasks processed by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "ok", "retry", "terminal", "requeued"
	)

	TasksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_tasks_in_flight",
			Help: "Number of tasks currently being processed",
		},
		[]string{"type"},
	)
)
