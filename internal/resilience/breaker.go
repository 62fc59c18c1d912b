// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// reaching the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	FailureThreshold uint32
	Window           time.Duration
	ResetTimeout     time.Duration
}

// Breaker wraps gobreaker with a failure classifier: only errors the
// classifier flags (server-class faults) count toward tripping, so a
// storm of 4xx responses never opens the circuit.
type Breaker struct {
	service string
	cb      *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a circuit breaker for the given service key.
// isFailure reports whether an error should count toward the trip
// threshold; all other errors pass through without moving the breaker.
func NewBreaker(service string, cfg BreakerConfig, isFailure func(error) bool) *Breaker {
	settings := gobreaker.Settings{
		Name: service,
		// Single probe in half-open: one success closes, one failure
		// re-opens for a full reset timeout.
		MaxRequests: 1,
		Interval:    cfg.Window,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()

			logging.Warn().
				Str("service", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
		},
	}

	metrics.CircuitBreakerState.WithLabelValues(service).Set(stateToFloat(gobreaker.StateClosed))

	return &Breaker{
		service: service,
		cb:      gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Execute runs fn through the breaker. An open circuit yields
// ErrCircuitOpen immediately; otherwise fn's error is returned as-is.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(b.service, "success").Inc()
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(b.service, "rejected").Inc()
		return ErrCircuitOpen
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.service, "failure").Inc()
	return err
}

// State returns the current breaker state as a string for logging.
func (b *Breaker) State() string {
	return stateToString(b.cb.State())
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
