// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package resilience provides the adaptive rate limiter and circuit
// breaker that guard outbound provider calls, plus a registry that
// hands out one shared instance per service key.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
)

// LimiterConfig holds adaptive rate limiter tuning. InitialRate is also
// the ceiling: recovery after a backoff never exceeds it.
type LimiterConfig struct {
	InitialRate    float64
	FloorRate      float64
	Burst          int
	IncreaseAfter  int
	IncreaseFactor float64
}

// AdaptiveLimiter wraps a token bucket whose refill rate reacts to the
// provider: consecutive successes grow the rate multiplicatively up to
// the ceiling, a rate-limit response halves it (never below the floor)
// and suspends token grants for the server-advertised retry window.
type AdaptiveLimiter struct {
	service string
	cfg     LimiterConfig
	limiter *rate.Limiter

	mu             sync.Mutex
	successStreak  int
	suspendedUntil time.Time
}

// NewAdaptiveLimiter creates a limiter starting at the ceiling rate.
func NewAdaptiveLimiter(service string, cfg LimiterConfig) *AdaptiveLimiter {
	l := &AdaptiveLimiter{
		service: service,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.InitialRate), cfg.Burst),
	}
	metrics.RateLimiterRate.WithLabelValues(service).Set(cfg.InitialRate)
	return l
}

// Acquire blocks until a token is available or ctx is done. A pending
// backoff suspension is honoured before the token wait.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	until := l.suspendedUntil
	l.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	metrics.RateLimiterWaits.WithLabelValues(l.service).Observe(time.Since(start).Seconds())
	return nil
}

// RecordSuccess notes a successful provider call. Once the streak
// reaches the configured length the refill rate is raised by the
// increase factor, capped at the ceiling.
func (l *AdaptiveLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successStreak++
	if l.successStreak < l.cfg.IncreaseAfter {
		return
	}
	l.successStreak = 0

	current := float64(l.limiter.Limit())
	if current >= l.cfg.InitialRate {
		return
	}

	next := current * l.cfg.IncreaseFactor
	if next > l.cfg.InitialRate {
		next = l.cfg.InitialRate
	}

	l.limiter.SetLimit(rate.Limit(next))
	metrics.RateLimiterRate.WithLabelValues(l.service).Set(next)

	logging.Debug().
		Str("service", l.service).
		Float64("rate", next).
		Msg("Rate limiter recovered")
}

// HandleRateLimit reacts to a provider 429: the refill rate is halved
// (floored), the success streak resets, and token grants are suspended
// for retryAfter.
func (l *AdaptiveLimiter) HandleRateLimit(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successStreak = 0

	next := float64(l.limiter.Limit()) / 2
	if next < l.cfg.FloorRate {
		next = l.cfg.FloorRate
	}
	l.limiter.SetLimit(rate.Limit(next))

	if retryAfter > 0 {
		until := time.Now().Add(retryAfter)
		if until.After(l.suspendedUntil) {
			l.suspendedUntil = until
		}
	}

	metrics.RateLimiterRate.WithLabelValues(l.service).Set(next)
	metrics.RateLimiterBackoffs.WithLabelValues(l.service).Inc()

	logging.Warn().
		Str("service", l.service).
		Float64("rate", next).
		Dur("retry_after", retryAfter).
		Msg("Rate limiter backing off")
}

// CurrentRate returns the current refill rate in requests per second.
func (l *AdaptiveLimiter) CurrentRate() float64 {
	return float64(l.limiter.Limit())
}
