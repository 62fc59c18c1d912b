// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package resilience

import "sync"

// Registry hands out at most one limiter and one breaker per service
// key, so every client of the same upstream shares backoff state. The
// registry is owned by the composition root and passed down explicitly.
type Registry struct {
	limiterCfg LimiterConfig
	breakerCfg BreakerConfig
	isFailure  func(error) bool

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. isFailure classifies which errors
// count toward tripping breakers created by this registry.
func NewRegistry(limiterCfg LimiterConfig, breakerCfg BreakerConfig, isFailure func(error) bool) *Registry {
	return &Registry{
		limiterCfg: limiterCfg,
		breakerCfg: breakerCfg,
		isFailure:  isFailure,
		limiters:   make(map[string]*AdaptiveLimiter),
		breakers:   make(map[string]*Breaker),
	}
}

// Limiter returns the shared limiter for service, creating it on first use.
func (r *Registry) Limiter(service string) *AdaptiveLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[service]
	if !ok {
		l = NewAdaptiveLimiter(service, r.limiterCfg)
		r.limiters[service] = l
	}
	return l
}

// Breaker returns the shared breaker for service, creating it on first use.
func (r *Registry) Breaker(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[service]
	if !ok {
		b = NewBreaker(service, r.breakerCfg, r.isFailure)
		r.breakers[service] = b
	}
	return b
}
