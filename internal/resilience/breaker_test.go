// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package resilience

import (
	"errors"
	"testing"
	"time"
)

var (
	errServer = errors.New("server fault")
	errClient = errors.New("client fault")
)

func isServerFault(err error) bool {
	return errors.Is(err, errServer)
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Window:           time.Minute,
		ResetTimeout:     50 * time.Millisecond,
	}
}

func TestBreakerTripsOnServerFaults(t *testing.T) {
	b := NewBreaker("trip", testBreakerConfig(), isServerFault)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errServer }); !errors.Is(err, errServer) {
			t.Fatalf("attempt %d: got %v, want errServer", i, err)
		}
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after threshold, got %v", err)
	}
	if got := b.State(); got != "open" {
		t.Errorf("state = %q, want open", got)
	}
}

func TestBreakerIgnoresClientFaults(t *testing.T) {
	b := NewBreaker("client", testBreakerConfig(), isServerFault)

	for i := 0; i < 20; i++ {
		if err := b.Execute(func() error { return errClient }); !errors.Is(err, errClient) {
			t.Fatalf("attempt %d: got %v, want errClient", i, err)
		}
	}

	if got := b.State(); got != "closed" {
		t.Errorf("state after client faults = %q, want closed", got)
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := NewBreaker("recover", testBreakerConfig(), isServerFault)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errServer })
	}
	time.Sleep(60 * time.Millisecond)

	// Half-open probe succeeds.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != "closed" {
		t.Errorf("state after successful probe = %q, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("reopen", testBreakerConfig(), isServerFault)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errServer })
	}
	time.Sleep(60 * time.Millisecond)

	// Half-open probe fails: a single failure re-opens the circuit.
	if err := b.Execute(func() error { return errServer }); !errors.Is(err, errServer) {
		t.Fatalf("probe: got %v, want errServer", err)
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
}

func TestRegistrySharesInstances(t *testing.T) {
	r := NewRegistry(testLimiterConfig(), testBreakerConfig(), isServerFault)

	if r.Limiter("spotify") != r.Limiter("spotify") {
		t.Error("expected same limiter instance for same key")
	}
	if r.Breaker("spotify") != r.Breaker("spotify") {
		t.Error("expected same breaker instance for same key")
	}
	if r.Limiter("spotify") == r.Limiter("accounts") {
		t.Error("expected distinct limiters for distinct keys")
	}
}
