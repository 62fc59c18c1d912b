// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package resilience

import (
	"context"
	"time"
)

// RetryWithBackoff runs fn up to attempts times, doubling the delay
// between tries. retryable decides whether an error is worth another
// attempt; a non-retryable error is returned immediately. The context
// is honoured between attempts.
func RetryWithBackoff(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}
