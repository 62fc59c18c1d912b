// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Closed error taxonomy for provider calls. Every HTTP outcome maps to
// exactly one of these classes; callers branch on the class, never on
// raw status codes.
var (
	// ErrUnauthenticated covers 401: the token is invalid or expired.
	// Revocable — repeated occurrences invalidate the credential.
	ErrUnauthenticated = errors.New("spotify: unauthenticated")

	// ErrForbidden covers 403: insufficient scope. Non-retryable.
	ErrForbidden = errors.New("spotify: forbidden")

	// ErrProviderUnavailable covers 5xx and transport failures.
	// Retryable with backoff; counts toward the circuit breaker.
	ErrProviderUnavailable = errors.New("spotify: provider unavailable")

	// ErrClientError covers remaining 4xx. Non-retryable; never trips
	// the circuit breaker.
	ErrClientError = errors.New("spotify: client error")

	// ErrInvalidGrant is the revocation-class refresh failure: the
	// refresh token itself has been revoked by the user or provider.
	ErrInvalidGrant = errors.New("spotify: refresh token revoked")
)

// RateLimitError covers 429 and carries the provider's mandatory
// cool-down. Never retried immediately; the caller reschedules.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("spotify: rate limited, retry after %s", e.RetryAfter)
}

// classifyStatus maps a non-2xx response to the error taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrClientError, resp.StatusCode)
	}
}

// parseRetryAfter reads a Retry-After header in seconds. A missing or
// malformed header falls back to one second so callers always get a
// positive cool-down.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 1 {
		return time.Second
	}
	return time.Duration(seconds) * time.Second
}

// IsAuthError reports whether err is an authentication-class failure
// that should count against the credential's failure counter.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrForbidden)
}

// IsRetryable reports whether err is worth a local retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// AsRateLimit extracts the rate-limit cool-down from err, if any.
func AsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// CountsAsBreakerFailure is the circuit breaker's failure classifier:
// server-class errors and transport failures count, client-class errors
// and cancellation never do.
func CountsAsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return true
	}
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrClientError) || errors.Is(err, ErrInvalidGrant) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Anything else is a transport-level failure.
	return true
}

// errorClass labels err for metrics.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrClientError):
		return "client_error"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant"
	default:
		if _, ok := AsRateLimit(err); ok {
			return "rate_limited"
		}
		return "network"
	}
}
