// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package spotify

import (
	"context"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/resilience"
)

// ServiceKey identifies the provider in the resilience registry. All
// API traffic shares one limiter and one breaker under this key.
const ServiceKey = "spotify"

// GuardedClient layers the shared rate limiter, circuit breaker and a
// bounded retry loop over the raw Client. Every caller in the engine
// goes through this type; the raw Client exists for tests and the
// token-refresh path.
type GuardedClient struct {
	client  *Client
	limiter *resilience.AdaptiveLimiter
	breaker *resilience.Breaker

	retryAttempts int
	retryDelay    time.Duration
}

// NewGuardedClient wraps client with the registry's shared limiter and
// breaker for the provider service key.
func NewGuardedClient(client *Client, registry *resilience.Registry, retryAttempts int, retryDelay time.Duration) *GuardedClient {
	return &GuardedClient{
		client:        client,
		limiter:       registry.Limiter(ServiceKey),
		breaker:       registry.Breaker(ServiceKey),
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
	}
}

// call runs fn under the full guard stack: token acquisition, breaker,
// and a local retry loop for provider-unavailable errors. Rate-limit
// responses adjust the limiter and propagate without local retry so
// the caller can reschedule with the advertised delay.
func (g *GuardedClient) call(ctx context.Context, fn func() error) error {
	return resilience.RetryWithBackoff(ctx, g.retryAttempts, g.retryDelay, IsRetryable, func() error {
		if err := g.limiter.Acquire(ctx); err != nil {
			return err
		}

		err := g.breaker.Execute(fn)
		if err == nil {
			g.limiter.RecordSuccess()
			return nil
		}
		if retryAfter, ok := AsRateLimit(err); ok {
			g.limiter.HandleRateLimit(retryAfter)
		}
		return err
	})
}

// GetRecentlyPlayed is the guarded variant of Client.GetRecentlyPlayed.
func (g *GuardedClient) GetRecentlyPlayed(ctx context.Context, token string, limit int, before *time.Time) (*RecentlyPlayedPage, error) {
	var page *RecentlyPlayedPage
	err := g.call(ctx, func() error {
		var callErr error
		page, callErr = g.client.GetRecentlyPlayed(ctx, token, limit, before)
		return callErr
	})
	return page, err
}

// SearchTracks is the guarded variant of Client.SearchTracks.
func (g *GuardedClient) SearchTracks(ctx context.Context, token, query string, limit int) ([]Track, error) {
	var tracks []Track
	err := g.call(ctx, func() error {
		var callErr error
		tracks, callErr = g.client.SearchTracks(ctx, token, query, limit)
		return callErr
	})
	return tracks, err
}

// GetTracksBatch is the guarded variant of Client.GetTracksBatch.
func (g *GuardedClient) GetTracksBatch(ctx context.Context, token string, ids []string) ([]Track, error) {
	var tracks []Track
	err := g.call(ctx, func() error {
		var callErr error
		tracks, callErr = g.client.GetTracksBatch(ctx, token, ids)
		return callErr
	})
	return tracks, err
}

// GetArtistsBatch is the guarded variant of Client.GetArtistsBatch.
func (g *GuardedClient) GetArtistsBatch(ctx context.Context, token string, ids []string) ([]Artist, error) {
	var artists []Artist
	err := g.call(ctx, func() error {
		var callErr error
		artists, callErr = g.client.GetArtistsBatch(ctx, token, ids)
		return callErr
	})
	return artists, err
}

// ClientCredentialsToken is the guarded variant of
// Client.ClientCredentialsToken.
func (g *GuardedClient) ClientCredentialsToken(ctx context.Context) (*TokenResponse, error) {
	var token *TokenResponse
	err := g.call(ctx, func() error {
		var callErr error
		token, callErr = g.client.ClientCredentialsToken(ctx)
		return callErr
	})
	return token, err
}

// RefreshToken is the guarded variant of Client.RefreshToken. Refresh
// traffic shares the same limiter and breaker as API traffic since the
// provider rate-limits them together per application.
func (g *GuardedClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var token *TokenResponse
	err := g.call(ctx, func() error {
		var callErr error
		token, callErr = g.client.RefreshToken(ctx, refreshToken)
		return callErr
	})
	return token, err
}
