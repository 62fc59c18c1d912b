// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package auth provides valid bearer tokens for users, refreshing on
// every request and tracking consecutive auth failures until a
// credential is invalidated.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// ErrNoCredential is the terminal "no usable credential" signal: the
// user never connected an account, disconnected it, or the refresh
// token was revoked. Not retryable until the user re-authenticates.
var ErrNoCredential = errors.New("auth: no valid credential")

// CredentialStore is the persistence surface the provider needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*database.Credential, error)
	SaveRefreshToken(ctx context.Context, userID, refreshToken string) error
	MarkCredentialInvalid(ctx context.Context, userID string) error
	IncrementAuthFailures(ctx context.Context, userID string) (int, error)
	ResetAuthFailures(ctx context.Context, userID string) error
}

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
}

// Provider issues valid access tokens. Access tokens are never cached:
// every GetValidToken call performs a refresh, so a returned token is
// always freshly minted.
type Provider struct {
	store       CredentialStore
	refresher   TokenRefresher
	maxFailures int
}

// NewProvider creates a credential provider.
func NewProvider(store CredentialStore, refresher TokenRefresher, maxFailures int) *Provider {
	return &Provider{
		store:       store,
		refresher:   refresher,
		maxFailures: maxFailures,
	}
}

// GetValidToken returns a fresh access token for the user, persisting
// any rotated refresh token. A revoked refresh token marks the stored
// credential invalid and yields ErrNoCredential; transient refresh
// failures propagate for the caller's retry policy.
func (p *Provider) GetValidToken(ctx context.Context, userID string) (string, error) {
	cred, err := p.store.GetCredential(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || cred.Invalid || cred.RefreshToken == "" {
		return "", ErrNoCredential
	}

	token, err := p.refresher.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, spotify.ErrInvalidGrant) {
			metrics.CredentialRefreshes.WithLabelValues("revoked").Inc()
			logging.Warn().Str("user_id", userID).Msg("Refresh token revoked, invalidating credential")

			if markErr := p.store.MarkCredentialInvalid(ctx, userID); markErr != nil {
				return "", fmt.Errorf("mark credential invalid: %w", markErr)
			}
			return "", fmt.Errorf("%w: refresh token revoked", ErrNoCredential)
		}

		metrics.CredentialRefreshes.WithLabelValues("transient_error").Inc()
		return "", fmt.Errorf("refresh token: %w", err)
	}

	// The provider may rotate the refresh token on use; the rotated
	// value must be persisted or the next refresh fails.
	if token.RefreshToken != "" && token.RefreshToken != cred.RefreshToken {
		if err := p.store.SaveRefreshToken(ctx, userID, token.RefreshToken); err != nil {
			return "", fmt.Errorf("persist rotated refresh token: %w", err)
		}
	}

	if err := p.store.ResetAuthFailures(ctx, userID); err != nil {
		return "", fmt.Errorf("reset auth failures: %w", err)
	}

	metrics.CredentialRefreshes.WithLabelValues("success").Inc()
	return token.AccessToken, nil
}

// RecordAuthFailure increments the user's consecutive-failure counter.
// Crossing the threshold marks the credential invalid and returns
// invalidated=true so the caller stops retrying this user.
func (p *Provider) RecordAuthFailure(ctx context.Context, userID, reason string) (invalidated bool, err error) {
	failures, err := p.store.IncrementAuthFailures(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("increment auth failures: %w", err)
	}

	logging.Warn().
		Str("user_id", userID).
		Str("reason", reason).
		Int("failures", failures).
		Msg("Authentication failure recorded")

	if failures < p.maxFailures {
		return false, nil
	}

	if err := p.store.MarkCredentialInvalid(ctx, userID); err != nil {
		return false, fmt.Errorf("mark credential invalid: %w", err)
	}
	metrics.CredentialInvalidations.Inc()
	logging.Error().
		Str("user_id", userID).
		Int("failures", failures).
		Msg("Credential invalidated after repeated auth failures")
	return true, nil
}

// ResetAuthFailures clears the counter after a fully successful
// provider exchange.
func (p *Provider) ResetAuthFailures(ctx context.Context, userID string) error {
	return p.store.ResetAuthFailures(ctx, userID)
}
