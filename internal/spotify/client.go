// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package spotify implements the provider API client: typed calls for
// recent plays, search, entity batches and token refresh, with every
// HTTP outcome classified into a closed error taxonomy.
package spotify

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
)

// maxBatchIDs is the provider's per-request ceiling for batch lookups.
const maxBatchIDs = 50

// Client is the raw provider API client. Callers that need flow
// control wrap it in a GuardedClient.
type Client struct {
	httpClient      *http.Client
	apiBaseURL      string
	accountsBaseURL string
	clientID        string
	clientSecret    string
}

// ClientConfig holds provider endpoints and application credentials.
type ClientConfig struct {
	APIBaseURL      string
	AccountsBaseURL string
	ClientID        string
	ClientSecret    string
	Timeout         time.Duration
}

// NewClient creates a provider API client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		apiBaseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		accountsBaseURL: strings.TrimRight(cfg.AccountsBaseURL, "/"),
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
	}
}

// RefreshToken exchanges a refresh token for a fresh access token. A
// revoked refresh token yields ErrInvalidGrant; the caller must mark
// the stored credential invalid and stop retrying.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsBaseURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("refresh_token", "network").Inc()
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	metrics.ProviderRequestDuration.WithLabelValues("refresh_token").Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		// The accounts service signals revocation with a 400 carrying
		// an "invalid_grant" error code, not a distinct status.
		var tokenErr tokenErrorResponse
		if json.Unmarshal(body, &tokenErr) == nil && tokenErr.Error == "invalid_grant" {
			metrics.ProviderErrors.WithLabelValues("refresh_token", "invalid_grant").Inc()
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, tokenErr.ErrorDescription)
		}

		clsErr := classifyStatus(resp)
		metrics.ProviderErrors.WithLabelValues("refresh_token", errorClass(clsErr)).Inc()
		return nil, clsErr
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &token, nil
}

// ClientCredentialsToken obtains an application-scoped access token.
// It grants catalog endpoints only (search, entity batches), never
// user history.
func (c *Client) ClientCredentialsToken(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsBaseURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("client_credentials", "network").Inc()
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	metrics.ProviderRequestDuration.WithLabelValues("client_credentials").Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		clsErr := classifyStatus(resp)
		metrics.ProviderErrors.WithLabelValues("client_credentials", errorClass(clsErr)).Inc()
		return nil, clsErr
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &token, nil
}

// GetRecentlyPlayed fetches one page of listening history, newest
// first. A non-nil before cursor returns only plays strictly older
// than it.
func (c *Client) GetRecentlyPlayed(ctx context.Context, token string, limit int, before *time.Time) (*RecentlyPlayedPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != nil {
		q.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}

	var page RecentlyPlayedPage
	if err := c.getJSON(ctx, "recently_played", token, "/me/player/recently-played?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchTracks runs a track search and returns the top candidates.
func (c *Client) SearchTracks(ctx context.Context, token, query string, limit int) ([]Track, error) {
	q := url.Values{}
	q.Set("type", "track")
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	var result searchResponse
	if err := c.getJSON(ctx, "search_tracks", token, "/search?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	return result.Tracks.Items, nil
}

// GetTracksBatch fetches full track objects by external id, at most
// maxBatchIDs per call.
func (c *Client) GetTracksBatch(ctx context.Context, token string, ids []string) ([]Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxBatchIDs {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", ErrClientError, len(ids), maxBatchIDs)
	}

	var result tracksBatchResponse
	if err := c.getJSON(ctx, "tracks_batch", token, "/tracks?ids="+url.QueryEscape(strings.Join(ids, ",")), &result); err != nil {
		return nil, err
	}
	return result.Tracks, nil
}

// GetArtistsBatch fetches full artist objects by external id, at most
// maxBatchIDs per call.
func (c *Client) GetArtistsBatch(ctx context.Context, token string, ids []string) ([]Artist, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxBatchIDs {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", ErrClientError, len(ids), maxBatchIDs)
	}

	var result artistsBatchResponse
	if err := c.getJSON(ctx, "artists_batch", token, "/artists?ids="+url.QueryEscape(strings.Join(ids, ",")), &result); err != nil {
		return nil, err
	}
	return result.Artists, nil
}

// getJSON performs an authenticated GET against the API base URL and
// decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, operation, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(operation, "network").Inc()
		return fmt.Errorf("%s request: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.ProviderRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		clsErr := classifyStatus(resp)
		metrics.ProviderErrors.WithLabelValues(operation, errorClass(clsErr)).Inc()
		return clsErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
