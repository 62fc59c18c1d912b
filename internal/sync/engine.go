// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package sync pulls a user's new plays from the provider by walking
// the recently-played history backward until it reconnects with
// previously-ingested data.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/auth"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/ingest"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// HistoryClient is the provider surface the engine walks.
type HistoryClient interface {
	GetRecentlyPlayed(ctx context.Context, token string, limit int, before *time.Time) (*spotify.RecentlyPlayedPage, error)
}

// TokenSource yields valid tokens and tracks auth failures.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
	RecordAuthFailure(ctx context.Context, userID, reason string) (invalidated bool, err error)
	ResetAuthFailures(ctx context.Context, userID string) error
}

// Ingestor writes normalized events under the precedence rules.
type Ingestor interface {
	InsertBatch(ctx context.Context, events []ingest.Event) (ingest.Summary, error)
}

// CursorStore persists the per-user high-water mark.
type CursorStore interface {
	GetSyncCursor(ctx context.Context, userID string) (time.Time, bool, error)
	AdvanceSyncCursor(ctx context.Context, userID string, mark time.Time) error
}

// Config holds sync tuning.
type Config struct {
	Cooldown time.Duration
	PageSize int
	// MaxPages bounds the backward walk regardless of what the
	// provider returns.
	MaxPages int
}

// Summary reports one sync run.
type Summary struct {
	ingest.Summary
	Pages        int
	NewHighWater time.Time
	CooledDown   bool
}

// Engine orchestrates the backward walk for one user at a time.
// Concurrent runs for different users are independent; runs for the
// same user are prevented by the cooldown gate plus the scheduler's
// per-user task identity.
type Engine struct {
	client  HistoryClient
	tokens  TokenSource
	ingest  Ingestor
	cursors CursorStore
	cfg     Config

	// now is injectable for tests.
	now func() time.Time

	mu      gosync.Mutex
	lastRun map[string]time.Time
}

// NewEngine creates a sync engine.
func NewEngine(client HistoryClient, tokens TokenSource, ingestor Ingestor, cursors CursorStore, cfg Config) *Engine {
	return &Engine{
		client:  client,
		tokens:  tokens,
		ingest:  ingestor,
		cursors: cursors,
		cfg:     cfg,
		now:     time.Now,
		lastRun: make(map[string]time.Time),
	}
}

// Run executes one sync for the user. skipCooldown bypasses the
// cooldown gate for explicitly requested refreshes.
func (e *Engine) Run(ctx context.Context, userID string, skipCooldown bool) (*Summary, error) {
	if !skipCooldown && e.withinCooldown(userID) {
		logging.Debug().Str("user_id", userID).Msg("Sync skipped, within cooldown")
		return &Summary{CooledDown: true}, nil
	}

	start := e.now()
	summary, err := e.walk(ctx, userID)
	if err != nil {
		return nil, err
	}

	metrics.SyncDuration.Observe(e.now().Sub(start).Seconds())
	metrics.SyncPages.Observe(float64(summary.Pages))
	metrics.SyncEvents.WithLabelValues("added").Add(float64(summary.Added))
	metrics.SyncEvents.WithLabelValues("updated").Add(float64(summary.Updated))
	metrics.SyncEvents.WithLabelValues("skipped").Add(float64(summary.Skipped))
	metrics.SyncEvents.WithLabelValues("error").Add(float64(summary.Errors))

	e.mu.Lock()
	e.lastRun[userID] = e.now()
	e.mu.Unlock()

	logging.Info().
		Str("user_id", userID).
		Int64("added", summary.Added).
		Int64("updated", summary.Updated).
		Int64("skipped", summary.Skipped).
		Int64("errors", summary.Errors).
		Int("pages", summary.Pages).
		Msg("Sync completed")

	return summary, nil
}

func (e *Engine) withinCooldown(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastRun[userID]
	return ok && e.now().Sub(last) < e.cfg.Cooldown
}

// walk performs the backward pagination. The high-water mark candidate
// comes from the first page only, so a crash mid-run can never advance
// the mark past data not yet durably written.
func (e *Engine) walk(ctx context.Context, userID string) (*Summary, error) {
	token, err := e.tokens.GetValidToken(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredential) {
			metrics.SyncErrors.WithLabelValues("credential").Inc()
		}
		return nil, fmt.Errorf("sync %s: %w", userID, err)
	}

	prevMark, hasMark, err := e.cursors.GetSyncCursor(ctx, userID)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("database").Inc()
		return nil, fmt.Errorf("sync %s: %w", userID, err)
	}

	var (
		summary   Summary
		candidate time.Time
		before    *time.Time
	)

	for page := 0; page < e.cfg.MaxPages; page++ {
		resp, err := e.client.GetRecentlyPlayed(ctx, token, e.cfg.PageSize, before)
		if err != nil {
			return nil, e.classifyWalkError(ctx, userID, err)
		}
		if len(resp.Items) == 0 {
			break
		}
		summary.Pages++

		newest, oldest := pageBounds(resp.Items)
		if candidate.IsZero() {
			candidate = newest
		}

		events := make([]ingest.Event, 0, len(resp.Items))
		for _, item := range resp.Items {
			if hasMark && !item.PlayedAt.After(prevMark) {
				continue
			}
			events = append(events, ingest.Event{
				UserID:   userID,
				Track:    item.Track,
				PlayedAt: item.PlayedAt,
				// API polling cannot observe the real play duration;
				// the track length is the estimate.
				MsPlayed:    item.Track.DurationMs,
				IsEstimated: true,
				Source:      database.SourceAPI,
			})
		}

		if len(events) > 0 {
			batch, err := e.ingest.InsertBatch(ctx, events)
			if err != nil {
				metrics.SyncErrors.WithLabelValues("database").Inc()
				return nil, fmt.Errorf("sync %s: ingest page: %w", userID, err)
			}
			summary.Added += batch.Added
			summary.Updated += batch.Updated
			summary.Skipped += batch.Skipped
			summary.Errors += batch.Errors
		}

		// Partial page: no more history exists.
		if len(resp.Items) < e.cfg.PageSize {
			break
		}
		// Temporal overlap with already-ingested data: convergence.
		if hasMark && !oldest.After(prevMark) {
			break
		}

		before = &oldest
	}

	if !candidate.IsZero() {
		if err := e.cursors.AdvanceSyncCursor(ctx, userID, candidate); err != nil {
			metrics.SyncErrors.WithLabelValues("database").Inc()
			return nil, fmt.Errorf("sync %s: advance cursor: %w", userID, err)
		}
		summary.NewHighWater = candidate
	}

	if err := e.tokens.ResetAuthFailures(ctx, userID); err != nil {
		return nil, fmt.Errorf("sync %s: reset auth failures: %w", userID, err)
	}

	return &summary, nil
}

// classifyWalkError applies the error policy for a failed page fetch:
// auth errors count against the credential and may terminate the user,
// rate limits propagate with their retry-after for rescheduling, and
// everything else propagates to the task retry policy.
func (e *Engine) classifyWalkError(ctx context.Context, userID string, err error) error {
	if spotify.IsAuthError(err) {
		invalidated, recordErr := e.tokens.RecordAuthFailure(ctx, userID, err.Error())
		if recordErr != nil {
			return fmt.Errorf("sync %s: record auth failure: %w", userID, recordErr)
		}
		if invalidated {
			return fmt.Errorf("sync %s: %w: repeated auth failures", userID, auth.ErrNoCredential)
		}
		metrics.SyncErrors.WithLabelValues("credential").Inc()
		return fmt.Errorf("sync %s: %w", userID, err)
	}

	metrics.SyncErrors.WithLabelValues("provider").Inc()
	return fmt.Errorf("sync %s: %w", userID, err)
}

// pageBounds returns the newest and oldest play timestamps in a page.
// Pages arrive newest-first but this is not assumed.
func pageBounds(items []spotify.PlayItem) (newest, oldest time.Time) {
	newest, oldest = items[0].PlayedAt, items[0].PlayedAt
	for _, item := range items[1:] {
		if item.PlayedAt.After(newest) {
			newest = item.PlayedAt
		}
		if item.PlayedAt.Before(oldest) {
			oldest = item.PlayedAt
		}
	}
	return newest, oldest
}
