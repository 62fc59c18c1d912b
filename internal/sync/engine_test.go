// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/auth"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/ingest"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

type fakeHistory struct {
	pages []spotify.RecentlyPlayedPage
	calls int
	errs  []error
	// befores records the cursor passed on each call.
	befores []*time.Time
}

func (f *fakeHistory) GetRecentlyPlayed(_ context.Context, _ string, _ int, before *time.Time) (*spotify.RecentlyPlayedPage, error) {
	f.befores = append(f.befores, before)
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.pages) {
		return &spotify.RecentlyPlayedPage{}, nil
	}
	page := f.pages[idx]
	return &page, nil
}

type fakeTokens struct {
	token        string
	tokenErr     error
	failures     int
	invalidateAt int
	resets       int
}

func (f *fakeTokens) GetValidToken(context.Context, string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return f.token, nil
}

func (f *fakeTokens) RecordAuthFailure(context.Context, string, string) (bool, error) {
	f.failures++
	return f.invalidateAt > 0 && f.failures >= f.invalidateAt, nil
}

func (f *fakeTokens) ResetAuthFailures(context.Context, string) error {
	f.resets++
	return nil
}

type fakeIngestor struct {
	events []ingest.Event
}

func (f *fakeIngestor) InsertBatch(_ context.Context, events []ingest.Event) (ingest.Summary, error) {
	f.events = append(f.events, events...)
	return ingest.Summary{Added: int64(len(events))}, nil
}

type fakeCursors struct {
	mark    time.Time
	hasMark bool
}

func (f *fakeCursors) GetSyncCursor(context.Context, string) (time.Time, bool, error) {
	return f.mark, f.hasMark, nil
}

func (f *fakeCursors) AdvanceSyncCursor(_ context.Context, _ string, mark time.Time) error {
	if mark.After(f.mark) {
		f.mark = mark
		f.hasMark = true
	}
	return nil
}

func play(id string, playedAt time.Time) spotify.PlayItem {
	return spotify.PlayItem{
		Track:    spotify.Track{ID: id, Name: id, DurationMs: 200000},
		PlayedAt: playedAt,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 20, hour, minute, 0, 0, time.UTC)
}

func testConfig() Config {
	return Config{Cooldown: 10 * time.Minute, PageSize: 2, MaxPages: 50}
}

func TestConvergenceOnOverlap(t *testing.T) {
	prevMark := at(10, 0)
	history := &fakeHistory{pages: []spotify.RecentlyPlayedPage{
		{Items: []spotify.PlayItem{play("t4", at(14, 0)), play("t3", at(13, 0))}},
		{Items: []spotify.PlayItem{play("t2", at(12, 0)), play("t1", at(9, 0))}}, // t1 at or before mark
	}}
	cursors := &fakeCursors{mark: prevMark, hasMark: true}
	ingestor := &fakeIngestor{}
	tokens := &fakeTokens{token: "tok"}

	engine := NewEngine(history, tokens, ingestor, cursors, testConfig())
	summary, err := engine.Run(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if history.calls != 2 {
		t.Errorf("pages fetched = %d, want 2 (overlap must stop the walk)", history.calls)
	}
	// t1 is at or before the mark and must be filtered out.
	if summary.Added != 3 {
		t.Errorf("added = %d, want 3", summary.Added)
	}
	if !cursors.mark.Equal(at(14, 0)) {
		t.Errorf("new mark = %v, want newest of first page %v", cursors.mark, at(14, 0))
	}
	if !summary.NewHighWater.Equal(at(14, 0)) {
		t.Errorf("NewHighWater = %v", summary.NewHighWater)
	}
	if tokens.resets != 1 {
		t.Errorf("auth failure resets = %d, want 1", tokens.resets)
	}

	// Second page must be requested with before = oldest of first page.
	if history.befores[0] != nil {
		t.Error("first page requested with a before cursor")
	}
	if history.befores[1] == nil || !history.befores[1].Equal(at(13, 0)) {
		t.Errorf("second page before = %v, want %v", history.befores[1], at(13, 0))
	}
}

func TestPartialPageStopsWalk(t *testing.T) {
	history := &fakeHistory{pages: []spotify.RecentlyPlayedPage{
		{Items: []spotify.PlayItem{play("t1", at(14, 0))}}, // one item < page size 2
	}}
	cursors := &fakeCursors{}
	engine := NewEngine(history, &fakeTokens{token: "tok"}, &fakeIngestor{}, cursors, testConfig())

	summary, err := engine.Run(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if history.calls != 1 {
		t.Errorf("pages fetched = %d, want 1", history.calls)
	}
	if summary.Added != 1 {
		t.Errorf("added = %d", summary.Added)
	}
}

func TestIterationCeiling(t *testing.T) {
	// Every page is full and strictly newer than the (absent) mark, so
	// only the ceiling terminates the walk.
	pages := make([]spotify.RecentlyPlayedPage, 100)
	for i := range pages {
		base := at(14, 0).Add(-time.Duration(i) * time.Hour)
		pages[i] = spotify.RecentlyPlayedPage{Items: []spotify.PlayItem{
			play("a", base), play("b", base.Add(-30*time.Minute)),
		}}
	}
	history := &fakeHistory{pages: pages}

	cfg := testConfig()
	cfg.MaxPages = 5
	engine := NewEngine(history, &fakeTokens{token: "tok"}, &fakeIngestor{}, &fakeCursors{}, cfg)

	if _, err := engine.Run(context.Background(), "u1", false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if history.calls != 5 {
		t.Errorf("pages fetched = %d, want ceiling 5", history.calls)
	}
}

func TestCooldownGate(t *testing.T) {
	history := &fakeHistory{pages: []spotify.RecentlyPlayedPage{
		{Items: []spotify.PlayItem{play("t1", at(14, 0))}},
		{Items: []spotify.PlayItem{play("t2", at(15, 0))}},
	}}
	engine := NewEngine(history, &fakeTokens{token: "tok"}, &fakeIngestor{}, &fakeCursors{}, testConfig())
	ctx := context.Background()

	if _, err := engine.Run(ctx, "u1", false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	summary, err := engine.Run(ctx, "u1", false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !summary.CooledDown {
		t.Error("second run within cooldown not gated")
	}
	if history.calls != 1 {
		t.Errorf("provider calls = %d, want 1", history.calls)
	}

	// Explicit bypass reaches the provider again.
	if _, err := engine.Run(ctx, "u1", true); err != nil {
		t.Fatalf("bypass run: %v", err)
	}
	if history.calls != 2 {
		t.Errorf("provider calls = %d, want 2 after bypass", history.calls)
	}
}

func TestNoCredentialFailsRun(t *testing.T) {
	engine := NewEngine(&fakeHistory{}, &fakeTokens{tokenErr: auth.ErrNoCredential}, &fakeIngestor{}, &fakeCursors{}, testConfig())

	_, err := engine.Run(context.Background(), "u1", false)
	if !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("got %v, want ErrNoCredential", err)
	}
}

func TestAuthErrorRecordsFailure(t *testing.T) {
	history := &fakeHistory{errs: []error{spotify.ErrUnauthenticated}}
	tokens := &fakeTokens{token: "tok"}
	engine := NewEngine(history, tokens, &fakeIngestor{}, &fakeCursors{}, testConfig())

	_, err := engine.Run(context.Background(), "u1", false)
	if !errors.Is(err, spotify.ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
	if tokens.failures != 1 {
		t.Errorf("auth failures recorded = %d, want 1", tokens.failures)
	}
}

func TestAuthErrorInvalidationIsTerminal(t *testing.T) {
	history := &fakeHistory{errs: []error{spotify.ErrUnauthenticated}}
	tokens := &fakeTokens{token: "tok", invalidateAt: 1}
	engine := NewEngine(history, tokens, &fakeIngestor{}, &fakeCursors{}, testConfig())

	_, err := engine.Run(context.Background(), "u1", false)
	if !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("got %v, want ErrNoCredential after invalidation", err)
	}
}

func TestRateLimitPropagatesRetryAfter(t *testing.T) {
	history := &fakeHistory{errs: []error{&spotify.RateLimitError{RetryAfter: 30 * time.Second}}}
	engine := NewEngine(history, &fakeTokens{token: "tok"}, &fakeIngestor{}, &fakeCursors{}, testConfig())

	_, err := engine.Run(context.Background(), "u1", false)
	retryAfter, ok := spotify.AsRateLimit(err)
	if !ok {
		t.Fatalf("got %v, want RateLimitError", err)
	}
	if retryAfter != 30*time.Second {
		t.Errorf("retryAfter = %v", retryAfter)
	}
}

func TestFirstSyncWithoutMarkIngestsEverything(t *testing.T) {
	history := &fakeHistory{pages: []spotify.RecentlyPlayedPage{
		{Items: []spotify.PlayItem{play("t2", at(14, 0)), play("t1", at(13, 0))}},
		{Items: []spotify.PlayItem{play("t0", at(12, 0))}}, // partial, stops
	}}
	ingestor := &fakeIngestor{}
	cursors := &fakeCursors{}
	engine := NewEngine(history, &fakeTokens{token: "tok"}, ingestor, cursors, testConfig())

	summary, err := engine.Run(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Added != 3 {
		t.Errorf("added = %d, want 3", summary.Added)
	}
	if !cursors.mark.Equal(at(14, 0)) {
		t.Errorf("mark = %v", cursors.mark)
	}

	// API events are estimates using the track duration.
	for _, ev := range ingestor.events {
		if !ev.IsEstimated || ev.MsPlayed != 200000 {
			t.Errorf("event not an estimate: %+v", ev)
		}
	}
}
