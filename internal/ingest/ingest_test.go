// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// fakeStore is an in-memory Store for precedence tests.
type fakeStore struct {
	events   map[string]database.ListeningEvent
	artists  map[string]database.ArtistRecord
	rollups  map[string]database.UserStats
	rollupOp int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  make(map[string]database.ListeningEvent),
		artists: make(map[string]database.ArtistRecord),
		rollups: make(map[string]database.UserStats),
	}
}

func eventKey(userID, trackID string, playedAt time.Time) string {
	return userID + "|" + trackID + "|" + playedAt.UTC().Format(time.RFC3339Nano)
}

func (s *fakeStore) UpsertArtist(_ context.Context, artist database.ArtistRecord) (bool, bool, error) {
	existing, ok := s.artists[artist.ID]
	if !ok {
		s.artists[artist.ID] = artist
		return true, artist.Enriched, nil
	}
	existing.Name = artist.Name
	s.artists[artist.ID] = existing
	return false, existing.Enriched, nil
}

func (s *fakeStore) UpsertAlbum(context.Context, database.AlbumRecord) error { return nil }
func (s *fakeStore) UpsertTrack(context.Context, database.TrackRecord) error { return nil }

func (s *fakeStore) FindEvent(_ context.Context, userID, trackID string, playedAt time.Time) (*database.ListeningEvent, error) {
	if ev, ok := s.events[eventKey(userID, trackID, playedAt)]; ok {
		copied := ev
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) InsertEventRow(_ context.Context, ev database.ListeningEvent) (bool, error) {
	key := eventKey(ev.UserID, ev.TrackID, ev.PlayedAt)
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	s.events[key] = ev
	return true, nil
}

func (s *fakeStore) ClaimEventForImport(_ context.Context, userID, trackID string, playedAt time.Time, msPlayed int64, isSkip bool) error {
	key := eventKey(userID, trackID, playedAt)
	ev := s.events[key]
	ev.MsPlayed = msPlayed
	ev.IsEstimated = false
	ev.Source = database.SourceImport
	ev.IsSkip = isSkip
	s.events[key] = ev
	return nil
}

func (s *fakeStore) ApplyRollup(_ context.Context, userID string, plays, msPlayed int64) error {
	s.rollupOp++
	stats := s.rollups[userID]
	stats.TotalPlays += plays
	stats.TotalMsPlayed += msPlayed
	s.rollups[userID] = stats
	return nil
}

type fakeEnqueuer struct {
	backfills []string
}

func (e *fakeEnqueuer) EnqueueArtistBackfill(_ context.Context, artistID string) error {
	e.backfills = append(e.backfills, artistID)
	return nil
}

func testTrack() spotify.Track {
	return spotify.Track{
		ID:         "t1",
		Name:       "Bohemian Rhapsody",
		DurationMs: 354320,
		Artists:    []spotify.ArtistRef{{ID: "a1", Name: "Queen"}},
		Album:      spotify.Album{ID: "al1", Name: "A Night at the Opera"},
	}
}

func apiEvent(playedAt time.Time) Event {
	return Event{
		UserID:      "u1",
		Track:       testTrack(),
		PlayedAt:    playedAt,
		MsPlayed:    180000,
		IsEstimated: true,
		Source:      database.SourceAPI,
	}
}

func importEvent(playedAt time.Time, msPlayed int64) Event {
	return Event{
		UserID:   "u1",
		Track:    testTrack(),
		PlayedAt: playedAt,
		MsPlayed: msPlayed,
		Source:   database.SourceImport,
	}
}

func TestInsertEventIdempotent(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil, 30000)
	ctx := context.Background()
	playedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	result, err := ing.InsertEvent(ctx, apiEvent(playedAt))
	if err != nil || result != Added {
		t.Fatalf("first insert: result=%v err=%v", result, err)
	}

	result, err = ing.InsertEvent(ctx, apiEvent(playedAt))
	if err != nil || result != Skipped {
		t.Fatalf("second insert: result=%v err=%v, want skipped", result, err)
	}

	if len(store.events) != 1 {
		t.Errorf("event count = %d, want 1", len(store.events))
	}
}

func TestImportClaimsEstimatedRow(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil, 30000)
	ctx := context.Background()
	playedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ing.InsertEvent(ctx, apiEvent(playedAt)); err != nil {
		t.Fatalf("api insert: %v", err)
	}

	result, err := ing.InsertEvent(ctx, importEvent(playedAt, 175000))
	if err != nil || result != Updated {
		t.Fatalf("import claim: result=%v err=%v, want updated", result, err)
	}

	ev, _ := store.FindEvent(ctx, "u1", "t1", playedAt)
	if ev.MsPlayed != 175000 || ev.IsEstimated || ev.Source != database.SourceImport {
		t.Errorf("claimed event = %+v", ev)
	}

	// Ground truth is immutable: a second import is skipped unchanged.
	result, err = ing.InsertEvent(ctx, importEvent(playedAt, 99))
	if err != nil || result != Skipped {
		t.Fatalf("second import: result=%v err=%v, want skipped", result, err)
	}
	ev, _ = store.FindEvent(ctx, "u1", "t1", playedAt)
	if ev.MsPlayed != 175000 {
		t.Errorf("ground truth mutated: %+v", ev)
	}
}

func TestAPINeverOverwrites(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil, 30000)
	ctx := context.Background()
	playedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ing.InsertEvent(ctx, importEvent(playedAt, 175000)); err != nil {
		t.Fatalf("import insert: %v", err)
	}

	result, err := ing.InsertEvent(ctx, apiEvent(playedAt))
	if err != nil || result != Skipped {
		t.Fatalf("api after import: result=%v err=%v, want skipped", result, err)
	}

	ev, _ := store.FindEvent(ctx, "u1", "t1", playedAt)
	if ev.Source != database.SourceImport || ev.MsPlayed != 175000 {
		t.Errorf("import row mutated by api event: %+v", ev)
	}
}

func TestSkipFlagDerivedFromThreshold(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil, 30000)
	ctx := context.Background()

	shortPlay := importEvent(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), 5000)
	longPlay := importEvent(time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC), 200000)

	if _, err := ing.InsertEvent(ctx, shortPlay); err != nil {
		t.Fatalf("short: %v", err)
	}
	if _, err := ing.InsertEvent(ctx, longPlay); err != nil {
		t.Fatalf("long: %v", err)
	}

	short, _ := store.FindEvent(ctx, "u1", "t1", shortPlay.PlayedAt)
	long, _ := store.FindEvent(ctx, "u1", "t1", longPlay.PlayedAt)
	if !short.IsSkip {
		t.Error("5s play not flagged as skip")
	}
	if long.IsSkip {
		t.Error("200s play flagged as skip")
	}
}

func TestBatchRollupSingleUpdate(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil, 30000)
	ctx := context.Background()

	events := []Event{
		apiEvent(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
		apiEvent(time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)),
		apiEvent(time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)), // duplicate
	}

	summary, err := ing.InsertBatch(ctx, events)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if summary.Added != 2 || summary.Skipped != 1 || summary.Errors != 0 {
		t.Errorf("summary = %+v", summary)
	}

	if store.rollupOp != 1 {
		t.Errorf("rollup updates = %d, want exactly 1 per batch", store.rollupOp)
	}
	stats := store.rollups["u1"]
	if stats.TotalPlays != 2 || stats.TotalMsPlayed != 360000 {
		t.Errorf("rollup = %+v", stats)
	}
}

func TestBatchAllSkippedSkipsRollup(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil, 30000)
	ctx := context.Background()
	playedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ing.InsertEvent(ctx, apiEvent(playedAt)); err != nil {
		t.Fatal(err)
	}
	store.rollupOp = 0

	summary, err := ing.InsertBatch(ctx, []Event{apiEvent(playedAt)})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if summary.Skipped != 1 || store.rollupOp != 0 {
		t.Errorf("summary=%+v rollups=%d", summary, store.rollupOp)
	}
}

func TestNewArtistEnqueuesBackfill(t *testing.T) {
	store := newFakeStore()
	enqueuer := &fakeEnqueuer{}
	ing := New(store, enqueuer, 30000)
	ctx := context.Background()

	if _, err := ing.InsertEvent(ctx, apiEvent(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))); err != nil {
		t.Fatal(err)
	}

	if len(enqueuer.backfills) != 1 || enqueuer.backfills[0] != "a1" {
		t.Errorf("backfills = %v, want [a1]", enqueuer.backfills)
	}
}
