// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/ingest"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

type fakeSearch struct {
	results  map[string][]spotify.Track // keyed by query
	err      error
	searches int
	batches  int
}

func (f *fakeSearch) SearchTracks(_ context.Context, _ string, query string, _ int) ([]spotify.Track, error) {
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearch) GetTracksBatch(_ context.Context, _ string, ids []string) ([]spotify.Track, error) {
	f.batches++
	tracks := make([]spotify.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, spotify.Track{ID: id, Name: "Track " + id, DurationMs: 300000})
	}
	return tracks, nil
}

type fakeTokenSource struct{}

func (fakeTokenSource) GetValidToken(context.Context, string) (string, error) {
	return "tok", nil
}

type fakeResolutions struct {
	entries map[string]database.Resolution
}

func newFakeResolutions() *fakeResolutions {
	return &fakeResolutions{entries: make(map[string]database.Resolution)}
}

func (f *fakeResolutions) GetResolution(_ context.Context, key string) (*database.Resolution, bool, error) {
	if res, ok := f.entries[key]; ok {
		copied := res
		return &copied, true, nil
	}
	return nil, false, nil
}

func (f *fakeResolutions) PutResolution(_ context.Context, res database.Resolution) error {
	if _, ok := f.entries[res.Key]; !ok {
		f.entries[res.Key] = res
	}
	return nil
}

// replayIngestor reuses the idempotency semantics: a key seen before
// is skipped.
type replayIngestor struct {
	seen map[string]bool
}

func newReplayIngestor() *replayIngestor {
	return &replayIngestor{seen: make(map[string]bool)}
}

func (f *replayIngestor) InsertBatch(_ context.Context, events []ingest.Event) (ingest.Summary, error) {
	var summary ingest.Summary
	for _, ev := range events {
		key := ev.UserID + "|" + ev.Track.ID + "|" + ev.PlayedAt.Format(time.RFC3339)
		if f.seen[key] {
			summary.Skipped++
			continue
		}
		f.seen[key] = true
		summary.Added++
	}
	return summary, nil
}

func testImporter(search *fakeSearch, resolutions *fakeResolutions, ingestor Ingestor, status StatusStore) *Importer {
	return New(search, fakeTokenSource{}, resolutions, ingestor, status, Config{
		BatchSize:        100,
		SearchLimit:      5,
		MinPlayedMs:      30000,
		MaxFallbackBytes: 1 << 20,
		LeaseInterval:    0,
	})
}

func TestImportResolvesAndMaterializes(t *testing.T) {
	search := &fakeSearch{results: map[string][]spotify.Track{
		"Bohemian Rhapsody Queen": {{
			ID: "bohem1", Name: "Bohemian Rhapsody", DurationMs: 354320, Popularity: 85,
			Artists: []spotify.ArtistRef{{ID: "a1", Name: "Queen"}},
		}},
		"Somebody To Love Queen": {{
			ID: "somebody1", Name: "Somebody To Love", DurationMs: 297000, Popularity: 80,
			Artists: []spotify.ArtistRef{{ID: "a1", Name: "Queen"}},
		}},
	}}
	resolutions := newFakeResolutions()
	status := NewInMemoryStatusStore()
	imp := testImporter(search, resolutions, newReplayIngestor(), status)

	progress, err := imp.Run(context.Background(), Job{
		UserID: "u1", JobID: "job1", FileName: "history.json", Data: []byte(basicFile),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if progress.Status != StatusCompleted {
		t.Errorf("status = %q", progress.Status)
	}
	if progress.TotalUniqueTracks != 2 || progress.ResolvedTracks != 2 {
		t.Errorf("resolution progress = %d/%d", progress.ResolvedTracks, progress.TotalUniqueTracks)
	}
	if progress.AddedRecords != 2 || progress.SkippedRecords != 0 {
		t.Errorf("progress = %+v", progress)
	}
	if search.searches != 2 {
		t.Errorf("searches = %d, want 2", search.searches)
	}
	if len(progress.UnresolvedTracks) != 0 {
		t.Errorf("unresolved = %v", progress.UnresolvedTracks)
	}

	// Both resolutions are cached.
	if len(resolutions.entries) != 2 {
		t.Errorf("cached resolutions = %d", len(resolutions.entries))
	}

	// The terminal state is polled from the status store.
	stored, found, err := status.LoadProgress("job1")
	if err != nil || !found {
		t.Fatalf("LoadProgress: found=%v err=%v", found, err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("stored status = %q", stored.Status)
	}
}

func TestImportUsesResolutionCache(t *testing.T) {
	search := &fakeSearch{results: map[string][]spotify.Track{}}
	resolutions := newFakeResolutions()
	bohem := "bohem1"
	somebody := "somebody1"
	resolutions.entries["bohemian rhapsody::queen"] = database.Resolution{Key: "bohemian rhapsody::queen", TrackID: &bohem, Confidence: 0.95}
	resolutions.entries["somebody to love::queen"] = database.Resolution{Key: "somebody to love::queen", TrackID: &somebody, Confidence: 0.9}
	imp := testImporter(search, resolutions, newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(basicFile)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if search.searches != 0 {
		t.Errorf("searches = %d, want 0 (cache must short-circuit)", search.searches)
	}
	if progress.AddedRecords != 2 {
		t.Errorf("added = %d", progress.AddedRecords)
	}
}

func TestImportExtendedSkipsSearch(t *testing.T) {
	search := &fakeSearch{results: map[string][]spotify.Track{}}
	imp := testImporter(search, newFakeResolutions(), newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(extendedFile)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if search.searches != 0 {
		t.Errorf("searches = %d, want 0 (URIs resolve directly)", search.searches)
	}
	if progress.AddedRecords != 2 {
		t.Errorf("added = %d", progress.AddedRecords)
	}
}

func TestImportURIOnlyRecordsStayDistinct(t *testing.T) {
	// Extended exports sometimes null out the metadata names while
	// keeping the track URI. Each URI is its own track, not one shared
	// nameless bucket.
	data := `[
	{"ts":"2021-01-01T13:30:30Z","ms_played":200000,"master_metadata_track_name":"","master_metadata_album_artist_name":"","spotify_track_uri":"spotify:track:uriA"},
	{"ts":"2021-01-01T14:00:00Z","ms_played":210000,"master_metadata_track_name":"","master_metadata_album_artist_name":"","spotify_track_uri":"spotify:track:uriB"}
]`
	resolutions := newFakeResolutions()
	imp := testImporter(&fakeSearch{}, resolutions, newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(data)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if progress.TotalUniqueTracks != 2 || progress.ResolvedTracks != 2 {
		t.Errorf("resolution progress = %d/%d, want 2/2", progress.ResolvedTracks, progress.TotalUniqueTracks)
	}
	if progress.AddedRecords != 2 {
		t.Errorf("added = %d, want 2", progress.AddedRecords)
	}

	// Each URI gets its own cache entry with its own id.
	ids := make(map[string]bool)
	for _, res := range resolutions.entries {
		if res.TrackID != nil {
			ids[*res.TrackID] = true
		}
	}
	if len(resolutions.entries) != 2 || !ids["uriA"] || !ids["uriB"] {
		t.Errorf("cached resolutions = %+v", resolutions.entries)
	}
}

func TestGroupRecordsKeysURIOnlyByID(t *testing.T) {
	records := []RawRecord{
		{TrackURI: "uriA", MsPlayed: 60000},
		{TrackURI: "uriB", MsPlayed: 60000},
	}

	buckets, order := groupRecords(records)
	if len(order) != 2 {
		t.Fatalf("buckets = %d (%v), want 2", len(order), order)
	}
	if buckets[order[0]].directID != "uriA" || buckets[order[1]].directID != "uriB" {
		t.Errorf("directIDs = %q, %q", buckets[order[0]].directID, buckets[order[1]].directID)
	}
}

func TestImportTransientFailureReportsRetrying(t *testing.T) {
	// A provider outage mid-resolution gets redelivered by the task
	// pool, so the polled status must not claim the job is FAILED.
	search := &fakeSearch{err: spotify.ErrProviderUnavailable}
	imp := testImporter(search, newFakeResolutions(), newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(basicFile)})
	if !errors.Is(err, spotify.ErrProviderUnavailable) {
		t.Fatalf("got %v, want ErrProviderUnavailable", err)
	}
	if progress.Status != StatusRetrying {
		t.Errorf("status = %q, want %q", progress.Status, StatusRetrying)
	}
}

func TestImportFormatDetectionFailureIsTerminal(t *testing.T) {
	imp := testImporter(&fakeSearch{}, newFakeResolutions(), newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(`[{"foo":1}]`)})
	if !errors.Is(err, ErrFormatDetection) {
		t.Fatalf("got %v, want ErrFormatDetection", err)
	}
	if progress.Status != StatusFailed || progress.ErrorMessage == "" {
		t.Errorf("progress = %+v", progress)
	}
}

func TestImportNoValidRecords(t *testing.T) {
	// All plays below the 30s minimum.
	data := `[{"endTime":"2021-01-01 13:30","artistName":"Queen","trackName":"A","msPlayed":1000}]`
	imp := testImporter(&fakeSearch{}, newFakeResolutions(), newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(data)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if progress.Status != StatusCompleted || progress.ErrorMessage != msgNoValidRecords {
		t.Errorf("progress = %+v", progress)
	}
}

func TestImportNothingResolved(t *testing.T) {
	// Searches return no candidates at all.
	search := &fakeSearch{results: map[string][]spotify.Track{}}
	imp := testImporter(search, newFakeResolutions(), newReplayIngestor(), NewInMemoryStatusStore())

	progress, err := imp.Run(context.Background(), Job{UserID: "u1", JobID: "job1", Data: []byte(basicFile)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if progress.Status != StatusCompleted || progress.ErrorMessage != msgNothingResolved {
		t.Errorf("progress = %+v", progress)
	}
	if len(progress.UnresolvedTracks) != 2 {
		t.Errorf("unresolved = %+v", progress.UnresolvedTracks)
	}
	if progress.UnresolvedTracks[0].TrackName != "Bohemian Rhapsody" || progress.UnresolvedTracks[0].Count != 1 {
		t.Errorf("unresolved[0] = %+v", progress.UnresolvedTracks[0])
	}
}

func TestImportAlreadyImported(t *testing.T) {
	ingestor := newReplayIngestor()
	imp := testImporter(&fakeSearch{}, newFakeResolutions(), ingestor, NewInMemoryStatusStore())
	ctx := context.Background()

	if _, err := imp.Run(ctx, Job{UserID: "u1", JobID: "job1", Data: []byte(extendedFile)}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Re-importing the same file adds nothing.
	progress, err := imp.Run(ctx, Job{UserID: "u1", JobID: "job2", Data: []byte(extendedFile)})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if progress.Status != StatusCompleted || progress.ErrorMessage != msgAlreadyImported {
		t.Errorf("progress = %+v", progress)
	}
	if progress.SkippedRecords != 2 || progress.AddedRecords != 0 {
		t.Errorf("progress = %+v", progress)
	}
}

func TestStringInt64JSON(t *testing.T) {
	out, err := json.Marshal(StringInt64(9007199254740993)) // above 2^53
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"9007199254740993"` {
		t.Errorf("marshaled = %s", out)
	}

	var v StringInt64
	if err := json.Unmarshal([]byte(`"42"`), &v); err != nil || v != 42 {
		t.Errorf("unmarshal string: v=%d err=%v", v, err)
	}
	if err := json.Unmarshal([]byte(`42`), &v); err != nil || v != 42 {
		t.Errorf("unmarshal number: v=%d err=%v", v, err)
	}
	if err := json.Unmarshal([]byte(`"nope"`), &v); err == nil {
		t.Error("expected error for non-numeric string")
	}
}
