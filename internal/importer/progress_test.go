// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package importer

import (
	"testing"
)

func TestBadgerStatusStoreRoundTrip(t *testing.T) {
	store, err := NewBadgerStatusStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStatusStore: %v", err)
	}
	defer store.Close()

	progress := &Progress{
		JobID:             "job1",
		Status:            StatusRunning,
		Phase:             PhaseResolution,
		TotalUniqueTracks: 10,
		ResolvedTracks:    3,
		UnresolvedTracks: []UnresolvedTrack{
			{TrackName: "Mystery Song", ArtistName: "Nobody", Count: 4},
		},
	}
	if err := store.SaveProgress(progress); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if progress.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}

	loaded, found, err := store.LoadProgress("job1")
	if err != nil || !found {
		t.Fatalf("LoadProgress: found=%v err=%v", found, err)
	}
	if loaded.Status != StatusRunning || loaded.ResolvedTracks != 3 {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.UnresolvedTracks) != 1 || loaded.UnresolvedTracks[0].Count != 4 {
		t.Errorf("unresolved = %+v", loaded.UnresolvedTracks)
	}

	if _, found, err := store.LoadProgress("unknown"); err != nil || found {
		t.Errorf("unknown job: found=%v err=%v", found, err)
	}
}
