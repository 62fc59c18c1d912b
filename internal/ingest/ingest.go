// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package ingest writes listening events into the store under strict
// idempotency and source-precedence rules: API estimates never
// overwrite anything, imports may claim estimated rows once, ground
// truth is immutable.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// Result classifies what InsertEvent did with an event.
type Result int

const (
	// Added: no row existed for the key; a new one was inserted.
	Added Result = iota
	// Updated: an import claimed a previously-estimated row.
	Updated
	// Skipped: a row existed and precedence forbade overwriting.
	Skipped
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event is one play to ingest, carrying the full provider track object
// so canonical entities can be upserted alongside the event row.
type Event struct {
	UserID      string
	Track       spotify.Track
	PlayedAt    time.Time
	MsPlayed    int64
	IsEstimated bool
	Source      database.EventSource
}

// Summary aggregates a batch's per-event results.
type Summary struct {
	Added   int64
	Updated int64
	Skipped int64
	Errors  int64
}

func (s Summary) Total() int64 {
	return s.Added + s.Updated + s.Skipped + s.Errors
}

// Store is the persistence surface ingestion needs.
type Store interface {
	UpsertArtist(ctx context.Context, artist database.ArtistRecord) (created, enriched bool, err error)
	UpsertAlbum(ctx context.Context, album database.AlbumRecord) error
	UpsertTrack(ctx context.Context, track database.TrackRecord) error
	FindEvent(ctx context.Context, userID, trackID string, playedAt time.Time) (*database.ListeningEvent, error)
	InsertEventRow(ctx context.Context, ev database.ListeningEvent) (bool, error)
	ClaimEventForImport(ctx context.Context, userID, trackID string, playedAt time.Time, msPlayed int64, isSkip bool) error
	ApplyRollup(ctx context.Context, userID string, plays, msPlayed int64) error
}

// TaskEnqueuer publishes fire-and-forget background tasks.
type TaskEnqueuer interface {
	EnqueueArtistBackfill(ctx context.Context, artistID string) error
}

// Ingestor applies the precedence rules against a Store.
type Ingestor struct {
	store           Store
	enqueuer        TaskEnqueuer
	skipThresholdMs int64
}

// New creates an Ingestor. enqueuer may be nil, disabling backfill
// enqueues (used by tests).
func New(store Store, enqueuer TaskEnqueuer, skipThresholdMs int64) *Ingestor {
	return &Ingestor{
		store:           store,
		enqueuer:        enqueuer,
		skipThresholdMs: skipThresholdMs,
	}
}

// InsertEvent upserts the event's entities and writes the event row
// under the precedence rules. A uniqueness-constraint hit on insert is
// treated as "found existing row, re-evaluate precedence", never as a
// failure — the constraint is the sole guard against concurrent
// double-ingestion.
func (ing *Ingestor) InsertEvent(ctx context.Context, ev Event) (Result, error) {
	if err := ing.upsertEntities(ctx, ev.Track); err != nil {
		return Skipped, err
	}

	existing, err := ing.store.FindEvent(ctx, ev.UserID, ev.Track.ID, ev.PlayedAt)
	if err != nil {
		return Skipped, err
	}

	if existing == nil {
		inserted, err := ing.store.InsertEventRow(ctx, database.ListeningEvent{
			UserID:      ev.UserID,
			TrackID:     ev.Track.ID,
			PlayedAt:    ev.PlayedAt,
			MsPlayed:    ev.MsPlayed,
			IsEstimated: ev.IsEstimated,
			Source:      ev.Source,
			IsSkip:      ev.MsPlayed < ing.skipThresholdMs,
		})
		if err != nil {
			return Skipped, err
		}
		if inserted {
			return Added, nil
		}

		// Lost the race: another writer inserted the same key first.
		existing, err = ing.store.FindEvent(ctx, ev.UserID, ev.Track.ID, ev.PlayedAt)
		if err != nil {
			return Skipped, err
		}
		if existing == nil {
			return Skipped, fmt.Errorf("event vanished after conflicting insert for user %s", ev.UserID)
		}
	}

	// API-sourced events never overwrite an existing row, including
	// other API estimates.
	if ev.Source == database.SourceAPI {
		return Skipped, nil
	}

	// An import claims a previously-estimated row: the export file
	// carries the exact play duration.
	if existing.IsEstimated {
		isSkip := ev.MsPlayed < ing.skipThresholdMs
		if err := ing.store.ClaimEventForImport(ctx, ev.UserID, ev.Track.ID, ev.PlayedAt, ev.MsPlayed, isSkip); err != nil {
			return Skipped, err
		}
		return Updated, nil
	}

	// Ground truth is immutable.
	return Skipped, nil
}

// InsertBatch ingests events in order, aggregating results, and applies
// a single incremental rollup update for the newly added rows.
func (ing *Ingestor) InsertBatch(ctx context.Context, events []Event) (Summary, error) {
	var (
		summary Summary
		addedMs int64
	)

	for i := range events {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := ing.InsertEvent(ctx, events[i])
		if err != nil {
			summary.Errors++
			logging.Error().Err(err).
				Str("user_id", events[i].UserID).
				Str("track_id", events[i].Track.ID).
				Msg("Failed to ingest event")
			continue
		}

		switch result {
		case Added:
			summary.Added++
			addedMs += events[i].MsPlayed
		case Updated:
			summary.Updated++
		case Skipped:
			summary.Skipped++
		}
	}

	if summary.Added > 0 {
		if err := ing.store.ApplyRollup(ctx, events[0].UserID, summary.Added, addedMs); err != nil {
			return summary, fmt.Errorf("apply rollup: %w", err)
		}
	}

	return summary, nil
}

// upsertEntities writes the track's artists, album and the track row.
// New or unenriched artists get a fire-and-forget backfill task.
func (ing *Ingestor) upsertEntities(ctx context.Context, track spotify.Track) error {
	artistIDs := make([]string, 0, len(track.Artists))
	for _, a := range track.Artists {
		if a.ID == "" {
			continue
		}
		created, enriched, err := ing.store.UpsertArtist(ctx, database.ArtistRecord{ID: a.ID, Name: a.Name})
		if err != nil {
			return fmt.Errorf("upsert artist %s: %w", a.ID, err)
		}
		artistIDs = append(artistIDs, a.ID)

		if (created || !enriched) && ing.enqueuer != nil {
			if err := ing.enqueuer.EnqueueArtistBackfill(ctx, a.ID); err != nil {
				logging.Warn().Err(err).Str("artist_id", a.ID).Msg("Failed to enqueue artist backfill")
			}
		}
	}

	if track.Album.ID != "" {
		if err := ing.store.UpsertAlbum(ctx, database.AlbumRecord{
			ID:          track.Album.ID,
			Name:        track.Album.Name,
			ImageURL:    firstImageURL(track.Album.Images),
			ReleaseDate: track.Album.ReleaseDate,
		}); err != nil {
			return fmt.Errorf("upsert album %s: %w", track.Album.ID, err)
		}
	}

	if err := ing.store.UpsertTrack(ctx, database.TrackRecord{
		ID:         track.ID,
		Name:       track.Name,
		AlbumID:    track.Album.ID,
		DurationMs: track.DurationMs,
		PreviewURL: track.PreviewURL,
		Popularity: track.Popularity,
		ArtistIDs:  artistIDs,
	}); err != nil {
		return fmt.Errorf("upsert track %s: %w", track.ID, err)
	}

	return nil
}

func firstImageURL(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}
