// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FindEvent looks up an event by its unique key; nil when absent.
func (db *DB) FindEvent(ctx context.Context, userID, trackID string, playedAt time.Time) (*ListeningEvent, error) {
	var ev ListeningEvent
	row := db.conn.QueryRowContext(ctx,
		`SELECT user_id, track_id, played_at, ms_played, is_estimated, source, is_skip
		 FROM listening_events
		 WHERE user_id = ? AND track_id = ? AND played_at = ?`,
		userID, trackID, playedAt)
	if err := row.Scan(&ev.UserID, &ev.TrackID, &ev.PlayedAt, &ev.MsPlayed, &ev.IsEstimated, &ev.Source, &ev.IsSkip); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup event: %w", err)
	}
	return &ev, nil
}

// InsertEventRow inserts an event, relying on the primary key as the
// sole double-ingestion guard. Returns false when a row for the key
// already existed; the caller then re-evaluates precedence instead of
// treating it as a failure.
func (db *DB) InsertEventRow(ctx context.Context, ev ListeningEvent) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO listening_events (user_id, track_id, played_at, ms_played, is_estimated, source, is_skip)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, track_id, played_at) DO NOTHING`,
		ev.UserID, ev.TrackID, ev.PlayedAt, ev.MsPlayed, ev.IsEstimated, string(ev.Source), ev.IsSkip)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClaimEventForImport overwrites an estimated row with import ground
// truth: exact duration, is_estimated cleared, source flipped.
func (db *DB) ClaimEventForImport(ctx context.Context, userID, trackID string, playedAt time.Time, msPlayed int64, isSkip bool) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE listening_events
		 SET ms_played = ?, is_estimated = FALSE, source = ?, is_skip = ?
		 WHERE user_id = ? AND track_id = ? AND played_at = ?`,
		msPlayed, string(SourceImport), isSkip, userID, trackID, playedAt)
	if err != nil {
		return fmt.Errorf("claim event for import: %w", err)
	}
	return nil
}

// CountEvents returns the number of stored events for a user.
func (db *DB) CountEvents(ctx context.Context, userID string) (int64, error) {
	var count int64
	row := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listening_events WHERE user_id = ?`, userID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
