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

// GetSyncCursor returns the user's high-water mark; false when the
// user has never completed a sync.
func (db *DB) GetSyncCursor(ctx context.Context, userID string) (time.Time, bool, error) {
	var mark time.Time
	row := db.conn.QueryRowContext(ctx,
		`SELECT last_ingested_at FROM sync_cursors WHERE user_id = ?`, userID)
	if err := row.Scan(&mark); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("lookup sync cursor: %w", err)
	}
	return mark, true, nil
}

// AdvanceSyncCursor moves the high-water mark forward. The mark is
// monotonic: an older candidate never rewinds it.
func (db *DB) AdvanceSyncCursor(ctx context.Context, userID string, mark time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_cursors (user_id, last_ingested_at) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			last_ingested_at = GREATEST(sync_cursors.last_ingested_at, excluded.last_ingested_at),
			updated_at = now()`,
		userID, mark)
	if err != nil {
		return fmt.Errorf("advance sync cursor: %w", err)
	}
	return nil
}
