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
)

// ApplyRollup adds a batch's totals to the user's rollup in a single
// statement, instead of one update per ingested row.
func (db *DB) ApplyRollup(ctx context.Context, userID string, plays, msPlayed int64) error {
	if plays == 0 && msPlayed == 0 {
		return nil
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, total_plays, total_ms_played) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			total_plays = user_stats.total_plays + excluded.total_plays,
			total_ms_played = user_stats.total_ms_played + excluded.total_ms_played,
			updated_at = now()`,
		userID, plays, msPlayed)
	if err != nil {
		return fmt.Errorf("apply rollup: %w", err)
	}
	return nil
}

// GetUserStats returns the user's rollup; zeroes when no plays exist.
func (db *DB) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	stats := UserStats{UserID: userID}
	row := db.conn.QueryRowContext(ctx,
		`SELECT total_plays, total_ms_played FROM user_stats WHERE user_id = ?`, userID)
	if err := row.Scan(&stats.TotalPlays, &stats.TotalMsPlayed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &stats, nil
		}
		return nil, fmt.Errorf("lookup user stats: %w", err)
	}
	return &stats, nil
}
