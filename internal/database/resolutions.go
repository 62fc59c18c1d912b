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

// GetResolution fetches a resolution-cache entry. The second return
// distinguishes "no cache entry" from a cached negative result.
func (db *DB) GetResolution(ctx context.Context, key string) (*Resolution, bool, error) {
	var (
		res     Resolution
		trackID sql.NullString
	)
	row := db.conn.QueryRowContext(ctx,
		`SELECT key, track_id, confidence FROM track_resolutions WHERE key = ?`, key)
	if err := row.Scan(&res.Key, &trackID, &res.Confidence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup resolution %q: %w", key, err)
	}
	if trackID.Valid {
		res.TrackID = &trackID.String
	}
	return &res, true, nil
}

// PutResolution records a resolution result, including negatives.
// Write-once per key: concurrent duplicate writes are ignored, never
// overwritten, so the first resolution for a key wins permanently.
func (db *DB) PutResolution(ctx context.Context, res Resolution) error {
	var trackID any
	if res.TrackID != nil {
		trackID = *res.TrackID
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO track_resolutions (key, track_id, confidence) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		res.Key, trackID, res.Confidence)
	if err != nil {
		return fmt.Errorf("put resolution %q: %w", res.Key, err)
	}
	return nil
}
