// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package database

import (
	"context"
	"fmt"
)

// schemaStatements are applied in order at startup. All statements are
// idempotent so re-running them against an existing database is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS artists (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		image_url   TEXT NOT NULL DEFAULT '',
		genres      TEXT NOT NULL DEFAULT '',
		enriched    BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS albums (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		image_url     TEXT NOT NULL DEFAULT '',
		release_date  TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS tracks (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		album_id     TEXT,
		duration_ms  BIGINT NOT NULL DEFAULT 0,
		preview_url  TEXT NOT NULL DEFAULT '',
		popularity   INTEGER NOT NULL DEFAULT 0,
		updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS track_artists (
		track_id   TEXT NOT NULL,
		artist_id  TEXT NOT NULL,
		position   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (track_id, artist_id)
	)`,

	`CREATE TABLE IF NOT EXISTS listening_events (
		user_id       TEXT NOT NULL,
		track_id      TEXT NOT NULL,
		played_at     TIMESTAMP NOT NULL,
		ms_played     BIGINT NOT NULL,
		is_estimated  BOOLEAN NOT NULL,
		source        TEXT NOT NULL,
		is_skip       BOOLEAN NOT NULL,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, track_id, played_at)
	)`,

	`CREATE TABLE IF NOT EXISTS track_resolutions (
		key         TEXT PRIMARY KEY,
		track_id    TEXT,
		confidence  DOUBLE NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_cursors (
		user_id           TEXT PRIMARY KEY,
		last_ingested_at  TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		user_id        TEXT PRIMARY KEY,
		refresh_token  TEXT NOT NULL,
		invalid        BOOLEAN NOT NULL DEFAULT FALSE,
		auth_failures  INTEGER NOT NULL DEFAULT 0,
		updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS user_stats (
		user_id          TEXT PRIMARY KEY,
		total_plays      BIGINT NOT NULL DEFAULT 0,
		total_ms_played  BIGINT NOT NULL DEFAULT 0,
		updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_user_played
		ON listening_events (user_id, played_at)`,
}

// initSchema creates all tables and indexes.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
