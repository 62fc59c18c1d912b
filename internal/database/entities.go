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
	"strings"
)

// UpsertArtist creates or refreshes an artist row. External ids are
// immutable; only display fields are updated in place. Returns whether
// the row was created and whether it still lacks enrichment, so the
// caller can decide to enqueue a metadata backfill.
func (db *DB) UpsertArtist(ctx context.Context, artist ArtistRecord) (created, enriched bool, err error) {
	row := db.conn.QueryRowContext(ctx, `SELECT enriched FROM artists WHERE id = ?`, artist.ID)
	switch err := row.Scan(&enriched); {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO artists (id, name, image_url, genres, enriched) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			artist.ID, artist.Name, artist.ImageURL, strings.Join(artist.Genres, ","), artist.Enriched)
		if err != nil {
			return false, false, fmt.Errorf("insert artist %s: %w", artist.ID, err)
		}
		return true, artist.Enriched, nil
	case err != nil:
		return false, false, fmt.Errorf("lookup artist %s: %w", artist.ID, err)
	}

	set := `name = ?, updated_at = CURRENT_TIMESTAMP`
	args := []any{artist.Name}
	if artist.Enriched {
		set += `, image_url = ?, genres = ?, enriched = TRUE`
		args = append(args, artist.ImageURL, strings.Join(artist.Genres, ","))
		enriched = true
	}
	args = append(args, artist.ID)

	if _, err := db.conn.ExecContext(ctx, `UPDATE artists SET `+set+` WHERE id = ?`, args...); err != nil {
		return false, false, fmt.Errorf("update artist %s: %w", artist.ID, err)
	}
	return false, enriched, nil
}

// UpsertAlbum creates or refreshes an album row.
func (db *DB) UpsertAlbum(ctx context.Context, album AlbumRecord) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO albums (id, name, image_url, release_date) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			image_url = excluded.image_url,
			release_date = excluded.release_date,
			updated_at = now()`,
		album.ID, album.Name, album.ImageURL, album.ReleaseDate)
	if err != nil {
		return fmt.Errorf("upsert album %s: %w", album.ID, err)
	}
	return nil
}

// UpsertTrack creates or refreshes a track row and its artist credits.
func (db *DB) UpsertTrack(ctx context.Context, track TrackRecord) error {
	var albumID any
	if track.AlbumID != "" {
		albumID = track.AlbumID
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tracks (id, name, album_id, duration_ms, preview_url, popularity)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			preview_url = excluded.preview_url,
			popularity = excluded.popularity,
			updated_at = now()`,
		track.ID, track.Name, albumID, track.DurationMs, track.PreviewURL, track.Popularity)
	if err != nil {
		return fmt.Errorf("upsert track %s: %w", track.ID, err)
	}

	for position, artistID := range track.ArtistIDs {
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO track_artists (track_id, artist_id, position) VALUES (?, ?, ?)
			 ON CONFLICT (track_id, artist_id) DO NOTHING`,
			track.ID, artistID, position)
		if err != nil {
			return fmt.Errorf("link track %s to artist %s: %w", track.ID, artistID, err)
		}
	}
	return nil
}

// GetTrack fetches a track row by external id; nil when absent.
func (db *DB) GetTrack(ctx context.Context, id string) (*TrackRecord, error) {
	var (
		track   TrackRecord
		albumID sql.NullString
	)
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, album_id, duration_ms, preview_url, popularity FROM tracks WHERE id = ?`, id)
	if err := row.Scan(&track.ID, &track.Name, &albumID, &track.DurationMs, &track.PreviewURL, &track.Popularity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup track %s: %w", id, err)
	}
	track.AlbumID = albumID.String

	rows, err := db.conn.QueryContext(ctx,
		`SELECT artist_id FROM track_artists WHERE track_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("lookup track artists %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var artistID string
		if err := rows.Scan(&artistID); err != nil {
			return nil, fmt.Errorf("scan track artist: %w", err)
		}
		track.ArtistIDs = append(track.ArtistIDs, artistID)
	}
	return &track, rows.Err()
}
