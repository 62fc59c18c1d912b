// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package database

import "time"

// EventSource identifies where a listening event came from.
type EventSource string

const (
	// SourceAPI marks events observed through recently-played polling.
	// Their play duration is an estimate.
	SourceAPI EventSource = "API"

	// SourceImport marks events from a user's export file. Their play
	// duration is exact (ground truth).
	SourceImport EventSource = "IMPORT"
)

// ListeningEvent is one play of one track by one user. At most one row
// exists per (UserID, TrackID, PlayedAt).
type ListeningEvent struct {
	UserID      string
	TrackID     string
	PlayedAt    time.Time
	MsPlayed    int64
	IsEstimated bool
	Source      EventSource
	IsSkip      bool
}

// ArtistRecord is the canonical artist row.
type ArtistRecord struct {
	ID       string
	Name     string
	ImageURL string
	Genres   []string
	Enriched bool
}

// AlbumRecord is the canonical album row.
type AlbumRecord struct {
	ID          string
	Name        string
	ImageURL    string
	ReleaseDate string
}

// TrackRecord is the canonical track row plus its artist credits in
// display order.
type TrackRecord struct {
	ID         string
	Name       string
	AlbumID    string // empty when the provider omitted the album
	DurationMs int64
	PreviewURL string
	Popularity int
	ArtistIDs  []string
}

// Resolution is one resolution-cache entry. A nil TrackID is a cached
// negative result: the key was looked up before and did not resolve.
type Resolution struct {
	Key        string
	TrackID    *string
	Confidence float64
}

// Credential is the stored refresh token state for one user.
type Credential struct {
	UserID       string
	RefreshToken string
	Invalid      bool
	AuthFailures int
}

// UserStats is the per-user incremental rollup.
type UserStats struct {
	UserID        string
	TotalPlays    int64
	TotalMsPlayed int64
}
