// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// tokenSlack refreshes the cached app token before it actually expires.
const tokenSlack = 30 * time.Second

// CatalogClient is the provider surface artist backfill needs. Catalog
// endpoints accept an application-scoped token, so backfill runs
// without any user credential.
type CatalogClient interface {
	ClientCredentialsToken(ctx context.Context) (*spotify.TokenResponse, error)
	GetArtistsBatch(ctx context.Context, token string, ids []string) ([]spotify.Artist, error)
}

// ArtistStore persists enriched artist metadata.
type ArtistStore interface {
	UpsertArtist(ctx context.Context, artist database.ArtistRecord) (created, enriched bool, err error)
}

// Enricher fills in artist metadata (genres, artwork) that the track
// objects embedded in listening history do not carry.
type Enricher struct {
	client CatalogClient
	store  ArtistStore

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewEnricher creates an artist metadata enricher.
func NewEnricher(client CatalogClient, store ArtistStore) *Enricher {
	return &Enricher{client: client, store: store}
}

// EnrichArtist fetches full artist metadata and upserts it with the
// enriched flag set. Re-enriching an already-enriched artist is
// harmless, so at-least-once task delivery needs no guard here.
func (e *Enricher) EnrichArtist(ctx context.Context, artistID string) error {
	token, err := e.appToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain app token: %w", err)
	}

	artists, err := e.client.GetArtistsBatch(ctx, token, []string{artistID})
	if err != nil {
		return fmt.Errorf("fetch artist %s: %w", artistID, err)
	}
	if len(artists) == 0 {
		// The provider no longer knows this id. Nothing to enrich.
		logging.Warn().Str("artist_id", artistID).Msg("Artist not found during backfill")
		return nil
	}

	a := artists[0]
	if _, _, err := e.store.UpsertArtist(ctx, database.ArtistRecord{
		ID:       a.ID,
		Name:     a.Name,
		ImageURL: firstImageURL(a.Images),
		Genres:   a.Genres,
		Enriched: true,
	}); err != nil {
		return fmt.Errorf("upsert enriched artist %s: %w", a.ID, err)
	}

	logging.Debug().Str("artist_id", a.ID).Str("name", a.Name).Msg("Artist enriched")
	return nil
}

// appToken returns a cached application token, refreshing it when
// expired. App tokens are not user credentials and may be cached.
func (e *Enricher) appToken(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" && time.Now().Before(e.tokenExpiry) {
		return e.token, nil
	}

	resp, err := e.client.ClientCredentialsToken(ctx)
	if err != nil {
		return "", err
	}
	e.token = resp.AccessToken
	e.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenSlack)
	return e.token, nil
}
