// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package ingest

import (
	"context"
	"testing"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

type fakeCatalog struct {
	artists    map[string]spotify.Artist
	tokenCalls int
	batchCalls int
}

func (f *fakeCatalog) ClientCredentialsToken(context.Context) (*spotify.TokenResponse, error) {
	f.tokenCalls++
	return &spotify.TokenResponse{AccessToken: "app-tok", ExpiresIn: 3600}, nil
}

func (f *fakeCatalog) GetArtistsBatch(_ context.Context, _ string, ids []string) ([]spotify.Artist, error) {
	f.batchCalls++
	var out []spotify.Artist
	for _, id := range ids {
		if a, ok := f.artists[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeArtistStore struct {
	upserts []database.ArtistRecord
}

func (f *fakeArtistStore) UpsertArtist(_ context.Context, a database.ArtistRecord) (bool, bool, error) {
	f.upserts = append(f.upserts, a)
	return false, a.Enriched, nil
}

func TestEnrichArtistWritesMetadata(t *testing.T) {
	catalog := &fakeCatalog{artists: map[string]spotify.Artist{
		"a1": {
			ID: "a1", Name: "Queen",
			Genres: []string{"rock", "glam rock"},
			Images: []spotify.Image{{URL: "https://img/queen.jpg"}},
		},
	}}
	store := &fakeArtistStore{}
	enricher := NewEnricher(catalog, store)

	if err := enricher.EnrichArtist(context.Background(), "a1"); err != nil {
		t.Fatalf("EnrichArtist: %v", err)
	}

	if len(store.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(store.upserts))
	}
	got := store.upserts[0]
	if !got.Enriched || got.ImageURL != "https://img/queen.jpg" || len(got.Genres) != 2 {
		t.Errorf("upserted = %+v", got)
	}
}

func TestEnrichArtistCachesAppToken(t *testing.T) {
	catalog := &fakeCatalog{artists: map[string]spotify.Artist{
		"a1": {ID: "a1", Name: "Queen"},
		"a2": {ID: "a2", Name: "ABBA"},
	}}
	enricher := NewEnricher(catalog, &fakeArtistStore{})
	ctx := context.Background()

	if err := enricher.EnrichArtist(ctx, "a1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := enricher.EnrichArtist(ctx, "a2"); err != nil {
		t.Fatalf("second: %v", err)
	}

	if catalog.tokenCalls != 1 {
		t.Errorf("token calls = %d, want 1 (app token is cached)", catalog.tokenCalls)
	}
	if catalog.batchCalls != 2 {
		t.Errorf("batch calls = %d, want 2", catalog.batchCalls)
	}
}

func TestEnrichArtistUnknownIDIsNotAnError(t *testing.T) {
	catalog := &fakeCatalog{artists: map[string]spotify.Artist{}}
	store := &fakeArtistStore{}
	enricher := NewEnricher(catalog, store)

	if err := enricher.EnrichArtist(context.Background(), "gone"); err != nil {
		t.Fatalf("EnrichArtist: %v", err)
	}
	if len(store.upserts) != 0 {
		t.Errorf("upserts = %d, want 0", len(store.upserts))
	}
}
