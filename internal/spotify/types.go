// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package spotify

import "time"

// TokenResponse is the accounts-service token refresh payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Image is a provider-hosted artwork reference.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ArtistRef is the abbreviated artist object embedded in tracks.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artist is the full artist object from the batch endpoint.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Images     []Image  `json:"images"`
	Popularity int      `json:"popularity"`
}

// Album is the abbreviated album object embedded in tracks.
type Album struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ReleaseDate string  `json:"release_date"`
	Images      []Image `json:"images"`
}

// Track is the provider's track object.
type Track struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	DurationMs int64       `json:"duration_ms"`
	Popularity int         `json:"popularity"`
	PreviewURL string      `json:"preview_url"`
	Album      Album       `json:"album"`
	Artists    []ArtistRef `json:"artists"`
}

// PlayItem is one entry in the recently-played history.
type PlayItem struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

// RecentlyPlayedPage is one page of the recently-played history.
type RecentlyPlayedPage struct {
	Items []PlayItem `json:"items"`
	Next  string     `json:"next"`
}

type searchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
	} `json:"tracks"`
}

type tracksBatchResponse struct {
	Tracks []Track `json:"tracks"`
}

type artistsBatchResponse struct {
	Artists []Artist `json:"artists"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
