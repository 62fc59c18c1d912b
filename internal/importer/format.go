// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package importer runs the two-phase bulk import pipeline: stream a
// history export file, resolve free-text tracks to canonical ids, then
// replay the original plays through idempotent ingestion.
package importer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Format identifies the export file shape.
type Format int

const (
	FormatUnknown Format = iota
	// FormatBasic is the account-privacy export: endTime, artistName,
	// trackName, msPlayed. Timestamps have minute precision and no
	// timezone.
	FormatBasic
	// FormatExtended is the full streaming-history export: ts,
	// ms_played, spotify_track_uri and nested metadata fields.
	FormatExtended
)

// ErrFormatDetection is terminal for an import job: the file matches
// neither known shape. Reported verbatim to the user, never silently
// defaulted.
var ErrFormatDetection = errors.New("importer: unrecognized export file format")

// RawRecord is one normalized play from an export file.
type RawRecord struct {
	TrackName  string
	ArtistName string
	PlayedAt   time.Time
	MsPlayed   int64
	// TrackURI is set only by the extended format and short-circuits
	// fuzzy resolution.
	TrackURI string
}

type basicRecord struct {
	EndTime    string `json:"endTime"`
	ArtistName string `json:"artistName"`
	TrackName  string `json:"trackName"`
	MsPlayed   int64  `json:"msPlayed"`
}

type extendedRecord struct {
	Timestamp  string `json:"ts"`
	MsPlayed   int64  `json:"ms_played"`
	TrackName  string `json:"master_metadata_track_name"`
	ArtistName string `json:"master_metadata_album_artist_name"`
	TrackURI   string `json:"spotify_track_uri"`
}

// basicTimeLayout is minute-precision with no timezone; values are
// treated as UTC.
const basicTimeLayout = "2006-01-02 15:04"

// DetectFormat inspects the first record's fields. Detection failure
// is a hard error.
func DetectFormat(data []byte) (Format, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", ErrFormatDetection, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return FormatUnknown, fmt.Errorf("%w: expected a JSON array", ErrFormatDetection)
	}
	if !dec.More() {
		// An empty array is valid; either parser handles it.
		return FormatBasic, nil
	}

	var first map[string]json.RawMessage
	if err := dec.Decode(&first); err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", ErrFormatDetection, err)
	}

	if _, hasEnd := first["endTime"]; hasEnd {
		if _, hasTrack := first["trackName"]; hasTrack {
			return FormatBasic, nil
		}
	}
	if _, hasTs := first["ts"]; hasTs {
		_, hasMs := first["ms_played"]
		_, hasURI := first["spotify_track_uri"]
		if hasMs || hasURI {
			return FormatExtended, nil
		}
	}

	return FormatUnknown, fmt.Errorf("%w: first record has neither basic nor extended fields", ErrFormatDetection)
}

func (r basicRecord) normalize() (RawRecord, error) {
	playedAt, err := time.Parse(basicTimeLayout, r.EndTime)
	if err != nil {
		return RawRecord{}, fmt.Errorf("parse endTime %q: %w", r.EndTime, err)
	}
	return RawRecord{
		TrackName:  strings.TrimSpace(r.TrackName),
		ArtistName: strings.TrimSpace(r.ArtistName),
		PlayedAt:   playedAt.UTC(),
		MsPlayed:   r.MsPlayed,
	}, nil
}

func (r extendedRecord) normalize() (RawRecord, error) {
	playedAt, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return RawRecord{}, fmt.Errorf("parse ts %q: %w", r.Timestamp, err)
	}
	return RawRecord{
		TrackName:  strings.TrimSpace(r.TrackName),
		ArtistName: strings.TrimSpace(r.ArtistName),
		PlayedAt:   playedAt.UTC(),
		MsPlayed:   r.MsPlayed,
		TrackURI:   trackIDFromURI(r.TrackURI),
	}, nil
}

// trackIDFromURI extracts the bare id from "spotify:track:<id>".
func trackIDFromURI(uri string) string {
	const prefix = "spotify:track:"
	if strings.HasPrefix(uri, prefix) {
		return uri[len(prefix):]
	}
	return ""
}
