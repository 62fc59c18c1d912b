// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package match resolves free-text (track, artist) queries against
// provider search candidates using normalized Jaro-Winkler similarity.
package match

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Suffix clutter on track names that breaks exact comparison:
	// "- Remastered 2011", "(Live at Wembley)", "- Radio Edit", etc.
	trackSuffixPattern = regexp.MustCompile(`(?i)\s*[-(\[]\s*(remaster(ed)?|re-?master|live|radio edit|single version|album version|mono|stereo|deluxe|bonus track|demo|acoustic|extended|edit)\b[^)\]]*[)\]]?\s*$`)

	// feat. clauses appear mid-name and in parentheses.
	featPattern = regexp.MustCompile(`(?i)\s*[(\[]?\s*(feat\.?|featuring|with)\s+[^)\]]*[)\]]?\s*$`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases, strips punctuation and collapses
// whitespace. Used for artist names and as the base step for tracks.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation separates words rather than vanishing, so
			// "AC/DC" normalizes to "ac dc" not "acdc".
			b.WriteRune(' ')
		}
	}

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}

// NormalizeTrackName additionally strips remaster/live/edit suffixes
// and feat. clauses before the base normalization.
func NormalizeTrackName(s string) string {
	s = featPattern.ReplaceAllString(s, "")
	s = trackSuffixPattern.ReplaceAllString(s, "")
	return NormalizeName(s)
}

// ResolutionKey builds the normalized cache key for a (track, artist)
// pair.
func ResolutionKey(trackName, artistName string) string {
	return NormalizeTrackName(trackName) + "::" + NormalizeName(artistName)
}
