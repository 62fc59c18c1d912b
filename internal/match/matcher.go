// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package match

import (
	"github.com/xrash/smetrics"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// Scoring parameters. Artist similarity is weighted just below track
// name because export files frequently truncate or re-order artist
// credits, but a strong artist mismatch is still disqualifying.
const (
	artistWeight   = 0.4
	trackWeight    = 0.5
	durationWeight = 0.1

	// minArtistSimilarity disqualifies a candidate outright.
	minArtistSimilarity = 0.7

	// minAcceptScore is the floor for declaring a match at all.
	minAcceptScore = 0.6

	// tieEpsilon is the composite-score band within which candidate
	// popularity breaks ties.
	tieEpsilon = 0.05

	// durationSlack allows the reported play duration to exceed the
	// candidate's full length by 10% before the duration signal drops.
	durationSlack = 1.1

	// Jaro-Winkler parameters: standard prefix scale, prefix bonus
	// capped at 4 characters.
	jwBoostThreshold = 0.1
	jwPrefixSize     = 4
)

// Query is a free-text track lookup from an export record.
type Query struct {
	TrackName  string
	ArtistName string
	// ApproxMsPlayed is the longest observed play for this track; 0
	// means unknown and leaves the duration signal neutral.
	ApproxMsPlayed int64
}

// Result is a successful resolution with audit fields.
type Result struct {
	TrackID    string
	Confidence float64
	// Matched display fields, for audit and debugging.
	MatchedTrack  string
	MatchedArtist string
}

// Best scores candidates against the query and returns the best match,
// or nil when no candidate clears the thresholds. Declining is a valid
// outcome, not an error.
func Best(query Query, candidates []spotify.Track) *Result {
	queryTrack := NormalizeTrackName(query.TrackName)
	queryArtist := NormalizeName(query.ArtistName)
	if queryTrack == "" || queryArtist == "" {
		return nil
	}

	var (
		best      *spotify.Track
		bestScore float64
	)

	for i := range candidates {
		candidate := &candidates[i]
		if candidate.ID == "" {
			continue
		}

		artistSim := bestArtistSimilarity(queryArtist, candidate.Artists)
		if artistSim < minArtistSimilarity {
			continue
		}

		trackSim := smetrics.JaroWinkler(queryTrack, NormalizeTrackName(candidate.Name), jwBoostThreshold, jwPrefixSize)
		score := artistWeight*artistSim + trackWeight*trackSim
		if durationValid(query.ApproxMsPlayed, candidate.DurationMs) {
			score += durationWeight
		}

		switch {
		case best == nil, score > bestScore+tieEpsilon:
			best, bestScore = candidate, score
		case score > bestScore-tieEpsilon && candidate.Popularity > best.Popularity:
			// Within the tie band: prefer the more popular candidate.
			best, bestScore = candidate, score
		}
	}

	if best == nil || bestScore < minAcceptScore {
		return nil
	}

	return &Result{
		TrackID:       best.ID,
		Confidence:    bestScore,
		MatchedTrack:  best.Name,
		MatchedArtist: primaryArtist(best.Artists),
	}
}

// bestArtistSimilarity compares the query artist against every credited
// artist and keeps the best score, so collaborations still match on any
// single credit.
func bestArtistSimilarity(queryArtist string, artists []spotify.ArtistRef) float64 {
	var best float64
	for _, a := range artists {
		sim := smetrics.JaroWinkler(queryArtist, NormalizeName(a.Name), jwBoostThreshold, jwPrefixSize)
		if sim > best {
			best = sim
		}
	}
	return best
}

// durationValid reports whether the played duration is plausible for
// the candidate: a play cannot meaningfully exceed the track's full
// length by more than the slack factor.
func durationValid(approxMsPlayed, candidateDurationMs int64) bool {
	if approxMsPlayed <= 0 || candidateDurationMs <= 0 {
		return false
	}
	return float64(approxMsPlayed) <= float64(candidateDurationMs)*durationSlack
}

func primaryArtist(artists []spotify.ArtistRef) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}
