// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/auth"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/ingest"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/match"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
)

// Terminal zero-added messages. Each cause reads differently to the
// user; a bare "failed" is never reported.
const (
	msgNoValidRecords  = "no valid listening records found in the file"
	msgNothingResolved = "could not resolve any tracks from the file"
	msgAlreadyImported = "all records in the file were already imported"
)

// maxUnresolvedReported caps the user-facing unresolved list.
const maxUnresolvedReported = 100

// SearchClient is the provider surface the pipeline needs.
type SearchClient interface {
	SearchTracks(ctx context.Context, token, query string, limit int) ([]spotify.Track, error)
	GetTracksBatch(ctx context.Context, token string, ids []string) ([]spotify.Track, error)
}

// TokenSource yields a valid bearer token for the importing user.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
}

// ResolutionStore is the persistent resolution cache.
type ResolutionStore interface {
	GetResolution(ctx context.Context, key string) (*database.Resolution, bool, error)
	PutResolution(ctx context.Context, res database.Resolution) error
}

// Ingestor replays resolved records through idempotent ingestion.
type Ingestor interface {
	InsertBatch(ctx context.Context, events []ingest.Event) (ingest.Summary, error)
}

// LeaseExtender extends the job's processing lease with the task
// scheduler so a long import is not reclaimed as stalled.
type LeaseExtender interface {
	Extend() error
}

// Config holds import tuning.
type Config struct {
	BatchSize        int
	SearchLimit      int
	MinPlayedMs      int64
	MaxFallbackBytes int64
	LeaseInterval    time.Duration
}

// Job is one import task.
type Job struct {
	UserID   string
	JobID    string
	FileName string
	Data     []byte
	// Lease may be nil when the transport has no lease to extend.
	Lease LeaseExtender
}

// Importer runs the two-phase pipeline.
type Importer struct {
	search      SearchClient
	tokens      TokenSource
	resolutions ResolutionStore
	ingest      Ingestor
	status      StatusStore
	cfg         Config
}

// New creates an Importer.
func New(search SearchClient, tokens TokenSource, resolutions ResolutionStore, ingestor Ingestor, status StatusStore, cfg Config) *Importer {
	return &Importer{
		search:      search,
		tokens:      tokens,
		resolutions: resolutions,
		ingest:      ingestor,
		status:      status,
		cfg:         cfg,
	}
}

// bucket aggregates all plays of one normalized (track, artist) pair.
type bucket struct {
	trackName  string
	artistName string
	count      int64
	maxMs      int64
	// directID short-circuits resolution for extended-format records
	// that already carry the track id.
	directID string
	// resolved is set during Phase 1; nil means resolution failed.
	resolved *string
}

// Run executes an import job to a definite terminal state. The
// returned Progress is always saved to the status store before Run
// returns; the error, when non-nil, is for the task retry policy.
func (imp *Importer) Run(ctx context.Context, job Job) (*Progress, error) {
	progress := &Progress{JobID: job.JobID, Status: StatusRunning, Phase: PhaseResolution}
	if err := imp.status.SaveProgress(progress); err != nil {
		return nil, fmt.Errorf("import %s: %w", job.JobID, err)
	}

	stopLease := imp.startLeaseHeartbeat(ctx, job)
	defer stopLease()

	format, err := DetectFormat(job.Data)
	if err != nil {
		return imp.fail(progress, err), err
	}

	records, err := ParseRecords(job.Data, format, imp.cfg.MaxFallbackBytes)
	if err != nil {
		return imp.fail(progress, err), err
	}

	valid := imp.filterRecords(records)
	progress.TotalRecords = StringInt64(len(valid))
	if len(valid) == 0 {
		return imp.complete(progress, msgNoValidRecords), nil
	}

	buckets, order := groupRecords(valid)
	progress.TotalUniqueTracks = StringInt64(len(order))

	resolutionStart := time.Now()
	resolvedCount, err := imp.resolveAll(ctx, job.UserID, buckets, order, progress)
	if err != nil {
		return imp.fail(progress, err), err
	}
	metrics.ImportDuration.WithLabelValues(PhaseResolution).Observe(time.Since(resolutionStart).Seconds())

	progress.UnresolvedTracks = unresolvedList(buckets, order)
	if resolvedCount == 0 {
		return imp.complete(progress, msgNothingResolved), nil
	}

	progress.Phase = PhaseMaterialization
	if err := imp.status.SaveProgress(progress); err != nil {
		return nil, fmt.Errorf("import %s: %w", job.JobID, err)
	}

	materializationStart := time.Now()
	summary, err := imp.materialize(ctx, job.UserID, valid, buckets, progress)
	if err != nil {
		return imp.fail(progress, err), err
	}
	metrics.ImportDuration.WithLabelValues(PhaseMaterialization).Observe(time.Since(materializationStart).Seconds())

	metrics.ImportRecords.WithLabelValues("added").Add(float64(summary.Added))
	metrics.ImportRecords.WithLabelValues("updated").Add(float64(summary.Updated))
	metrics.ImportRecords.WithLabelValues("skipped").Add(float64(summary.Skipped))
	metrics.ImportRecords.WithLabelValues("error").Add(float64(summary.Errors))

	if summary.Added == 0 && summary.Updated == 0 {
		return imp.complete(progress, msgAlreadyImported), nil
	}

	logging.Info().
		Str("job_id", job.JobID).
		Str("user_id", job.UserID).
		Int64("added", summary.Added).
		Int64("updated", summary.Updated).
		Int64("skipped", summary.Skipped).
		Int("unresolved", len(progress.UnresolvedTracks)).
		Msg("Import completed")

	return imp.complete(progress, ""), nil
}

// filterRecords drops records below the minimum play duration and
// records with no usable identity (no names and no direct id).
func (imp *Importer) filterRecords(records []RawRecord) []RawRecord {
	valid := records[:0]
	for _, r := range records {
		if r.MsPlayed < imp.cfg.MinPlayedMs {
			continue
		}
		if r.TrackURI == "" && (r.TrackName == "" || r.ArtistName == "") {
			continue
		}
		valid = append(valid, r)
	}
	return valid
}

// recordKey returns the bucket and resolution-cache key for a record.
// Extended exports sometimes null out the metadata fields while keeping
// the track URI; those records are keyed by the id itself so distinct
// tracks never share a bucket. The "id:" prefix cannot collide with a
// normalized key, which always contains "::".
func recordKey(r RawRecord) string {
	if r.TrackURI != "" && (r.TrackName == "" || r.ArtistName == "") {
		return "id:" + r.TrackURI
	}
	return match.ResolutionKey(r.TrackName, r.ArtistName)
}

// groupRecords buckets records by their resolution key, keeping
// first-seen order for deterministic progress.
func groupRecords(records []RawRecord) (map[string]*bucket, []string) {
	buckets := make(map[string]*bucket)
	var order []string

	for _, r := range records {
		key := recordKey(r)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{trackName: r.TrackName, artistName: r.ArtistName}
			buckets[key] = b
			order = append(order, key)
		}
		b.count++
		if r.MsPlayed > b.maxMs {
			b.maxMs = r.MsPlayed
		}
		if b.directID == "" && r.TrackURI != "" {
			b.directID = r.TrackURI
		}
	}
	return buckets, order
}

// resolveAll is Phase 1: resolve every unique bucket through the cache
// or a rate-limited search, persisting every outcome including
// negatives. Progress is published incrementally for polling.
func (imp *Importer) resolveAll(ctx context.Context, userID string, buckets map[string]*bucket, order []string, progress *Progress) (int, error) {
	var (
		token    string
		resolved int
	)

	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		b := buckets[key]

		if cached, found, err := imp.resolutions.GetResolution(ctx, key); err != nil {
			return resolved, fmt.Errorf("resolution cache read: %w", err)
		} else if found {
			metrics.ImportResolutions.WithLabelValues("cache_hit").Inc()
			b.resolved = cached.TrackID
			if b.resolved != nil {
				resolved++
			}
			imp.publishResolution(progress)
			continue
		}

		if b.directID != "" {
			id := b.directID
			b.resolved = &id
			resolved++
			if err := imp.resolutions.PutResolution(ctx, database.Resolution{Key: key, TrackID: &id, Confidence: 1}); err != nil {
				return resolved, err
			}
			metrics.ImportResolutions.WithLabelValues("matched").Inc()
			imp.publishResolution(progress)
			continue
		}

		if token == "" {
			var err error
			if token, err = imp.tokens.GetValidToken(ctx, userID); err != nil {
				return resolved, fmt.Errorf("resolution token: %w", err)
			}
		}

		candidates, err := imp.search.SearchTracks(ctx, token, b.trackName+" "+b.artistName, imp.cfg.SearchLimit)
		if err != nil {
			return resolved, fmt.Errorf("search %q: %w", b.trackName, err)
		}

		result := match.Best(match.Query{
			TrackName:      b.trackName,
			ArtistName:     b.artistName,
			ApproxMsPlayed: b.maxMs,
		}, candidates)

		res := database.Resolution{Key: key}
		if result != nil {
			b.resolved = &result.TrackID
			res.TrackID = &result.TrackID
			res.Confidence = result.Confidence
			resolved++
			metrics.ImportResolutions.WithLabelValues("matched").Inc()
		} else {
			// Negative result: cached so the next import of the same
			// library does not repeat the search.
			metrics.ImportResolutions.WithLabelValues("unmatched").Inc()
		}
		if err := imp.resolutions.PutResolution(ctx, res); err != nil {
			return resolved, err
		}
		imp.publishResolution(progress)
	}

	return resolved, nil
}

func (imp *Importer) publishResolution(progress *Progress) {
	progress.ResolvedTracks++
	if err := imp.status.SaveProgress(progress); err != nil {
		logging.Warn().Err(err).Str("job_id", progress.JobID).Msg("Failed to publish import progress")
	}
}

// materialize is Phase 2: replay every record whose key resolved, in
// fixed-size batches, against idempotent ingestion.
func (imp *Importer) materialize(ctx context.Context, userID string, records []RawRecord, buckets map[string]*bucket, progress *Progress) (ingest.Summary, error) {
	entities := imp.fetchEntities(ctx, userID, buckets)

	var (
		total ingest.Summary
		batch []ingest.Event
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		summary, err := imp.ingest.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		total.Added += summary.Added
		total.Updated += summary.Updated
		total.Skipped += summary.Skipped
		total.Errors += summary.Errors

		progress.ProcessedRecords += StringInt64(len(batch))
		progress.AddedRecords = StringInt64(total.Added)
		progress.UpdatedRecords = StringInt64(total.Updated)
		progress.SkippedRecords = StringInt64(total.Skipped)
		if err := imp.status.SaveProgress(progress); err != nil {
			logging.Warn().Err(err).Str("job_id", progress.JobID).Msg("Failed to publish import progress")
		}

		batch = batch[:0]
		return nil
	}

	for _, r := range records {
		b := buckets[recordKey(r)]
		if b == nil || b.resolved == nil {
			total.Skipped++
			progress.ProcessedRecords++
			continue
		}

		trackID := *b.resolved
		track, ok := entities[trackID]
		if !ok {
			// Entity fetch failed for this id; ingest with the bare
			// identity so the play itself is not lost.
			track = spotify.Track{ID: trackID, Name: r.TrackName}
		}

		batch = append(batch, ingest.Event{
			UserID:   userID,
			Track:    track,
			PlayedAt: r.PlayedAt,
			MsPlayed: r.MsPlayed,
			Source:   database.SourceImport,
		})

		if len(batch) >= imp.cfg.BatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}

	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// fetchEntities batch-loads full track objects for all resolved ids so
// ingestion can upsert canonical entities. Failures degrade to bare
// identities rather than failing the import.
func (imp *Importer) fetchEntities(ctx context.Context, userID string, buckets map[string]*bucket) map[string]spotify.Track {
	seen := make(map[string]bool)
	var ids []string
	for _, b := range buckets {
		if b.resolved != nil && !seen[*b.resolved] {
			seen[*b.resolved] = true
			ids = append(ids, *b.resolved)
		}
	}

	entities := make(map[string]spotify.Track, len(ids))
	if len(ids) == 0 {
		return entities
	}

	token, err := imp.tokens.GetValidToken(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Msg("No token for entity fetch, importing bare identities")
		return entities
	}

	const chunkSize = 50
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		tracks, err := imp.search.GetTracksBatch(ctx, token, ids[start:end])
		if err != nil {
			logging.Warn().Err(err).Msg("Entity batch fetch failed, importing bare identities")
			continue
		}
		for _, t := range tracks {
			if t.ID != "" {
				entities[t.ID] = t
			}
		}
	}
	return entities
}

// unresolvedList builds the user-facing report of tracks that failed
// resolution, in first-seen order, capped.
func unresolvedList(buckets map[string]*bucket, order []string) []UnresolvedTrack {
	var unresolved []UnresolvedTrack
	for _, key := range order {
		b := buckets[key]
		if b.resolved != nil {
			continue
		}
		unresolved = append(unresolved, UnresolvedTrack{
			TrackName:  b.trackName,
			ArtistName: b.artistName,
			Count:      StringInt64(b.count),
		})
		if len(unresolved) >= maxUnresolvedReported {
			break
		}
	}
	return unresolved
}

// startLeaseHeartbeat extends the job's lease every interval until the
// returned stop function is called.
func (imp *Importer) startLeaseHeartbeat(ctx context.Context, job Job) func() {
	if job.Lease == nil || imp.cfg.LeaseInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(imp.cfg.LeaseInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := job.Lease.Extend(); err != nil {
					logging.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to extend import lease")
				}
			}
		}
	}()
	return func() { close(done) }
}

// complete marks the job COMPLETED. message carries the zero-added
// cause when there is one.
func (imp *Importer) complete(progress *Progress, message string) *Progress {
	progress.Status = StatusCompleted
	progress.ErrorMessage = message
	if err := imp.status.SaveProgress(progress); err != nil {
		logging.Error().Err(err).Str("job_id", progress.JobID).Msg("Failed to save terminal import status")
	}
	return progress
}

// terminalCause mirrors the task pool's settlement policy: these
// failures are acked rather than redelivered, so the job is over.
func terminalCause(err error) bool {
	return errors.Is(err, ErrFormatDetection) ||
		errors.Is(err, auth.ErrNoCredential) ||
		errors.Is(err, spotify.ErrClientError) ||
		errors.Is(err, spotify.ErrForbidden)
}

// fail records the cause verbatim. Causes the task pool will redeliver
// are reported as RETRYING rather than FAILED, so pollers of a job that
// ultimately succeeds never see a terminal status in between.
func (imp *Importer) fail(progress *Progress, cause error) *Progress {
	progress.Status = StatusRetrying
	if terminalCause(cause) {
		progress.Status = StatusFailed
	}
	progress.ErrorMessage = cause.Error()
	if err := imp.status.SaveProgress(progress); err != nil {
		logging.Error().Err(err).Str("job_id", progress.JobID).Msg("Failed to save import failure status")
	}
	return progress
}
