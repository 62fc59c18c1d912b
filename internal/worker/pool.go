// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package worker runs the task pool: a fetch loop pulling from the
// queue and bounded worker goroutines dispatching by task type.
package worker

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/auth"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/importer"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/metrics"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/queue"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/sync"
)

// SyncRunner runs one backward history walk for a user.
type SyncRunner interface {
	Run(ctx context.Context, userID string, skipCooldown bool) (*sync.Summary, error)
}

// ImportRunner runs one bulk import job.
type ImportRunner interface {
	Run(ctx context.Context, job importer.Job) (*importer.Progress, error)
}

// ArtistEnricher backfills artist metadata.
type ArtistEnricher interface {
	EnrichArtist(ctx context.Context, artistID string) error
}

// Config holds pool tuning.
type Config struct {
	// SyncConcurrency bounds concurrent sync and backfill tasks.
	// Imports always run on a single dedicated worker: they are
	// long-lived and memory-heavy.
	SyncConcurrency int
	FetchBatch      int
	// RetryDelay is the redelivery delay for transient failures that
	// carry no advertised wait of their own.
	RetryDelay time.Duration
	// IdleWait is the pause between fetches when the queue is empty.
	IdleWait time.Duration
}

// Pool consumes the task queue and dispatches to the engines.
type Pool struct {
	source   queue.Source
	syncs    SyncRunner
	imports  ImportRunner
	enricher ArtistEnricher
	cfg      Config
}

// NewPool creates a task pool.
func NewPool(source queue.Source, syncs SyncRunner, imports ImportRunner, enricher ArtistEnricher, cfg Config) *Pool {
	if cfg.SyncConcurrency <= 0 {
		cfg.SyncConcurrency = 1
	}
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = cfg.SyncConcurrency
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = time.Second
	}
	return &Pool{source: source, syncs: syncs, imports: imports, enricher: enricher, cfg: cfg}
}

// Serve runs the pool until ctx is canceled. It satisfies the
// supervisor's service contract.
func (p *Pool) Serve(ctx context.Context) error {
	syncCh := make(chan queue.Delivery)
	importCh := make(chan queue.Delivery)

	var wg gosync.WaitGroup
	for i := 0; i < p.cfg.SyncConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range syncCh {
				p.handle(ctx, d)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := range importCh {
			p.handle(ctx, d)
		}
	}()

	err := p.fetchLoop(ctx, syncCh, importCh)
	close(syncCh)
	close(importCh)
	wg.Wait()
	return err
}

func (p *Pool) fetchLoop(ctx context.Context, syncCh, importCh chan<- queue.Delivery) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := p.source.Fetch(ctx, p.cfg.FetchBatch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().Err(err).Msg("Task fetch failed")
			if !sleepCtx(ctx, p.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		if len(deliveries) == 0 {
			if !sleepCtx(ctx, p.cfg.IdleWait) {
				return ctx.Err()
			}
			continue
		}

		for _, d := range deliveries {
			if d.Task().Type == queue.TypeImport {
				// Never block the batch behind the single import
				// worker: while it chews on a long job, a blocked
				// hand-off would starve every later delivery and let
				// their ack deadlines lapse. A busy worker means the
				// delivery goes back to the broker instead.
				select {
				case importCh <- d:
				default:
					if err := d.Retry(p.cfg.RetryDelay); err != nil {
						logging.Error().Err(err).Str("job_id", d.Task().JobID).
							Msg("Failed to requeue import task")
					}
					metrics.TasksProcessed.WithLabelValues(queue.TypeImport, "requeued").Inc()
				}
				continue
			}
			select {
			case syncCh <- d:
			case <-ctx.Done():
				// Leave the delivery unacked; the broker redelivers
				// after the ack deadline.
				return ctx.Err()
			}
		}
	}
}

// handle executes one delivery and settles it with the broker.
func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	task := d.Task()
	metrics.TasksInFlight.WithLabelValues(task.Type).Inc()
	defer metrics.TasksInFlight.WithLabelValues(task.Type).Dec()

	start := time.Now()
	err := p.execute(ctx, task, d)
	p.settle(d, err)

	logging.Debug().
		Str("type", task.Type).
		Str("user_id", task.UserID).
		Dur("took", time.Since(start)).
		Err(err).
		Msg("Task handled")
}

func (p *Pool) execute(ctx context.Context, task *queue.Task, d queue.Delivery) error {
	switch task.Type {
	case queue.TypeSync:
		_, err := p.syncs.Run(ctx, task.UserID, task.SkipCooldown)
		return err

	case queue.TypeImport:
		data, err := task.FileBytes()
		if err != nil {
			// A corrupt payload can never succeed.
			return fmt.Errorf("%w: %v", errTerminal, err)
		}
		_, err = p.imports.Run(ctx, importer.Job{
			UserID:   task.UserID,
			JobID:    task.JobID,
			FileName: task.FileName,
			Data:     data,
			Lease:    d,
		})
		return err

	case queue.TypeArtistBackfill:
		return p.enricher.EnrichArtist(ctx, task.ArtistID)

	default:
		return fmt.Errorf("%w: unknown task type %q", errTerminal, task.Type)
	}
}

// errTerminal marks failures that retrying cannot fix.
var errTerminal = errors.New("terminal task failure")

// settle acks or reschedules the delivery based on the failure class.
// Terminal failures are acked: redelivering them would fail forever
// and exhaust the delivery budget for nothing.
func (p *Pool) settle(d queue.Delivery, err error) {
	task := d.Task()

	var outcome string
	var settleErr error
	switch {
	case err == nil:
		outcome = "ok"
		settleErr = d.Ack()

	case errors.Is(err, context.Canceled):
		// Shutdown mid-task: redeliver promptly elsewhere.
		outcome = "retry"
		settleErr = d.Retry(0)

	default:
		if retryAfter, ok := spotify.AsRateLimit(err); ok {
			outcome = "retry"
			settleErr = d.Retry(retryAfter)
			break
		}
		if isTerminal(err) {
			outcome = "terminal"
			logging.Warn().Err(err).Str("type", task.Type).Str("user_id", task.UserID).
				Msg("Task failed terminally")
			settleErr = d.Ack()
			break
		}
		outcome = "retry"
		logging.Warn().Err(err).Str("type", task.Type).Str("user_id", task.UserID).
			Dur("retry_in", p.cfg.RetryDelay).Msg("Task failed, rescheduling")
		settleErr = d.Retry(p.cfg.RetryDelay)
	}

	metrics.TasksProcessed.WithLabelValues(task.Type, outcome).Inc()
	if settleErr != nil {
		logging.Error().Err(settleErr).Str("type", task.Type).Msg("Failed to settle task")
	}
}

// isTerminal reports failures no amount of redelivery can fix: missing
// or revoked credentials, undetectable file formats, provider
// rejections of the request itself.
func isTerminal(err error) bool {
	return errors.Is(err, errTerminal) ||
		errors.Is(err, auth.ErrNoCredential) ||
		errors.Is(err, importer.ErrFormatDetection) ||
		errors.Is(err, spotify.ErrClientError) ||
		errors.Is(err, spotify.ErrForbidden)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
