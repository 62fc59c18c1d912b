// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package main is the entry point for the ingestion worker.
//
// The worker consumes sync, import and artist-backfill tasks from NATS
// JetStream, walks the provider's recently-played history backwards,
// runs two-phase bulk imports of history export files, and persists
// everything into DuckDB under idempotent precedence rules.
//
// Components start in this order:
//
//  1. Configuration: koanf layering of defaults, config.yaml and
//     environment variables
//  2. DuckDB event store and Badger import-status store
//  3. Provider client behind the shared adaptive rate limiter and
//     circuit breaker
//  4. Task queue: JetStream pull consumer plus watermill publisher
//  5. Engines: sync, import, artist enrichment
//  6. Supervisor tree: worker pool and ops HTTP server
//
// Shutdown on SIGINT/SIGTERM is graceful: in-flight tasks finish or
// are left unacked for redelivery, then stores close.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/auth"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/config"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/database"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/importer"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/ingest"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/ops"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/queue"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/resilience"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/spotify"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/sync"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/worker"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Worker exited with error")
		os.Exit(1)
	}
}

// run owns all deferred closers so they execute before the process
// decides its exit code.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("queue_url", cfg.Queue.URL).
		Msg("Starting ingestion worker")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	status, err := importer.NewBadgerStatusStore(cfg.Status.Path)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}
	defer func() {
		if err := status.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing status store")
		}
	}()

	// One limiter and one breaker for all provider traffic.
	registry := resilience.NewRegistry(
		resilience.LimiterConfig{
			InitialRate:    cfg.RateLimit.InitialRate,
			FloorRate:      cfg.RateLimit.FloorRate,
			Burst:          cfg.RateLimit.Burst,
			IncreaseAfter:  cfg.RateLimit.IncreaseAfter,
			IncreaseFactor: cfg.RateLimit.IncreaseFactor,
		},
		resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Window:           cfg.Breaker.Window,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
		},
		spotify.CountsAsBreakerFailure,
	)

	client := spotify.NewClient(spotify.ClientConfig{
		APIBaseURL:      cfg.Spotify.APIBaseURL,
		AccountsBaseURL: cfg.Spotify.AccountsBaseURL,
		ClientID:        cfg.Spotify.ClientID,
		ClientSecret:    cfg.Spotify.ClientSecret,
		Timeout:         cfg.Spotify.Timeout,
	})
	guarded := spotify.NewGuardedClient(client, registry, cfg.Spotify.RetryAttempts, cfg.Spotify.RetryDelay)

	publisher, err := queue.NewPublisher(&cfg.Queue)
	if err != nil {
		return fmt.Errorf("create task publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing task publisher")
		}
	}()

	source, err := queue.NewJetStreamSource(&cfg.Queue)
	if err != nil {
		return fmt.Errorf("create task source: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing task source")
		}
	}()

	tokens := auth.NewProvider(db, guarded, cfg.Auth.MaxAuthFailures)
	ingestor := ingest.New(db, publisher, cfg.Ingest.SkipThresholdMs)
	enricher := ingest.NewEnricher(guarded, db)

	syncEngine := sync.NewEngine(guarded, tokens, ingestor, db, sync.Config{
		Cooldown: cfg.Sync.Cooldown,
		PageSize: cfg.Sync.PageSize,
		MaxPages: cfg.Sync.MaxPages,
	})

	importEngine := importer.New(guarded, tokens, db, ingestor, status, importer.Config{
		BatchSize:        cfg.Import.BatchSize,
		SearchLimit:      cfg.Import.SearchLimit,
		MinPlayedMs:      cfg.Import.MinPlayedMs,
		MaxFallbackBytes: cfg.Import.MaxFallbackBytes,
		LeaseInterval:    cfg.Import.LeaseInterval,
	})

	pool := worker.NewPool(source, syncEngine, importEngine, enricher, worker.Config{
		SyncConcurrency: cfg.Sync.Concurrency,
		FetchBatch:      cfg.Queue.FetchBatch,
	})

	opsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	opsService := ops.NewService(opsAddr, ops.NewRouter(db, status), cfg.Server.Timeout)

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	root := suture.New("ingestion-worker", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	root.Add(pool)
	root.Add(opsService)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = root.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("Ingestion worker stopped")
	return nil
}
