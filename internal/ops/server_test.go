// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package ops

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/importer"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := NewRouter(fakePinger{}, importer.NewInMemoryStatusStore())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		router := NewRouter(fakePinger{err: errors.New("db gone")}, importer.NewInMemoryStatusStore())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestJobProgress(t *testing.T) {
	status := importer.NewInMemoryStatusStore()
	if err := status.SaveProgress(&importer.Progress{
		JobID:          "job1",
		Status:         importer.StatusRunning,
		Phase:          importer.PhaseResolution,
		ResolvedTracks: 7,
	}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	router := NewRouter(fakePinger{}, status)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/job1", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var progress importer.Progress
		if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if progress.Status != importer.StatusRunning || progress.ResolvedTracks != 7 {
			t.Errorf("progress = %+v", progress)
		}
		// Counters travel as decimal strings.
		if !strings.Contains(rec.Body.String(), `"resolvedTracks":"7"`) {
			t.Errorf("body = %s", rec.Body.String())
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(fakePinger{}, importer.NewInMemoryStatusStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}
