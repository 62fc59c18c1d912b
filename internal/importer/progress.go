// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package importer

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

// Job statuses. An import always terminates in COMPLETED or FAILED;
// RETRYING marks a transient failure the task scheduler will redeliver.
const (
	StatusRunning   = "RUNNING"
	StatusRetrying  = "RETRYING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Phases within a running import.
const (
	PhaseResolution      = "resolution"
	PhaseMaterialization = "materialization"
)

// StringInt64 is a 64-bit counter encoded as a decimal string at the
// wire boundary, for external consumers that parse JSON numbers into
// floats. Plain numbers are still accepted on input.
type StringInt64 int64

func (v StringInt64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(v), 10))
}

func (v *StringInt64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse counter %q: %w", s, err)
		}
		*v = StringInt64(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parse counter: %w", err)
	}
	*v = StringInt64(n)
	return nil
}

// UnresolvedTrack is user-facing feedback for a track that failed
// resolution.
type UnresolvedTrack struct {
	TrackName  string      `json:"trackName"`
	ArtistName string      `json:"artistName"`
	Count      StringInt64 `json:"count"`
}

// Progress is the externally-polled status record for one import job.
type Progress struct {
	JobID             string            `json:"jobId"`
	Status            string            `json:"status"`
	Phase             string            `json:"phase,omitempty"`
	TotalUniqueTracks StringInt64       `json:"totalUniqueTracks"`
	ResolvedTracks    StringInt64       `json:"resolvedTracks"`
	TotalRecords      StringInt64       `json:"totalRecords"`
	ProcessedRecords  StringInt64       `json:"processedRecords"`
	AddedRecords      StringInt64       `json:"addedRecords"`
	UpdatedRecords    StringInt64       `json:"updatedRecords"`
	SkippedRecords    StringInt64       `json:"skippedRecords"`
	UnresolvedTracks  []UnresolvedTrack `json:"unresolvedTracks,omitempty"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// StatusStore persists progress records for external polling.
type StatusStore interface {
	SaveProgress(progress *Progress) error
	LoadProgress(jobID string) (*Progress, bool, error)
}

// BadgerStatusStore keeps progress records in Badger, surviving worker
// restarts so pollers never lose a job's terminal state.
type BadgerStatusStore struct {
	db *badger.DB
}

// NewBadgerStatusStore opens (or creates) the status store at path.
func NewBadgerStatusStore(path string) (*BadgerStatusStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	return &BadgerStatusStore{db: db}, nil
}

// Close closes the underlying Badger database.
func (s *BadgerStatusStore) Close() error {
	return s.db.Close()
}

func progressKey(jobID string) []byte {
	return []byte("import:job:" + jobID + ":progress")
}

// SaveProgress writes the record, stamping UpdatedAt.
func (s *BadgerStatusStore) SaveProgress(progress *Progress) error {
	progress.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(progressKey(progress.JobID), data)
	})
	if err != nil {
		return fmt.Errorf("save progress %s: %w", progress.JobID, err)
	}
	return nil
}

// LoadProgress reads a job's record; false when the job is unknown.
func (s *BadgerStatusStore) LoadProgress(jobID string) (*Progress, bool, error) {
	var progress Progress
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(progressKey(jobID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &progress)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load progress %s: %w", jobID, err)
	}
	return &progress, true, nil
}

// InMemoryStatusStore is a StatusStore for tests.
type InMemoryStatusStore struct {
	mu      sync.Mutex
	records map[string]Progress
}

func NewInMemoryStatusStore() *InMemoryStatusStore {
	return &InMemoryStatusStore{records: make(map[string]Progress)}
}

func (s *InMemoryStatusStore) SaveProgress(progress *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress.UpdatedAt = time.Now().UTC()
	s.records[progress.JobID] = *progress
	return nil
}

func (s *InMemoryStatusStore) LoadProgress(jobID string) (*Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if progress, ok := s.records[jobID]; ok {
		copied := progress
		return &copied, true, nil
	}
	return nil, false, nil
}
