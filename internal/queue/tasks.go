// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

// Package queue is the task transport: envelopes, a JetStream pull
// source with lease extension, and a watermill publisher for
// fire-and-forget tasks.
package queue

import (
	"encoding/base64"
	"fmt"

	json "github.com/goccy/go-json"
)

// Task types.
const (
	TypeSync           = "sync"
	TypeImport         = "import"
	TypeArtistBackfill = "artist_backfill"
)

// Task is the wire envelope for all queue tasks. Delivery is
// at-least-once; every handler must be safe to re-invoke with the same
// payload.
type Task struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`

	// Sync fields.
	SkipCooldown bool `json:"skipCooldown,omitempty"`
	Iteration    int  `json:"iteration,omitempty"`

	// Import fields.
	JobID           string `json:"jobId,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileBytesBase64 string `json:"fileBytesBase64,omitempty"`

	// Artist backfill fields.
	ArtistID string `json:"artistId,omitempty"`
}

// DedupID is the message id used for broker-level deduplication: one
// sync per user, one import per job, one backfill per artist within
// the dedup window.
func (t *Task) DedupID() string {
	switch t.Type {
	case TypeSync:
		return "sync:" + t.UserID
	case TypeImport:
		return "import:" + t.JobID
	case TypeArtistBackfill:
		return "backfill:" + t.ArtistID
	default:
		return t.Type + ":" + t.UserID
	}
}

// FileBytes decodes the import payload.
func (t *Task) FileBytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(t.FileBytesBase64)
	if err != nil {
		return nil, fmt.Errorf("decode import file payload: %w", err)
	}
	return data, nil
}

// SetFileBytes encodes the import payload.
func (t *Task) SetFileBytes(data []byte) {
	t.FileBytesBase64 = base64.StdEncoding.EncodeToString(data)
}

// Encode marshals the envelope.
func (t *Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// DecodeTask unmarshals an envelope.
func DecodeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if task.Type == "" {
		return nil, fmt.Errorf("decode task: missing type")
	}
	return &task, nil
}
