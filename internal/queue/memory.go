// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package queue

import (
	"context"
	"sync"
	"time"
)

// MemorySource is an in-process task queue used in tests and for
// single-node deployments without a broker. It mirrors JetStream
// semantics: at-least-once delivery, dedup by message id, delayed
// redelivery on Retry.
type MemorySource struct {
	mu      sync.Mutex
	pending []*memDelivery
	dedup   map[string]bool
	closed  bool
}

// NewMemorySource creates an empty in-process queue.
func NewMemorySource() *MemorySource {
	return &MemorySource{dedup: make(map[string]bool)}
}

// Enqueue adds a task. Tasks whose dedup id was already seen are
// dropped silently, matching broker behavior.
func (m *MemorySource) Enqueue(task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	id := task.DedupID()
	if m.dedup[id] {
		return
	}
	m.dedup[id] = true
	m.pending = append(m.pending, &memDelivery{source: m, task: task})
}

// EnqueueSync mirrors the publisher surface.
func (m *MemorySource) EnqueueSync(_ context.Context, userID string, skipCooldown bool) error {
	m.Enqueue(&Task{Type: TypeSync, UserID: userID, SkipCooldown: skipCooldown})
	return nil
}

// EnqueueArtistBackfill mirrors the publisher surface.
func (m *MemorySource) EnqueueArtistBackfill(_ context.Context, artistID string) error {
	m.Enqueue(&Task{Type: TypeArtistBackfill, ArtistID: artistID})
	return nil
}

// Fetch returns up to batch ready deliveries without blocking.
func (m *MemorySource) Fetch(ctx context.Context, batch int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var out []Delivery
	for _, d := range m.pending {
		if len(out) >= batch {
			break
		}
		if d.inFlight || now.Before(d.readyAt) {
			continue
		}
		d.inFlight = true
		out = append(out, d)
	}
	return out, nil
}

// Close discards pending tasks.
func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pending = nil
	return nil
}

// Len reports tasks not yet acked, for test assertions.
func (m *MemorySource) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

type memDelivery struct {
	source   *MemorySource
	task     *Task
	inFlight bool
	readyAt  time.Time
	extends  int
}

var _ Delivery = (*memDelivery)(nil)

func (d *memDelivery) Task() *Task { return d.task }

func (d *memDelivery) Ack() error {
	d.source.mu.Lock()
	defer d.source.mu.Unlock()
	for i, p := range d.source.pending {
		if p == d {
			d.source.pending = append(d.source.pending[:i], d.source.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (d *memDelivery) Retry(delay time.Duration) error {
	d.source.mu.Lock()
	defer d.source.mu.Unlock()
	d.inFlight = false
	d.readyAt = time.Now().Add(delay)
	return nil
}

func (d *memDelivery) Extend() error {
	d.source.mu.Lock()
	defer d.source.mu.Unlock()
	d.extends++
	return nil
}
