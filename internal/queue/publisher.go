// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/config"
)

// Publisher enqueues tasks over JetStream with message-id tracking so
// duplicate submissions within the dedup window collapse to one task.
type Publisher struct {
	pub           message.Publisher
	taskSubject   string
	backfillTopic string

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a watermill NATS publisher. The stream itself is
// provisioned by the task source; the publisher only binds to it.
func NewPublisher(cfg *config.QueueConfig) (*Publisher, error) {
	logger := NewWatermillLogger()

	wmConfig := wmNats.PublisherConfig{
		URL: cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{
		pub:           pub,
		taskSubject:   cfg.TaskSubject,
		backfillTopic: cfg.BackfillTopic,
	}, nil
}

// EnqueueSync requests a history sync for a user.
func (p *Publisher) EnqueueSync(ctx context.Context, userID string, skipCooldown bool) error {
	return p.publish(ctx, p.taskSubject, &Task{
		Type:         TypeSync,
		UserID:       userID,
		SkipCooldown: skipCooldown,
	})
}

// EnqueueImport submits a history file for bulk import and returns the
// job id to poll for progress.
func (p *Publisher) EnqueueImport(ctx context.Context, userID, fileName string, data []byte) (string, error) {
	task := &Task{
		Type:     TypeImport,
		UserID:   userID,
		JobID:    uuid.NewString(),
		FileName: fileName,
	}
	task.SetFileBytes(data)
	if err := p.publish(ctx, p.taskSubject, task); err != nil {
		return "", err
	}
	return task.JobID, nil
}

// EnqueueArtistBackfill requests metadata enrichment for an artist.
// Implements the ingestor's task enqueuer.
func (p *Publisher) EnqueueArtistBackfill(ctx context.Context, artistID string) error {
	return p.publish(ctx, p.backfillTopic, &Task{
		Type:     TypeArtistBackfill,
		ArtistID: artistID,
	})
}

func (p *Publisher) publish(_ context.Context, topic string, task *Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	payload, err := task.Encode()
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	// The broker deduplicates by Nats-Msg-Id within its window.
	msg.Metadata.Set(natsgo.MsgIdHdr, task.DedupID())

	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s task: %w", task.Type, err)
	}
	return nil
}

// Close shuts down the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.pub.Close()
}
