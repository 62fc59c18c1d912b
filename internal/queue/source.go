// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/config"
	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
)

// Delivery is one in-flight task. Exactly one of Ack or Retry must be
// called; Extend may be called any number of times before that.
type Delivery interface {
	Task() *Task
	// Ack marks the task done (also used for terminal failures that
	// must not be retried).
	Ack() error
	// Retry reschedules the task after delay.
	Retry(delay time.Duration) error
	// Extend renews the processing lease so the broker does not
	// redeliver a long-running task as stalled.
	Extend() error
}

// Source yields task deliveries.
type Source interface {
	Fetch(ctx context.Context, batch int) ([]Delivery, error)
	Close() error
}

// JetStreamSource pulls tasks from a durable JetStream consumer. Pull
// consumption (rather than the watermill push subscriber) is used
// because imports need per-message lease extension, which only the raw
// message handle exposes.
type JetStreamSource struct {
	conn *natsgo.Conn
	sub  *natsgo.Subscription
}

// NewJetStreamSource connects, provisions the stream if missing, and
// binds a durable pull consumer shared by all worker instances.
func NewJetStreamSource(cfg *config.QueueConfig) (*JetStreamSource, error) {
	conn, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if err := ensureStream(js, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(cfg.TaskSubject, cfg.DurableName,
		natsgo.AckWait(cfg.AckWait),
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.BindStream(cfg.Stream),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pull subscribe %s: %w", cfg.TaskSubject, err)
	}

	return &JetStreamSource{conn: conn, sub: sub}, nil
}

// ensureStream provisions the task stream idempotently. Duplicate
// publishes within the dedup window are dropped by message id.
func ensureStream(js natsgo.JetStreamContext, cfg *config.QueueConfig) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, natsgo.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", cfg.Stream, err)
	}

	_, err = js.AddStream(&natsgo.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.TaskSubject, cfg.BackfillTopic},
		Retention:  natsgo.WorkQueuePolicy,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	logging.Info().Str("stream", cfg.Stream).Msg("Task stream created")
	return nil
}

// Fetch pulls up to batch deliveries, waiting briefly when the queue
// is empty. An empty slice with a nil error means "nothing right now".
func (s *JetStreamSource) Fetch(ctx context.Context, batch int) ([]Delivery, error) {
	msgs, err := s.sub.Fetch(batch, natsgo.Context(ctx))
	if err != nil {
		if errors.Is(err, natsgo.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		task, err := DecodeTask(msg.Data)
		if err != nil {
			// Undecodable envelopes can never succeed; drop them.
			logging.Error().Err(err).Msg("Dropping undecodable task")
			if ackErr := msg.Ack(); ackErr != nil {
				logging.Warn().Err(ackErr).Msg("Failed to ack undecodable task")
			}
			continue
		}
		deliveries = append(deliveries, &jsDelivery{msg: msg, task: task})
	}
	return deliveries, nil
}

// Close drains the subscription and closes the connection.
func (s *JetStreamSource) Close() error {
	if err := s.sub.Drain(); err != nil {
		logging.Warn().Err(err).Msg("Failed to drain subscription")
	}
	s.conn.Close()
	return nil
}

type jsDelivery struct {
	msg  *natsgo.Msg
	task *Task
}

var _ Delivery = (*jsDelivery)(nil)

func (d *jsDelivery) Task() *Task { return d.task }

func (d *jsDelivery) Ack() error { return d.msg.Ack() }

func (d *jsDelivery) Retry(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *jsDelivery) Extend() error { return d.msg.InProgress() }
