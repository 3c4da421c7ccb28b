// Package events consumes "VOD available" notifications from Kafka and turns them into
// reconcile work.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/reconcile"
)

// VODAvailable announces that a streamer has a new or updated archive. When VODID and
// StartedAt are present the message carries a full descriptor and is reconciled directly;
// otherwise it only nudges the scheduler to look the VOD up.
type VODAvailable struct {
	StreamerID      string    `json:"streamer_id"`
	VODID           string    `json:"vod_id,omitempty"`
	StreamID        string    `json:"stream_id,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
}

// Decode parses a message value.
func Decode(b []byte) (VODAvailable, error) {
	var m VODAvailable
	if err := json.Unmarshal(b, &m); err != nil {
		return VODAvailable{}, fmt.Errorf("decode vod event: %w", err)
	}
	m.StreamerID = capture.CanonicalStreamer(m.StreamerID)
	if m.StreamerID == "" {
		return VODAvailable{}, errors.New("decode vod event: streamer_id missing")
	}
	if m.DurationSeconds < 0 {
		return VODAvailable{}, errors.New("decode vod event: negative duration")
	}
	return m, nil
}

// Descriptor returns the VOD carried by the message, if complete.
func (m VODAvailable) Descriptor() (capture.VOD, bool) {
	if m.VODID == "" || m.StartedAt.IsZero() {
		return capture.VOD{}, false
	}
	return capture.VOD{
		ID:              m.VODID,
		StreamerID:      m.StreamerID,
		StreamID:        m.StreamID,
		StartedAt:       m.StartedAt.UTC(),
		DurationSeconds: m.DurationSeconds,
	}, true
}

// Notifier queues a streamer for reconciliation.
type Notifier interface {
	Notify(streamerID string)
}

// Dispatcher routes decoded events to the reconcile service.
type Dispatcher struct {
	Service   *reconcile.Service
	Scheduler Notifier
}

// Handle reconciles a full descriptor immediately and falls back to the scheduler when the
// descriptor is partial or the pass cannot run now.
func (d *Dispatcher) Handle(ctx context.Context, m VODAvailable) {
	logger := slog.Default().With(slog.String("component", "vod_events"), slog.String("streamer", m.StreamerID))
	vod, ok := m.Descriptor()
	if !ok {
		d.Scheduler.Notify(m.StreamerID)
		return
	}
	n, err := d.Service.Reconcile(ctx, m.StreamerID, vod)
	switch {
	case err == nil:
		logger.Info("reconciled from event", slog.String("vod_id", vod.ID), slog.Int("linked", n))
	case errors.Is(err, reconcile.ErrInProgress), capture.IsTransient(err):
		logger.Debug("event reconcile deferred", slog.Any("err", err))
		d.Scheduler.Notify(m.StreamerID)
	default:
		logger.Warn("event reconcile failed", slog.Any("err", err))
	}
}

// Consumer reads VOD events from a Kafka topic as part of a consumer group.
type Consumer struct {
	reader     *kafka.Reader
	dispatcher *Dispatcher
}

// NewConsumer returns a consumer for topic. Messages are committed after they are handled.
func NewConsumer(brokers []string, topic, groupID string, d *Dispatcher) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     2 * time.Second,
	})
	return &Consumer{reader: reader, dispatcher: d}
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("vod event consumer started", slog.String("topic", c.reader.Config().Topic))
	defer func() {
		if err := c.reader.Close(); err != nil {
			slog.Warn("failed to close kafka reader", slog.Any("err", err))
		}
	}()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("vod event consumer stopped")
				return nil
			}
			slog.Warn("kafka fetch failed", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		m, err := Decode(msg.Value)
		if err != nil {
			slog.Warn("dropping malformed vod event", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		} else {
			c.dispatcher.Handle(ctx, m)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("kafka commit failed", slog.Any("err", err))
		}
	}
}

// Publisher writes VOD events so every replica consuming the topic sees them.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher returns a synchronous publisher for topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

// Publish sends m keyed by streamer so one streamer's events stay ordered.
func (p *Publisher) Publish(ctx context.Context, m VODAvailable) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(m.StreamerID), Value: b})
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error { return p.writer.Close() }
