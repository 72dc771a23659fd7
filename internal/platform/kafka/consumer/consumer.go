// Package consumer wraps the franz-go group consumer for the subscribe side
// of the event channel.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one delivered record, decoupled from the kgo types so handlers
// stay transport-agnostic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Handler processes a single message. Returning an error leaves the message
// uncommitted: the record is retried, and after a rebalance or reconnect the
// group redelivers it. That is the at-least-once contract handlers must
// tolerate.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer runs a Kafka group consumer and feeds records to a Handler. The
// client owns reconnecting to the broker; Run only has to be safe to resume
// after any interruption, so no per-record state lives outside the store the
// handler writes to.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
	backoff time.Duration
}

// New builds a group consumer subscribed to the given topics. Offsets start
// from the beginning so a fresh group materializes the full history.
func New(brokers []string, group string, topics []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}
	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		backoff: 2 * time.Second,
	}, nil
}

// Run polls until ctx is cancelled. Fetch errors are logged and polling
// continues; the client reconnects underneath.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started")
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			c.handleRecord(ctx, rec)
		})
	}
}

// handleRecord retries a failing record with backoff instead of skipping it.
// Only a successfully handled record is marked for commit, so an unhandled
// fact is never silently lost. The retry runs in-line in the poll loop: a
// persistently failing record stalls every partition assigned to this
// consumer instance until it succeeds or the process is replaced.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) {
	msg := &Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}
	for {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			c.client.MarkCommitRecords(rec)
			return
		}
		c.logger.Error("message processing failed, will retry",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
