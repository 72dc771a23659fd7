// Package producer wraps the franz-go client for the publish side of the
// event channel.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	// recordDeliveryTimeout caps how long a record may sit buffered while the
	// client retries. Without it franz-go retries forever and ProduceSync
	// never resolves during a broker outage.
	recordDeliveryTimeout = 10 * time.Second
	produceRequestTimeout = 5 * time.Second
)

// Producer publishes records to Kafka. The client connects lazily; a broker
// outage at construction time does not fail startup, it surfaces on Publish.
type Producer struct {
	client *kgo.Client
}

// New builds a producer against the given seed brokers. Extra options are
// applied after the defaults and may override them.
func New(brokers []string, opts ...kgo.Opt) (*Producer, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(recordDeliveryTimeout),
		kgo.ProduceRequestTimeout(produceRequestTimeout),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}
	return &Producer{client: client}, nil
}

// Publish sends value to topic keyed by key and waits for the broker ack.
// The wait is bounded by the delivery timeout; an unreachable broker turns
// into an error, never an indefinite block. Callers own the failure policy;
// this layer only reports.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}
