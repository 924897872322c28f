// Package sink provides broker client implementations of publisher.Sink.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/jizhuozhi/go-future"
	"github.com/segmentio/kafka-go"

	"github.com/riverfall/changefeed/cfg"
	"github.com/riverfall/changefeed/publisher"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewKafkaSink(KafkaConfig{
			Brokers:   config.Brokers,
			BatchSize: config.BatchSize,
		})
	})
}

// KafkaSink implements publisher.Sink over a shared kafka writer. Enqueued
// messages accumulate in a process-wide pending buffer; Flush swaps the
// buffer out and writes it synchronously. Like a shared producer queue,
// one request's flush may deliver messages enqueued by a concurrent
// request. Every message carries a promise that the delivering flush
// resolves with the write outcome, so the enqueuing request learns the
// result even when its own flush found the buffer already taken.
type KafkaSink struct {
	writer *kafka.Writer
	write  func(ctx context.Context, batch ...kafka.Message) error

	mu       sync.Mutex
	pending  []kafka.Message
	promises []*future.Promise[error]
}

// KafkaConfig holds configuration for KafkaSink.
type KafkaConfig struct {
	Brokers    []string
	BatchSize  int
	BatchBytes int64
}

// NewKafkaSink creates a KafkaSink with synchronous, fully acknowledged
// writes. The Hash balancer keeps all events for one entity on one
// partition, preserving per-entity ordering for consumers.
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer, write: writer.WriteMessages}, nil
}

// Enqueue buffers a message for the next flush. The returned future
// resolves once a flush has written the message.
func (k *KafkaSink) Enqueue(topic, key string, value []byte) (*future.Future[error], error) {
	p := future.NewPromise[error]()

	k.mu.Lock()
	defer k.mu.Unlock()

	k.pending = append(k.pending, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	k.promises = append(k.promises, p)
	return p.Future(), nil
}

// Flush takes the pending buffer, writes it, and blocks until the broker
// acknowledges the batch. The write outcome is propagated to every
// message's promise, including messages other requests enqueued.
func (k *KafkaSink) Flush(ctx context.Context) error {
	k.mu.Lock()
	batch, promises := k.pending, k.promises
	k.pending, k.promises = nil, nil
	k.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := k.write(ctx, batch...)
	for _, p := range promises {
		p.Set(nil, err)
	}

	if err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close releases the writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
