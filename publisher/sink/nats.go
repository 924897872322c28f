package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/riverfall/changefeed/cfg"
	"github.com/riverfall/changefeed/publisher"
)

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink implements publisher.Sink over NATS JetStream. Enqueue publishes
// asynchronously; Flush waits until the server has acknowledged every
// outstanding publish and resolves each message's promise with its ack
// outcome, so the enqueuing request sees the result even when a concurrent
// request's flush carried its messages.
type NatsSink struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu      sync.Mutex
	pending []pendingPublish
	streams map[string]struct{}
}

type pendingPublish struct {
	ack     jetstream.PubAckFuture
	promise *future.Promise[error]
}

// NewNatsSink connects to NATS and creates a JetStream context.
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: make(map[string]struct{})}, nil
}

// Enqueue publishes the message asynchronously, ensuring the stream for
// the topic exists first. The key rides along as a header for consumers
// that partition by entity. The returned future resolves once the server
// has acknowledged or rejected the publish.
func (n *NatsSink) Enqueue(topic, key string, value []byte) (*future.Future[error], error) {
	if err := n.ensureStream(topic); err != nil {
		return nil, err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}

	ack, err := n.js.PublishMsgAsync(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p := future.NewPromise[error]()
	n.mu.Lock()
	n.pending = append(n.pending, pendingPublish{ack: ack, promise: p})
	n.mu.Unlock()
	return p.Future(), nil
}

// Flush takes the pending publishes, blocks until the server has settled
// every outstanding publish, and resolves each taken promise with its ack
// outcome.
func (n *NatsSink) Flush(ctx context.Context) error {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	select {
	case <-n.js.PublishAsyncComplete():
	case <-ctx.Done():
		err := fmt.Errorf("flush interrupted: %w", ctx.Err())
		for _, pp := range pending {
			pp.promise.Set(nil, err)
		}
		return err
	}

	var firstErr error
	for _, pp := range pending {
		select {
		case err := <-pp.ack.Err():
			wrapped := fmt.Errorf("publish not acknowledged: %w", err)
			pp.promise.Set(nil, wrapped)
			if firstErr == nil {
				firstErr = wrapped
			}
		default:
			pp.promise.Set(nil, nil)
		}
	}
	return firstErr
}

// Close drains the connection.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

func (n *NatsSink) ensureStream(topic string) error {
	n.mu.Lock()
	_, known := n.streams[topic]
	n.mu.Unlock()
	if known {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.mu.Lock()
	n.streams[topic] = struct{}{}
	n.mu.Unlock()
	return nil
}

// sanitizeStreamName converts a topic to a valid JetStream stream name.
// Stream names can't contain "." so it becomes "_".
func sanitizeStreamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}
