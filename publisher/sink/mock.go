package sink

import (
	"context"
	"sync"

	"github.com/jizhuozhi/go-future"

	"github.com/riverfall/changefeed/cfg"
	"github.com/riverfall/changefeed/publisher"
)

func init() {
	publisher.RegisterSink("mock", func(cfg.SinkConfiguration) (publisher.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink records enqueued messages for inspection in tests.
type MockSink struct {
	Messages   []MockMessage
	Flushes    int
	EnqueueErr error
	FlushErr   error

	mu      sync.Mutex
	pending []*future.Promise[error]
}

// MockMessage is one recorded message.
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Enqueue records the message, or fails with EnqueueErr when set.
func (m *MockSink) Enqueue(topic, key string, value []byte) (*future.Future[error], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EnqueueErr != nil {
		return nil, m.EnqueueErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic: topic,
		Key:   key,
		Value: value,
	})

	p := future.NewPromise[error]()
	m.pending = append(m.pending, p)
	return p.Future(), nil
}

// Flush counts the call and resolves pending delivery futures. FlushErr,
// when set, both fails the flush and resolves the futures with it.
func (m *MockSink) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		p.Set(nil, m.FlushErr)
	}

	if m.FlushErr != nil {
		return m.FlushErr
	}
	m.Flushes++
	return nil
}

// Close is a no-op for MockSink.
func (m *MockSink) Close() error {
	return nil
}

// Reset clears all recorded state.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.Flushes = 0
	m.pending = nil
}

// Recorded returns a snapshot of the recorded messages.
func (m *MockSink) Recorded() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.Messages))
	copy(out, m.Messages)
	return out
}
