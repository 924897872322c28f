// Package publisher hands assembled change messages to a message broker.
// The broker client (Sink) is a process-wide shared resource; the
// Publisher itself is stateless and safe for concurrent use from many
// requests at once.
package publisher

import (
	"context"
	"fmt"

	"github.com/jizhuozhi/go-future"
)

// Sink is the broker client abstraction. Enqueue buffers a message for
// delivery and returns a future that resolves with the message's delivery
// outcome. Flush triggers delivery of the buffered batch and blocks until
// the broker has acknowledged or rejected it.
//
// Implementations must be safe for concurrent use: enqueues and flushes
// from concurrent requests share one client, so a flush may deliver
// messages enqueued by a concurrent request (shared-producer semantics).
// The future is what routes each outcome back to the request that enqueued
// the message, whichever flush ends up delivering it.
type Sink interface {
	Enqueue(topic, key string, value []byte) (*future.Future[error], error)
	Flush(ctx context.Context) error
	Close() error
}

// DeliveryError is the only error this pipeline surfaces to the request:
// the broker could not accept or flush all messages. Whether that also
// fails the request's response is the caller's decision.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed during %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
