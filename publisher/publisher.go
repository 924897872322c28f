package publisher

import (
	"context"
	"time"

	"github.com/jizhuozhi/go-future"

	"github.com/riverfall/changefeed/encoding"
	"github.com/riverfall/changefeed/message"
	"github.com/riverfall/changefeed/telemetry"
)

// Publisher serializes messages to the wire format and delivers them
// through a shared sink. The flush is synchronous: failures surface inside
// the request's lifetime, before the response is considered handled. That
// is a deliberate latency-for-reliability trade.
type Publisher struct {
	sink    Sink
	topic   string
	marshal encoding.Marshaler
}

// NewPublisher creates a Publisher over the given sink. topic is the fixed
// destination for all messages from this process.
func NewPublisher(sink Sink, topic string, marshal encoding.Marshaler) *Publisher {
	if marshal == nil {
		marshal = encoding.MarshalJSON
	}
	return &Publisher{sink: sink, topic: topic, marshal: marshal}
}

// Publish delivers msgs and flushes the sink. An empty batch is a no-op
// and never touches the sink, so read-only requests cost no broker round
// trip. Every failure is reported as a *DeliveryError.
//
// After the flush, Publish waits on the delivery future of every message
// it enqueued. The sink is shared, so a concurrent request's flush may be
// the one that delivers this batch; the futures surface that outcome here
// regardless of which flush carried the messages.
func (p *Publisher) Publish(ctx context.Context, msgs []*message.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	start := time.Now()

	enqueued := 0
	defer func() {
		telemetry.PendingDeliveries.Sub(float64(enqueued))
	}()

	acks := make([]*future.Future[error], 0, len(msgs))
	for _, m := range msgs {
		payload, err := p.marshal(m)
		if err != nil {
			telemetry.PublishFailures.Inc()
			return &DeliveryError{Op: "marshal", Err: err}
		}
		ack, err := p.sink.Enqueue(p.topic, m.Key, payload)
		if err != nil {
			telemetry.PublishFailures.Inc()
			return &DeliveryError{Op: "enqueue", Err: err}
		}
		acks = append(acks, ack)
		telemetry.PendingDeliveries.Inc()
		enqueued++
	}

	if err := p.sink.Flush(ctx); err != nil {
		telemetry.PublishFailures.Inc()
		return &DeliveryError{Op: "flush", Err: err}
	}

	for _, ack := range acks {
		if _, err := ack.Get(); err != nil {
			telemetry.PublishFailures.Inc()
			return &DeliveryError{Op: "deliver", Err: err}
		}
	}

	telemetry.MessagesPublished.Add(float64(len(msgs)))
	telemetry.PublishDuration.Observe(time.Since(start).Seconds())
	return nil
}
