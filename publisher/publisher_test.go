package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jizhuozhi/go-future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverfall/changefeed/cfg"
	"github.com/riverfall/changefeed/message"
	"github.com/riverfall/changefeed/publisher"
	"github.com/riverfall/changefeed/publisher/sink"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/track"
)

// stolenBatchSink models the shared-sink case where a concurrent request's
// flush swapped the pending buffer out before this request could flush:
// Flush finds nothing to write and returns nil, and the delivery outcome
// arrives only through the enqueue futures.
type stolenBatchSink struct {
	writeErr error
	promises []*future.Promise[error]
}

func (s *stolenBatchSink) Enqueue(topic, key string, value []byte) (*future.Future[error], error) {
	p := future.NewPromise[error]()
	s.promises = append(s.promises, p)
	return p.Future(), nil
}

func (s *stolenBatchSink) Flush(context.Context) error {
	promises := s.promises
	s.promises = nil
	for _, p := range promises {
		p.Set(nil, s.writeErr)
	}
	return nil
}

func (s *stolenBatchSink) Close() error { return nil }

func testMessages() []*message.Message {
	return []*message.Message{
		{
			Class: "Widget",
			Event: track.EventCreate,
			Model: render.Document{"id": int64(7), "color": "red"},
			Key:   "inventory.Widget/7",
		},
		{
			Class: "Widget",
			Event: track.EventDelete,
			Model: render.Document{"id": int64(8)},
			Key:   "inventory.Widget/8",
		},
	}
}

func TestPublishEmptyIsNoop(t *testing.T) {
	mock := &sink.MockSink{}
	p := publisher.NewPublisher(mock, "changefeed.events", nil)

	require.NoError(t, p.Publish(context.Background(), nil))

	// Read-only requests must not touch the broker at all.
	assert.Empty(t, mock.Recorded())
	assert.Zero(t, mock.Flushes)
}

func TestPublishEnqueuesAndFlushes(t *testing.T) {
	mock := &sink.MockSink{}
	p := publisher.NewPublisher(mock, "changefeed.events", nil)

	require.NoError(t, p.Publish(context.Background(), testMessages()))

	recorded := mock.Recorded()
	require.Len(t, recorded, 2)
	assert.Equal(t, 1, mock.Flushes)

	assert.Equal(t, "changefeed.events", recorded[0].Topic)
	assert.Equal(t, "inventory.Widget/7", recorded[0].Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(recorded[0].Value, &decoded))
	assert.Equal(t, "Widget", decoded["class"])
	assert.Equal(t, "create", decoded["event"])
}

func TestPublishEnqueueErrorIsDeliveryError(t *testing.T) {
	mock := &sink.MockSink{EnqueueErr: errors.New("broker unavailable")}
	p := publisher.NewPublisher(mock, "changefeed.events", nil)

	err := p.Publish(context.Background(), testMessages())
	require.Error(t, err)

	var deliveryErr *publisher.DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, "enqueue", deliveryErr.Op)
}

func TestPublishFlushErrorIsDeliveryError(t *testing.T) {
	mock := &sink.MockSink{FlushErr: errors.New("timed out")}
	p := publisher.NewPublisher(mock, "changefeed.events", nil)

	err := p.Publish(context.Background(), testMessages())
	require.Error(t, err)

	var deliveryErr *publisher.DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, "flush", deliveryErr.Op)
	assert.ErrorContains(t, err, "timed out")
}

func TestPublishSurfacesFailureFromConcurrentFlush(t *testing.T) {
	s := &stolenBatchSink{writeErr: errors.New("broker refused the batch")}
	p := publisher.NewPublisher(s, "changefeed.events", nil)

	err := p.Publish(context.Background(), testMessages())
	require.Error(t, err)

	var deliveryErr *publisher.DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, "deliver", deliveryErr.Op)
	assert.ErrorContains(t, err, "broker refused the batch")
}

func TestNewSinkUnknownType(t *testing.T) {
	_, err := publisher.NewSink(cfg.SinkConfiguration{Type: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewSinkMock(t *testing.T) {
	s, err := publisher.NewSink(cfg.SinkConfiguration{Type: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &sink.MockSink{}, s)
}
