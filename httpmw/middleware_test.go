package httpmw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/message"
	"github.com/riverfall/changefeed/publisher"
	"github.com/riverfall/changefeed/publisher/sink"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/track"
)

type widget struct {
	id    int64
	color string
	tags  []string
}

func (w *widget) EntityType() string { return "inventory.Widget" }

func (w *widget) EntityID() (int64, bool) { return w.id, w.id != 0 }

type fixture struct {
	mem     *entity.Memory
	mock    *sink.MockSink
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := entity.NewMemory()
	registry := render.NewRegistry()
	registry.Register("inventory.Widget", render.VariantFull, render.RendererFunc(
		func(_ context.Context, e entity.Entity) (render.Document, error) {
			w := e.(*widget)
			tags := make([]any, len(w.tags))
			for i, tag := range w.tags {
				tags[i] = tag
			}
			return render.Document{"id": w.id, "color": w.color, "tags": tags}, nil
		}))

	serializer := render.NewSerializer(mem, registry, nil)
	ignore, err := track.NewIgnoreList([]string{"auth.*"})
	require.NoError(t, err)

	mock := &sink.MockSink{}
	return &fixture{
		mem:  mem,
		mock: mock,
		tracker: &Tracker{
			Serializer: serializer,
			Assembler:  message.NewAssembler(serializer),
			Publisher:  publisher.NewPublisher(mock, "changefeed.events", nil),
			Ignore:     ignore,
			Host:       "worker-1",
			UserFn:     func(r *http.Request) string { return r.Header.Get("X-Remote-User") },
		},
	}
}

func (f *fixture) serve(t *testing.T, method string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, "/api/widgets", nil)
	req.Header.Set("X-Remote-User", "alice")
	rec := httptest.NewRecorder()

	f.tracker.Middleware()(handler).ServeHTTP(rec, req)
	return rec
}

func (f *fixture) published(t *testing.T) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, m := range f.mock.Recorded() {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(m.Value, &decoded))
		out = append(out, decoded)
	}
	return out
}

func TestMiddlewareCreate(t *testing.T) {
	f := newFixture(t)

	f.serve(t, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{color: "red"}
		track.PreSave(r.Context(), wd)
		wd.id = 7
		f.mem.Put(wd)
		track.PostSave(r.Context(), wd)
	})

	msgs := f.published(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, f.mock.Flushes)

	m := msgs[0]
	assert.Equal(t, "Widget", m["class"])
	assert.Equal(t, "create", m["event"])
	assert.Equal(t, "red", m["model"].(map[string]any)["color"])
	assert.NotContains(t, m, "detail")
}

func TestMiddlewareUpdate(t *testing.T) {
	f := newFixture(t)
	f.mem.Put(&widget{id: 7, color: "red", tags: []string{"a"}})

	f.serve(t, http.MethodPut, func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{id: 7, color: "red", tags: []string{"a"}}
		track.PreSave(r.Context(), wd)
		wd.color = "blue"
		wd.tags = append(wd.tags, "b")
		f.mem.Put(wd)
		track.PostSave(r.Context(), wd)
	})

	msgs := f.published(t)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "update", m["event"])
	assert.Equal(t, "blue", m["model"].(map[string]any)["color"])

	detail := m["detail"].(map[string]any)
	assert.Equal(t, []any{"red", "blue"}, detail["color"])
	assert.Equal(t, []any{[]any{"a"}, []any{"a", "b"}}, detail["tags"])
}

func TestMiddlewareDelete(t *testing.T) {
	f := newFixture(t)
	f.mem.Put(&widget{id: 7, color: "red"})

	f.serve(t, http.MethodDelete, func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{id: 7, color: "red"}
		track.PreDelete(r.Context(), wd)
		f.mem.Delete(wd.EntityType(), wd.id)
		track.PostDelete(r.Context(), wd)
	})

	msgs := f.published(t)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "delete", m["event"])
	assert.Equal(t, "red", m["model"].(map[string]any)["color"])
	assert.NotContains(t, m, "detail")
	assert.NotContains(t, m, "@url")
}

func TestMiddlewareRejectedSavePublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.mem.Put(&widget{id: 7})

	f.serve(t, http.MethodPut, func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{id: 7}
		track.PreSave(r.Context(), wd)
		// Validation rejects the save: no post event fires.
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	assert.Empty(t, f.mock.Recorded())
	assert.Zero(t, f.mock.Flushes)
}

func TestMiddlewareReadRequestsUntracked(t *testing.T) {
	f := newFixture(t)

	var hasTx bool
	f.serve(t, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		_, hasTx = track.FromContext(r.Context())
	})

	assert.False(t, hasTx)
	assert.Empty(t, f.mock.Recorded())
	assert.Zero(t, f.mock.Flushes)
}

func TestMiddlewareEnvelopeMetadata(t *testing.T) {
	f := newFixture(t)

	f.serve(t, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{color: "red"}
		track.PreSave(r.Context(), wd)
		wd.id = 1
		f.mem.Put(wd)
		track.PostSave(r.Context(), wd)
	})

	msgs := f.published(t)
	require.Len(t, msgs, 1)

	request := msgs[0]["request"].(map[string]any)
	assert.Equal(t, "alice", request["user"])
	assert.NotEmpty(t, request["addr"])
	assert.Len(t, request["uuid"], 32)
	assert.Equal(t, "worker-1", msgs[0]["response"].(map[string]any)["host"])
	assert.NotEmpty(t, msgs[0]["@timestamp"])
}

func TestMiddlewareDeliveryErrorHandler(t *testing.T) {
	f := newFixture(t)
	f.mock.FlushErr = errors.New("broker down")

	var handled error
	f.tracker.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		handled = err
	}

	f.serve(t, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{color: "red"}
		track.PreSave(r.Context(), wd)
		wd.id = 1
		f.mem.Put(wd)
		track.PostSave(r.Context(), wd)
	})

	require.Error(t, handled)
	var deliveryErr *publisher.DeliveryError
	assert.ErrorAs(t, handled, &deliveryErr)
}

func TestMiddlewareConcurrentRequestsIsolated(t *testing.T) {
	f := newFixture(t)

	var nextID atomic.Int64
	handler := f.tracker.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wd := &widget{color: r.Header.Get("X-Color")}
		track.PreSave(r.Context(), wd)
		wd.id = nextID.Add(1)
		f.mem.Put(wd)
		track.PostSave(r.Context(), wd)
	}))

	var wg sync.WaitGroup
	colors := []string{"red", "green", "blue", "yellow", "violet"}
	for _, color := range colors {
		color := color
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/widgets", nil)
			req.Header.Set("X-Color", color)
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	msgs := f.published(t)
	require.Len(t, msgs, len(colors))

	seen := make(map[string]int)
	for _, m := range msgs {
		seen[m["model"].(map[string]any)["color"].(string)]++
	}
	for _, color := range colors {
		assert.Equal(t, 1, seen[color], color)
	}
}
