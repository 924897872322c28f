package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/httpmw"
	"github.com/riverfall/changefeed/message"
	"github.com/riverfall/changefeed/publisher"
	"github.com/riverfall/changefeed/publisher/sink"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/track"
)

type app struct {
	router http.Handler
	mock   *sink.MockSink
}

func newTestApp(t *testing.T) *app {
	t.Helper()

	mem := entity.NewMemory()
	registry := render.NewRegistry()
	registerDeviceRenderers(registry)
	serializer := render.NewSerializer(mem, registry, nil)

	ignore, err := track.NewIgnoreList([]string{"audit.*"})
	require.NoError(t, err)

	mock := &sink.MockSink{}
	tracker := &httpmw.Tracker{
		Serializer: serializer,
		Assembler:  message.NewAssembler(serializer),
		Publisher:  publisher.NewPublisher(mock, "changefeed.events", nil),
		Ignore:     ignore,
		Host:       "worker-1",
	}

	router := chi.NewRouter()
	router.Use(tracker.Middleware())
	registerDeviceRoutes(router, newMemoryDeviceRepo(mem))

	return &app{router: router, mock: mock}
}

func (a *app) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *app) lastMessage(t *testing.T) map[string]any {
	t.Helper()

	recorded := a.mock.Recorded()
	require.NotEmpty(t, recorded)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(recorded[len(recorded)-1].Value, &decoded))
	return decoded
}

func TestDeviceLifecycleEmitsMessages(t *testing.T) {
	a := newTestApp(t)

	// Create
	rec := a.do(t, http.MethodPost, "/api/devices", Device{Name: "sw1", Role: "switch", Tags: []string{"a"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := a.lastMessage(t)
	assert.Equal(t, "Device", created["class"])
	assert.Equal(t, "create", created["event"])
	assert.Equal(t, "sw1", created["model"].(map[string]any)["name"])
	assert.Equal(t, "/api/devices/1", created["@url"])
	assert.NotContains(t, created, "detail")

	// Update
	rec = a.do(t, http.MethodPut, "/api/devices/1", Device{Name: "sw1", Role: "core-switch", Tags: []string{"a", "b"}})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := a.lastMessage(t)
	assert.Equal(t, "update", updated["event"])

	detail := updated["detail"].(map[string]any)
	assert.Equal(t, []any{"switch", "core-switch"}, detail["role"])
	assert.Equal(t, []any{[]any{"a"}, []any{"a", "b"}}, detail["tags"])

	// Delete
	rec = a.do(t, http.MethodDelete, "/api/devices/1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	deleted := a.lastMessage(t)
	assert.Equal(t, "delete", deleted["event"])
	assert.Equal(t, "core-switch", deleted["model"].(map[string]any)["role"])
	assert.NotContains(t, deleted, "detail")

	// One message per mutation, one flush per request
	assert.Len(t, a.mock.Recorded(), 3)
	assert.Equal(t, 3, a.mock.Flushes)
}

func TestDeviceReadsPublishNothing(t *testing.T) {
	a := newTestApp(t)

	rec := a.do(t, http.MethodPost, "/api/devices", Device{Name: "sw1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	a.mock.Reset()

	rec = a.do(t, http.MethodGet, "/api/devices/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, a.mock.Recorded())
	assert.Zero(t, a.mock.Flushes)
}

func TestDeviceNotFound(t *testing.T) {
	a := newTestApp(t)

	rec := a.do(t, http.MethodDelete, "/api/devices/42", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, a.mock.Recorded())
}
