// Package message assembles the externally visible change events. Each
// completed Change becomes exactly one Message carrying the entity's final
// document, an optional field-level diff, and common envelope metadata
// sourced from the originating request.
package message

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riverfall/changefeed/diff"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/track"
)

// TimestampFormat is the fixed machine-parsable envelope timestamp,
// RFC 3339 at second precision in UTC.
const TimestampFormat = "2006-01-02T15:04:05Z"

// RequestInfo identifies the request that caused the change.
type RequestInfo struct {
	Addr string `json:"addr"`
	User string `json:"user"`
	UUID string `json:"uuid"`
}

// ResponseInfo identifies the host that handled the request.
type ResponseInfo struct {
	Host string `json:"host"`
}

// Message is the emitted change event. Constructed fresh per Change and
// never mutated after being handed to the publisher.
type Message struct {
	Class     string          `json:"class"`
	Event     track.Event     `json:"event"`
	Model     render.Document `json:"model"`
	Detail    diff.Detail     `json:"detail,omitempty"`
	URL       string          `json:"@url,omitempty"`
	Timestamp string          `json:"@timestamp"`
	Request   RequestInfo     `json:"request"`
	Response  ResponseInfo    `json:"response"`

	// Key is the broker partition key ("Class/id"), not part of the wire
	// payload.
	Key string `json:"-"`
}

// Envelope carries the per-request metadata stamped on every message
// emitted for that request. Built once when the request finishes; the
// timestamp is minted here so every message from one request carries the
// same @timestamp.
type Envelope struct {
	Addr      string
	User      string
	UUID      string
	Host      string
	Timestamp string
}

// NewEnvelope extracts envelope metadata from the request. The forwarded
// address wins over the peer address when the service sits behind a
// reverse proxy. The correlation id is minted fresh per request.
func NewEnvelope(r *http.Request, user, host string) Envelope {
	addr := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		addr = forwarded
	}

	return Envelope{
		Addr:      addr,
		User:      user,
		UUID:      strings.ReplaceAll(uuid.New().String(), "-", ""),
		Host:      host,
		Timestamp: time.Now().UTC().Format(TimestampFormat),
	}
}

func (env Envelope) stamp(m *Message) {
	m.Timestamp = env.Timestamp
	m.Request = RequestInfo{Addr: env.Addr, User: env.User, UUID: env.UUID}
	m.Response = ResponseInfo{Host: env.Host}
}
