// Package track records entity lifecycle events within one unit of work
// (one inbound request) and correlates them into at most one Change per
// entity. A Transaction is private to the request that created it; the
// request's context carries it to the lifecycle signal entry points.
package track

import (
	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/render"
)

// Event classifies a tracked mutation.
type Event string

const (
	EventCreate Event = "create"
	EventUpdate Event = "update"
	EventDelete Event = "delete"
)

// Change is one tracked mutation lifecycle for a single entity within one
// Transaction. Before is the snapshot captured at first observation (nil
// for creates, where nothing existed yet). After stays nil until the
// assembler computes it at finalize time. Complete is set only once the
// matching post-mutation event has been observed; an incomplete Change is
// discarded at the end of the request.
type Change struct {
	Event    Event
	Before   render.Document
	After    render.Document
	Complete bool

	// Entity is the live reference, re-read at finalize time to capture
	// side effects from related writes in the same request.
	Entity entity.Entity
}
