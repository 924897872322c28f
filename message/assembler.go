package message

import (
	"context"
	"fmt"
	"strings"

	"github.com/riverfall/changefeed/diff"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/track"
)

// Assembler builds messages from completed changes. This is the deferred
// serialization point: the after-document is rendered here, once the whole
// request has finished mutating related state.
type Assembler struct {
	serializer *render.Serializer
}

// NewAssembler creates an Assembler over the given serializer.
func NewAssembler(serializer *render.Serializer) *Assembler {
	return &Assembler{serializer: serializer}
}

// Build assembles the message for ch. Returns false for changes that never
// completed. Deletes publish the before-snapshot (the entity no longer
// exists to re-fetch); creates and updates re-serialize the live entity
// now and publish the result. Detail is computed only for updates with
// both snapshots available. The @url enrichment is best-effort.
func (a *Assembler) Build(ctx context.Context, ch *track.Change, env Envelope) (*Message, bool) {
	if !ch.Complete {
		return nil, false
	}

	m := &Message{
		Class: ClassName(ch.Entity.EntityType()),
		Event: ch.Event,
		Key:   partitionKey(ch),
	}

	if ch.Event == track.EventDelete {
		m.Model = ch.Before
	} else {
		ch.After, _ = a.serializer.Serialize(ctx, ch.Entity, render.VariantFull)
		m.Model = ch.After

		if nested, ok := a.serializer.Serialize(ctx, ch.Entity, render.VariantNested); ok {
			if url, ok := nested["url"].(string); ok {
				m.URL = url
			}
		}
	}

	if ch.Event == track.EventUpdate && ch.Before != nil && ch.After != nil {
		m.Detail = diff.Diff(ch.Before, ch.After)
	}

	env.stamp(m)
	return m, true
}

// ClassName reduces a qualified entity type ("inventory.Device") to the
// bare class name published on the wire.
func ClassName(entityType string) string {
	if i := strings.LastIndex(entityType, "."); i >= 0 {
		return entityType[i+1:]
	}
	return entityType
}

func partitionKey(ch *track.Change) string {
	id, ok := ch.Entity.EntityID()
	if !ok {
		// Deleted entities keep their last persisted id; an unsaved
		// entity can only get here if the host cleared the id after
		// the post event, so fall back to the type alone.
		return ch.Entity.EntityType()
	}
	return fmt.Sprintf("%s/%d", ch.Entity.EntityType(), id)
}
