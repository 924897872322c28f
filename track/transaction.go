package track

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/telemetry"
)

// Transaction owns the change records for one unit of work. It is created
// when the request begins, bound into the request context, and discarded
// after messages are emitted. Never shared across requests: that exclusive
// ownership is what isolates concurrent requests from each other, so no
// locking is needed here.
//
// Changes are keyed by the live entity reference. Pre and post events for
// the same mutation carry the same reference, so reference identity
// correlates them even when a create assigns the primary key in between.
type Transaction struct {
	serializer *render.Serializer
	ignore     *IgnoreList

	changes map[entity.Entity]*Change
	order   []entity.Entity
}

// NewTransaction creates an empty transaction. ignore may be nil.
func NewTransaction(serializer *render.Serializer, ignore *IgnoreList) *Transaction {
	return &Transaction{
		serializer: serializer,
		ignore:     ignore,
		changes:    make(map[entity.Entity]*Change),
	}
}

// observe handles a pre-mutation event. The first observation captures the
// before snapshot (for updates and deletes; a create has no prior state).
// Later pre-events for the same reference keep the first snapshot but may
// reclassify the event: a delete is sticky, otherwise the kind is re-derived
// from whether the entity has a persisted identity now.
func (tx *Transaction) observe(ctx context.Context, e entity.Entity, event Event) {
	if tx.ignore.Matches(e.EntityType()) {
		return
	}

	if ch, ok := tx.changes[e]; ok {
		if ch.Event != EventDelete {
			ch.Event = event
		}
		return
	}

	ch := &Change{Event: event, Entity: e}
	if event != EventCreate {
		ch.Before, _ = tx.serializer.Serialize(ctx, e, render.VariantFull)
	}

	tx.changes[e] = ch
	tx.order = append(tx.order, e)

	telemetry.ChangesRecorded.With(string(event)).Inc()
	log.Debug().
		Str("type", e.EntityType()).
		Str("event", string(event)).
		Msg("Recorded change")
}

// commit handles a post-mutation event, marking the change complete. A
// post event with no recorded pre event is ignored.
func (tx *Transaction) commit(e entity.Entity) {
	if tx.ignore.Matches(e.EntityType()) {
		return
	}

	ch, ok := tx.changes[e]
	if !ok {
		return
	}
	ch.Complete = true
}

// Changes returns all recorded changes in observation order, complete or
// not. The order exists for deterministic output, not correctness.
func (tx *Transaction) Changes() []*Change {
	out := make([]*Change, 0, len(tx.order))
	for _, e := range tx.order {
		out = append(out, tx.changes[e])
	}
	return out
}

// Completed returns the changes whose post-mutation event was observed.
// Changes that never completed (the write was rejected) are counted as
// discarded and excluded.
func (tx *Transaction) Completed() []*Change {
	out := make([]*Change, 0, len(tx.order))
	for _, e := range tx.order {
		ch := tx.changes[e]
		if ch.Complete {
			out = append(out, ch)
		} else {
			telemetry.ChangesDiscarded.Inc()
		}
	}
	return out
}

// eventForSave classifies a pre-save: an entity with a persisted identity
// is being updated, one without is being created.
func eventForSave(e entity.Entity) Event {
	if _, persisted := e.EntityID(); persisted {
		return EventUpdate
	}
	return EventCreate
}
