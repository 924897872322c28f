// Package entity defines the domain-entity handles the change pipeline
// observes. Entities are owned by the host application; the pipeline only
// borrows references for the duration of one request.
package entity

import "context"

// Entity is an opaque handle to a live domain entity. EntityID reports the
// persisted primary key; the second return is false for entities that have
// not been saved yet.
//
// Implementations must be comparable: the tracker correlates the pre and
// post events of one mutation by using the Entity value as a map key, so
// an Entity backed by an uncomparable value type (one containing a slice,
// map, or function field) panics at runtime. Implement Entity on a pointer
// receiver; pointer identity is also what correlates the events of a
// create, where the primary key is assigned mid-mutation.
type Entity interface {
	EntityType() string
	EntityID() (int64, bool)
}

// Store fetches the current persisted state of an entity by identity.
// Implementations are expected to hit the backing store rather than any
// in-memory cache, because the pipeline re-fetches entities to pick up
// side effects from related writes in the same request.
type Store interface {
	Get(ctx context.Context, entityType string, id int64) (Entity, error)
}
