package render

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/telemetry"
)

// DefaultCyclicFields are field names whose values are known to hold
// collections of entity references that can re-enter the type graph.
// "tags" is the canonical case: a tag's own document may link back to
// tagged entities.
var DefaultCyclicFields = []string{"tags"}

// Serializer renders entities into canonical documents. It re-fetches the
// entity from the store by identity before rendering, so that related
// writes performed later in the same request are visible in the snapshot.
//
// Serialize never returns an error: every failure mode (unsaved entity,
// missing renderer, render failure) degrades to an absent document. This
// is the contract that keeps snapshot problems from aborting the request.
type Serializer struct {
	store    entity.Store
	registry *Registry
	cyclic   map[string]struct{}
}

// NewSerializer creates a Serializer over the given store and registry.
// cyclicFields may be nil, in which case DefaultCyclicFields applies.
func NewSerializer(store entity.Store, registry *Registry, cyclicFields []string) *Serializer {
	if cyclicFields == nil {
		cyclicFields = DefaultCyclicFields
	}
	cyclic := make(map[string]struct{}, len(cyclicFields))
	for _, f := range cyclicFields {
		cyclic[f] = struct{}{}
	}
	return &Serializer{store: store, registry: registry, cyclic: cyclic}
}

// Serialize renders e in the given variant. The second return is false
// when no document is available.
func (s *Serializer) Serialize(ctx context.Context, e entity.Entity, variant string) (Document, bool) {
	id, ok := e.EntityID()
	if !ok {
		return nil, false
	}

	// Prefer the persisted state over the in-memory reference. A fetch
	// failure falls back to the reference rather than giving up: the
	// entity may have just been deleted, or the store may be unavailable.
	record := e
	if s.store != nil {
		if fresh, err := s.store.Get(ctx, e.EntityType(), id); err == nil && fresh != nil {
			record = fresh
		}
	}

	renderer, ok := s.registry.Lookup(e.EntityType(), variant)
	if !ok {
		return nil, false
	}

	doc, err := renderer.Render(ctx, record)
	if err != nil {
		telemetry.SerializeFailures.Inc()
		log.Debug().
			Str("type", e.EntityType()).
			Int64("id", id).
			Str("variant", variant).
			Err(err).
			Msg("Entity render failed, snapshot unavailable")
		return nil, false
	}
	if doc == nil {
		return nil, false
	}

	s.sanitize(doc)
	return doc, true
}

// sanitize normalizes known-cyclic fields to plain value sequences so the
// resulting document is guaranteed acyclic. Applied recursively to nested
// documents.
func (s *Serializer) sanitize(doc Document) {
	for field, value := range doc {
		if _, cyclic := s.cyclic[field]; cyclic {
			doc[field] = flatten(value)
			continue
		}

		switch v := value.(type) {
		case Document:
			s.sanitize(v)
		case map[string]any:
			s.sanitize(Document(v))
		}
	}
}

// flatten materializes a collection value into a fresh []any of primitive
// representations, severing any references back into the entity graph.
func flatten(value any) any {
	items, ok := value.([]any)
	if !ok {
		if strs, ok := value.([]string); ok {
			out := make([]any, len(strs))
			for i, s := range strs {
				out[i] = s
			}
			return out
		}
		return value
	}

	out := make([]any, len(items))
	for i, item := range items {
		out[i] = primitive(item)
	}
	return out
}

func primitive(item any) any {
	switch v := item.(type) {
	case nil, bool, string, int, int64, float64:
		return v
	case fmt.Stringer:
		return v.String()
	case entity.Entity:
		id, _ := v.EntityID()
		return fmt.Sprintf("%s/%d", v.EntityType(), id)
	default:
		return fmt.Sprintf("%v", v)
	}
}
