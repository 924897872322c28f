// Package render converts live entities into canonical documents: nested
// field-to-value mappings that are finite, acyclic, and safe to diff and
// publish. Rendering is pluggable per entity type through a registry; the
// Serializer layers store re-fetch and cycle sanitization on top.
package render

// Document is the canonical rendered form of an entity. Values are plain
// JSON-shaped data: scalars, []any, and nested Documents / map[string]any.
// Invariant: a Document produced by Serializer is acyclic; the diff engine
// relies on this and performs no cycle detection of its own.
type Document map[string]any

// Variants supported by the renderer registry. VariantFull is the complete
// representation published as the message model. VariantNested is a reduced
// representation carrying just enough fields (notably "url") for message
// enrichment.
const (
	VariantFull   = "full"
	VariantNested = "nested"
)
