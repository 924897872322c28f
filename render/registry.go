package render

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/riverfall/changefeed/entity"
)

// Renderer produces a Document for one entity type. A renderer failure is
// reported as an error; the Serializer absorbs it and treats the snapshot
// as unavailable.
type Renderer interface {
	Render(ctx context.Context, e entity.Entity) (Document, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, e entity.Entity) (Document, error)

func (f RendererFunc) Render(ctx context.Context, e entity.Entity) (Document, error) {
	return f(ctx, e)
}

// Registry maps (entity type, variant) to a Renderer. Registration usually
// happens at startup but the map is safe for concurrent use, so hosts may
// register lazily.
type Registry struct {
	renderers *xsync.MapOf[string, Renderer]
}

// NewRegistry creates an empty renderer registry.
func NewRegistry() *Registry {
	return &Registry{renderers: xsync.NewMapOf[string, Renderer]()}
}

func registryKey(entityType, variant string) string {
	return entityType + "\x00" + variant
}

// Register binds a renderer for the given entity type and variant,
// replacing any previous binding.
func (r *Registry) Register(entityType, variant string, renderer Renderer) {
	r.renderers.Store(registryKey(entityType, variant), renderer)
}

// Lookup returns the renderer for (entityType, variant). Absence is a
// valid outcome: the caller skips serialization silently.
func (r *Registry) Lookup(entityType, variant string) (Renderer, bool) {
	return r.renderers.Load(registryKey(entityType, variant))
}
