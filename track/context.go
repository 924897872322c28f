package track

import (
	"context"

	"github.com/riverfall/changefeed/entity"
)

type contextKey struct{}

// Begin binds tx into the context. The returned context carries the
// transaction to every lifecycle signal fired while handling the request;
// dropping the context at the end of the request is the unsubscribe.
func Begin(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, contextKey{}, tx)
}

// FromContext returns the transaction bound by Begin, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(contextKey{}).(*Transaction)
	return tx, ok
}

// Lifecycle signal entry points, called by the host's persistence layer
// around each entity mutation. All are no-ops when the context carries no
// transaction (an untracked request, or one that already finished).

// PreSave records an impending create or update.
func PreSave(ctx context.Context, e entity.Entity) {
	if tx, ok := FromContext(ctx); ok {
		tx.observe(ctx, e, eventForSave(e))
	}
}

// PostSave marks the save as committed.
func PostSave(ctx context.Context, e entity.Entity) {
	if tx, ok := FromContext(ctx); ok {
		tx.commit(e)
	}
}

// PreDelete records an impending delete and captures the final snapshot
// of the entity while it still exists.
func PreDelete(ctx context.Context, e entity.Entity) {
	if tx, ok := FromContext(ctx); ok {
		tx.observe(ctx, e, EventDelete)
	}
}

// PostDelete marks the delete as committed.
func PostDelete(ctx context.Context, e entity.Entity) {
	if tx, ok := FromContext(ctx); ok {
		tx.commit(e)
	}
}
