// Package httpmw binds the change pipeline to an inbound HTTP request.
// The middleware opens a Transaction before the handler runs, collects the
// lifecycle events the handler fires, and after the handler returns
// assembles and publishes one message per completed change. The broker
// flush happens before the middleware returns, so delivery failures
// surface within the request's lifetime.
package httpmw

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/riverfall/changefeed/message"
	"github.com/riverfall/changefeed/publisher"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/track"
)

// Tracker wires the pipeline components for the middleware.
type Tracker struct {
	Serializer *render.Serializer
	Assembler  *message.Assembler
	Publisher  *publisher.Publisher
	Ignore     *track.IgnoreList

	// Host is the responding host name stamped on envelopes.
	Host string

	// UserFn resolves the acting principal from the request. Nil means
	// anonymous.
	UserFn func(r *http.Request) string

	// ErrorHandler receives the DeliveryError when publishing fails. The
	// response may already be committed by then, so whether and how to
	// signal the client is this callback's decision. Nil logs the error.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware returns the http middleware. Read-only methods pass through
// untracked: they fire no mutations and get no transaction.
func (t *Tracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			tx := track.NewTransaction(t.Serializer, t.Ignore)
			ctx := track.Begin(r.Context(), tx)

			// A handler panic discards the transaction: nothing was
			// published yet, so there is nothing to compensate.
			next.ServeHTTP(w, r.WithContext(ctx))

			t.finish(ctx, w, r, tx)
		})
	}
}

// finish runs after the handler: the transaction is no longer reachable by
// new lifecycle events (the handler returned), so the snapshot of changes
// is final.
func (t *Tracker) finish(ctx context.Context, w http.ResponseWriter, r *http.Request, tx *track.Transaction) {
	completed := tx.Completed()
	if len(completed) == 0 {
		return
	}

	user := ""
	if t.UserFn != nil {
		user = t.UserFn(r)
	}
	env := message.NewEnvelope(r, user, t.Host)

	msgs := make([]*message.Message, 0, len(completed))
	for _, ch := range completed {
		if m, ok := t.Assembler.Build(ctx, ch, env); ok {
			msgs = append(msgs, m)
		}
	}

	if err := t.Publisher.Publish(ctx, msgs); err != nil {
		if t.ErrorHandler != nil {
			t.ErrorHandler(w, r, err)
			return
		}
		log.Error().
			Err(err).
			Str("request_id", env.UUID).
			Int("messages", len(msgs)).
			Msg("Failed to publish change messages")
	}
}
