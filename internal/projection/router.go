// Package projection replays ledger events into the derived index
// tables. Handlers read nothing but the event itself, so replaying the
// same ledger always produces the same tables.
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aveline/canonry/internal/domain/event"
)

// Router dispatches events by type. Typed handlers registered via
// Handle receive auto-unmarshalled payloads, eliminating per-handler
// decode boilerplate.
type Router struct {
	handlers map[event.Type]func(context.Context, *sql.Tx, event.Event) error
	types    []event.Type
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[event.Type]func(context.Context, *sql.Tx, event.Event) error),
	}
}

// Route dispatches an event to the registered handler. Unknown types
// are an error so a ledger written by a newer build fails loudly
// instead of silently dropping rows.
func (r *Router) Route(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	h, ok := r.handlers[evt.Type]
	if !ok {
		return fmt.Errorf("unhandled projection event type: %s", evt.Type)
	}
	return h(ctx, tx, evt)
}

// HandledTypes returns all registered event types in registration order.
func (r *Router) HandledTypes() []event.Type {
	return append([]event.Type(nil), r.types...)
}

// Handle registers a typed handler for the given event type. The
// handler receives a pre-unmarshalled payload; the event.Event is also
// passed through for envelope fields (Seq, SessionID, Timestamp).
func Handle[P any](r *Router, t event.Type,
	fn func(context.Context, *sql.Tx, event.Event, P) error) {
	if _, ok := r.handlers[t]; !ok {
		r.types = append(r.types, t)
	}
	r.handlers[t] = func(ctx context.Context, tx *sql.Tx, evt event.Event) error {
		var payload P
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", t, err)
		}
		return fn(ctx, tx, evt, payload)
	}
}
