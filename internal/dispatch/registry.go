// Package dispatch pulls events from an internal/bus.Queue in strict
// priority order and fans them out to category-scoped handlers,
// retrying failed events with a linear backoff up to a configured cap.
package dispatch

import (
	"context"
	"sync"

	"github.com/privatehub/corebus/internal/bus"
)

// Handler processes a single event. It may perform blocking I/O — the
// dispatcher isolates a slow handler to its own worker rather than
// holding the queue lock across the call. A non-nil error fails this
// handler's contribution to the event without preventing sibling
// handlers from running.
type Handler func(ctx context.Context, e bus.Event) error

// entry pairs a handler with the identity it was registered under, so
// registration can be idempotent on (category, identity).
type entry struct {
	identity string
	fn       Handler
}

// Registry maps an event category to an ordered list of handlers.
// Registration is idempotent per (category, identity): registering the
// same identity twice replaces the handler in place rather than adding
// a duplicate. Reads take a consistent snapshot so dispatch never
// observes a partially-updated handler list.
type Registry struct {
	mu       sync.RWMutex
	byCat    map[bus.Category][]entry
	personal Handler // the personal-log handler, invoked alone when PersonalLogOnly is set
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byCat: make(map[bus.Category][]entry)}
}

// Register adds h under category, keyed by identity. Calling Register
// again with the same (category, identity) pair replaces the handler
// rather than appending a second copy, keeping registration idempotent
// across repeated startup wiring.
func (r *Registry) Register(category bus.Category, identity string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byCat[category]
	for i, e := range list {
		if e.identity == identity {
			list[i] = entry{identity: identity, fn: h}
			return
		}
	}
	r.byCat[category] = append(list, entry{identity: identity, fn: h})
}

// SetPersonalLogHandler registers the single handler invoked when an
// event's PersonalLogOnly flag is set. It runs instead of, not in
// addition to, the category's normal handler list.
func (r *Registry) SetPersonalLogHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personal = h
}

// Handlers returns a snapshot of the handlers that would run for e. If
// e.PersonalLogOnly is set, only the personal-log handler runs. Otherwise
// the category's registered handlers run, plus the personal-log handler
// appended when e carries a UserID — mirroring the startup wiring that
// registers a user-to-personal-log forwarder alongside the category's
// own subscribers rather than in place of them.
func (r *Registry) Handlers(e bus.Event) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e.PersonalLogOnly {
		if r.personal == nil {
			return nil
		}
		return []Handler{r.personal}
	}

	list := r.byCat[e.Category]
	out := make([]Handler, len(list), len(list)+1)
	for i, e := range list {
		out[i] = e.fn
	}
	if e.UserID != "" && r.personal != nil {
		out = append(out, r.personal)
	}
	return out
}
