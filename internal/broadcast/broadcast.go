// Package broadcast propagates a successful token refresh to other running
// processes so they pick up the new access token without refreshing again.
// It is the process-level counterpart of a browser BroadcastChannel: one
// named channel, one message shape, unknown message types ignored.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
)

// TypeTokenRefreshed is the only message type currently dispatched.
const TypeTokenRefreshed = "TOKEN_REFRESHED"

// Message is the wire shape exchanged on a channel. Origin identifies the
// publishing channel instance so publishers can skip their own messages.
type Message struct {
	Type        string `json:"type"`
	AccessToken string `json:"accessToken"`
	Origin      string `json:"origin,omitempty"`
}

// Handler receives messages published by other contexts. Handlers must not
// trigger a new refresh — they update local state with the token they got.
type Handler func(Message)

// Broadcaster is a same-machine publish/subscribe transport for token
// refresh notifications.
//
// Publish is best-effort and not transactionally ordered across processes:
// a stale or duplicate notification merely overwrites with an equally valid
// token, so receivers need no deduplication. Subscribe returns an
// unsubscribe func tied to the subscriber's teardown. After Close, no
// handler runs again; Close is one-shot.
type Broadcaster interface {
	Publish(ctx context.Context, accessToken string) error
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

// registry is the observer list shared by all transports. It filters
// unknown message types and stops dispatching once closed.
type registry struct {
	mu     sync.Mutex
	next   int
	subs   map[int]Handler
	closed bool
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{subs: make(map[int]Handler), logger: logger}
}

func (r *registry) subscribe(h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	r.subs[id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// dispatch invokes every subscribed handler with msg. Messages with an
// unrecognized type are a forward-compatible no-op.
func (r *registry) dispatch(msg Message) {
	if msg.Type != TypeTokenRefreshed {
		r.logger.Debug("ignoring unknown broadcast type", slog.String("type", msg.Type))
		return
	}

	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.subs))

	if !r.closed {
		for _, h := range r.subs {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	// Called outside the lock so a handler may unsubscribe itself.
	for _, h := range handlers {
		h(msg)
	}
}

// close marks the registry closed. Idempotent.
func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
