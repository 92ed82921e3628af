// Package carrier moves signed envelopes between agents.
//
// A Carrier is best-effort: no ordering, no retry, no exactly-once. Each
// implementation filters inbound envelopes to those addressed to its id and
// drops its own echoes before invoking handlers.
package carrier

import (
	"context"
	"sync"
)

// Handler receives an inbound envelope.
type Handler func(ctx context.Context, env *Envelope)

// Carrier is a transport for envelopes.
type Carrier interface {
	// ID is the DID this carrier receives for.
	ID() string
	// Send delivers env to its recipient, or to every known peer for Broadcast.
	Send(ctx context.Context, env *Envelope) error
	// OnMessage registers a handler for inbound envelopes.
	OnMessage(h Handler)
	// Close stops delivery and releases resources.
	Close() error
}

type handlers struct {
	mu sync.RWMutex
	hs []Handler
}

func (h *handlers) add(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hs = append(h.hs, fn)
}

// deliver runs the handlers when env is addressed to self and not an echo.
func (h *handlers) deliver(ctx context.Context, self string, env *Envelope) bool {
	if env == nil || env.Sender == self || !env.AddressedTo(self) {
		return false
	}
	h.mu.RLock()
	hs := make([]Handler, len(h.hs))
	copy(hs, h.hs)
	h.mu.RUnlock()
	for _, fn := range hs {
		fn(ctx, env)
	}
	return true
}
