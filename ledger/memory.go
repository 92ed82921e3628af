package ledger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/teranos/weave/errors"
)

// Call is one recorded zome invocation.
type Call struct {
	Role    string
	Zome    string
	Fn      string
	Payload json.RawMessage
}

// Handler answers a zome function on a MemoryLedger.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// MemoryLedger records every call and answers from registered handlers.
// Unregistered functions return null.
type MemoryLedger struct {
	mu       sync.Mutex
	calls    []Call
	handlers map[string]Handler
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{handlers: make(map[string]Handler)}
}

func key(role, zome, fn string) string { return role + "/" + zome + "." + fn }

// Handle registers h for a zome function.
func (m *MemoryLedger) Handle(role, zome, fn string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key(role, zome, fn)] = h
}

// Call implements Client.
func (m *MemoryLedger) Call(ctx context.Context, role, zome, fn string, payload interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(err, errors.ErrTimeout)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode zome payload")
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Role: role, Zome: zome, Fn: fn, Payload: data})
	h := m.handlers[key(role, zome, fn)]
	m.mu.Unlock()

	if h == nil {
		return json.RawMessage("null"), nil
	}
	return h(ctx, data)
}

// Calls returns a copy of the recorded calls.
func (m *MemoryLedger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
