// Package persist saves and restores graph snapshots and the records an
// agent needs to rebuild its perspectives and neighbourhoods on startup.
//
// Snapshots are whole N-Quads documents keyed by perspective id. They are
// rewritten after every mutation; there is no incremental log.
package persist

import (
	"context"
	"sync"
)

// AgentGraphID keys the agent's own knowledge graph.
const AgentGraphID = "agent"

// Persister loads and saves N-Quads snapshots.
type Persister interface {
	// Load returns the snapshot for id. ok is false when none exists.
	Load(ctx context.Context, id string) (nquads string, ok bool, err error)
	Save(ctx context.Context, id, nquads string) error
}

// PerspectiveRecord is a local perspective to recreate on restore.
type PerspectiveRecord struct {
	ID   string
	Name string
}

// NeighbourhoodRecord is a joined neighbourhood to rejoin on restore.
type NeighbourhoodRecord struct {
	URL      string
	Language string
}

// Memory is an in-process Persister.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]string
}

// NewMemory creates an empty in-memory persister.
func NewMemory() *Memory { return &Memory{snapshots: make(map[string]string)} }

// Load implements Persister.
func (m *Memory) Load(_ context.Context, id string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	return s, ok, nil
}

// Save implements Persister.
func (m *Memory) Save(_ context.Context, id, nquads string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[id] = nquads
	return nil
}
