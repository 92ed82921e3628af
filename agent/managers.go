package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/language"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/neighbourhood"
	"github.com/teranos/weave/persist"
	"github.com/teranos/weave/perspective"
)

// Perspectives is the agent's set of local perspectives.
type Perspectives struct {
	agent *Agent
	mu    sync.RWMutex
	items map[string]*perspective.Perspective
}

// Add creates and records a new perspective with a random id.
func (m *Perspectives) Add(ctx context.Context, name string) (*perspective.Perspective, error) {
	return m.restore(ctx, persist.PerspectiveRecord{ID: uuid.NewString(), Name: name})
}

func (m *Perspectives) restore(ctx context.Context, rec persist.PerspectiveRecord) (*perspective.Perspective, error) {
	a := m.agent
	p := a.newPerspective(rec.ID, rec.Name)
	if err := a.restoreSnapshot(ctx, p); err != nil {
		return nil, err
	}
	if a.records != nil {
		if err := a.records.AddPerspective(ctx, rec); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.items[rec.ID] = p
	m.mu.Unlock()
	a.logger.Debugw("Perspective added", logger.FieldPerspective, rec.ID, "name", rec.Name)
	return p, nil
}

// Get looks up a perspective by id.
func (m *Perspectives) Get(id string) (*perspective.Perspective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.items[id]; ok {
		return p, nil
	}
	return nil, errors.NewNotFoundError("perspective %s", id)
}

// All returns the perspectives ordered by id.
func (m *Perspectives) All() []*perspective.Perspective {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*perspective.Perspective, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove drops a perspective and its restore record. Its last snapshot is kept.
func (m *Perspectives) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.items[id]
	delete(m.items, id)
	m.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("perspective %s", id)
	}
	if r := m.agent.records; r != nil {
		return r.RemovePerspective(ctx, id)
	}
	return nil
}

// Neighbourhoods is the agent's set of joined neighbourhoods, one per url.
type Neighbourhoods struct {
	agent *Agent
	mu    sync.RWMutex
	items map[string]*neighbourhood.Neighbourhood
}

// Join returns the neighbourhood for url, creating it on first use. A new
// neighbourhood reloads its snapshot, is recorded for restore, and asks
// peers for their links. Joining a known url returns the existing one
// whatever lang is passed.
func (m *Neighbourhoods) Join(ctx context.Context, url string, lang language.Language) (*neighbourhood.Neighbourhood, error) {
	if url == "" {
		return nil, errors.NewInvalidRequestError("neighbourhood url is empty")
	}
	if lang == nil {
		return nil, errors.NewInvalidRequestError("neighbourhood %s has no language", url)
	}
	a := m.agent

	if n, err := m.Get(url); err == nil {
		return n, nil
	}

	// The snapshot goes in before the neighbourhood becomes visible to
	// dispatch, so restoring cannot wipe links applied meanwhile.
	p := a.newPerspective(url, url)
	if err := a.restoreSnapshot(ctx, p); err != nil {
		return nil, err
	}
	n := neighbourhood.New(url, lang, p, a.signer, outbound{a}, a.logger)

	m.mu.Lock()
	if existing, ok := m.items[url]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.items[url] = n
	m.mu.Unlock()

	if _, known := a.languages.Get(lang.Address()); !known {
		if err := a.languages.Register(lang); err != nil {
			a.logger.Warnw("Language not registered", logger.FieldLanguage, lang.Address(), logger.FieldError, err)
		}
	}
	if a.records != nil {
		if err := a.records.AddNeighbourhood(ctx, persist.NeighbourhoodRecord{URL: url, Language: lang.Address()}); err != nil {
			m.drop(url)
			return nil, err
		}
	}

	if err := n.RequestSync(ctx); err != nil {
		a.logger.Warnw("Sync request failed", logger.FieldNeighbourhood, url, logger.FieldError, err)
	}
	a.logger.Infow("Joined neighbourhood", logger.FieldNeighbourhood, url, logger.FieldLanguage, lang.Address())
	return n, nil
}

func (m *Neighbourhoods) drop(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[url]
	delete(m.items, url)
	return ok
}

// Leave forgets url locally and in the restore records. Peers are not told.
func (m *Neighbourhoods) Leave(url string) bool {
	if !m.drop(url) {
		return false
	}
	a := m.agent
	if a.records != nil {
		if err := a.records.RemoveNeighbourhood(context.Background(), url); err != nil {
			a.logger.Warnw("Could not forget neighbourhood", logger.FieldNeighbourhood, url, logger.FieldError, err)
		}
	}
	a.logger.Infow("Left neighbourhood", logger.FieldNeighbourhood, url)
	return true
}

// Get looks up a joined neighbourhood.
func (m *Neighbourhoods) Get(url string) (*neighbourhood.Neighbourhood, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.items[url]; ok {
		return n, nil
	}
	return nil, errors.NewNotFoundError("neighbourhood %s", url)
}

// All returns the joined neighbourhoods ordered by url.
func (m *Neighbourhoods) All() []*neighbourhood.Neighbourhood {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*neighbourhood.Neighbourhood, 0, len(m.items))
	for _, n := range m.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL() < out[j].URL() })
	return out
}
