// Package store is the in-memory quad store behind every perspective and
// the agent's own knowledge graph.
//
// Quads have set semantics. Match treats a zero rdf.Term as a wildcard and
// rdf.DefaultGraph as the default graph only. Readers may run concurrently;
// writers are serialized by the caller (see perspective).
package store

import (
	"io"
	"sort"
	"sync"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
)

// Store holds quads indexed by graph.
type Store struct {
	mu      sync.RWMutex
	quads   map[string]rdf.Quad
	byGraph map[string]map[string]struct{} // graph key -> quad keys
}

// New creates an empty store.
func New() *Store {
	return &Store{
		quads:   make(map[string]rdf.Quad),
		byGraph: make(map[string]map[string]struct{}),
	}
}

// Add inserts quads and returns how many were new.
func (s *Store) Add(quads ...rdf.Quad) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, q := range quads {
		q = rdf.NewQuad(q.Subject, q.Predicate, q.Object, q.Graph)
		key := q.Key()
		if _, exists := s.quads[key]; exists {
			continue
		}
		s.quads[key] = q
		gk := q.Graph.String()
		idx, ok := s.byGraph[gk]
		if !ok {
			idx = make(map[string]struct{})
			s.byGraph[gk] = idx
		}
		idx[key] = struct{}{}
		added++
	}
	return added
}

// Remove deletes quads and returns how many were present.
func (s *Store) Remove(quads ...rdf.Quad) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, q := range quads {
		q = rdf.NewQuad(q.Subject, q.Predicate, q.Object, q.Graph)
		key := q.Key()
		if _, exists := s.quads[key]; !exists {
			continue
		}
		delete(s.quads, key)
		gk := q.Graph.String()
		if idx, ok := s.byGraph[gk]; ok {
			delete(idx, key)
			if len(idx) == 0 {
				delete(s.byGraph, gk)
			}
		}
		removed++
	}
	return removed
}

// Has reports whether the exact quad is stored.
func (s *Store) Has(q rdf.Quad) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.quads[rdf.NewQuad(q.Subject, q.Predicate, q.Object, q.Graph).Key()]
	return ok
}

// Match returns quads matching the pattern in key order. Zero terms are
// wildcards. A zero graph matches every graph, named or default.
func (s *Store) Match(subject, predicate, object, graph rdf.Term) []rdf.Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	if !graph.IsZero() {
		for key := range s.byGraph[graph.String()] {
			keys = append(keys, key)
		}
	} else {
		for key := range s.quads {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []rdf.Quad
	for _, key := range keys {
		q := s.quads[key]
		if !subject.IsZero() && q.Subject != subject {
			continue
		}
		if !predicate.IsZero() && q.Predicate != predicate {
			continue
		}
		if !object.IsZero() && q.Object != object {
			continue
		}
		out = append(out, q)
	}
	return out
}

// MatchNamed is Match restricted to named graphs.
func (s *Store) MatchNamed(subject, predicate, object rdf.Term) []rdf.Quad {
	all := s.Match(subject, predicate, object, rdf.Term{})
	out := all[:0]
	for _, q := range all {
		if !q.Graph.IsDefaultGraph() {
			out = append(out, q)
		}
	}
	return out
}

// Graphs returns the named graphs holding at least one quad.
func (s *Store) Graphs() []rdf.Term {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []rdf.Term
	for _, idx := range s.byGraph {
		for key := range idx {
			g := s.quads[key].Graph
			if !g.IsDefaultGraph() {
				out = append(out, g)
			}
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of quads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quads)
}

// All returns every quad in key order.
func (s *Store) All() []rdf.Quad {
	return s.Match(rdf.Term{}, rdf.Term{}, rdf.Term{}, rdf.Term{})
}

// Clear drops every quad.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quads = make(map[string]rdf.Quad)
	s.byGraph = make(map[string]map[string]struct{})
}

// NQuads serializes the store.
func (s *Store) NQuads() string {
	return rdf.FormatNQuads(s.All())
}

// LoadNQuads replaces the store contents with parsed N-Quads.
func (s *Store) LoadNQuads(text string) error {
	quads, err := rdf.ParseNQuads(text)
	if err != nil {
		return err
	}
	s.Clear()
	s.Add(quads...)
	return nil
}

// WriteNQuads streams the store as N-Quads.
func (s *Store) WriteNQuads(w io.Writer) error {
	return rdf.WriteNQuads(w, s.All())
}

// ReadNQuads replaces the store contents with N-Quads read from r.
func (s *Store) ReadNQuads(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "read n-quads")
	}
	return s.LoadNQuads(string(data))
}
