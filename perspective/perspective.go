// Package perspective is a named, locally owned view over a quad store.
//
// Every accepted link lives in the named graph of the expression that
// asserted it, and its triple is mirrored into the default graph so plain
// queries see the merged view. Graph metadata (author, timestamp, proof) is
// reified as default-graph quads on the graph node.
package perspective

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weave/digest"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/store"
)

// UnknownAuthor is reported for graphs without an author quad.
const UnknownAuthor = "unknown"

var (
	predAuthor    = rdf.NewIRI(rdf.PredAuthor)
	predTimestamp = rdf.NewIRI(rdf.PredTimestamp)
	predProof     = rdf.NewIRI(rdf.PredProof)
)

// Perspective owns a store and serializes its writers.
type Perspective struct {
	id   string
	name string

	mu       sync.Mutex // serializes mutations; reads go to the store's own lock
	store    *store.Store
	digest   *digest.Hash // cached root, nil after a mutation
	logger   *zap.SugaredLogger
	onChange func(id string)
	now      func() time.Time
}

// Option configures a Perspective.
type Option func(*Perspective)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Perspective) { p.logger = l }
}

// WithOnChange registers a callback run after every mutation that changed the store.
func WithOnChange(fn func(id string)) Option {
	return func(p *Perspective) { p.onChange = fn }
}

// WithClock overrides the time source used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Perspective) { p.now = now }
}

// New creates an empty perspective.
func New(id, name string, opts ...Option) *Perspective {
	p := &Perspective{
		id:     id,
		name:   name,
		store:  store.New(),
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.FieldPerspective, id)
	return p
}

// ID is the perspective id.
func (p *Perspective) ID() string { return p.id }

// Name is the display name.
func (p *Perspective) Name() string { return p.name }

// GraphFor names the graph a link expression belongs to: the proof identity
// when there is one, else a content hash of the link.
func GraphFor(le expression.LinkExpression) rdf.Term {
	id := le.Proof.Identity()
	if id == "" {
		t := le.Data.Triple()
		id = "sha256:" + digest.HexHash(digest.LinkHash(le.Author, le.Timestamp, t.Subject.Value, t.Predicate.Value, t.Object.Value))
	}
	return rdf.NewIRI(rdf.ExpressionGraphPrefix + id)
}

// Add stores each link in its expression graph, mirrors it into the default
// graph and records the graph metadata. Re-adding is a no-op.
func (p *Perspective) Add(links ...expression.LinkExpression) error {
	quads := make([]rdf.Quad, 0, len(links)*5)
	for _, le := range links {
		triple := le.Data.Triple()
		if err := triple.Validate(); err != nil {
			return errors.Wrapf(err, "link %s -> %s", le.Data.Source, le.Data.Target)
		}
		proof, err := json.Marshal(le.Proof)
		if err != nil {
			return errors.Wrap(err, "encode proof")
		}
		g := GraphFor(le)
		quads = append(quads, triple.InGraph(g), triple, rdf.Triple(g, predProof, rdf.NewTypedLiteral(string(proof), rdf.RDFJSON)))
		if le.Author != "" {
			quads = append(quads, rdf.Triple(g, predAuthor, rdf.ObjectTerm(le.Author)))
		}
		if le.Timestamp != "" {
			quads = append(quads, rdf.Triple(g, predTimestamp, rdf.NewTypedLiteral(le.Timestamp, rdf.XSDDateTime)))
		}
	}

	p.mu.Lock()
	added := p.store.Add(quads...)
	if added > 0 {
		p.digest = nil
	}
	p.mu.Unlock()

	if added > 0 {
		p.logger.Debugw("Links added", logger.FieldCount, len(links), "quads", added)
		p.changed()
	}
	return nil
}

// Remove retracts a link. It targets the link's own expression graph when
// that graph exists, else every graph asserting the triple. Graph metadata
// goes once a graph has no data left, and the default-graph mirror goes only
// when no named graph still asserts the triple.
func (p *Perspective) Remove(le expression.LinkExpression) error {
	triple := le.Data.Triple()
	if err := triple.Validate(); err != nil {
		return errors.Wrapf(err, "link %s -> %s", le.Data.Source, le.Data.Target)
	}

	p.mu.Lock()
	removed := 0
	for _, g := range p.targetGraphs(le, triple) {
		removed += p.store.Remove(triple.InGraph(g))
		if len(p.store.Match(rdf.Term{}, rdf.Term{}, rdf.Term{}, g)) == 0 {
			removed += p.store.Remove(p.metadata(g)...)
		}
	}
	// same answer as ASK { GRAPH ?g { s p o } }, without rendering terms into query text
	if len(p.store.MatchNamed(triple.Subject, triple.Predicate, triple.Object)) == 0 {
		removed += p.store.Remove(triple)
	}
	if removed > 0 {
		p.digest = nil
	}
	p.mu.Unlock()

	if removed > 0 {
		p.logger.Debugw("Link removed", "source", le.Data.Source, "target", le.Data.Target, "quads", removed)
		p.changed()
	}
	return nil
}

// Caller must hold p.mu.
func (p *Perspective) targetGraphs(le expression.LinkExpression, triple rdf.Quad) []rdf.Term {
	own := GraphFor(le)
	if len(p.store.Match(rdf.Term{}, rdf.Term{}, rdf.Term{}, own)) > 0 {
		return []rdf.Term{own}
	}
	var graphs []rdf.Term
	for _, q := range p.store.MatchNamed(triple.Subject, triple.Predicate, triple.Object) {
		graphs = append(graphs, q.Graph)
	}
	return graphs
}

func (p *Perspective) metadata(g rdf.Term) []rdf.Quad {
	var out []rdf.Quad
	for _, pred := range []rdf.Term{predAuthor, predTimestamp, predProof} {
		out = append(out, p.store.Match(g, pred, rdf.Term{}, rdf.DefaultGraph)...)
	}
	return out
}

// All returns every link held in a named graph with its graph metadata.
func (p *Perspective) All() []expression.LinkExpression {
	var out []expression.LinkExpression
	for _, g := range p.store.Graphs() {
		author, timestamp, proof := p.graphMetadata(g)
		if author == "" {
			author = UnknownAuthor
		}
		if timestamp == "" {
			timestamp = expression.Timestamp(p.now())
		}
		for _, q := range p.store.Match(rdf.Term{}, rdf.Term{}, rdf.Term{}, g) {
			out = append(out, expression.LinkExpression{
				Author:    author,
				Timestamp: timestamp,
				Data:      expression.LinkFromQuad(q),
				Proof:     proof,
			})
		}
	}
	return out
}

// graphMetadata returns the stored metadata of g. Missing fields are empty.
func (p *Perspective) graphMetadata(g rdf.Term) (author, timestamp string, proof expression.Proof) {
	if qs := p.store.Match(g, predAuthor, rdf.Term{}, rdf.DefaultGraph); len(qs) > 0 {
		author = qs[0].Object.Value
	}
	if qs := p.store.Match(g, predTimestamp, rdf.Term{}, rdf.DefaultGraph); len(qs) > 0 {
		timestamp = qs[0].Object.Value
	}
	if qs := p.store.Match(g, predProof, rdf.Term{}, rdf.DefaultGraph); len(qs) > 0 {
		if err := json.Unmarshal([]byte(qs[0].Object.Value), &proof); err != nil {
			p.logger.Warnw("Unreadable proof metadata", logger.FieldGraph, g.Value, logger.FieldError, err)
		}
	}
	return author, timestamp, proof
}

// Query runs SPARQL over the perspective's store.
func (p *Perspective) Query(sparql string) (*store.Result, error) {
	return p.store.Query(sparql)
}

// Len is the number of quads held, metadata included.
func (p *Perspective) Len() int { return p.store.Len() }

// Digest is the Merkle root over the perspective's links and their stored
// metadata. It is cached until the next mutation.
func (p *Perspective) Digest() digest.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.digest != nil {
		return *p.digest
	}

	tree := digest.NewTree()
	for _, g := range p.store.Graphs() {
		author, timestamp, _ := p.graphMetadata(g)
		for _, q := range p.store.Match(rdf.Term{}, rdf.Term{}, rdf.Term{}, g) {
			l := expression.LinkFromQuad(q)
			tree.Insert(author, digest.LinkHash(author, timestamp, l.Source, l.Predicate, l.Target))
		}
	}
	root := tree.Root()
	p.digest = &root
	return root
}

// NQuads serializes the whole store for persistence.
func (p *Perspective) NQuads() string { return p.store.NQuads() }

// Restore replaces the contents from a snapshot without firing OnChange.
func (p *Perspective) Restore(nquads string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.digest = nil
	return errors.Wrapf(p.store.LoadNQuads(nquads), "restore perspective %s", p.id)
}

func (p *Perspective) changed() {
	if p.onChange != nil {
		p.onChange(p.id)
	}
}
