package rdf

import (
	"encoding/json"

	"github.com/teranos/weave/errors"
)

// Quad is a triple plus its graph label.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// NewQuad builds a quad. A zero graph means the default graph.
func NewQuad(s, p, o, g Term) Quad {
	if g.IsZero() {
		g = DefaultGraph
	}
	return Quad{Subject: s, Predicate: p, Object: o, Graph: g}
}

// Triple builds a default-graph quad.
func Triple(s, p, o Term) Quad {
	return NewQuad(s, p, o, DefaultGraph)
}

// InGraph returns a copy of q placed in graph g.
func (q Quad) InGraph(g Term) Quad {
	return NewQuad(q.Subject, q.Predicate, q.Object, g)
}

// Key identifies the quad for set membership.
func (q Quad) Key() string {
	return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " " + q.Graph.String()
}

// TripleKey identifies the (s, p, o) part regardless of graph.
func (q Quad) TripleKey() string {
	return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String()
}

// String renders the quad as one N-Quads statement.
func (q Quad) String() string {
	if q.Graph.IsDefaultGraph() || q.Graph.IsZero() {
		return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " ."
	}
	return q.Key() + " ."
}

// Validate checks the positional constraints of RDF 1.1.
func (q Quad) Validate() error {
	if !q.Subject.IsIRI() && !q.Subject.IsBlank() {
		return errors.Newf("subject must be an IRI or blank node, got %s", q.Subject.Kind)
	}
	if !q.Predicate.IsIRI() {
		return errors.Newf("predicate must be an IRI, got %s", q.Predicate.Kind)
	}
	if q.Subject.Value == "" || q.Predicate.Value == "" {
		return errors.New("subject and predicate must not be empty")
	}
	if q.Object.IsZero() || q.Object.IsDefaultGraph() {
		return errors.New("object must be an IRI, blank node or literal")
	}
	if !q.Graph.IsZero() && !q.Graph.IsDefaultGraph() && !q.Graph.IsIRI() && !q.Graph.IsBlank() {
		return errors.Newf("graph must be an IRI or blank node, got %s", q.Graph.Kind)
	}
	return nil
}

type quadJSON struct {
	Subject   Term  `json:"subject"`
	Predicate Term  `json:"predicate"`
	Object    Term  `json:"object"`
	Graph     *Term `json:"graph,omitempty"`
}

// MarshalJSON omits the graph for default-graph quads.
func (q Quad) MarshalJSON() ([]byte, error) {
	out := quadJSON{Subject: q.Subject, Predicate: q.Predicate, Object: q.Object}
	if !q.Graph.IsZero() && !q.Graph.IsDefaultGraph() {
		g := q.Graph
		out.Graph = &g
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a quad and validates its term positions.
func (q *Quad) UnmarshalJSON(data []byte) error {
	var in quadJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "decode quad")
	}
	g := DefaultGraph
	if in.Graph != nil && !in.Graph.IsZero() {
		g = *in.Graph
	}
	decoded := NewQuad(in.Subject, in.Predicate, in.Object, g)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*q = decoded
	return nil
}
