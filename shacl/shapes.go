// Package shacl validates data graphs against a core subset of SHACL shapes.
//
// Supported targets: sh:targetClass, sh:targetNode, sh:targetSubjectsOf,
// sh:targetObjectsOf. Supported property constraints: sh:minCount,
// sh:maxCount, sh:datatype, sh:nodeKind, sh:minLength, sh:maxLength,
// sh:pattern (with sh:flags), sh:class, sh:in, sh:hasValue. Paths are a
// predicate IRI or [ sh:inversePath <p> ].
package shacl

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/store"
)

// NS is the SHACL namespace.
const NS = "http://www.w3.org/ns/shacl#"

var (
	shNodeShape        = rdf.NewIRI(NS + "NodeShape")
	shTargetClass      = rdf.NewIRI(NS + "targetClass")
	shTargetNode       = rdf.NewIRI(NS + "targetNode")
	shTargetSubjectsOf = rdf.NewIRI(NS + "targetSubjectsOf")
	shTargetObjectsOf  = rdf.NewIRI(NS + "targetObjectsOf")
	shProperty         = rdf.NewIRI(NS + "property")
	shPath             = rdf.NewIRI(NS + "path")
	shInversePath      = rdf.NewIRI(NS + "inversePath")
	shMinCount         = rdf.NewIRI(NS + "minCount")
	shMaxCount         = rdf.NewIRI(NS + "maxCount")
	shDatatype         = rdf.NewIRI(NS + "datatype")
	shNodeKind         = rdf.NewIRI(NS + "nodeKind")
	shMinLength        = rdf.NewIRI(NS + "minLength")
	shMaxLength        = rdf.NewIRI(NS + "maxLength")
	shPattern          = rdf.NewIRI(NS + "pattern")
	shFlags            = rdf.NewIRI(NS + "flags")
	shClass            = rdf.NewIRI(NS + "class")
	shIn               = rdf.NewIRI(NS + "in")
	shHasValue         = rdf.NewIRI(NS + "hasValue")
	shMessage          = rdf.NewIRI(NS + "message")
	shSeverity         = rdf.NewIRI(NS + "severity")
	shDeactivated      = rdf.NewIRI(NS + "deactivated")

	rdfType  = rdf.NewIRI(rdf.RDFType)
	rdfFirst = rdf.NewIRI(rdf.RDFFirst)
	rdfRest  = rdf.NewIRI(rdf.RDFRest)
)

// Shapes is a parsed shapes graph.
type Shapes struct {
	nodes []*nodeShape
}

type nodeShape struct {
	id               rdf.Term
	targetClass      []rdf.Term
	targetNode       []rdf.Term
	targetSubjectsOf []rdf.Term
	targetObjectsOf  []rdf.Term
	properties       []*propertyShape
}

type propertyShape struct {
	id       rdf.Term
	path     rdf.Term
	inverse  bool
	message  string
	severity string

	minCount  *int
	maxCount  *int
	minLength *int
	maxLength *int
	datatype  string
	nodeKind  string
	class     []rdf.Term
	pattern   *regexp.Regexp
	in        []rdf.Term
	hasValue  []rdf.Term
}

// ParseTurtle parses a Turtle shapes document.
func ParseTurtle(text string) (*Shapes, error) {
	quads, err := store.ParseTurtle(text)
	if err != nil {
		return nil, err
	}
	return Parse(quads)
}

// Parse reads node shapes from a shapes graph. Graph names are ignored.
func Parse(quads []rdf.Quad) (*Shapes, error) {
	g := store.New()
	for _, q := range quads {
		g.Add(q.InGraph(rdf.DefaultGraph))
	}

	ids := map[string]rdf.Term{}
	collect := func(q rdf.Quad) { ids[q.Subject.String()] = q.Subject }
	for _, q := range g.Match(rdf.Term{}, rdfType, shNodeShape, rdf.DefaultGraph) {
		collect(q)
	}
	for _, pred := range []rdf.Term{shTargetClass, shTargetNode, shTargetSubjectsOf, shTargetObjectsOf} {
		for _, q := range g.Match(rdf.Term{}, pred, rdf.Term{}, rdf.DefaultGraph) {
			collect(q)
		}
	}

	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := &Shapes{}
	for _, k := range keys {
		id := ids[k]
		if isTrue(objects(g, id, shDeactivated)) {
			continue
		}
		ns := &nodeShape{
			id:               id,
			targetClass:      objects(g, id, shTargetClass),
			targetNode:       objects(g, id, shTargetNode),
			targetSubjectsOf: objects(g, id, shTargetSubjectsOf),
			targetObjectsOf:  objects(g, id, shTargetObjectsOf),
		}
		for _, pid := range objects(g, id, shProperty) {
			if isTrue(objects(g, pid, shDeactivated)) {
				continue
			}
			ps, err := parseProperty(g, pid)
			if err != nil {
				return nil, errors.Wrapf(err, "shape %s", id.Value)
			}
			ns.properties = append(ns.properties, ps)
		}
		s.nodes = append(s.nodes, ns)
	}
	return s, nil
}

func parseProperty(g *store.Store, id rdf.Term) (*propertyShape, error) {
	ps := &propertyShape{id: id, severity: SeverityViolation}

	paths := objects(g, id, shPath)
	if len(paths) != 1 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "property shape %s needs exactly one sh:path", id.Value)
	}
	ps.path = paths[0]
	if ps.path.IsBlank() {
		inv := objects(g, ps.path, shInversePath)
		if len(inv) != 1 || !inv[0].IsIRI() {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "property shape %s: unsupported path", id.Value)
		}
		ps.path, ps.inverse = inv[0], true
	}
	if !ps.path.IsIRI() {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "property shape %s: path must be an IRI", id.Value)
	}

	var err error
	if ps.minCount, err = intParam(g, id, shMinCount); err != nil {
		return nil, err
	}
	if ps.maxCount, err = intParam(g, id, shMaxCount); err != nil {
		return nil, err
	}
	if ps.minLength, err = intParam(g, id, shMinLength); err != nil {
		return nil, err
	}
	if ps.maxLength, err = intParam(g, id, shMaxLength); err != nil {
		return nil, err
	}
	if dt := objects(g, id, shDatatype); len(dt) > 0 {
		ps.datatype = dt[0].Value
	}
	if nk := objects(g, id, shNodeKind); len(nk) > 0 {
		ps.nodeKind = nk[0].Value
	}
	ps.class = objects(g, id, shClass)
	ps.hasValue = objects(g, id, shHasValue)
	if msg := objects(g, id, shMessage); len(msg) > 0 {
		ps.message = msg[0].Value
	}
	if sev := objects(g, id, shSeverity); len(sev) > 0 {
		ps.severity = localName(sev[0].Value)
	}
	if pat := objects(g, id, shPattern); len(pat) > 0 {
		expr := pat[0].Value
		if flags := objects(g, id, shFlags); len(flags) > 0 && flags[0].Value != "" {
			expr = "(?" + flags[0].Value + ")" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "property shape %s: sh:pattern: %v", id.Value, err)
		}
		ps.pattern = re
	}
	if lists := objects(g, id, shIn); len(lists) > 0 {
		items, err := list(g, lists[0])
		if err != nil {
			return nil, errors.Wrapf(err, "property shape %s: sh:in", id.Value)
		}
		ps.in = items
	}
	return ps, nil
}

func objects(g *store.Store, subject, predicate rdf.Term) []rdf.Term {
	quads := g.Match(subject, predicate, rdf.Term{}, rdf.DefaultGraph)
	out := make([]rdf.Term, 0, len(quads))
	for _, q := range quads {
		out = append(out, q.Object)
	}
	return out
}

func intParam(g *store.Store, subject, predicate rdf.Term) (*int, error) {
	vals := objects(g, subject, predicate)
	if len(vals) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(vals[0].Value)
	if err != nil || n < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s on %s is not a non-negative integer: %q", localName(predicate.Value), subject.Value, vals[0].Value)
	}
	return &n, nil
}

func isTrue(vals []rdf.Term) bool {
	return len(vals) > 0 && vals[0].Value == "true"
}

// list walks an rdf:first/rdf:rest collection.
func list(g *store.Store, head rdf.Term) ([]rdf.Term, error) {
	var items []rdf.Term
	seen := map[string]bool{}
	for !(head.IsIRI() && head.Value == rdf.RDFNil) {
		key := head.String()
		if seen[key] {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "cyclic list")
		}
		seen[key] = true
		first := objects(g, head, rdfFirst)
		rest := objects(g, head, rdfRest)
		if len(first) != 1 || len(rest) != 1 {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "malformed list")
		}
		items = append(items, first[0])
		head = rest[0]
	}
	return items, nil
}

func localName(iri string) string {
	for i := len(iri) - 1; i >= 0; i-- {
		if iri[i] == '#' || iri[i] == '/' {
			return iri[i+1:]
		}
	}
	return iri
}
