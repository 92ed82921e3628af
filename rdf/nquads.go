package rdf

import (
	"io"
	"sort"
	"strings"

	"github.com/piprate/json-gold/ld"

	"github.com/teranos/weave/errors"
)

// FormatNQuads renders quads as sorted N-Quads text.
func FormatNQuads(quads []Quad) string {
	lines := make([]string, 0, len(quads))
	for _, q := range quads {
		lines = append(lines, q.String())
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// WriteNQuads writes quads to w as sorted N-Quads.
func WriteNQuads(w io.Writer, quads []Quad) error {
	_, err := io.WriteString(w, FormatNQuads(quads))
	return errors.Wrap(err, "write n-quads")
}

// ParseNQuads parses N-Quads text.
func ParseNQuads(text string) ([]Quad, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	dataset, err := ld.ParseNQuads(text)
	if err != nil {
		return nil, errors.Wrap(err, "parse n-quads")
	}
	return FromDataset(dataset), nil
}

// FromDataset converts a json-gold dataset to quads. Graph names come from
// the dataset's graph keys; "@default" maps to the default graph.
func FromDataset(dataset *ld.RDFDataset) []Quad {
	var names []string
	for name := range dataset.Graphs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Quad
	for _, name := range names {
		graph := graphTerm(name)
		for _, q := range dataset.Graphs[name] {
			out = append(out, NewQuad(FromNode(q.Subject), FromNode(q.Predicate), FromNode(q.Object), graph))
		}
	}
	return out
}

// ToDataset converts quads to a json-gold dataset.
func ToDataset(quads []Quad) *ld.RDFDataset {
	dataset := ld.NewRDFDataset()
	for _, q := range quads {
		name := "@default"
		switch {
		case q.Graph.IsIRI():
			name = q.Graph.Value
		case q.Graph.IsBlank():
			name = "_:" + q.Graph.Value
		}
		dataset.Graphs[name] = append(dataset.Graphs[name],
			ld.NewQuad(ToNode(q.Subject), ToNode(q.Predicate), ToNode(q.Object), name))
	}
	return dataset
}

// FromNode converts a json-gold node.
func FromNode(n ld.Node) Term {
	switch v := n.(type) {
	case *ld.IRI:
		return NewIRI(v.Value)
	case *ld.BlankNode:
		return NewBlank(v.Attribute)
	case *ld.Literal:
		if v.Language != "" {
			return NewLangLiteral(v.Value, v.Language)
		}
		return NewTypedLiteral(v.Value, v.Datatype)
	default:
		return Term{}
	}
}

// ToNode converts a term to a json-gold node.
func ToNode(t Term) ld.Node {
	switch t.Kind {
	case KindIRI:
		return ld.NewIRI(t.Value)
	case KindBlank:
		return ld.NewBlankNode("_:" + t.Value)
	case KindLiteral:
		return ld.NewLiteral(t.Value, t.Datatype, t.Language)
	default:
		return nil
	}
}

func graphTerm(name string) Term {
	switch {
	case name == "@default" || name == "":
		return DefaultGraph
	case strings.HasPrefix(name, "_:"):
		return NewBlank(name)
	default:
		return NewIRI(name)
	}
}
