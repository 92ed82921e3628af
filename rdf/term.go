// Package rdf defines the RDF terms and quads shared by the store, the
// credential layer and the wire payload of expressions.
package rdf

import (
	"encoding/json"
	"strings"

	"github.com/teranos/weave/errors"
)

// Well-known IRIs.
const (
	XSDString     = "http://www.w3.org/2001/XMLSchema#string"
	XSDInteger    = "http://www.w3.org/2001/XMLSchema#integer"
	XSDDecimal    = "http://www.w3.org/2001/XMLSchema#decimal"
	XSDBoolean    = "http://www.w3.org/2001/XMLSchema#boolean"
	XSDDateTime   = "http://www.w3.org/2001/XMLSchema#dateTime"
	RDFType       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
	RDFFirst      = "http://www.w3.org/1999/02/22-rdf-syntax-ns#first"
	RDFRest       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#rest"
	RDFNil        = "http://www.w3.org/1999/02/22-rdf-syntax-ns#nil"
	RDFJSON       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#JSON"
)

// Kind is the RDF term type.
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
	KindDefaultGraph
)

var kindNames = map[Kind]string{
	KindIRI:          "NamedNode",
	KindBlank:        "BlankNode",
	KindLiteral:      "Literal",
	KindDefaultGraph: "DefaultGraph",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Term is an IRI, blank node, literal, or the default graph marker.
// The zero Term is invalid and is used as a wildcard by Match.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string // literals only, always set
	Language string // literals only
}

// DefaultGraph is the graph term of quads outside any named graph.
var DefaultGraph = Term{Kind: KindDefaultGraph}

// NewIRI returns a named node.
func NewIRI(iri string) Term {
	return Term{Kind: KindIRI, Value: iri}
}

// NewBlank returns a blank node labelled id (without the _: prefix).
func NewBlank(id string) Term {
	return Term{Kind: KindBlank, Value: strings.TrimPrefix(id, "_:")}
}

// NewLiteral returns an xsd:string literal.
func NewLiteral(value string) Term {
	return Term{Kind: KindLiteral, Value: value, Datatype: XSDString}
}

// NewTypedLiteral returns a literal with an explicit datatype.
func NewTypedLiteral(value, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// NewLangLiteral returns a language-tagged string.
func NewLangLiteral(value, lang string) Term {
	return Term{Kind: KindLiteral, Value: value, Datatype: RDFLangString, Language: strings.ToLower(lang)}
}

// ObjectTerm chooses IRI or literal for a link target: anything that looks
// like an http(s) IRI, DID or URN is a named node, everything else is text.
func ObjectTerm(target string) Term {
	if strings.HasPrefix(target, "http") || strings.HasPrefix(target, "did:") || strings.HasPrefix(target, "urn:") {
		return NewIRI(target)
	}
	return NewLiteral(target)
}

// IsZero reports whether t is the wildcard.
func (t Term) IsZero() bool { return t.Kind == 0 }

// IsIRI reports whether t is a named node.
func (t Term) IsIRI() bool { return t.Kind == KindIRI }

// IsBlank reports whether t is a blank node.
func (t Term) IsBlank() bool { return t.Kind == KindBlank }

// IsLiteral reports whether t is a literal.
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// IsDefaultGraph reports whether t is the default graph marker.
func (t Term) IsDefaultGraph() bool { return t.Kind == KindDefaultGraph }

// Equal compares terms structurally.
func (t Term) Equal(o Term) bool {
	return t == o
}

// String renders the term in N-Quads syntax. The default graph renders empty.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + escapeLiteral(t.Value) + `"`
		if t.Language != "" {
			return s + "@" + t.Language
		}
		if t.Datatype != "" && t.Datatype != XSDString {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return ""
	}
}

func escapeLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return r.Replace(s)
}

type termJSON struct {
	TermType string `json:"termType"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Language string `json:"language,omitempty"`
}

// MarshalJSON encodes the term as an RDF/JS-style object.
func (t Term) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	out := termJSON{TermType: t.Kind.String(), Value: t.Value}
	if t.Kind == KindLiteral {
		out.Language = t.Language
		if t.Datatype != XSDString {
			out.Datatype = t.Datatype
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an RDF/JS-style term object.
func (t *Term) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Term{}
		return nil
	}
	var in termJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "decode term")
	}
	switch in.TermType {
	case "NamedNode":
		*t = NewIRI(in.Value)
	case "BlankNode":
		*t = NewBlank(in.Value)
	case "Literal":
		if in.Language != "" {
			*t = NewLangLiteral(in.Value, in.Language)
		} else {
			*t = NewTypedLiteral(in.Value, in.Datatype)
		}
	case "DefaultGraph":
		*t = DefaultGraph
	default:
		return errors.Newf("unknown termType %q", in.TermType)
	}
	return nil
}
