package shacl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/store"
)

// Result severities, as SHACL local names.
const (
	SeverityViolation = "Violation"
	SeverityWarning   = "Warning"
	SeverityInfo      = "Info"
)

// Result is one validation finding.
type Result struct {
	Message                   string `json:"message"`
	Path                      string `json:"path,omitempty"`
	FocusNode                 string `json:"focusNode,omitempty"`
	Severity                  string `json:"severity"`
	SourceConstraintComponent string `json:"sourceConstraintComponent,omitempty"`
}

// Report is the outcome of Validate.
type Report struct {
	Conforms bool     `json:"conforms"`
	Results  []Result `json:"results"`
}

// ValidationError carries a non-conforming report.
type ValidationError struct {
	Report Report
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Report.Results))
	for _, r := range e.Report.Results {
		msgs = append(msgs, r.Message)
	}
	return "shape validation failed: " + strings.Join(msgs, ", ")
}

// Check validates data and returns a *ValidationError when it does not conform.
func (s *Shapes) Check(data []rdf.Quad) error {
	if report := s.Validate(data); !report.Conforms {
		return &ValidationError{Report: report}
	}
	return nil
}

// Validate evaluates every shape against data. Graph names are ignored.
// A nil Shapes conforms trivially.
func (s *Shapes) Validate(data []rdf.Quad) Report {
	report := Report{Conforms: true, Results: []Result{}}
	if s == nil {
		return report
	}
	g := store.New()
	for _, q := range data {
		g.Add(q.InGraph(rdf.DefaultGraph))
	}
	for _, ns := range s.nodes {
		for _, focus := range ns.focusNodes(g) {
			for _, ps := range ns.properties {
				report.Results = append(report.Results, ps.validate(g, focus)...)
			}
		}
	}
	report.Conforms = len(report.Results) == 0
	return report
}

// Len is the number of active node shapes.
func (s *Shapes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

func (ns *nodeShape) focusNodes(g *store.Store) []rdf.Term {
	set := map[string]rdf.Term{}
	add := func(t rdf.Term) {
		if !t.IsLiteral() {
			set[t.String()] = t
		}
	}
	for _, t := range ns.targetNode {
		set[t.String()] = t
	}
	for _, class := range ns.targetClass {
		for _, q := range g.Match(rdf.Term{}, rdfType, class, rdf.DefaultGraph) {
			add(q.Subject)
		}
	}
	for _, pred := range ns.targetSubjectsOf {
		for _, q := range g.Match(rdf.Term{}, pred, rdf.Term{}, rdf.DefaultGraph) {
			add(q.Subject)
		}
	}
	for _, pred := range ns.targetObjectsOf {
		for _, q := range g.Match(rdf.Term{}, pred, rdf.Term{}, rdf.DefaultGraph) {
			add(q.Object)
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]rdf.Term, 0, len(keys))
	for _, k := range keys {
		out = append(out, set[k])
	}
	return out
}

func (ps *propertyShape) values(g *store.Store, focus rdf.Term) []rdf.Term {
	if ps.inverse {
		var out []rdf.Term
		for _, q := range g.Match(rdf.Term{}, ps.path, focus, rdf.DefaultGraph) {
			out = append(out, q.Subject)
		}
		return out
	}
	if focus.IsLiteral() {
		return nil
	}
	return objects(g, focus, ps.path)
}

func (ps *propertyShape) validate(g *store.Store, focus rdf.Term) []Result {
	vals := ps.values(g, focus)
	var out []Result
	fail := func(component, format string, args ...interface{}) {
		msg := ps.message
		if msg == "" {
			msg = fmt.Sprintf(format, args...)
		}
		out = append(out, Result{
			Message:                   msg,
			Path:                      ps.path.Value,
			FocusNode:                 focus.Value,
			Severity:                  ps.severity,
			SourceConstraintComponent: NS + component,
		})
	}

	if ps.minCount != nil && len(vals) < *ps.minCount {
		fail("MinCountConstraintComponent", "Less than %d values", *ps.minCount)
	}
	if ps.maxCount != nil && len(vals) > *ps.maxCount {
		fail("MaxCountConstraintComponent", "More than %d values", *ps.maxCount)
	}
	for _, want := range ps.hasValue {
		if !containsTerm(vals, want) {
			fail("HasValueConstraintComponent", "Missing expected value %s", want.Value)
		}
	}

	for _, v := range vals {
		if ps.datatype != "" && !hasDatatype(v, ps.datatype) {
			fail("DatatypeConstraintComponent", "Value does not have datatype %s", ps.datatype)
		}
		if ps.nodeKind != "" && !hasNodeKind(v, ps.nodeKind) {
			fail("NodeKindConstraintComponent", "Value does not have node kind %s", ps.nodeKind)
		}
		for _, class := range ps.class {
			if v.IsLiteral() || !g.Has(rdf.Triple(v, rdfType, class)) {
				fail("ClassConstraintComponent", "Value does not have class %s", class.Value)
			}
		}
		if ps.minLength != nil || ps.maxLength != nil {
			n := utf8.RuneCountInString(v.Value)
			if v.IsBlank() || ps.minLength != nil && n < *ps.minLength {
				fail("MinLengthConstraintComponent", "Value has less than %d characters", derefOr(ps.minLength, 0))
			}
			if v.IsBlank() || ps.maxLength != nil && n > *ps.maxLength {
				fail("MaxLengthConstraintComponent", "Value has more than %d characters", derefOr(ps.maxLength, 0))
			}
		}
		if ps.pattern != nil && (v.IsBlank() || !ps.pattern.MatchString(v.Value)) {
			fail("PatternConstraintComponent", "Value does not match pattern %q", ps.pattern.String())
		}
		if ps.in != nil && !containsTerm(ps.in, v) {
			fail("InConstraintComponent", "Value is not in the allowed list")
		}
	}
	return out
}

func containsTerm(ts []rdf.Term, want rdf.Term) bool {
	for _, t := range ts {
		if t.Equal(want) {
			return true
		}
	}
	return false
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func hasNodeKind(v rdf.Term, kind string) bool {
	switch localName(kind) {
	case "IRI":
		return v.IsIRI()
	case "BlankNode":
		return v.IsBlank()
	case "Literal":
		return v.IsLiteral()
	case "BlankNodeOrIRI":
		return v.IsBlank() || v.IsIRI()
	case "BlankNodeOrLiteral":
		return v.IsBlank() || v.IsLiteral()
	case "IRIOrLiteral":
		return v.IsIRI() || v.IsLiteral()
	}
	return false
}

// hasDatatype also rejects ill-formed lexical values of the common XSD types.
func hasDatatype(v rdf.Term, datatype string) bool {
	if !v.IsLiteral() || v.Datatype != datatype {
		return false
	}
	switch datatype {
	case rdf.XSDInteger:
		_, err := strconv.ParseInt(v.Value, 10, 64)
		return err == nil
	case rdf.XSDDecimal:
		_, err := strconv.ParseFloat(v.Value, 64)
		return err == nil && !strings.ContainsAny(v.Value, "eE")
	case rdf.XSDBoolean:
		switch v.Value {
		case "true", "false", "1", "0":
			return true
		}
		return false
	}
	return true
}
