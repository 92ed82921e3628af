package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
)

// Binding maps variable names (without '?') to terms.
type Binding map[string]rdf.Term

// Result is the outcome of Query. Ask queries set Boolean; select queries
// set Vars and Bindings.
type Result struct {
	Ask      bool
	Boolean  bool
	Vars     []string
	Bindings []Binding
}

// Query runs a SPARQL SELECT or ASK over the store.
//
// Supported: PREFIX, SELECT [DISTINCT] vars|*, ASK, optional WHERE, triple
// patterns with ';' and ',' and 'a', GRAPH ?g|<iri> {}, OPTIONAL {},
// nested groups, FILTER(?x = term) and FILTER(?x != term), LIMIT.
// Triple patterns outside GRAPH match the default graph only.
func (s *Store) Query(text string) (*Result, error) {
	q, err := parseQuery(text)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "parse query: %v", err)
	}

	sols := s.evalGroup(q.where, []Binding{{}}, graphScope{isDefault: true})

	if q.ask {
		return &Result{Ask: true, Boolean: len(sols) > 0}, nil
	}

	vars := q.vars
	if q.star {
		vars = q.where.visibleVars(nil)
	}

	seen := make(map[string]bool)
	out := make([]Binding, 0, len(sols))
	for _, sol := range sols {
		row := make(Binding, len(vars))
		for _, v := range vars {
			if t, ok := sol[v]; ok {
				row[v] = t
			}
		}
		if q.distinct {
			key := rowKey(vars, row)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, row)
		if q.limit >= 0 && len(out) >= q.limit {
			break
		}
	}
	return &Result{Vars: vars, Bindings: out}, nil
}

// Ask is shorthand for an ASK query's boolean.
func (s *Store) Ask(text string) (bool, error) {
	res, err := s.Query(text)
	if err != nil {
		return false, err
	}
	if !res.Ask {
		return false, errors.NewInvalidRequestError("not an ASK query")
	}
	return res.Boolean, nil
}

func rowKey(vars []string, row Binding) string {
	var b strings.Builder
	for _, v := range vars {
		b.WriteString(row[v].String())
		b.WriteByte(0)
	}
	return b.String()
}

// graphScope is the active graph while evaluating a group.
type graphScope struct {
	isDefault bool
	node      node
}

func (s *Store) evalGroup(g *group, seeds []Binding, scope graphScope) []Binding {
	sols := seeds
	for _, el := range g.elems {
		if len(sols) == 0 {
			return nil
		}
		switch e := el.(type) {
		case *triplePattern:
			sols = s.matchTriple(sols, e, scope)
		case *graphPattern:
			sols = s.evalGroup(e.group, sols, graphScope{node: e.graph})
		case *optionalPattern:
			var next []Binding
			for _, sol := range sols {
				ext := s.evalGroup(e.group, []Binding{sol}, scope)
				if len(ext) == 0 {
					next = append(next, sol)
				} else {
					next = append(next, ext...)
				}
			}
			sols = next
		case *group:
			sols = s.evalGroup(e, sols, scope)
		}
	}

	if len(g.filters) == 0 {
		return sols
	}
	out := sols[:0:0]
	for _, sol := range sols {
		keep := true
		for _, f := range g.filters {
			if !f.eval(sol) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, sol)
		}
	}
	return out
}

func (s *Store) matchTriple(sols []Binding, tp *triplePattern, scope graphScope) []Binding {
	var out []Binding
	for _, sol := range sols {
		subj := tp.s.resolve(sol)
		pred := tp.p.resolve(sol)
		obj := tp.o.resolve(sol)

		var candidates []rdf.Quad
		switch {
		case scope.isDefault:
			candidates = s.Match(subj, pred, obj, rdf.DefaultGraph)
		default:
			g := scope.node.resolve(sol)
			if g.IsZero() {
				candidates = s.MatchNamed(subj, pred, obj)
			} else {
				candidates = s.Match(subj, pred, obj, g)
			}
		}

		for _, q := range candidates {
			ext, ok := extend(sol, tp.s, q.Subject)
			if ok {
				ext, ok = extend(ext, tp.p, q.Predicate)
			}
			if ok {
				ext, ok = extend(ext, tp.o, q.Object)
			}
			if ok && !scope.isDefault {
				ext, ok = extend(ext, scope.node, q.Graph)
			}
			if ok {
				out = append(out, ext)
			}
		}
	}
	return out
}

// extend binds n to t in a copy of sol, failing on a conflicting binding.
func extend(sol Binding, n node, t rdf.Term) (Binding, bool) {
	if n.variable == "" {
		return sol, true
	}
	if bound, ok := sol[n.variable]; ok {
		return sol, bound == t
	}
	ext := make(Binding, len(sol)+1)
	for k, v := range sol {
		ext[k] = v
	}
	ext[n.variable] = t
	return ext, true
}

// node is a variable or a constant term in a pattern.
type node struct {
	variable string // set for ?x and for query blank nodes
	hidden   bool   // blank node variables are not projected by SELECT *
	term     rdf.Term
}

func (n node) resolve(sol Binding) rdf.Term {
	if n.variable == "" {
		return n.term
	}
	return sol[n.variable]
}

type element interface{}

type triplePattern struct {
	s, p, o node
}

type graphPattern struct {
	graph node
	group *group
}

type optionalPattern struct {
	group *group
}

type group struct {
	elems   []element
	filters []filter
}

func (g *group) visibleVars(acc []string) []string {
	add := func(n node) {
		if n.variable == "" || n.hidden {
			return
		}
		for _, v := range acc {
			if v == n.variable {
				return
			}
		}
		acc = append(acc, n.variable)
	}
	for _, el := range g.elems {
		switch e := el.(type) {
		case *triplePattern:
			add(e.s)
			add(e.p)
			add(e.o)
		case *graphPattern:
			add(e.graph)
			acc = e.group.visibleVars(acc)
		case *optionalPattern:
			acc = e.group.visibleVars(acc)
		case *group:
			acc = e.visibleVars(acc)
		}
	}
	return acc
}

type filter struct {
	left, right node
	negate      bool
}

// eval follows SPARQL error semantics: an unbound operand makes the filter false.
func (f filter) eval(sol Binding) bool {
	l, r := f.left.resolve(sol), f.right.resolve(sol)
	if l.IsZero() || r.IsZero() {
		return false
	}
	equal := l == r
	if !equal && l.IsLiteral() && r.IsLiteral() && l.Language == r.Language {
		// simple and xsd:string literals compare equal by lexical form
		equal = l.Value == r.Value && (l.Datatype == r.Datatype || isStringType(l.Datatype) && isStringType(r.Datatype))
	}
	return equal != f.negate
}

func isStringType(dt string) bool {
	return dt == "" || dt == rdf.XSDString
}

type parsedQuery struct {
	ask      bool
	distinct bool
	star     bool
	vars     []string
	where    *group
	limit    int
}

type parser struct {
	toks     []token
	pos      int
	prefixes map[string]string
}

func parseQuery(text string) (*parsedQuery, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, prefixes: map[string]string{}}
	return p.query()
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) isKeyword(s string) bool {
	t := p.peek()
	return t.kind == tokKeyword && t.text == s
}

func (p *parser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return errors.Newf("expected %q at %d, got %q", s, t.pos, t.text)
	}
	return nil
}

func (p *parser) query() (*parsedQuery, error) {
	for p.isKeyword("PREFIX") {
		p.next()
		ns := p.next()
		if ns.kind != tokPName || !strings.HasSuffix(ns.text, ":") {
			return nil, errors.Newf("expected prefix name at %d", ns.pos)
		}
		iri := p.next()
		if iri.kind != tokIRI {
			return nil, errors.Newf("expected IRI for prefix %s at %d", ns.text, iri.pos)
		}
		p.prefixes[strings.TrimSuffix(ns.text, ":")] = iri.text
	}

	q := &parsedQuery{limit: -1}
	switch {
	case p.isKeyword("ASK"):
		p.next()
		q.ask = true
	case p.isKeyword("SELECT"):
		p.next()
		if p.isKeyword("DISTINCT") {
			p.next()
			q.distinct = true
		}
		if p.isPunct("*") {
			p.next()
			q.star = true
		} else {
			for p.peek().kind == tokVar {
				q.vars = append(q.vars, p.next().text)
			}
			if len(q.vars) == 0 {
				return nil, errors.New("SELECT needs variables or *")
			}
		}
	default:
		return nil, errors.Newf("expected SELECT or ASK, got %q", p.peek().text)
	}

	if p.isKeyword("WHERE") {
		p.next()
	}
	where, err := p.group()
	if err != nil {
		return nil, err
	}
	q.where = where

	if p.isKeyword("LIMIT") {
		p.next()
		t := p.next()
		n, err := strconv.Atoi(t.text)
		if t.kind != tokNumber || err != nil || n < 0 {
			return nil, errors.Newf("invalid LIMIT %q", t.text)
		}
		q.limit = n
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, errors.Newf("unexpected %q at %d", t.text, t.pos)
	}
	return q, nil
}

func (p *parser) group() (*group, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	g := &group{}
	for {
		switch {
		case p.isPunct("}"):
			p.next()
			return g, nil
		case p.isPunct("."):
			p.next()
		case p.isPunct("{"):
			sub, err := p.group()
			if err != nil {
				return nil, err
			}
			g.elems = append(g.elems, sub)
		case p.isKeyword("GRAPH"):
			p.next()
			gn, err := p.term()
			if err != nil {
				return nil, err
			}
			if gn.variable == "" && !gn.term.IsIRI() {
				return nil, errors.New("GRAPH needs a variable or IRI")
			}
			sub, err := p.group()
			if err != nil {
				return nil, err
			}
			g.elems = append(g.elems, &graphPattern{graph: gn, group: sub})
		case p.isKeyword("OPTIONAL"):
			p.next()
			sub, err := p.group()
			if err != nil {
				return nil, err
			}
			g.elems = append(g.elems, &optionalPattern{group: sub})
		case p.isKeyword("FILTER"):
			p.next()
			f, err := p.filter()
			if err != nil {
				return nil, err
			}
			g.filters = append(g.filters, f)
		case p.peek().kind == tokEOF:
			return nil, errors.New("unterminated group")
		default:
			triples, err := p.triples()
			if err != nil {
				return nil, err
			}
			for _, tp := range triples {
				g.elems = append(g.elems, tp)
			}
		}
	}
}

func (p *parser) triples() ([]*triplePattern, error) {
	subj, err := p.term()
	if err != nil {
		return nil, err
	}
	var out []*triplePattern
	for {
		pred, err := p.predicate()
		if err != nil {
			return nil, err
		}
		for {
			obj, err := p.term()
			if err != nil {
				return nil, err
			}
			out = append(out, &triplePattern{s: subj, p: pred, o: obj})
			if !p.isPunct(",") {
				break
			}
			p.next()
		}
		if !p.isPunct(";") {
			return out, nil
		}
		p.next()
		// trailing ';' before '.' or '}'
		if p.isPunct(".") || p.isPunct("}") {
			return out, nil
		}
	}
}

func (p *parser) predicate() (node, error) {
	if p.isKeyword("a") {
		p.next()
		return node{term: rdf.NewIRI(rdf.RDFType)}, nil
	}
	n, err := p.term()
	if err != nil {
		return node{}, err
	}
	if n.variable == "" && !n.term.IsIRI() {
		return node{}, errors.Newf("predicate must be an IRI or variable")
	}
	return n, nil
}

func (p *parser) filter() (filter, error) {
	if err := p.expectPunct("("); err != nil {
		return filter{}, err
	}
	left, err := p.term()
	if err != nil {
		return filter{}, err
	}
	op := p.next()
	if op.kind != tokPunct || (op.text != "=" && op.text != "!=") {
		return filter{}, errors.Newf("unsupported FILTER operator %q", op.text)
	}
	right, err := p.term()
	if err != nil {
		return filter{}, err
	}
	if err := p.expectPunct(")"); err != nil {
		return filter{}, err
	}
	return filter{left: left, right: right, negate: op.text == "!="}, nil
}

func (p *parser) term() (node, error) {
	t := p.next()
	switch t.kind {
	case tokVar:
		return node{variable: t.text}, nil
	case tokBlank:
		return node{variable: "_:" + t.text, hidden: true}, nil
	case tokIRI:
		return node{term: rdf.NewIRI(t.text)}, nil
	case tokPName:
		iri, err := p.expand(t.text)
		if err != nil {
			return node{}, err
		}
		return node{term: rdf.NewIRI(iri)}, nil
	case tokString:
		switch {
		case p.peek().kind == tokLangTag:
			return node{term: rdf.NewLangLiteral(t.text, p.next().text)}, nil
		case p.isPunct("^^"):
			p.next()
			dt, err := p.term()
			if err != nil {
				return node{}, err
			}
			if dt.variable != "" || !dt.term.IsIRI() {
				return node{}, errors.New("datatype must be an IRI")
			}
			return node{term: rdf.NewTypedLiteral(t.text, dt.term.Value)}, nil
		default:
			return node{term: rdf.NewLiteral(t.text)}, nil
		}
	case tokNumber:
		if strings.Contains(t.text, ".") {
			return node{term: rdf.NewTypedLiteral(t.text, rdf.XSDDecimal)}, nil
		}
		if _, err := strconv.Atoi(t.text); err != nil {
			return node{}, errors.Newf("invalid number %q", t.text)
		}
		return node{term: rdf.NewTypedLiteral(t.text, rdf.XSDInteger)}, nil
	case tokKeyword:
		if t.text == "TRUE" || t.text == "FALSE" {
			return node{term: rdf.NewTypedLiteral(strings.ToLower(t.text), rdf.XSDBoolean)}, nil
		}
	}
	return node{}, errors.Newf("unexpected %q at %d", t.text, t.pos)
}

func (p *parser) expand(pname string) (string, error) {
	prefix, local, _ := strings.Cut(pname, ":")
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", errors.Newf("undeclared prefix %q", prefix)
	}
	return ns + local, nil
}

// SortBindings orders rows by the given variables, for stable output.
func SortBindings(rows []Binding, vars ...string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, v := range vars {
			a, b := rows[i][v].String(), rows[j][v].String()
			if a != b {
				return a < b
			}
		}
		return false
	})
}
