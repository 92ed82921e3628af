package store

import (
	"strconv"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
)

// ParseTurtle reads a Turtle document into default-graph quads.
//
// Supported: @prefix and PREFIX, triples with ';' and ',' and 'a', blank
// node labels, [ ] property lists, ( ) collections, and the literal forms
// accepted by Query. Used for shape graphs and fixtures.
func ParseTurtle(text string) ([]rdf.Quad, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "turtle: %v", err)
	}
	tp := &turtleParser{parser: &parser{toks: toks, prefixes: map[string]string{}}}
	for tp.peek().kind != tokEOF {
		if err := tp.statement(); err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "turtle: %v", err)
		}
	}
	return tp.quads, nil
}

type turtleParser struct {
	*parser
	quads  []rdf.Quad
	blanks int
}

func (t *turtleParser) emit(s, p, o rdf.Term) {
	t.quads = append(t.quads, rdf.Triple(s, p, o))
}

func (t *turtleParser) fresh() rdf.Term {
	t.blanks++
	return rdf.NewBlank("genid" + strconv.Itoa(t.blanks))
}

func (t *turtleParser) statement() error {
	switch {
	case t.peek().kind == tokLangTag && t.peek().text == "prefix":
		t.next()
		if err := t.prefix(); err != nil {
			return err
		}
		return t.expectPunct(".")
	case t.isKeyword("PREFIX"):
		t.next()
		return t.prefix()
	}

	anon := t.isPunct("[")
	subj, err := t.object()
	if err != nil {
		return err
	}
	if subj.IsLiteral() {
		return errors.New("literal subject")
	}
	if anon && t.isPunct(".") {
		t.next()
		return nil
	}
	if err := t.predicateObjects(subj, "."); err != nil {
		return err
	}
	return t.expectPunct(".")
}

func (t *turtleParser) prefix() error {
	ns := t.next()
	if ns.kind != tokPName || ns.text[len(ns.text)-1] != ':' {
		return errors.Newf("expected prefix name at %d", ns.pos)
	}
	iri := t.next()
	if iri.kind != tokIRI {
		return errors.Newf("expected IRI for prefix %s at %d", ns.text, iri.pos)
	}
	t.prefixes[ns.text[:len(ns.text)-1]] = iri.text
	return nil
}

// predicateObjects reads a predicate-object list ending before end.
func (t *turtleParser) predicateObjects(subj rdf.Term, end string) error {
	for {
		pred, err := t.verb()
		if err != nil {
			return err
		}
		for {
			obj, err := t.object()
			if err != nil {
				return err
			}
			t.emit(subj, pred, obj)
			if !t.isPunct(",") {
				break
			}
			t.next()
		}
		if !t.isPunct(";") {
			return nil
		}
		for t.isPunct(";") {
			t.next()
		}
		if t.isPunct(end) {
			return nil
		}
	}
}

func (t *turtleParser) verb() (rdf.Term, error) {
	if t.isKeyword("a") {
		t.next()
		return rdf.NewIRI(rdf.RDFType), nil
	}
	term, err := t.object()
	if err != nil {
		return rdf.Term{}, err
	}
	if !term.IsIRI() {
		return rdf.Term{}, errors.New("predicate must be an IRI")
	}
	return term, nil
}

func (t *turtleParser) object() (rdf.Term, error) {
	switch tok := t.peek(); {
	case tok.kind == tokBlank:
		t.next()
		return rdf.NewBlank(tok.text), nil
	case tok.kind == tokVar:
		return rdf.Term{}, errors.Newf("variable %q in turtle at %d", tok.text, tok.pos)
	case t.isPunct("["):
		t.next()
		b := t.fresh()
		if !t.isPunct("]") {
			if err := t.predicateObjects(b, "]"); err != nil {
				return rdf.Term{}, err
			}
		}
		return b, t.expectPunct("]")
	case t.isPunct("("):
		t.next()
		return t.collection()
	}
	n, err := t.term()
	if err != nil {
		return rdf.Term{}, err
	}
	return n.term, nil
}

func (t *turtleParser) collection() (rdf.Term, error) {
	var items []rdf.Term
	for !t.isPunct(")") {
		if t.peek().kind == tokEOF {
			return rdf.Term{}, errors.New("unterminated collection")
		}
		item, err := t.object()
		if err != nil {
			return rdf.Term{}, err
		}
		items = append(items, item)
	}
	t.next()

	head := rdf.NewIRI(rdf.RDFNil)
	for i := len(items) - 1; i >= 0; i-- {
		cell := t.fresh()
		t.emit(cell, rdf.NewIRI(rdf.RDFFirst), items[i])
		t.emit(cell, rdf.NewIRI(rdf.RDFRest), head)
		head = cell
	}
	return head, nil
}
