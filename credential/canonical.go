package credential

import (
	"encoding/json"

	"github.com/piprate/json-gold/ld"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
)

const nquadsFormat = "application/n-quads"

// Processor wraps a json-gold processor configured for offline contexts.
type Processor struct {
	proc   *ld.JsonLdProcessor
	loader ld.DocumentLoader
}

// NewProcessor creates a processor that only knows the bundled contexts.
func NewProcessor() *Processor {
	return &Processor{
		proc:   ld.NewJsonLdProcessor(),
		loader: newOfflineLoader(),
	}
}

func (p *Processor) options() *ld.JsonLdOptions {
	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = p.loader
	return opts
}

// Canonicalize returns the URDNA2015 N-Quads form of a JSON-LD document.
func (p *Processor) Canonicalize(doc interface{}) (string, error) {
	opts := p.options()
	opts.Format = nquadsFormat
	opts.Algorithm = "URDNA2015"

	normalized, err := p.proc.Normalize(doc, opts)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize document")
	}
	s, ok := normalized.(string)
	if !ok {
		return "", errors.AssertionFailedf("normalize returned %T, want string", normalized)
	}
	return s, nil
}

// ToQuads expands a JSON-LD document into quads.
func (p *Processor) ToQuads(doc interface{}) ([]rdf.Quad, error) {
	opts := p.options()
	opts.Format = nquadsFormat

	out, err := p.proc.ToRDF(doc, opts)
	if err != nil {
		return nil, errors.Wrap(err, "convert document to rdf")
	}
	s, ok := out.(string)
	if !ok {
		return nil, errors.AssertionFailedf("toRDF returned %T, want string", out)
	}
	return rdf.ParseNQuads(s)
}

// FromQuads converts default-graph triples into expanded JSON-LD node objects.
func (p *Processor) FromQuads(quads []rdf.Quad) (interface{}, error) {
	triples := make([]rdf.Quad, 0, len(quads))
	for _, q := range quads {
		triples = append(triples, q.InGraph(rdf.DefaultGraph))
	}

	opts := p.options()
	opts.Format = nquadsFormat
	nodes, err := p.proc.FromRDF(rdf.FormatNQuads(triples), opts)
	if err != nil {
		return nil, errors.Wrap(err, "convert rdf to json-ld")
	}
	return nodes, nil
}

// toGeneric round-trips v through JSON so json-gold sees plain maps and slices.
func toGeneric(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal document")
	}
	return doc, nil
}
