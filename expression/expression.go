// Package expression defines the signed unit of data agents exchange and
// its flattened link form.
//
// Expression data is always a JSON array of quads. Languages produce it,
// perspectives consume it as links, and nothing in between inspects the
// payload shape.
package expression

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/weave/credential"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
)

// TimestampLayout is RFC 3339 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t for expressions, envelopes and proofs.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Proof binds an expression to its author.
type Proof struct {
	Signature  string                           `json:"signature"`
	Key        string                           `json:"key"`
	Valid      bool                             `json:"valid,omitempty"`
	Invalid    bool                             `json:"invalid,omitempty"`
	Credential *credential.VerifiableCredential `json:"credential,omitempty"`
}

// Identity is the credential id when a credential is attached, else the signature.
// Empty means the proof carries no stable identity.
func (p Proof) Identity() string {
	if p.Credential != nil && p.Credential.ID != "" {
		return p.Credential.ID
	}
	return p.Signature
}

// Expression is an author-attributed, timestamped, signed payload.
type Expression struct {
	Author    string          `json:"author"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Proof     Proof           `json:"proof"`
}

// EncodeQuads produces the canonical data payload.
func EncodeQuads(quads []rdf.Quad) (json.RawMessage, error) {
	if quads == nil {
		quads = []rdf.Quad{}
	}
	data, err := json.Marshal(quads)
	if err != nil {
		return nil, errors.Wrap(err, "encode quads")
	}
	return data, nil
}

// Quads decodes the data payload.
func (e *Expression) Quads() ([]rdf.Quad, error) {
	var quads []rdf.Quad
	if err := json.Unmarshal(e.Data, &quads); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "expression data is not a quad array: %v", err)
	}
	return quads, nil
}

// Links flattens the expression into one LinkExpression per quad.
func (e *Expression) Links() ([]LinkExpression, error) {
	quads, err := e.Quads()
	if err != nil {
		return nil, err
	}
	out := make([]LinkExpression, 0, len(quads))
	for _, q := range quads {
		out = append(out, LinkExpression{
			Author:    e.Author,
			Timestamp: e.Timestamp,
			Data:      LinkFromQuad(q),
			Proof:     e.Proof,
		})
	}
	return out, nil
}

// Link is a single logical edge.
type Link struct {
	Source    string `json:"source"`
	Predicate string `json:"predicate,omitempty"`
	Target    string `json:"target"`
}

// LinkFromQuad takes the (s, p, o) values of q. Blank nodes keep their _: label.
func LinkFromQuad(q rdf.Quad) Link {
	return Link{
		Source:    termValue(q.Subject),
		Predicate: q.Predicate.Value,
		Target:    termValue(q.Object),
	}
}

func termValue(t rdf.Term) string {
	if t.IsBlank() {
		return "_:" + t.Value
	}
	return t.Value
}

// Triple converts the link to a default-graph quad. An empty predicate
// becomes weave:link; the target is typed by rdf.ObjectTerm.
func (l Link) Triple() rdf.Quad {
	pred := l.Predicate
	if pred == "" {
		pred = rdf.PredLink
	}
	var subj rdf.Term
	if strings.HasPrefix(l.Source, "_:") {
		subj = rdf.NewBlank(l.Source)
	} else {
		subj = rdf.NewIRI(l.Source)
	}
	return rdf.Triple(subj, rdf.NewIRI(pred), rdf.ObjectTerm(l.Target))
}

// LinkExpression is a Link with the metadata of the expression that asserted it.
type LinkExpression struct {
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
	Data      Link   `json:"data"`
	Proof     Proof  `json:"proof"`
}
