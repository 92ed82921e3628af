package language

import (
	"context"
	"time"

	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
)

// PlainSignedAddress is the address of the PlainSigned language.
const PlainSignedAddress = "shacl-language-v1"

// PlainSigned signs the canonical JSON of an expression and accepts every
// inbound expression. Authenticity of inbound data rests on the envelope
// signature checked by the dispatcher.
type PlainSigned struct {
	now func() time.Time
}

// NewPlainSigned creates the permissive language.
func NewPlainSigned() *PlainSigned {
	return &PlainSigned{now: time.Now}
}

func (l *PlainSigned) Name() string    { return "plain-signed" }
func (l *PlainSigned) Address() string { return PlainSignedAddress }

// Create implements Language.
func (l *PlainSigned) Create(_ context.Context, claims []rdf.Quad, signer identity.Signer) (*expression.Expression, error) {
	data, err := expression.EncodeQuads(claims)
	if err != nil {
		return nil, err
	}
	return expression.Sign(signer, data, l.now())
}

// Validate accepts everything.
func (l *PlainSigned) Validate(context.Context, *expression.Expression) (bool, error) {
	return true, nil
}

// Apply implements Language.
func (l *PlainSigned) Apply(ctx context.Context, expr *expression.Expression, p *perspective.Perspective) error {
	_, err := validateThenAdd(ctx, l, expr, p)
	return err
}

func (l *PlainSigned) LinksAdapter() LinksAdapter { return nil }
