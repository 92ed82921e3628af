// Package language turns claims into verifiable expressions and decides
// which inbound expressions a perspective accepts.
//
// The variants are a closed set: PlainSigned, ShapeCredential, LedgerBacked
// and SandboxProxy. Each one is addressed by a stable string that peers use
// to agree on how a neighbourhood's expressions are interpreted.
package language

import (
	"context"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
)

// ErrInvalidExpression is returned by Apply when validation rejects an expression.
var ErrInvalidExpression = errors.New("invalid expression")

// Language creates, validates and applies expressions.
type Language interface {
	// Name is the human-readable language name.
	Name() string
	// Address identifies the language across agents.
	Address() string
	// Create signs claims into a new expression authored by signer.
	Create(ctx context.Context, claims []rdf.Quad, signer identity.Signer) (*expression.Expression, error)
	// Validate reports whether expr is acceptable. Errors are reserved for
	// failures to decide, not for rejection.
	Validate(ctx context.Context, expr *expression.Expression) (bool, error)
	// Apply validates expr and ingests its links into p.
	Apply(ctx context.Context, expr *expression.Expression, p *perspective.Perspective) error
	// LinksAdapter is nil when the language does not provide one.
	LinksAdapter() LinksAdapter
}

// LinksAdapter lets a language observe or mirror link mutations.
type LinksAdapter interface {
	AddLink(ctx context.Context, le expression.LinkExpression) error
	RemoveLink(ctx context.Context, le expression.LinkExpression) error
	AddLinks(ctx context.Context, les []expression.LinkExpression) error
	RemoveLinks(ctx context.Context, les []expression.LinkExpression) error
}

// validateThenAdd is the Apply path shared by the local variants.
func validateThenAdd(ctx context.Context, l Language, expr *expression.Expression, p *perspective.Perspective) ([]expression.LinkExpression, error) {
	if expr == nil {
		return nil, errors.Wrap(ErrInvalidExpression, "nil expression")
	}
	ok, err := l.Validate(ctx, expr)
	if err != nil {
		return nil, errors.Wrapf(err, "validate expression from %s", expr.Author)
	}
	if !ok {
		return nil, errors.Wrapf(ErrInvalidExpression, "%s rejected expression from %s", l.Address(), expr.Author)
	}
	links, err := expr.Links()
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidExpression)
	}
	if err := p.Add(links...); err != nil {
		return nil, errors.Mark(err, ErrInvalidExpression)
	}
	return links, nil
}
