package language

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weave/credential"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/shacl"
)

// ShapeCredentialAddress is the address of the ShapeCredential language.
const ShapeCredentialAddress = "lang:shacl-vc-v1"

// ShapeCredential wraps claims in a verifiable credential, optionally after
// checking them against a SHACL shape graph.
type ShapeCredential struct {
	proc   *credential.Processor
	shape  *shacl.Shapes
	logger *zap.SugaredLogger
	now    func() time.Time
}

// CredentialOption configures the credential-backed languages.
type CredentialOption func(*ShapeCredential)

// WithShape sets the shape graph claims must conform to.
func WithShape(s *shacl.Shapes) CredentialOption {
	return func(l *ShapeCredential) { l.shape = s }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) CredentialOption {
	return func(l *ShapeCredential) { l.logger = log }
}

// WithClock overrides the issuance time source.
func WithClock(now func() time.Time) CredentialOption {
	return func(l *ShapeCredential) { l.now = now }
}

// NewShapeCredential creates the credential language.
func NewShapeCredential(opts ...CredentialOption) *ShapeCredential {
	l := &ShapeCredential{
		proc:   credential.NewProcessor(),
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("language").With(logger.FieldLanguage, ShapeCredentialAddress)
	return l
}

func (l *ShapeCredential) Name() string    { return "shacl-vc" }
func (l *ShapeCredential) Address() string { return ShapeCredentialAddress }

// Shape returns the configured shape graph, or nil.
func (l *ShapeCredential) Shape() *shacl.Shapes { return l.shape }

// Create checks claims against the shape and issues a credential over them.
// A non-conforming input returns a *shacl.ValidationError.
func (l *ShapeCredential) Create(_ context.Context, claims []rdf.Quad, signer identity.Signer) (*expression.Expression, error) {
	return issue(l.proc, l.shape, claims, signer, l.now())
}

func issue(proc *credential.Processor, shape *shacl.Shapes, claims []rdf.Quad, signer identity.Signer, now time.Time) (*expression.Expression, error) {
	if len(claims) == 0 {
		return nil, errors.NewInvalidRequestError("no claims to issue")
	}
	if err := shape.Check(claims); err != nil {
		return nil, err
	}
	vc, err := proc.Issue(signer, claims, now)
	if err != nil {
		return nil, errors.Wrap(err, "issue credential")
	}
	data, err := expression.EncodeQuads(claims)
	if err != nil {
		return nil, err
	}
	return &expression.Expression{
		Author:    signer.DID(),
		Timestamp: vc.ValidFrom,
		Data:      data,
		Proof: expression.Proof{
			Signature:  vc.Proof.ProofValue,
			Key:        vc.Issuer,
			Valid:      true,
			Credential: vc,
		},
	}, nil
}

// Validate requires a credential issued by the author whose signature holds
// and whose subject covers every claim in the expression data.
// Claims that fail the shape are rejected too.
func (l *ShapeCredential) Validate(_ context.Context, expr *expression.Expression) (bool, error) {
	vc := expr.Proof.Credential
	log := l.logger.With(logger.FieldDID, expr.Author)
	if vc == nil {
		log.Debugw("Expression carries no credential")
		return false, nil
	}
	if vc.Issuer != expr.Author {
		log.Debugw("Credential issuer is not the author", "issuer", vc.Issuer)
		return false, nil
	}
	if !l.proc.Verify(vc) {
		log.Debugw("Credential signature does not verify", "credential", vc.ID)
		return false, nil
	}

	claimed, err := expr.Quads()
	if err != nil {
		log.Debugw("Expression data is not a quad array", logger.FieldError, err)
		return false, nil
	}
	covered, err := l.proc.Claims(vc)
	if err != nil {
		log.Debugw("Credential subject could not be expanded", logger.FieldError, err)
		return false, nil
	}
	// Blank labels do not survive canonicalization, so blank terms are
	// matched by position and each covered triple backs one claim.
	remaining := make(map[string]int, len(covered))
	for _, q := range covered {
		remaining[coverageKey(q)]++
	}
	seen := make(map[string]bool, len(claimed))
	for _, q := range claimed {
		if seen[q.TripleKey()] {
			continue
		}
		seen[q.TripleKey()] = true
		key := coverageKey(q)
		if remaining[key] == 0 {
			log.Debugw("Claim not covered by credential", "claim", q.String())
			return false, nil
		}
		remaining[key]--
	}

	if report := l.shape.Validate(claimed); !report.Conforms {
		log.Debugw("Claims violate shape", logger.FieldCount, len(report.Results))
		return false, nil
	}
	return true, nil
}

func coverageKey(q rdf.Quad) string {
	s, o := q.Subject, q.Object
	if s.IsBlank() {
		s = rdf.NewBlank("")
	}
	if o.IsBlank() {
		o = rdf.NewBlank("")
	}
	return rdf.Triple(s, q.Predicate, o).TripleKey()
}

// Apply implements Language.
func (l *ShapeCredential) Apply(ctx context.Context, expr *expression.Expression, p *perspective.Perspective) error {
	_, err := validateThenAdd(ctx, l, expr, p)
	return err
}

func (l *ShapeCredential) LinksAdapter() LinksAdapter { return nil }
