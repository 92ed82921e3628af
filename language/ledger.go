package language

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weave/credential"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/ledger"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/shacl"
)

// LedgerBackedAddress is the address of the LedgerBacked language.
const LedgerBackedAddress = "lang:holochain-v1"

// LedgerBacked issues credentials like ShapeCredential, accepts every
// inbound expression, and commits each applied change set to a ledger.
type LedgerBacked struct {
	client ledger.Client
	myDID  string
	proc   *credential.Processor
	shape  *shacl.Shapes
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewLedgerBacked creates a ledger-backed language committing on behalf of myDID.
func NewLedgerBacked(client ledger.Client, myDID string, opts ...CredentialOption) *LedgerBacked {
	base := NewShapeCredential(opts...)
	return &LedgerBacked{
		client: client,
		myDID:  myDID,
		proc:   base.proc,
		shape:  base.shape,
		logger: base.logger.With(logger.FieldLanguage, LedgerBackedAddress),
		now:    base.now,
	}
}

func (l *LedgerBacked) Name() string    { return "holochain" }
func (l *LedgerBacked) Address() string { return LedgerBackedAddress }

// Create implements Language.
func (l *LedgerBacked) Create(_ context.Context, claims []rdf.Quad, signer identity.Signer) (*expression.Expression, error) {
	return issue(l.proc, l.shape, claims, signer, l.now())
}

// Validate accepts everything; the ledger validates on its side.
func (l *LedgerBacked) Validate(context.Context, *expression.Expression) (bool, error) {
	return true, nil
}

// Apply adds the expression locally and then commits the diff. Ledger
// failures are logged; the local add stands.
func (l *LedgerBacked) Apply(ctx context.Context, expr *expression.Expression, p *perspective.Perspective) error {
	links, err := validateThenAdd(ctx, l, expr, p)
	if err != nil {
		return err
	}
	payload := ledger.CommitPayload{
		Diff:  ledger.Diff{Additions: links, Removals: []expression.LinkExpression{}},
		MyDID: l.myDID,
	}
	if _, err := l.client.Call(ctx, ledger.RoleDiffSync, ledger.ZomeDiffSync, ledger.FnCommit, payload); err != nil {
		l.logger.Warnw("Ledger commit failed",
			logger.FieldPerspective, p.ID(),
			logger.FieldCount, len(links),
			logger.FieldError, err)
	}
	return nil
}

func (l *LedgerBacked) LinksAdapter() LinksAdapter { return nil }
