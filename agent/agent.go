// Package agent wires an identity, a carrier and its graphs into a node
// that publishes credentials, joins neighbourhoods and answers peers.
//
// The agent owns three kinds of state: its own knowledge graph of issued
// credentials, local perspectives, and joined neighbourhoods. Each is
// snapshotted through the configured Persister after every change, and
// Restore rebuilds them from the Registry records on startup.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weave/carrier"
	"github.com/teranos/weave/credential"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/language"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/neighbourhood"
	"github.com/teranos/weave/persist"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/shacl"
	"github.com/teranos/weave/store"
	"github.com/teranos/weave/version"
	"github.com/teranos/weave/zcap"
)

// TypeDelegation is the envelope type carrying a capability.
const TypeDelegation = "zcap-delegation"

// Records is the restore registry an agent writes to.
type Records interface {
	AddPerspective(ctx context.Context, rec persist.PerspectiveRecord) error
	RemovePerspective(ctx context.Context, id string) error
	Perspectives(ctx context.Context) ([]persist.PerspectiveRecord, error)
	AddNeighbourhood(ctx context.Context, rec persist.NeighbourhoodRecord) error
	RemoveNeighbourhood(ctx context.Context, url string) error
	Neighbourhoods(ctx context.Context) ([]persist.NeighbourhoodRecord, error)
}

// Agent is one weave node.
type Agent struct {
	signer  identity.Signer
	carrier carrier.Carrier
	factory *carrier.MessageFactory
	proc    *credential.Processor
	wallet  *zcap.Wallet
	graph   *store.Store

	languages *language.Registry
	persister persist.Persister
	records   Records
	logger    *zap.SugaredLogger
	now       func() time.Time

	perspectives   *Perspectives
	neighbourhoods *Neighbourhoods
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithPersister sets where snapshots go. Defaults to memory.
func WithPersister(p persist.Persister) Option {
	return func(a *Agent) { a.persister = p }
}

// WithRecords sets the restore registry. Without one nothing is recorded.
func WithRecords(r Records) Option {
	return func(a *Agent) { a.records = r }
}

// WithLanguages sets the registry used to resolve languages on restore.
func WithLanguages(r *language.Registry) Option {
	return func(a *Agent) { a.languages = r }
}

// WithClock overrides the time source for issued credentials and capabilities.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent and starts handling envelopes from c.
func New(signer identity.Signer, c carrier.Carrier, opts ...Option) *Agent {
	a := &Agent{
		signer:  signer,
		carrier: c,
		factory: carrier.NewMessageFactory(signer),
		proc:    credential.NewProcessor(),
		wallet:  zcap.NewWallet(signer.DID()),
		graph:   store.New(),
		logger:  zap.NewNop().Sugar(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.persister == nil {
		a.persister = persist.NewMemory()
	}
	if a.languages == nil {
		a.languages = DefaultLanguages(a.logger)
	}
	a.logger = a.logger.Named("agent").With(logger.FieldDID, signer.DID())
	a.perspectives = &Perspectives{agent: a, items: make(map[string]*perspective.Perspective)}
	a.neighbourhoods = &Neighbourhoods{agent: a, items: make(map[string]*neighbourhood.Neighbourhood)}

	c.OnMessage(a.dispatch)
	return a
}

// DefaultLanguages is a registry holding the languages that need no
// external collaborator: PlainSigned and an unshaped ShapeCredential.
func DefaultLanguages(log *zap.SugaredLogger) *language.Registry {
	r := language.NewRegistry(version.Version)
	// fresh registry, addresses are distinct
	_ = r.Register(language.NewPlainSigned())
	_ = r.Register(language.NewShapeCredential(language.WithLogger(log)))
	return r
}

// DID is the agent's identity.
func (a *Agent) DID() string { return a.signer.DID() }

// Perspectives manages local perspectives.
func (a *Agent) Perspectives() *Perspectives { return a.perspectives }

// Neighbourhoods manages joined neighbourhoods.
func (a *Agent) Neighbourhoods() *Neighbourhoods { return a.neighbourhoods }

// Wallet holds capabilities delegated to this agent.
func (a *Agent) Wallet() *zcap.Wallet { return a.wallet }

// Languages is the registry languages are resolved from.
func (a *Agent) Languages() *language.Registry { return a.languages }

// Publish issues a credential over claims into the agent's own graph and
// returns its id. A non-nil shape must accept the claims first; a
// violation is returned as *shacl.ValidationError.
func (a *Agent) Publish(ctx context.Context, claims []rdf.Quad, shape *shacl.Shapes) (string, error) {
	if err := shape.Check(claims); err != nil {
		return "", err
	}
	if len(claims) == 0 {
		return "", errors.NewInvalidRequestError("no claims to publish")
	}
	vc, err := a.proc.Issue(a.signer, claims, a.now())
	if err != nil {
		return "", errors.Wrap(err, "issue credential")
	}
	quads, err := a.proc.Ingest(vc)
	if err != nil {
		return "", errors.Wrap(err, "ingest credential")
	}
	if a.graph.Add(quads...) > 0 {
		a.save(ctx, persist.AgentGraphID, a.graph.NQuads())
	}
	a.logger.Infow("Published credential", "credential", vc.ID, logger.FieldCount, len(claims))
	return vc.ID, nil
}

// Query runs SPARQL over the agent's own graph.
func (a *Agent) Query(sparql string) (*store.Result, error) {
	return a.graph.Query(sparql)
}

// Delegate grants toDID the action on target and sends it the capability.
func (a *Agent) Delegate(ctx context.Context, target string, action zcap.Action, toDID string) error {
	c, err := zcap.Create(a.signer, toDID, target, action, "", a.now())
	if err != nil {
		return err
	}
	env, err := a.factory.Create(TypeDelegation, c, toDID)
	if err != nil {
		return err
	}
	if err := a.carrier.Send(ctx, env); err != nil {
		return errors.Wrapf(err, "send capability to %s", toDID)
	}
	a.logger.Infow("Delegated capability", "target", target, "action", action, logger.FieldRecipient, toDID)
	return nil
}

// Restore reloads the agent graph, recorded perspectives and neighbourhoods.
// Neighbourhoods whose language is not registered are skipped with a warning.
func (a *Agent) Restore(ctx context.Context) error {
	if nq, ok, err := a.persister.Load(ctx, persist.AgentGraphID); err != nil {
		return err
	} else if ok {
		if err := a.graph.LoadNQuads(nq); err != nil {
			return errors.Wrap(err, "restore agent graph")
		}
	}
	if a.records == nil {
		return nil
	}

	precs, err := a.records.Perspectives(ctx)
	if err != nil {
		return err
	}
	for _, rec := range precs {
		if _, err := a.perspectives.restore(ctx, rec); err != nil {
			return err
		}
	}

	nrecs, err := a.records.Neighbourhoods(ctx)
	if err != nil {
		return err
	}
	for _, rec := range nrecs {
		lang, err := a.languages.Resolve(rec.Language)
		if err != nil {
			a.logger.Warnw("Skipping neighbourhood with unknown language",
				logger.FieldNeighbourhood, rec.URL, logger.FieldLanguage, rec.Language)
			continue
		}
		if _, err := a.neighbourhoods.Join(ctx, rec.URL, lang); err != nil {
			return err
		}
	}
	a.logger.Infow("Agent restored",
		"perspectives", len(precs),
		"neighbourhoods", len(nrecs),
		"agent_quads", a.graph.Len())
	return nil
}

// save writes a snapshot. Failures are logged; the in-memory state stands.
func (a *Agent) save(ctx context.Context, id, nquads string) {
	if err := a.persister.Save(ctx, id, nquads); err != nil {
		a.logger.Errorw("Snapshot save failed", "id", id, logger.FieldError, err)
	}
}

// newPerspective creates a perspective whose mutations are persisted under id.
func (a *Agent) newPerspective(id, name string) *perspective.Perspective {
	var p *perspective.Perspective
	p = perspective.New(id, name,
		perspective.WithLogger(a.logger),
		perspective.WithOnChange(func(string) {
			a.save(context.Background(), p.ID(), p.NQuads())
		}),
	)
	return p
}

// restoreSnapshot loads a saved snapshot into p when one exists.
func (a *Agent) restoreSnapshot(ctx context.Context, p *perspective.Perspective) error {
	nq, ok, err := a.persister.Load(ctx, p.ID())
	if err != nil || !ok {
		return err
	}
	return p.Restore(nq)
}

// outbound signs sync messages and hands them to the carrier.
type outbound struct{ a *Agent }

func (o outbound) Send(ctx context.Context, recipient string, msg *neighbourhood.Message) error {
	env, err := o.a.factory.Create(msg.Type, msg, recipient)
	if err != nil {
		return err
	}
	return o.a.carrier.Send(ctx, env)
}
