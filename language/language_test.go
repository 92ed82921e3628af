package language

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/ledger"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/shacl"
)

const (
	exName   = "http://example.org/name"
	exPerson = "http://example.org/Person"
)

const personShape = `
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://example.org/> .

ex:PersonShape a sh:NodeShape ;
    sh:targetClass ex:Person ;
    sh:property [ sh:path ex:name ; sh:minCount 1 ] .
`

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newKey(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func person(subject string, withName bool) []rdf.Quad {
	s := rdf.NewIRI(subject)
	quads := []rdf.Quad{rdf.Triple(s, rdf.NewIRI(rdf.RDFType), rdf.NewIRI(exPerson))}
	if withName {
		quads = append(quads, rdf.Triple(s, rdf.NewIRI(exName), rdf.NewLiteral("Alice")))
	}
	return quads
}

func newPerspective(t *testing.T) *perspective.Perspective {
	return perspective.New("p1", "test", perspective.WithLogger(zaptest.NewLogger(t).Sugar()))
}

func TestPlainSigned(t *testing.T) {
	ctx := context.Background()
	kp := newKey(t)
	l := NewPlainSigned()
	assert.Equal(t, PlainSignedAddress, l.Address())
	assert.Nil(t, l.LinksAdapter())

	expr, err := l.Create(ctx, person("http://example.org/alice", true), kp)
	require.NoError(t, err)
	assert.Equal(t, kp.DID(), expr.Author)
	assert.True(t, expression.Verify(expr))

	// permissive even for forged expressions
	forged := *expr
	forged.Author = newKey(t).DID()
	ok, err := l.Validate(ctx, &forged)
	require.NoError(t, err)
	assert.True(t, ok)

	p := newPerspective(t)
	require.NoError(t, l.Apply(ctx, expr, p))
	assert.Len(t, p.All(), 2)
}

func TestShapeCredentialCreate(t *testing.T) {
	ctx := context.Background()
	kp := newKey(t)
	shape, err := shacl.ParseTurtle(personShape)
	require.NoError(t, err)
	l := NewShapeCredential(WithShape(shape), WithClock(func() time.Time { return fixed }))

	expr, err := l.Create(ctx, person("http://example.org/alice", true), kp)
	require.NoError(t, err)
	require.NotNil(t, expr.Proof.Credential)
	vc := expr.Proof.Credential
	assert.Equal(t, vc.Proof.ProofValue, expr.Proof.Signature)
	assert.Equal(t, vc.Issuer, expr.Proof.Key)
	assert.Equal(t, "2026-03-01T12:00:00.000Z", expr.Timestamp)
	assert.Equal(t, vc.ID, expr.Proof.Identity())

	_, err = l.Create(ctx, person("http://example.org/bob", false), kp)
	var verr *shacl.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.False(t, verr.Report.Conforms)
	require.Len(t, verr.Report.Results, 1)
	assert.Equal(t, "http://example.org/bob", verr.Report.Results[0].FocusNode)

	_, err = l.Create(ctx, nil, kp)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestShapeCredentialValidate(t *testing.T) {
	ctx := context.Background()
	kp := newKey(t)
	l := NewShapeCredential()

	expr, err := l.Create(ctx, person("http://example.org/alice", true), kp)
	require.NoError(t, err)

	ok, err := l.Validate(ctx, expr)
	require.NoError(t, err)
	assert.True(t, ok)

	tests := map[string]func(e *expression.Expression){
		"no credential": func(e *expression.Expression) { e.Proof.Credential = nil },
		"author is not issuer": func(e *expression.Expression) {
			e.Author = newKey(t).DID()
		},
		"uncovered claim": func(e *expression.Expression) {
			quads := append(person("http://example.org/alice", true),
				rdf.Triple(rdf.NewIRI("http://example.org/alice"), rdf.NewIRI(exName), rdf.NewLiteral("Mallory")))
			data, err := expression.EncodeQuads(quads)
			require.NoError(t, err)
			e.Data = data
		},
		"uncovered blank-subject claim": func(e *expression.Expression) {
			quads := append(person("http://example.org/alice", true),
				rdf.Triple(rdf.NewBlank("evil"), rdf.NewIRI("http://example.org/says"), rdf.NewLiteral("alice endorses mallory")))
			data, err := expression.EncodeQuads(quads)
			require.NoError(t, err)
			e.Data = data
		},
		"tampered credential": func(e *expression.Expression) {
			vc := *e.Proof.Credential
			vc.ValidFrom = "2030-01-01T00:00:00.000Z"
			e.Proof.Credential = &vc
		},
		"data not quads": func(e *expression.Expression) { e.Data = json.RawMessage(`{"a":1}`) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cp := *expr
			mutate(&cp)
			ok, err := l.Validate(ctx, &cp)
			require.NoError(t, err)
			assert.False(t, ok)

			err = l.Apply(ctx, &cp, newPerspective(t))
			assert.True(t, errors.Is(err, ErrInvalidExpression))
		})
	}
}

func TestShapeCredentialValidateBlankNodeClaims(t *testing.T) {
	ctx := context.Background()
	l := NewShapeCredential()
	says := rdf.NewIRI("http://example.org/says")
	claims := []rdf.Quad{
		rdf.Triple(rdf.NewIRI("http://example.org/alice"), rdf.NewIRI(exName), rdf.NewBlank("n1")),
		rdf.Triple(rdf.NewBlank("n1"), says, rdf.NewLiteral("hello")),
	}
	expr, err := l.Create(ctx, claims, newKey(t))
	require.NoError(t, err)

	ok, err := l.Validate(ctx, expr)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second blank-subject statement needs its own covering triple.
	forged := *expr
	data, err := expression.EncodeQuads(append(claims, rdf.Triple(rdf.NewBlank("n2"), says, rdf.NewLiteral("hello"))))
	require.NoError(t, err)
	forged.Data = data
	ok, err = l.Validate(ctx, &forged)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShapeCredentialApplyUsesCredentialGraph(t *testing.T) {
	ctx := context.Background()
	l := NewShapeCredential()
	expr, err := l.Create(ctx, person("http://example.org/alice", true), newKey(t))
	require.NoError(t, err)

	p := newPerspective(t)
	require.NoError(t, l.Apply(ctx, expr, p))

	graph := rdf.ExpressionGraphPrefix + expr.Proof.Credential.ID
	res, err := p.Query(`SELECT ?o WHERE { GRAPH <` + graph + `> { <http://example.org/alice> <http://example.org/name> ?o } }`)
	require.NoError(t, err)
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, "Alice", res.Bindings[0]["o"].Value)
}

func TestLedgerBackedCommits(t *testing.T) {
	ctx := context.Background()
	kp := newKey(t)
	mem := ledger.NewMemoryLedger()
	l := NewLedgerBacked(mem, kp.DID())

	expr, err := l.Create(ctx, person("http://example.org/alice", true), kp)
	require.NoError(t, err)
	require.NotNil(t, expr.Proof.Credential)

	p := newPerspective(t)
	require.NoError(t, l.Apply(ctx, expr, p))
	assert.Len(t, p.All(), 2)

	calls := mem.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ledger.RoleDiffSync, calls[0].Role)
	assert.Equal(t, ledger.ZomeDiffSync, calls[0].Zome)
	assert.Equal(t, ledger.FnCommit, calls[0].Fn)

	var payload struct {
		Diff struct {
			Additions []expression.LinkExpression `json:"additions"`
			Removals  []expression.LinkExpression `json:"removals"`
		} `json:"diff"`
		MyDID string `json:"my_did"`
	}
	require.NoError(t, json.Unmarshal(calls[0].Payload, &payload))
	assert.Len(t, payload.Diff.Additions, 2)
	assert.Empty(t, payload.Diff.Removals)
	assert.Equal(t, kp.DID(), payload.MyDID)
}

func TestLedgerBackedSwallowsLedgerErrors(t *testing.T) {
	ctx := context.Background()
	kp := newKey(t)
	mem := ledger.NewMemoryLedger()
	mem.Handle(ledger.RoleDiffSync, ledger.ZomeDiffSync, ledger.FnCommit, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("conductor down")
	})
	l := NewLedgerBacked(mem, kp.DID(), WithLogger(zaptest.NewLogger(t).Sugar()))

	expr, err := l.Create(ctx, person("http://example.org/alice", true), kp)
	require.NoError(t, err)
	p := newPerspective(t)
	require.NoError(t, l.Apply(ctx, expr, p))
	assert.Len(t, p.All(), 2)
}

type fakeExecutor struct {
	calls   []string
	results map[string]string
	err     error
}

func (f *fakeExecutor) Execute(_ context.Context, handle, method string, args ...interface{}) (json.RawMessage, error) {
	f.calls = append(f.calls, handle+":"+method)
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[method]; ok {
		return json.RawMessage(res), nil
	}
	return json.RawMessage("null"), nil
}

func TestSandboxProxy(t *testing.T) {
	ctx := context.Background()
	kp := newKey(t)
	plain, err := NewPlainSigned().Create(ctx, person("http://example.org/alice", true), kp)
	require.NoError(t, err)
	created, err := json.Marshal(plain)
	require.NoError(t, err)

	returned, err := json.Marshal([]expression.LinkExpression{{
		Author:    kp.DID(),
		Timestamp: plain.Timestamp,
		Data:      expression.Link{Source: "http://example.org/alice", Predicate: "http://example.org/seen", Target: "yes"},
		Proof:     expression.Proof{Signature: "module-sig", Key: kp.DID()},
	}})
	require.NoError(t, err)

	exec := &fakeExecutor{results: map[string]string{
		"create":   string(created),
		"validate": "true",
		"apply":    string(returned),
	}}
	proxy := NewSandboxProxy(exec, Module{Handle: "echo", Name: "lang:echo", HasLinksAdapter: true}, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, "lang:echo", proxy.Address())

	expr, err := proxy.Create(ctx, nil, kp)
	require.NoError(t, err)
	assert.Equal(t, kp.DID(), expr.Author)

	p := newPerspective(t)
	require.NoError(t, proxy.Apply(ctx, expr, p))
	assert.Len(t, p.All(), 1, "only links returned by the module are added")
	assert.Equal(t, []string{"echo:create", "echo:validate", "echo:apply"}, exec.calls)

	la := proxy.LinksAdapter()
	require.NotNil(t, la)
	require.NoError(t, la.AddLink(ctx, p.All()[0]))
	assert.Equal(t, "echo:linksAdapter.addLink", exec.calls[len(exec.calls)-1])
}

func TestSandboxProxyRejects(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{results: map[string]string{"validate": "false"}}
	proxy := NewSandboxProxy(exec, Module{Handle: "strict"}, nil)
	assert.Equal(t, "strict", proxy.Address())
	assert.Nil(t, proxy.LinksAdapter())

	err := proxy.Apply(ctx, &expression.Expression{Author: "did:key:x", Data: json.RawMessage("[]")}, newPerspective(t))
	assert.True(t, errors.Is(err, ErrInvalidExpression))
	assert.Equal(t, []string{"strict:validate"}, exec.calls)

	exec = &fakeExecutor{results: map[string]string{"validate": `"yes"`}}
	_, err = NewSandboxProxy(exec, Module{Handle: "odd"}, nil).Validate(ctx, &expression.Expression{})
	assert.True(t, errors.IsInvalidRequestError(err))
}

type requiring struct {
	*PlainSigned
	addr, constraint string
}

func (r requiring) Address() string  { return r.addr }
func (r requiring) Requires() string { return r.constraint }

func TestRegistry(t *testing.T) {
	r := NewRegistry("1.4.0")
	require.NoError(t, r.Register(NewPlainSigned()))
	require.NoError(t, r.Register(NewShapeCredential()))

	err := r.Register(NewPlainSigned())
	assert.True(t, errors.Is(err, errors.ErrConflict))

	require.NoError(t, r.Register(requiring{NewPlainSigned(), "lang:ok", ">= 1.0.0"}))
	err = r.Register(requiring{NewPlainSigned(), "lang:future", ">= 2.0.0"})
	assert.True(t, errors.IsInvalidRequestError(err))
	err = r.Register(requiring{NewPlainSigned(), "lang:garbage", "not a constraint"})
	assert.True(t, errors.IsInvalidRequestError(err))

	assert.Equal(t, []string{"lang:ok", ShapeCredentialAddress, PlainSignedAddress}, r.List())

	l, err := r.Resolve(ShapeCredentialAddress)
	require.NoError(t, err)
	assert.Equal(t, ShapeCredentialAddress, l.Address())
	_, err = r.Resolve("lang:missing")
	assert.True(t, errors.IsNotFoundError(err))

	dev := NewRegistry("dev")
	assert.NoError(t, dev.Register(requiring{NewPlainSigned(), "lang:future", ">= 2.0.0"}))
}
