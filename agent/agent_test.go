package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/weave/carrier"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	qtesting "github.com/teranos/weave/internal/testing"
	"github.com/teranos/weave/language"
	"github.com/teranos/weave/neighbourhood"
	"github.com/teranos/weave/persist"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/shacl"
	"github.com/teranos/weave/zcap"
)

const (
	exMsg  = "http://example.org/msg"
	window = 2 * time.Second
	tick   = 5 * time.Millisecond
)

type node struct {
	*Agent
	key     *identity.KeyPair
	carrier *carrier.BusCarrier
}

func newNode(t *testing.T, bus *carrier.Bus, opts ...Option) *node {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return newNodeWithKey(t, bus, kp, opts...)
}

func newNodeWithKey(t *testing.T, bus *carrier.Bus, kp *identity.KeyPair, opts ...Option) *node {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	c := bus.Attach(kp.DID(), log)
	t.Cleanup(func() { c.Close() })
	a := New(kp, c, append([]Option{WithLogger(log)}, opts...)...)
	return &node{Agent: a, key: kp, carrier: c}
}

func claim(subject, text string) []rdf.Quad {
	return []rdf.Quad{rdf.Triple(rdf.NewIRI(subject), rdf.NewIRI(exMsg), rdf.NewLiteral(text))}
}

func linkCount(t *testing.T, n *neighbourhood.Neighbourhood) func() int {
	return func() int { return len(n.Perspective().All()) }
}

func join(t *testing.T, a *node, url string) *neighbourhood.Neighbourhood {
	t.Helper()
	n, err := a.Neighbourhoods().Join(context.Background(), url, language.NewPlainSigned())
	require.NoError(t, err)
	return n
}

func TestPublishIssuesCredentialIntoAgentGraph(t *testing.T) {
	mem := persist.NewMemory()
	a := newNode(t, carrier.NewBus(), WithPersister(mem))

	id, err := a.Publish(context.Background(), claim(a.DID(), "Hello World"), nil)
	require.NoError(t, err)

	res, err := a.Query(`SELECT ?o WHERE { GRAPH <` + id + `> { <` + a.DID() + `> <` + exMsg + `> ?o } }`)
	require.NoError(t, err)
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, "Hello World", res.Bindings[0]["o"].Value)

	res, err = a.Query(`ASK { GRAPH <` + id + `> { <` + id + `> <https://w3id.org/security#proof> ?p } }`)
	require.NoError(t, err)
	assert.True(t, res.Boolean, "proof ingested with the credential")

	snap, ok, err := mem.Load(context.Background(), persist.AgentGraphID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, snap, "Hello World")
}

func TestPublishChecksShape(t *testing.T) {
	a := newNode(t, carrier.NewBus())
	shape, err := shacl.ParseTurtle(`
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://example.org/> .
ex:MsgShape a sh:NodeShape ;
    sh:targetSubjectsOf ex:msg ;
    sh:property [ sh:path ex:msg ; sh:maxLength 5 ] .
`)
	require.NoError(t, err)

	_, err = a.Publish(context.Background(), claim(a.DID(), "far too long"), shape)
	var verr *shacl.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.False(t, verr.Report.Conforms)

	_, err = a.Publish(context.Background(), claim(a.DID(), "short"), shape)
	require.NoError(t, err)

	_, err = a.Publish(context.Background(), nil, nil)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestNeighbourhoodSync(t *testing.T) {
	bus := carrier.NewBus()
	alice, bob, carol := newNode(t, bus), newNode(t, bus), newNode(t, bus)
	room, err := neighbourhood.GenerateID("room")
	require.NoError(t, err)
	other, err := neighbourhood.GenerateID("elsewhere")
	require.NoError(t, err)

	na := join(t, alice, room)
	nb := join(t, bob, room)
	nc := join(t, carol, other)

	_, err = na.Publish(context.Background(), claim(alice.DID(), "hello room"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return linkCount(t, nb)() == 1 }, window, tick)
	got := nb.Perspective().All()[0]
	assert.Equal(t, alice.DID(), got.Author)
	assert.Equal(t, "hello room", got.Data.Target)

	// isolation: a different url never sees it
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, linkCount(t, nc)())
}

func TestLateJoinerCatchesUp(t *testing.T) {
	bus := carrier.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	room, err := neighbourhood.GenerateID("late")
	require.NoError(t, err)

	na := join(t, alice, room)
	_, err = na.Publish(context.Background(), claim(alice.DID(), "before you came"))
	require.NoError(t, err)
	_, err = na.Publish(context.Background(), claim(alice.DID(), "and another"))
	require.NoError(t, err)

	nb := join(t, bob, room)
	require.Eventually(t, func() bool { return linkCount(t, nb)() == 2 }, window, tick)
	assert.Equal(t, na.Digest(), nb.Digest())
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bus := carrier.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	room, err := neighbourhood.GenerateID("idem")
	require.NoError(t, err)
	na, nb := join(t, alice, room), join(t, bob, room)

	expr, err := na.Publish(ctx, claim(alice.DID(), "once"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return linkCount(t, nb)() == 1 }, window, tick)
	before := nb.Perspective().Len()

	// replay the same expression and a full sync response
	msg := &neighbourhood.Message{Type: neighbourhood.TypeSync, NeighbourhoodURL: room, Expression: expr}
	require.NoError(t, outbound{alice.Agent}.Send(ctx, carrier.Broadcast, msg))
	_, err = na.AnswerSync(ctx, bob.DID(), "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, nb.Perspective().Len())
	assert.Equal(t, 1, linkCount(t, nb)())
}

func TestDispatchDropsForgedEnvelopes(t *testing.T) {
	ctx := context.Background()
	bus := carrier.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	room, err := neighbourhood.GenerateID("forged")
	require.NoError(t, err)
	join(t, alice, room)
	nb := join(t, bob, room)

	expr, err := language.NewPlainSigned().Create(ctx, claim(alice.DID(), "forged"), alice.key)
	require.NoError(t, err)
	env, err := carrier.NewMessageFactory(alice.key).Create(neighbourhood.TypeSync,
		&neighbourhood.Message{Type: neighbourhood.TypeSync, NeighbourhoodURL: room, Expression: expr}, carrier.Broadcast)
	require.NoError(t, err)
	env.Payload = env.Payload + " "

	bob.dispatch(ctx, env)
	bob.dispatch(ctx, &carrier.Envelope{ID: "x", Sender: alice.DID(), Recipient: bob.DID(), Payload: "not json"})
	assert.Zero(t, linkCount(t, nb)())
}

func TestDelegateAndRetract(t *testing.T) {
	ctx := context.Background()
	bus := carrier.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	room, err := neighbourhood.GenerateID("caps")
	require.NoError(t, err)
	na, nb := join(t, alice, room), join(t, bob, room)

	_, err = na.Publish(ctx, claim(alice.DID(), "mine"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return linkCount(t, nb)() == 1 }, window, tick)
	theirs := nb.Perspective().All()[0]

	assert.True(t, errors.IsForbiddenError(nb.Retract(ctx, theirs, nil)))

	require.NoError(t, alice.Delegate(ctx, room, zcap.ActionWrite, bob.DID()))
	require.Eventually(t, func() bool { return bob.Wallet().Len() == 1 }, window, tick)
	capability, ok := bob.Wallet().Find(room, zcap.ActionWrite)
	require.True(t, ok)
	assert.Equal(t, alice.DID(), capability.Delegator())

	require.NoError(t, nb.Retract(ctx, theirs, capability))
	assert.Zero(t, linkCount(t, nb)())
}

func TestManagers(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, carrier.NewBus())

	p, err := a.Perspectives().Add(ctx, "notes")
	require.NoError(t, err)
	got, err := a.Perspectives().Get(p.ID())
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Len(t, a.Perspectives().All(), 1)
	require.NoError(t, a.Perspectives().Remove(ctx, p.ID()))
	_, err = a.Perspectives().Get(p.ID())
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, errors.IsNotFoundError(a.Perspectives().Remove(ctx, p.ID())))

	n1 := join(t, a, "neighbourhood://a")
	n2, err := a.Neighbourhoods().Join(ctx, "neighbourhood://a", language.NewShapeCredential())
	require.NoError(t, err)
	assert.Same(t, n1, n2, "join is idempotent per url")
	assert.Equal(t, language.PlainSignedAddress, n2.Language().Address())
	assert.Len(t, a.Neighbourhoods().All(), 1)

	assert.True(t, a.Neighbourhoods().Leave("neighbourhood://a"))
	assert.False(t, a.Neighbourhoods().Leave("neighbourhood://a"))
	_, err = a.Neighbourhoods().Get("neighbourhood://a")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = a.Neighbourhoods().Join(ctx, "", language.NewPlainSigned())
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	db := qtesting.CreateTestDB(t)
	snapshots := persist.NewSQLStore(db, nil)
	records := persist.NewRegistry(db)
	kp, err := identity.Generate()
	require.NoError(t, err)

	first := newNodeWithKey(t, carrier.NewBus(), kp, WithPersister(snapshots), WithRecords(records))
	n := join(t, first, "neighbourhood://restore")
	_, err = n.Publish(ctx, claim(kp.DID(), "persisted"))
	require.NoError(t, err)
	p, err := first.Perspectives().Add(ctx, "journal")
	require.NoError(t, err)
	require.NoError(t, p.Add(expression.LinkExpression{
		Author: kp.DID(), Timestamp: "2026-03-01T12:00:00.000Z",
		Data:  expression.Link{Source: kp.DID(), Predicate: exMsg, Target: "diary"},
		Proof: expression.Proof{Signature: "local"},
	}))
	credID, err := first.Publish(ctx, claim(kp.DID(), "credential"), nil)
	require.NoError(t, err)

	second := newNodeWithKey(t, carrier.NewBus(), kp, WithPersister(snapshots), WithRecords(records))
	require.NoError(t, second.Restore(ctx))

	rn, err := second.Neighbourhoods().Get("neighbourhood://restore")
	require.NoError(t, err)
	assert.Equal(t, language.PlainSignedAddress, rn.Language().Address())
	assert.Equal(t, n.Digest(), rn.Digest())

	rp, err := second.Perspectives().Get(p.ID())
	require.NoError(t, err)
	assert.Equal(t, "journal", rp.Name())
	assert.Len(t, rp.All(), 1)

	res, err := second.Query(`ASK { GRAPH <` + credID + `> { ?s ?p "credential" } }`)
	require.NoError(t, err)
	assert.True(t, res.Boolean)
}

func TestRestoreSkipsUnknownLanguage(t *testing.T) {
	ctx := context.Background()
	records := persist.NewRegistry(qtesting.CreateTestDB(t))
	require.NoError(t, records.AddNeighbourhood(ctx, persist.NeighbourhoodRecord{URL: "neighbourhood://x", Language: "lang:gone"}))

	a := newNode(t, carrier.NewBus(), WithRecords(records))
	require.NoError(t, a.Restore(ctx))
	assert.Empty(t, a.Neighbourhoods().All())
}

// hookedPersister runs onLoad before answering Load.
type hookedPersister struct {
	persist.Persister
	onLoad func(id string)
}

func (h hookedPersister) Load(ctx context.Context, id string) (string, bool, error) {
	h.onLoad(id)
	return h.Persister.Load(ctx, id)
}

func TestJoinRestoresBeforePublishing(t *testing.T) {
	ctx := context.Background()
	const url = "neighbourhood://snapshot-first"
	mem := persist.NewMemory()

	seed := newNode(t, carrier.NewBus(), WithPersister(mem))
	seeded := join(t, seed, url)
	_, err := seeded.Publish(ctx, claim(seed.DID(), "saved"))
	require.NoError(t, err)

	var a *node
	visibleDuringLoad := false
	a = newNode(t, carrier.NewBus(), WithPersister(hookedPersister{mem, func(id string) {
		if id != url {
			return
		}
		if _, err := a.Neighbourhoods().Get(url); err == nil {
			visibleDuringLoad = true
		}
	}}))

	n := join(t, a, url)
	assert.False(t, visibleDuringLoad, "neighbourhood must not be dispatchable before its snapshot is restored")
	assert.Len(t, n.Perspective().All(), 1)
}
