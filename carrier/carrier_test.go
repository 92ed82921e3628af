package carrier

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
)

type inbox struct {
	mu   sync.Mutex
	envs []*Envelope
}

func (in *inbox) handle(_ context.Context, env *Envelope) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.envs = append(in.envs, env)
}

func (in *inbox) received() []*Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Envelope, len(in.envs))
	copy(out, in.envs)
	return out
}

func (in *inbox) count() int { return len(in.received()) }

func newAgentKey(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func TestEnvelopeSignVerify(t *testing.T) {
	alice := newAgentKey(t)
	f := NewMessageFactory(alice)

	env, err := f.Create("neighbourhood-sync", map[string]string{"hello": "world"}, Broadcast)
	require.NoError(t, err)
	assert.Equal(t, alice.DID(), env.Sender)
	assert.Equal(t, `{"hello":"world"}`, env.Payload)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, byte('z'), env.Signature[0])
	assert.True(t, Verify(env))

	tamper := map[string]func(e *Envelope){
		"payload":   func(e *Envelope) { e.Payload = `{"hello":"mars"}` },
		"type":      func(e *Envelope) { e.Type = "sync-request" },
		"recipient": func(e *Envelope) { e.Recipient = "did:key:other" },
		"sentAt":    func(e *Envelope) { e.SentAt = "2000-01-01T00:00:00.000Z" },
		"sender":    func(e *Envelope) { e.Sender = newAgentKey(t).DID() },
		"signature": func(e *Envelope) { e.Signature = "not-multibase" },
	}
	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			cp := *env
			mutate(&cp)
			assert.False(t, Verify(&cp))
		})
	}
	assert.False(t, Verify(nil))
}

func TestDecode(t *testing.T) {
	env, err := NewMessageFactory(newAgentKey(t)).Create("t", 1, "did:key:bob")
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)
	assert.True(t, Verify(got))

	_, err = Decode([]byte("{"))
	assert.True(t, errors.IsInvalidRequestError(err))
	_, err = Decode([]byte(`{"id":"x","sender":"did:key:a"}`))
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestBusDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewBus()
	a, b, c := bus.Attach("did:a", nil), bus.Attach("did:b", nil), bus.Attach("did:c", nil)
	var ia, ib, ic inbox
	a.OnMessage(ia.handle)
	b.OnMessage(ib.handle)
	c.OnMessage(ic.handle)

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, &Envelope{ID: "1", Sender: "did:a", Recipient: Broadcast}))
	require.NoError(t, a.Send(ctx, &Envelope{ID: "2", Sender: "did:a", Recipient: "did:c"}))

	require.Eventually(t, func() bool { return ib.count() == 1 && ic.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "1", ib.received()[0].ID)
	assert.Zero(t, ia.count(), "sender must not see its own broadcast")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	err := b.Send(ctx, &Envelope{ID: "3", Sender: "did:b", Recipient: Broadcast})
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))

	require.NoError(t, a.Close())
	require.NoError(t, c.Close())
}

func TestHandlersSkipEchoAndForeign(t *testing.T) {
	var h handlers
	var in inbox
	h.add(in.handle)

	ctx := context.Background()
	assert.False(t, h.deliver(ctx, "did:a", &Envelope{Sender: "did:a", Recipient: Broadcast}))
	assert.False(t, h.deliver(ctx, "did:a", &Envelope{Sender: "did:b", Recipient: "did:c"}))
	assert.False(t, h.deliver(ctx, "did:a", nil))
	assert.True(t, h.deliver(ctx, "did:a", &Envelope{Sender: "did:b", Recipient: "did:a"}))
	assert.Equal(t, 1, in.count())
}

func signedPair(t *testing.T) (*MessageFactory, *MessageFactory, string, string) {
	t.Helper()
	a, b := newAgentKey(t), newAgentKey(t)
	return NewMessageFactory(a), NewMessageFactory(b), a.DID(), b.DID()
}

func TestFileCarrier(t *testing.T) {
	fa, _, didA, didB := signedPair(t)
	path := filepath.Join(t.TempDir(), "carrier.log")

	a, err := NewFileCarrier(didA, path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewFileCarrier(didB, path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer b.Close()

	var ia, ib inbox
	a.OnMessage(ia.handle)
	b.OnMessage(ib.handle)

	env, err := fa.Create("neighbourhood-sync", "x", Broadcast)
	require.NoError(t, err)
	require.NoError(t, a.Send(context.Background(), env))

	require.Eventually(t, func() bool { return ib.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, env.ID, ib.received()[0].ID)
	assert.True(t, Verify(ib.received()[0]))
	assert.Zero(t, ia.count())

	// a carrier opened later does not replay history
	late, err := NewFileCarrier("did:late", path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer late.Close()
	var il inbox
	late.OnMessage(il.handle)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, il.count())
}

func TestInboxCarrier(t *testing.T) {
	fa, fb, didA, didB := signedPair(t)
	root := t.TempDir()

	a, err := NewInboxCarrier(didA, root, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewInboxCarrier(didB, root, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer b.Close()

	var ia, ib inbox
	a.OnMessage(ia.handle)
	b.OnMessage(ib.handle)

	ctx := context.Background()
	toB, err := fa.Create("sync-request", "{}", didB)
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, toB))
	all, err := fb.Create("neighbourhood-sync", "{}", Broadcast)
	require.NoError(t, err)
	require.NoError(t, b.Send(ctx, all))

	require.Eventually(t, func() bool { return ia.count() == 1 && ib.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, toB.ID, ib.received()[0].ID)
	assert.Equal(t, all.ID, ia.received()[0].ID)

	// unknown recipients are skipped, not failed
	stray, err := fa.Create("sync-request", "{}", "did:key:nobody")
	require.NoError(t, err)
	assert.NoError(t, a.Send(ctx, stray))
}

func TestWebSocketCarrier(t *testing.T) {
	fa, fb, didA, didB := signedPair(t)

	a := NewWebSocketCarrier(didA, nil)
	require.NoError(t, a.Listen("127.0.0.1:0"))
	defer a.Close()
	b := NewWebSocketCarrier(didB, nil)
	defer b.Close()

	var ia, ib inbox
	a.OnMessage(ia.handle)
	b.OnMessage(ib.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx, a.URL()))
	require.Eventually(t, func() bool { return a.Peers() == 1 }, 2*time.Second, 5*time.Millisecond)

	toA, err := fb.Create("sync-request", "{}", didA)
	require.NoError(t, err)
	require.NoError(t, b.Send(ctx, toA))
	all, err := fa.Create("neighbourhood-sync", "{}", Broadcast)
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, all))

	require.Eventually(t, func() bool { return ia.count() == 1 && ib.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, toA.ID, ia.received()[0].ID)
	assert.True(t, Verify(ib.received()[0]))

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return a.Peers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketConnectUnreachable(t *testing.T) {
	c := NewWebSocketCarrier("did:a", nil)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Connect(ctx, "ws://127.0.0.1:1/carrier")
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
}
