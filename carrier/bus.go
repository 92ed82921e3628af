package carrier

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
)

const busQueueSize = 256

// Bus is an in-process broker connecting BusCarriers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*BusCarrier
}

// NewBus creates an empty broker.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*BusCarrier)}
}

// BusCarrier is a Carrier attached to a Bus. Each carrier delivers from its
// own queue on its own goroutine, so a slow handler only delays itself.
type BusCarrier struct {
	id       string
	bus      *Bus
	queue    chan *Envelope
	handlers handlers
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Attach connects a new carrier for id. Attaching an id twice replaces the
// earlier carrier on the bus.
func (b *Bus) Attach(id string, log *zap.SugaredLogger) *BusCarrier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &BusCarrier{
		id:     id,
		bus:    b,
		queue:  make(chan *Envelope, busQueueSize),
		logger: log.Named("bus").With(logger.FieldDID, id),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[id] = c
	b.mu.Unlock()
	go c.loop()
	return c
}

func (b *Bus) detach(c *BusCarrier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[c.id] == c {
		delete(b.subs, c.id)
	}
}

func (b *Bus) peers(except string) []*BusCarrier {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*BusCarrier, 0, len(b.subs))
	for id, c := range b.subs {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

// ID implements Carrier.
func (c *BusCarrier) ID() string { return c.id }

// OnMessage implements Carrier.
func (c *BusCarrier) OnMessage(h Handler) { c.handlers.add(h) }

// Send implements Carrier. It blocks only while a recipient queue is full.
func (c *BusCarrier) Send(ctx context.Context, env *Envelope) error {
	if c.ctx.Err() != nil {
		return errors.Wrap(errors.ErrServiceUnavailable, "bus carrier closed")
	}
	for _, peer := range c.bus.peers(c.id) {
		if !env.AddressedTo(peer.id) {
			continue
		}
		select {
		case peer.queue <- env:
		case <-peer.ctx.Done():
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "bus send")
		}
	}
	return nil
}

func (c *BusCarrier) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.queue:
			c.handlers.deliver(c.ctx, c.id, env)
		}
	}
}

// Close implements Carrier. Queued envelopes are dropped.
func (c *BusCarrier) Close() error {
	c.once.Do(func() {
		c.bus.detach(c)
		c.cancel()
		<-c.done
		c.logger.Debugw("Bus carrier closed")
	})
	return nil
}
