package zcap

import (
	"sync"

	"github.com/teranos/weave/errors"
)

// Wallet holds capabilities delegated to one agent, indexed by target.
type Wallet struct {
	owner string

	mu       sync.RWMutex
	byTarget map[string][]*Capability
}

// NewWallet creates a wallet for capabilities invoked by owner.
func NewWallet(owner string) *Wallet {
	return &Wallet{owner: owner, byTarget: make(map[string][]*Capability)}
}

// Add stores c after checking it is addressed to the owner and signed.
// Storing the same capability id twice is a no-op.
func (w *Wallet) Add(c *Capability) error {
	if c == nil {
		return errors.NewInvalidRequestError("nil capability")
	}
	if c.Invoker != w.owner {
		return errors.NewForbiddenError("capability %s is for %s, not %s", c.ID, c.Invoker, w.owner)
	}
	if !ValidSignature(c) {
		return errors.NewForbiddenError("capability %s has an invalid proof", c.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, have := range w.byTarget[c.InvocationTarget] {
		if have.ID == c.ID {
			return nil
		}
	}
	w.byTarget[c.InvocationTarget] = append(w.byTarget[c.InvocationTarget], c)
	return nil
}

// Find returns a capability allowing action on target.
func (w *Wallet) Find(target string, action Action) (*Capability, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, c := range w.byTarget[target] {
		if c.AllowedAction == action {
			return c, true
		}
	}
	return nil, false
}

// ForTarget lists the capabilities held for target.
func (w *Wallet) ForTarget(target string) []*Capability {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Capability, len(w.byTarget[target]))
	copy(out, w.byTarget[target])
	return out
}

// Len is the number of stored capabilities.
func (w *Wallet) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, cs := range w.byTarget {
		n += len(cs)
	}
	return n
}
