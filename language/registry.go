package language

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/version"
)

// Versioned is implemented by languages that constrain the host version.
type Versioned interface {
	Requires() string
}

// Registry maps addresses to languages.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]Language
	version   string
}

// NewRegistry creates a registry for a host running hostVersion.
func NewRegistry(hostVersion string) *Registry {
	return &Registry{
		languages: make(map[string]Language),
		version:   hostVersion,
	}
}

// Register adds l. Duplicate addresses fail with ErrConflict and an
// unsatisfied version constraint with ErrInvalidRequest.
func (r *Registry) Register(l Language) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := l.Address()
	if _, exists := r.languages[addr]; exists {
		return errors.Wrapf(errors.ErrConflict, "language already registered: %s", addr)
	}
	if v, ok := l.(Versioned); ok {
		if err := r.validateVersion(v.Requires()); err != nil {
			return errors.Wrapf(err, "language %s", addr)
		}
	}
	r.languages[addr] = l
	return nil
}

// Get looks up a language by address.
func (r *Registry) Get(address string) (Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.languages[address]
	return l, ok
}

// Resolve is Get with a not-found error.
func (r *Registry) Resolve(address string) (Language, error) {
	if l, ok := r.Get(address); ok {
		return l, nil
	}
	return nil, errors.NewNotFoundError("language %s", address)
}

// List returns the registered addresses in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]string, 0, len(r.languages))
	for addr := range r.languages {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// validateVersion checks the constraint against the host version. Hosts
// without a release version accept every constraint.
func (r *Registry) validateVersion(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "invalid version constraint %q: %v", constraint, err)
	}
	hostVer, ok := version.Info{Version: r.version}.Semver()
	if !ok {
		return nil
	}
	if !c.Check(hostVer) {
		return errors.Wrapf(errors.ErrInvalidRequest, "requires weave %s, but running %s", constraint, r.version)
	}
	return nil
}
