package language

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
)

// Executor runs methods of modules loaded in a sandbox host.
type Executor interface {
	Execute(ctx context.Context, handle, method string, args ...interface{}) (json.RawMessage, error)
}

// Module describes a loaded sandbox module.
type Module struct {
	Handle          string
	Name            string
	HasLinksAdapter bool
	// Requires is an optional semver constraint on the host version.
	Requires string
}

// SandboxProxy forwards every call to a module running in the sandbox.
type SandboxProxy struct {
	exec   Executor
	module Module
	logger *zap.SugaredLogger
}

// NewSandboxProxy binds a loaded module.
func NewSandboxProxy(exec Executor, module Module, log *zap.SugaredLogger) *SandboxProxy {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &SandboxProxy{exec: exec, module: module}
	p.logger = log.Named("language").With(logger.FieldLanguage, p.Address(), logger.FieldHandle, module.Handle)
	return p
}

// Name is the module's declared name, or its handle.
func (p *SandboxProxy) Name() string {
	if p.module.Name != "" {
		return p.module.Name
	}
	return p.module.Handle
}

// Address implements Language.
func (p *SandboxProxy) Address() string { return p.Name() }

// Requires implements Versioned.
func (p *SandboxProxy) Requires() string { return p.module.Requires }

func (p *SandboxProxy) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	res, err := p.exec.Execute(ctx, p.module.Handle, method, args...)
	if err != nil {
		return errors.Wrapf(err, "sandbox %s.%s", p.module.Handle, method)
	}
	if out == nil || len(res) == 0 || string(res) == "null" {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "sandbox %s.%s returned %s: %v", p.module.Handle, method, res, err)
	}
	return nil
}

// Create asks the module to build an expression. The module signs through
// the host's Agent.sign callback when it needs to.
func (p *SandboxProxy) Create(ctx context.Context, claims []rdf.Quad, signer identity.Signer) (*expression.Expression, error) {
	var expr expression.Expression
	if err := p.call(ctx, "create", &expr, claims, signer.DID()); err != nil {
		return nil, err
	}
	if expr.Author == "" {
		return nil, errors.Wrapf(ErrInvalidExpression, "sandbox %s created an expression without author", p.module.Handle)
	}
	return &expr, nil
}

// Validate implements Language.
func (p *SandboxProxy) Validate(ctx context.Context, expr *expression.Expression) (bool, error) {
	var ok bool
	if err := p.call(ctx, "validate", &ok, expr); err != nil {
		return false, err
	}
	return ok, nil
}

// Apply validates, forwards, and adds whatever links the module returns.
func (p *SandboxProxy) Apply(ctx context.Context, expr *expression.Expression, persp *perspective.Perspective) error {
	if expr == nil {
		return errors.Wrap(ErrInvalidExpression, "nil expression")
	}
	ok, err := p.Validate(ctx, expr)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrInvalidExpression, "%s rejected expression from %s", p.Address(), expr.Author)
	}
	var links []expression.LinkExpression
	if err := p.call(ctx, "apply", &links, expr, persp.ID()); err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	p.logger.Debugw("Module returned links", logger.FieldCount, len(links))
	return persp.Add(links...)
}

// LinksAdapter implements Language.
func (p *SandboxProxy) LinksAdapter() LinksAdapter {
	if !p.module.HasLinksAdapter {
		return nil
	}
	return &sandboxLinks{p: p}
}

type sandboxLinks struct{ p *SandboxProxy }

func (s *sandboxLinks) AddLink(ctx context.Context, le expression.LinkExpression) error {
	return s.p.call(ctx, "linksAdapter.addLink", nil, le)
}

func (s *sandboxLinks) RemoveLink(ctx context.Context, le expression.LinkExpression) error {
	return s.p.call(ctx, "linksAdapter.removeLink", nil, le)
}

func (s *sandboxLinks) AddLinks(ctx context.Context, les []expression.LinkExpression) error {
	return s.p.call(ctx, "linksAdapter.addLinks", nil, les)
}

func (s *sandboxLinks) RemoveLinks(ctx context.Context, les []expression.LinkExpression) error {
	return s.p.call(ctx, "linksAdapter.removeLinks", nil, les)
}
