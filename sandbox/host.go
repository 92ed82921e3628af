// Package sandbox runs untrusted language modules in a child process.
//
// The host launches the weave-sandbox binary and speaks line-delimited
// JSON-RPC 2.0 with it over stdio. Modules call back into the host through
// a fixed set of methods; which of them exist depends on the capabilities
// the host was given.
package sandbox

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/language"
	"github.com/teranos/weave/ledger"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/sandbox/rpc"
)

// DefaultCallTimeout bounds every host to sandbox call.
const DefaultCallTimeout = 30 * time.Second

var (
	// ErrProcessTerminated fails calls pending or issued while the sandbox
	// process is gone.
	ErrProcessTerminated = errors.Mark(errors.New("sandbox process terminated"), errors.ErrServiceUnavailable)

	// ErrTimeout fails a call that ran past its deadline.
	ErrTimeout = errors.Mark(errors.New("sandbox call timed out"), errors.ErrTimeout)
)

// Config describes how to launch the sandbox process. Permissions are
// granted to every module the host loads (see rpc.Permissions).
type Config struct {
	Binary      string
	Args        []string
	Env         []string
	CallTimeout time.Duration
	Permissions []string
}

// Capabilities scopes what modules may ask of the host. DID is always
// exposed. Signer and Ledger are optional.
type Capabilities struct {
	DID      string
	Signer   identity.Signer
	Ledger   ledger.Client
	OnSignal func(name string, data json.RawMessage)
}

type callback func(ctx context.Context, params json.RawMessage) (interface{}, error)

type process struct {
	cmd    *exec.Cmd
	conn   *jsonrpc2.Conn
	exited chan struct{}
}

type loaded struct {
	params rpc.LoadParams
	module language.Module
}

// Host owns one sandbox process and the modules loaded into it.
type Host struct {
	cfg       Config
	logger    *zap.SugaredLogger
	callbacks map[string]callback

	mu      sync.Mutex
	proc    *process
	modules map[string]*loaded
	order   []string
	closed  bool
}

// NewHost prepares a host. Start launches the process.
func NewHost(cfg Config, caps Capabilities, log *zap.SugaredLogger) *Host {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	h := &Host{
		cfg:     cfg,
		logger:  log.Named("sandbox"),
		modules: make(map[string]*loaded),
	}
	h.callbacks = h.scope(caps)
	return h
}

// scope builds the callback table a module can reach.
func (h *Host) scope(caps Capabilities) map[string]callback {
	did := caps.DID
	if did == "" && caps.Signer != nil {
		did = caps.Signer.DID()
	}
	cbs := map[string]callback{
		rpc.MethodAgentDID: func(context.Context, json.RawMessage) (interface{}, error) {
			return did, nil
		},
		rpc.MethodLog: func(_ context.Context, params json.RawMessage) (interface{}, error) {
			var p rpc.LogParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			switch p.Level {
			case "debug":
				h.logger.Debugw(p.Message, logger.FieldComponent, "module")
			case "warn":
				h.logger.Warnw(p.Message, logger.FieldComponent, "module")
			case "error":
				h.logger.Errorw(p.Message, logger.FieldComponent, "module")
			default:
				h.logger.Infow(p.Message, logger.FieldComponent, "module")
			}
			return nil, nil
		},
		rpc.MethodSignal: func(_ context.Context, params json.RawMessage) (interface{}, error) {
			var p rpc.SignalParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			if caps.OnSignal != nil {
				caps.OnSignal(p.Name, p.Data)
			}
			return nil, nil
		},
	}
	if caps.Signer != nil {
		cbs[rpc.MethodAgentSign] = func(_ context.Context, params json.RawMessage) (interface{}, error) {
			var p rpc.SignParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return rpc.SignResult{
				Signature: hex.EncodeToString(caps.Signer.Sign([]byte(p.Message))),
				Key:       caps.Signer.DID(),
			}, nil
		}
	}
	if caps.Ledger != nil {
		cbs[rpc.MethodLedgerCall] = func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p rpc.LedgerCallParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return caps.Ledger.Call(ctx, p.Role, p.Zome, p.Fn, p.Payload)
		}
	}
	return cbs
}

func (h *Host) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	cb, ok := h.callbacks[req.Method]
	if !ok {
		h.logger.Debugw("Module called unavailable host method", logger.FieldMethod, req.Method)
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "host method not available: " + req.Method}
	}
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	return cb(ctx, params)
}

// Start launches the sandbox process.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Wrap(ErrProcessTerminated, "host closed")
	}
	if h.proc != nil {
		return nil
	}
	p, err := h.launch(ctx)
	if err != nil {
		return err
	}
	h.proc = p
	return nil
}

func (h *Host) launch(ctx context.Context) (*process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(h.cfg.Binary, h.cfg.Args...)
	cmd.Env = append(os.Environ(), h.cfg.Env...)
	cmd.Stderr = &processLogger{logger: h.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "sandbox stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "sandbox stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start sandbox (binary=%s, args=%v)", h.cfg.Binary, h.cfg.Args)
	}

	p := &process{cmd: cmd, exited: make(chan struct{})}
	p.conn = jsonrpc2.NewConn(context.Background(), rpc.NewStream(stdout, stdin),
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(h.handle)))

	go func() {
		// Wait closes stdout, so the reader has to drain it first.
		<-p.conn.DisconnectNotify()
		err := cmd.Wait()
		h.logger.Infow("Sandbox process exited", "pid", cmd.Process.Pid, logger.FieldError, err)
		p.conn.Close()
		close(p.exited)
	}()

	h.logger.Infow("Sandbox process started", "pid", cmd.Process.Pid, "binary", h.cfg.Binary)
	return p, nil
}

func (h *Host) current() (*process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc == nil {
		return nil, errors.Wrap(ErrProcessTerminated, "sandbox not started")
	}
	select {
	case <-h.proc.exited:
		return nil, errors.Wrap(ErrProcessTerminated, "sandbox exited")
	default:
	}
	return h.proc, nil
}

func (h *Host) call(ctx context.Context, method string, params, result interface{}) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	return h.callOn(ctx, p, method, params, result)
}

func (h *Host) callOn(ctx context.Context, p *process, method string, params, result interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()

	err := p.conn.Call(callCtx, method, params, result, rpc.NewID())
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc2.Error
	switch {
	case errors.As(err, &rpcErr):
		return errors.Newf("sandbox %s: %s", method, rpcErr.Message)
	case errors.Is(err, jsonrpc2.ErrClosed):
		return errors.Wrapf(ErrProcessTerminated, "sandbox %s", method)
	case ctx.Err() == context.Canceled:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(ErrTimeout, "sandbox %s after %s", method, h.cfg.CallTimeout)
	}
	select {
	case <-p.exited:
		return errors.Wrapf(ErrProcessTerminated, "sandbox %s: %v", method, err)
	default:
	}
	return errors.Wrapf(err, "sandbox %s", method)
}

// Load interprets the module at path under handle. config is passed to
// the module's Init.
func (h *Host) Load(ctx context.Context, handle, path, config string) (language.Module, error) {
	abs, err := ResolvePath(path)
	if err != nil {
		return language.Module{}, err
	}
	params := rpc.LoadParams{Path: abs, Handle: handle, Config: config, Permissions: h.cfg.Permissions}
	p, err := h.current()
	if err != nil {
		return language.Module{}, err
	}
	m, err := h.load(ctx, p, params)
	if err != nil {
		return language.Module{}, err
	}

	h.mu.Lock()
	if _, ok := h.modules[handle]; !ok {
		h.order = append(h.order, handle)
	}
	h.modules[handle] = &loaded{params: params, module: m}
	h.mu.Unlock()
	return m, nil
}

func (h *Host) load(ctx context.Context, p *process, params rpc.LoadParams) (language.Module, error) {
	var res rpc.LoadResult
	if err := h.callOn(ctx, p, rpc.MethodLoad, params, &res); err != nil {
		return language.Module{}, err
	}
	if !res.Success {
		return language.Module{}, errors.Newf("sandbox refused module %s", params.Handle)
	}
	h.logger.Infow("Module loaded",
		logger.FieldHandle, params.Handle,
		logger.FieldLanguage, res.Name,
		logger.FieldPath, params.Path)
	return language.Module{
		Handle:          params.Handle,
		Name:            res.Name,
		HasLinksAdapter: res.HasLinksAdapter,
		Requires:        res.Requires,
	}, nil
}

// LoadLanguage loads a module and wraps it as a Language.
func (h *Host) LoadLanguage(ctx context.Context, handle, path, config string) (*language.SandboxProxy, error) {
	m, err := h.Load(ctx, handle, path, config)
	if err != nil {
		return nil, err
	}
	return language.NewSandboxProxy(h, m, h.logger), nil
}

// Modules returns the loaded modules in load order.
func (h *Host) Modules() []language.Module {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]language.Module, 0, len(h.order))
	for _, handle := range h.order {
		out = append(out, h.modules[handle].module)
	}
	return out
}

// Execute implements language.Executor.
func (h *Host) Execute(ctx context.Context, handle, method string, args ...interface{}) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, errors.Wrapf(err, "encode argument for %s.%s", handle, method)
		}
		raw = append(raw, b)
	}
	var out json.RawMessage
	if err := h.call(ctx, rpc.MethodExecute, rpc.ExecuteParams{Handle: handle, Method: method, Args: raw}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Eval evaluates code in the sandbox.
func (h *Host) Eval(ctx context.Context, code string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.call(ctx, rpc.MethodEval, rpc.EvalParams{Code: code}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Restart relaunches the process and reloads every module in load order.
func (h *Host) Restart(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.Wrap(ErrProcessTerminated, "host closed")
	}
	old := h.proc
	h.proc = nil
	h.mu.Unlock()

	if old != nil {
		stop(old, time.Second)
	}

	h.mu.Lock()
	p, err := h.launch(ctx)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.proc = p
	reload := make([]rpc.LoadParams, 0, len(h.order))
	for _, handle := range h.order {
		reload = append(reload, h.modules[handle].params)
	}
	h.mu.Unlock()

	var errs error
	for _, params := range reload {
		m, err := h.load(ctx, p, params)
		if err != nil {
			h.logger.Warnw("Module reload failed", logger.FieldHandle, params.Handle, logger.FieldError, err)
			errs = errors.CombineErrors(errs, err)
			continue
		}
		h.mu.Lock()
		h.modules[params.Handle].module = m
		h.mu.Unlock()
	}
	h.logger.Infow("Sandbox restarted", logger.FieldCount, len(reload))
	return errs
}

// Close stops the process. Pending calls fail with ErrProcessTerminated.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	p := h.proc
	h.proc = nil
	h.mu.Unlock()

	if p != nil {
		stop(p, 5*time.Second)
	}
	return nil
}

// stop closes the stream, which makes the guest exit, and kills the
// process if it lingers.
func stop(p *process, grace time.Duration) {
	p.conn.Close()
	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		p.cmd.Process.Kill()
	}
	select {
	case <-p.exited:
	case <-time.After(grace):
		p.cmd.Process.Kill()
		<-p.exited
	}
}
