// Package guest is the sandbox side of the language bridge. It interprets
// module source files with yaegi and answers load, execute and eval
// requests from the host.
package guest

import (
	"context"
	"encoding/json"
	"go/parser"
	"go/token"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/sandbox/rpc"
)

// HostPackage is the import path modules use to reach host callbacks.
const HostPackage = "weave/host"

// Functions a module may export. The LinksAdapter* set is optional.
var moduleFuncs = []string{
	"Create", "Validate", "Apply",
	"LinksAdapterAddLink", "LinksAdapterRemoveLink", "LinksAdapterAddLinks", "LinksAdapterRemoveLinks",
}

type moduleFunc func(args string) (string, error)

type module struct {
	mu    sync.Mutex
	name  string
	fns   map[string]moduleFunc
	links bool
}

// Runtime holds the loaded modules of one sandbox process.
type Runtime struct {
	logger *zap.SugaredLogger
	stdout io.Writer

	conn atomic.Pointer[jsonrpc2.Conn]

	mu      sync.Mutex
	modules map[string]*module
	scratch *interp.Interpreter
}

// New creates an empty runtime. Module output written with fmt.Print goes
// to stdout, which must not be the RPC stream.
func New(log *zap.SugaredLogger, stdout io.Writer) *Runtime {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if stdout == nil {
		stdout = os.Stderr
	}
	return &Runtime{
		logger:  log.Named("guest"),
		stdout:  stdout,
		modules: make(map[string]*module),
	}
}

// Serve answers requests on stream until the host disconnects or ctx ends.
func (r *Runtime) Serve(ctx context.Context, stream jsonrpc2.ObjectStream) error {
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(r.handle)))
	r.conn.Store(conn)
	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

func (r *Runtime) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	r.conn.CompareAndSwap(nil, conn)
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	switch req.Method {
	case rpc.MethodLoad:
		var p rpc.LoadParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		return r.Load(p)
	case rpc.MethodExecute:
		var p rpc.ExecuteParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		return r.Execute(p)
	case rpc.MethodEval:
		var p rpc.EvalParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		return r.Eval(p.Code)
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method " + req.Method}
}

// newInterpreter builds an interpreter whose standard library is narrowed
// to perms.
func (r *Runtime) newInterpreter(perms []string) (*interp.Interpreter, error) {
	granted, err := parseGrants(perms)
	if err != nil {
		return nil, err
	}
	opts := interp.Options{Stdout: r.stdout, Stderr: os.Stderr}
	if granted[rpc.PermEnv] {
		opts.Env = os.Environ()
	}
	i := interp.New(opts)
	if err := i.Use(symbols(granted)); err != nil {
		return nil, errors.Wrap(err, "load stdlib symbols")
	}
	if err := i.Use(r.exports()); err != nil {
		return nil, errors.Wrap(err, "load host symbols")
	}
	return i, nil
}

// exports exposes host.Call to interpreted code.
func (r *Runtime) exports() interp.Exports {
	return interp.Exports{
		HostPackage + "/host": map[string]reflect.Value{
			"Call": reflect.ValueOf(r.hostCall),
		},
	}
}

func (r *Runtime) hostCall(method, params string) (string, error) {
	conn := r.conn.Load()
	if conn == nil {
		return "", errors.Wrap(errors.ErrServiceUnavailable, "host not connected")
	}
	var in interface{}
	if params != "" {
		in = json.RawMessage(params)
	}
	var out json.RawMessage
	if err := conn.Call(context.Background(), method, in, &out, rpc.NewID()); err != nil {
		return "", err
	}
	return string(out), nil
}

// Load interprets the file at p.Path and registers it under p.Handle.
// A second load of the same handle replaces the module.
func (r *Runtime) Load(p rpc.LoadParams) (*rpc.LoadResult, error) {
	if p.Handle == "" || p.Path == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "load needs handle and path")
	}
	src, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read module %s", p.Path)
	}
	f, err := parser.ParseFile(token.NewFileSet(), p.Path, src, parser.PackageClauseOnly)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "parse module %s: %v", p.Path, err)
	}
	pkg := f.Name.Name

	i, err := r.newInterpreter(p.Permissions)
	if err != nil {
		return nil, err
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "interpret module %s: %v", p.Path, err)
	}

	m := &module{fns: make(map[string]moduleFunc)}
	m.name = lookupString(i, pkg+".Name")
	requires := lookupString(i, pkg+".Requires")
	for _, fn := range moduleFuncs {
		v, err := i.Eval(pkg + "." + fn)
		if err != nil || !v.IsValid() {
			continue
		}
		f, ok := v.Interface().(func(string) (string, error))
		if !ok {
			r.logger.Warnw("Module function has wrong signature", logger.FieldHandle, p.Handle, "function", fn)
			continue
		}
		m.fns[fn] = f
		if strings.HasPrefix(fn, "LinksAdapter") {
			m.links = true
		}
	}

	if v, err := i.Eval(pkg + ".Init"); err == nil && v.IsValid() {
		if initFn, ok := v.Interface().(func(string) error); ok {
			if err := initFn(p.Config); err != nil {
				return nil, errors.Wrapf(err, "init module %s", p.Handle)
			}
		}
	}

	r.mu.Lock()
	r.modules[p.Handle] = m
	r.mu.Unlock()

	r.logger.Infow("Module loaded",
		logger.FieldHandle, p.Handle,
		logger.FieldLanguage, m.name,
		logger.FieldCount, len(m.fns),
		"permissions", p.Permissions)
	return &rpc.LoadResult{Success: true, Name: m.name, HasLinksAdapter: m.links, Requires: requires}, nil
}

func lookupString(i *interp.Interpreter, sym string) string {
	v, err := i.Eval(sym)
	if err != nil || !v.IsValid() || v.Kind() != reflect.String {
		return ""
	}
	return v.String()
}

// resolveMethod maps "create" to Create and "linksAdapter.addLink" to
// LinksAdapterAddLink. Only one level of nesting is allowed.
func resolveMethod(method string) (string, error) {
	parts := strings.Split(method, ".")
	if len(parts) > 2 {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "method %q nests too deep", method)
	}
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			return "", errors.Wrapf(errors.ErrInvalidRequest, "malformed method %q", method)
		}
		first, size := utf8.DecodeRuneInString(part)
		b.WriteRune(unicode.ToUpper(first))
		b.WriteString(part[size:])
	}
	return b.String(), nil
}

// Execute calls a module method with a JSON array of arguments.
func (r *Runtime) Execute(p rpc.ExecuteParams) (json.RawMessage, error) {
	r.mu.Lock()
	m, ok := r.modules[p.Handle]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("module %s", p.Handle)
	}
	name, err := resolveMethod(p.Method)
	if err != nil {
		return nil, err
	}
	fn, ok := m.fns[name]
	if !ok {
		return nil, errors.NewNotFoundError("method %s on module %s", p.Method, p.Handle)
	}
	args := p.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	in, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "encode args")
	}

	m.mu.Lock()
	out, err := fn(string(in))
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return json.RawMessage("null"), nil
	}
	if !json.Valid([]byte(out)) {
		return nil, errors.Newf("%s.%s returned non-JSON output", p.Handle, name)
	}
	return json.RawMessage(out), nil
}

// Eval evaluates code in a scratch interpreter shared across calls and
// returns the JSON encoding of the result. The scratch interpreter holds
// no permissions.
func (r *Runtime) Eval(code string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scratch == nil {
		i, err := r.newInterpreter(nil)
		if err != nil {
			return nil, err
		}
		r.scratch = i
	}
	v, err := r.scratch.Eval(code)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "eval: %v", err)
	}
	if !v.IsValid() || !v.CanInterface() {
		return json.RawMessage("null"), nil
	}
	out, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, errors.Wrap(err, "encode eval result")
	}
	return out, nil
}
