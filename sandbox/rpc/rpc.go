// Package rpc holds the wire types shared by the sandbox host and guest.
//
// Messages are JSON-RPC 2.0 objects, one per line, over the guest's stdio.
// Request ids are UUID strings in both directions.
package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
)

// Host to guest.
const (
	MethodLoad    = "load"
	MethodExecute = "execute"
	MethodEval    = "eval"
)

// Guest to host.
const (
	MethodAgentDID   = "Agent.did"
	MethodAgentSign  = "Agent.sign"
	MethodLedgerCall = "Ledger.call"
	MethodLog        = "log"
	MethodSignal     = "signal"
)

// Permissions a module may be granted. Without any, a module sees only
// the pure parts of the standard library.
const (
	PermRead  = "read"  // file system reads
	PermWrite = "write" // file system writes
	PermNet   = "net"   // sockets and HTTP
	PermEnv   = "env"   // environment variables and process arguments
	PermRun   = "run"   // processes and signals
)

// Permissions lists every known permission.
var Permissions = []string{PermRead, PermWrite, PermNet, PermEnv, PermRun}

// ValidPermission reports whether p is a known permission.
func ValidPermission(p string) bool {
	for _, known := range Permissions {
		if p == known {
			return true
		}
	}
	return false
}

// LoadParams asks the guest to interpret a module file under a handle.
type LoadParams struct {
	Path        string   `json:"path"`
	Handle      string   `json:"handle"`
	Config      string   `json:"config,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// LoadResult describes what the module declared.
type LoadResult struct {
	Success         bool   `json:"success"`
	Name            string `json:"name,omitempty"`
	HasLinksAdapter bool   `json:"hasLinksAdapter"`
	Requires        string `json:"requires,omitempty"`
}

// ExecuteParams invokes a module method. Method may be dotted
// ("linksAdapter.addLink").
type ExecuteParams struct {
	Handle string            `json:"handle"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

// EvalParams evaluates a free-standing snippet.
type EvalParams struct {
	Code string `json:"code"`
}

// SignParams carries the message a module wants signed by the agent.
type SignParams struct {
	Message string `json:"message"`
}

// SignResult is a hex signature and the signing DID, in the same
// encoding as expression proofs.
type SignResult struct {
	Signature string `json:"signature"`
	Key       string `json:"key"`
}

// LedgerCallParams forwards a zome call.
type LedgerCallParams struct {
	Role    string          `json:"role"`
	Zome    string          `json:"zome"`
	Fn      string          `json:"fn"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LogParams is a log line emitted by a module.
type LogParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SignalParams is a named event emitted by a module.
type SignalParams struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewID returns a call option that sets a fresh UUID request id.
func NewID() jsonrpc2.CallOption {
	return jsonrpc2.PickID(jsonrpc2.ID{Str: uuid.NewString(), IsString: true})
}

// LineCodec frames each JSON-RPC object as a single line.
type LineCodec struct{}

// WriteObject implements jsonrpc2.ObjectCodec.
func (LineCodec) WriteObject(stream io.Writer, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = stream.Write(append(data, '\n'))
	return err
}

// ReadObject implements jsonrpc2.ObjectCodec. Blank lines are skipped.
func (LineCodec) ReadObject(stream *bufio.Reader, v interface{}) error {
	for {
		line, err := stream.ReadBytes('\n')
		if err != nil {
			return err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return json.Unmarshal(line, v)
	}
}

type pipe struct {
	io.ReadCloser
	w io.WriteCloser
}

func (p pipe) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p pipe) Close() error {
	werr := p.w.Close()
	rerr := p.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// NewStream joins a reader and a writer into a line-framed object stream.
func NewStream(r io.ReadCloser, w io.WriteCloser) jsonrpc2.ObjectStream {
	return jsonrpc2.NewBufferedStream(pipe{ReadCloser: r, w: w}, LineCodec{})
}
