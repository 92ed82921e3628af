// Package ledger is the call contract to an external ledger runtime plus two
// implementations: a websocket zome client and an in-memory ledger used by
// tests and local runs.
package ledger

import (
	"context"
	"encoding/json"
)

// Perspective diff zome coordinates used by the ledger-backed language.
const (
	RoleDiffSync = "perspective-diff-sync"
	ZomeDiffSync = "perspective_diff_sync"
	FnCommit     = "commit"
)

// Client calls a zome function and returns its JSON result.
type Client interface {
	Call(ctx context.Context, role, zome, fn string, payload interface{}) (json.RawMessage, error)
}

// Diff is a perspective change set.
type Diff struct {
	Additions interface{} `json:"additions"`
	Removals  interface{} `json:"removals"`
}

// CommitPayload is the argument of the diff-sync commit function.
type CommitPayload struct {
	Diff  Diff   `json:"diff"`
	MyDID string `json:"my_did"`
}
