package neighbourhood

import (
	"encoding/json"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
)

// Sync message types. The same value is used as the envelope type.
const (
	TypeSync         = "neighbourhood-sync"
	TypeSyncRequest  = "sync-request"
	TypeSyncResponse = "sync-response"
)

// Message is the payload of every sync envelope.
type Message struct {
	Type             string                      `json:"type"`
	NeighbourhoodURL string                      `json:"neighbourhoodUrl"`
	Expression       *expression.Expression      `json:"expression,omitempty"`
	Links            []expression.LinkExpression `json:"links,omitempty"`
	// Digest is the requester's Merkle root, hex encoded.
	Digest string `json:"digest,omitempty"`
}

// DecodeMessage parses an envelope payload. Payloads without a type or
// neighbourhood url are rejected.
func DecodeMessage(payload string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "decode sync payload: %v", err)
	}
	if m.Type == "" || m.NeighbourhoodURL == "" {
		return nil, errors.NewInvalidRequestError("sync payload missing type or neighbourhoodUrl")
	}
	return &m, nil
}
