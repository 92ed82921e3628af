package carrier

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
)

// Broadcast addresses every peer.
const Broadcast = "broadcast"

const sentAtLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the signed wire unit every carrier moves. Payload is a JSON
// document encoded as a string.
type Envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Payload   string `json:"payload"`
	SentAt    string `json:"sentAt"`
	Signature string `json:"signature"`
}

// signingInput is sender|recipient|sentAt|type|payload.
func (e *Envelope) signingInput() []byte {
	return []byte(strings.Join([]string{e.Sender, e.Recipient, e.SentAt, e.Type, e.Payload}, "|"))
}

// AddressedTo reports whether did should receive e.
func (e *Envelope) AddressedTo(did string) bool {
	return e.Recipient == Broadcast || e.Recipient == did
}

// MessageFactory builds envelopes signed by one agent.
type MessageFactory struct {
	signer identity.Signer
	now    func() time.Time
}

// NewMessageFactory creates a factory for signer.
func NewMessageFactory(signer identity.Signer) *MessageFactory {
	return &MessageFactory{signer: signer, now: time.Now}
}

// Create encodes payload and signs a new envelope to recipient.
func (f *MessageFactory) Create(msgType string, payload interface{}, recipient string) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", msgType)
	}
	env := &Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Sender:    f.signer.DID(),
		Recipient: recipient,
		Payload:   string(body),
		SentAt:    f.now().UTC().Format(sentAtLayout),
	}
	sig, err := multibase.Encode(multibase.Base58BTC, f.signer.Sign(env.signingInput()))
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope signature")
	}
	env.Signature = sig
	return env, nil
}

// Verify checks the envelope signature against the sender DID.
func Verify(env *Envelope) bool {
	if env == nil {
		return false
	}
	enc, sig, err := multibase.Decode(env.Signature)
	if err != nil || enc != multibase.Base58BTC {
		return false
	}
	return identity.Verify(env.Sender, env.signingInput(), sig)
}

// Decode parses one wire message.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "decode envelope: %v", err)
	}
	if env.ID == "" || env.Sender == "" || env.Recipient == "" {
		return nil, errors.NewInvalidRequestError("envelope missing id, sender or recipient")
	}
	return &env, nil
}
