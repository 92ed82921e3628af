// Package zcap creates and checks authorization capabilities: signed
// statements that a delegator lets an invoker perform one action on one
// target.
package zcap

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
)

// Action is what a capability allows.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionAppend Action = "append"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRead, ActionWrite, ActionAppend:
		return a, nil
	}
	return "", errors.NewInvalidRequestError("unknown capability action %q", s)
}

const (
	proofType    = "Ed25519Signature2020"
	proofPurpose = "capabilityDelegation"
)

// Proof is the delegator's signature block.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// Capability is a delegated permission.
type Capability struct {
	ID               string `json:"id"`
	Invoker          string `json:"invoker"`
	ParentCapability string `json:"parentCapability,omitempty"`
	InvocationTarget string `json:"invocationTarget"`
	AllowedAction    Action `json:"allowedAction"`
	Proof            *Proof `json:"proof,omitempty"`
}

// signingInput is id|invoker|parent|target|action.
func (c *Capability) signingInput() []byte {
	return []byte(strings.Join([]string{c.ID, c.Invoker, c.ParentCapability, c.InvocationTarget, string(c.AllowedAction)}, "|"))
}

// Delegator is the DID that signed the capability.
func (c *Capability) Delegator() string {
	if c.Proof == nil {
		return ""
	}
	did, _, _ := strings.Cut(c.Proof.VerificationMethod, "#")
	return did
}

// Create signs a capability letting invoker perform action on target.
// parent may be empty.
func Create(signer identity.Signer, invoker, target string, action Action, parent string, now time.Time) (*Capability, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	c := &Capability{
		ID:               "urn:uuid:" + uuid.NewString(),
		Invoker:          invoker,
		ParentCapability: parent,
		InvocationTarget: target,
		AllowedAction:    action,
	}
	value, err := multibase.Encode(multibase.Base58BTC, signer.Sign(c.signingInput()))
	if err != nil {
		return nil, errors.Wrap(err, "encode capability proof")
	}
	c.Proof = &Proof{
		Type:               proofType,
		Created:            now.UTC().Format("2006-01-02T15:04:05.000Z"),
		VerificationMethod: signer.DID() + "#" + identity.Fingerprint(signer.DID()),
		ProofPurpose:       proofPurpose,
		ProofValue:         value,
	}
	return c, nil
}

// Verify reports whether c lets agent perform action on target: invoker,
// target and action match exactly and the delegator's signature holds.
// Parent chains are not walked.
func Verify(c *Capability, agent, target string, action Action) bool {
	if c == nil || c.Invoker != agent || c.InvocationTarget != target || c.AllowedAction != action {
		return false
	}
	return ValidSignature(c)
}

// ValidSignature checks only the delegator's signature.
func ValidSignature(c *Capability) bool {
	if c == nil || c.Proof == nil || c.Proof.Type != proofType {
		return false
	}
	enc, sig, err := multibase.Decode(c.Proof.ProofValue)
	if err != nil || enc != multibase.Base58BTC {
		return false
	}
	return identity.Verify(c.Delegator(), c.signingInput(), sig)
}
