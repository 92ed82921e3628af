// Package credential issues and verifies W3C Verifiable Credentials whose
// subject is a set of RDF claims, signed with Ed25519Signature2020 over the
// URDNA2015 canonical form.
package credential

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/rdf"
)

const (
	TypeVerifiableCredential = "VerifiableCredential"
	ProofTypeEd25519         = "Ed25519Signature2020"
	PurposeAssertion         = "assertionMethod"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Proof is a linked-data proof block.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// Controller is the DID portion of the verification method.
func (p *Proof) Controller() string {
	did, _, _ := strings.Cut(p.VerificationMethod, "#")
	return did
}

// VerifiableCredential is the compacted JSON-LD credential document.
// CredentialSubject holds expanded node objects.
type VerifiableCredential struct {
	Context           []string    `json:"@context"`
	ID                string      `json:"id"`
	Type              []string    `json:"type"`
	Issuer            string      `json:"issuer"`
	ValidFrom         string      `json:"validFrom"`
	CredentialSubject interface{} `json:"credentialSubject"`
	Proof             *Proof      `json:"proof,omitempty"`
}

// Issue builds and signs a credential asserting claims. Graph names on
// claims are dropped; the credential's own id becomes their graph on ingest.
func (p *Processor) Issue(signer identity.Signer, claims []rdf.Quad, now time.Time) (*VerifiableCredential, error) {
	subject, err := p.FromQuads(claims)
	if err != nil {
		return nil, err
	}

	ts := now.UTC().Format(timestampLayout)
	vc := &VerifiableCredential{
		Context:           []string{ContextV2},
		ID:                "urn:uuid:" + uuid.NewString(),
		Type:              []string{TypeVerifiableCredential},
		Issuer:            signer.DID(),
		ValidFrom:         ts,
		CredentialSubject: subject,
	}

	canonical, err := p.unsignedCanonical(vc)
	if err != nil {
		return nil, err
	}
	value, err := multibase.Encode(multibase.Base58BTC, signer.Sign([]byte(canonical)))
	if err != nil {
		return nil, errors.Wrap(err, "encode proof value")
	}
	vc.Proof = &Proof{
		Type:               ProofTypeEd25519,
		Created:            ts,
		VerificationMethod: signer.DID() + "#" + identity.Fingerprint(signer.DID()),
		ProofPurpose:       PurposeAssertion,
		ProofValue:         value,
	}
	return vc, nil
}

// Verify reports whether the credential's proof was made by its issuer over
// the current document content.
func (p *Processor) Verify(vc *VerifiableCredential) bool {
	if vc == nil || vc.Proof == nil || vc.Proof.Type != ProofTypeEd25519 {
		return false
	}
	if vc.Proof.Controller() != vc.Issuer {
		return false
	}
	enc, sig, err := multibase.Decode(vc.Proof.ProofValue)
	if err != nil || enc != multibase.Base58BTC {
		return false
	}
	canonical, err := p.unsignedCanonical(vc)
	if err != nil {
		return false
	}
	return identity.Verify(vc.Issuer, []byte(canonical), sig)
}

// Ingest expands the whole credential, proof included, into quads placed in
// the graph named by the credential id.
func (p *Processor) Ingest(vc *VerifiableCredential) ([]rdf.Quad, error) {
	if vc == nil || vc.ID == "" {
		return nil, errors.NewInvalidRequestError("credential has no id")
	}
	doc, err := toGeneric(vc)
	if err != nil {
		return nil, err
	}
	quads, err := p.ToQuads(doc)
	if err != nil {
		return nil, err
	}
	graph := rdf.NewIRI(vc.ID)
	for i := range quads {
		quads[i] = quads[i].InGraph(graph)
	}
	return quads, nil
}

// Claims returns the subject triples of the credential in the default graph.
func (p *Processor) Claims(vc *VerifiableCredential) ([]rdf.Quad, error) {
	if vc == nil {
		return nil, errors.NewInvalidRequestError("nil credential")
	}
	unsigned := *vc
	unsigned.Proof = nil
	doc, err := toGeneric(&unsigned)
	if err != nil {
		return nil, err
	}
	quads, err := p.ToQuads(doc)
	if err != nil {
		return nil, err
	}
	out := quads[:0]
	for _, q := range quads {
		if q.Subject.IsIRI() && q.Subject.Value == vc.ID {
			continue
		}
		out = append(out, q.InGraph(rdf.DefaultGraph))
	}
	return out, nil
}

func (p *Processor) unsignedCanonical(vc *VerifiableCredential) (string, error) {
	unsigned := *vc
	unsigned.Proof = nil
	doc, err := toGeneric(&unsigned)
	if err != nil {
		return "", err
	}
	return p.Canonicalize(doc)
}
