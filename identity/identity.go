// Package identity provides agent keys, did:key derivation and resolution,
// and the detached ed25519 signing primitives every other package builds on.
//
// A DID is a pure function of the public key:
//
//	did:key:z + base58btc(varint(0xed) || 32-byte pubkey)
//
// Verification is soft. Verify returns false on any resolution or
// cryptographic failure so untrusted input never turns into an error path.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/teranos/weave/errors"
)

// Signer is the signing capability handed to languages, envelopes and capabilities.
type Signer interface {
	DID() string
	Sign(msg []byte) []byte
}

// KeyPair is an agent's ed25519 identity.
type KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	did        string
}

// Generate creates a fresh random identity.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 keypair")
	}
	return newKeyPair(priv, pub), nil
}

// FromSeed derives the identity for a 32-byte seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Newf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return newKeyPair(priv, priv.Public().(ed25519.PublicKey)), nil
}

// FromPrivateKey restores an identity from a stored 64-byte private key.
func FromPrivateKey(priv ed25519.PrivateKey) (*KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.Newf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return newKeyPair(priv, priv.Public().(ed25519.PublicKey)), nil
}

func newKeyPair(priv ed25519.PrivateKey, pub ed25519.PublicKey) *KeyPair {
	return &KeyPair{
		privateKey: priv,
		publicKey:  pub,
		did:        EncodeDIDKey(pub),
	}
}

// DID returns the did:key identifier.
func (k *KeyPair) DID() string { return k.did }

// PublicKey returns the raw ed25519 public key.
func (k *KeyPair) PublicKey() ed25519.PublicKey { return k.publicKey }

// PrivateKey returns the raw ed25519 private key.
func (k *KeyPair) PrivateKey() ed25519.PrivateKey { return k.privateKey }

// Sign produces a deterministic ed25519 signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.privateKey, msg)
}

// VerificationMethodID returns did#fingerprint, the key reference used in proofs.
func (k *KeyPair) VerificationMethodID() string {
	return k.did + "#" + Fingerprint(k.did)
}
