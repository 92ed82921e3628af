package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
	"github.com/teranos/weave/errors"
)

// Multicodec code for ed25519-pub.
const ed25519Codec = 0xed

const didKeyPrefix = "did:key:"

var (
	// ErrUnsupportedMethod is returned when resolving a DID that is not did:key.
	ErrUnsupportedMethod = errors.New("unsupported DID method")

	// ErrMalformedKey is returned when the key encoding or multicodec header is wrong.
	ErrMalformedKey = errors.New("malformed did:key")
)

// Document is the resolved DID document.
type Document struct {
	Context            string               `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
}

// VerificationMethod is one public key entry of a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// EncodeDIDKey encodes an ed25519 public key as a did:key identifier.
func EncodeDIDKey(pub ed25519.PublicKey) string {
	header := varint.ToUvarint(ed25519Codec)
	buf := make([]byte, 0, len(header)+len(pub))
	buf = append(buf, header...)
	buf = append(buf, pub...)

	// Base58BTC is a registered encoding, Encode cannot fail for it
	encoded, _ := multibase.Encode(multibase.Base58BTC, buf)
	return didKeyPrefix + encoded
}

// Fingerprint returns the method-specific id of a did:key (the multibase part).
func Fingerprint(did string) string {
	return strings.TrimPrefix(did, didKeyPrefix)
}

// PublicKeyFromDID extracts the ed25519 public key from a did:key.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" {
		return nil, errors.Wrapf(ErrMalformedKey, "not a DID: %q", did)
	}
	if parts[1] != "key" {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "did:%s", parts[1])
	}

	encoding, decoded, err := multibase.Decode(parts[2])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedKey, "multibase decode %s: %v", did, err)
	}
	if encoding != multibase.Base58BTC {
		return nil, errors.Wrapf(ErrMalformedKey, "unexpected multibase encoding %q for %s", string(rune(encoding)), did)
	}

	code, n, err := varint.FromUvarint(decoded)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedKey, "multicodec header of %s: %v", did, err)
	}
	if code != ed25519Codec {
		return nil, errors.Wrapf(ErrMalformedKey, "unexpected multicodec 0x%x for %s (expected ed25519-pub)", code, did)
	}
	key := decoded[n:]
	if len(key) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(ErrMalformedKey, "unexpected key length %d for %s (expected %d)", len(key), did, ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(key), nil
}

// Resolve builds the DID document for a did:key.
func Resolve(did string) (*Document, error) {
	if _, err := PublicKeyFromDID(did); err != nil {
		return nil, err
	}

	fragment := Fingerprint(did)
	vmID := did + "#" + fragment

	return &Document{
		Context: "https://www.w3.org/ns/did/v1",
		ID:      did,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               "Ed25519VerificationKey2020",
			Controller:         did,
			PublicKeyMultibase: fragment,
		}},
		Authentication:  []string{vmID},
		AssertionMethod: []string{vmID},
	}, nil
}

// JSON renders the document as indented JSON.
func (d *Document) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal DID document")
	}
	return data, nil
}

// Verify checks an ed25519 signature by the key behind did.
// Returns false on any failure, never an error.
func Verify(did string, msg, sig []byte) bool {
	pub, err := PublicKeyFromDID(did)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
