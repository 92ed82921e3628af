// Package digest provides content hashes for links and a Merkle tree that
// summarizes a graph's link set for cheap state comparison between peers.
//
// Two agents holding the same links, regardless of insertion order, produce
// the same root. The tree groups leaves by author so a single author's
// churn only dirties one group.
package digest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/teranos/weave/errors"
)

// Hash is a SHA-256 digest.
type Hash = [32]byte

// LinkHash computes a deterministic digest over a link's semantic fields.
// The proof is excluded: two deliveries of the same assertion hash equally
// whatever their transport framing.
func LinkHash(author, timestamp, source, predicate, target string) Hash {
	h := sha256.New()

	// domain separators keep field boundaries unambiguous
	h.Write([]byte("a:"))
	h.Write([]byte(author))
	h.Write([]byte("\x00t:"))
	h.Write([]byte(timestamp))
	h.Write([]byte("\x00s:"))
	h.Write([]byte(source))
	h.Write([]byte("\x00p:"))
	h.Write([]byte(predicate))
	h.Write([]byte("\x00o:"))
	h.Write([]byte(target))

	var out Hash
	h.Sum(out[:0])
	return out
}

// HexHash returns the hex encoding of h.
func HexHash(h Hash) string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex digest produced by HexHash.
func ParseHash(s string) (Hash, error) {
	var out Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, errors.Wrapf(errors.ErrInvalidRequest, "digest %q: %v", s, err)
	}
	if len(b) != len(out) {
		return out, errors.Wrapf(errors.ErrInvalidRequest, "digest %q has %d bytes, want %d", s, len(b), len(out))
	}
	copy(out[:], b)
	return out, nil
}
