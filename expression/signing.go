package expression

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
)

// CanonicalBytes produces the signed form of {author, data, timestamp}:
// compact JSON with recursively sorted keys, independent of how data was
// formatted on the wire.
func CanonicalBytes(author, timestamp string, data json.RawMessage) ([]byte, error) {
	var generic interface{}
	if len(data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, errors.Wrap(err, "canonicalize expression data")
		}
	}

	// map keys marshal in sorted order
	canonical, err := json.Marshal(map[string]interface{}{
		"author":    author,
		"data":      generic,
		"timestamp": timestamp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal canonical expression")
	}
	return canonical, nil
}

// Sign builds an expression over data authored and signed by signer.
func Sign(signer identity.Signer, data json.RawMessage, now time.Time) (*Expression, error) {
	expr := &Expression{
		Author:    signer.DID(),
		Timestamp: Timestamp(now),
		Data:      data,
	}
	canonical, err := CanonicalBytes(expr.Author, expr.Timestamp, expr.Data)
	if err != nil {
		return nil, err
	}
	expr.Proof = Proof{
		Signature: hex.EncodeToString(signer.Sign(canonical)),
		Key:       signer.DID(),
		Valid:     true,
	}
	return expr, nil
}

// Verify checks a plain signature made by Sign. The proof key must be the author.
func Verify(expr *Expression) bool {
	if expr == nil || expr.Proof.Key != expr.Author {
		return false
	}
	sig, err := hex.DecodeString(expr.Proof.Signature)
	if err != nil {
		return false
	}
	canonical, err := CanonicalBytes(expr.Author, expr.Timestamp, expr.Data)
	if err != nil {
		return false
	}
	return identity.Verify(expr.Author, canonical, sig)
}
