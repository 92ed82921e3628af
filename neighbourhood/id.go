package neighbourhood

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"

	"github.com/teranos/weave/errors"
)

// URLScheme prefixes generated neighbourhood ids.
const URLScheme = "neighbourhood://"

// GenerateID derives a neighbourhood URL from seed: the base58 SHA2-256
// multihash of the seed, CIDv0 style. An empty seed picks a random one.
func GenerateID(seed string) (string, error) {
	if seed == "" {
		seed = uuid.NewString()
	}
	mh, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	if err != nil {
		return "", errors.Wrap(err, "hash neighbourhood seed")
	}
	return URLScheme + base58.Encode(mh), nil
}

// ParseID returns the multihash behind a generated neighbourhood URL.
func ParseID(url string) (multihash.Multihash, error) {
	enc, ok := strings.CutPrefix(url, URLScheme)
	if !ok {
		return nil, errors.NewInvalidRequestError("neighbourhood url %q lacks %s", url, URLScheme)
	}
	raw, err := base58.Decode(enc)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "neighbourhood url %q: %v", url, err)
	}
	mh, err := multihash.Cast(raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "neighbourhood url %q: %v", url, err)
	}
	return mh, nil
}
