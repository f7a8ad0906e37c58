package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Supported algorithm names.
const (
	SHA256     = "sha256"
	Blake2b256 = "blake2b-256"
)

// Digest is the lowercase hex encoding of a hash sum.
type Digest string

// Hasher computes fixed-length digests. Sum is total and has no side effects.
type Hasher struct {
	name    string
	newHash func() hash.Hash
}

// New returns a Hasher for the named algorithm.
func New(algorithm string) (*Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", SHA256:
		return &Hasher{name: SHA256, newHash: sha256.New}, nil
	case Blake2b256:
		return &Hasher{name: Blake2b256, newHash: newBlake2b256}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// Default returns the sha256 hasher.
func Default() *Hasher {
	return &Hasher{name: SHA256, newHash: sha256.New}
}

// Name returns the canonical algorithm name.
func (h *Hasher) Name() string {
	return h.name
}

// Sum returns the digest of data.
func (h *Hasher) Sum(data []byte) Digest {
	hh := h.newHash()
	_, _ = hh.Write(data)
	return Digest(hex.EncodeToString(hh.Sum(nil)))
}

// SumString is Sum over the bytes of s.
func (h *Hasher) SumString(s string) Digest {
	return h.Sum([]byte(s))
}

func newBlake2b256() hash.Hash {
	// only errors on an oversized key
	hh, _ := blake2b.New256(nil)
	return hh
}
