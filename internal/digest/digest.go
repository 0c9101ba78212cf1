// Package digest fingerprints payloads before they are registered as assets.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Hasher computes a content digest and byte length.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for the named algorithm. An empty name selects sha256.
func New(algorithm string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", SHA256:
		return Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case BLAKE3:
		return Hasher{algorithm: BLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return Hasher{}, fmt.Errorf("digest: unsupported algorithm %q", algorithm)
	}
}

// Algorithm names the hash function in use.
func (h Hasher) Algorithm() string {
	if h.algorithm == "" {
		return SHA256
	}
	return h.algorithm
}

// Sum returns the lowercase hex digest of data and its length in bytes.
func (h Hasher) Sum(data []byte) (string, int64) {
	newHash := h.newHash
	if newHash == nil {
		newHash = sha256.New
	}
	hasher := newHash()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), int64(len(data))
}

// Sum fingerprints data with sha256.
func Sum(data []byte) (string, int64) {
	return Hasher{}.Sum(data)
}
