// Package sha256 provides SHA-256 fingerprinting utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Hasher computes hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Digest accumulates a SHA-256 fingerprint incrementally. It implements
// io.Writer so it can sit behind an io.MultiWriter while streaming a
// download to disk.
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest returns an empty streaming digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write feeds more bytes into the digest. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	d.h.Write(p)
	d.n += int64(len(p))
	return len(p), nil
}

// Sum returns the hex digest of everything written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (d *Digest) Size() int64 {
	return d.n
}
