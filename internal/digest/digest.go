// Package digest computes the fixed-width content digests used as
// deduplication keys by the value store.
//
// Digests are produced by SHAKE256 squeezed to a configurable width. A shorter
// digest saves space in every value row and every event reference, at the cost
// of a higher theoretical collision probability. The width is chosen once per
// database and recorded there; see store.ErrDigestMismatch.
package digest

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Digest width bounds, in bits.
const (
	DefaultBits = 256
	MinBits     = 64
	MaxBits     = 512
)

// Hasher computes digests of a fixed width.
// The zero value uses DefaultBits.
type Hasher struct {
	size int // bytes
}

// New returns a Hasher producing bits-wide digests.
// bits must be a multiple of 8 within [MinBits, MaxBits].
func New(bits int) (Hasher, error) {
	if bits%8 != 0 {
		return Hasher{}, fmt.Errorf("digest width %d is not a multiple of 8", bits)
	}
	if bits < MinBits || bits > MaxBits {
		return Hasher{}, fmt.Errorf("digest width %d outside [%d, %d]", bits, MinBits, MaxBits)
	}
	return Hasher{size: bits / 8}, nil
}

// MustNew is like New but panics on an invalid width.
// Use only in tests or with constant widths.
func MustNew(bits int) Hasher {
	h, err := New(bits)
	if err != nil {
		panic(err)
	}
	return h
}

// Size returns the digest width in bytes.
func (h Hasher) Size() int {
	if h.size == 0 {
		return DefaultBits / 8
	}
	return h.size
}

// Bits returns the digest width in bits.
func (h Hasher) Bits() int {
	return h.Size() * 8
}

// Sum returns the digest of content.
func (h Hasher) Sum(content []byte) []byte {
	out := make([]byte, h.Size())
	sha3.ShakeSum256(out, content)
	return out
}

// String renders a digest as lowercase hex.
func String(d []byte) string {
	return hex.EncodeToString(d)
}
