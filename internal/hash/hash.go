// Package hash provides deterministic content and configuration hashing for
// the rest of Ionify's core. It is pure: no I/O, no process-wide state.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a digest produced by this package.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 digest.
type Digest [Size]byte

// String hex-encodes the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest (never a valid content hash).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a hex string produced by Digest.String back into a
// Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != Size {
		return d, fmt.Errorf("hash: wrong digest length %d", len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Bytes hashes a single byte slice.
func Bytes(b []byte) Digest {
	return sha256.Sum256(b)
}

// Many hashes a sequence of byte slices with domain separation between
// parts, so that Many([]byte("ab"), []byte("c")) and Many([]byte("a"),
// []byte("bc")) never collide. Each part is length-prefixed before being
// written into the running digest.
func Many(parts ...[]byte) Digest {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range parts {
		putUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

// Strings is a convenience wrapper over Many for string parts.
func Strings(parts ...string) Digest {
	b := make([][]byte, len(parts))
	for i, p := range parts {
		b[i] = []byte(p)
	}
	return Many(b...)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
