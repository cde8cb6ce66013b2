// Package rosahash provides the content hashing used to derive pair UIDs
// and finding fingerprints, adapted from
// syzkaller's pkg/hash (same sha1-of-concatenated-pieces construction,
// trimmed to the string/short-hex forms ROSA needs).
package rosahash

import (
	"crypto/sha1"
	"encoding/hex"
)

// Sig is a full hash digest.
type Sig [sha1.Size]byte

// Hash hashes the concatenation of pieces.
func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, p := range pieces {
		h.Write(p)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

// String returns the full hex digest of the concatenation of pieces.
func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

func (sig Sig) String() string {
	return hex.EncodeToString(sig[:])
}

// Short returns the first n hex characters of the hash of pieces. Used for
// the "stable short hash" UIDs spec.md calls for (pair UID, finding
// fingerprint) without forcing every consumer to carry a full sha1 string.
func Short(n int, pieces ...[]byte) string {
	full := String(pieces...)
	if n >= len(full) {
		return full
	}
	return full[:n]
}
