package crypt

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the BLAKE3 output length in bytes.
const HashSize = 32

// Hash computes the BLAKE3 hash of data.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// HashHex computes the BLAKE3 hash of data and returns it hex-encoded.
func HashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DeriveKey derives a 32-byte key from ikm under a domain-separation context
// using BLAKE3 keyed derivation. Same context and ikm always yield the same
// key; different contexts never collide.
func DeriveKey(context string, ikm []byte) [KeySize]byte {
	var out [KeySize]byte
	blake3.DeriveKey(context, ikm, out[:])
	return out
}
