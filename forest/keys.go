package forest

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/functionland/fula-storage-go/crypt"
)

// Key derivation domains.
const (
	flatKeyContext  = "fula/flat-namespace/key/v1"
	indexKeyContext = "fula/private-forest/index/v1"
)

// SaltSize is the per-forest salt length.
const SaltSize = 16

// cidLike formats 22 hash bytes as a CID-shaped key: "Qm" + 44 hex chars,
// 46 characters total, indistinguishable in shape from a content address.
func cidLike(hash []byte) string {
	return "Qm" + hex.EncodeToString(hash[:22])
}

// GenerateFlatKey derives the flat-namespace storage key for a logical path.
// Pure function of (path, dek, salt): stable across processes with the same
// inputs, unlinkable to the path without the DEK.
func GenerateFlatKey(path string, dek *crypt.DekKey, salt []byte) string {
	h := blake3.NewDeriveKey(flatKeyContext)
	h.Write(dek.Bytes())
	h.Write([]byte(path))
	h.Write(salt)
	var sum [32]byte
	h.Sum(sum[:0])
	return cidLike(sum[:])
}

// RandomFlatKey draws a random CID-shaped key with no path binding.
func RandomFlatKey() string {
	return cidLike(crypt.RandomBytes(22))
}

// DeriveIndexKey derives the deterministic storage key of the forest blob for
// a bucket. The client can always relocate its index after a restart.
func DeriveIndexKey(forestDek *crypt.DekKey, bucket string) string {
	h := blake3.NewDeriveKey(indexKeyContext)
	h.Write(forestDek.Bytes())
	h.Write([]byte(bucket))
	var sum [32]byte
	h.Sum(sum[:0])
	return cidLike(sum[:])
}
