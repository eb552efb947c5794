package objects

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/forest"
)

// ObfuscationMode selects how a logical path maps to the opaque storage key.
type ObfuscationMode string

const (
	// DeterministicHash hashes dek and path under one flat "e/" prefix.
	// Hides filenames; reveals that all blobs belong to one namespace.
	DeterministicHash ObfuscationMode = "DeterministicHash"

	// RandomUuid draws a fresh key per upload. Hides repeat correlation but
	// defeats deterministic lookup; only for write-once blobs.
	RandomUuid ObfuscationMode = "RandomUuid"

	// PreserveStructure keeps the directory prefix and hashes the basename.
	// Hides filenames, reveals the directory shape.
	PreserveStructure ObfuscationMode = "PreserveStructure"

	// FlatNamespace produces CID-shaped sibling keys via the private forest.
	// The only mode that hides all structure; requires a loaded forest to
	// resolve paths back to keys. The default.
	FlatNamespace ObfuscationMode = "FlatNamespace"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// hashKeyMaterial hashes dek ∥ path to 32 bytes.
func hashKeyMaterial(dek *crypt.DekKey, path string) [32]byte {
	h := blake3.New()
	h.Write(dek.Bytes())
	h.Write([]byte(path))
	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}

// StorageKey computes the obfuscated storage key for a logical path under
// the given mode. Deterministic for a given (mode, path, dek, salt) except
// in RandomUuid mode. An unrecognized mode is an error, not a fallback.
func StorageKey(mode ObfuscationMode, path string, dek *crypt.DekKey, salt []byte) (string, error) {
	switch mode {
	case DeterministicHash:
		sum := hashKeyMaterial(dek, path)
		return "e/" + strings.ToLower(b32.EncodeToString(sum[:])), nil
	case RandomUuid:
		return uuid.NewString(), nil
	case PreserveStructure:
		dir := ""
		base := path
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			dir = path[:idx+1]
			base = path[idx+1:]
		}
		sum := hashKeyMaterial(dek, base)
		return dir + strings.ToLower(b32.EncodeToString(sum[:16])), nil
	case FlatNamespace:
		return forest.GenerateFlatKey(path, dek, salt), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}
