package bucket

import (
	"context"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/rotation"
)

// RotateKek advances the root keypair. Objects written before the rotation
// keep decrypting through the retained previous keypair until RotateBucket
// re-wraps them.
func (b *Bucket) RotateKek() (*crypt.KekKeyPair, error) {
	return b.Keys.Rotate()
}

// RotateBucket re-wraps every envelope in the bucket to the current KEK
// version in batches and re-encrypts the forest under the new root. Safe to
// re-run: already-current envelopes are skipped.
func (b *Bucket) RotateBucket(ctx context.Context, batchSize int) (*rotation.Report, error) {
	r := rotation.NewRotator(b.store, b.Keys, b.forests)
	return r.RotateBucket(ctx, b.Name, b.forest, batchSize)
}

// RotateSubtree rekeys one shared subtree, invalidating every share token
// issued against its old DEK, then persists the refreshed key set in the
// forest. Outstanding shares for the prefix are dropped from the issuer
// records too: they are cryptographically dead and must not validate.
func (b *Bucket) RotateSubtree(ctx context.Context, prefix string) (*rotation.SubtreeResult, error) {
	prefix = normalizePath(prefix)
	r := rotation.NewRotator(b.store, b.Keys, b.forests)
	result, err := r.RotateSubtree(ctx, b.Subtrees, b.forest, prefix)
	if err != nil {
		return result, err
	}
	b.Shares.RevokeFolder(prefix)
	if err := b.saveForest(ctx); err != nil {
		return result, err
	}
	return result, nil
}
