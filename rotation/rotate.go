package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/forest"
	"github.com/functionland/fula-storage-go/objects"
)

// Report summarizes a bucket rotation pass.
type Report struct {
	Attempted int
	Rewrapped int
	Skipped   int
	Errors    int
}

// Rotator re-wraps envelopes after a KEK rotation. Ciphertext is never
// touched; only the envelope header of each blob is rewritten.
type Rotator struct {
	Blobs   blobstore.Store
	Keys    *crypt.KeyManager
	Forests *forest.Store
}

// NewRotator builds a rotator over the given stores.
func NewRotator(blobs blobstore.Store, keys *crypt.KeyManager, forests *forest.Store) *Rotator {
	return &Rotator{Blobs: blobs, Keys: keys, Forests: forests}
}

// RotateKek advances the key manager to a fresh keypair. The previous
// generation stays available for unwrapping until the operator discards it.
func (r *Rotator) RotateKek() (*crypt.KekKeyPair, error) {
	return r.Keys.Rotate()
}

// RewrapStorageKey re-wraps the envelope stored under one storage key.
// Returns true when the envelope was rewritten, false when it already
// carried the current KEK version.
func (r *Rotator) RewrapStorageKey(ctx context.Context, storageKey string) (bool, error) {
	data, headers, err := r.Blobs.Get(ctx, storageKey)
	if err != nil {
		return false, fmt.Errorf("rotation: fetch %s: %w", storageKey, err)
	}
	raw, ok := headers[blobstore.HeaderEncryption]
	if !ok {
		return false, nil // legacy plaintext blob, nothing to rewrap
	}
	env, err := objects.ParseEnvelope(raw)
	if err != nil {
		return false, err
	}

	changed, err := objects.RewrapEnvelope(r.Keys, env)
	if err != nil || !changed {
		return false, err
	}

	envJSON, err := env.Marshal()
	if err != nil {
		return false, err
	}
	headers = headers.Clone()
	headers[blobstore.HeaderEncryption] = envJSON
	if _, err := r.Blobs.Put(ctx, storageKey, data, headers); err != nil {
		return false, fmt.Errorf("rotation: write back %s: %w", storageKey, err)
	}
	return true, nil
}

// RewrapObject re-wraps the envelope of one logical path.
func (r *Rotator) RewrapObject(ctx context.Context, f *forest.Forest, path string) (bool, error) {
	key, err := f.StorageKey(path)
	if err != nil {
		return false, err
	}
	return r.RewrapStorageKey(ctx, key)
}

// RotateBucket walks the forest in batches and re-wraps every envelope to
// the current KEK version, then re-encrypts the forest under the new
// root-derived forest DEK. Idempotent: envelopes already at the current
// version count as skipped, so a second pass reports zero rewraps.
// Cancellation mid-walk returns the partial report with ErrCancelled; a
// later run resumes safely.
func (r *Rotator) RotateBucket(ctx context.Context, bucketName string, f *forest.Forest, batchSize int) (*Report, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	report := &Report{}

	paths := f.SortedPaths("")
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		for _, path := range paths[start:end] {
			if err := ctx.Err(); err != nil {
				return report, ErrCancelled
			}
			report.Attempted++
			changed, err := r.RewrapObject(ctx, f, path)
			switch {
			case err != nil:
				report.Errors++
			case changed:
				report.Rewrapped++
			default:
				report.Skipped++
			}
		}
	}

	// Persist the forest under the new root's derived key; the old blob is
	// dropped so the stale ciphertext cannot shadow the index.
	oldKey := r.Forests.PreviousIndexKey(bucketName)
	if err := r.Forests.Save(ctx, bucketName, f); err != nil {
		return report, err
	}
	if oldKey != "" && oldKey != r.Forests.IndexKey(bucketName) {
		if err := r.Blobs.Delete(ctx, oldKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return report, fmt.Errorf("rotation: drop old forest blob: %w", err)
		}
	}
	return report, nil
}

// SubtreeResult summarizes a subtree rekey.
type SubtreeResult struct {
	Prefix        string
	NewDek        *crypt.DekKey
	AffectedPaths []string
	Rewrapped     int
	Errors        int
}

// RotateSubtree draws a fresh DEK for the subtree and re-wraps the
// subtree-carried object DEKs of every descendant envelope under it. Shares
// issued against the old subtree DEK stop decrypting immediately: the
// envelopes no longer hold anything the old key opens.
func (r *Rotator) RotateSubtree(ctx context.Context, mgr *SubtreeKeyManager, f *forest.Forest, prefix string) (*SubtreeResult, error) {
	if mgr.Dek(prefix) == nil {
		return nil, ErrNoSubtreeKey
	}

	newDek := crypt.GenerateDek()
	result := &SubtreeResult{Prefix: prefix, NewDek: newDek}

	for _, path := range f.SortedPaths(prefix) {
		if err := ctx.Err(); err != nil {
			return result, ErrCancelled
		}
		result.AffectedPaths = append(result.AffectedPaths, path)

		key, err := f.StorageKey(path)
		if err != nil {
			result.Errors++
			continue
		}
		if err := r.rewrapSubtreeField(ctx, key, newDek); err != nil {
			result.Errors++
			continue
		}
		result.Rewrapped++
	}

	mgr.Register(prefix, newDek)
	return result, nil
}

// rewrapSubtreeField replaces the subtree wrap inside one envelope with a
// wrap under the new subtree DEK.
func (r *Rotator) rewrapSubtreeField(ctx context.Context, storageKey string, newDek *crypt.DekKey) error {
	data, headers, err := r.Blobs.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	raw, ok := headers[blobstore.HeaderEncryption]
	if !ok {
		return nil
	}
	env, err := objects.ParseEnvelope(raw)
	if err != nil {
		return err
	}

	cipher, err := crypt.ParseCipher(env.Algorithm)
	if err != nil {
		return err
	}

	objectDek, err := objects.UnwrapDek(r.Keys, env)
	if err != nil {
		return err
	}
	defer objectDek.Zero()

	wrap, err := objects.WrapDekForSubtree(objectDek, newDek, cipher)
	if err != nil {
		return err
	}
	env.SubtreeWrappedKey = wrap

	envJSON, err := env.Marshal()
	if err != nil {
		return err
	}
	headers = headers.Clone()
	headers[blobstore.HeaderEncryption] = envJSON
	_, err = r.Blobs.Put(ctx, storageKey, data, headers)
	return err
}
