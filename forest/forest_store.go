package forest

import (
	"context"
	"errors"
	"fmt"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/crypt"
)

// ForestLabel is the DerivePathKey label for per-bucket forest DEKs.
const ForestLabel = "forest:"

// Store loads and persists forest blobs for buckets. The forest DEK is
// derived deterministically from the root secret so the index can be found
// again after a restart with no side-channel hints.
type Store struct {
	blobs  blobstore.Store
	keys   *crypt.KeyManager
	cipher crypt.Cipher
}

// NewStore creates a forest store over the given blob store and key manager.
func NewStore(blobs blobstore.Store, keys *crypt.KeyManager, cipher crypt.Cipher) *Store {
	return &Store{blobs: blobs, keys: keys, cipher: cipher}
}

// ForestDek derives the per-bucket forest DEK.
func (s *Store) ForestDek(bucket string) *crypt.DekKey {
	raw := s.keys.DerivePathKey(ForestLabel, bucket)
	dek, _ := crypt.DekFromBytes(raw[:])
	crypt.Zero(raw[:])
	return dek
}

// IndexKey returns the deterministic storage key of a bucket's forest blob.
func (s *Store) IndexKey(bucket string) string {
	dek := s.ForestDek(bucket)
	defer dek.Zero()
	return DeriveIndexKey(dek, bucket)
}

// Load fetches and decrypts the forest for bucket. A missing blob is an
// empty bucket and yields a fresh forest; a blob that fails to decrypt or
// parse is corrupt and refuses reads. During a rotation window the forest
// may still be stored under the previous root's derived key; Load falls back
// to it before concluding the bucket is empty.
func (s *Store) Load(ctx context.Context, bucket string) (*Forest, error) {
	dek := s.ForestDek(bucket)
	defer dek.Zero()

	blob, _, err := s.blobs.Get(ctx, DeriveIndexKey(dek, bucket))
	if errors.Is(err, blobstore.ErrNotFound) {
		if prev := s.keys.PreviousKeypair(); prev != nil {
			return s.loadWithSecret(ctx, bucket, prev.Secret)
		}
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("forest: load %s: %w", bucket, err)
	}

	return Decode(blob, dek, s.cipher)
}

// loadWithSecret loads the forest under the key derived from an older root
// secret.
func (s *Store) loadWithSecret(ctx context.Context, bucket string, secret *crypt.SecretKey) (*Forest, error) {
	raw := crypt.DerivePathKeyFrom(secret, ForestLabel, bucket)
	dek, _ := crypt.DekFromBytes(raw[:])
	crypt.Zero(raw[:])
	defer dek.Zero()

	blob, _, err := s.blobs.Get(ctx, DeriveIndexKey(dek, bucket))
	if errors.Is(err, blobstore.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("forest: load %s: %w", bucket, err)
	}
	return Decode(blob, dek, s.cipher)
}

// PreviousIndexKey returns the forest key under the previous root, or ""
// when no previous keypair is retained.
func (s *Store) PreviousIndexKey(bucket string) string {
	prev := s.keys.PreviousKeypair()
	if prev == nil {
		return ""
	}
	raw := crypt.DerivePathKeyFrom(prev.Secret, ForestLabel, bucket)
	dek, _ := crypt.DekFromBytes(raw[:])
	crypt.Zero(raw[:])
	defer dek.Zero()
	return DeriveIndexKey(dek, bucket)
}

// Save encrypts and uploads the forest under the bucket's deterministic
// index key. The write replaces the previous blob whole; either the new
// ciphertext lands or the old one remains authoritative.
func (s *Store) Save(ctx context.Context, bucket string, f *Forest) error {
	dek := s.ForestDek(bucket)
	defer dek.Zero()

	blob, err := f.Encode(dek, s.cipher)
	if err != nil {
		return err
	}

	headers := blobstore.Headers{
		blobstore.HeaderForest:    "true",
		blobstore.HeaderEncrypted: "true",
	}
	if _, err := s.blobs.Put(ctx, DeriveIndexKey(dek, bucket), blob, headers); err != nil {
		return fmt.Errorf("forest: save %s: %w", bucket, err)
	}
	return nil
}

// Delete removes the forest blob for bucket. Missing is non-fatal.
func (s *Store) Delete(ctx context.Context, bucket string) error {
	dek := s.ForestDek(bucket)
	defer dek.Zero()

	err := s.blobs.Delete(ctx, DeriveIndexKey(dek, bucket))
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("forest: delete %s: %w", bucket, err)
	}
	return nil
}
