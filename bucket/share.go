package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/forest"
	"github.com/functionland/fula-storage-go/objects"
	"github.com/functionland/fula-storage-go/sharing"
)

// ShareObject issues a share token for one object. A snapshot share is
// pinned to the content currently at the path; a temporal share follows
// whatever is latest. The wrapped key is the object's own DEK.
func (b *Bucket) ShareObject(ctx context.Context, path string, recipient *crypt.PublicKey, perms sharing.Permissions, expiresIn time.Duration, snapshot bool) (*sharing.ShareToken, error) {
	path = normalizePath(path)
	entry := b.forest.GetFile(path)
	if entry == nil {
		return nil, forest.ErrNotFound
	}

	_, env, err := b.fetchEnvelope(ctx, entry.StorageKey)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("bucket: cannot share legacy plaintext object %s", path)
	}

	dek, err := objects.UnwrapDek(b.Keys, env)
	if err != nil {
		return nil, err
	}
	defer dek.Zero()

	builder := sharing.NewBuilder(recipient, dek).
		PathScope(path).
		Permissions(perms).
		ExpiresIn(expiresIn)
	if snapshot {
		builder.Snapshot(sharing.SnapshotBinding{
			ContentHash: entry.ContentHash,
			Size:        entry.Size,
			ModifiedAt:  entry.ModifiedAt,
		})
	} else {
		builder.Temporal()
	}
	token, err := builder.Build()
	if err != nil {
		return nil, err
	}
	b.Shares.TrackShare(token)
	return token, nil
}

// RevokeShare forgets a token issued by this handle. Subsequent ReadShared
// calls presenting it are rejected. Copies already delivered can still be
// parsed elsewhere; cryptographic revocation requires rotating the affected
// subtree.
func (b *Bucket) RevokeShare(shareIDHex string) bool {
	return b.Shares.Revoke(shareIDHex)
}

// EnsureSubtree registers a DEK for a subtree prefix, back-filling the
// subtree wrap into every existing descendant envelope so recipients of a
// subtree share can open them. Idempotent when a DEK already exists.
func (b *Bucket) EnsureSubtree(ctx context.Context, prefix string) (*crypt.DekKey, error) {
	prefix = normalizePath(prefix)
	if dek := b.Subtrees.Dek(prefix); dek != nil {
		return dek, nil
	}

	dek := crypt.GenerateDek()
	for _, path := range b.forest.SortedPaths(prefix) {
		entry := b.forest.GetFile(path)
		data, headers, err := b.store.Get(ctx, entry.StorageKey)
		if err != nil {
			return nil, err
		}
		raw, ok := headers[blobstore.HeaderEncryption]
		if !ok {
			continue // legacy plaintext, nothing to wrap
		}
		env, err := objects.ParseEnvelope(raw)
		if err != nil {
			return nil, err
		}

		objectDek, err := objects.UnwrapDek(b.Keys, env)
		if err != nil {
			return nil, err
		}
		wrap, err := objects.WrapDekForSubtree(objectDek, dek, b.cipher)
		objectDek.Zero()
		if err != nil {
			return nil, err
		}
		env.SubtreeWrappedKey = wrap

		envJSON, err := env.Marshal()
		if err != nil {
			return nil, err
		}
		headers = headers.Clone()
		headers[blobstore.HeaderEncryption] = envJSON
		if _, err := b.store.Put(ctx, entry.StorageKey, data, headers); err != nil {
			return nil, fmt.Errorf("bucket: backfill subtree wrap for %s: %w", path, err)
		}
	}

	b.Subtrees.Register(prefix, dek)
	if err := b.saveForest(ctx); err != nil {
		return nil, err
	}
	return dek, nil
}

// ShareSubtree issues a share token wrapping the subtree DEK for a prefix.
// Recipients see every descendant under the prefix until the subtree is
// rotated.
func (b *Bucket) ShareSubtree(ctx context.Context, prefix string, recipient *crypt.PublicKey, perms sharing.Permissions, expiresIn time.Duration) (*sharing.ShareToken, error) {
	prefix = normalizePath(prefix)
	dek, err := b.EnsureSubtree(ctx, prefix)
	if err != nil {
		return nil, err
	}
	token, err := sharing.NewBuilder(recipient, dek).
		PathScope(prefix).
		Permissions(perms).
		ExpiresIn(expiresIn).
		Temporal().
		Build()
	if err != nil {
		return nil, err
	}
	b.Shares.TrackShare(token)
	return token, nil
}

// ReadShared reads an object on behalf of an accepted share: scope and
// permission are enforced, snapshot bindings are verified against the
// current entry, and the content is decrypted with the share's DEK. The
// share DEK is either the object DEK (object shares) or the subtree DEK
// (subtree shares, resolved through the envelope's subtree wrap).
func (b *Bucket) ReadShared(ctx context.Context, accepted *sharing.AcceptedShare, path string) ([]byte, error) {
	path = normalizePath(path)
	switch b.Shares.ValidateAccepted(accepted, path, time.Now()) {
	case sharing.AccessExpired:
		return nil, sharing.ErrShareExpired
	case sharing.AccessRevoked:
		return nil, sharing.ErrShareRevoked
	case sharing.AccessOutOfScope:
		return nil, sharing.ErrShareScopeMismatch
	}
	if err := accepted.Authorize(path, sharing.OpRead); err != nil {
		return nil, err
	}
	entry := b.forest.GetFile(path)
	if err := accepted.VerifySnapshot(entry); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, forest.ErrNotFound
	}

	data, env, err := b.fetchEnvelope(ctx, entry.StorageKey)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return data, nil
	}

	dek, cleanup, err := b.resolveSharedDek(accepted.Dek, env)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if env.Chunked != nil {
		obj, err := b.decryptChunkedWithDek(ctx, entry, env, dek)
		if err != nil {
			return nil, err
		}
		return obj, nil
	}

	plaintext, _, err := objects.DecryptWholeWithDek(dek, env, data)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// resolveSharedDek figures out whether the share DEK opens the object
// directly or through the envelope's subtree wrap.
func (b *Bucket) resolveSharedDek(shareDek *crypt.DekKey, env *objects.Envelope) (*crypt.DekKey, func(), error) {
	if env.SubtreeWrappedKey != nil {
		if objectDek, err := objects.UnwrapDekWithSubtree(env.SubtreeWrappedKey, shareDek, b.cipher); err == nil {
			return objectDek, func() { objectDek.Zero() }, nil
		}
	}
	// Not a subtree wrap (or not ours): the share carries the object DEK.
	return shareDek, func() {}, nil
}

// decryptChunkedWithDek downloads and verifies all chunks with a known DEK.
func (b *Bucket) decryptChunkedWithDek(ctx context.Context, entry *forest.FileEntry, env *objects.Envelope, dek *crypt.DekKey) ([]byte, error) {
	dec, err := objects.NewChunkedDecoder(dek, env)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, env.Chunked.TotalSize)
	for i := uint32(0); i < env.Chunked.NumChunks; i++ {
		ct, _, err := b.store.Get(ctx, objects.ChunkKey(entry.StorageKey, i))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d", crypt.ErrIntegrity, i)
		}
		pt, err := dec.DecryptChunk(i, ct)
		if err != nil {
			crypt.Zero(out)
			return nil, err
		}
		out = append(out, pt...)
	}
	return out, nil
}
