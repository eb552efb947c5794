// Package bucket is the per-bucket handle tying the pipeline together: it
// owns the loaded private forest, resolves logical paths to storage keys,
// and orders every mutation so the forest commit is the single transactional
// point. One handle serializes all mutating operations on its bucket;
// read-only operations may fan out. Concurrent handles on the same bucket
// from different clients are last-writer-wins on the forest blob.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/config"
	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/forest"
	"github.com/functionland/fula-storage-go/objects"
	"github.com/functionland/fula-storage-go/rotation"
	"github.com/functionland/fula-storage-go/sharing"
)

// Bucket is a loaded bucket handle.
type Bucket struct {
	Name     string
	Keys     *crypt.KeyManager
	Subtrees *rotation.SubtreeKeyManager
	Shares   *sharing.FolderShareManager

	store   blobstore.Store
	forests *forest.Store
	opts    config.Options
	cipher  crypt.Cipher
	mode    objects.ObfuscationMode
	forest  *forest.Forest
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path        string
	StorageKey  string
	Size        uint64
	ContentType string
	Chunked     bool
}

// Object is a fully read object.
type Object struct {
	Data  []byte
	Meta  *objects.PrivateMetadata
	Entry *forest.FileEntry
}

// Open validates options, loads (or initializes) the bucket's forest, and
// restores the subtree key set persisted inside it.
func Open(ctx context.Context, store blobstore.Store, keys *crypt.KeyManager, name string, opts config.Options) (*Bucket, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cipher, err := crypt.ParseCipher(opts.Aead)
	if err != nil {
		return nil, err
	}

	forests := forest.NewStore(store, keys, cipher)
	f, err := forests.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	f.SetMigrationThreshold(opts.HamtMigrationThreshold)

	b := &Bucket{
		Name:     name,
		Keys:     keys,
		Subtrees: rotation.NewSubtreeKeyManager(),
		Shares:   sharing.NewFolderShareManager(),
		store:    store,
		forests:  forests,
		opts:     opts,
		cipher:   cipher,
		mode:     objects.ObfuscationMode(opts.ObfuscationMode),
		forest:   f,
	}

	if root := f.Directories["/"]; root != nil && len(root.SubtreeKeyWrap) > 0 {
		if err := b.Subtrees.Import(keys.Keypair().Secret, root.SubtreeKeyWrap); err != nil {
			return nil, fmt.Errorf("bucket: restore subtree keys: %w", err)
		}
	}
	return b, nil
}

// Forest exposes the loaded index for read-only inspection.
func (b *Bucket) Forest() *forest.Forest { return b.forest }

// Options returns the bucket's configuration.
func (b *Bucket) Options() config.Options { return b.opts }

// normalizePath forces a leading slash.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// saveForest persists the subtree key set into the root directory entry and
// uploads the forest blob. Called last in every mutating operation.
func (b *Bucket) saveForest(ctx context.Context) error {
	root := b.forest.Directories["/"]
	if root == nil {
		root = &forest.DirectoryEntry{Path: "/"}
		b.forest.Directories["/"] = root
	}
	if len(b.Subtrees.Prefixes()) > 0 {
		wrapped, err := b.Subtrees.Export(b.Keys.PublicKey())
		if err != nil {
			return fmt.Errorf("bucket: persist subtree keys: %w", err)
		}
		root.SubtreeKeyWrap = wrapped
	} else {
		root.SubtreeKeyWrap = nil
	}
	return b.forests.Save(ctx, b.Name, b.forest)
}

// Put encrypts and stores data at a logical path. Mode selection is by
// size: payloads above the configured threshold go through the chunked
// pipeline, the rest are whole-object. Chunk blobs land before the index
// blob; the forest entry lands last, so a cancelled upload leaves at most
// orphan chunks and no dangling entry.
func (b *Bucket) Put(ctx context.Context, path string, data []byte, contentType string, userMeta map[string]string) (*ObjectInfo, error) {
	path = normalizePath(path)

	dek := crypt.GenerateDek()
	defer dek.Zero()

	meta := objects.NewPrivateMetadata(path, uint64(len(data)))
	meta.ContentType = contentType
	meta.UserMetadata = userMeta
	meta.ContentHash = crypt.HashHex(data)

	storageKey, err := objects.StorageKey(b.mode, path, dek, b.forest.Salt)
	if err != nil {
		return nil, err
	}
	chunked := len(data) > b.opts.ChunkThresholdBytes

	var env *objects.Envelope
	if chunked {
		chunks, cEnv, err := objects.EncryptChunked(b.Keys, dek, b.cipher, data, b.opts.ChunkSizeBytes, meta)
		if err != nil {
			return nil, err
		}
		env = cEnv
		for _, c := range chunks {
			if _, err := b.store.Put(ctx, objects.ChunkKey(storageKey, c.Index), c.Ciphertext, blobstore.Headers{
				blobstore.HeaderEncrypted: "true",
			}); err != nil {
				return nil, fmt.Errorf("bucket: upload chunk %d: %w", c.Index, err)
			}
		}
	} else {
		ciphertext, wEnv, err := objects.EncryptWhole(b.Keys, dek, b.cipher, data, meta)
		if err != nil {
			return nil, err
		}
		env = wEnv
		if err := b.putObjectBlob(ctx, storageKey, ciphertext, env, false, path, dek); err != nil {
			return nil, err
		}
	}

	if chunked {
		// Index blob last: a reader that finds no index treats the object
		// as absent regardless of orphan chunks.
		if err := b.putObjectBlob(ctx, storageKey, nil, env, true, path, dek); err != nil {
			return nil, err
		}
	}

	// Replacing an object leaves the old ciphertext unreferenced; drop it.
	var oldKey string
	if prev := b.forest.GetFile(path); prev != nil && prev.StorageKey != storageKey {
		oldKey = prev.StorageKey
	}

	entry := &forest.FileEntry{
		Path:         path,
		StorageKey:   storageKey,
		Size:         meta.Size,
		ContentType:  contentType,
		CreatedAt:    meta.CreatedAt,
		ModifiedAt:   meta.ModifiedAt,
		ContentHash:  meta.ContentHash,
		UserMetadata: userMeta,
	}
	if prev := b.forest.GetFile(path); prev != nil {
		entry.CreatedAt = prev.CreatedAt
	}
	b.forest.UpsertFile(entry)

	if err := b.saveForest(ctx); err != nil {
		return nil, err
	}

	if oldKey != "" {
		b.deleteBlobTree(ctx, oldKey)
	}

	return &ObjectInfo{
		Path:        path,
		StorageKey:  storageKey,
		Size:        meta.Size,
		ContentType: contentType,
		Chunked:     chunked,
	}, nil
}

// putObjectBlob writes one ciphertext (or index) blob with its envelope
// header, adding the subtree wrap when the path lives under a shared
// subtree.
func (b *Bucket) putObjectBlob(ctx context.Context, storageKey string, body []byte, env *objects.Envelope, chunked bool, path string, dek *crypt.DekKey) error {
	if _, subtreeDek := b.Subtrees.Resolve(path); subtreeDek != nil {
		wrap, err := objects.WrapDekForSubtree(dek, subtreeDek, b.cipher)
		if err != nil {
			return err
		}
		env.SubtreeWrappedKey = wrap
	}

	envJSON, err := env.Marshal()
	if err != nil {
		return err
	}
	headers := blobstore.Headers{
		blobstore.HeaderEncrypted:  "true",
		blobstore.HeaderEncryption: envJSON,
	}
	if chunked {
		headers[blobstore.HeaderChunked] = "true"
	}
	if _, err := b.store.Put(ctx, storageKey, body, headers); err != nil {
		return fmt.Errorf("bucket: upload object: %w", err)
	}
	return nil
}

// fetchEnvelope loads the blob and envelope under a storage key. A blob
// without the encrypted marker is legacy plaintext and returns a nil
// envelope.
func (b *Bucket) fetchEnvelope(ctx context.Context, storageKey string) ([]byte, *objects.Envelope, error) {
	data, headers, err := b.store.Get(ctx, storageKey)
	if err != nil {
		return nil, nil, err
	}
	if headers[blobstore.HeaderEncrypted] != "true" {
		return data, nil, nil
	}
	env, err := objects.ParseEnvelope(headers[blobstore.HeaderEncryption])
	if err != nil {
		return nil, nil, err
	}
	return data, env, nil
}

// Get reads a whole object back: resolve the path through the forest, fetch
// the blob, unwrap, decrypt, verify.
func (b *Bucket) Get(ctx context.Context, path string) (*Object, error) {
	path = normalizePath(path)
	entry := b.forest.GetFile(path)
	if entry == nil {
		return nil, forest.ErrNotFound
	}

	data, env, err := b.fetchEnvelope(ctx, entry.StorageKey)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return &Object{Data: data, Entry: entry}, nil
	}

	if env.Chunked != nil {
		return b.getChunked(ctx, entry, env)
	}

	plaintext, meta, err := objects.DecryptWhole(b.Keys, env, data)
	if err != nil {
		return nil, err
	}
	return &Object{Data: plaintext, Meta: meta, Entry: entry}, nil
}

// getChunked downloads and verifies every chunk of a chunked object.
func (b *Bucket) getChunked(ctx context.Context, entry *forest.FileEntry, env *objects.Envelope) (*Object, error) {
	dek, err := objects.UnwrapDek(b.Keys, env)
	if err != nil {
		return nil, err
	}
	defer dek.Zero()

	dec, err := objects.NewChunkedDecoder(dek, env)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, env.Chunked.TotalSize)
	for i := uint32(0); i < env.Chunked.NumChunks; i++ {
		ct, _, err := b.store.Get(ctx, objects.ChunkKey(entry.StorageKey, i))
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, fmt.Errorf("%w: chunk %d", crypt.ErrIntegrity, i)
			}
			return nil, err
		}
		pt, err := dec.DecryptChunk(i, ct)
		if err != nil {
			crypt.Zero(out)
			return nil, err
		}
		out = append(out, pt...)
	}

	var meta *objects.PrivateMetadata
	if env.PrivateMetadata != nil {
		cipher, _ := crypt.ParseCipher(env.Algorithm)
		meta, err = objects.DecryptPrivateMetadata(env.PrivateMetadata, dek, cipher)
		if err != nil {
			crypt.Zero(out)
			return nil, err
		}
	}
	return &Object{Data: out, Meta: meta, Entry: entry}, nil
}

// GetRange reads [offset, offset+length) of an object. For chunked objects
// only the covering chunks are downloaded and each is verified against the
// tree; memory cost is proportional to the chunk size, not the file.
func (b *Bucket) GetRange(ctx context.Context, path string, offset, length uint64) ([]byte, error) {
	path = normalizePath(path)
	entry := b.forest.GetFile(path)
	if entry == nil {
		return nil, forest.ErrNotFound
	}
	if length == 0 {
		return []byte{}, nil
	}

	data, env, err := b.fetchEnvelope(ctx, entry.StorageKey)
	if err != nil {
		return nil, err
	}

	if env == nil || env.Chunked == nil {
		var whole []byte
		if env == nil {
			whole = data
		} else {
			whole, _, err = objects.DecryptWhole(b.Keys, env, data)
			if err != nil {
				return nil, err
			}
		}
		if offset+length > uint64(len(whole)) {
			return nil, objects.ErrRangeOutOfBounds
		}
		return whole[offset : offset+length], nil
	}

	dek, err := objects.UnwrapDek(b.Keys, env)
	if err != nil {
		return nil, err
	}
	defer dek.Zero()

	dec, err := objects.NewChunkedDecoder(dek, env)
	if err != nil {
		return nil, err
	}
	if offset+length > env.Chunked.TotalSize {
		return nil, objects.ErrRangeOutOfBounds
	}

	indices := env.Chunked.ChunksForRange(offset, length)
	chunks := make([][]byte, 0, len(indices))
	for _, i := range indices {
		ct, _, err := b.store.Get(ctx, objects.ChunkKey(entry.StorageKey, i))
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, fmt.Errorf("%w: chunk %d", crypt.ErrIntegrity, i)
			}
			return nil, err
		}
		pt, err := dec.DecryptChunk(i, ct)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, pt)
	}
	return dec.SliceRange(chunks, indices[0], offset, length)
}

// Head returns the forest entry for a path without touching the blob store.
func (b *Bucket) Head(path string) (*forest.FileEntry, error) {
	entry := b.forest.GetFile(normalizePath(path))
	if entry == nil {
		return nil, forest.ErrNotFound
	}
	return entry, nil
}

// Delete removes a path. The forest commit happens first, so the object
// disappears logically even if blob deletion fails; blob cleanup is
// best-effort because the content-addressed store may retain bytes anyway.
func (b *Bucket) Delete(ctx context.Context, path string) error {
	path = normalizePath(path)
	entry := b.forest.RemoveFile(path)
	if entry == nil {
		return forest.ErrNotFound
	}
	if err := b.saveForest(ctx); err != nil {
		// Forest write failed: restore the in-memory entry so the handle
		// stays consistent with the persisted index.
		b.forest.UpsertFile(entry)
		return err
	}

	b.deleteBlobTree(ctx, entry.StorageKey)
	return nil
}

// deleteBlobTree drops a storage key and any chunk children. NotFound is
// non-fatal throughout.
func (b *Bucket) deleteBlobTree(ctx context.Context, storageKey string) {
	_ = b.ignoreNotFound(b.store.Delete(ctx, storageKey))

	prefix := objects.ChunkPrefix(storageKey)
	startAfter := ""
	for {
		res, err := b.store.List(ctx, prefix, startAfter, 1000, "")
		if err != nil || len(res.Keys) == 0 {
			return
		}
		for _, k := range res.Keys {
			_ = b.ignoreNotFound(b.store.Delete(ctx, k))
		}
		if res.NextToken == "" {
			return
		}
		startAfter = res.NextToken
	}
}

func (b *Bucket) ignoreNotFound(err error) error {
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil
	}
	return err
}

// List lists the direct children of prefix grouped by delimiter, in
// lexicographic order, paginated by startAfter/max. Pure index work: no
// blob-store round trips.
func (b *Bucket) List(prefix, delimiter, startAfter string, max int) *forest.Listing {
	return b.forest.ListDirectory(prefix, delimiter, startAfter, max)
}
