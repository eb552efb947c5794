package forest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/crypt"
)

func TestCodecRoundtrip(t *testing.T) {
	f := New()
	f.UpsertFile(testEntry("/secret/file.txt", 500))
	dek := crypt.GenerateDek()

	blob, err := f.Encode(dek, crypt.Aes256Gcm)
	require.NoError(t, err)
	assert.Equal(t, byte(FlatMapV1), blob[0])

	decoded, err := Decode(blob, dek, crypt.Aes256Gcm)
	require.NoError(t, err)

	got := decoded.GetFile("/secret/file.txt")
	require.NotNil(t, got)
	assert.Equal(t, uint64(500), got.Size)
	assert.Equal(t, f.Salt, decoded.Salt)
}

func TestCodecHamtRoundtrip(t *testing.T) {
	f := New()
	f.SetMigrationThreshold(10)
	for i := 0; i < 25; i++ {
		f.UpsertFile(testEntry(fmt.Sprintf("/f/%d", i), uint64(i)))
	}
	require.Equal(t, HamtV2, f.Format)

	dek := crypt.GenerateDek()
	blob, err := f.Encode(dek, crypt.ChaCha20Poly1305)
	require.NoError(t, err)
	assert.Equal(t, byte(HamtV2), blob[0])

	decoded, err := Decode(blob, dek, crypt.ChaCha20Poly1305)
	require.NoError(t, err)
	assert.Equal(t, HamtV2, decoded.Format)
	assert.Equal(t, 25, decoded.Count())
	require.NotNil(t, decoded.GetFile("/f/13"))
}

func TestDecodeWrongDek(t *testing.T) {
	f := New()
	blob, err := f.Encode(crypt.GenerateDek(), crypt.Aes256Gcm)
	require.NoError(t, err)

	_, err = Decode(blob, crypt.GenerateDek(), crypt.Aes256Gcm)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeTampered(t *testing.T) {
	f := New()
	f.UpsertFile(testEntry("/x", 1))
	dek := crypt.GenerateDek()

	blob, err := f.Encode(dek, crypt.Aes256Gcm)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01

	_, err = Decode(blob, dek, crypt.Aes256Gcm)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeUnknownDiscriminator(t *testing.T) {
	blob := make([]byte, 40)
	blob[0] = 99
	_, err := Decode(blob, crypt.GenerateDek(), crypt.Aes256Gcm)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode([]byte{1, 2}, crypt.GenerateDek(), crypt.Aes256Gcm)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func newTestStore(t *testing.T) (*Store, *blobstore.MemStore, *crypt.KeyManager) {
	t.Helper()
	km, err := crypt.NewKeyManager()
	require.NoError(t, err)
	blobs := blobstore.NewMemStore()
	return NewStore(blobs, km, crypt.Aes256Gcm), blobs, km
}

func TestStoreLoadMissingIsEmpty(t *testing.T) {
	store, _, _ := newTestStore(t)

	f, err := store.Load(context.Background(), "fresh-bucket")
	require.NoError(t, err)
	assert.Equal(t, 0, f.Count())
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	store, blobs, _ := newTestStore(t)
	ctx := context.Background()

	f := New()
	f.UpsertFile(testEntry("/notes/hello.txt", 13))
	require.NoError(t, store.Save(ctx, "alpha", f))

	// The blob carries the forest marker and an opaque key.
	key := store.IndexKey("alpha")
	_, headers, err := blobs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "true", headers[blobstore.HeaderForest])

	loaded, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, loaded.GetFile("/notes/hello.txt"))
}

func TestStoreIndexKeyStableAcrossRestore(t *testing.T) {
	store, blobs, km := newTestStore(t)

	backup := make([]byte, crypt.KeySize)
	copy(backup, km.Keypair().Secret.Bytes())
	km2, err := crypt.KeyManagerFromSecret(backup)
	require.NoError(t, err)
	store2 := NewStore(blobs, km2, crypt.Aes256Gcm)

	assert.Equal(t, store.IndexKey("alpha"), store2.IndexKey("alpha"))
}

func TestStoreCorruptBlobRefused(t *testing.T) {
	store, blobs, _ := newTestStore(t)
	ctx := context.Background()

	f := New()
	require.NoError(t, store.Save(ctx, "alpha", f))

	key := store.IndexKey("alpha")
	blob, headers, err := blobs.Get(ctx, key)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01
	_, err = blobs.Put(ctx, key, blob, headers)
	require.NoError(t, err)

	_, err = store.Load(ctx, "alpha")
	assert.ErrorIs(t, err, ErrCorrupt)
}
