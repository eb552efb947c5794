package blobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds each Store implementation against a fresh backend.
func storeFactories(t *testing.T) map[string]Store {
	t.Helper()

	bolt, err := OpenBoltStore(filepath.Join(t.TempDir(), "blobs", "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"mem":  NewMemStore(),
		"bolt": bolt,
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cid, err := store.Put(ctx, "Qmabc", []byte("ciphertext"), Headers{HeaderEncrypted: "true"})
			require.NoError(t, err)
			assert.NotEmpty(t, cid)

			data, headers, err := store.Get(ctx, "Qmabc")
			require.NoError(t, err)
			assert.Equal(t, []byte("ciphertext"), data)
			assert.Equal(t, "true", headers[HeaderEncrypted])
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := store.Get(context.Background(), "Qmnope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHead(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Put(ctx, "k1", []byte("v"), Headers{HeaderForest: "true"})
			require.NoError(t, err)

			headers, err := store.Head(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, "true", headers[HeaderForest])

			_, err = store.Head(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Put(ctx, "k1", []byte("v"), nil)
			require.NoError(t, err)

			require.NoError(t, store.Delete(ctx, "k1"))
			_, _, err = store.Get(ctx, "k1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, store.Delete(ctx, "k1"), ErrNotFound)
		})
	}
}

func TestPutEmptyKey(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Put(context.Background(), "", []byte("v"), nil)
			assert.ErrorIs(t, err, ErrEmptyKey)
		})
	}
}

func TestPutOverwrite(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Put(ctx, "k", []byte("old"), Headers{"a": "1"})
			require.NoError(t, err)
			_, err = store.Put(ctx, "k", []byte("new"), Headers{"b": "2"})
			require.NoError(t, err)

			data, headers, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), data)
			assert.Equal(t, "2", headers["b"])
			assert.Empty(t, headers["a"])
		})
	}
}

func TestListPrefixAndOrder(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"a/2", "a/1", "b/1", "a/3"} {
				_, err := store.Put(ctx, k, []byte("v"), nil)
				require.NoError(t, err)
			}

			res, err := store.List(ctx, "a/", "", 10, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/1", "a/2", "a/3"}, res.Keys)
			assert.Empty(t, res.NextToken)
		})
	}
}

func TestListDelimiter(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"root/file1", "root/dir1/x", "root/dir1/y", "root/dir2/z"} {
				_, err := store.Put(ctx, k, []byte("v"), nil)
				require.NoError(t, err)
			}

			res, err := store.List(ctx, "root/", "", 10, "/")
			require.NoError(t, err)
			assert.Equal(t, []string{"root/file1"}, res.Keys)
			assert.Equal(t, []string{"root/dir1/", "root/dir2/"}, res.CommonPrefixes)
		})
	}
}

func TestListPagination(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			keys := []string{"p/a", "p/b", "p/c", "p/d", "p/e"}
			for _, k := range keys {
				_, err := store.Put(ctx, k, []byte("v"), nil)
				require.NoError(t, err)
			}

			var got []string
			startAfter := ""
			for {
				res, err := store.List(ctx, "p/", startAfter, 2, "")
				require.NoError(t, err)
				got = append(got, res.Keys...)
				if res.NextToken == "" {
					break
				}
				startAfter = res.NextToken
			}
			assert.Equal(t, keys, got)
		})
	}
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	_, err = store.Put(ctx, "persistent", []byte("survives"), Headers{"h": "v"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	data, headers, err := reopened.Get(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), data)
	assert.Equal(t, "v", headers["h"])
}
