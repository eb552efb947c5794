package blobstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/functionland/fula-storage-go/crypt"
)

var (
	bucketBlobs   = []byte("blobs")
	bucketHeaders = []byte("headers")
)

// BoltStore is a Store backed by a local bbolt database. It serves offline
// and single-node deployments; blobs and their header maps live in separate
// buckets under the same key.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the bbolt database at dbPath. The parent
// directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("blobstore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlobs, bucketHeaders} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blobstore: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

func encodeHeaders(h Headers) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]string(h)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHeaders(data []byte) (Headers, error) {
	if len(data) == 0 {
		return Headers{}, nil
	}
	var m map[string]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return Headers(m), nil
}

// Put stores data and headers under key.
func (s *BoltStore) Put(ctx context.Context, key string, data []byte, headers Headers) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrUnavailable
	}
	if key == "" {
		return "", ErrEmptyKey
	}

	hdrBytes, err := encodeHeaders(headers)
	if err != nil {
		return "", fmt.Errorf("blobstore: encode headers: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket(bucketHeaders).Put([]byte(key), hdrBytes)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return "baf" + crypt.HashHex(data)[:40], nil
}

// Get returns the blob and headers under key.
func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, Headers, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, ErrUnavailable
	}

	var data []byte
	var headers Headers
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)

		h, err := decodeHeaders(tx.Bucket(bucketHeaders).Get([]byte(key)))
		if err != nil {
			return fmt.Errorf("decode headers: %w", err)
		}
		headers = h
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, headers, nil
}

// Head returns only the headers under key.
func (s *BoltStore) Head(ctx context.Context, key string) (Headers, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}

	var headers Headers
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketBlobs).Get([]byte(key)) == nil {
			return ErrNotFound
		}
		h, err := decodeHeaders(tx.Bucket(bucketHeaders).Get([]byte(key)))
		if err != nil {
			return fmt.Errorf("decode headers: %w", err)
		}
		headers = h
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return headers, nil
}

// Delete removes the blob and headers under key.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketBlobs).Get([]byte(key)) == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketBlobs).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketHeaders).Delete([]byte(key))
	})
	if err == ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// List returns keys under prefix in lexicographic order with optional
// delimiter grouping and pagination.
func (s *BoltStore) List(ctx context.Context, prefix, startAfter string, max int, delimiter string) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	if max <= 0 {
		max = 1000
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBlobs).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sort.Strings(keys)

	return paginate(keys, prefix, startAfter, max, delimiter), nil
}
