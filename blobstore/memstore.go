package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/functionland/fula-storage-go/crypt"
)

// MemStore is an in-memory Store used by tests and by callers that stage
// writes before flushing to a remote store.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
}

type memBlob struct {
	data    []byte
	headers Headers
	cid     string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string]memBlob)}
}

// Put stores a copy of data and headers under key.
func (s *MemStore) Put(ctx context.Context, key string, data []byte, headers Headers) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrUnavailable
	}
	if key == "" {
		return "", ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	cid := "baf" + crypt.HashHex(data)[:40]
	s.blobs[key] = memBlob{data: cp, headers: headers.Clone(), cid: cid}
	return cid, nil
}

// Get returns a copy of the blob under key.
func (s *MemStore) Get(ctx context.Context, key string) ([]byte, Headers, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, ErrUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp, b.headers.Clone(), nil
}

// Head returns the headers stored under key.
func (s *MemStore) Head(ctx context.Context, key string) (Headers, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b.headers.Clone(), nil
}

// Delete removes the blob under key.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}

// List returns keys under prefix in lexicographic order with optional
// delimiter grouping and pagination.
func (s *MemStore) List(ctx context.Context, prefix, startAfter string, max int, delimiter string) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	if max <= 0 {
		max = 1000
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	return paginate(keys, prefix, startAfter, max, delimiter), nil
}

// Len returns the number of stored blobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// paginate applies the S3-style delimiter/start-after/max contract to a
// sorted key list. Shared by MemStore and BoltStore.
func paginate(sorted []string, prefix, startAfter string, max int, delimiter string) *ListResult {
	res := &ListResult{}
	seenPrefix := make(map[string]bool)

	var last string
	for _, k := range sorted {
		if startAfter != "" && k <= startAfter {
			continue
		}

		entry := k
		isPrefix := false
		if delimiter != "" {
			rest := k[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				entry = prefix + rest[:idx+len(delimiter)]
				isPrefix = true
			}
		}

		if isPrefix {
			if seenPrefix[entry] {
				continue
			}
			seenPrefix[entry] = true
		}

		if len(res.Keys)+len(res.CommonPrefixes) >= max {
			res.NextToken = last
			return res
		}
		if isPrefix {
			res.CommonPrefixes = append(res.CommonPrefixes, entry)
		} else {
			res.Keys = append(res.Keys, entry)
		}
		last = k
	}
	return res
}
