package blobstore

import "errors"

var (
	// ErrNotFound indicates no blob exists under the requested key.
	ErrNotFound = errors.New("blobstore: not found")

	// ErrUnavailable indicates the store could not be reached or timed out.
	ErrUnavailable = errors.New("blobstore: unavailable")

	// ErrRateLimited indicates the store rejected the request under load.
	ErrRateLimited = errors.New("blobstore: rate limited")

	// ErrConflict indicates a write conflicted with concurrent state.
	ErrConflict = errors.New("blobstore: conflict")

	// ErrEmptyKey indicates an empty storage key.
	ErrEmptyKey = errors.New("blobstore: empty key")
)
