package objects

import "errors"

var (
	// ErrEmptyPlaintext indicates chunked mode was asked to encode zero
	// bytes. Whole-object mode handles empty payloads; the chunked encoder
	// refuses them (num_chunks == 0 is invalid).
	ErrEmptyPlaintext = errors.New("objects: chunked mode requires non-empty plaintext")

	// ErrMissingChunk indicates a chunk blob referenced by the index was not
	// supplied or not found.
	ErrMissingChunk = errors.New("objects: missing chunk")

	// ErrRangeOutOfBounds indicates a requested byte range outside the object.
	ErrRangeOutOfBounds = errors.New("objects: range out of bounds")

	// ErrMalformedEnvelope indicates envelope JSON that cannot be parsed or
	// is missing required fields.
	ErrMalformedEnvelope = errors.New("objects: malformed envelope")

	// ErrNotChunked indicates a chunked operation on a whole-object envelope.
	ErrNotChunked = errors.New("objects: envelope is not chunked")

	// ErrUnknownMode indicates an unrecognized obfuscation mode.
	ErrUnknownMode = errors.New("objects: unknown obfuscation mode")
)
