package crypt

import "errors"

var (
	// ErrInvalidKey indicates a key has the wrong length or is otherwise malformed.
	ErrInvalidKey = errors.New("crypt: invalid key")

	// ErrInvalidNonce indicates a nonce has the wrong length.
	ErrInvalidNonce = errors.New("crypt: invalid nonce")

	// ErrAuthenticationFailed indicates AEAD authentication failed.
	// Tag mismatch, wrong key, wrong nonce, and AAD mismatch are deliberately
	// indistinguishable.
	ErrAuthenticationFailed = errors.New("crypt: authentication failed")

	// ErrUnsupportedVersion indicates an envelope or record version this
	// implementation does not know.
	ErrUnsupportedVersion = errors.New("crypt: unsupported version")

	// ErrUnsupportedCipher indicates an unknown AEAD algorithm identifier.
	ErrUnsupportedCipher = errors.New("crypt: unsupported cipher")

	// ErrIntegrity indicates verified-streaming or content-hash verification
	// failed. The data is corrupt or tampered.
	ErrIntegrity = errors.New("crypt: integrity check failed")

	// ErrNoPreviousKeypair indicates a legacy unwrap was requested but no
	// previous-generation keypair is retained.
	ErrNoPreviousKeypair = errors.New("crypt: no previous keypair retained")
)
