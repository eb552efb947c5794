package hpke

import "errors"

var (
	// ErrEmptyAad indicates a wrap or unwrap was attempted without a binding
	// AAD. Every wrap must bind a non-empty domain-separated context.
	ErrEmptyAad = errors.New("hpke: empty aad context")

	// ErrOpenFailed indicates decryption failed: wrong secret, wrong AAD, or
	// tampered ciphertext/encapsulated key. The cases are indistinguishable.
	ErrOpenFailed = errors.New("hpke: open failed")

	// ErrInvalidRecipient indicates a nil or malformed recipient key.
	ErrInvalidRecipient = errors.New("hpke: invalid recipient key")
)
