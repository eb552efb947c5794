package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher identifies an AEAD family.
type Cipher string

const (
	// Aes256Gcm is AES-256 in Galois/Counter Mode (the default).
	Aes256Gcm Cipher = "AES-256-GCM"

	// ChaCha20Poly1305 is the IETF ChaCha20-Poly1305 construction.
	ChaCha20Poly1305 Cipher = "ChaCha20-Poly1305"
)

// ParseCipher maps a configuration string to a Cipher.
func ParseCipher(s string) (Cipher, error) {
	switch s {
	case "aes-256-gcm", string(Aes256Gcm):
		return Aes256Gcm, nil
	case "chacha20-poly1305", string(ChaCha20Poly1305):
		return ChaCha20Poly1305, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCipher, s)
}

// TagSize returns the authentication tag length for the cipher.
func (c Cipher) TagSize() int { return 16 }

// NewNonce draws a fresh random 12-byte nonce. Nonces are never reused under
// the same key; chunked mode draws one per chunk.
func NewNonce() []byte {
	return RandomBytes(NonceSize)
}

// NonceFromBytes validates and copies a 12-byte nonce.
func NonceFromBytes(b []byte) ([]byte, error) {
	if len(b) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrInvalidNonce, NonceSize, len(b))
	}
	n := make([]byte, NonceSize)
	copy(n, b)
	return n, nil
}

// Aead is an AEAD instance bound to a DEK and a cipher choice.
type Aead struct {
	aead   cipher.AEAD
	cipher Cipher
}

// NewAead builds an AEAD for the given key and cipher.
func NewAead(key *DekKey, c Cipher) (*Aead, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	switch c {
	case Aes256Gcm:
		block, err := aes.NewCipher(key.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return &Aead{aead: gcm, cipher: c}, nil
	case ChaCha20Poly1305:
		ae, err := chacha20poly1305.New(key.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return &Aead{aead: ae, cipher: c}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, c)
}

// Cipher returns the cipher this AEAD was built with.
func (a *Aead) Cipher() Cipher { return a.cipher }

// Seal encrypts plaintext under nonce with optional AAD. The AAD is
// authenticated but not encrypted.
func (a *Aead) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrInvalidNonce, NonceSize, len(nonce))
	}
	return a.aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts ciphertext under nonce and AAD. Any mismatch of key, nonce,
// ciphertext, tag, or AAD returns ErrAuthenticationFailed; the cases are not
// distinguished.
func (a *Aead) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrInvalidNonce, NonceSize, len(nonce))
	}
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
