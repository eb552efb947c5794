package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the length of all symmetric keys and X25519 scalars/points.
	KeySize = 32

	// NonceSize is the AEAD nonce length (96 bits for AES-GCM and
	// ChaCha20-Poly1305).
	NonceSize = 12
)

// Zero overwrites b with zeros. Used to wipe key material before release.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RandomBytes fills a fresh slice of n bytes from the cryptographic RNG.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypt: rand: %s", err))
	}
	return b
}

// DekKey is a per-object Data Encryption Key.
// DEKs are drawn fresh from the RNG, never derived from paths or the root
// secret, and are wiped via Zero when the owning operation returns.
type DekKey struct {
	key [KeySize]byte
}

// GenerateDek draws a fresh random DEK.
func GenerateDek() *DekKey {
	var d DekKey
	copy(d.key[:], RandomBytes(KeySize))
	return &d
}

// DekFromBytes builds a DEK from an existing 32-byte secret.
func DekFromBytes(b []byte) (*DekKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: DEK must be %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	var d DekKey
	copy(d.key[:], b)
	return &d, nil
}

// Bytes returns the raw key. The slice aliases the DEK's backing array;
// callers must not retain it past the DEK's lifetime.
func (d *DekKey) Bytes() []byte { return d.key[:] }

// Zero wipes the key material.
func (d *DekKey) Zero() { Zero(d.key[:]) }

// Equal reports whether two DEKs hold the same key bytes.
func (d *DekKey) Equal(o *DekKey) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.key == o.key
}

// SecretKey is an X25519 scalar. It is held only in client memory, never
// serialized in clear, and wiped via Zero.
type SecretKey struct {
	bytes [KeySize]byte
}

// GenerateSecretKey draws a fresh random X25519 secret.
func GenerateSecretKey() *SecretKey {
	var s SecretKey
	copy(s.bytes[:], RandomBytes(KeySize))
	return &s
}

// SecretKeyFromBytes builds a secret key from an existing 32-byte scalar.
func SecretKeyFromBytes(b []byte) (*SecretKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: secret key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	var s SecretKey
	copy(s.bytes[:], b)
	return &s, nil
}

// Bytes returns the raw scalar. The slice aliases the key's backing array.
func (s *SecretKey) Bytes() []byte { return s.bytes[:] }

// Zero wipes the scalar.
func (s *SecretKey) Zero() { Zero(s.bytes[:]) }

// Public derives the X25519 public key for this secret.
func (s *SecretKey) Public() (*PublicKey, error) {
	point, err := curve25519.X25519(s.bytes[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return PublicKeyFromBytes(point)
}

// PublicKey is an X25519 point. Publishable; the recipient of HPKE wraps.
type PublicKey struct {
	bytes [KeySize]byte
}

// PublicKeyFromBytes builds a public key from a 32-byte point.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	var p PublicKey
	copy(p.bytes[:], b)
	return &p, nil
}

// PublicKeyFromBase64 decodes a standard-base64 public key.
func PublicKeyFromBase64(s string) (*PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return PublicKeyFromBytes(b)
}

// Bytes returns the raw point.
func (p *PublicKey) Bytes() []byte { return p.bytes[:] }

// Base64 encodes the point as standard base64.
func (p *PublicKey) Base64() string { return base64.StdEncoding.EncodeToString(p.bytes[:]) }

// Equal reports whether two public keys are the same point.
func (p *PublicKey) Equal(o *PublicKey) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.bytes == o.bytes
}

// KekKeyPair is a versioned Key Encryption Key pair: the user's root identity.
// Version advances on rotation; the previous generation is retained by the
// KeyManager during the rotation window to unwrap legacy DEKs.
type KekKeyPair struct {
	Secret  *SecretKey
	Public  *PublicKey
	Version uint32
}

// GenerateKekKeyPair creates a fresh keypair at the given version.
func GenerateKekKeyPair(version uint32) (*KekKeyPair, error) {
	secret := GenerateSecretKey()
	public, err := secret.Public()
	if err != nil {
		secret.Zero()
		return nil, err
	}
	return &KekKeyPair{Secret: secret, Public: public, Version: version}, nil
}

// KekKeyPairFromSecret rebuilds a keypair from a backed-up 32-byte secret.
func KekKeyPairFromSecret(b []byte, version uint32) (*KekKeyPair, error) {
	secret, err := SecretKeyFromBytes(b)
	if err != nil {
		return nil, err
	}
	public, err := secret.Public()
	if err != nil {
		secret.Zero()
		return nil, err
	}
	return &KekKeyPair{Secret: secret, Public: public, Version: version}, nil
}

// Zero wipes the secret half of the pair.
func (kp *KekKeyPair) Zero() {
	if kp != nil && kp.Secret != nil {
		kp.Secret.Zero()
	}
}
