package crypt

import (
	"fmt"
	"sync"
	"time"
)

// PathKeyContext is the BLAKE3 derive-key domain for path-derived keys.
// Path keys obfuscate storage keys and locate the forest index; they never
// encrypt bulk content.
const PathKeyContext = "fula-path-key-v1"

// KeyManager owns the user's root KEK keypair and hands out DEKs and
// path-derived keys. Shared-readable across tasks; Rotate and DiscardPrevious
// require exclusive access and are serialized internally.
type KeyManager struct {
	mu        sync.RWMutex
	current   *KekKeyPair
	previous  *KekKeyPair
	rotatedAt time.Time
}

// NewKeyManager generates a fresh root keypair at version 1.
func NewKeyManager() (*KeyManager, error) {
	kp, err := GenerateKekKeyPair(1)
	if err != nil {
		return nil, err
	}
	return &KeyManager{current: kp}, nil
}

// KeyManagerFromSecret rebuilds a manager from a backed-up 32-byte root secret.
func KeyManagerFromSecret(secret []byte) (*KeyManager, error) {
	kp, err := KekKeyPairFromSecret(secret, 1)
	if err != nil {
		return nil, err
	}
	return &KeyManager{current: kp}, nil
}

// PublicKey returns the current public key.
func (m *KeyManager) PublicKey() *PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Public
}

// Keypair returns the current keypair.
func (m *KeyManager) Keypair() *KekKeyPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CurrentVersion returns the version of the current keypair.
func (m *KeyManager) CurrentVersion() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Version
}

// PreviousKeypair returns the retained previous-generation keypair, or nil.
func (m *KeyManager) PreviousKeypair() *KekKeyPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous
}

// KeypairForVersion resolves the keypair holding the given version: the
// current one, or the retained previous one during a rotation window.
func (m *KeyManager) KeypairForVersion(version uint32) (*KekKeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.Version == version {
		return m.current, nil
	}
	if m.previous != nil && m.previous.Version == version {
		return m.previous, nil
	}
	if m.previous == nil && version < m.current.Version {
		return nil, ErrNoPreviousKeypair
	}
	return nil, fmt.Errorf("%w: no keypair for version %d", ErrInvalidKey, version)
}

// GenerateDek draws a fresh random DEK. DEKs are never derived from paths or
// the root secret.
func (m *KeyManager) GenerateDek() *DekKey {
	return GenerateDek()
}

// DerivePathKey deterministically derives a 32-byte key from the current
// root secret, a label, and a logical path. Stable across processes for the
// same root.
func (m *KeyManager) DerivePathKey(label, path string) [KeySize]byte {
	m.mu.RLock()
	secret := m.current.Secret
	m.mu.RUnlock()
	return DerivePathKeyFrom(secret, label, path)
}

// DerivePathKeyFrom derives a path key from an explicit root secret. Used to
// resolve keys of the previous generation during a rotation window.
func DerivePathKeyFrom(secret *SecretKey, label, path string) [KeySize]byte {
	raw := secret.Bytes()
	ikm := make([]byte, 0, len(raw)+len(label)+len(path))
	ikm = append(ikm, raw...)
	ikm = append(ikm, label...)
	ikm = append(ikm, path...)
	out := DeriveKey(PathKeyContext, ikm)
	Zero(ikm)
	return out
}

// Rotate generates a new keypair, moves the current one to the previous slot,
// and bumps the version. Any keypair already in the previous slot is wiped.
func (m *KeyManager) Rotate() (*KekKeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := GenerateKekKeyPair(m.current.Version + 1)
	if err != nil {
		return nil, err
	}
	if m.previous != nil {
		m.previous.Zero()
	}
	m.previous = m.current
	m.current = next
	m.rotatedAt = time.Now()
	return next, nil
}

// PreviousExpired reports whether the retention window for the previous
// keypair has elapsed since the last rotation. Callers decide when to pair
// this with DiscardPrevious; the manager never drops the keypair on its own.
func (m *KeyManager) PreviousExpired(window time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.previous == nil {
		return false
	}
	return time.Since(m.rotatedAt) >= window
}

// DiscardPrevious wipes and drops the retained previous keypair. Call after a
// rotation report shows zero skipped envelopes, or when the retention window
// ends.
func (m *KeyManager) DiscardPrevious() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous != nil {
		m.previous.Zero()
		m.previous = nil
	}
}
