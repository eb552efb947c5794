// Package rotation rotates key material without touching bulk ciphertext:
// the root KEK by re-wrapping per-object DEKs, and per-subtree DEKs for
// targeted revocation of subtree shares.
package rotation

import (
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// AadSubtreeKey binds persisted subtree DEK wraps.
const AadSubtreeKey = "fula:v2:share:subtree-key"

// SubtreeKeyManager holds the DEKs of shared subtrees and resolves the one
// governing a given path by most-specific-prefix match. Shared-readable;
// registration and rotation are serialized internally.
type SubtreeKeyManager struct {
	mu       sync.RWMutex
	subtrees map[string]*crypt.DekKey
}

// NewSubtreeKeyManager creates an empty manager.
func NewSubtreeKeyManager() *SubtreeKeyManager {
	return &SubtreeKeyManager{subtrees: make(map[string]*crypt.DekKey)}
}

// Register records the DEK for a subtree prefix, wiping any replaced key.
func (m *SubtreeKeyManager) Register(prefix string, dek *crypt.DekKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.subtrees[prefix]; ok && !old.Equal(dek) {
		old.Zero()
	}
	m.subtrees[prefix] = dek
}

// Resolve returns the most specific registered prefix covering path and its
// DEK, or "" and nil when no subtree covers it.
func (m *SubtreeKeyManager) Resolve(path string) (string, *crypt.DekKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	var dek *crypt.DekKey
	for prefix, k := range m.subtrees {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best, dek = prefix, k
		}
	}
	return best, dek
}

// Dek returns the DEK registered exactly at prefix, or nil.
func (m *SubtreeKeyManager) Dek(prefix string) *crypt.DekKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subtrees[prefix]
}

// Remove drops and wipes the DEK at prefix.
func (m *SubtreeKeyManager) Remove(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dek, ok := m.subtrees[prefix]; ok {
		dek.Zero()
		delete(m.subtrees, prefix)
	}
}

// Prefixes lists the registered subtree roots.
func (m *SubtreeKeyManager) Prefixes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.subtrees))
	for p := range m.subtrees {
		out = append(out, p)
	}
	return out
}

// wrappedSubtreeKey is the persisted form of one subtree DEK.
type wrappedSubtreeKey struct {
	Prefix string              `cbor:"1,keyasint"`
	Wrap   *hpke.EncryptedData `cbor:"2,keyasint"`
}

// Export HPKE-wraps every subtree DEK for the owner so the set can persist
// inside the forest blob.
func (m *SubtreeKeyManager) Export(owner *crypt.PublicKey) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wrapped := make([]wrappedSubtreeKey, 0, len(m.subtrees))
	for prefix, dek := range m.subtrees {
		w, err := hpke.EncryptDek(owner, dek, AadSubtreeKey)
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, wrappedSubtreeKey{Prefix: prefix, Wrap: w})
	}
	return cbor.Marshal(wrapped)
}

// Import unwraps a persisted subtree key set with the owner's secret.
func (m *SubtreeKeyManager) Import(secret *crypt.SecretKey, data []byte) error {
	var wrapped []wrappedSubtreeKey
	if err := cbor.Unmarshal(data, &wrapped); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range wrapped {
		dek, err := hpke.DecryptDek(secret, w.Wrap, AadSubtreeKey)
		if err != nil {
			return err
		}
		if old, ok := m.subtrees[w.Prefix]; ok {
			old.Zero()
		}
		m.subtrees[w.Prefix] = dek
	}
	return nil
}
