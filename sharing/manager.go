package sharing

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/functionland/fula-storage-go/crypt"
)

// AccessValidation is the outcome of checking a token against the issuer's
// share records.
type AccessValidation int

const (
	// AccessValid means the token passed every issuer-side check.
	AccessValid AccessValidation = iota

	// AccessExpired means the token's expiry has passed.
	AccessExpired

	// AccessRevoked means the issuer no longer recognizes the token.
	AccessRevoked

	// AccessOutOfScope means the requested path is outside the token's scope.
	AccessOutOfScope
)

// String renders the validation outcome for diagnostics.
func (v AccessValidation) String() string {
	switch v {
	case AccessValid:
		return "valid"
	case AccessExpired:
		return "expired"
	case AccessRevoked:
		return "revoked"
	case AccessOutOfScope:
		return "out of scope"
	}
	return "unknown"
}

// FolderShareManager tracks per-folder DEKs and the shares issued against
// them. Sharing a folder hands out its subtree DEK; rotating that DEK (see
// the rotation package) invalidates every outstanding share at once.
type FolderShareManager struct {
	mu      sync.Mutex
	folders map[string]*crypt.DekKey
	shares  map[string][]*ShareToken // folder path -> issued tokens
}

// NewFolderShareManager creates an empty manager.
func NewFolderShareManager() *FolderShareManager {
	return &FolderShareManager{
		folders: make(map[string]*crypt.DekKey),
		shares:  make(map[string][]*ShareToken),
	}
}

// RegisterFolder records the DEK for a folder path. Replacing a DEK (after
// subtree rotation) wipes the old one and forgets issued shares, which can
// no longer verify anyway.
func (m *FolderShareManager) RegisterFolder(path string, dek *crypt.DekKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.folders[path]; ok && !old.Equal(dek) {
		old.Zero()
		delete(m.shares, path)
	}
	m.folders[path] = dek
}

// FolderDek returns the registered DEK for a folder, or nil.
func (m *FolderShareManager) FolderDek(path string) *crypt.DekKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders[path]
}

// CreateShare issues a share of the folder's DEK for a recipient.
func (m *FolderShareManager) CreateShare(folder string, recipient *crypt.PublicKey, perms Permissions, expiresIn time.Duration) (*ShareToken, error) {
	m.mu.Lock()
	dek := m.folders[folder]
	m.mu.Unlock()
	if dek == nil {
		return nil, ErrUnknownFolder
	}

	token, err := NewBuilder(recipient, dek).
		PathScope(folder).
		Permissions(perms).
		ExpiresIn(expiresIn).
		Temporal().
		Build()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.shares[folder] = append(m.shares[folder], token)
	m.mu.Unlock()
	return token, nil
}

// TrackShare records a token built elsewhere (e.g. by a bucket handle) so
// it participates in revocation checks. The token is tracked under its own
// path scope.
func (m *FolderShareManager) TrackShare(token *ShareToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[token.PathScope] = append(m.shares[token.PathScope], token)
}

// ValidateAccess checks a token against the manager's records: expiry first,
// then whether the issuer still recognizes it, then path scope. A token
// whose scope this manager has never tracked is outside its jurisdiction and
// passes as valid; the cryptographic checks still apply downstream.
func (m *FolderShareManager) ValidateAccess(token *ShareToken, path string) AccessValidation {
	return m.validateAt(hex.EncodeToString(token.ShareID), token.PathScope, token.ExpiresAt, path, time.Now())
}

// ValidateAccepted is ValidateAccess for an already-accepted share, with an
// explicit clock.
func (m *FolderShareManager) ValidateAccepted(accepted *AcceptedShare, path string, now time.Time) AccessValidation {
	return m.validateAt(hex.EncodeToString(accepted.ShareID), accepted.PathScope, accepted.ExpiresAt, path, now)
}

func (m *FolderShareManager) validateAt(shareIDHex, scope string, expiresAt int64, path string, now time.Time) AccessValidation {
	if now.Unix() >= expiresAt {
		return AccessExpired
	}

	m.mu.Lock()
	_, scopeTracked := m.shares[scope]
	issued := false
	if scopeTracked {
		for _, t := range m.shares[scope] {
			if t.ShareIDHex() == shareIDHex {
				issued = true
				break
			}
		}
	}
	_, folderKnown := m.folders[scope]
	m.mu.Unlock()

	if (scopeTracked || folderKnown) && !issued {
		return AccessRevoked
	}
	if len(path) < len(scope) || path[:len(scope)] != scope {
		return AccessOutOfScope
	}
	return AccessValid
}

// Revoke forgets a token by share ID wherever it is tracked. The scope keeps
// a tombstone entry so the revoked token cannot slip back in as unknown.
func (m *FolderShareManager) Revoke(shareIDHex string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for folder, tokens := range m.shares {
		for i, t := range tokens {
			if t.ShareIDHex() == shareIDHex {
				m.shares[folder] = append(tokens[:i], tokens[i+1:]...)
				return true
			}
		}
	}
	return false
}

// RevokeFolder drops every tracked share under a folder, leaving the scope
// tombstoned. Returns the number of shares dropped. Used after a subtree
// rekey, when the outstanding tokens are cryptographically dead anyway.
func (m *FolderShareManager) RevokeFolder(folder string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.shares[folder])
	m.shares[folder] = []*ShareToken{}
	return n
}

// ListShares returns the tokens issued for a folder.
func (m *FolderShareManager) ListShares(folder string) []*ShareToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ShareToken, len(m.shares[folder]))
	copy(out, m.shares[folder])
	return out
}

// RevokeShare forgets a token locally. This stops this manager from handing
// the token out again but cannot recall copies already delivered; real
// revocation requires rotating the folder's subtree DEK.
func (m *FolderShareManager) RevokeShare(folder, shareIDHex string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := m.shares[folder]
	for i, t := range tokens {
		if t.ShareIDHex() == shareIDHex {
			m.shares[folder] = append(tokens[:i], tokens[i+1:]...)
			return true
		}
	}
	return false
}

// CleanupExpired drops expired tokens from the issued lists.
func (m *FolderShareManager) CleanupExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for folder, tokens := range m.shares {
		kept := tokens[:0]
		for _, t := range tokens {
			if !t.IsExpired(now) {
				kept = append(kept, t)
			}
		}
		m.shares[folder] = kept
	}
}
