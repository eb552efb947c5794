package sharing

import (
	"time"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/forest"
	"github.com/functionland/fula-storage-go/hpke"
)

// Recipient accepts share tokens with its secret key.
type Recipient struct {
	secret *crypt.SecretKey
}

// NewRecipient wraps a recipient keypair.
func NewRecipient(kp *crypt.KekKeyPair) *Recipient {
	return &Recipient{secret: kp.Secret}
}

// RecipientFromSecret wraps a raw secret key.
func RecipientFromSecret(secret *crypt.SecretKey) *Recipient {
	return &Recipient{secret: secret}
}

// AcceptedShare is a verified share: the unwrapped DEK plus the constraints
// that still apply to every use.
type AcceptedShare struct {
	Dek       *crypt.DekKey
	ShareID   []byte
	PathScope string
	Perms     Permissions
	Mode      string
	Snapshot  *SnapshotBinding
	ExpiresAt int64
}

// Accept verifies expiry and unwraps the DEK with the binding AAD. A token
// whose path scope, mode, or share ID was rewritten fails here: the AAD no
// longer matches what the owner sealed.
func (r *Recipient) Accept(token *ShareToken) (*AcceptedShare, error) {
	return r.AcceptAt(token, time.Now())
}

// AcceptAt is Accept with an explicit clock, for deterministic verification.
func (r *Recipient) AcceptAt(token *ShareToken, now time.Time) (*AcceptedShare, error) {
	if token.IsExpired(now) {
		return nil, ErrShareExpired
	}

	dek, err := hpke.DecryptDek(r.secret, token.WrappedDek, bindingAad(token.ShareID, token.PathScope, token.Mode))
	if err != nil {
		return nil, ErrAcceptFailed
	}

	return &AcceptedShare{
		Dek:       dek,
		ShareID:   token.ShareID,
		PathScope: token.PathScope,
		Perms:     token.Perms,
		Mode:      token.Mode,
		Snapshot:  token.Snapshot,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Authorize checks a concrete request against the share's scope and
// permissions.
func (a *AcceptedShare) Authorize(requestPath string, op Operation) error {
	if len(requestPath) < len(a.PathScope) || requestPath[:len(a.PathScope)] != a.PathScope {
		return ErrShareScopeMismatch
	}
	if !a.Perms.Allows(op) {
		return ErrPermissionDenied
	}
	return nil
}

// VerifySnapshot enforces snapshot semantics against the entry currently
// bound to the shared path. Temporal shares pass unconditionally. A snapshot
// share verifies iff content hash, size, and modification time all match the
// binding declared at share creation.
func (a *AcceptedShare) VerifySnapshot(current *forest.FileEntry) error {
	if a.Mode != ModeSnapshot {
		return nil
	}
	if current == nil {
		return ErrSnapshotMismatch
	}
	s := a.Snapshot
	if s == nil ||
		current.ContentHash != s.ContentHash ||
		current.Size != s.Size ||
		current.ModifiedAt != s.ModifiedAt {
		return ErrSnapshotMismatch
	}
	return nil
}

// Zero wipes the unwrapped DEK.
func (a *AcceptedShare) Zero() {
	if a.Dek != nil {
		a.Dek.Zero()
	}
}
