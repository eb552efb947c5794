// Package sharing implements capability tokens: an HPKE-wrapped DEK bound to
// a path scope, permissions, an expiry, and either temporal (latest-content)
// or snapshot (exact-content) semantics. Tokens are stateless; everything a
// recipient needs travels in the token.
package sharing

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// TokenVersion is the current share token format version.
const TokenVersion = 1

// ShareIDSize is the random share identifier length.
const ShareIDSize = 16

// Mode tags for the share binding.
const (
	ModeTemporal = "temporal"
	ModeSnapshot = "snapshot"
)

// Permissions are the operations a share grants.
type Permissions struct {
	CanRead   bool `cbor:"1,keyasint" json:"can_read"`
	CanWrite  bool `cbor:"2,keyasint" json:"can_write"`
	CanDelete bool `cbor:"3,keyasint" json:"can_delete"`
}

// ReadOnly grants read access only.
func ReadOnly() Permissions { return Permissions{CanRead: true} }

// ReadWrite grants read and write access.
func ReadWrite() Permissions { return Permissions{CanRead: true, CanWrite: true} }

// FullAccess grants read, write, and delete.
func FullAccess() Permissions { return Permissions{CanRead: true, CanWrite: true, CanDelete: true} }

// Operation is a requested action checked against Permissions.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpDelete
)

// Allows reports whether the permissions cover op.
func (p Permissions) Allows(op Operation) bool {
	switch op {
	case OpRead:
		return p.CanRead
	case OpWrite:
		return p.CanWrite
	case OpDelete:
		return p.CanDelete
	}
	return false
}

// SnapshotBinding pins a share to the exact content present at creation
// time. VerifySnapshot fails once the object at the path changes.
type SnapshotBinding struct {
	ContentHash string `cbor:"1,keyasint" json:"content_hash"`
	Size        uint64 `cbor:"2,keyasint" json:"size"`
	ModifiedAt  int64  `cbor:"3,keyasint" json:"modified_at"`
}

// ShareToken is the stateless capability. Wire form is CBOR with fixed field
// order.
type ShareToken struct {
	Version    uint8               `cbor:"1,keyasint"`
	WrappedDek *hpke.EncryptedData `cbor:"2,keyasint"`
	PathScope  string              `cbor:"3,keyasint"`
	Perms      Permissions         `cbor:"4,keyasint"`
	CreatedAt  int64               `cbor:"5,keyasint"`
	ExpiresAt  int64               `cbor:"6,keyasint"`
	Mode       string              `cbor:"7,keyasint"`
	Snapshot   *SnapshotBinding    `cbor:"8,keyasint,omitempty"`
	ShareID    []byte              `cbor:"9,keyasint"`
}

// bindingAad derives the AAD that ties the wrapped DEK to this token's
// identity, scope, and mode. Rewriting any of the three breaks the unwrap.
func bindingAad(shareID []byte, pathScope, modeTag string) string {
	return "fula:v2:share:" + hex.EncodeToString(shareID) + ":" + pathScope + ":" + modeTag
}

// ShareIDHex returns the share identifier as lowercase hex.
func (t *ShareToken) ShareIDHex() string { return hex.EncodeToString(t.ShareID) }

// IsExpired reports whether the token has expired at now.
func (t *ShareToken) IsExpired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// InScope reports whether path falls under the token's path scope.
func (t *ShareToken) InScope(path string) bool {
	return len(path) >= len(t.PathScope) && path[:len(t.PathScope)] == t.PathScope
}

// Marshal serializes the token to its CBOR wire form.
func (t *ShareToken) Marshal() ([]byte, error) {
	data, err := cbor.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("sharing: marshal token: %w", err)
	}
	return data, nil
}

// TokenFromBytes parses a CBOR share token.
func TokenFromBytes(data []byte) (*ShareToken, error) {
	var t ShareToken
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if t.Version != TokenVersion {
		return nil, fmt.Errorf("%w: token version %d", crypt.ErrUnsupportedVersion, t.Version)
	}
	if t.WrappedDek == nil || len(t.ShareID) != ShareIDSize {
		return nil, ErrMalformedToken
	}
	if t.Mode != ModeTemporal && t.Mode != ModeSnapshot {
		return nil, fmt.Errorf("%w: mode %q", ErrMalformedToken, t.Mode)
	}
	if t.Mode == ModeSnapshot && t.Snapshot == nil {
		return nil, fmt.Errorf("%w: snapshot mode without binding", ErrMalformedToken)
	}
	return &t, nil
}

// Builder assembles a share token for a recipient.
type Builder struct {
	recipient *crypt.PublicKey
	dek       *crypt.DekKey
	pathScope string
	perms     Permissions
	createdAt int64
	expiresAt int64
	mode      string
	snapshot  *SnapshotBinding
}

// NewBuilder starts a share of dek for the recipient public key. Defaults:
// read-only, temporal, 24 h expiry.
func NewBuilder(recipient *crypt.PublicKey, dek *crypt.DekKey) *Builder {
	now := time.Now()
	return &Builder{
		recipient: recipient,
		dek:       dek,
		perms:     ReadOnly(),
		createdAt: now.Unix(),
		expiresAt: now.Add(24 * time.Hour).Unix(),
		mode:      ModeTemporal,
	}
}

// PathScope sets the logical prefix the share grants access to.
func (b *Builder) PathScope(p string) *Builder {
	b.pathScope = p
	return b
}

// Permissions sets the granted operations.
func (b *Builder) Permissions(p Permissions) *Builder {
	b.perms = p
	return b
}

// ExpiresIn sets the expiry relative to creation.
func (b *Builder) ExpiresIn(d time.Duration) *Builder {
	b.expiresAt = b.createdAt + int64(d/time.Second)
	return b
}

// ExpiresAt sets an absolute Unix-seconds expiry.
func (b *Builder) ExpiresAt(ts int64) *Builder {
	b.expiresAt = ts
	return b
}

// Temporal grants access to whatever content is current at read time.
func (b *Builder) Temporal() *Builder {
	b.mode = ModeTemporal
	b.snapshot = nil
	return b
}

// Snapshot pins the share to the exact content identified by the binding.
func (b *Builder) Snapshot(binding SnapshotBinding) *Builder {
	b.mode = ModeSnapshot
	b.snapshot = &binding
	return b
}

// Build draws the share ID and wraps the DEK with the binding AAD. The token
// cannot be silently retargeted to another path or mode: the AAD commits to
// all three.
func (b *Builder) Build() (*ShareToken, error) {
	shareID := crypt.RandomBytes(ShareIDSize)

	wrapped, err := hpke.EncryptDek(b.recipient, b.dek, bindingAad(shareID, b.pathScope, b.mode))
	if err != nil {
		return nil, fmt.Errorf("sharing: wrap dek: %w", err)
	}

	return &ShareToken{
		Version:    TokenVersion,
		WrappedDek: wrapped,
		PathScope:  b.pathScope,
		Perms:      b.perms,
		CreatedAt:  b.createdAt,
		ExpiresAt:  b.expiresAt,
		Mode:       b.mode,
		Snapshot:   b.snapshot,
		ShareID:    shareID,
	}, nil
}
