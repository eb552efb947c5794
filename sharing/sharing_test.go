package sharing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/forest"
)

func newKeypair(t *testing.T) *crypt.KekKeyPair {
	t.Helper()
	kp, err := crypt.GenerateKekKeyPair(1)
	require.NoError(t, err)
	return kp
}

func buildToken(t *testing.T, recipient *crypt.PublicKey, dek *crypt.DekKey) *ShareToken {
	t.Helper()
	token, err := NewBuilder(recipient, dek).
		PathScope("/photos/vacation/").
		Permissions(ReadOnly()).
		ExpiresIn(time.Hour).
		Temporal().
		Build()
	require.NoError(t, err)
	return token
}

func TestShareAcceptRoundtrip(t *testing.T) {
	recipient := newKeypair(t)
	dek := crypt.GenerateDek()
	token := buildToken(t, recipient.Public, dek)

	accepted, err := NewRecipient(recipient).Accept(token)
	require.NoError(t, err)
	defer accepted.Zero()

	assert.True(t, dek.Equal(accepted.Dek))
	assert.Equal(t, "/photos/vacation/", accepted.PathScope)
	assert.Equal(t, ModeTemporal, accepted.Mode)
}

func TestShareWrongRecipientFails(t *testing.T) {
	recipient := newKeypair(t)
	other := newKeypair(t)
	token := buildToken(t, recipient.Public, crypt.GenerateDek())

	_, err := NewRecipient(other).Accept(token)
	assert.ErrorIs(t, err, ErrAcceptFailed)
}

func TestShareExpiry(t *testing.T) {
	recipient := newKeypair(t)
	dek := crypt.GenerateDek()

	token, err := NewBuilder(recipient.Public, dek).
		PathScope("/p/").
		ExpiresIn(time.Hour).
		Build()
	require.NoError(t, err)

	r := NewRecipient(recipient)
	_, err = r.AcceptAt(token, time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrShareExpired)

	_, err = r.AcceptAt(token, time.Now().Add(30*time.Minute))
	require.NoError(t, err)
}

func TestShareRetargetingFails(t *testing.T) {
	recipient := newKeypair(t)
	token := buildToken(t, recipient.Public, crypt.GenerateDek())

	// Widening the scope breaks the AAD binding.
	token.PathScope = "/"
	_, err := NewRecipient(recipient).Accept(token)
	assert.ErrorIs(t, err, ErrAcceptFailed)
}

func TestShareModeFlipFails(t *testing.T) {
	recipient := newKeypair(t)
	token := buildToken(t, recipient.Public, crypt.GenerateDek())

	token.Mode = ModeSnapshot
	token.Snapshot = &SnapshotBinding{ContentHash: "h", Size: 1, ModifiedAt: 1}
	_, err := NewRecipient(recipient).Accept(token)
	assert.ErrorIs(t, err, ErrAcceptFailed)
}

func TestAuthorize(t *testing.T) {
	recipient := newKeypair(t)
	token := buildToken(t, recipient.Public, crypt.GenerateDek())

	accepted, err := NewRecipient(recipient).Accept(token)
	require.NoError(t, err)
	defer accepted.Zero()

	require.NoError(t, accepted.Authorize("/photos/vacation/beach.jpg", OpRead))
	assert.ErrorIs(t, accepted.Authorize("/documents/secret.pdf", OpRead), ErrShareScopeMismatch)
	assert.ErrorIs(t, accepted.Authorize("/photos/vacation/beach.jpg", OpWrite), ErrPermissionDenied)
	assert.ErrorIs(t, accepted.Authorize("/photos/vacation/beach.jpg", OpDelete), ErrPermissionDenied)
}

func TestPermissionPresets(t *testing.T) {
	assert.True(t, ReadOnly().Allows(OpRead))
	assert.False(t, ReadOnly().Allows(OpWrite))
	assert.True(t, ReadWrite().Allows(OpWrite))
	assert.False(t, ReadWrite().Allows(OpDelete))
	assert.True(t, FullAccess().Allows(OpDelete))
}

func TestSnapshotVerification(t *testing.T) {
	recipient := newKeypair(t)
	dek := crypt.GenerateDek()

	binding := SnapshotBinding{ContentHash: "h1", Size: 100, ModifiedAt: 1700000000}
	token, err := NewBuilder(recipient.Public, dek).
		PathScope("/docs/contract.pdf").
		ExpiresIn(time.Hour).
		Snapshot(binding).
		Build()
	require.NoError(t, err)

	accepted, err := NewRecipient(recipient).Accept(token)
	require.NoError(t, err)
	defer accepted.Zero()

	current := &forest.FileEntry{
		Path:        "/docs/contract.pdf",
		ContentHash: "h1",
		Size:        100,
		ModifiedAt:  1700000000,
	}
	require.NoError(t, accepted.VerifySnapshot(current))

	// Any component changing breaks the binding.
	overwritten := *current
	overwritten.ContentHash = "h2"
	assert.ErrorIs(t, accepted.VerifySnapshot(&overwritten), ErrSnapshotMismatch)

	resized := *current
	resized.Size = 101
	assert.ErrorIs(t, accepted.VerifySnapshot(&resized), ErrSnapshotMismatch)

	touched := *current
	touched.ModifiedAt = 1700000001
	assert.ErrorIs(t, accepted.VerifySnapshot(&touched), ErrSnapshotMismatch)

	assert.ErrorIs(t, accepted.VerifySnapshot(nil), ErrSnapshotMismatch)
}

func TestTemporalIgnoresSnapshotCheck(t *testing.T) {
	recipient := newKeypair(t)
	token := buildToken(t, recipient.Public, crypt.GenerateDek())

	accepted, err := NewRecipient(recipient).Accept(token)
	require.NoError(t, err)
	defer accepted.Zero()

	require.NoError(t, accepted.VerifySnapshot(nil))
}

func TestTokenCborRoundtrip(t *testing.T) {
	recipient := newKeypair(t)
	dek := crypt.GenerateDek()
	token := buildToken(t, recipient.Public, dek)

	data, err := token.Marshal()
	require.NoError(t, err)

	parsed, err := TokenFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, token.PathScope, parsed.PathScope)
	assert.Equal(t, token.ShareID, parsed.ShareID)
	assert.Equal(t, token.ExpiresAt, parsed.ExpiresAt)

	// The parsed token still unwraps.
	accepted, err := NewRecipient(recipient).Accept(parsed)
	require.NoError(t, err)
	defer accepted.Zero()
	assert.True(t, dek.Equal(accepted.Dek))
}

func TestTokenFromBytesMalformed(t *testing.T) {
	_, err := TokenFromBytes([]byte("junk"))
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestSecretLinkRoundtrip(t *testing.T) {
	recipient := newKeypair(t)
	dek := crypt.GenerateDek()
	token := buildToken(t, recipient.Public, dek)

	url, err := BuildSecretLink(token, "https://gateway.example/")
	require.NoError(t, err)
	assert.Contains(t, url, "https://gateway.example/fula/share/"+token.ShareIDHex()+"#")
	assert.NotContains(t, url, "//fula")

	parsed, err := ParseSecretLink(url)
	require.NoError(t, err)
	assert.Equal(t, token.ShareID, parsed.ShareID)

	accepted, err := NewRecipient(recipient).Accept(parsed)
	require.NoError(t, err)
	defer accepted.Zero()
	assert.True(t, dek.Equal(accepted.Dek))
}

func TestSecretLinkIDMismatch(t *testing.T) {
	recipient := newKeypair(t)
	t1 := buildToken(t, recipient.Public, crypt.GenerateDek())
	t2 := buildToken(t, recipient.Public, crypt.GenerateDek())

	url1, err := BuildSecretLink(t1, "https://gw.example")
	require.NoError(t, err)
	url2, err := BuildSecretLink(t2, "https://gw.example")
	require.NoError(t, err)

	// Splice t2's fragment onto t1's path.
	base := len("https://gw.example" + SharePathPrefix)
	spliced := url1[:base+len(t1.ShareIDHex())] + url2[base+len(t2.ShareIDHex()):]
	_, err = ParseSecretLink(spliced)
	assert.ErrorIs(t, err, ErrMalformedLink)
}

func TestExtractShareID(t *testing.T) {
	recipient := newKeypair(t)
	token := buildToken(t, recipient.Public, crypt.GenerateDek())

	url, err := BuildSecretLink(token, "https://gw.example")
	require.NoError(t, err)

	id, err := ExtractShareID(url)
	require.NoError(t, err)
	assert.Equal(t, token.ShareIDHex(), id)
}

func TestInboxRoundtrip(t *testing.T) {
	sharer := newKeypair(t)
	recipient := newKeypair(t)
	store := blobstore.NewMemStore()
	ctx := context.Background()

	dek := crypt.GenerateDek()
	token := buildToken(t, recipient.Public, dek)
	env := &ShareEnvelope{
		Token:         token,
		Label:         "vacation photos",
		Message:       "enjoy!",
		SharerDisplay: sharer.Public.Base64(),
	}

	key, err := PostToInbox(ctx, store, recipient.Public, env)
	require.NoError(t, err)
	assert.Contains(t, key, InboxDir(recipient.Public))
	assert.Contains(t, key, ".share")

	keys, err := ListInbox(ctx, store, recipient.Public)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	got, err := OpenInboxEntry(ctx, store, recipient.Secret, keys[0])
	require.NoError(t, err)
	assert.Equal(t, "vacation photos", got.Label)
	assert.Equal(t, "enjoy!", got.Message)

	accepted, err := NewRecipient(recipient).Accept(got.Token)
	require.NoError(t, err)
	defer accepted.Zero()
	assert.True(t, dek.Equal(accepted.Dek))
}

func TestInboxWrongRecipientCannotOpen(t *testing.T) {
	recipient := newKeypair(t)
	eavesdropper := newKeypair(t)
	store := blobstore.NewMemStore()
	ctx := context.Background()

	token := buildToken(t, recipient.Public, crypt.GenerateDek())
	key, err := PostToInbox(ctx, store, recipient.Public, &ShareEnvelope{Token: token})
	require.NoError(t, err)

	_, err = OpenInboxEntry(ctx, store, eavesdropper.Secret, key)
	assert.Error(t, err)
}

func TestFolderShareManager(t *testing.T) {
	manager := NewFolderShareManager()
	recipient := newKeypair(t)
	folderDek := crypt.GenerateDek()

	manager.RegisterFolder("/photos/", folderDek)

	_, err := manager.CreateShare("/missing/", recipient.Public, ReadOnly(), time.Hour)
	assert.ErrorIs(t, err, ErrUnknownFolder)

	s1, err := manager.CreateShare("/photos/", recipient.Public, ReadOnly(), time.Hour)
	require.NoError(t, err)
	s2, err := manager.CreateShare("/photos/", recipient.Public, ReadWrite(), time.Hour)
	require.NoError(t, err)

	assert.Len(t, manager.ListShares("/photos/"), 2)

	assert.True(t, manager.RevokeShare("/photos/", s1.ShareIDHex()))
	assert.False(t, manager.RevokeShare("/photos/", s1.ShareIDHex()))
	assert.Len(t, manager.ListShares("/photos/"), 1)

	// The surviving share still unwraps the folder DEK.
	accepted, err := NewRecipient(recipient).Accept(s2)
	require.NoError(t, err)
	defer accepted.Zero()
	assert.True(t, folderDek.Equal(accepted.Dek))
}

func TestValidateAccess(t *testing.T) {
	manager := NewFolderShareManager()
	recipient := newKeypair(t)
	manager.RegisterFolder("/photos/", crypt.GenerateDek())

	share1, err := manager.CreateShare("/photos/", recipient.Public, ReadOnly(), time.Hour)
	require.NoError(t, err)
	share2, err := manager.CreateShare("/photos/", recipient.Public, ReadWrite(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, AccessValid, manager.ValidateAccess(share1, "/photos/beach.jpg"))
	assert.Equal(t, AccessOutOfScope, manager.ValidateAccess(share1, "/documents/secret.pdf"))

	require.True(t, manager.RevokeShare("/photos/", share1.ShareIDHex()))
	assert.Equal(t, AccessRevoked, manager.ValidateAccess(share1, "/photos/beach.jpg"))
	assert.Equal(t, AccessValid, manager.ValidateAccess(share2, "/photos/beach.jpg"))
}

func TestValidateAccessExpired(t *testing.T) {
	manager := NewFolderShareManager()
	recipient := newKeypair(t)

	token, err := NewBuilder(recipient.Public, crypt.GenerateDek()).
		PathScope("/p/").
		ExpiresAt(time.Now().Add(-time.Minute).Unix()).
		Build()
	require.NoError(t, err)
	manager.TrackShare(token)

	assert.Equal(t, AccessExpired, manager.ValidateAccess(token, "/p/x"))
}

func TestValidateAccessUnknownScopePasses(t *testing.T) {
	manager := NewFolderShareManager()
	recipient := newKeypair(t)

	// A token this manager never tracked is outside its jurisdiction; the
	// cryptographic checks downstream are what gate it.
	token := buildToken(t, recipient.Public, crypt.GenerateDek())
	assert.Equal(t, AccessValid, manager.ValidateAccess(token, "/photos/vacation/beach.jpg"))
}

func TestRevokeFolderTombstones(t *testing.T) {
	manager := NewFolderShareManager()
	recipient := newKeypair(t)
	manager.RegisterFolder("/team/", crypt.GenerateDek())

	share, err := manager.CreateShare("/team/", recipient.Public, ReadOnly(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, manager.RevokeFolder("/team/"))
	assert.Empty(t, manager.ListShares("/team/"))
	assert.Equal(t, AccessRevoked, manager.ValidateAccess(share, "/team/doc.txt"))
}

func TestFolderShareManagerCleanupExpired(t *testing.T) {
	manager := NewFolderShareManager()
	recipient := newKeypair(t)
	manager.RegisterFolder("/p/", crypt.GenerateDek())

	_, err := manager.CreateShare("/p/", recipient.Public, ReadOnly(), time.Minute)
	require.NoError(t, err)
	_, err = manager.CreateShare("/p/", recipient.Public, ReadOnly(), time.Hour)
	require.NoError(t, err)

	manager.CleanupExpired(time.Now().Add(30 * time.Minute))
	assert.Len(t, manager.ListShares("/p/"), 1)
}
