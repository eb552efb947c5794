package crypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDekUnique(t *testing.T) {
	d1 := GenerateDek()
	d2 := GenerateDek()
	assert.False(t, d1.Equal(d2), "two generated DEKs should differ")
}

func TestDekFromBytes(t *testing.T) {
	_, err := DekFromBytes(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKey)

	raw := RandomBytes(KeySize)
	d, err := DekFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, d.Bytes())
}

func TestDekZero(t *testing.T) {
	d := GenerateDek()
	d.Zero()
	assert.True(t, bytes.Equal(d.Bytes(), make([]byte, KeySize)))
}

func TestKeypairGeneration(t *testing.T) {
	kp1, err := GenerateKekKeyPair(1)
	require.NoError(t, err)
	kp2, err := GenerateKekKeyPair(1)
	require.NoError(t, err)
	assert.False(t, kp1.Public.Equal(kp2.Public))
}

func TestPublicKeyDerivation(t *testing.T) {
	kp, err := GenerateKekKeyPair(1)
	require.NoError(t, err)

	derived, err := kp.Secret.Public()
	require.NoError(t, err)
	assert.True(t, kp.Public.Equal(derived))
}

func TestKeypairFromSecretRoundtrip(t *testing.T) {
	kp, err := GenerateKekKeyPair(1)
	require.NoError(t, err)

	backup := make([]byte, KeySize)
	copy(backup, kp.Secret.Bytes())

	restored, err := KekKeyPairFromSecret(backup, 1)
	require.NoError(t, err)
	assert.True(t, kp.Public.Equal(restored.Public))
}

func TestPublicKeyBase64Roundtrip(t *testing.T) {
	kp, err := GenerateKekKeyPair(1)
	require.NoError(t, err)

	decoded, err := PublicKeyFromBase64(kp.Public.Base64())
	require.NoError(t, err)
	assert.True(t, kp.Public.Equal(decoded))
}

func TestSecretKeyZero(t *testing.T) {
	s := GenerateSecretKey()
	s.Zero()
	assert.True(t, bytes.Equal(s.Bytes(), make([]byte, KeySize)))
}

func TestDeriveKeyDomainSeparation(t *testing.T) {
	k1 := DeriveKey("context-one", []byte("input"))
	k2 := DeriveKey("context-two", []byte("input"))
	k3 := DeriveKey("context-one", []byte("input"))
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, k3)
}

func TestHashHex(t *testing.T) {
	h1 := HashHex([]byte("Hello, World!"))
	h2 := HashHex([]byte("Hello, World!"))
	h3 := HashHex([]byte("hello, world!"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
