// Package hpke implements RFC 9180 Hybrid Public Key Encryption, base mode,
// with the fixed suite DHKEM(X25519, HKDF-SHA256) / HKDF-SHA256 /
// ChaCha20-Poly1305. It is used to wrap per-object DEKs for a recipient
// public key with mandatory AAD binding.
package hpke

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/functionland/fula-storage-go/crypt"
)

// Info is the application-level info string bound into the key schedule.
const Info = "fula-storage-v2"

// AAD contexts. Every wrap binds exactly one; unwrapping with any other
// context fails.
const (
	AadDekWrap = "fula:v2:dek-wrap"
	AadInbox   = "fula:v2:inbox"
)

// EncapsulatedKeySize is the length of the encapsulated ephemeral public key.
const EncapsulatedKeySize = 32

// Suite identifiers per RFC 9180 §7.
const (
	kemID  = 0x0020 // DHKEM(X25519, HKDF-SHA256)
	kdfID  = 0x0001 // HKDF-SHA256
	aeadID = 0x0003 // ChaCha20-Poly1305
)

// EncryptedData is the output of an HPKE seal: the encapsulated ephemeral
// key plus the AEAD ciphertext. AadContext records the binding context for
// diagnostics; it is not trusted on open (callers pass the expected AAD).
type EncryptedData struct {
	EncapsulatedKey []byte `json:"encapsulated_key"`
	Ciphertext      []byte `json:"ciphertext"`
	AadContext      string `json:"aad_context,omitempty"`
}

func kemSuiteID() []byte {
	return []byte{'K', 'E', 'M', byte(kemID >> 8), byte(kemID)}
}

func hpkeSuiteID() []byte {
	return []byte{
		'H', 'P', 'K', 'E',
		byte(kemID >> 8), byte(kemID),
		byte(kdfID >> 8), byte(kdfID),
		byte(aeadID >> 8), byte(aeadID),
	}
}

// labeledExtract implements LabeledExtract from RFC 9180 §4.
func labeledExtract(suiteID, salt []byte, label string, ikm []byte) []byte {
	labeled := make([]byte, 0, 7+len(suiteID)+len(label)+len(ikm))
	labeled = append(labeled, "HPKE-v1"...)
	labeled = append(labeled, suiteID...)
	labeled = append(labeled, label...)
	labeled = append(labeled, ikm...)
	return hkdf.Extract(sha256.New, labeled, salt)
}

// labeledExpand implements LabeledExpand from RFC 9180 §4.
func labeledExpand(suiteID, prk []byte, label string, info []byte, length int) ([]byte, error) {
	labeled := make([]byte, 0, 2+7+len(suiteID)+len(label)+len(info))
	labeled = append(labeled, byte(length>>8), byte(length))
	labeled = append(labeled, "HPKE-v1"...)
	labeled = append(labeled, suiteID...)
	labeled = append(labeled, label...)
	labeled = append(labeled, info...)

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, labeled), out); err != nil {
		return nil, fmt.Errorf("hpke: expand: %w", err)
	}
	return out, nil
}

// extractAndExpand is the DHKEM shared-secret derivation (RFC 9180 §4.1).
func extractAndExpand(dh, kemContext []byte) ([]byte, error) {
	suite := kemSuiteID()
	eaePrk := labeledExtract(suite, nil, "eae_prk", dh)
	return labeledExpand(suite, eaePrk, "shared_secret", kemContext, 32)
}

// encap performs DHKEM(X25519) encapsulation against the recipient public key.
func encap(recipientPub []byte) (sharedSecret, enc []byte, err error) {
	ephSecret := crypt.RandomBytes(32)
	defer crypt.Zero(ephSecret)

	enc, err = curve25519.X25519(ephSecret, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	dh, err := curve25519.X25519(ephSecret, recipientPub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	defer crypt.Zero(dh)

	kemContext := append(append([]byte{}, enc...), recipientPub...)
	sharedSecret, err = extractAndExpand(dh, kemContext)
	if err != nil {
		return nil, nil, err
	}
	return sharedSecret, enc, nil
}

// decap reverses encap using the recipient secret key.
func decap(enc, recipientSecret []byte) ([]byte, error) {
	dh, err := curve25519.X25519(recipientSecret, enc)
	if err != nil {
		return nil, ErrOpenFailed
	}
	defer crypt.Zero(dh)

	recipientPub, err := curve25519.X25519(recipientSecret, curve25519.Basepoint)
	if err != nil {
		return nil, ErrOpenFailed
	}
	kemContext := append(append([]byte{}, enc...), recipientPub...)
	return extractAndExpand(dh, kemContext)
}

// keySchedule derives the AEAD key and base nonce for base mode (RFC 9180 §5.1).
func keySchedule(sharedSecret []byte) (key, baseNonce []byte, err error) {
	suite := hpkeSuiteID()

	pskIDHash := labeledExtract(suite, nil, "psk_id_hash", nil)
	infoHash := labeledExtract(suite, nil, "info_hash", []byte(Info))

	ksContext := make([]byte, 0, 1+len(pskIDHash)+len(infoHash))
	ksContext = append(ksContext, 0x00) // mode_base
	ksContext = append(ksContext, pskIDHash...)
	ksContext = append(ksContext, infoHash...)

	secret := labeledExtract(suite, sharedSecret, "secret", nil)
	defer crypt.Zero(secret)

	key, err = labeledExpand(suite, secret, "key", ksContext, chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, err
	}
	baseNonce, err = labeledExpand(suite, secret, "base_nonce", ksContext, chacha20poly1305.NonceSize)
	if err != nil {
		crypt.Zero(key)
		return nil, nil, err
	}
	return key, baseNonce, nil
}

// Seal encrypts plaintext for the recipient public key in a single-shot HPKE
// base-mode context. The AAD must be a non-empty domain-separated context
// string; opening with any other AAD fails.
func Seal(recipient *crypt.PublicKey, plaintext []byte, aad string) (*EncryptedData, error) {
	if recipient == nil {
		return nil, ErrInvalidRecipient
	}
	if aad == "" {
		return nil, ErrEmptyAad
	}

	sharedSecret, enc, err := encap(recipient.Bytes())
	if err != nil {
		return nil, err
	}
	defer crypt.Zero(sharedSecret)

	key, baseNonce, err := keySchedule(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer crypt.Zero(key)

	ae, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("hpke: aead: %w", err)
	}
	// Single message per context: seq 0, nonce == base_nonce.
	ct := ae.Seal(nil, baseNonce, plaintext, []byte(aad))

	return &EncryptedData{
		EncapsulatedKey: enc,
		Ciphertext:      ct,
		AadContext:      aad,
	}, nil
}

// Open decrypts an EncryptedData with the recipient secret key and the
// expected AAD. Wrong secret, wrong AAD, or any tampering returns
// ErrOpenFailed.
func Open(secret *crypt.SecretKey, data *EncryptedData, aad string) ([]byte, error) {
	if secret == nil || data == nil {
		return nil, ErrOpenFailed
	}
	if aad == "" {
		return nil, ErrEmptyAad
	}
	if len(data.EncapsulatedKey) != EncapsulatedKeySize {
		return nil, ErrOpenFailed
	}

	sharedSecret, err := decap(data.EncapsulatedKey, secret.Bytes())
	if err != nil {
		return nil, ErrOpenFailed
	}
	defer crypt.Zero(sharedSecret)

	key, baseNonce, err := keySchedule(sharedSecret)
	if err != nil {
		return nil, ErrOpenFailed
	}
	defer crypt.Zero(key)

	ae, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrOpenFailed
	}
	plaintext, err := ae.Open(nil, baseNonce, data.Ciphertext, []byte(aad))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// EncryptDek wraps a DEK for the recipient public key.
func EncryptDek(recipient *crypt.PublicKey, dek *crypt.DekKey, aad string) (*EncryptedData, error) {
	if dek == nil {
		return nil, fmt.Errorf("hpke: nil dek")
	}
	return Seal(recipient, dek.Bytes(), aad)
}

// DecryptDek unwraps a DEK with the recipient secret key.
func DecryptDek(secret *crypt.SecretKey, data *EncryptedData, aad string) (*crypt.DekKey, error) {
	raw, err := Open(secret, data, aad)
	if err != nil {
		return nil, err
	}
	dek, err := crypt.DekFromBytes(raw)
	crypt.Zero(raw)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return dek, nil
}

// EncryptDekForMany wraps the same DEK independently for each recipient.
func EncryptDekForMany(recipients []*crypt.PublicKey, dek *crypt.DekKey, aad string) ([]*EncryptedData, error) {
	wraps := make([]*EncryptedData, 0, len(recipients))
	for _, pub := range recipients {
		w, err := EncryptDek(pub, dek, aad)
		if err != nil {
			return nil, err
		}
		wraps = append(wraps, w)
	}
	return wraps, nil
}
