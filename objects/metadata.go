package objects

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/functionland/fula-storage-go/crypt"
)

// PrivateMetadata is the per-object metadata hidden from the server:
// original path, size, content type, timestamps, and user headers. It is
// AEAD-encrypted under the object DEK and inlined in the envelope.
type PrivateMetadata struct {
	OriginalPath string            `json:"original_path"`
	Size         uint64            `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	ModifiedAt   int64             `json:"modified_at"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
	ContentHash  string            `json:"content_hash,omitempty"`
}

// NewPrivateMetadata builds metadata for a fresh write, stamping both
// timestamps with the current time.
func NewPrivateMetadata(path string, size uint64) *PrivateMetadata {
	now := time.Now().Unix()
	return &PrivateMetadata{
		OriginalPath: path,
		Size:         size,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
}

// EncryptPrivateMetadata seals the metadata JSON under the object DEK with
// the priv-meta AAD and a fresh nonce.
func EncryptPrivateMetadata(meta *PrivateMetadata, dek *crypt.DekKey, cipher crypt.Cipher) (*EncryptedPrivateMetadata, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("objects: marshal private metadata: %w", err)
	}

	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, err
	}
	nonce := crypt.NewNonce()
	ct, err := ae.Seal(nonce, body, []byte(AadPrivMeta))
	if err != nil {
		return nil, err
	}

	return &EncryptedPrivateMetadata{
		Version:    1,
		Nonce:      nonce,
		Ciphertext: ct,
	}, nil
}

// DecryptPrivateMetadata opens an encrypted metadata sub-blob.
func DecryptPrivateMetadata(enc *EncryptedPrivateMetadata, dek *crypt.DekKey, cipher crypt.Cipher) (*PrivateMetadata, error) {
	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, err
	}
	body, err := ae.Open(enc.Nonce, enc.Ciphertext, []byte(AadPrivMeta))
	if err != nil {
		return nil, err
	}

	var meta PrivateMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("objects: parse private metadata: %w", err)
	}
	return &meta, nil
}
