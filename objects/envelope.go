// Package objects implements the encryption pipeline: whole-object AEAD for
// small payloads, the chunked verified-streaming pipeline for large ones,
// the private-metadata sub-blob, and storage-key obfuscation.
package objects

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// Envelope versions. Readers accept any known version; writers emit the
// highest that fits the payload.
const (
	// EnvelopeV1 is the historical whole-object format without AAD binding.
	EnvelopeV1 = 1
	// EnvelopeV2 is whole-object HPKE + AAD.
	EnvelopeV2 = 2
	// EnvelopeV3 is the chunked format.
	EnvelopeV3 = 3
)

// AAD contexts for object payloads.
const (
	AadObject   = "fula:v2:object"
	AadPrivMeta = "fula:v2:priv-meta"
)

// ChunkedFormat is the format tag inside ChunkedFileMetadata.
const ChunkedFormat = "streaming-v1"

// B64 is a byte string that marshals as unpadded base64url in JSON.
type B64 []byte

// MarshalJSON encodes as unpadded base64url.
func (b B64) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

// UnmarshalJSON decodes unpadded base64url.
func (b *B64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// WrappedKey is the HPKE wrap embedded in an envelope.
type WrappedKey struct {
	EncapsulatedKey B64 `json:"encapsulated_key"`
	Ciphertext      B64 `json:"ciphertext"`
}

// ToHpke converts to the hpke wire struct with the expected AAD context.
func (w *WrappedKey) ToHpke(aad string) *hpke.EncryptedData {
	return &hpke.EncryptedData{
		EncapsulatedKey: w.EncapsulatedKey,
		Ciphertext:      w.Ciphertext,
		AadContext:      aad,
	}
}

// WrappedKeyFrom converts from the hpke wire struct.
func WrappedKeyFrom(e *hpke.EncryptedData) WrappedKey {
	return WrappedKey{EncapsulatedKey: e.EncapsulatedKey, Ciphertext: e.Ciphertext}
}

// EncryptedPrivateMetadata is the AEAD-sealed PrivateMetadata sub-blob.
type EncryptedPrivateMetadata struct {
	Version    uint8 `json:"version"`
	Nonce      B64   `json:"nonce"`
	Ciphertext B64   `json:"ciphertext"`
}

// SymmetricWrap is an AEAD wrap of one key under another. Used to carry the
// object DEK under a subtree DEK so subtree-share recipients can decrypt
// descendants without the owner's root key.
type SymmetricWrap struct {
	Nonce      B64 `json:"nonce"`
	Ciphertext B64 `json:"ciphertext"`
}

// ChunkedFileMetadata describes the chunk layout of a large object. It lives
// inside the index blob's envelope; the chunk blobs themselves are children
// under `<storage_key>.chunks/`.
type ChunkedFileMetadata struct {
	Format      string `json:"format"`
	ChunkSize   uint32 `json:"chunk_size"`
	NumChunks   uint32 `json:"num_chunks"`
	TotalSize   uint64 `json:"total_size"`
	RootHash    B64    `json:"root_hash"`
	ChunkNonces []B64  `json:"chunk_nonces"`
	ContentType string `json:"content_type,omitempty"`
}

// ChunkNonce returns the recorded nonce for chunk i.
func (m *ChunkedFileMetadata) ChunkNonce(i uint32) ([]byte, error) {
	if int(i) >= len(m.ChunkNonces) {
		return nil, fmt.Errorf("%w: no nonce for chunk %d", crypt.ErrInvalidNonce, i)
	}
	return m.ChunkNonces[i], nil
}

// ChunksForRange computes the minimal contiguous chunk set covering
// [offset, offset+length).
func (m *ChunkedFileMetadata) ChunksForRange(offset, length uint64) []uint32 {
	if length == 0 || m.NumChunks == 0 {
		return nil
	}
	size := uint64(m.ChunkSize)
	start := uint32(offset / size)
	end := uint32((offset + length - 1) / size)
	if last := m.NumChunks - 1; end > last {
		end = last
	}
	out := make([]uint32, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out
}

// ChunkKey returns the child storage key of chunk i:
// `<base>.chunks/<8-digit zero-padded index>`.
func ChunkKey(base string, i uint32) string {
	return fmt.Sprintf("%s.chunks/%08d", base, i)
}

// ChunkPrefix returns the common prefix of all chunk children of base.
func ChunkPrefix(base string) string {
	return base + ".chunks/"
}

// Envelope is the encryption metadata document stored under the
// x-fula-encryption header of each ciphertext blob.
type Envelope struct {
	Version         int                       `json:"version"`
	Algorithm       string                    `json:"algorithm"`
	Nonce           B64                       `json:"nonce,omitempty"`
	WrappedKey      WrappedKey                `json:"wrapped_key"`
	KekVersion      uint32                    `json:"kek_version"`
	MetadataPrivacy bool                      `json:"metadata_privacy"`
	PrivateMetadata *EncryptedPrivateMetadata `json:"private_metadata,omitempty"`
	Chunked         *ChunkedFileMetadata      `json:"chunked,omitempty"`
	BaoOutboard     B64                       `json:"bao_outboard,omitempty"`

	// SubtreeWrappedKey is present when the object lives under a shared
	// subtree: the object DEK wrapped under that subtree's DEK.
	SubtreeWrappedKey *SymmetricWrap `json:"subtree_wrapped_key,omitempty"`
}

// Marshal renders the envelope JSON for the blob header.
func (e *Envelope) Marshal() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("objects: marshal envelope: %w", err)
	}
	return string(data), nil
}

// ParseEnvelope parses and validates envelope JSON from a blob header.
func ParseEnvelope(raw string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch e.Version {
	case EnvelopeV1, EnvelopeV2:
		if e.Chunked != nil {
			return nil, fmt.Errorf("%w: chunked metadata on version %d", ErrMalformedEnvelope, e.Version)
		}
	case EnvelopeV3:
		if e.Chunked == nil {
			return nil, fmt.Errorf("%w: version 3 without chunked metadata", ErrMalformedEnvelope)
		}
		if e.Chunked.Format != ChunkedFormat {
			return nil, fmt.Errorf("%w: chunked format %q", ErrMalformedEnvelope, e.Chunked.Format)
		}
	default:
		return nil, fmt.Errorf("%w: envelope version %d", crypt.ErrUnsupportedVersion, e.Version)
	}
	if _, err := crypt.ParseCipher(e.Algorithm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &e, nil
}

// objectAad returns the envelope AAD for the given version. Version 1
// predates AAD binding.
func objectAad(version int) []byte {
	if version <= EnvelopeV1 {
		return nil
	}
	return []byte(AadObject)
}

// chunkAad returns the per-chunk AAD: "chunk:" followed by the chunk index
// as a little-endian u32.
func chunkAad(i uint32) []byte {
	aad := make([]byte, 0, 10)
	aad = append(aad, "chunk:"...)
	aad = append(aad, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
	return aad
}
