package objects

import (
	"fmt"

	"github.com/functionland/fula-storage-go/bao"
	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// Chunk size bounds for the chunked pipeline.
const (
	MinChunkSize     = 64 * 1024
	MaxChunkSize     = 16 * 1024 * 1024
	DefaultChunkSize = 256 * 1024
)

// ClampChunkSize forces a chunk size into the supported bounds.
func ClampChunkSize(n int) int {
	if n < MinChunkSize {
		return MinChunkSize
	}
	if n > MaxChunkSize {
		return MaxChunkSize
	}
	return n
}

// EncryptedChunk is one ciphertext chunk ready for upload.
type EncryptedChunk struct {
	Index      uint32
	Ciphertext []byte
	Nonce      []byte
}

// ChunkedEncoder encrypts a large object chunk by chunk, feeding the
// verification tree as it goes. Feed full chunk-size slices in order (the
// last may be short); Finalize yields the index metadata. Memory cost is one
// chunk, not the file.
type ChunkedEncoder struct {
	ae        *crypt.Aead
	chunkSize int
	tree      *bao.Encoder
	nonces    []B64
	index     uint32
}

// NewChunkedEncoder creates an encoder over the object DEK.
func NewChunkedEncoder(dek *crypt.DekKey, cipher crypt.Cipher, chunkSize int) (*ChunkedEncoder, error) {
	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, err
	}
	return &ChunkedEncoder{
		ae:        ae,
		chunkSize: ClampChunkSize(chunkSize),
		tree:      bao.NewEncoder(),
	}, nil
}

// ChunkSize returns the effective (clamped) chunk size.
func (e *ChunkedEncoder) ChunkSize() int { return e.chunkSize }

// EncodeChunk encrypts the next plaintext chunk with a fresh nonce and the
// index-bound AAD, and records its tree leaf.
func (e *ChunkedEncoder) EncodeChunk(plaintext []byte) (*EncryptedChunk, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	if len(plaintext) > e.chunkSize {
		return nil, fmt.Errorf("objects: chunk of %d bytes exceeds chunk size %d", len(plaintext), e.chunkSize)
	}

	nonce := crypt.NewNonce()
	ct, err := e.ae.Seal(nonce, plaintext, chunkAad(e.index))
	if err != nil {
		return nil, err
	}
	e.tree.WriteChunk(plaintext)
	e.nonces = append(e.nonces, nonce)

	chunk := &EncryptedChunk{Index: e.index, Ciphertext: ct, Nonce: nonce}
	e.index++
	return chunk, nil
}

// Finalize commits the tree and returns the index metadata plus the
// outboard. Zero chunks is invalid.
func (e *ChunkedEncoder) Finalize(contentType string) (*ChunkedFileMetadata, *bao.Outboard, error) {
	if e.index == 0 {
		return nil, nil, ErrEmptyPlaintext
	}
	outboard := e.tree.Finalize()

	meta := &ChunkedFileMetadata{
		Format:      ChunkedFormat,
		ChunkSize:   uint32(e.chunkSize),
		NumChunks:   e.index,
		TotalSize:   outboard.ContentLength,
		RootHash:    outboard.Root[:],
		ChunkNonces: e.nonces,
		ContentType: contentType,
	}
	return meta, outboard, nil
}

// EncryptChunked runs the full chunked write pipeline over an in-memory
// payload: split, encrypt each chunk, commit the tree, wrap the DEK, seal
// the private metadata, and assemble a version-3 envelope.
func EncryptChunked(keys *crypt.KeyManager, dek *crypt.DekKey, cipher crypt.Cipher, plaintext []byte, chunkSize int, meta *PrivateMetadata) ([]*EncryptedChunk, *Envelope, error) {
	if len(plaintext) == 0 {
		return nil, nil, ErrEmptyPlaintext
	}

	enc, err := NewChunkedEncoder(dek, cipher, chunkSize)
	if err != nil {
		return nil, nil, err
	}

	var chunks []*EncryptedChunk
	contentType := ""
	if meta != nil {
		contentType = meta.ContentType
	}
	for off := 0; off < len(plaintext); off += enc.ChunkSize() {
		end := off + enc.ChunkSize()
		if end > len(plaintext) {
			end = len(plaintext)
		}
		c, err := enc.EncodeChunk(plaintext[off:end])
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, c)
	}

	chunkMeta, outboard, err := enc.Finalize(contentType)
	if err != nil {
		return nil, nil, err
	}

	wrapped, err := hpke.EncryptDek(keys.PublicKey(), dek, hpke.AadDekWrap)
	if err != nil {
		return nil, nil, err
	}

	env := &Envelope{
		Version:         EnvelopeV3,
		Algorithm:       string(cipher),
		WrappedKey:      WrappedKeyFrom(wrapped),
		KekVersion:      keys.CurrentVersion(),
		MetadataPrivacy: true,
		Chunked:         chunkMeta,
		BaoOutboard:     outboard.Bytes(),
	}

	if meta != nil {
		encMeta, err := EncryptPrivateMetadata(meta, dek, cipher)
		if err != nil {
			return nil, nil, err
		}
		env.PrivateMetadata = encMeta
	}

	return chunks, env, nil
}

// ChunkedDecoder decrypts and verifies chunks of a large object. The
// outboard is checked against the committed root before any leaf is
// trusted; each decrypted chunk is then checked against its leaf. No
// decrypted bytes are yielded for a chunk that fails verification.
type ChunkedDecoder struct {
	ae       *crypt.Aead
	meta     *ChunkedFileMetadata
	outboard *bao.Outboard
}

// NewChunkedDecoder builds a decoder from a version-3 envelope and the
// unwrapped object DEK.
func NewChunkedDecoder(dek *crypt.DekKey, env *Envelope) (*ChunkedDecoder, error) {
	if env.Chunked == nil {
		return nil, ErrNotChunked
	}
	cipher, err := crypt.ParseCipher(env.Algorithm)
	if err != nil {
		return nil, err
	}
	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, err
	}

	outboard, err := bao.OutboardFromBytes(env.BaoOutboard)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypt.ErrIntegrity, err)
	}
	if len(env.Chunked.RootHash) != bao.HashSize {
		return nil, fmt.Errorf("%w: bad root hash length", crypt.ErrIntegrity)
	}
	var root [bao.HashSize]byte
	copy(root[:], env.Chunked.RootHash)
	if err := outboard.VerifyAgainstRoot(root); err != nil {
		return nil, fmt.Errorf("%w: outboard does not match root", crypt.ErrIntegrity)
	}
	if uint32(len(outboard.Leaves)) != env.Chunked.NumChunks || outboard.ContentLength != env.Chunked.TotalSize {
		return nil, fmt.Errorf("%w: outboard shape mismatch", crypt.ErrIntegrity)
	}

	return &ChunkedDecoder{ae: ae, meta: env.Chunked, outboard: outboard}, nil
}

// Meta returns the chunk layout.
func (d *ChunkedDecoder) Meta() *ChunkedFileMetadata { return d.meta }

// DecryptChunk opens chunk i and verifies it against the tree. Every failure
// mode (auth, leaf mismatch, bad nonce) surfaces as an integrity error and
// yields no plaintext.
func (d *ChunkedDecoder) DecryptChunk(i uint32, ciphertext []byte) ([]byte, error) {
	nonce, err := d.meta.ChunkNonce(i)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d", crypt.ErrIntegrity, i)
	}
	plaintext, err := d.ae.Open(nonce, ciphertext, chunkAad(i))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d", crypt.ErrIntegrity, i)
	}
	if err := d.outboard.VerifyChunk(int(i), plaintext); err != nil {
		crypt.Zero(plaintext)
		return nil, fmt.Errorf("%w: chunk %d", crypt.ErrIntegrity, i)
	}
	return plaintext, nil
}

// SliceRange cuts [offset, offset+length) out of consecutively decrypted
// chunks starting at firstChunk.
func (d *ChunkedDecoder) SliceRange(chunks [][]byte, firstChunk uint32, offset, length uint64) ([]byte, error) {
	if offset+length > d.meta.TotalSize || offset > offset+length {
		return nil, ErrRangeOutOfBounds
	}
	out := make([]byte, 0, length)
	size := uint64(d.meta.ChunkSize)
	for n, chunk := range chunks {
		chunkStart := (uint64(firstChunk) + uint64(n)) * size
		chunkEnd := chunkStart + uint64(len(chunk))

		start := max64(offset, chunkStart)
		end := min64(offset+length, chunkEnd)
		if start < end {
			out = append(out, chunk[start-chunkStart:end-chunkStart]...)
		}
	}
	if uint64(len(out)) != length {
		return nil, fmt.Errorf("%w: assembled %d of %d bytes", ErrMissingChunk, len(out), length)
	}
	return out, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
