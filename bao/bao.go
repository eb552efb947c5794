// Package bao implements a BLAKE3 chunk-tree for verified streaming. The
// tree is built over the pipeline's encryption chunks: leaf i is the BLAKE3
// hash of plaintext chunk i, parents hash the concatenation of their
// children, and the root commits to the whole file. The outboard (the leaf
// list) lets a reader verify any single chunk against the root without
// downloading the rest of the file.
package bao

import (
	"encoding/binary"
	"errors"

	"github.com/zeebo/blake3"
)

// HashSize is the BLAKE3 digest length.
const HashSize = 32

var (
	// ErrMismatch indicates a chunk or root hash did not verify.
	ErrMismatch = errors.New("bao: hash mismatch")

	// ErrMalformed indicates outboard bytes that cannot be parsed.
	ErrMalformed = errors.New("bao: malformed outboard")

	// ErrChunkIndex indicates a chunk index outside the tree.
	ErrChunkIndex = errors.New("bao: chunk index out of range")
)

// Outboard is the verification tree for one file: the content length, the
// committed root, and one leaf hash per chunk.
type Outboard struct {
	ContentLength uint64
	Root          [HashSize]byte
	Leaves        [][HashSize]byte
}

// rootOf folds leaf hashes pairwise into a root. A single leaf is its own
// root; an odd node is promoted unchanged.
func rootOf(leaves [][HashSize]byte) [HashSize]byte {
	if len(leaves) == 0 {
		return blake3.Sum256(nil)
	}
	level := leaves
	for len(level) > 1 {
		next := make([][HashSize]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			var buf [2 * HashSize]byte
			copy(buf[:HashSize], level[i][:])
			copy(buf[HashSize:], level[i+1][:])
			next = append(next, blake3.Sum256(buf[:]))
		}
		level = next
	}
	return level[0]
}

// Encoder accumulates chunk hashes during upload. Feed plaintext chunks in
// order; Finalize returns the committed outboard.
type Encoder struct {
	leaves        [][HashSize]byte
	contentLength uint64
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// WriteChunk records one plaintext chunk.
func (e *Encoder) WriteChunk(chunk []byte) {
	e.leaves = append(e.leaves, blake3.Sum256(chunk))
	e.contentLength += uint64(len(chunk))
}

// Chunks returns the number of chunks recorded so far.
func (e *Encoder) Chunks() int { return len(e.leaves) }

// BytesProcessed returns the total plaintext length recorded so far.
func (e *Encoder) BytesProcessed() uint64 { return e.contentLength }

// Finalize computes the root and returns the outboard.
func (e *Encoder) Finalize() *Outboard {
	return &Outboard{
		ContentLength: e.contentLength,
		Root:          rootOf(e.leaves),
		Leaves:        e.leaves,
	}
}

// VerifyAgainstRoot recomputes the root from the leaves and checks it against
// the committed root. Must pass before any leaf is trusted for per-chunk
// verification.
func (o *Outboard) VerifyAgainstRoot(root [HashSize]byte) error {
	if rootOf(o.Leaves) != root {
		return ErrMismatch
	}
	if o.Root != root {
		return ErrMismatch
	}
	return nil
}

// VerifyChunk checks one plaintext chunk against leaf i.
func (o *Outboard) VerifyChunk(i int, plaintext []byte) error {
	if i < 0 || i >= len(o.Leaves) {
		return ErrChunkIndex
	}
	if blake3.Sum256(plaintext) != o.Leaves[i] {
		return ErrMismatch
	}
	return nil
}

// Bytes serializes the outboard: content length (LE u64), root, then leaves.
func (o *Outboard) Bytes() []byte {
	buf := make([]byte, 0, 8+HashSize+len(o.Leaves)*HashSize)
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], o.ContentLength)
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, o.Root[:]...)
	for _, leaf := range o.Leaves {
		buf = append(buf, leaf[:]...)
	}
	return buf
}

// OutboardFromBytes parses a serialized outboard.
func OutboardFromBytes(b []byte) (*Outboard, error) {
	if len(b) < 8+HashSize || (len(b)-8-HashSize)%HashSize != 0 {
		return nil, ErrMalformed
	}
	o := &Outboard{ContentLength: binary.LittleEndian.Uint64(b[:8])}
	copy(o.Root[:], b[8:8+HashSize])
	rest := b[8+HashSize:]
	o.Leaves = make([][HashSize]byte, len(rest)/HashSize)
	for i := range o.Leaves {
		copy(o.Leaves[i][:], rest[i*HashSize:(i+1)*HashSize])
	}
	return o, nil
}

// Encode builds an outboard over data split at chunkSize.
func Encode(data []byte, chunkSize int) *Outboard {
	enc := NewEncoder()
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		enc.WriteChunk(data[:n])
		data = data[n:]
	}
	return enc.Finalize()
}

// Verify checks a complete payload against an outboard and its root.
func Verify(data []byte, o *Outboard, chunkSize int) error {
	if err := o.VerifyAgainstRoot(o.Root); err != nil {
		return err
	}
	if uint64(len(data)) != o.ContentLength {
		return ErrMismatch
	}
	for i := 0; len(data) > 0; i++ {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := o.VerifyChunk(i, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
