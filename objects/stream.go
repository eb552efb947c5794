package objects

import (
	"fmt"
	"io"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// ChunkSink receives encrypted chunks as they are produced. Implementations
// typically upload each chunk to the blob store before the next one is read,
// keeping memory proportional to the chunk size.
type ChunkSink func(chunk *EncryptedChunk) error

// EncryptChunkedStream runs the chunked write pipeline over a reader without
// buffering the payload. Chunks are encrypted and handed to sink in order;
// the returned envelope is the version-3 index to store last. The reader
// must yield at least one byte.
func EncryptChunkedStream(keys *crypt.KeyManager, dek *crypt.DekKey, cipher crypt.Cipher, r io.Reader, chunkSize int, meta *PrivateMetadata, sink ChunkSink) (*Envelope, error) {
	enc, err := NewChunkedEncoder(dek, cipher, chunkSize)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, enc.ChunkSize())
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk, encErr := enc.EncodeChunk(buf[:n])
			if encErr != nil {
				return nil, encErr
			}
			if sinkErr := sink(chunk); sinkErr != nil {
				return nil, fmt.Errorf("objects: sink chunk %d: %w", chunk.Index, sinkErr)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objects: read stream: %w", err)
		}
	}

	contentType := ""
	if meta != nil {
		contentType = meta.ContentType
	}
	chunkMeta, outboard, err := enc.Finalize(contentType)
	if err != nil {
		return nil, err
	}

	wrapped, err := hpke.EncryptDek(keys.PublicKey(), dek, hpke.AadDekWrap)
	if err != nil {
		return nil, err
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
		if meta.Size == 0 {
			meta.Size = chunkMeta.TotalSize
		}
		encMeta, err := EncryptPrivateMetadata(meta, dek, cipher)
		if err != nil {
			return nil, err
		}
		env.PrivateMetadata = encMeta
	}
	return env, nil
}
