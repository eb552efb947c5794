package forest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/functionland/fula-storage-go/crypt"
)

// AadForest is the AEAD context binding forest blobs. Forest encryption is
// symmetric-only: the forest DEK is derived from the root secret, so there
// is nothing to HPKE-wrap.
const AadForest = "fula:v2:forest"

// Shared zstd coders; EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Encode serializes, compresses, and encrypts the forest under the forest
// DEK with a fresh nonce. Output layout: format byte, nonce, ciphertext.
func (f *Forest) Encode(dek *crypt.DekKey, cipher crypt.Cipher) ([]byte, error) {
	body, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("forest: marshal: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(body, nil)

	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, err
	}
	nonce := crypt.NewNonce()
	ct, err := ae.Seal(nonce, compressed, []byte(AadForest))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(nonce)+len(ct))
	out = append(out, byte(f.Format))
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Decode decrypts and parses a forest blob. The leading discriminator byte
// selects the expected format; a body that disagrees with it is corrupt.
func Decode(blob []byte, dek *crypt.DekKey, cipher crypt.Cipher) (*Forest, error) {
	if len(blob) < 1+crypt.NonceSize {
		return nil, ErrCorrupt
	}
	format := Format(blob[0])
	if format != FlatMapV1 && format != HamtV2 {
		return nil, fmt.Errorf("%w: discriminator %d", ErrUnknownFormat, blob[0])
	}

	nonce := blob[1 : 1+crypt.NonceSize]
	ct := blob[1+crypt.NonceSize:]

	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, err
	}
	compressed, err := ae.Open(nonce, ct, []byte(AadForest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	body, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}

	var f Forest
	if err := cbor.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrCorrupt, err)
	}
	if f.Format != format {
		return nil, fmt.Errorf("%w: body format %d, discriminator %d", ErrCorrupt, f.Format, format)
	}
	if f.Files == nil {
		f.Files = make(map[string]*FileEntry)
	}
	if f.Directories == nil {
		f.Directories = make(map[string]*DirectoryEntry)
	}
	f.migrationThreshold = DefaultMigrationThreshold
	return &f, nil
}
