package sharing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/functionland/fula-storage-go/blobstore"
	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// InboxPrefix is the root of all inbox entries.
const InboxPrefix = "/.fula/inbox/"

// ShareEnvelope carries a token to an offline recipient, with optional
// human-readable context.
type ShareEnvelope struct {
	Token         *ShareToken `cbor:"1,keyasint"`
	Label         string      `cbor:"2,keyasint,omitempty"`
	Message       string      `cbor:"3,keyasint,omitempty"`
	SharerDisplay string      `cbor:"4,keyasint,omitempty"`
}

// InboxDir returns the recipient's inbox prefix:
// /.fula/inbox/<hex of the first 16 BLAKE3 bytes of the public key>/.
// Knowing a public key reveals the inbox location, nothing else; entries are
// ciphertext only the recipient can open.
func InboxDir(recipient *crypt.PublicKey) string {
	sum := blake3.Sum256(recipient.Bytes())
	return InboxPrefix + hex.EncodeToString(sum[:16]) + "/"
}

// PostToInbox seals the envelope for the recipient and stores it under a
// fresh entry key in their inbox prefix. Returns the entry key.
func PostToInbox(ctx context.Context, store blobstore.Store, recipient *crypt.PublicKey, env *ShareEnvelope) (string, error) {
	body, err := cbor.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("sharing: marshal envelope: %w", err)
	}

	sealed, err := hpke.Seal(recipient, body, hpke.AadInbox)
	if err != nil {
		return "", err
	}
	blob, err := cbor.Marshal(sealed)
	if err != nil {
		return "", fmt.Errorf("sharing: marshal sealed envelope: %w", err)
	}

	entryID := uuid.New()
	key := InboxDir(recipient) + hex.EncodeToString(entryID[:]) + ".share"
	if _, err := store.Put(ctx, key, blob, blobstore.Headers{blobstore.HeaderEncrypted: "true"}); err != nil {
		return "", fmt.Errorf("sharing: post inbox entry: %w", err)
	}
	return key, nil
}

// ListInbox returns the entry keys waiting in the recipient's inbox.
func ListInbox(ctx context.Context, store blobstore.Store, recipient *crypt.PublicKey) ([]string, error) {
	dir := InboxDir(recipient)
	var keys []string
	startAfter := ""
	for {
		res, err := store.List(ctx, dir, startAfter, 1000, "")
		if err != nil {
			return nil, fmt.Errorf("sharing: list inbox: %w", err)
		}
		for _, k := range res.Keys {
			if strings.HasSuffix(k, ".share") {
				keys = append(keys, k)
			}
		}
		if res.NextToken == "" {
			return keys, nil
		}
		startAfter = res.NextToken
	}
}

// OpenInboxEntry fetches and decrypts one inbox entry with the recipient's
// secret key.
func OpenInboxEntry(ctx context.Context, store blobstore.Store, secret *crypt.SecretKey, key string) (*ShareEnvelope, error) {
	blob, _, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("sharing: fetch inbox entry: %w", err)
	}

	var sealed hpke.EncryptedData
	if err := cbor.Unmarshal(blob, &sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	body, err := hpke.Open(secret, &sealed, hpke.AadInbox)
	if err != nil {
		return nil, err
	}

	var env ShareEnvelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if env.Token == nil {
		return nil, ErrMalformedToken
	}
	return &env, nil
}
