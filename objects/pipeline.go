package objects

import (
	"fmt"

	"github.com/functionland/fula-storage-go/crypt"
	"github.com/functionland/fula-storage-go/hpke"
)

// EncryptWhole runs the whole-object write pipeline: seal the plaintext
// under a fresh nonce, wrap the DEK for the owner's public key, seal the
// private metadata, and assemble a version-2 envelope. The caller owns the
// DEK (it is still needed for storage-key derivation) and zeroes it when the
// operation returns.
func EncryptWhole(keys *crypt.KeyManager, dek *crypt.DekKey, cipher crypt.Cipher, plaintext []byte, meta *PrivateMetadata) ([]byte, *Envelope, error) {
	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, nil, err
	}
	nonce := crypt.NewNonce()
	ciphertext, err := ae.Seal(nonce, plaintext, objectAad(EnvelopeV2))
	if err != nil {
		return nil, nil, err
	}

	wrapped, err := hpke.EncryptDek(keys.PublicKey(), dek, hpke.AadDekWrap)
	if err != nil {
		return nil, nil, err
	}

	env := &Envelope{
		Version:         EnvelopeV2,
		Algorithm:       string(cipher),
		Nonce:           nonce,
		WrappedKey:      WrappedKeyFrom(wrapped),
		KekVersion:      keys.CurrentVersion(),
		MetadataPrivacy: true,
	}

	if meta != nil {
		encMeta, err := EncryptPrivateMetadata(meta, dek, cipher)
		if err != nil {
			return nil, nil, err
		}
		env.PrivateMetadata = encMeta
	}

	return ciphertext, env, nil
}

// UnwrapDek recovers the object DEK from an envelope, resolving the keypair
// generation recorded in kek_version. The caller zeroes the returned DEK.
func UnwrapDek(keys *crypt.KeyManager, env *Envelope) (*crypt.DekKey, error) {
	kp, err := keys.KeypairForVersion(env.KekVersion)
	if err != nil {
		return nil, err
	}
	return hpke.DecryptDek(kp.Secret, env.WrappedKey.ToHpke(hpke.AadDekWrap), hpke.AadDekWrap)
}

// DecryptWhole reverses EncryptWhole: unwrap the DEK, open the ciphertext,
// and, when present, open the private-metadata sub-blob. Intermediate key
// material is zeroed before any error returns; no partial plaintext escapes.
func DecryptWhole(keys *crypt.KeyManager, env *Envelope, ciphertext []byte) ([]byte, *PrivateMetadata, error) {
	cipher, err := crypt.ParseCipher(env.Algorithm)
	if err != nil {
		return nil, nil, err
	}

	dek, err := UnwrapDek(keys, env)
	if err != nil {
		return nil, nil, err
	}
	defer dek.Zero()

	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := ae.Open(env.Nonce, ciphertext, objectAad(env.Version))
	if err != nil {
		return nil, nil, err
	}

	var meta *PrivateMetadata
	if env.PrivateMetadata != nil {
		meta, err = DecryptPrivateMetadata(env.PrivateMetadata, dek, cipher)
		if err != nil {
			return nil, nil, err
		}
	}
	return plaintext, meta, nil
}

// DecryptWholeWithDek opens a whole-object ciphertext with an already-known
// DEK, as share recipients do.
func DecryptWholeWithDek(dek *crypt.DekKey, env *Envelope, ciphertext []byte) ([]byte, *PrivateMetadata, error) {
	cipher, err := crypt.ParseCipher(env.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	ae, err := crypt.NewAead(dek, cipher)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := ae.Open(env.Nonce, ciphertext, objectAad(env.Version))
	if err != nil {
		return nil, nil, err
	}

	var meta *PrivateMetadata
	if env.PrivateMetadata != nil {
		meta, err = DecryptPrivateMetadata(env.PrivateMetadata, dek, cipher)
		if err != nil {
			return nil, nil, err
		}
	}
	return plaintext, meta, nil
}

// RewrapEnvelope re-wraps the envelope's DEK for the current keypair without
// touching the ciphertext. Returns false when the envelope already carries
// the current version (nothing to do).
func RewrapEnvelope(keys *crypt.KeyManager, env *Envelope) (bool, error) {
	current := keys.CurrentVersion()
	if env.KekVersion == current {
		return false, nil
	}

	dek, err := UnwrapDek(keys, env)
	if err != nil {
		return false, fmt.Errorf("objects: rewrap: %w", err)
	}
	defer dek.Zero()

	wrapped, err := hpke.EncryptDek(keys.PublicKey(), dek, hpke.AadDekWrap)
	if err != nil {
		return false, err
	}
	env.WrappedKey = WrappedKeyFrom(wrapped)
	env.KekVersion = current
	return true, nil
}
