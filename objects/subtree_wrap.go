package objects

import (
	"github.com/functionland/fula-storage-go/crypt"
)

// AadSubtreeWrap binds subtree wraps of object DEKs.
const AadSubtreeWrap = "fula:v2:subtree-wrap"

// WrapDekForSubtree seals the object DEK under a subtree DEK so holders of
// the subtree key can decrypt this object.
func WrapDekForSubtree(objectDek, subtreeDek *crypt.DekKey, cipher crypt.Cipher) (*SymmetricWrap, error) {
	ae, err := crypt.NewAead(subtreeDek, cipher)
	if err != nil {
		return nil, err
	}
	nonce := crypt.NewNonce()
	ct, err := ae.Seal(nonce, objectDek.Bytes(), []byte(AadSubtreeWrap))
	if err != nil {
		return nil, err
	}
	return &SymmetricWrap{Nonce: nonce, Ciphertext: ct}, nil
}

// UnwrapDekWithSubtree recovers the object DEK with the subtree DEK.
func UnwrapDekWithSubtree(wrap *SymmetricWrap, subtreeDek *crypt.DekKey, cipher crypt.Cipher) (*crypt.DekKey, error) {
	ae, err := crypt.NewAead(subtreeDek, cipher)
	if err != nil {
		return nil, err
	}
	raw, err := ae.Open(wrap.Nonce, wrap.Ciphertext, []byte(AadSubtreeWrap))
	if err != nil {
		return nil, err
	}
	dek, err := crypt.DekFromBytes(raw)
	crypt.Zero(raw)
	return dek, err
}
