package custostest

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/iov-one/custos"
)

// Signer is a throw-away secp256k1 identity.
type Signer struct {
	key *ecdsa.PrivateKey
}

var _ custos.Identity = (*Signer)(nil)

// NewSigner generates a fresh random key. It panics on entropy failure
// as that must never happen in a test environment.
func NewSigner() *Signer {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &Signer{key: key}
}

// Address returns the account address of this identity.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignHash signs the digest and returns a 65 byte signature with the
// recovery byte normalized to 27 or 28.
func (s *Signer) SignHash(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, err
	}
	if sig[64] == 0 || sig[64] == 1 {
		sig[64] += 27
	}
	return sig, nil
}
