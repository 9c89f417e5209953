package ethrpc

import (
	"crypto/ecdsa"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

// Key is a secp256k1 identity loaded from a hex encoded private key.
type Key struct {
	key *ecdsa.PrivateKey
}

var _ custos.Identity = (*Key)(nil)

// LoadKeyFile reads a hex encoded private key from the given file.
// Surrounding whitespace and an optional 0x prefix are tolerated.
func LoadKeyFile(path string) (*Key, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInput, err.Error())
	}
	return KeyFromHex(string(raw))
}

// KeyFromHex parses a hex encoded private key.
func KeyFromHex(s string) (*Key, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInput, "private key: %s", err)
	}
	return &Key{key: key}, nil
}

// Address returns the account address of this identity.
func (k *Key) Address() common.Address {
	return crypto.PubkeyToAddress(k.key.PublicKey)
}

// SignHash signs the digest and returns a 65 byte signature with the
// recovery byte normalized to 27 or 28.
func (k *Key) SignHash(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], k.key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidSignature, err.Error())
	}
	if sig[64] == 0 || sig[64] == 1 {
		sig[64] += 27
	}
	return sig, nil
}
