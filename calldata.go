package custos

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/iov-one/custos/errors"
)

// WordLength is the length of a single calldata word.
const WordLength = 32

// Selector is the 4 byte entry point identifier of a contract function,
// the first four bytes of the Keccak-256 hash of its signature string.
type Selector [4]byte

// NewSelector computes the selector for the given signature string,
// for example "requestOperation(bytes32,address,uint256,bytes)".
func NewSelector(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

// Bytes returns the selector as a byte slice.
func (s Selector) Bytes() []byte {
	return s[:]
}

// Equals checks if two selectors are the same.
func (s Selector) Equals(o Selector) bool {
	return s == o
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Calldata builds raw call data from a selector followed by 32 byte
// argument words.
func Calldata(sel Selector, words ...[]byte) []byte {
	out := make([]byte, 0, 4+len(words)*WordLength)
	out = append(out, sel[:]...)
	for _, w := range words {
		out = append(out, common.LeftPadBytes(w, WordLength)...)
	}
	return out
}

// AddressWord encodes an address as a left padded 32 byte word.
func AddressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), WordLength)
}

// Uint64Word encodes an unsigned integer as a 32 byte word.
func Uint64Word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), WordLength)
}

// BigWord encodes a big integer as a 32 byte word. A nil value encodes
// as zero.
func BigWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, WordLength)
	}
	return common.LeftPadBytes(v.Bytes(), WordLength)
}

// HashWord encodes a 32 byte value as a word.
func HashWord(h [32]byte) []byte {
	out := make([]byte, WordLength)
	copy(out, h[:])
	return out
}

// BoolWord encodes a boolean as a 32 byte word.
func BoolWord(b bool) []byte {
	out := make([]byte, WordLength)
	if b {
		out[WordLength-1] = 1
	}
	return out
}

// SplitWords cuts a raw read result into 32 byte words. The input
// length must be a multiple of the word length.
func SplitWords(raw []byte) ([][]byte, error) {
	if len(raw)%WordLength != 0 {
		return nil, errors.Wrapf(errors.ErrSerialization, "length %d is not a multiple of %d", len(raw), WordLength)
	}
	words := make([][]byte, 0, len(raw)/WordLength)
	for i := 0; i < len(raw); i += WordLength {
		words = append(words, raw[i:i+WordLength])
	}
	return words, nil
}

// WordToUint64 decodes an unsigned integer word. Values that do not fit
// in 64 bits are truncated by taking the low order bytes.
func WordToUint64(w []byte) uint64 {
	return new(big.Int).SetBytes(w).Uint64()
}

// WordToAddress decodes an address word.
func WordToAddress(w []byte) common.Address {
	return common.BytesToAddress(w)
}

// WordToBig decodes a big integer word.
func WordToBig(w []byte) *big.Int {
	return new(big.Int).SetBytes(w)
}

// WordToBool decodes a boolean word. Any non zero content is true.
func WordToBool(w []byte) bool {
	for _, b := range w {
		if b != 0 {
			return true
		}
	}
	return false
}
