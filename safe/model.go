package safe

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos/errors"
)

// sigLength is the length of a single packed owner signature.
const sigLength = 65

// Confirmation is one owner's recorded approval of a queued
// transaction.
type Confirmation struct {
	Owner     common.Address `json:"owner"`
	Signature string         `json:"signature"`
}

// PendingTx mirrors a transaction queued on the external k-of-n wallet.
// It is read only from our point of view: the aggregator observes and
// re-packages confirmations but never writes them.
type PendingTx struct {
	SafeTxHash            string         `json:"safeTxHash"`
	To                    common.Address `json:"to"`
	Value                 string         `json:"value"`
	Data                  string         `json:"data"`
	Operation             int            `json:"operation"`
	Nonce                 uint64         `json:"nonce"`
	Confirmations         []Confirmation `json:"confirmations"`
	ConfirmationsRequired int            `json:"confirmationsRequired"`
}

// Confirmed returns the number of collected confirmations.
func (t PendingTx) Confirmed() int {
	return len(t.Confirmations)
}

// Remaining returns how many confirmations are still missing. It never
// goes below zero.
func (t PendingTx) Remaining() int {
	if r := t.ConfirmationsRequired - t.Confirmed(); r > 0 {
		return r
	}
	return 0
}

// IsComplete reports whether the confirmation threshold is met. Once it
// is, the external wallet itself becomes responsible for execution.
func (t PendingTx) IsComplete() bool {
	return t.Confirmed() >= t.ConfirmationsRequired
}

// ValueBig parses the decimal value field.
func (t PendingTx) ValueBig() (*big.Int, error) {
	if t.Value == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return nil, errors.Wrapf(errors.ErrSerialization, "malformed value %q", t.Value)
	}
	return v, nil
}

// DataBytes decodes the hex call data field.
func (t PendingTx) DataBytes() ([]byte, error) {
	raw := strings.TrimPrefix(t.Data, "0x")
	if raw == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSerialization, "call data: %s", err)
	}
	return data, nil
}

// AssembleSignatures reconstructs the submittable signature blob from
// the individually collected per owner signatures. Signatures are
// concatenated in the order of the given owner list with the 0x prefix
// normalized away, because the wallet's aggregation format differs from
// a single account signature and must be assembled before use as call
// data. A confirmation from an address outside the owner list is
// rejected.
func (t PendingTx) AssembleSignatures(owners []common.Address) ([]byte, error) {
	byOwner := make(map[common.Address]string, len(t.Confirmations))
	for _, c := range t.Confirmations {
		known := false
		for _, o := range owners {
			if o == c.Owner {
				known = true
				break
			}
		}
		if !known {
			return nil, errors.Wrapf(errors.ErrInput, "confirmation from %s which is not an owner", c.Owner.Hex())
		}
		byOwner[c.Owner] = c.Signature
	}

	out := make([]byte, 0, len(byOwner)*sigLength)
	for _, owner := range owners {
		sig, ok := byOwner[owner]
		if !ok {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrSerialization, "signature of %s: %s", owner.Hex(), err)
		}
		if len(raw) != sigLength {
			return nil, errors.Wrapf(errors.ErrInput, "signature of %s must be %d bytes, got %d", owner.Hex(), sigLength, len(raw))
		}
		out = append(out, raw...)
	}
	return out, nil
}
