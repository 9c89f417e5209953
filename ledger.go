package custos

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the signing capability of a single account. It is
// deliberately minimal so hardware wallets and remote signers can
// implement it as well as in-memory keys.
type Identity interface {
	// Address returns the account address of this identity.
	Address() common.Address
	// SignHash signs the given 32 byte digest and returns a 65 byte
	// signature in r || s || v form with v being 27 or 28.
	SignHash(digest [32]byte) ([]byte, error)
}

// Receipt describes the outcome of a confirmed submission.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	// OK is false when the transaction was included but reverted.
	OK bool
}

// Ledger is the read/write capability custos requires from the chain
// client. The workflow and the relay depend on it but do not implement
// it. Every call is a suspension point and may fail with a network
// error.
type Ledger interface {
	// ReadView executes a read only call against the contract and
	// returns the raw result bytes.
	ReadView(ctx Context, contract common.Address, data []byte) ([]byte, error)
	// Submit signs and broadcasts a state changing call. It returns
	// the transaction hash without waiting for inclusion.
	Submit(ctx Context, contract common.Address, data []byte, signer Identity) (common.Hash, error)
	// WaitForConfirmation blocks until the transaction is included and
	// returns its receipt.
	WaitForConfirmation(ctx Context, tx common.Hash) (*Receipt, error)
	// ChainID returns the identifier of the chain this ledger talks to.
	ChainID(ctx Context) (*big.Int, error)
	// SuggestGasPrice returns the current gas price estimate.
	SuggestGasPrice(ctx Context) (*big.Int, error)
}
