// Package ethrpc implements the ledger capability over a JSON-RPC
// endpoint of an Ethereum style node.
package ethrpc

import (
	"math/big"
	"time"

	log "github.com/ChainSafe/log15"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

const (
	// receiptPollInterval is how often a submitted transaction is
	// checked for inclusion.
	receiptPollInterval = 3 * time.Second

	// gasLimitSlack is applied on top of the node's gas estimate so a
	// state change between estimation and inclusion does not starve the
	// transaction.
	gasLimitSlack = 120
)

// Ledger talks to a single node. It implements custos.Ledger.
type Ledger struct {
	client *ethclient.Client
	logger log.Logger
}

var _ custos.Ledger = (*Ledger)(nil)

// Dial connects to the node at the given RPC endpoint.
func Dial(ctx custos.Context, endpoint string, logger log.Logger) (*Ledger, error) {
	if logger == nil {
		logger = custos.DefaultLogger
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "dial %s: %s", endpoint, err)
	}
	return &Ledger{client: client, logger: logger}, nil
}

// Close releases the underlying connection.
func (l *Ledger) Close() {
	l.client.Close()
}

func (l *Ledger) ReadView(ctx custos.Context, contract common.Address, data []byte) ([]byte, error) {
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "call contract: %s", err)
	}
	return out, nil
}

func (l *Ledger) Submit(ctx custos.Context, contract common.Address, data []byte, signer custos.Identity) (common.Hash, error) {
	from := signer.Address()

	nonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrapf(errors.ErrNetwork, "pending nonce: %s", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrapf(errors.ErrNetwork, "gas price: %s", err)
	}
	gasLimit, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrapf(errors.ErrNetwork, "estimate gas: %s", err)
	}
	gasLimit = gasLimit * gasLimitSlack / 100

	chainID, err := l.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrapf(errors.ErrNetwork, "chain id: %s", err)
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := signTx(tx, chainID, signer)
	if err != nil {
		return common.Hash{}, err
	}

	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrapf(errors.ErrNetwork, "send transaction: %s", err)
	}
	l.logger.Debug("transaction submitted", "tx", signed.Hash().Hex(), "nonce", nonce, "gasPrice", gasPrice)
	return signed.Hash(), nil
}

// signTx routes the node ready transaction hash through the identity's
// raw digest signer.
func signTx(tx *types.Transaction, chainID *big.Int, identity custos.Identity) (*types.Transaction, error) {
	s := types.LatestSignerForChainID(chainID)

	var digest [32]byte
	copy(digest[:], s.Hash(tx).Bytes())
	sig, err := identity.SignHash(digest)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	if len(sig) != 65 {
		return nil, errors.Wrapf(errors.ErrInvalidSignature, "signer returned %d bytes", len(sig))
	}
	// WithSignature expects the recovery byte in its raw 0/1 form.
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}
	signed, err := tx.WithSignature(s, sig)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidSignature, err.Error())
	}
	return signed, nil
}

func (l *Ledger) WaitForConfirmation(ctx custos.Context, tx common.Hash) (*custos.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, tx)
		switch {
		case err == ethereum.NotFound:
			// Not mined yet, keep polling.
		case err != nil:
			return nil, errors.Wrapf(errors.ErrNetwork, "receipt: %s", err)
		default:
			return &custos.Receipt{
				TxHash:      tx,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				OK:          receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(errors.ErrNetwork, "waiting for %s: %s", tx.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Ledger) ChainID(ctx custos.Context) (*big.Int, error) {
	chainID, err := l.client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "chain id: %s", err)
	}
	return chainID, nil
}

func (l *Ledger) SuggestGasPrice(ctx custos.Context) (*big.Int, error) {
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "gas price: %s", err)
	}
	return gasPrice, nil
}
