package metatx

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	solsha3 "github.com/miguelmota/go-solidity-sha3"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/registry"
)

// Kind tells which lifecycle transition a meta transaction authorizes.
type Kind string

const (
	// KindApprove authorizes the approval of an existing record.
	KindApprove Kind = "approve"
	// KindCancel authorizes the cancellation of an existing record.
	KindCancel Kind = "cancel"
	// KindSinglePhase authorizes request and approval in one ledger
	// call, skipping the time lock by construction.
	KindSinglePhase Kind = "single-phase"
)

// SignatureLength is the length of a packed secp256k1 signature.
const SignatureLength = 65

var (
	selMetaApprove  = custos.NewSelector("approveOperationMeta(uint256,uint256,uint256,uint256,bytes)")
	selMetaCancel   = custos.NewSelector("cancelOperationMeta(uint256,uint256,uint256,uint256,bytes)")
	selSinglePhase  = custos.NewSelector("requestAndApprove(bytes32,address,uint256,uint256,uint256,uint256,bytes,bytes)")
	selMetaNonce    = custos.NewSelector("metaNonce(address)")
	signedMsgPrefix = []byte("\x19Ethereum Signed Message:\n32")
)

// MetaTx is a bounded, replay protected authorization produced by one
// identity and broadcast later by another.
type MetaTx struct {
	Kind     Kind
	Op       registry.OperationID
	// TxID is the ledger assigned record id this authorization applies
	// to. It is zero for single phase transactions which create their
	// own record.
	TxID    uint64
	ChainID *big.Int
	// Handler is the custodian contract the authorization is bound to.
	Handler common.Address
	// Nonce is unique per (signer, custodian) and consumed
	// monotonically by the contract.
	Nonce    uint64
	Deadline custos.UnixTime
	// MaxGasPrice bounds the gas price the signer agrees to pay for.
	MaxGasPrice *big.Int

	// Target, Value and Payload describe the inner action for single
	// phase transactions. They are zero for approvals and
	// cancellations of existing records.
	Target  common.Address
	Value   *big.Int
	Payload []byte

	Signer    common.Address
	Signature []byte
}

// Validate returns an error if the meta transaction is malformed.
func (m MetaTx) Validate() error {
	switch m.Kind {
	case KindApprove, KindCancel:
		if m.TxID == 0 {
			return errors.Wrap(errors.ErrInput, "record id is required")
		}
	case KindSinglePhase:
		if m.TxID != 0 {
			return errors.Wrap(errors.ErrInput, "single phase transaction cannot reference a record")
		}
	default:
		return errors.Wrapf(errors.ErrInput, "kind %q", string(m.Kind))
	}
	if m.ChainID == nil || m.ChainID.Sign() <= 0 {
		return errors.Wrap(errors.ErrInput, "chain id is required")
	}
	if m.Handler == (common.Address{}) {
		return errors.Wrap(errors.ErrInput, "handler contract is required")
	}
	if m.Deadline.IsZero() {
		return errors.Wrap(errors.ErrInput, "deadline is required")
	}
	if m.MaxGasPrice == nil || m.MaxGasPrice.Sign() <= 0 {
		return errors.Wrap(errors.ErrInput, "max gas price is required")
	}
	if len(m.Signature) != 0 && len(m.Signature) != SignatureLength {
		return errors.Wrapf(errors.ErrInput, "signature must be %d bytes, got %d", SignatureLength, len(m.Signature))
	}
	return nil
}

// broadcastSelector is the contract entry point a meta transaction of
// the given kind is submitted through.
func broadcastSelector(k Kind) custos.Selector {
	switch k {
	case KindCancel:
		return selMetaCancel
	case KindSinglePhase:
		return selSinglePhase
	}
	return selMetaApprove
}

// SignBytes computes the 32 byte digest the signer commits to. All
// bounds of the authorization are part of the digest: chain, contract,
// entry point, nonce, deadline and gas price cap, plus the hash of the
// inner action. Binding the entry point keeps an approval from being
// replayed as a cancellation.
func SignBytes(m MetaTx) [32]byte {
	inner := crypto.Keccak256(
		custos.AddressWord(m.Target),
		custos.BigWord(m.Value),
		m.Payload,
	)
	digest := solsha3.SoliditySHA3(
		[]string{"uint256", "address", "bytes32", "bytes32", "uint256", "uint256", "uint256", "uint256", "bytes32"},
		[]interface{}{
			m.ChainID,
			m.Handler.Hex(),
			common.RightPadBytes(broadcastSelector(m.Kind).Bytes(), 32),
			m.Op.Bytes(),
			new(big.Int).SetUint64(m.TxID),
			new(big.Int).SetUint64(m.Nonce),
			new(big.Int).SetInt64(int64(m.Deadline)),
			m.MaxGasPrice,
			inner,
		},
	)

	var out [32]byte
	copy(out[:], crypto.Keccak256(signedMsgPrefix, digest))
	return out
}

// Sign computes the digest and attaches the identity's signature.
func Sign(m *MetaTx, identity custos.Identity) error {
	digest := SignBytes(*m)
	sig, err := identity.SignHash(digest)
	if err != nil {
		return errors.Wrap(err, "sign digest")
	}
	if len(sig) != SignatureLength {
		return errors.Wrapf(errors.ErrInvalidSignature, "signer returned %d bytes", len(sig))
	}
	m.Signer = identity.Address()
	m.Signature = sig
	return nil
}

// VerifySignature recovers the signing address from the signature and
// compares it against the declared signer.
func VerifySignature(m MetaTx) error {
	if len(m.Signature) != SignatureLength {
		return errors.Wrapf(errors.ErrInvalidSignature, "signature must be %d bytes, got %d", SignatureLength, len(m.Signature))
	}
	digest := SignBytes(m)

	sig := make([]byte, SignatureLength)
	copy(sig, m.Signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidSignature, "cannot recover signer: %s", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != m.Signer {
		return errors.Wrapf(errors.ErrInvalidSignature, "signed by %s, expected %s", recovered.Hex(), m.Signer.Hex())
	}
	return nil
}

// BroadcastCalldata builds the call data that submits this meta
// transaction to the custodian contract.
func BroadcastCalldata(m MetaTx) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(m.Signature) != SignatureLength {
		return nil, errors.Wrap(errors.ErrInput, "meta transaction is not signed")
	}

	switch m.Kind {
	case KindApprove, KindCancel:
		data := custos.Calldata(broadcastSelector(m.Kind),
			custos.Uint64Word(m.TxID),
			custos.Uint64Word(m.Nonce),
			custos.Uint64Word(uint64(m.Deadline)),
			custos.BigWord(m.MaxGasPrice),
		)
		return append(data, m.Signature...), nil
	case KindSinglePhase:
		data := custos.Calldata(selSinglePhase,
			m.Op.Bytes(),
			custos.AddressWord(m.Target),
			custos.BigWord(m.Value),
			custos.Uint64Word(m.Nonce),
			custos.Uint64Word(uint64(m.Deadline)),
			custos.BigWord(m.MaxGasPrice),
			custos.Uint64Word(uint64(len(m.Payload))),
		)
		data = append(data, m.Payload...)
		return append(data, m.Signature...), nil
	}
	return nil, errors.Wrapf(errors.ErrHuman, "kind %q", string(m.Kind))
}

// NextNonce reads the next meta transaction nonce of the given signer
// as recorded on the custodian contract.
func NextNonce(ctx custos.Context, ledger custos.Ledger, custodian, signer common.Address) (uint64, error) {
	raw, err := ledger.ReadView(ctx, custodian, custos.Calldata(selMetaNonce, custos.AddressWord(signer)))
	if err != nil {
		return 0, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return custos.WordToUint64(raw), nil
}
