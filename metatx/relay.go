package metatx

import (
	"math/big"
	"strconv"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/registry"
	"github.com/iov-one/custos/txstore"
)

// SignOptions bound the authorization being produced. Both fields are
// required: an unbounded meta transaction must never exist.
type SignOptions struct {
	// Deadline is an absolute timestamp, strictly in the future at
	// signing time. The authorization is valid for broadcast only
	// while now is not past it.
	Deadline custos.UnixTime
	// MaxGasPrice is the highest gas price the signer agrees to.
	MaxGasPrice *big.Int
}

func (o SignOptions) validate(ctx custos.Context) error {
	if o.Deadline.IsZero() {
		return errors.Wrap(errors.ErrInput, "deadline is required")
	}
	if custos.IsExpired(ctx, o.Deadline) {
		return errors.Wrap(errors.ErrInput, "deadline must be strictly in the future")
	}
	if o.MaxGasPrice == nil || o.MaxGasPrice.Sign() <= 0 {
		return errors.Wrap(errors.ErrInput, "max gas price is required")
	}
	return nil
}

// Relay builds deadline bound authorizations, obtains a signature from
// the caller's identity without touching the execution path, and keeps
// them in the durable store until a broadcaster submits them. Signing
// and submission are decoupled by design so the two steps can be
// performed by different identities, at different times.
type Relay struct {
	ledger    custos.Ledger
	reg       *registry.Registry
	store     *txstore.Store
	custodian common.Address
	logger    log.Logger
}

// NewRelay returns a relay for a single custodian contract. The store
// handle is explicit so several relays can share one durable store.
func NewRelay(ledger custos.Ledger, reg *registry.Registry, store *txstore.Store, custodian common.Address, logger log.Logger) *Relay {
	if logger == nil {
		logger = custos.DefaultLogger
	}
	return &Relay{
		ledger:    ledger,
		reg:       reg,
		store:     store,
		custodian: custodian,
		logger:    logger.New("custodian", custodian.Hex()),
	}
}

// Custodian returns the custodian contract this relay is bound to.
func (r *Relay) Custodian() common.Address {
	return r.custodian
}

// Store exposes the durable store handle so observers can subscribe.
func (r *Relay) Store() *txstore.Store {
	return r.store
}

// Sign produces an authorization for an existing record. Phase must be
// one of the meta phases. The result is persisted under the record's
// ledger id and returned. No network access happens beyond message
// construction reads.
func (r *Relay) Sign(ctx custos.Context, op registry.OperationID, phase registry.Phase, txID uint64, opts SignOptions, identity custos.Identity) (string, txstore.Stored, error) {
	var kind Kind
	switch phase {
	case registry.PhaseMetaApprove:
		kind = KindApprove
	case registry.PhaseMetaCancel:
		kind = KindCancel
	default:
		return "", txstore.Stored{}, errors.Wrapf(errors.ErrInput, "phase %q cannot be signed off path", string(phase))
	}
	if txID == 0 {
		return "", txstore.Stored{}, errors.Wrap(errors.ErrInput, "record id is required")
	}

	opType, err := r.reg.Resolve(op)
	if err != nil {
		return "", txstore.Stored{}, err
	}
	m, err := r.prepare(ctx, kind, opType, opts, identity)
	if err != nil {
		return "", txstore.Stored{}, err
	}
	m.TxID = txID

	key := txstore.KeyForTx(txID)
	stored, err := r.seal(ctx, m, key, identity)
	return key, stored, err
}

// SignSinglePhase produces an authorization that requests and approves
// a new record in one ledger call. The signer, not the protocol,
// accepts the risk of skipping the time lock. The result is persisted
// under a synthesized temporary id that has no relationship to the
// eventual ledger assigned record id.
func (r *Relay) SignSinglePhase(ctx custos.Context, op registry.OperationID, target common.Address, value *big.Int, payload []byte, opts SignOptions, identity custos.Identity) (string, txstore.Stored, error) {
	opType, err := r.reg.Resolve(op)
	if err != nil {
		return "", txstore.Stored{}, err
	}
	m, err := r.prepare(ctx, KindSinglePhase, opType, opts, identity)
	if err != nil {
		return "", txstore.Stored{}, err
	}
	m.Target = target
	m.Value = value
	m.Payload = payload

	key := txstore.TempKey()
	stored, err := r.seal(ctx, m, key, identity)
	return key, stored, err
}

// prepare assembles the unsigned meta transaction: chain binding and
// replay protection come from the ledger, bounds from the options.
func (r *Relay) prepare(ctx custos.Context, kind Kind, opType registry.OperationType, opts SignOptions, identity custos.Identity) (*MetaTx, error) {
	if err := opts.validate(ctx); err != nil {
		return nil, err
	}
	chainID, err := r.ledger.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	nonce, err := NextNonce(ctx, r.ledger, r.custodian, identity.Address())
	if err != nil {
		return nil, err
	}
	return &MetaTx{
		Kind:        kind,
		Op:          opType.ID,
		ChainID:     chainID,
		Handler:     r.custodian,
		Nonce:       nonce,
		Deadline:    opts.Deadline,
		MaxGasPrice: opts.MaxGasPrice,
	}, nil
}

// seal signs the meta transaction and persists the broadcast ready
// payload.
func (r *Relay) seal(ctx custos.Context, m *MetaTx, key string, identity custos.Identity) (txstore.Stored, error) {
	if err := Sign(m, identity); err != nil {
		return txstore.Stored{}, err
	}
	data, err := BroadcastCalldata(*m)
	if err != nil {
		return txstore.Stored{}, err
	}
	stored := txstore.Stored{
		SignedData: hexutil.Encode(data),
		CreatedAt:  custos.AsUnixTime(custos.Now(ctx)),
		Metadata:   metadataFor(*m),
	}
	if err := r.store.Put(r.custodian, key, stored); err != nil {
		return txstore.Stored{}, errors.Wrap(err, "persist signed transaction")
	}
	r.logger.Info("signed transaction stored",
		"key", key, "kind", string(m.Kind), "nonce", m.Nonce, "deadline", int64(m.Deadline))
	return stored, nil
}

// Broadcast submits a previously stored authorization. The caller must
// be the custodian's current broadcaster, verified freshly against the
// live ledger state immediately before submission. On success the
// stored copy is removed; on any failure it is left intact so the
// caller may retry or re-sign.
func (r *Relay) Broadcast(ctx custos.Context, key string, identity custos.Identity) (*custos.Receipt, error) {
	stored, err := r.store.Get(r.custodian, key)
	if err != nil {
		return nil, err
	}

	// Broadcaster identity is never cached: a stale value here is a
	// correctness hazard, not an optimization opportunity.
	raw, err := r.ledger.ReadView(ctx, r.custodian, custos.Calldata(registry.RoleBroadcaster.Getter()))
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	current := custos.WordToAddress(raw)
	if current != identity.Address() {
		return nil, errors.Wrapf(errors.ErrNotBroadcaster, "broadcaster is %s, caller is %s", current.Hex(), identity.Address().Hex())
	}

	deadline, maxGasPrice, err := bounds(stored)
	if err != nil {
		return nil, err
	}
	if custos.DeadlineExceeded(ctx, deadline) {
		return nil, errors.Wrapf(errors.ErrExpired, "deadline %s has passed", deadline)
	}
	gasPrice, err := r.ledger.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if gasPrice.Cmp(maxGasPrice) > 0 {
		return nil, errors.Wrapf(errors.ErrGasPriceExceeded, "current %s exceeds signed maximum %s", gasPrice, maxGasPrice)
	}

	payload, err := stored.Payload()
	if err != nil {
		return nil, err
	}
	txHash, err := r.ledger.Submit(ctx, r.custodian, payload, identity)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	receipt, err := r.ledger.WaitForConfirmation(ctx, txHash)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if !receipt.OK {
		return receipt, errors.Wrapf(errors.ErrState, "transaction %s reverted", txHash.Hex())
	}

	if err := r.store.Delete(r.custodian, key); err != nil {
		// Better a duplicate prompt than a lost confirmation: the
		// submission went through, so report success and leave the
		// stored copy visible.
		r.logger.Error("broadcast confirmed but stored copy could not be removed",
			"key", key, "tx", txHash.Hex(), "err", err)
		return receipt, nil
	}
	r.logger.Info("broadcast confirmed", "key", key, "tx", txHash.Hex())
	return receipt, nil
}

// Metadata keys attached to every stored transaction.
const (
	metaKind        = "kind"
	metaOperation   = "operation"
	metaTxID        = "txId"
	metaNonceKey    = "nonce"
	metaDeadline    = "deadline"
	metaMaxGasPrice = "maxGasPrice"
	metaSigner      = "signer"
)

func metadataFor(m MetaTx) map[string]string {
	md := map[string]string{
		metaKind:        string(m.Kind),
		metaOperation:   m.Op.String(),
		metaNonceKey:    strconv.FormatUint(m.Nonce, 10),
		metaDeadline:    strconv.FormatInt(int64(m.Deadline), 10),
		metaMaxGasPrice: m.MaxGasPrice.String(),
		metaSigner:      m.Signer.Hex(),
	}
	if m.TxID != 0 {
		md[metaTxID] = strconv.FormatUint(m.TxID, 10)
	}
	return md
}

// bounds extracts the deadline and gas price cap recorded with a stored
// transaction.
func bounds(stored txstore.Stored) (custos.UnixTime, *big.Int, error) {
	rawDeadline, ok := stored.Metadata[metaDeadline]
	if !ok {
		return 0, nil, errors.Wrap(errors.ErrSerialization, "stored transaction has no deadline")
	}
	deadline, err := strconv.ParseInt(rawDeadline, 10, 64)
	if err != nil {
		return 0, nil, errors.Wrapf(errors.ErrSerialization, "deadline: %s", err)
	}
	rawMax, ok := stored.Metadata[metaMaxGasPrice]
	if !ok {
		return 0, nil, errors.Wrap(errors.ErrSerialization, "stored transaction has no gas price cap")
	}
	maxGasPrice, ok := new(big.Int).SetString(rawMax, 10)
	if !ok {
		return 0, nil, errors.Wrapf(errors.ErrSerialization, "malformed gas price cap %q", rawMax)
	}
	return custos.UnixTime(deadline), maxGasPrice, nil
}
