package safe

import (
	"math/big"
	"sync"
	"time"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/flow"
	"github.com/iov-one/custos/metatx"
	"github.com/iov-one/custos/registry"
	"github.com/iov-one/custos/txstore"
)

// CanonicalOperation is a queued wallet transaction re-expressed as the
// single custodian operation type every multisig sourced action maps
// to. The payload is the length prefixed call data followed by the
// assembled owner signatures.
type CanonicalOperation struct {
	Op      registry.OperationID
	Target  common.Address
	Value   *big.Int
	Payload []byte
}

// Tracking records how far a single queued wallet transaction has
// progressed through each authorization mechanism. Keyed by the
// wallet's nonce, never by the custodian record id: that id does not
// exist until a request actually executes, and the two authorization
// paths progress independently.
type Tracking struct {
	Nonce uint64
	// RequestedTxID is the custodian record created through the time
	// locked workflow, zero when that path was not taken.
	RequestedTxID uint64
	// SignedKey is the durable store key of the single phase
	// authorization, empty when that path was not taken.
	SignedKey string
	// Broadcast is set once the single phase authorization was
	// submitted successfully.
	Broadcast bool
}

// Aggregator bridges the external wallet's queue into the custodian
// workflow. Both the time locked path and the single phase relay path
// converge on the same canonical operation; the workflow does not need
// to know which mechanism supplied the authorization.
type Aggregator struct {
	client *Client
	ctrl   *flow.Controller
	relay  *metatx.Relay
	reg    *registry.Registry
	safe   common.Address
	owners []common.Address
	logger log.Logger

	mu       sync.Mutex
	tracking map[uint64]*Tracking
	refresh  chan struct{}
}

// NewAggregator wires the aggregator to one external wallet. The owner
// list must be in the wallet's own owner order because signature
// assembly depends on it.
func NewAggregator(client *Client, ctrl *flow.Controller, relay *metatx.Relay, reg *registry.Registry, safe common.Address, owners []common.Address, logger log.Logger) *Aggregator {
	if logger == nil {
		logger = custos.DefaultLogger
	}
	return &Aggregator{
		client:   client,
		ctrl:     ctrl,
		relay:    relay,
		reg:      reg,
		safe:     safe,
		owners:   owners,
		logger:   logger.New("safe", safe.Hex()),
		tracking: make(map[uint64]*Tracking),
		refresh:  make(chan struct{}, 1),
	}
}

// ListPending fetches the wallet's queued transactions.
func (a *Aggregator) ListPending(ctx custos.Context) ([]PendingTx, error) {
	return a.client.ListPending(ctx, a.safe)
}

// ToCanonicalOperation re-expresses a queued wallet transaction as the
// custodian's execute external transaction operation.
func (a *Aggregator) ToCanonicalOperation(tx PendingTx) (*CanonicalOperation, error) {
	opType, err := a.reg.ResolveByName(registry.NameExecuteTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "custodian does not support external execution")
	}
	value, err := tx.ValueBig()
	if err != nil {
		return nil, err
	}
	data, err := tx.DataBytes()
	if err != nil {
		return nil, err
	}
	sigs, err := tx.AssembleSignatures(a.owners)
	if err != nil {
		return nil, err
	}

	payload := custos.Uint64Word(uint64(len(data)))
	payload = append(payload, data...)
	payload = append(payload, sigs...)

	return &CanonicalOperation{
		Op:      opType.ID,
		Target:  tx.To,
		Value:   value,
		Payload: payload,
	}, nil
}

// Request pushes a queued wallet transaction into the time locked
// workflow.
func (a *Aggregator) Request(ctx custos.Context, tx PendingTx, requester custos.Identity) (*flow.Record, error) {
	op, err := a.ToCanonicalOperation(tx)
	if err != nil {
		return nil, err
	}
	rec, err := a.ctrl.Request(ctx, op.Op, op.Target, op.Value, op.Payload, requester)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.track(tx.Nonce).RequestedTxID = rec.TxID
	a.mu.Unlock()

	a.logger.Info("wallet transaction entered workflow", "nonce", tx.Nonce, "txId", rec.TxID)
	return rec, nil
}

// SignSinglePhase produces a stored single phase authorization for a
// queued wallet transaction.
func (a *Aggregator) SignSinglePhase(ctx custos.Context, tx PendingTx, opts metatx.SignOptions, identity custos.Identity) (string, txstore.Stored, error) {
	op, err := a.ToCanonicalOperation(tx)
	if err != nil {
		return "", txstore.Stored{}, err
	}
	key, stored, err := a.relay.SignSinglePhase(ctx, op.Op, op.Target, op.Value, op.Payload, opts, identity)
	if err != nil {
		return "", txstore.Stored{}, err
	}

	a.mu.Lock()
	a.track(tx.Nonce).SignedKey = key
	a.mu.Unlock()

	return key, stored, nil
}

// Broadcast submits the previously signed single phase authorization of
// a queued wallet transaction.
func (a *Aggregator) Broadcast(ctx custos.Context, tx PendingTx, identity custos.Identity) (*custos.Receipt, error) {
	a.mu.Lock()
	t, ok := a.tracking[tx.Nonce]
	var key string
	if ok {
		key = t.SignedKey
	}
	a.mu.Unlock()

	if key == "" {
		return nil, errors.Wrapf(errors.ErrState, "wallet transaction %d has no signed authorization", tx.Nonce)
	}
	receipt, err := a.relay.Broadcast(ctx, key, identity)
	if err != nil {
		return receipt, err
	}

	a.mu.Lock()
	a.track(tx.Nonce).Broadcast = true
	a.mu.Unlock()
	return receipt, nil
}

// Tracking returns the recorded progress of a queued wallet
// transaction.
func (a *Aggregator) Tracking(nonce uint64) (Tracking, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tracking[nonce]
	if !ok {
		return Tracking{}, false
	}
	return *t, true
}

// track returns the tracking entry for a nonce, creating it when
// needed. Caller must hold the mutex.
func (a *Aggregator) track(nonce uint64) *Tracking {
	t, ok := a.tracking[nonce]
	if !ok {
		t = &Tracking{Nonce: nonce}
		a.tracking[nonce] = t
	}
	return t
}

// Poll fetches the pending queue at a fixed interval and hands every
// result to fn. An on demand RefreshNow supersedes the interval. The
// loop ends when the context is cancelled.
func (a *Aggregator) Poll(ctx custos.Context, interval time.Duration, fn func([]PendingTx)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		txs, err := a.ListPending(ctx)
		if err != nil {
			a.logger.Warn("pending queue fetch failed", "err", err)
		} else {
			fn(txs)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.refresh:
		}
	}
}

// RefreshNow triggers an immediate poll round. It never blocks; a
// refresh already queued is enough.
func (a *Aggregator) RefreshNow() {
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}
