package flow

import (
	"math/big"
	"time"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/metatx"
	"github.com/iov-one/custos/registry"
)

var (
	selApprove          = custos.NewSelector("approveOperation(uint256)")
	selCancel           = custos.NewSelector("cancelOperation(uint256)")
	selGetOperation     = custos.NewSelector("getOperation(uint256)")
	selOperationCount   = custos.NewSelector("operationCount()")
	selLockPeriod       = custos.NewSelector("lockPeriod()")
	selExecutionEnabled = custos.NewSelector("executionEnabled()")
)

// minCancelHold is the minimum holding period before a requested
// operation may be cancelled.
const minCancelHold = time.Hour

// Controller drives the per operation lifecycle against the ledger.
// Role and time gates are checked before every submission so a caller
// gets a taxonomy error instead of a bare revert wherever possible; the
// ledger remains the single source of truth for ordering and for the
// final accept or reject.
type Controller struct {
	ledger    custos.Ledger
	reg       *registry.Registry
	custodian common.Address
	logger    log.Logger
}

// NewController returns a controller for a single custodian contract.
func NewController(ledger custos.Ledger, reg *registry.Registry, custodian common.Address, logger log.Logger) *Controller {
	if logger == nil {
		logger = custos.DefaultLogger
	}
	return &Controller{
		ledger:    ledger,
		reg:       reg,
		custodian: custodian,
		logger:    logger.New("custodian", custodian.Hex()),
	}
}

// Custodian returns the custodian contract this controller is bound to.
func (c *Controller) Custodian() common.Address {
	return c.custodian
}

// Request creates a new operation record. The caller must hold the
// request role of the operation type. The new record is re-fetched from
// the ledger so the returned state is never a local guess.
func (c *Controller) Request(ctx custos.Context, op registry.OperationID, target common.Address, value *big.Int, payload []byte, requester custos.Identity) (*Record, error) {
	opType, err := c.reg.Resolve(op)
	if err != nil {
		return nil, err
	}
	if err := c.requireRole(ctx, op, registry.PhaseRequest, requester.Address()); err != nil {
		return nil, err
	}
	if err := c.checkCapability(ctx, opType); err != nil {
		return nil, err
	}

	data := requestCalldata(opType, target, value, payload)
	if err := c.submit(ctx, data, requester); err != nil {
		return nil, errors.Wrapf(err, "request %s", opType.Name)
	}

	rec, err := c.newestRecordBy(ctx, requester.Address())
	if err != nil {
		return nil, err
	}
	c.logger.Info("operation requested", "op", opType.Name, "txId", rec.TxID, "releaseTime", rec.ReleaseTime.String())
	return rec, nil
}

// Approve executes a requested operation once its release time has
// passed. The state transition and the underlying action are one atomic
// ledger call, there is no separate execution step.
func (c *Controller) Approve(ctx custos.Context, txID uint64, approver custos.Identity) (*Record, error) {
	rec, err := c.Operation(ctx, txID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrState, "operation %d is already %s", txID, rec.Status)
	}
	if err := c.requireRole(ctx, rec.Type, registry.PhaseApprove, approver.Address()); err != nil {
		return nil, err
	}
	if now := custos.AsUnixTime(custos.Now(ctx)); now < rec.ReleaseTime {
		return nil, errors.Wrapf(errors.ErrTooEarly, "operation %d releases at %s", txID, rec.ReleaseTime)
	}

	if err := c.submit(ctx, custos.Calldata(selApprove, custos.Uint64Word(txID)), approver); err != nil {
		return nil, errors.Wrapf(err, "approve operation %d", txID)
	}
	return c.Operation(ctx, txID)
}

// Cancel aborts a requested operation. Cancellation is not allowed
// within the minimum holding period after the request.
func (c *Controller) Cancel(ctx custos.Context, txID uint64, canceller custos.Identity) (*Record, error) {
	rec, err := c.Operation(ctx, txID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrState, "operation %d is already %s", txID, rec.Status)
	}
	if err := c.requireRole(ctx, rec.Type, registry.PhaseCancel, canceller.Address()); err != nil {
		return nil, err
	}
	if err := c.checkCancelHold(ctx, rec); err != nil {
		return nil, err
	}

	if err := c.submit(ctx, custos.Calldata(selCancel, custos.Uint64Word(txID)), canceller); err != nil {
		return nil, errors.Wrapf(err, "cancel operation %d", txID)
	}
	return c.Operation(ctx, txID)
}

// ApproveViaMetaTx performs the approve transition on behalf of a
// role holder whose signature is presented by a possibly different
// broadcaster.
func (c *Controller) ApproveViaMetaTx(ctx custos.Context, m *metatx.MetaTx, broadcaster custos.Identity) (*Record, error) {
	if m.Kind != metatx.KindApprove {
		return nil, errors.Wrapf(errors.ErrInput, "kind %q cannot approve", string(m.Kind))
	}
	if err := c.checkMetaTx(ctx, m); err != nil {
		return nil, err
	}
	rec, err := c.Operation(ctx, m.TxID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrState, "operation %d is already %s", m.TxID, rec.Status)
	}
	// The role must be held by the signature author, not by whoever
	// broadcasts it.
	if err := c.requireRole(ctx, rec.Type, registry.PhaseMetaApprove, m.Signer); err != nil {
		return nil, err
	}
	if now := custos.AsUnixTime(custos.Now(ctx)); now < rec.ReleaseTime {
		return nil, errors.Wrapf(errors.ErrTooEarly, "operation %d releases at %s", m.TxID, rec.ReleaseTime)
	}

	data, err := metatx.BroadcastCalldata(*m)
	if err != nil {
		return nil, err
	}
	if err := c.submit(ctx, data, broadcaster); err != nil {
		return nil, errors.Wrapf(err, "meta approve operation %d", m.TxID)
	}
	return c.Operation(ctx, m.TxID)
}

// CancelViaMetaTx performs the cancel transition on behalf of a role
// holder whose signature is presented by a possibly different
// broadcaster.
func (c *Controller) CancelViaMetaTx(ctx custos.Context, m *metatx.MetaTx, broadcaster custos.Identity) (*Record, error) {
	if m.Kind != metatx.KindCancel {
		return nil, errors.Wrapf(errors.ErrInput, "kind %q cannot cancel", string(m.Kind))
	}
	if err := c.checkMetaTx(ctx, m); err != nil {
		return nil, err
	}
	rec, err := c.Operation(ctx, m.TxID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrState, "operation %d is already %s", m.TxID, rec.Status)
	}
	if err := c.requireRole(ctx, rec.Type, registry.PhaseMetaCancel, m.Signer); err != nil {
		return nil, err
	}
	if err := c.checkCancelHold(ctx, rec); err != nil {
		return nil, err
	}

	data, err := metatx.BroadcastCalldata(*m)
	if err != nil {
		return nil, err
	}
	if err := c.submit(ctx, data, broadcaster); err != nil {
		return nil, errors.Wrapf(err, "meta cancel operation %d", m.TxID)
	}
	return c.Operation(ctx, m.TxID)
}

// RequestAndApproveSinglePhase combines request and approve into one
// ledger call. The signer pre-authorized both phases at once and so
// accepted skipping the time lock.
func (c *Controller) RequestAndApproveSinglePhase(ctx custos.Context, m *metatx.MetaTx, broadcaster custos.Identity) (*Record, error) {
	if m.Kind != metatx.KindSinglePhase {
		return nil, errors.Wrapf(errors.ErrInput, "kind %q is not single phase", string(m.Kind))
	}
	if err := c.checkMetaTx(ctx, m); err != nil {
		return nil, err
	}
	opType, err := c.reg.Resolve(m.Op)
	if err != nil {
		return nil, err
	}
	// Both phases must be authorized by the signer.
	if err := c.requireRole(ctx, m.Op, registry.PhaseRequest, m.Signer); err != nil {
		return nil, err
	}
	if err := c.requireRole(ctx, m.Op, registry.PhaseApprove, m.Signer); err != nil {
		return nil, err
	}
	if err := c.checkCapability(ctx, opType); err != nil {
		return nil, err
	}

	data, err := metatx.BroadcastCalldata(*m)
	if err != nil {
		return nil, err
	}
	if err := c.submit(ctx, data, broadcaster); err != nil {
		return nil, errors.Wrapf(err, "single phase %s", opType.Name)
	}

	// The recorded requester is either the authorization's signer or
	// the submitting broadcaster, depending on the custodian.
	return c.newestRecordBy(ctx, m.Signer, broadcaster.Address())
}

// Operation fetches a single record from the ledger and computes its
// time derived status.
func (c *Controller) Operation(ctx custos.Context, txID uint64) (*Record, error) {
	raw, err := c.ledger.ReadView(ctx, c.custodian, custos.Calldata(selGetOperation, custos.Uint64Word(txID)))
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	rec, err := UnmarshalRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec.TxID == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "operation %d", txID)
	}
	rec.Normalize(ctx)
	return rec, nil
}

// Operations fetches all records of the custodian in id order.
func (c *Controller) Operations(ctx custos.Context) ([]*Record, error) {
	count, err := c.count(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, count)
	for id := uint64(1); id <= count; id++ {
		rec, err := c.Operation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LockPeriod reads the custodian's configured time lock.
func (c *Controller) LockPeriod(ctx custos.Context) (custos.UnixDuration, error) {
	raw, err := c.ledger.ReadView(ctx, c.custodian, custos.Calldata(selLockPeriod))
	if err != nil {
		return 0, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return custos.UnixDuration(custos.WordToUint64(raw)), nil
}

// ExecutionEnabled reads whether the custodian has opted into external
// transaction execution.
func (c *Controller) ExecutionEnabled(ctx custos.Context) (bool, error) {
	raw, err := c.ledger.ReadView(ctx, c.custodian, custos.Calldata(selExecutionEnabled))
	if err != nil {
		return false, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return custos.WordToBool(raw), nil
}

// requireRole verifies that the given address currently holds the role
// required for the phase. The holder is read fresh from the ledger on
// every call.
func (c *Controller) requireRole(ctx custos.Context, op registry.OperationID, phase registry.Phase, addr common.Address) error {
	role, err := c.reg.RequiredRole(op, phase)
	if err != nil {
		return err
	}
	if role == registry.RoleAnyone {
		return nil
	}
	raw, err := c.ledger.ReadView(ctx, c.custodian, custos.Calldata(role.Getter()))
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if holder := custos.WordToAddress(raw); holder != addr {
		return errors.Wrapf(errors.ErrRoleDenied, "%s phase requires the %s role held by %s, caller is %s",
			string(phase), string(role), holder.Hex(), addr.Hex())
	}
	return nil
}

// checkCapability rejects operations that reference a capability the
// custodian has not enabled.
func (c *Controller) checkCapability(ctx custos.Context, opType registry.OperationType) error {
	if opType.Name != registry.NameExecuteTransaction {
		return nil
	}
	enabled, err := c.ExecutionEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return errors.Wrap(errors.ErrPrecondition, "custodian has not enabled external transaction execution")
	}
	return nil
}

func (c *Controller) checkCancelHold(ctx custos.Context, rec *Record) error {
	earliest := rec.CreatedAt.Add(minCancelHold)
	if now := custos.AsUnixTime(custos.Now(ctx)); now < earliest {
		return errors.Wrapf(errors.ErrTooEarly, "operation %d cannot be cancelled before %s", rec.TxID, earliest)
	}
	return nil
}

// checkMetaTx validates the preconditions every meta transaction must
// satisfy regardless of its kind: structure, signature, deadline and
// gas price bound.
func (c *Controller) checkMetaTx(ctx custos.Context, m *metatx.MetaTx) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := metatx.VerifySignature(*m); err != nil {
		return err
	}
	if custos.DeadlineExceeded(ctx, m.Deadline) {
		return errors.Wrapf(errors.ErrExpired, "deadline %s has passed", m.Deadline)
	}
	gasPrice, err := c.ledger.SuggestGasPrice(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if gasPrice.Cmp(m.MaxGasPrice) > 0 {
		return errors.Wrapf(errors.ErrGasPriceExceeded, "current %s exceeds signed maximum %s", gasPrice, m.MaxGasPrice)
	}
	return nil
}

// submit sends the calldata and waits for a successful receipt.
func (c *Controller) submit(ctx custos.Context, data []byte, signer custos.Identity) error {
	txHash, err := c.ledger.Submit(ctx, c.custodian, data, signer)
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	receipt, err := c.ledger.WaitForConfirmation(ctx, txHash)
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if !receipt.OK {
		return errors.Wrapf(errors.ErrState, "transaction %s reverted", txHash.Hex())
	}
	return nil
}

func (c *Controller) count(ctx custos.Context) (uint64, error) {
	raw, err := c.ledger.ReadView(ctx, c.custodian, custos.Calldata(selOperationCount))
	if err != nil {
		return 0, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return custos.WordToUint64(raw), nil
}

// requesterScanDepth bounds how far newestRecordBy walks back from the
// newest record.
const requesterScanDepth = 8

// newestRecordBy locates the record a just confirmed submission
// created. Ids are assigned in submission order, but another caller's
// record may have landed after ours, so walk back from the newest
// until the recorded requester matches one of the given addresses.
func (c *Controller) newestRecordBy(ctx custos.Context, requesters ...common.Address) (*Record, error) {
	count, err := c.count(ctx)
	if err != nil {
		return nil, err
	}
	for id := count; id > 0 && count-id < requesterScanDepth; id-- {
		rec, err := c.Operation(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, requester := range requesters {
			if rec.Requester == requester {
				return rec, nil
			}
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "no record by %s among the newest %d", requesters[0].Hex(), requesterScanDepth)
}

// requestCalldata builds the initiation call of an operation type:
// target and value words, then the length prefixed payload.
func requestCalldata(t registry.OperationType, target common.Address, value *big.Int, payload []byte) []byte {
	data := custos.Calldata(t.Selector,
		custos.AddressWord(target),
		custos.BigWord(value),
		custos.Uint64Word(uint64(len(payload))),
	)
	return append(data, payload...)
}
