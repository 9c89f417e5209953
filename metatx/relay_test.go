package metatx

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/custostest"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/registry"
	"github.com/iov-one/custos/txstore"
)

const relayBase = custos.UnixTime(1600000000)

type relayFixture struct {
	ledger      *custostest.Ledger
	store       *txstore.Store
	relay       *Relay
	signer      *custostest.Signer
	broadcaster *custostest.Signer
}

func newRelayFixture() *relayFixture {
	f := &relayFixture{
		ledger:      custostest.NewLedger(),
		signer:      custostest.NewSigner(),
		broadcaster: custostest.NewSigner(),
	}
	f.store = txstore.NewStore(txstore.NewMemBackend(), nil)
	f.relay = NewRelay(f.ledger, registry.NewStatic(), f.store, custodianAddr, nil)

	f.ledger.HandleValue(selMetaNonce, custos.Uint64Word(1))
	f.ledger.HandleValue(registry.RoleBroadcaster.Getter(), custos.AddressWord(f.broadcaster.Address()))
	return f
}

func at(t custos.UnixTime) custos.Context {
	return custos.WithNow(context.Background(), t.Time())
}

func boundedOpts() SignOptions {
	return SignOptions{
		Deadline:    relayBase.Add(time.Hour),
		MaxGasPrice: big.NewInt(50),
	}
}

func TestSignStoresUnderRecordKey(t *testing.T) {
	f := newRelayFixture()
	op := registry.NameID(registry.NameTransferOwnership)

	key, stored, err := f.relay.Sign(at(relayBase), op, registry.PhaseMetaApprove, 7, boundedOpts(), f.signer)
	require.NoError(t, err)
	assert.Equal(t, "7", key)
	assert.Equal(t, relayBase, stored.CreatedAt)
	assert.Equal(t, "approve", stored.Metadata["kind"])
	assert.Equal(t, "7", stored.Metadata["txId"])
	assert.Equal(t, "1", stored.Metadata["nonce"])
	assert.Equal(t, "50", stored.Metadata["maxGasPrice"])
	assert.Equal(t, f.signer.Address().Hex(), stored.Metadata["signer"])
	assert.Equal(t, op.String(), stored.Metadata["operation"])

	// The stored payload is broadcast ready.
	payload, err := stored.Payload()
	require.NoError(t, err)
	assert.Equal(t, selMetaApprove.Bytes(), payload[:4])

	// And retrievable byte for byte.
	got, err := f.store.Get(custodianAddr, key)
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	// No submission happened at signing time.
	assert.Empty(t, f.ledger.Submissions())
}

func TestSignRejectsOnPathPhases(t *testing.T) {
	f := newRelayFixture()
	op := registry.NameID(registry.NameTransferOwnership)

	for _, phase := range []registry.Phase{registry.PhaseRequest, registry.PhaseApprove, registry.PhaseCancel} {
		_, _, err := f.relay.Sign(at(relayBase), op, phase, 7, boundedOpts(), f.signer)
		assert.True(t, errors.ErrInput.Is(err), "phase %s: got %+v", phase, err)
	}
}

func TestSignRequiresRecordID(t *testing.T) {
	f := newRelayFixture()
	_, _, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 0, boundedOpts(), f.signer)
	require.True(t, errors.ErrInput.Is(err), "got %+v", err)
}

func TestSignOptionBounds(t *testing.T) {
	cases := map[string]SignOptions{
		"missing deadline":     {MaxGasPrice: big.NewInt(50)},
		"deadline in the past": {Deadline: relayBase - 1, MaxGasPrice: big.NewInt(50)},
		"deadline is now":      {Deadline: relayBase, MaxGasPrice: big.NewInt(50)},
		"missing gas cap":      {Deadline: relayBase.Add(time.Hour)},
		"zero gas cap":         {Deadline: relayBase.Add(time.Hour), MaxGasPrice: big.NewInt(0)},
	}

	for testName, opts := range cases {
		t.Run(testName, func(t *testing.T) {
			f := newRelayFixture()
			_, _, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 7, opts, f.signer)
			require.True(t, errors.ErrInput.Is(err), "got %+v", err)
		})
	}
}

func TestSignSinglePhaseUsesTempKey(t *testing.T) {
	f := newRelayFixture()
	op := registry.NameID(registry.NameTransferBroadcaster)

	key, stored, err := f.relay.SignSinglePhase(at(relayBase), op, common.HexToAddress("0x42"), big.NewInt(0), nil, boundedOpts(), f.signer)
	require.NoError(t, err)
	assert.True(t, txstore.IsTempKey(key))
	// Temporary entries have no ledger assigned record id.
	_, hasTxID := stored.Metadata["txId"]
	assert.False(t, hasTxID)
	assert.Equal(t, "single-phase", stored.Metadata["kind"])

	payload, err := stored.Payload()
	require.NoError(t, err)
	assert.Equal(t, selSinglePhase.Bytes(), payload[:4])
}

func TestBroadcastSubmitsAndRemoves(t *testing.T) {
	f := newRelayFixture()
	key, stored, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 7, boundedOpts(), f.signer)
	require.NoError(t, err)

	receipt, err := f.relay.Broadcast(at(relayBase.Add(time.Minute)), key, f.broadcaster)
	require.NoError(t, err)
	assert.True(t, receipt.OK)

	subs := f.ledger.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, f.broadcaster.Address(), subs[0].Signer)
	payload, err := stored.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, subs[0].Data)

	// Successful broadcast consumes the stored copy.
	_, err = f.store.Get(custodianAddr, key)
	require.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
}

func TestBroadcastRequiresCurrentBroadcaster(t *testing.T) {
	f := newRelayFixture()
	key, _, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 7, boundedOpts(), f.signer)
	require.NoError(t, err)

	_, err = f.relay.Broadcast(at(relayBase), key, f.signer)
	require.True(t, errors.ErrNotBroadcaster.Is(err), "got %+v", err)
	assert.Empty(t, f.ledger.Submissions())

	// A broadcaster rotation on the ledger takes effect immediately.
	f.ledger.HandleValue(registry.RoleBroadcaster.Getter(), custos.AddressWord(f.signer.Address()))
	_, err = f.relay.Broadcast(at(relayBase), key, f.broadcaster)
	require.True(t, errors.ErrNotBroadcaster.Is(err), "got %+v", err)

	_, err = f.relay.Broadcast(at(relayBase), key, f.signer)
	require.NoError(t, err)
}

func TestBroadcastDeadline(t *testing.T) {
	f := newRelayFixture()
	opts := boundedOpts()
	key, _, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 7, opts, f.signer)
	require.NoError(t, err)

	// One second past the deadline the entry is unusable but kept, the
	// caller decides whether to re-sign.
	_, err = f.relay.Broadcast(at(opts.Deadline.Add(time.Second)), key, f.broadcaster)
	require.True(t, errors.ErrExpired.Is(err), "got %+v", err)
	_, err = f.store.Get(custodianAddr, key)
	require.NoError(t, err)

	// The deadline itself is still valid.
	_, err = f.relay.Broadcast(at(opts.Deadline), key, f.broadcaster)
	require.NoError(t, err)
}

func TestBroadcastGasPriceBound(t *testing.T) {
	f := newRelayFixture()
	key, _, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 7, boundedOpts(), f.signer)
	require.NoError(t, err)

	f.ledger.GasPrice = big.NewInt(100)
	_, err = f.relay.Broadcast(at(relayBase), key, f.broadcaster)
	require.True(t, errors.ErrGasPriceExceeded.Is(err), "got %+v", err)
	assert.Empty(t, f.ledger.Submissions())

	f.ledger.GasPrice = big.NewInt(50)
	_, err = f.relay.Broadcast(at(relayBase), key, f.broadcaster)
	require.NoError(t, err)
}

func TestBroadcastRevertKeepsEntry(t *testing.T) {
	f := newRelayFixture()
	key, _, err := f.relay.Sign(at(relayBase), registry.NameID(registry.NameTransferOwnership), registry.PhaseMetaApprove, 7, boundedOpts(), f.signer)
	require.NoError(t, err)

	f.ledger.RevertSubmissions = true
	receipt, err := f.relay.Broadcast(at(relayBase), key, f.broadcaster)
	require.True(t, errors.ErrState.Is(err), "got %+v", err)
	// The receipt is surfaced alongside the error so the caller can
	// inspect the failed transaction.
	require.NotNil(t, receipt)
	assert.False(t, receipt.OK)

	_, err = f.store.Get(custodianAddr, key)
	require.NoError(t, err)
}

func TestBroadcastUnknownKey(t *testing.T) {
	f := newRelayFixture()
	_, err := f.relay.Broadcast(at(relayBase), "99", f.broadcaster)
	require.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
}
