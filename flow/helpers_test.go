package flow

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/custostest"
	"github.com/iov-one/custos/registry"
)

// custodianContract is an in-memory rendition of a custodian contract.
// It scripts the ledger double's read views and applies submissions the
// way the contract would. It does not re-check what the controller
// checks so a test can tell client side gating apart from ledger state.
type custodianContract struct {
	mu sync.Mutex

	addr        common.Address
	owner       common.Address
	broadcaster common.Address
	recovery    common.Address

	lockPeriod       custos.UnixDuration
	executionEnabled bool
	// now stamps new records. Tests advance it together with the
	// context clock.
	now custos.UnixTime

	records   map[uint64]*Record
	nextID    uint64
	selectors map[custos.Selector]registry.OperationID
}

func newCustodianContract(ledger *custostest.Ledger, owner, broadcaster, recovery common.Address) *custodianContract {
	c := &custodianContract{
		addr:        common.HexToAddress("0x00000000000000000000000000000000000c0ffe"),
		owner:       owner,
		broadcaster: broadcaster,
		recovery:    recovery,
		lockPeriod:  custos.UnixDuration(24 * 60 * 60),
		records:     make(map[uint64]*Record),
		selectors:   make(map[custos.Selector]registry.OperationID),
	}
	for _, t := range registry.NewStatic().Types() {
		c.selectors[t.Selector] = t.ID
	}
	c.script(ledger)
	ledger.OnSubmit = c.apply
	return c
}

func (c *custodianContract) script(ledger *custostest.Ledger) {
	ledger.Handle(registry.RoleOwner.Getter(), func(common.Address, []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return custos.AddressWord(c.owner), nil
	})
	ledger.Handle(registry.RoleBroadcaster.Getter(), func(common.Address, []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return custos.AddressWord(c.broadcaster), nil
	})
	ledger.Handle(registry.RoleRecovery.Getter(), func(common.Address, []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return custos.AddressWord(c.recovery), nil
	})
	ledger.Handle(selLockPeriod, func(common.Address, []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return custos.Uint64Word(uint64(c.lockPeriod)), nil
	})
	ledger.Handle(selExecutionEnabled, func(common.Address, []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return custos.BoolWord(c.executionEnabled), nil
	})
	ledger.Handle(selOperationCount, func(common.Address, []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return custos.Uint64Word(c.nextID), nil
	})
	ledger.Handle(selGetOperation, func(_ common.Address, data []byte) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		id := custos.WordToUint64(data[4:])
		rec, ok := c.records[id]
		if !ok {
			// Unknown records read back as zero words.
			return make([]byte, 9*custos.WordLength), nil
		}
		return rec.MarshalWords(), nil
	})
}

// apply interprets a submission's calldata the way the contract would.
func (c *custodianContract) apply(sub custostest.Submission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sel custos.Selector
	copy(sel[:], sub.Data[:4])
	args := sub.Data[4:]

	if op, ok := c.selectors[sel]; ok {
		payloadLen := custos.WordToUint64(args[64:96])
		c.create(op, sub.Signer,
			custos.WordToAddress(args[:32]),
			custos.WordToBig(args[32:64]),
			append([]byte(nil), args[96:96+payloadLen]...),
			StatusPending)
		return
	}

	switch sel {
	case selApprove:
		c.finish(custos.WordToUint64(args[:32]), StatusCompleted)
	case selCancel:
		c.finish(custos.WordToUint64(args[:32]), StatusCancelled)
	case custos.NewSelector("approveOperationMeta(uint256,uint256,uint256,uint256,bytes)"):
		c.finish(custos.WordToUint64(args[:32]), StatusCompleted)
	case custos.NewSelector("cancelOperationMeta(uint256,uint256,uint256,uint256,bytes)"):
		c.finish(custos.WordToUint64(args[:32]), StatusCancelled)
	case custos.NewSelector("requestAndApprove(bytes32,address,uint256,uint256,uint256,uint256,bytes,bytes)"):
		var op registry.OperationID
		copy(op[:], args[:32])
		payloadLen := custos.WordToUint64(args[192:224])
		c.create(op, sub.Signer,
			custos.WordToAddress(args[32:64]),
			custos.WordToBig(args[64:96]),
			append([]byte(nil), args[224:224+payloadLen]...),
			StatusCompleted)
	}
}

func (c *custodianContract) create(op registry.OperationID, requester, target common.Address, value *big.Int, payload []byte, status Status) {
	c.nextID++
	c.records[c.nextID] = &Record{
		TxID:        c.nextID,
		Type:        op,
		Requester:   requester,
		Target:      target,
		Value:       value,
		Payload:     payload,
		CreatedAt:   c.now,
		ReleaseTime: c.now + custos.UnixTime(c.lockPeriod),
		Status:      status,
	}
}

func (c *custodianContract) finish(id uint64, status Status) {
	if rec, ok := c.records[id]; ok && !rec.Status.Terminal() {
		rec.Status = status
	}
}

func (c *custodianContract) setNow(t custos.UnixTime) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *custodianContract) setExecutionEnabled(on bool) {
	c.mu.Lock()
	c.executionEnabled = on
	c.mu.Unlock()
}

func (c *custodianContract) record(id uint64) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[id]
}

// fixture wires a controller against a fresh fake custodian with three
// distinct role holders.
type fixture struct {
	ledger      *custostest.Ledger
	cust        *custodianContract
	ctrl        *Controller
	owner       *custostest.Signer
	broadcaster *custostest.Signer
	recovery    *custostest.Signer
	stranger    *custostest.Signer
}

func newFixture() *fixture {
	f := &fixture{
		ledger:      custostest.NewLedger(),
		owner:       custostest.NewSigner(),
		broadcaster: custostest.NewSigner(),
		recovery:    custostest.NewSigner(),
		stranger:    custostest.NewSigner(),
	}
	f.cust = newCustodianContract(f.ledger, f.owner.Address(), f.broadcaster.Address(), f.recovery.Address())
	f.ctrl = NewController(f.ledger, registry.NewStatic(), f.cust.addr, nil)
	return f
}

// at returns a context frozen at the given unix time and moves the
// contract clock along with it.
func (f *fixture) at(t custos.UnixTime) custos.Context {
	f.cust.setNow(t)
	return custos.WithNow(context.Background(), t.Time())
}
