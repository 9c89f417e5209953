package custostest

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

// ViewFunc computes the response of a scripted read view. The data
// argument is the full calldata including the selector.
type ViewFunc func(contract common.Address, data []byte) ([]byte, error)

// Submission is a journal entry of a single Submit call.
type Submission struct {
	Contract common.Address
	Data     []byte
	Signer   common.Address
	Hash     common.Hash
}

// Ledger is a scriptable in-memory implementation of custos.Ledger.
// Read views are dispatched by selector to registered handlers.
// Submissions are journaled and by default confirm immediately with a
// successful receipt.
type Ledger struct {
	mu sync.Mutex

	// ChainIDValue is returned by ChainID. Defaults to 1337.
	ChainIDValue *big.Int
	// GasPrice is returned by SuggestGasPrice. Defaults to 1.
	GasPrice *big.Int

	// ViewErr, when set, fails every ReadView call.
	ViewErr error
	// SubmitErr, when set, fails every Submit call.
	SubmitErr error
	// RevertSubmissions makes every new receipt report OK false.
	RevertSubmissions bool

	// OnSubmit, when set, is invoked with every accepted submission.
	// It lets a test apply state changes the way a contract would.
	OnSubmit func(sub Submission)

	views       map[custos.Selector]ViewFunc
	submissions []Submission
	receipts    map[common.Hash]*custos.Receipt
	submitSeq   uint64
}

var _ custos.Ledger = (*Ledger)(nil)

// NewLedger returns a ledger double with no views scripted.
func NewLedger() *Ledger {
	return &Ledger{
		ChainIDValue: big.NewInt(1337),
		GasPrice:     big.NewInt(1),
		views:        make(map[custos.Selector]ViewFunc),
		receipts:     make(map[common.Hash]*custos.Receipt),
	}
}

// Handle registers a view handler for the given selector.
func (l *Ledger) Handle(sel custos.Selector, fn ViewFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views[sel] = fn
}

// HandleValue registers a view that always returns the same raw bytes.
func (l *Ledger) HandleValue(sel custos.Selector, value []byte) {
	l.Handle(sel, func(common.Address, []byte) ([]byte, error) {
		return value, nil
	})
}

// Submissions returns a copy of the journal of accepted submissions.
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submission, len(l.submissions))
	copy(out, l.submissions)
	return out
}

func (l *Ledger) ReadView(ctx custos.Context, contract common.Address, data []byte) ([]byte, error) {
	l.mu.Lock()
	viewErr := l.ViewErr
	var fn ViewFunc
	if len(data) >= 4 {
		var sel custos.Selector
		copy(sel[:], data[:4])
		fn = l.views[sel]
	}
	l.mu.Unlock()

	if viewErr != nil {
		return nil, viewErr
	}
	if fn == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "no view scripted for calldata %x", data)
	}
	return fn(contract, data)
}

func (l *Ledger) Submit(ctx custos.Context, contract common.Address, data []byte, signer custos.Identity) (common.Hash, error) {
	l.mu.Lock()
	if l.SubmitErr != nil {
		err := l.SubmitErr
		l.mu.Unlock()
		return common.Hash{}, err
	}
	l.submitSeq++
	hash := common.BytesToHash(crypto.Keccak256(custos.Uint64Word(l.submitSeq)))
	sub := Submission{
		Contract: contract,
		Data:     append([]byte(nil), data...),
		Signer:   signer.Address(),
		Hash:     hash,
	}
	l.submissions = append(l.submissions, sub)
	l.receipts[hash] = &custos.Receipt{
		TxHash:      hash,
		BlockNumber: l.submitSeq,
		OK:          !l.RevertSubmissions,
	}
	onSubmit := l.OnSubmit
	l.mu.Unlock()

	if onSubmit != nil {
		onSubmit(sub)
	}
	return hash, nil
}

func (l *Ledger) WaitForConfirmation(ctx custos.Context, tx common.Hash) (*custos.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[tx]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "transaction %s", tx.Hex())
	}
	return r, nil
}

func (l *Ledger) ChainID(ctx custos.Context) (*big.Int, error) {
	if l.ChainIDValue == nil {
		return big.NewInt(1337), nil
	}
	return l.ChainIDValue, nil
}

func (l *Ledger) SuggestGasPrice(ctx custos.Context) (*big.Int, error) {
	if l.GasPrice == nil {
		return big.NewInt(1), nil
	}
	return l.GasPrice, nil
}
