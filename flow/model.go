package flow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/registry"
)

// Status of an operation record. Ready is derived from time and never
// stored: a pending record whose release time has passed is ready.
type Status uint8

const (
	StatusInvalid Status = iota
	StatusPending
	StatusReady
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusReady:
		return "READY"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "INVALID"
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Wire codes of the stored status. Ready maps to pending because the
// ledger never stores it.
const (
	wireStatusPending   uint64 = 0
	wireStatusCompleted uint64 = 1
	wireStatusCancelled uint64 = 2
)

// Record is one administrative operation as recorded on the custodian
// contract. Once terminal it is an immutable ledger fact.
type Record struct {
	// TxID is assigned by the ledger, monotonically increasing per
	// custodian contract. The client never assigns ids.
	TxID      uint64
	Type      registry.OperationID
	Requester common.Address
	Target    common.Address
	Value     *big.Int
	Payload   []byte
	CreatedAt custos.UnixTime
	// ReleaseTime is always CreatedAt plus the custodian's lock
	// period, the earliest moment the record may be approved.
	ReleaseTime custos.UnixTime
	Status      Status
}

// Validate returns an error if the record violates its invariants.
func (r *Record) Validate() error {
	if r.TxID == 0 {
		return errors.Wrap(errors.ErrInput, "missing record id")
	}
	if err := r.CreatedAt.Validate(); err != nil {
		return errors.Wrap(err, "created at")
	}
	if err := r.ReleaseTime.Validate(); err != nil {
		return errors.Wrap(err, "release time")
	}
	if r.ReleaseTime < r.CreatedAt {
		return errors.Wrap(errors.ErrState, "release time before creation")
	}
	if r.Status == StatusInvalid {
		return errors.Wrap(errors.ErrState, "invalid status")
	}
	return nil
}

// Normalize computes the time derived status. A pending record past its
// release time is ready.
func (r *Record) Normalize(ctx custos.Context) {
	if r.Status == StatusPending && custos.AsUnixTime(custos.Now(ctx)) >= r.ReleaseTime {
		r.Status = StatusReady
	}
}

// MarshalWords encodes the record in the custodian wire form: eight
// fixed words followed by a length prefixed payload padded to a word
// multiple.
func (r *Record) MarshalWords() []byte {
	status := wireStatusPending
	switch r.Status {
	case StatusCompleted:
		status = wireStatusCompleted
	case StatusCancelled:
		status = wireStatusCancelled
	}

	out := make([]byte, 0, 9*custos.WordLength+len(r.Payload))
	out = append(out, custos.Uint64Word(r.TxID)...)
	out = append(out, custos.HashWord(r.Type)...)
	out = append(out, custos.AddressWord(r.Requester)...)
	out = append(out, custos.AddressWord(r.Target)...)
	out = append(out, custos.BigWord(r.Value)...)
	out = append(out, custos.Uint64Word(uint64(r.CreatedAt))...)
	out = append(out, custos.Uint64Word(uint64(r.ReleaseTime))...)
	out = append(out, custos.Uint64Word(status)...)
	out = append(out, custos.Uint64Word(uint64(len(r.Payload)))...)
	out = append(out, r.Payload...)
	if rem := len(r.Payload) % custos.WordLength; rem != 0 {
		out = append(out, make([]byte, custos.WordLength-rem)...)
	}
	return out
}

// UnmarshalRecord decodes a record from its wire form. A record with a
// zero id means the ledger knows no such operation.
func UnmarshalRecord(raw []byte) (*Record, error) {
	words, err := custos.SplitWords(raw)
	if err != nil {
		return nil, errors.Wrap(err, "record")
	}
	if len(words) < 9 {
		return nil, errors.Wrapf(errors.ErrSerialization, "record needs at least 9 words, got %d", len(words))
	}

	var op registry.OperationID
	copy(op[:], words[1])

	r := &Record{
		TxID:        custos.WordToUint64(words[0]),
		Type:        op,
		Requester:   custos.WordToAddress(words[2]),
		Target:      custos.WordToAddress(words[3]),
		Value:       custos.WordToBig(words[4]),
		CreatedAt:   custos.UnixTime(custos.WordToUint64(words[5])),
		ReleaseTime: custos.UnixTime(custos.WordToUint64(words[6])),
	}
	switch custos.WordToUint64(words[7]) {
	case wireStatusPending:
		r.Status = StatusPending
	case wireStatusCompleted:
		r.Status = StatusCompleted
	case wireStatusCancelled:
		r.Status = StatusCancelled
	default:
		return nil, errors.Wrapf(errors.ErrSerialization, "unknown status code %d", custos.WordToUint64(words[7]))
	}

	payloadLen := custos.WordToUint64(words[8])
	payload := raw[9*custos.WordLength:]
	if uint64(len(payload)) < payloadLen {
		return nil, errors.Wrapf(errors.ErrSerialization, "payload truncated: want %d bytes, got %d", payloadLen, len(payload))
	}
	if payloadLen > 0 {
		r.Payload = append([]byte(nil), payload[:payloadLen]...)
	}
	return r, nil
}
