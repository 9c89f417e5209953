package registry

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

// Phase is a stage of an operation lifecycle that requires its own
// authorization.
type Phase string

const (
	PhaseRequest     Phase = "request"
	PhaseApprove     Phase = "approve"
	PhaseCancel      Phase = "cancel"
	PhaseMetaApprove Phase = "metaApprove"
	PhaseMetaCancel  Phase = "metaCancel"
)

// Validate returns an error if this is not one of the known phases.
func (p Phase) Validate() error {
	switch p {
	case PhaseRequest, PhaseApprove, PhaseCancel, PhaseMetaApprove, PhaseMetaCancel:
		return nil
	}
	return errors.Wrapf(errors.ErrInput, "phase %q", string(p))
}

// Role is a named capability recorded on the custodian contract and
// checked per operation phase.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleBroadcaster Role = "broadcaster"
	RoleRecovery    Role = "recovery"
	// RoleAnyone marks a phase that is not gated at all.
	RoleAnyone Role = "anyone"
)

// Getter returns the read view selector that resolves the current
// holder of this role on the custodian contract. The zero selector is
// returned for RoleAnyone.
func (r Role) Getter() custos.Selector {
	switch r {
	case RoleOwner:
		return custos.NewSelector("getOwner()")
	case RoleBroadcaster:
		return custos.NewSelector("getBroadcaster()")
	case RoleRecovery:
		return custos.NewSelector("getRecoveryKey()")
	}
	return custos.Selector{}
}

// Validate returns an error if this is not one of the known roles.
func (r Role) Validate() error {
	switch r {
	case RoleOwner, RoleBroadcaster, RoleRecovery, RoleAnyone:
		return nil
	}
	return errors.Wrapf(errors.ErrInput, "role %q", string(r))
}

// OperationID is the content addressed identifier of an operation type,
// the Keccak-256 hash of its canonical name.
type OperationID [32]byte

// NameID derives the operation identifier from a canonical name. The
// derivation is deterministic so two types never share an identifier
// with different names.
func NameID(name string) OperationID {
	var id OperationID
	copy(id[:], crypto.Keccak256([]byte(name)))
	return id
}

// ParseOperationID decodes a 0x prefixed hex identifier.
func ParseOperationID(s string) (OperationID, error) {
	var id OperationID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, errors.Wrapf(errors.ErrInput, "malformed operation id: %s", err)
	}
	if len(raw) != len(id) {
		return id, errors.Wrapf(errors.ErrInput, "operation id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id OperationID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns the identifier as a byte slice.
func (id OperationID) Bytes() []byte {
	return id[:]
}

// OperationType describes a single administrative operation a custodian
// contract supports.
type OperationType struct {
	ID   OperationID
	Name string
	// Selector is the ledger entry point used to initiate this
	// operation.
	Selector custos.Selector
	// RolesByPhase declares which role each lifecycle phase requires.
	RolesByPhase map[Phase]Role
}

// Validate returns an error if the operation type declaration is
// incomplete.
func (t OperationType) Validate() error {
	if t.Name == "" {
		return errors.Wrap(errors.ErrInput, "name is required")
	}
	if len(t.RolesByPhase) == 0 {
		return errors.Wrap(errors.ErrInput, "no phase roles declared")
	}
	for phase, role := range t.RolesByPhase {
		if err := phase.Validate(); err != nil {
			return errors.Wrap(err, "phase")
		}
		if err := role.Validate(); err != nil {
			return errors.Wrapf(err, "role for phase %q", string(phase))
		}
	}
	return nil
}

// Copy returns a deep copy of this operation type.
func (t OperationType) Copy() OperationType {
	roles := make(map[Phase]Role, len(t.RolesByPhase))
	for p, r := range t.RolesByPhase {
		roles[p] = r
	}
	t.RolesByPhase = roles
	return t
}
