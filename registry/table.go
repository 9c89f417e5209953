package registry

import (
	"github.com/iov-one/custos"
)

// Canonical names of the operation types a custodian contract may
// support. Identifiers are always derived from these strings.
const (
	NameTransferOwnership   = "TRANSFER_OWNERSHIP"
	NameTransferBroadcaster = "TRANSFER_BROADCASTER"
	NameExecuteTransaction  = "EXECUTE_TRANSACTION"
	NameRecoverOwnership    = "RECOVER_OWNERSHIP"
	NameUpdateLockPeriod    = "UPDATE_LOCK_PERIOD"
)

// expectedTypes is the static table the fetched identifier set is cross
// referenced against. A custodian does not have to support all of them.
func expectedTypes() []OperationType {
	return []OperationType{
		{
			ID:       NameID(NameTransferOwnership),
			Name:     NameTransferOwnership,
			Selector: custos.NewSelector("transferOwnership(address)"),
			RolesByPhase: map[Phase]Role{
				PhaseRequest:     RoleOwner,
				PhaseApprove:     RoleOwner,
				PhaseCancel:      RoleOwner,
				PhaseMetaApprove: RoleOwner,
				PhaseMetaCancel:  RoleOwner,
			},
		},
		{
			ID:       NameID(NameTransferBroadcaster),
			Name:     NameTransferBroadcaster,
			Selector: custos.NewSelector("transferBroadcaster(address)"),
			RolesByPhase: map[Phase]Role{
				PhaseRequest:     RoleOwner,
				PhaseApprove:     RoleOwner,
				PhaseCancel:      RoleOwner,
				PhaseMetaApprove: RoleOwner,
				PhaseMetaCancel:  RoleOwner,
			},
		},
		{
			ID:       NameID(NameExecuteTransaction),
			Name:     NameExecuteTransaction,
			Selector: custos.NewSelector("executeTransaction(address,uint256,bytes)"),
			RolesByPhase: map[Phase]Role{
				PhaseRequest:     RoleOwner,
				PhaseApprove:     RoleOwner,
				PhaseCancel:      RoleOwner,
				PhaseMetaApprove: RoleOwner,
				PhaseMetaCancel:  RoleOwner,
			},
		},
		{
			ID:       NameID(NameRecoverOwnership),
			Name:     NameRecoverOwnership,
			Selector: custos.NewSelector("recoverOwnership(address)"),
			RolesByPhase: map[Phase]Role{
				PhaseRequest:     RoleRecovery,
				PhaseApprove:     RoleRecovery,
				PhaseCancel:      RoleOwner,
				PhaseMetaApprove: RoleRecovery,
				PhaseMetaCancel:  RoleOwner,
			},
		},
		{
			ID:       NameID(NameUpdateLockPeriod),
			Name:     NameUpdateLockPeriod,
			Selector: custos.NewSelector("updateLockPeriod(uint256)"),
			RolesByPhase: map[Phase]Role{
				PhaseRequest:     RoleOwner,
				PhaseApprove:     RoleOwner,
				PhaseCancel:      RoleOwner,
				PhaseMetaApprove: RoleOwner,
				PhaseMetaCancel:  RoleOwner,
			},
		},
	}
}
