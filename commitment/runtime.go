package commitment

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/rgb"
)

// OutpointState is a fungible assignment that is sealed to a wallet output.
type OutpointState struct {
	// OutPoint is the output the state is sealed to.
	OutPoint wire.OutPoint

	// Opout references the assignment that created the state.
	Opout Opout

	// Amount is the fungible amount of the assignment.
	Amount uint64
}

// ContractRuntime is the capability of looking up contract schemata and the
// state owned by the wallet.
type ContractRuntime interface {
	// AssignmentType resolves a named assignment of the given contract
	// interface. ErrUnknownAssignmentType is returned if the interface
	// doesn't define it.
	AssignmentType(ctx context.Context, contractID rgb.ContractID,
		iface, name string) (uint16, error)

	// StateForOutpoints returns the state of the contract that is sealed
	// to any of the given outpoints.
	StateForOutpoints(ctx context.Context, contractID rgb.ContractID,
		outpoints []wire.OutPoint) ([]OutpointState, error)
}
