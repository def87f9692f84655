package commitment

import "errors"

var (
	// ErrUnknownAssignmentType is returned if the contract's interface
	// doesn't define the fungible assignment type.
	ErrUnknownAssignmentType = errors.New("unknown assignment type")

	// ErrMissingInputState is returned if the inputs of the transaction
	// don't carry enough state of the contract to cover the allocation.
	ErrMissingInputState = errors.New("missing input state")

	// ErrSealOutOfRange is returned if a seal would point to an output
	// that doesn't exist.
	ErrSealOutOfRange = errors.New("seal output out of range")

	// ErrUnassignedSurplus is returned if the inputs carry more state than
	// allocated and no change output was given.
	ErrUnassignedSurplus = errors.New("unassigned input state surplus")

	// ErrAlreadyColored is returned if the transaction already commits to
	// a transition.
	ErrAlreadyColored = errors.New("transaction already carries a " +
		"commitment")

	// ErrNoCommitment is returned if a transaction carries no commitment.
	ErrNoCommitment = errors.New("transaction carries no commitment")

	// ErrCommitmentMismatch is returned if the marker output doesn't
	// commit to the transition stored in the packet.
	ErrCommitmentMismatch = errors.New("marker doesn't commit to " +
		"transition")
)
