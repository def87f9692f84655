package rgbchannel

import (
	"fmt"
)

// FundingState is the state of a single funding attempt.
type FundingState uint8

const (
	// StateRequested is the initial state of an attempt.
	StateRequested FundingState = iota

	// StateReserved means the host reserved capacity with the peer.
	StateReserved

	// StateColored means the funding transaction carries the commitment
	// and the pending allocation was written.
	StateColored

	// StateFinalized means the host accepted the funding transaction. This
	// is a terminal state.
	StateFinalized

	// StateCancelled means the reservation was released. This is a
	// terminal state.
	StateCancelled
)

// String returns the name of the state.
func (s FundingState) String() string {
	switch s {
	case StateRequested:
		return "Requested"

	case StateReserved:
		return "Reserved"

	case StateColored:
		return "Colored"

	case StateFinalized:
		return "Finalized"

	case StateCancelled:
		return "Cancelled"

	default:
		return fmt.Sprintf("<unknown state %d>", uint8(s))
	}
}

// IsTerminal returns true if no further transition is possible.
func (s FundingState) IsTerminal() bool {
	return s == StateFinalized || s == StateCancelled
}

// stateTransitions lists the valid successors of every state. A failed
// request never leaves the Requested state, as nothing was reserved yet.
var stateTransitions = map[FundingState][]FundingState{
	StateRequested: {StateReserved},
	StateReserved:  {StateColored, StateCancelled},
	StateColored:   {StateFinalized, StateCancelled},
}

// canTransition returns true if the state machine allows moving from one
// state to the other.
func canTransition(from, to FundingState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
