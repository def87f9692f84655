package commitment

import (
	"fmt"

	"github.com/lightninglabs/rgb-lightning/rgb"
)

// CloseMethod is the way a seal is closed by the spending transaction.
type CloseMethod uint8

const (
	// TapretFirst commits to the transition in the taproot script tree of
	// the first taproot output.
	TapretFirst CloseMethod = 0

	// OpretFirst commits to the transition in the first OP_RETURN output.
	OpretFirst CloseMethod = 1
)

// String returns the name of the close method.
func (c CloseMethod) String() string {
	switch c {
	case TapretFirst:
		return "tapret1st"

	case OpretFirst:
		return "opret1st"

	default:
		return fmt.Sprintf("<unknown close method %d>", uint8(c))
	}
}

// GraphSeal binds asset state to an output of the transaction that carries
// the commitment.
type GraphSeal struct {
	// Method is the close method of the seal.
	Method CloseMethod

	// Vout is the index of the output the state is bound to.
	Vout uint32

	// Blinding is the blinding factor of the seal.
	Blinding uint64
}

// NewChannelSeal creates the opret seal of a channel party on the given
// output.
func NewChannelSeal(vout uint32) GraphSeal {
	return GraphSeal{
		Method:   OpretFirst,
		Vout:     vout,
		Blinding: rgb.StaticBlinding,
	}
}

// String returns a human readable representation of the seal.
func (g GraphSeal) String() string {
	return fmt.Sprintf("%v:%d#%d", g.Method, g.Vout, g.Blinding)
}

// channelSeals derives the seals of both channel parties. A seal is only
// created for a side with a non-zero amount, and every created seal must
// point to one of the numOutputs existing outputs.
func channelSeals(alloc *rgb.Allocation, holderVout uint32,
	numOutputs int) (*GraphSeal, *GraphSeal, error) {

	counterpartyVout := rgb.CounterpartyVout(holderVout)
	if counterpartyVout^holderVout != 1 {
		return nil, nil, fmt.Errorf("holder vout %d and counterparty "+
			"vout %d are not a pair", holderVout, counterpartyVout)
	}

	checkRange := func(vout uint32) error {
		if int64(vout) >= int64(numOutputs) {
			return fmt.Errorf("%w: vout %d, %d outputs",
				ErrSealOutOfRange, vout, numOutputs)
		}

		return nil
	}

	var holderSeal, counterpartySeal *GraphSeal
	if alloc.LocalAmount > 0 {
		if err := checkRange(holderVout); err != nil {
			return nil, nil, err
		}

		seal := NewChannelSeal(holderVout)
		holderSeal = &seal
	}

	if alloc.RemoteAmount > 0 {
		if err := checkRange(counterpartyVout); err != nil {
			return nil, nil, err
		}

		seal := NewChannelSeal(counterpartyVout)
		counterpartySeal = &seal
	}

	return holderSeal, counterpartySeal, nil
}
