package commitment

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/rgb"
)

var (
	// opretTag is the tag of the tagged hash an opret marker commits to.
	opretTag = []byte("rgb:opret")

	// placeholderCommitment is the data of a marker output before the
	// commitment was concluded.
	placeholderCommitment = make([]byte, chainhash.HashSize)
)

// Commitment is the result of coloring a transaction.
type Commitment struct {
	// Packet is the colored packet. It is the same instance that was
	// passed to the builder.
	Packet *psbt.Packet

	// Transition is the transition the transaction commits to.
	Transition *Transition

	// TransitionID is the ID of the transition.
	TransitionID chainhash.Hash

	// MarkerVout is the index of the OP_RETURN marker output.
	MarkerVout uint32

	// HolderSeal is the seal of the local side, nil if the local amount
	// is zero.
	HolderSeal *GraphSeal

	// CounterpartySeal is the seal of the remote side, nil if the remote
	// amount is zero.
	CounterpartySeal *GraphSeal

	// ChangeSeal receives the input state that exceeds the allocation.
	ChangeSeal *GraphSeal

	// Consumed lists the inputs whose state the transition spends.
	Consumed []wire.OutPoint
}

// Consignment returns the payload the counterparty needs to validate the
// transfer: the serialized transition.
func (c *Commitment) Consignment() ([]byte, error) {
	return c.Transition.Bytes()
}

// colorOptions are the optional parameters of Color.
type colorOptions struct {
	changeVout *uint32
}

// ColorOption is a functional option of Color.
type ColorOption func(*colorOptions)

// WithChangeVout assigns any input state that exceeds the allocation to a
// change seal on the given output.
func WithChangeVout(vout uint32) ColorOption {
	return func(o *colorOptions) {
		o.changeVout = &vout
	}
}

// Builder embeds asset state transitions into unsigned transactions.
type Builder struct {
	runtime ContractRuntime
}

// NewBuilder creates a new commitment builder.
func NewBuilder(runtime ContractRuntime) *Builder {
	return &Builder{
		runtime: runtime,
	}
}

// commitmentErr wraps err as a commitment error.
func commitmentErr(err error) error {
	return &rgb.CommitmentError{Err: err}
}

// Color commits the allocation to the packet's transaction. The local amount
// is sealed to holderVout, the remote amount to its pair output. A zero value
// OP_RETURN marker output is appended, and nothing else of the transaction is
// changed. On error the packet is left untouched.
func (b *Builder) Color(ctx context.Context, packet *psbt.Packet,
	alloc *rgb.Allocation, holderVout uint32,
	opts ...ColorOption) (*Commitment, error) {

	options := &colorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if err := alloc.Validate(); err != nil {
		return nil, err
	}
	if packet == nil || packet.UnsignedTx == nil {
		return nil, rgb.NewValidationError("packet has no unsigned " +
			"transaction")
	}
	if len(packet.Outputs) != len(packet.UnsignedTx.TxOut) ||
		len(packet.Inputs) != len(packet.UnsignedTx.TxIn) {

		return nil, rgb.NewValidationError("malformed packet")
	}
	if _, ok := OpretHost(packet); ok {
		return nil, commitmentErr(ErrAlreadyColored)
	}

	// A packet rebuilt from a colored transaction lost its proprietary
	// fields but still carries the marker output.
	if vout, err := FindMarker(packet.UnsignedTx); err == nil {
		return nil, commitmentErr(fmt.Errorf("%w: marker at vout %d",
			ErrAlreadyColored, vout))
	}

	tx := packet.UnsignedTx
	numOutputs := len(tx.TxOut)

	holderSeal, counterpartySeal, err := channelSeals(
		alloc, holderVout, numOutputs,
	)
	if err != nil {
		return nil, commitmentErr(err)
	}

	assignmentType, err := b.runtime.AssignmentType(
		ctx, alloc.ContractID, rgb.Interface,
		rgb.BeneficiaryAssignment,
	)
	if err != nil {
		return nil, commitmentErr(fmt.Errorf("%w: %s: %v",
			ErrUnknownAssignmentType, rgb.BeneficiaryAssignment,
			err))
	}

	transition := &Transition{
		ContractID: alloc.ContractID,
		Type:       TransferTransitionType,
	}
	if holderSeal != nil {
		transition.Assignments = append(
			transition.Assignments, Assignment{
				Type:   assignmentType,
				Seal:   *holderSeal,
				Amount: alloc.LocalAmount,
			},
		)
	}
	if counterpartySeal != nil {
		transition.Assignments = append(
			transition.Assignments, Assignment{
				Type:   assignmentType,
				Seal:   *counterpartySeal,
				Amount: alloc.RemoteAmount,
			},
		)
	}

	// Every opout the inputs carry is consumed by the transition.
	prevOuts := make([]wire.OutPoint, 0, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		prevOuts = append(prevOuts, txIn.PreviousOutPoint)
	}
	states, err := b.runtime.StateForOutpoints(
		ctx, alloc.ContractID, prevOuts,
	)
	if err != nil {
		return nil, commitmentErr(fmt.Errorf("unable to fetch input "+
			"state: %w", err))
	}

	var (
		inputTotal uint64
		consumed   = make(map[wire.OutPoint]struct{})
	)
	for _, state := range states {
		transition.Inputs = append(transition.Inputs, state.Opout)
		inputTotal += state.Amount
		consumed[state.OutPoint] = struct{}{}
	}
	transition.sortInputs()

	allocated := alloc.Total()
	switch {
	case inputTotal < allocated:
		return nil, commitmentErr(fmt.Errorf("%w: inputs carry %d "+
			"of contract %v, %d allocated", ErrMissingInputState,
			inputTotal, alloc.ContractID, allocated))

	case inputTotal > allocated && options.changeVout == nil:
		return nil, commitmentErr(fmt.Errorf("%w: %d of contract %v",
			ErrUnassignedSurplus, inputTotal-allocated,
			alloc.ContractID))

	case inputTotal > allocated:
		changeVout := *options.changeVout
		if int64(changeVout) >= int64(numOutputs) {
			return nil, commitmentErr(fmt.Errorf("%w: change "+
				"vout %d, %d outputs", ErrSealOutOfRange,
				changeVout, numOutputs))
		}

		transition.Assignments = append(
			transition.Assignments, Assignment{
				Type:   assignmentType,
				Seal:   NewChannelSeal(changeVout),
				Amount: inputTotal - allocated,
			},
		)
	}

	transitionBytes, err := transition.Bytes()
	if err != nil {
		return nil, commitmentErr(fmt.Errorf("unable to encode "+
			"transition: %w", err))
	}
	transitionID := *chainhash.TaggedHash(transitionTag, transitionBytes)

	placeholderScript, err := markerScript(placeholderCommitment)
	if err != nil {
		return nil, commitmentErr(err)
	}

	// Everything is validated, we can now modify the packet.
	markerVout := uint32(numOutputs)
	tx.AddTxOut(wire.NewTxOut(0, placeholderScript))
	packet.Outputs = append(packet.Outputs, psbt.POutput{
		Unknowns: []*psbt.Unknown{{
			Key:   PsbtKeyTypeOutputRgbOpretHost,
			Value: trueAsBytes,
		}},
	})

	packet.Unknowns = append(packet.Unknowns, &psbt.Unknown{
		Key:   PsbtKeyTypeGlobalRgbTransition,
		Value: transitionBytes,
	})

	var consumedOutpoints []wire.OutPoint
	for idx, txIn := range tx.TxIn {
		if _, ok := consumed[txIn.PreviousOutPoint]; !ok {
			continue
		}

		setInputConsumer(
			&packet.Inputs[idx], alloc.ContractID, transitionID,
		)
		consumedOutpoints = append(
			consumedOutpoints, txIn.PreviousOutPoint,
		)
	}

	if err := conclude(packet, int(markerVout), transitionBytes); err != nil {
		return nil, commitmentErr(err)
	}

	log.Debugf("Colored tx %v with transition %v of contract %v "+
		"(holder=%v, counterparty=%v, marker_vout=%d)", tx.TxHash(),
		transitionID, alloc.ContractID, holderSeal, counterpartySeal,
		markerVout)

	commitment := &Commitment{
		Packet:           packet,
		Transition:       transition,
		TransitionID:     transitionID,
		MarkerVout:       markerVout,
		HolderSeal:       holderSeal,
		CounterpartySeal: counterpartySeal,
		Consumed:         consumedOutpoints,
	}
	if options.changeVout != nil && inputTotal > allocated {
		seal := NewChannelSeal(*options.changeVout)
		commitment.ChangeSeal = &seal
	}

	return commitment, nil
}

// markerScript returns the OP_RETURN script carrying the given data.
func markerScript(data []byte) ([]byte, error) {
	return txscript.NullDataScript(data)
}

// opretCommitment returns the data an opret marker commits to for the given
// serialized transition.
func opretCommitment(transitionBytes []byte) []byte {
	return chainhash.TaggedHash(opretTag, transitionBytes)[:]
}

// conclude replaces the placeholder of the marker output with the
// commitment to the transition.
func conclude(packet *psbt.Packet, markerVout int,
	transitionBytes []byte) error {

	script, err := markerScript(opretCommitment(transitionBytes))
	if err != nil {
		return err
	}

	packet.UnsignedTx.TxOut[markerVout].PkScript = script

	return nil
}

// VerifyCommitment checks that the packet's marker output commits to the
// transition stored in the packet and returns the transition.
func VerifyCommitment(packet *psbt.Packet) (*Transition, error) {
	idx, ok := OpretHost(packet)
	if !ok {
		return nil, ErrNoCommitment
	}

	transition, err := TransitionFromPacket(packet)
	if err != nil {
		return nil, err
	}

	return transition, VerifyAnchor(
		packet.UnsignedTx, uint32(idx), transition,
	)
}

// VerifyAnchor checks that the given output of tx is an opret marker that
// commits to the transition.
func VerifyAnchor(tx *wire.MsgTx, markerVout uint32,
	transition *Transition) error {

	if int(markerVout) >= len(tx.TxOut) {
		return fmt.Errorf("%w: marker vout %d out of range",
			ErrNoCommitment, markerVout)
	}

	transitionBytes, err := transition.Bytes()
	if err != nil {
		return err
	}

	expected, err := markerScript(opretCommitment(transitionBytes))
	if err != nil {
		return err
	}

	if !bytes.Equal(tx.TxOut[markerVout].PkScript, expected) {
		return ErrCommitmentMismatch
	}

	return nil
}

// FindMarker returns the index of the first OP_RETURN output of tx.
func FindMarker(tx *wire.MsgTx) (uint32, error) {
	for idx, txOut := range tx.TxOut {
		if txscript.GetScriptClass(txOut.PkScript) ==
			txscript.NullDataTy {

			return uint32(idx), nil
		}
	}

	return 0, ErrNoCommitment
}

// IsCommitmentError returns true if err was caused by the given builder
// failure.
func IsCommitmentError(err, target error) bool {
	var commitmentErr *rgb.CommitmentError
	return errors.As(err, &commitmentErr) && errors.Is(err, target)
}
