package commitment

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/rgb-lightning/rgb"
)

// The proprietary PSBT keys all start with the BIP-0174 proprietary key type
// 0xfc followed by the length prefixed identifier "RGB" and a sub type.
var (
	// PsbtKeyTypeGlobalRgbTransition stores the serialized transition the
	// transaction commits to.
	PsbtKeyTypeGlobalRgbTransition = []byte{0xfc, 0x03, 'R', 'G', 'B', 0x01}

	// PsbtKeyTypeInputRgbConsumer marks an input whose state is consumed
	// by a transition. The value is the contract ID followed by the
	// transition ID.
	PsbtKeyTypeInputRgbConsumer = []byte{0xfc, 0x03, 'R', 'G', 'B', 0x02}

	// PsbtKeyTypeOutputRgbOpretHost marks the output that hosts the opret
	// commitment.
	PsbtKeyTypeOutputRgbOpretHost = []byte{0xfc, 0x03, 'R', 'G', 'B', 0x03}

	// trueAsBytes is the value of a boolean flag field.
	trueAsBytes = []byte{0x01}
)

// findUnknown returns the index of the field with the given key.
func findUnknown(unknowns []*psbt.Unknown, key []byte) int {
	for idx, u := range unknowns {
		if bytes.Equal(u.Key, key) {
			return idx
		}
	}

	return -1
}

// removeUnknown returns the fields without the one with the given key.
func removeUnknown(unknowns []*psbt.Unknown, key []byte) []*psbt.Unknown {
	idx := findUnknown(unknowns, key)
	if idx < 0 {
		return unknowns
	}

	result := make([]*psbt.Unknown, 0, len(unknowns)-1)
	result = append(result, unknowns[:idx]...)
	return append(result, unknowns[idx+1:]...)
}

// OpretHost returns the index of the output that hosts the opret
// commitment.
func OpretHost(packet *psbt.Packet) (int, bool) {
	for idx := range packet.Outputs {
		unknowns := packet.Outputs[idx].Unknowns
		if findUnknown(unknowns, PsbtKeyTypeOutputRgbOpretHost) >= 0 {
			return idx, true
		}
	}

	return 0, false
}

// TransitionFromPacket returns the transition stored in the packet.
func TransitionFromPacket(packet *psbt.Packet) (*Transition, error) {
	idx := findUnknown(packet.Unknowns, PsbtKeyTypeGlobalRgbTransition)
	if idx < 0 {
		return nil, ErrNoCommitment
	}

	return DecodeTransition(packet.Unknowns[idx].Value)
}

// InputConsumer returns the contract and transition that consume the state
// of the given input.
func InputConsumer(packet *psbt.Packet, inputIdx int) (rgb.ContractID,
	chainhash.Hash, bool) {

	var (
		contractID   rgb.ContractID
		transitionID chainhash.Hash
	)
	if inputIdx >= len(packet.Inputs) {
		return contractID, transitionID, false
	}

	unknowns := packet.Inputs[inputIdx].Unknowns
	idx := findUnknown(unknowns, PsbtKeyTypeInputRgbConsumer)
	if idx < 0 || len(unknowns[idx].Value) != 64 {
		return contractID, transitionID, false
	}

	copy(contractID[:], unknowns[idx].Value[:32])
	copy(transitionID[:], unknowns[idx].Value[32:])

	return contractID, transitionID, true
}

// setInputConsumer marks the input as consumed by the transition.
func setInputConsumer(pIn *psbt.PInput, contractID rgb.ContractID,
	transitionID chainhash.Hash) {

	value := make([]byte, 0, 64)
	value = append(value, contractID[:]...)
	value = append(value, transitionID[:]...)

	pIn.Unknowns = append(
		removeUnknown(pIn.Unknowns, PsbtKeyTypeInputRgbConsumer),
		&psbt.Unknown{
			Key:   PsbtKeyTypeInputRgbConsumer,
			Value: value,
		},
	)
}

// DiscardMarker removes the commitment of a colored packet: the marker
// output and all proprietary fields the builder added.
func DiscardMarker(packet *psbt.Packet) error {
	idx, ok := OpretHost(packet)
	if !ok {
		return ErrNoCommitment
	}
	if idx >= len(packet.UnsignedTx.TxOut) {
		return fmt.Errorf("opret host %d out of range", idx)
	}

	tx := packet.UnsignedTx
	tx.TxOut = append(tx.TxOut[:idx:idx], tx.TxOut[idx+1:]...)
	packet.Outputs = append(
		packet.Outputs[:idx:idx], packet.Outputs[idx+1:]...,
	)

	packet.Unknowns = removeUnknown(
		packet.Unknowns, PsbtKeyTypeGlobalRgbTransition,
	)
	for i := range packet.Inputs {
		packet.Inputs[i].Unknowns = removeUnknown(
			packet.Inputs[i].Unknowns, PsbtKeyTypeInputRgbConsumer,
		)
	}

	return nil
}
