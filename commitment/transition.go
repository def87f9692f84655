package commitment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// TransferTransitionType is the type of a fungible transfer.
	TransferTransitionType uint16 = 10000

	// opoutSize is the encoded size of an opout.
	opoutSize = chainhash.HashSize + 2 + 2

	// assignmentSize is the encoded size of an assignment.
	assignmentSize = 2 + 1 + 4 + 8 + 8
)

var (
	// transitionTag is the tag of the tagged hash that identifies a
	// transition.
	transitionTag = []byte("rgb:transition")
)

// TransitionTlvType is the TLV type of the fields of an encoded transition.
type TransitionTlvType = tlv.Type

const (
	TransitionContractID  TransitionTlvType = 0
	TransitionType        TransitionTlvType = 2
	TransitionInputs      TransitionTlvType = 4
	TransitionAssignments TransitionTlvType = 6
)

// Opout references one assignment of a previous operation.
type Opout struct {
	// OpID is the ID of the operation that created the assignment.
	OpID chainhash.Hash

	// AssignmentType is the type of the assignment.
	AssignmentType uint16

	// Index is the index of the assignment within its type.
	Index uint16
}

// String returns the human readable form of the opout.
func (o Opout) String() string {
	return fmt.Sprintf("%v/%d/%d", o.OpID, o.AssignmentType, o.Index)
}

// less orders opouts canonically.
func (o Opout) less(other Opout) bool {
	if c := bytes.Compare(o.OpID[:], other.OpID[:]); c != 0 {
		return c < 0
	}
	if o.AssignmentType != other.AssignmentType {
		return o.AssignmentType < other.AssignmentType
	}

	return o.Index < other.Index
}

// Assignment binds an amount of the contract to a seal.
type Assignment struct {
	// Type is the assignment type.
	Type uint16

	// Seal is the seal the amount is bound to.
	Seal GraphSeal

	// Amount is the fungible amount.
	Amount uint64
}

// Transition is a state transition of a contract: it consumes the state of
// its inputs and assigns new state to seals.
type Transition struct {
	// ContractID is the contract the transition belongs to.
	ContractID rgb.ContractID

	// Type is the transition type.
	Type uint16

	// Inputs are the consumed assignments, in canonical order.
	Inputs []Opout

	// Assignments are the newly created assignments.
	Assignments []Assignment
}

// TotalAssigned returns the sum of all assigned amounts.
func (t *Transition) TotalAssigned() uint64 {
	var total uint64
	for _, a := range t.Assignments {
		total += a.Amount
	}

	return total
}

// sortInputs brings the inputs into canonical order.
func (t *Transition) sortInputs() {
	sort.Slice(t.Inputs, func(i, j int) bool {
		return t.Inputs[i].less(t.Inputs[j])
	})
}

// encodeInputs serializes the inputs as fixed size records.
func (t *Transition) encodeInputs() []byte {
	b := make([]byte, 0, len(t.Inputs)*opoutSize)
	for _, in := range t.Inputs {
		b = append(b, in.OpID[:]...)
		b = binary.BigEndian.AppendUint16(b, in.AssignmentType)
		b = binary.BigEndian.AppendUint16(b, in.Index)
	}

	return b
}

// encodeAssignments serializes the assignments as fixed size records.
func (t *Transition) encodeAssignments() []byte {
	b := make([]byte, 0, len(t.Assignments)*assignmentSize)
	for _, a := range t.Assignments {
		b = binary.BigEndian.AppendUint16(b, a.Type)
		b = append(b, byte(a.Seal.Method))
		b = binary.BigEndian.AppendUint32(b, a.Seal.Vout)
		b = binary.BigEndian.AppendUint64(b, a.Seal.Blinding)
		b = binary.BigEndian.AppendUint64(b, a.Amount)
	}

	return b
}

// Encode serializes the transition as a TLV stream.
func (t *Transition) Encode(w io.Writer) error {
	var (
		inputs      = t.encodeInputs()
		assignments = t.encodeAssignments()
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(
			TransitionContractID, (*[32]byte)(&t.ContractID),
		),
		tlv.MakePrimitiveRecord(TransitionType, &t.Type),
		tlv.MakePrimitiveRecord(TransitionInputs, &inputs),
		tlv.MakePrimitiveRecord(TransitionAssignments, &assignments),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode deserializes a transition from a TLV stream.
func (t *Transition) Decode(r io.Reader) error {
	var inputs, assignments []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(
			TransitionContractID, (*[32]byte)(&t.ContractID),
		),
		tlv.MakePrimitiveRecord(TransitionType, &t.Type),
		tlv.MakePrimitiveRecord(TransitionInputs, &inputs),
		tlv.MakePrimitiveRecord(TransitionAssignments, &assignments),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(r); err != nil {
		return err
	}

	if len(inputs)%opoutSize != 0 {
		return fmt.Errorf("invalid transition inputs length %d",
			len(inputs))
	}
	t.Inputs = nil
	for len(inputs) > 0 {
		var in Opout
		copy(in.OpID[:], inputs[:chainhash.HashSize])
		in.AssignmentType = binary.BigEndian.Uint16(
			inputs[chainhash.HashSize:],
		)
		in.Index = binary.BigEndian.Uint16(
			inputs[chainhash.HashSize+2:],
		)
		t.Inputs = append(t.Inputs, in)
		inputs = inputs[opoutSize:]
	}

	if len(assignments)%assignmentSize != 0 {
		return fmt.Errorf("invalid transition assignments length %d",
			len(assignments))
	}
	t.Assignments = nil
	for len(assignments) > 0 {
		a := Assignment{
			Type: binary.BigEndian.Uint16(assignments),
			Seal: GraphSeal{
				Method: CloseMethod(assignments[2]),
				Vout:   binary.BigEndian.Uint32(assignments[3:]),
				Blinding: binary.BigEndian.Uint64(
					assignments[7:],
				),
			},
			Amount: binary.BigEndian.Uint64(assignments[15:]),
		}
		t.Assignments = append(t.Assignments, a)
		assignments = assignments[assignmentSize:]
	}

	return nil
}

// Bytes returns the serialized transition.
func (t *Transition) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := t.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// ID returns the identifier of the transition, the tagged hash of its
// serialization.
func (t *Transition) ID() (chainhash.Hash, error) {
	encoded, err := t.Bytes()
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *chainhash.TaggedHash(transitionTag, encoded), nil
}

// DecodeTransition deserializes a transition.
func DecodeTransition(b []byte) (*Transition, error) {
	var t Transition
	if err := t.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return &t, nil
}
