package rgbwallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

// StateKind describes who controls a piece of colored state.
type StateKind uint8

const (
	// StateOwned is settled state on a confirmed wallet output.
	StateOwned StateKind = 0

	// StatePending is state on a wallet output whose anchor transaction
	// isn't confirmed yet.
	StatePending StateKind = 1

	// StateChannel is the local side of a channel allocation, sealed to a
	// channel funding output.
	StateChannel StateKind = 2
)

// String returns the name of the state kind.
func (k StateKind) String() string {
	switch k {
	case StateOwned:
		return "owned"

	case StatePending:
		return "pending"

	case StateChannel:
		return "channel"

	default:
		return fmt.Sprintf("<unknown state kind %d>", uint8(k))
	}
}

// EntryTlvType is the TLV type of the fields of an encoded ledger entry.
type EntryTlvType = tlv.Type

const (
	EntryOpID           EntryTlvType = 0
	EntryAssignmentType EntryTlvType = 2
	EntryIndex          EntryTlvType = 4
	EntryAmount         EntryTlvType = 6
	EntryKind           EntryTlvType = 8
	EntryChannelID      EntryTlvType = 10
)

// Entry is a single assignment of a contract the wallet tracks.
type Entry struct {
	// ContractID is the contract of the state.
	ContractID rgb.ContractID

	// OutPoint is the output the state is sealed to.
	OutPoint wire.OutPoint

	// Opout references the assignment that created the state.
	Opout commitment.Opout

	// Amount is the fungible amount.
	Amount uint64

	// Kind describes who controls the state.
	Kind StateKind

	// ChannelID is set for channel state.
	ChannelID string
}

// entryKey returns the storage key of the entry.
func entryKey(e *Entry) string {
	return fmt.Sprintf("%s%s/", contractPrefix(e.ContractID), e.OutPoint) +
		e.Opout.String()
}

// contractPrefix returns the key prefix of all entries of a contract.
func contractPrefix(contractID rgb.ContractID) string {
	return fmt.Sprintf("%s%x/", ledgerPrefix, contractID[:])
}

// outpointPrefix returns the key prefix of all entries of a contract on the
// given outpoint.
func outpointPrefix(contractID rgb.ContractID, op wire.OutPoint) string {
	return fmt.Sprintf("%s%s/", contractPrefix(contractID), op)
}

// encode serializes the entry. The contract and outpoint are part of the key.
func (e *Entry) encode() ([]byte, error) {
	var (
		opID      = [32]byte(e.Opout.OpID)
		kind      = uint8(e.Kind)
		channelID = []byte(e.ChannelID)
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(EntryOpID, &opID),
		tlv.MakePrimitiveRecord(
			EntryAssignmentType, &e.Opout.AssignmentType,
		),
		tlv.MakePrimitiveRecord(EntryIndex, &e.Opout.Index),
		tlv.MakePrimitiveRecord(EntryAmount, &e.Amount),
		tlv.MakePrimitiveRecord(EntryKind, &kind),
		tlv.MakePrimitiveRecord(EntryChannelID, &channelID),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeEntry deserializes an entry stored for the given contract and
// outpoint.
func decodeEntry(contractID rgb.ContractID, op wire.OutPoint,
	b []byte) (*Entry, error) {

	var (
		e = &Entry{
			ContractID: contractID,
			OutPoint:   op,
		}
		opID      [32]byte
		kind      uint8
		channelID []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(EntryOpID, &opID),
		tlv.MakePrimitiveRecord(
			EntryAssignmentType, &e.Opout.AssignmentType,
		),
		tlv.MakePrimitiveRecord(EntryIndex, &e.Opout.Index),
		tlv.MakePrimitiveRecord(EntryAmount, &e.Amount),
		tlv.MakePrimitiveRecord(EntryKind, &kind),
		tlv.MakePrimitiveRecord(EntryChannelID, &channelID),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	e.Opout.OpID = opID
	e.Kind = StateKind(kind)
	e.ChannelID = string(channelID)

	return e, nil
}
