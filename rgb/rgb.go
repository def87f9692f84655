package rgb

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// ContractIDPrefix is the optional human readable prefix of an encoded
	// contract ID.
	ContractIDPrefix = "rgb:"

	// StaticBlinding is the blinding factor used for every seal that
	// commits to a channel output. Both channel parties must use the same
	// value to be able to reconstruct the seals independently.
	StaticBlinding uint64 = 777

	// Interface is the contract interface all channel assets implement.
	Interface = "RGB20"

	// BeneficiaryAssignment is the name of the fungible assignment type of
	// the RGB20 interface.
	BeneficiaryAssignment = "beneficiary"
)

// ContractID is the stable identifier of an issued asset's ruleset.
type ContractID [32]byte

// NewContractIDFromStr decodes a contract ID from its string form. Both the
// plain hex and the prefixed form are accepted.
func NewContractIDFromStr(s string) (ContractID, error) {
	var id ContractID

	s = strings.TrimPrefix(strings.TrimSpace(s), ContractIDPrefix)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid contract id encoding: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid contract id length: expected "+
			"%d, got %d", len(id), len(raw))
	}

	copy(id[:], raw)
	return id, nil
}

// String returns the prefixed hex encoding of the contract ID.
func (c ContractID) String() string {
	return ContractIDPrefix + hex.EncodeToString(c[:])
}

// IsZero returns true if the contract ID wasn't set.
func (c ContractID) IsZero() bool {
	return c == ContractID{}
}

// ValidateChannelID makes sure the channel ID can safely be used as part of a
// storage key.
func ValidateChannelID(channelID string) error {
	switch {
	case channelID == "":
		return NewValidationError("channel id must not be empty")

	case strings.ContainsAny(channelID, "/ \t\n"):
		return NewValidationError("channel id %q contains invalid "+
			"characters", channelID)
	}

	return nil
}

// Allocation is the amount of a contract bound to the funding output of a
// channel, split between the local and the remote side.
type Allocation struct {
	// ChannelID is the identifier of the channel the allocation belongs
	// to. This can be a temporary ID while the channel is being funded.
	ChannelID string `json:"channel_id"`

	// ContractID is the contract the allocated amounts belong to.
	ContractID ContractID `json:"contract_id"`

	// LocalAmount is the amount owned by the local node.
	LocalAmount uint64 `json:"local_amount"`

	// RemoteAmount is the amount owned by the remote node.
	RemoteAmount uint64 `json:"remote_amount"`
}

// Total returns the full amount committed on-chain for the channel.
func (a *Allocation) Total() uint64 {
	return a.LocalAmount + a.RemoteAmount
}

// Validate checks that the allocation is well formed.
func (a *Allocation) Validate() error {
	if err := ValidateChannelID(a.ChannelID); err != nil {
		return err
	}

	if a.ContractID.IsZero() {
		return NewValidationError("allocation for channel %v has no "+
			"contract id", a.ChannelID)
	}

	if a.LocalAmount > math.MaxUint64-a.RemoteAmount {
		return NewValidationError("allocation for channel %v "+
			"overflows", a.ChannelID)
	}

	return nil
}

// Rebalance moves value between the two sides of the allocation. The offered
// amount moves from the local to the remote side, the received amount the
// other way around. The total is never changed, and an update that would
// drive either side negative is rejected without modifying the allocation.
func (a *Allocation) Rebalance(offered, received uint64) error {
	local, remote := a.LocalAmount, a.RemoteAmount

	switch {
	case offered >= received:
		delta := offered - received
		if delta > local {
			return NewValidationError("cannot move %d from local "+
				"balance %d of channel %v", delta, local,
				a.ChannelID)
		}
		local -= delta
		remote += delta

	default:
		delta := received - offered
		if delta > remote {
			return NewValidationError("cannot move %d from remote "+
				"balance %d of channel %v", delta, remote,
				a.ChannelID)
		}
		remote -= delta
		local += delta
	}

	a.LocalAmount, a.RemoteAmount = local, remote

	return nil
}

// Copy returns a copy of the allocation.
func (a *Allocation) Copy() *Allocation {
	c := *a
	return &c
}

// CounterpartyVout returns the output index that carries the counterparty's
// side of an allocation. The holder and counterparty vouts of a funding
// transaction are always a pair that only differs in the lowest bit.
func CounterpartyVout(holderVout uint32) uint32 {
	return holderVout ^ 1
}

// FundingOutpoint references the funding output of a channel. The index is
// restricted to 16 bits, as mandated by the channel ID derivation.
type FundingOutpoint struct {
	// Txid is the hash of the funding transaction.
	Txid chainhash.Hash

	// Index is the output index of the funding output.
	Index uint16
}

// NewFundingOutpoint converts a wire outpoint into a funding outpoint.
func NewFundingOutpoint(op wire.OutPoint) (FundingOutpoint, error) {
	if op.Index > math.MaxUint16 {
		return FundingOutpoint{}, NewValidationError("funding output "+
			"index %d out of range", op.Index)
	}

	return FundingOutpoint{
		Txid:  op.Hash,
		Index: uint16(op.Index),
	}, nil
}

// OutPoint returns the wire representation of the funding outpoint.
func (f FundingOutpoint) OutPoint() wire.OutPoint {
	return wire.OutPoint{
		Hash:  f.Txid,
		Index: uint32(f.Index),
	}
}

// String returns the txid:index representation of the outpoint.
func (f FundingOutpoint) String() string {
	return fmt.Sprintf("%v:%d", f.Txid, f.Index)
}

// ParseOutPoint parses the txid:index form of an outpoint.
func ParseOutPoint(s string) (wire.OutPoint, error) {
	txidStr, indexStr, ok := strings.Cut(s, ":")
	if !ok {
		return wire.OutPoint{}, NewValidationError("invalid outpoint "+
			"%q", s)
	}

	hash, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return wire.OutPoint{}, NewValidationError("invalid txid of "+
			"outpoint %q: %v", s, err)
	}
	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		return wire.OutPoint{}, NewValidationError("invalid index of "+
			"outpoint %q: %v", s, err)
	}

	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}

// Asset is the immutable record created when a new contract is issued.
type Asset struct {
	// ContractID is the ID of the issued contract.
	ContractID ContractID `json:"contract_id"`

	// Ticker is the short ticker of the asset.
	Ticker string `json:"ticker"`

	// Name is the full name of the asset.
	Name string `json:"name"`

	// Precision is the number of decimal places of the asset.
	Precision uint8 `json:"precision"`

	// TotalSupply is the sum of all issued amounts.
	TotalSupply uint64 `json:"total_supply"`
}

// Balance is the view of a single contract's balance.
type Balance struct {
	// Settled is the amount held by confirmed wallet outputs.
	Settled uint64 `json:"settled"`

	// Future is the settled amount plus any incoming, not yet settled
	// amount.
	Future uint64 `json:"future"`

	// Spendable is the amount that can be used for a new channel right
	// now.
	Spendable uint64 `json:"spendable"`

	// InFlight is the local amount of funding attempts that are not yet
	// finalized.
	InFlight uint64 `json:"in_flight"`

	// InChannels is the local amount allocated to confirmed channels.
	InChannels uint64 `json:"in_channels"`
}

// PaymentInfo records the allocation change caused by a single HTLC.
type PaymentInfo struct {
	// ChannelID is the channel the HTLC was routed through.
	ChannelID string `json:"channel_id"`

	// ContractID is the contract of the payment.
	ContractID ContractID `json:"contract_id"`

	// Amount is the asset amount carried by the HTLC.
	Amount uint64 `json:"amount"`

	// LocalAmount is the local side of the allocation after the update.
	LocalAmount uint64 `json:"local_amount"`

	// RemoteAmount is the remote side of the allocation after the update.
	RemoteAmount uint64 `json:"remote_amount"`

	// Incoming is true if the HTLC moved value to the local side.
	Incoming bool `json:"incoming"`
}
