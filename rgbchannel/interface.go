package rgbchannel

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgb"
)

// FundingRequest is the request to reserve on-chain capacity with a peer.
type FundingRequest struct {
	// PeerPub is the identity key of the counterparty.
	PeerPub *btcec.PublicKey

	// Capacity is the bitcoin capacity of the new channel.
	Capacity btcutil.Amount

	// Inputs are the wallet outputs that carry the asset state and must
	// be spent by the funding transaction.
	Inputs []wire.OutPoint
}

// Reservation is the result of a successful start of the funding flow.
type Reservation struct {
	// TempChannelID is the temporary ID of the channel under
	// negotiation.
	TempChannelID string

	// PkScript is the script of the channel funding output.
	PkScript []byte

	// Packet is the unsigned funding transaction. It spends at least the
	// requested inputs and pays to PkScript.
	Packet *psbt.Packet

	// ChangeVout is the index of the wallet change output, -1 if there
	// is none.
	ChangeVout int32
}

// CompletedFunding describes a channel whose funding transaction was
// accepted by the host.
type CompletedFunding struct {
	// ChannelID is the final ID of the channel.
	ChannelID string

	// FundingOutpoint is the channel's funding output.
	FundingOutpoint rgb.FundingOutpoint
}

// ChannelFunder is the host's channel funding capability.
type ChannelFunder interface {
	// StartFunding reserves capacity with the peer and returns the
	// skeleton of the funding transaction.
	StartFunding(ctx context.Context,
		req *FundingRequest) (*Reservation, error)

	// CompleteFunding hands the colored funding transaction to the host,
	// which signs and publishes it.
	CompleteFunding(ctx context.Context, tempChannelID string,
		packet *psbt.Packet) (*CompletedFunding, error)

	// CancelFunding releases the reservation made with the peer.
	CancelFunding(ctx context.Context, peerPub *btcec.PublicKey,
		tempChannelID string) error
}

// BalanceOracle reports the balance of a contract.
type BalanceOracle interface {
	// Spendable returns the balance view of the contract.
	Spendable(ctx context.Context,
		contractID rgb.ContractID) (rgb.Balance, error)
}

// Colorer embeds an allocation into a funding transaction.
type Colorer interface {
	// Color commits the allocation to the packet's transaction.
	Color(ctx context.Context, packet *psbt.Packet,
		alloc *rgb.Allocation, holderVout uint32,
		opts ...commitment.ColorOption) (*commitment.Commitment, error)
}

// AssetWallet holds the asset state of the node.
type AssetWallet interface {
	// FetchAsset returns the record of a known asset.
	FetchAsset(ctx context.Context,
		contractID rgb.ContractID) (*rgb.Asset, error)

	// SelectInputs picks wallet outputs whose state covers the amount.
	SelectInputs(ctx context.Context, contractID rgb.ContractID,
		amount uint64) ([]wire.OutPoint, error)

	// ApplyTransition records the transition of a completed funding.
	ApplyTransition(ctx context.Context, channelID string,
		c *commitment.Commitment) error

	// Settle moves the local amount of a closed channel to the wallet
	// output of the closing transaction.
	Settle(ctx context.Context, channelID string,
		contractID rgb.ContractID, localAmount uint64,
		closeOutpoint wire.OutPoint) error
}

// ConsignmentDeliverer hands consignments to the counterparty.
type ConsignmentDeliverer interface {
	// Deliver queues the consignment for the recipient.
	Deliver(ctx context.Context, recipientID string,
		consignment proxy.Consignment) (uuid.UUID, error)
}

// FundingObserver is notified about every funding attempt that reached a
// terminal state.
type FundingObserver interface {
	// FundingDone is called with the terminal state of the attempt.
	FundingDone(contractID rgb.ContractID, state FundingState)
}
