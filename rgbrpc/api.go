package rgbrpc

import (
	"context"

	"github.com/lightninglabs/rgb-lightning/rgb"
)

const (
	// Namespace is the JSON-RPC namespace all methods are served under.
	Namespace = "RGB"

	// Path is the HTTP path of the JSON-RPC endpoint.
	Path = "/rpc/v1"
)

// API is the JSON-RPC interface of the daemon.
type API interface {
	// FundChannel opens a channel that carries assets.
	FundChannel(ctx context.Context,
		req *FundChannelRequest) (*FundChannelResponse, error)

	// Balance returns the on-chain and asset balances.
	Balance(ctx context.Context, req *BalanceRequest) (*BalanceResponse,
		error)

	// IssueAsset issues a new asset.
	IssueAsset(ctx context.Context, req *IssueAssetRequest) (*rgb.Asset,
		error)

	// ListAssets returns all known assets.
	ListAssets(ctx context.Context) (*ListAssetsResponse, error)

	// FundingHook colors a funding transaction built by the host.
	FundingHook(ctx context.Context,
		req *FundingHookRequest) (*FundingHookResponse, error)

	// ListenAsset adds an asset to the set of refreshed assets.
	ListenAsset(ctx context.Context, req *ListenAssetRequest) error

	// Refresh settles confirmed state of all listened assets.
	Refresh(ctx context.Context) (*RefreshResponse, error)

	// ListChannels returns the allocations of all channels.
	ListChannels(ctx context.Context) (*ListChannelsResponse, error)

	// UpdateChannel applies an HTLC to a channel's allocation.
	UpdateChannel(ctx context.Context,
		req *UpdateChannelRequest) (*rgb.PaymentInfo, error)

	// CloseChannel settles a channel's allocation back into the wallet.
	CloseChannel(ctx context.Context,
		req *CloseChannelRequest) (*rgb.Allocation, error)
}

type FundChannelRequest struct {
	// PeerID is the hex encoded identity key of the peer.
	PeerID string `json:"peer_id"`

	// Amount is the asset amount in its smallest unit.
	Amount uint64 `json:"amount"`

	AssetID string `json:"asset_id"`

	// ChannelCapacity is the bitcoin capacity in satoshis. The daemon's
	// default is used if it is zero.
	ChannelCapacity int64 `json:"channel_capacity,omitempty"`
}

type FundingInfo struct {
	TempChannelID string `json:"temp_channel_id"`
	ChannelID     string `json:"channel_id"`
	FundingTxid   string `json:"funding_txid"`
	FundingVout   uint16 `json:"funding_vout"`
	TransitionID  string `json:"transition_id"`

	// DeliveryID is empty if the consignment couldn't be queued.
	DeliveryID string `json:"delivery_id,omitempty"`
}

type FundChannelResponse struct {
	FundingInfo *FundingInfo    `json:"funding_info"`
	Allocation  *rgb.Allocation `json:"allocation"`
}

type BalanceRequest struct {
	// AssetID limits the response to a single asset.
	AssetID string `json:"asset_id,omitempty"`
}

type OnchainBalance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

type AssetBalance struct {
	Ticker    string      `json:"ticker"`
	Precision uint8       `json:"precision"`
	Balance   rgb.Balance `json:"balance"`

	// Spendable is the spendable amount formatted with the asset's
	// precision.
	Spendable string `json:"spendable"`
}

type BalanceResponse struct {
	Onchain *OnchainBalance `json:"onchain"`

	// Assets maps the contract ID to the balance of the asset.
	Assets map[string]*AssetBalance `json:"assets,omitempty"`

	// Warning is set instead of Assets if there is no asset to report.
	Warning string `json:"warning,omitempty"`
}

type IssueAssetRequest struct {
	Amounts   []uint64 `json:"amounts"`
	Ticker    string   `json:"ticker"`
	Name      string   `json:"name"`
	Precision uint8    `json:"precision"`
}

type ListAssetsResponse struct {
	Assets []*rgb.Asset `json:"assets"`
}

type FundingHookRequest struct {
	// Tx is the hex encoded unsigned funding transaction.
	Tx string `json:"tx"`

	// Txid is the hex encoded ID of the transaction.
	Txid string `json:"txid"`

	// Psbt is the base64 encoded funding PSBT.
	Psbt string `json:"psbt"`

	ChannelID  string `json:"channel_id"`
	HolderVout uint32 `json:"holder_vout"`
}

type FundingHookResponse struct {
	// Tx is the hex encoded, possibly colored, transaction.
	Tx string `json:"tx"`

	// Psbt is the hex encoded, possibly colored, PSBT.
	Psbt string `json:"psbt"`
}

type ListenAssetRequest struct {
	AssetID string `json:"asset_id"`
}

type RefreshResponse struct {
	// Settled is the number of ledger entries that were settled.
	Settled int `json:"settled"`
}

type ListChannelsResponse struct {
	Pending   []*rgb.Allocation `json:"pending"`
	Confirmed []*rgb.Allocation `json:"confirmed"`

	// Acks maps confirmed channels to the counterparty's verdict on
	// their consignment. Undecided channels are missing.
	Acks map[string]bool `json:"acks,omitempty"`
}

type UpdateChannelRequest struct {
	ChannelID string `json:"channel_id"`
	Offered   uint64 `json:"offered"`
	Received  uint64 `json:"received"`
}

type CloseChannelRequest struct {
	ChannelID string `json:"channel_id"`

	// ClosingOutpoint is the txid:index of the wallet's output of the
	// closing transaction. It receives the local amount.
	ClosingOutpoint string `json:"closing_outpoint"`
}
