package rgbrpc

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/lightninglabs/rgb-lightning/rgb"
)

// Client is a JSON-RPC client of the daemon. The function fields are filled
// in by go-jsonrpc.
type Client struct {
	Internal struct {
		FundChannel func(context.Context,
			*FundChannelRequest) (*FundChannelResponse, error)

		Balance func(context.Context,
			*BalanceRequest) (*BalanceResponse, error)

		IssueAsset func(context.Context,
			*IssueAssetRequest) (*rgb.Asset, error)

		ListAssets func(context.Context) (*ListAssetsResponse, error)

		FundingHook func(context.Context,
			*FundingHookRequest) (*FundingHookResponse, error)

		ListenAsset func(context.Context, *ListenAssetRequest) error

		Refresh func(context.Context) (*RefreshResponse, error)

		ListChannels func(context.Context) (*ListChannelsResponse,
			error)

		UpdateChannel func(context.Context,
			*UpdateChannelRequest) (*rgb.PaymentInfo, error)

		CloseChannel func(context.Context,
			*CloseChannelRequest) (*rgb.Allocation, error)
	}
}

// NewClient connects to the daemon at addr, which is either a ws(s) or an
// http(s) URL of the JSON-RPC endpoint.
func NewClient(ctx context.Context, addr string,
	header http.Header) (*Client, jsonrpc.ClientCloser, error) {

	var client Client
	closer, err := jsonrpc.NewMergeClient(
		ctx, addr, Namespace, []interface{}{&client.Internal}, header,
	)
	if err != nil {
		return nil, nil, err
	}

	return &client, closer, nil
}

func (c *Client) FundChannel(ctx context.Context,
	req *FundChannelRequest) (*FundChannelResponse, error) {

	return c.Internal.FundChannel(ctx, req)
}

func (c *Client) Balance(ctx context.Context,
	req *BalanceRequest) (*BalanceResponse, error) {

	return c.Internal.Balance(ctx, req)
}

func (c *Client) IssueAsset(ctx context.Context,
	req *IssueAssetRequest) (*rgb.Asset, error) {

	return c.Internal.IssueAsset(ctx, req)
}

func (c *Client) ListAssets(ctx context.Context) (*ListAssetsResponse,
	error) {

	return c.Internal.ListAssets(ctx)
}

func (c *Client) FundingHook(ctx context.Context,
	req *FundingHookRequest) (*FundingHookResponse, error) {

	return c.Internal.FundingHook(ctx, req)
}

func (c *Client) ListenAsset(ctx context.Context,
	req *ListenAssetRequest) error {

	return c.Internal.ListenAsset(ctx, req)
}

func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	return c.Internal.Refresh(ctx)
}

func (c *Client) ListChannels(ctx context.Context) (*ListChannelsResponse,
	error) {

	return c.Internal.ListChannels(ctx)
}

func (c *Client) UpdateChannel(ctx context.Context,
	req *UpdateChannelRequest) (*rgb.PaymentInfo, error) {

	return c.Internal.UpdateChannel(ctx, req)
}

func (c *Client) CloseChannel(ctx context.Context,
	req *CloseChannelRequest) (*rgb.Allocation, error) {

	return c.Internal.CloseChannel(ctx, req)
}

var _ API = (*Client)(nil)
