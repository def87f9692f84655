package rgbld

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/google/uuid"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightninglabs/rgb-lightning/rgbrpc"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
)

const (
	// noAssetsWarning is returned by the balance call if there is no asset
	// to report.
	noAssetsWarning = "no assets issued or imported yet"
)

// rpcServer is the main RPC server for the daemon that handles the JSON-RPC
// interface. All handlers call the capabilities directly. Every exported
// method is served, so the type must not carry anything but handlers.
type rpcServer struct {
	cfg *Config
}

// newRPCServer creates a new RPC sever from the set of input dependencies.
func newRPCServer(cfg *Config) *rpcServer {
	return &rpcServer{
		cfg: cfg,
	}
}

// newJSONRPCServer registers the RPC server under the RGB namespace.
func (r *rpcServer) newJSONRPCServer() *jsonrpc.RPCServer {
	server := jsonrpc.NewServer()
	server.Register(rgbrpc.Namespace, r)

	return server
}

// parseContractID decodes an asset ID of a request.
func parseContractID(assetID string) (rgb.ContractID, error) {
	id, err := rgb.NewContractIDFromStr(assetID)
	if err != nil {
		return id, rgb.NewValidationError("invalid asset id %q: %v",
			assetID, err)
	}

	return id, nil
}

// FundChannel opens a channel with the peer that commits the requested asset
// amount to the local side.
func (r *rpcServer) FundChannel(ctx context.Context,
	req *rgbrpc.FundChannelRequest) (*rgbrpc.FundChannelResponse, error) {

	rpcsLog.Debugf("[FundChannel]: peer=%v, asset=%v, amount=%d",
		req.PeerID, req.AssetID, req.Amount)

	peerBytes, err := hex.DecodeString(req.PeerID)
	if err != nil {
		return nil, rgb.NewValidationError("invalid peer id: %v", err)
	}
	peerPub, err := btcec.ParsePubKey(peerBytes)
	if err != nil {
		return nil, rgb.NewValidationError("invalid peer id: %v", err)
	}

	contractID, err := parseContractID(req.AssetID)
	if err != nil {
		return nil, err
	}

	if req.ChannelCapacity < 0 {
		return nil, rgb.NewValidationError("negative channel capacity")
	}

	info, err := r.cfg.Controller.FundChannel(ctx, &rgbchannel.FundReq{
		PeerPub:    peerPub,
		ContractID: contractID,
		Amount:     req.Amount,
		Capacity:   btcutil.Amount(req.ChannelCapacity),
	})
	if err != nil {
		return nil, err
	}

	rpcInfo := &rgbrpc.FundingInfo{
		TempChannelID: info.TempChannelID,
		ChannelID:     info.ChannelID,
		FundingTxid:   info.FundingOutpoint.Txid.String(),
		FundingVout:   info.FundingOutpoint.Index,
		TransitionID:  info.TransitionID.String(),
	}
	if info.DeliveryID != uuid.Nil {
		rpcInfo.DeliveryID = info.DeliveryID.String()
	}

	return &rgbrpc.FundChannelResponse{
		FundingInfo: rpcInfo,
		Allocation:  info.Allocation,
	}, nil
}

// assetBalance assembles the balance of a single asset.
func (r *rpcServer) assetBalance(ctx context.Context,
	asset *rgb.Asset) (*rgbrpc.AssetBalance, error) {

	balance, err := r.cfg.Oracle.Spendable(ctx, asset.ContractID)
	if err != nil {
		return nil, err
	}

	return &rgbrpc.AssetBalance{
		Ticker:    asset.Ticker,
		Precision: asset.Precision,
		Balance:   balance,
		Spendable: rgbrpc.FormatAmount(
			balance.Spendable, asset.Precision,
		),
	}, nil
}

// Balance returns the on-chain balance together with the balance of a single
// asset or of all known assets.
func (r *rpcServer) Balance(ctx context.Context,
	req *rgbrpc.BalanceRequest) (*rgbrpc.BalanceResponse, error) {

	onchain, err := r.cfg.Ledger.OnchainBalance(ctx)
	if err != nil {
		return nil, err
	}

	resp := &rgbrpc.BalanceResponse{
		Onchain: &rgbrpc.OnchainBalance{
			Confirmed:   int64(onchain.Confirmed),
			Unconfirmed: int64(onchain.Unconfirmed),
		},
	}

	var assets []*rgb.Asset
	if req.AssetID != "" {
		contractID, err := parseContractID(req.AssetID)
		if err != nil {
			return nil, err
		}

		asset, err := r.cfg.Ledger.FetchAsset(ctx, contractID)
		switch {
		case errors.Is(err, rgbwallet.ErrUnknownContract):
			return nil, rgb.NewValidationError("unknown asset %v",
				contractID)

		case err != nil:
			return nil, err
		}
		assets = append(assets, asset)
	} else {
		assets, err = r.cfg.Ledger.ListAssets(ctx)
		if err != nil {
			return nil, err
		}
	}

	if len(assets) == 0 {
		resp.Warning = noAssetsWarning
		return resp, nil
	}

	resp.Assets = make(map[string]*rgbrpc.AssetBalance, len(assets))
	for _, asset := range assets {
		balance, err := r.assetBalance(ctx, asset)
		if err != nil {
			return nil, err
		}
		resp.Assets[asset.ContractID.String()] = balance
	}

	return resp, nil
}

// IssueAsset issues a new asset on the wallet's outputs.
func (r *rpcServer) IssueAsset(ctx context.Context,
	req *rgbrpc.IssueAssetRequest) (*rgb.Asset, error) {

	rpcsLog.Debugf("[IssueAsset]: ticker=%v, amounts=%v", req.Ticker,
		req.Amounts)

	return r.cfg.Ledger.IssueAsset(ctx, &rgbwallet.IssueRequest{
		Ticker:    req.Ticker,
		Name:      req.Name,
		Precision: req.Precision,
		Amounts:   req.Amounts,
	})
}

// ListAssets returns all known assets.
func (r *rpcServer) ListAssets(
	ctx context.Context) (*rgbrpc.ListAssetsResponse, error) {

	assets, err := r.cfg.Ledger.ListAssets(ctx)
	if err != nil {
		return nil, err
	}

	return &rgbrpc.ListAssetsResponse{
		Assets: assets,
	}, nil
}

// FundingHook colors a funding transaction the host built on its own.
func (r *rpcServer) FundingHook(ctx context.Context,
	req *rgbrpc.FundingHookRequest) (*rgbrpc.FundingHookResponse, error) {

	rpcsLog.Debugf("[FundingHook]: channel=%v, txid=%v", req.ChannelID,
		req.Txid)

	rawTx, err := hex.DecodeString(req.Tx)
	if err != nil {
		return nil, rgb.NewValidationError("invalid tx: %v", err)
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, rgb.NewValidationError("invalid tx: %v", err)
	}

	txid, err := chainhash.NewHashFromStr(req.Txid)
	if err != nil {
		return nil, rgb.NewValidationError("invalid txid: %v", err)
	}

	packet, err := psbt.NewFromRawBytes(strings.NewReader(req.Psbt), true)
	if err != nil {
		return nil, rgb.NewValidationError("invalid psbt: %v", err)
	}

	resp, err := r.cfg.Controller.ColorHostFunding(
		ctx, &rgbchannel.HookRequest{
			Tx:         tx,
			Txid:       *txid,
			Packet:     packet,
			ChannelID:  req.ChannelID,
			HolderVout: req.HolderVout,
		},
	)
	if err != nil {
		return nil, err
	}

	var txBuf, psbtBuf bytes.Buffer
	if err := resp.Tx.Serialize(&txBuf); err != nil {
		return nil, err
	}
	if err := resp.Packet.Serialize(&psbtBuf); err != nil {
		return nil, err
	}

	return &rgbrpc.FundingHookResponse{
		Tx:   hex.EncodeToString(txBuf.Bytes()),
		Psbt: hex.EncodeToString(psbtBuf.Bytes()),
	}, nil
}

// ListenAsset adds a known asset to the listen list.
func (r *rpcServer) ListenAsset(ctx context.Context,
	req *rgbrpc.ListenAssetRequest) error {

	contractID, err := parseContractID(req.AssetID)
	if err != nil {
		return err
	}

	_, err = r.cfg.Ledger.FetchAsset(ctx, contractID)
	switch {
	case errors.Is(err, rgbwallet.ErrUnknownContract):
		return rgb.NewValidationError("unknown asset %v", contractID)

	case err != nil:
		return err
	}

	return r.cfg.Assets.ListenFor(ctx, contractID)
}

// Refresh runs a refresh of all listened assets right away.
func (r *rpcServer) Refresh(ctx context.Context) (*rgbrpc.RefreshResponse,
	error) {

	settled, err := r.cfg.Refresher.RefreshAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}

	return &rgbrpc.RefreshResponse{
		Settled: settled,
	}, nil
}

// ListChannels returns the allocations of all channels.
func (r *rpcServer) ListChannels(
	ctx context.Context) (*rgbrpc.ListChannelsResponse, error) {

	pending, confirmed, err := r.cfg.Controller.Channels(ctx)
	if err != nil {
		return nil, err
	}

	resp := &rgbrpc.ListChannelsResponse{
		Pending:   pending,
		Confirmed: confirmed,
	}
	for _, alloc := range confirmed {
		ack, ok := r.cfg.Refresher.Ack(alloc.ChannelID)
		if !ok {
			continue
		}

		if resp.Acks == nil {
			resp.Acks = make(map[string]bool)
		}
		resp.Acks[alloc.ChannelID] = ack
	}

	return resp, nil
}

// UpdateChannel applies an HTLC to the allocation of a channel.
func (r *rpcServer) UpdateChannel(ctx context.Context,
	req *rgbrpc.UpdateChannelRequest) (*rgb.PaymentInfo, error) {

	rpcsLog.Debugf("[UpdateChannel]: channel=%v, offered=%d, "+
		"received=%d", req.ChannelID, req.Offered, req.Received)

	return r.cfg.Controller.UpdateChannelAmount(
		ctx, req.ChannelID, req.Offered, req.Received,
	)
}

// CloseChannel settles the allocation of a channel back into the wallet.
func (r *rpcServer) CloseChannel(ctx context.Context,
	req *rgbrpc.CloseChannelRequest) (*rgb.Allocation, error) {

	rpcsLog.Debugf("[CloseChannel]: channel=%v, closing_outpoint=%v",
		req.ChannelID, req.ClosingOutpoint)

	var closeOutpoint wire.OutPoint
	if req.ClosingOutpoint != "" {
		op, err := rgb.ParseOutPoint(req.ClosingOutpoint)
		if err != nil {
			return nil, err
		}
		closeOutpoint = op
	}

	return r.cfg.Controller.CloseChannel(ctx, req.ChannelID, closeOutpoint)
}

// A compile-time check to ensure that rpcServer fully implements the
// rgbrpc.API interface.
var _ rgbrpc.API = (*rpcServer)(nil)
