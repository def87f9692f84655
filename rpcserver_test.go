package rgbld

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/internal/test"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightninglabs/rgb-lightning/rgbrpc"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// mockChainWallet is a bitcoin wallet with a mutable set of confirmed
// outputs.
type mockChainWallet struct {
	mu    sync.Mutex
	utxos []*rgbwallet.Utxo
}

func (m *mockChainWallet) add(op wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.utxos = append(m.utxos, &rgbwallet.Utxo{
		OutPoint:      op,
		Value:         100_000,
		Confirmations: 1,
	})
}

func (m *mockChainWallet) ListUnspent(_ context.Context,
	_ int32) ([]*rgbwallet.Utxo, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*rgbwallet.Utxo(nil), m.utxos...), nil
}

func (m *mockChainWallet) OnchainBalance(
	_ context.Context) (*rgbwallet.OnchainBalance, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return &rgbwallet.OnchainBalance{
		Confirmed: 100_000 * 4,
	}, nil
}

// mockFunder builds funding transactions from the requested inputs.
type mockFunder struct {
	t *testing.T

	mu      sync.Mutex
	starts  int
	cancels []string
}

func (m *mockFunder) StartFunding(_ context.Context,
	req *rgbchannel.FundingRequest) (*rgbchannel.Reservation, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.starts++

	pkScript := test.P2WSHScript(m.t)
	return &rgbchannel.Reservation{
		TempChannelID: fmt.Sprintf("temp-%d", m.starts),
		PkScript:      pkScript,
		Packet: test.FundingPacket(
			m.t, req.Inputs, pkScript, int64(req.Capacity), true,
		),
		ChangeVout: 1,
	}, nil
}

func (m *mockFunder) numStarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.starts
}

func (m *mockFunder) CompleteFunding(_ context.Context, tempID string,
	packet *psbt.Packet) (*rgbchannel.CompletedFunding, error) {

	return &rgbchannel.CompletedFunding{
		ChannelID: "final-" + tempID,
		FundingOutpoint: rgb.FundingOutpoint{
			Txid: packet.UnsignedTx.TxHash(),
		},
	}, nil
}

func (m *mockFunder) CancelFunding(_ context.Context, _ *btcec.PublicKey,
	tempID string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancels = append(m.cancels, tempID)

	return nil
}

// mockCourier is a proxy that accepts every consignment.
type mockCourier struct {
	mu     sync.Mutex
	posted map[string]*proxy.Consignment
	acks   map[string]bool
}

func newMockCourier() *mockCourier {
	return &mockCourier{
		posted: make(map[string]*proxy.Consignment),
		acks:   make(map[string]bool),
	}
}

func (m *mockCourier) PostConsignment(_ context.Context, recipientID string,
	consignment *proxy.Consignment) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.posted[recipientID] = consignment

	return nil
}

func (m *mockCourier) GetConsignment(_ context.Context,
	recipientID string) (*proxy.Consignment, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.posted[recipientID]
	if !ok {
		return nil, proxy.ErrNotFound
	}

	return c, nil
}

func (m *mockCourier) GetAck(_ context.Context,
	recipientID string) (*bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	ack, ok := m.acks[recipientID]
	if !ok {
		return nil, nil
	}

	return &ack, nil
}

func (m *mockCourier) PostAck(_ context.Context, recipientID string,
	ack bool) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.acks[recipientID] = ack

	return nil
}

func (m *mockCourier) ServerInfo(context.Context) (*proxy.ServerInfo, error) {
	return &proxy.ServerInfo{ProtocolVersion: "0.2"}, nil
}

func (m *mockCourier) isPosted(recipientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.posted[recipientID]
	return ok
}

// fastBackoff retries deliveries without waiting.
func fastBackoff() *proxy.BackoffCfg {
	return &proxy.BackoffCfg{
		SkipInitDelay:    true,
		BackoffResetWait: time.Millisecond,
		NumTries:         1,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
	}
}

type rpcHarness struct {
	t *testing.T

	wallet  *mockChainWallet
	funder  *mockFunder
	courier *mockCourier

	server *Server
	client *rgbrpc.Client
}

func newRPCHarness(t *testing.T) *rpcHarness {
	wallet := &mockChainWallet{}
	for i := 0; i < 3; i++ {
		wallet.add(test.RandOutPoint())
	}

	h := &rpcHarness{
		t:       t,
		wallet:  wallet,
		funder:  &mockFunder{t: t},
		courier: newMockCourier(),
	}

	server, err := NewServerBuilder().
		WithChainWallet(h.wallet).
		WithStore(rgbdb.NewMemStore()).
		WithDeliveryClient(h.courier, fastBackoff()).
		WithChannelFunder(h.funder).
		WithRefreshTicker(ticker.NewForce(time.Hour)).
		Build()
	require.NoError(t, err)
	h.server = server

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	t.Cleanup(func() {
		require.NoError(t, server.cfg.Dispatcher.Stop())
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client, closer, err := rgbrpc.NewClient(
		ctx, httpServer.URL+rgbrpc.Path, nil,
	)
	require.NoError(t, err)
	t.Cleanup(closer)
	h.client = client

	return h
}

func TestServerBuilder(t *testing.T) {
	t.Parallel()

	wallet := &mockChainWallet{}
	store := rgbdb.NewMemStore()
	courier := newMockCourier()
	funder := &mockFunder{t: t}

	testCases := []struct {
		name    string
		builder *ServerBuilder
		err     error
	}{{
		name: "no wallet",
		builder: NewServerBuilder().WithStore(store).
			WithDeliveryClient(courier, nil).
			WithChannelFunder(funder),
		err: ErrMissingChainWallet,
	}, {
		name: "no store",
		builder: NewServerBuilder().WithChainWallet(wallet).
			WithDeliveryClient(courier, nil).
			WithChannelFunder(funder),
		err: ErrMissingStore,
	}, {
		name: "no delivery client",
		builder: NewServerBuilder().WithChainWallet(wallet).
			WithStore(store).WithChannelFunder(funder),
		err: ErrMissingDeliveryClient,
	}, {
		name: "no funder",
		builder: NewServerBuilder().WithChainWallet(wallet).
			WithStore(store).WithDeliveryClient(courier, nil),
		err: ErrMissingChannelFunder,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := tc.builder.Build()
			require.ErrorIs(t, err, tc.err)
		})
	}

	server, err := NewServerBuilder().WithChainWallet(wallet).
		WithStore(store).WithDeliveryClient(courier, nil).
		WithChannelFunder(funder).Build()
	require.NoError(t, err)

	cfg := server.Config()
	require.NotNil(t, cfg.Controller)
	require.NotNil(t, cfg.Prometheus.Funding)
	require.Equal(t, cfg.Registry, cfg.Prometheus.Channels)
}

func TestRPCFundingFlow(t *testing.T) {
	t.Parallel()

	h := newRPCHarness(t)
	ctx := context.Background()

	// Without assets, the balance only carries a warning.
	balance, err := h.client.Balance(ctx, &rgbrpc.BalanceRequest{})
	require.NoError(t, err)
	require.Equal(t, noAssetsWarning, balance.Warning)
	require.EqualValues(t, 400_000, balance.Onchain.Confirmed)

	asset, err := h.client.IssueAsset(ctx, &rgbrpc.IssueAssetRequest{
		Amounts:   []uint64{30_000},
		Ticker:    "USDT",
		Name:      "Tether",
		Precision: 2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 30_000, asset.TotalSupply)
	assetID := asset.ContractID.String()

	balance, err = h.client.Balance(ctx, &rgbrpc.BalanceRequest{
		AssetID: assetID,
	})
	require.NoError(t, err)
	require.Empty(t, balance.Warning)
	require.Equal(t, "300.00", balance.Assets[assetID].Spendable)

	peer := hex.EncodeToString(test.RandPubKey(t).SerializeCompressed())

	// Asking for more than the spendable balance never reaches the host.
	_, err = h.client.FundChannel(ctx, &rgbrpc.FundChannelRequest{
		PeerID:  peer,
		Amount:  50_000,
		AssetID: assetID,
	})
	require.ErrorContains(t, err, "insufficient balance")
	require.Zero(t, h.funder.numStarts())

	funded, err := h.client.FundChannel(ctx, &rgbrpc.FundChannelRequest{
		PeerID:  peer,
		Amount:  20_000,
		AssetID: assetID,
	})
	require.NoError(t, err)

	channelID := funded.FundingInfo.ChannelID
	require.Equal(t, "final-temp-1", channelID)
	require.Equal(t, "temp-1", funded.FundingInfo.TempChannelID)
	require.EqualValues(t, 20_000, funded.Allocation.LocalAmount)
	require.Zero(t, funded.Allocation.RemoteAmount)
	require.NotEmpty(t, funded.FundingInfo.DeliveryID)

	require.Eventually(t, func() bool {
		return h.courier.isPosted(channelID)
	}, 5*time.Second, 10*time.Millisecond)

	channels, err := h.client.ListChannels(ctx)
	require.NoError(t, err)
	require.Empty(t, channels.Pending)
	require.Len(t, channels.Confirmed, 1)
	require.Empty(t, channels.Acks)

	// The change is settled once its output confirmed, and the ack of
	// the counterparty is picked up by the same refresh.
	txid, err := chainhash.NewHashFromStr(funded.FundingInfo.FundingTxid)
	require.NoError(t, err)
	h.wallet.add(wire.OutPoint{Hash: *txid, Index: 1})
	require.NoError(t, h.courier.PostAck(ctx, channelID, true))

	refreshed, err := h.client.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, refreshed.Settled)

	channels, err = h.client.ListChannels(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{channelID: true}, channels.Acks)

	balance, err = h.client.Balance(ctx, &rgbrpc.BalanceRequest{})
	require.NoError(t, err)
	assetBalance := balance.Assets[assetID].Balance
	require.EqualValues(t, 10_000, assetBalance.Settled)
	require.EqualValues(t, 20_000, assetBalance.InChannels)

	payment, err := h.client.UpdateChannel(
		ctx, &rgbrpc.UpdateChannelRequest{
			ChannelID: channelID,
			Offered:   5_000,
		},
	)
	require.NoError(t, err)
	require.EqualValues(t, 15_000, payment.LocalAmount)
	require.EqualValues(t, 5_000, payment.RemoteAmount)
	require.False(t, payment.Incoming)

	_, err = h.client.CloseChannel(ctx, &rgbrpc.CloseChannelRequest{
		ChannelID:       channelID,
		ClosingOutpoint: "not-an-outpoint",
	})
	require.ErrorContains(t, err, "invalid outpoint")

	closeOutpoint := test.RandOutPoint()
	closed, err := h.client.CloseChannel(
		ctx, &rgbrpc.CloseChannelRequest{
			ChannelID:       channelID,
			ClosingOutpoint: closeOutpoint.String(),
		},
	)
	require.NoError(t, err)
	require.EqualValues(t, 15_000, closed.LocalAmount)

	// The local amount is pending until the closing output confirmed.
	balance, err = h.client.Balance(ctx, &rgbrpc.BalanceRequest{})
	require.NoError(t, err)
	assetBalance = balance.Assets[assetID].Balance
	require.EqualValues(t, 10_000, assetBalance.Settled)
	require.EqualValues(t, 25_000, assetBalance.Future)
	require.Zero(t, assetBalance.InChannels)

	h.wallet.add(closeOutpoint)
	refreshed, err = h.client.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, refreshed.Settled)

	balance, err = h.client.Balance(ctx, &rgbrpc.BalanceRequest{})
	require.NoError(t, err)
	assetBalance = balance.Assets[assetID].Balance
	require.EqualValues(t, 25_000, assetBalance.Settled)
}

func TestRPCValidation(t *testing.T) {
	t.Parallel()

	h := newRPCHarness(t)
	ctx := context.Background()
	peer := hex.EncodeToString(test.RandPubKey(t).SerializeCompressed())
	unknown := test.RandContractID().String()

	_, err := h.client.FundChannel(ctx, &rgbrpc.FundChannelRequest{
		PeerID:  "zz",
		Amount:  1,
		AssetID: unknown,
	})
	require.ErrorContains(t, err, "invalid peer id")

	_, err = h.client.FundChannel(ctx, &rgbrpc.FundChannelRequest{
		PeerID:  peer,
		Amount:  1,
		AssetID: "not-an-id",
	})
	require.ErrorContains(t, err, "invalid asset id")

	_, err = h.client.FundChannel(ctx, &rgbrpc.FundChannelRequest{
		PeerID:  peer,
		Amount:  1,
		AssetID: unknown,
	})
	require.ErrorContains(t, err, "unknown asset")

	err = h.client.ListenAsset(ctx, &rgbrpc.ListenAssetRequest{
		AssetID: unknown,
	})
	require.ErrorContains(t, err, "unknown asset")

	_, err = h.client.Balance(ctx, &rgbrpc.BalanceRequest{
		AssetID: unknown,
	})
	require.ErrorContains(t, err, "unknown asset")

	_, err = h.client.UpdateChannel(ctx, &rgbrpc.UpdateChannelRequest{
		ChannelID: "missing",
		Offered:   1,
	})
	require.ErrorContains(t, err, "unknown channel")

	require.Zero(t, h.funder.numStarts())
}

func TestRPCFundingHookPassThrough(t *testing.T) {
	t.Parallel()

	h := newRPCHarness(t)
	ctx := context.Background()

	packet := test.FundingPacket(
		t, []wire.OutPoint{test.RandOutPoint()}, test.P2WSHScript(t),
		100_000, true,
	)
	tx := packet.UnsignedTx

	var txBuf, psbtBuf bytes.Buffer
	require.NoError(t, tx.Serialize(&txBuf))
	require.NoError(t, packet.Serialize(&psbtBuf))

	resp, err := h.client.FundingHook(ctx, &rgbrpc.FundingHookRequest{
		Tx:         hex.EncodeToString(txBuf.Bytes()),
		Txid:       tx.TxHash().String(),
		Psbt:       base64.StdEncoding.EncodeToString(psbtBuf.Bytes()),
		ChannelID:  "unknown",
		HolderVout: 0,
	})
	require.NoError(t, err)

	// Without a pending allocation the transaction is left untouched.
	require.Equal(t, hex.EncodeToString(txBuf.Bytes()), resp.Tx)
	require.Equal(t, hex.EncodeToString(psbtBuf.Bytes()), resp.Psbt)

	_, err = h.client.FundingHook(ctx, &rgbrpc.FundingHookRequest{
		Tx:   hex.EncodeToString(txBuf.Bytes()),
		Txid: test.RandHash().String(),
		Psbt: base64.StdEncoding.EncodeToString(psbtBuf.Bytes()),
	})
	require.ErrorContains(t, err, "doesn't match")
}
