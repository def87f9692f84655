package rgbchannel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/lightninglabs/rgb-lightning/balance"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/internal/test"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// mockChainWallet serves a fixed set of confirmed outputs.
type mockChainWallet struct {
	utxos []*rgbwallet.Utxo
}

func (m *mockChainWallet) ListUnspent(_ context.Context,
	_ int32) ([]*rgbwallet.Utxo, error) {

	return m.utxos, nil
}

func (m *mockChainWallet) OnchainBalance(
	_ context.Context) (*rgbwallet.OnchainBalance, error) {

	return &rgbwallet.OnchainBalance{}, nil
}

type cancelCall struct {
	peer   *btcec.PublicKey
	tempID string
}

// mockFunder is a host that builds funding transactions from the requested
// inputs.
type mockFunder struct {
	t *testing.T

	mu sync.Mutex

	startErr    error
	completeErr error

	// wrongScript makes the reservation name a script the skeleton
	// doesn't pay to.
	wrongScript bool

	starts    []*FundingRequest
	completes []string
	cancels   []cancelCall
}

func (m *mockFunder) StartFunding(_ context.Context,
	req *FundingRequest) (*Reservation, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.starts = append(m.starts, req)
	if m.startErr != nil {
		return nil, m.startErr
	}

	pkScript := test.P2WSHScript(m.t)
	packet := test.FundingPacket(
		m.t, req.Inputs, pkScript, int64(req.Capacity), true,
	)
	if m.wrongScript {
		pkScript = test.P2WSHScript(m.t)
	}

	return &Reservation{
		TempChannelID: fmt.Sprintf("temp-%d", len(m.starts)),
		PkScript:      pkScript,
		Packet:        packet,
		ChangeVout:    1,
	}, nil
}

func (m *mockFunder) CompleteFunding(_ context.Context, tempID string,
	packet *psbt.Packet) (*CompletedFunding, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.completes = append(m.completes, tempID)
	if m.completeErr != nil {
		return nil, m.completeErr
	}

	return &CompletedFunding{
		ChannelID: "final-" + tempID,
		FundingOutpoint: rgb.FundingOutpoint{
			Txid:  packet.UnsignedTx.TxHash(),
			Index: 0,
		},
	}, nil
}

func (m *mockFunder) CancelFunding(_ context.Context,
	peer *btcec.PublicKey, tempID string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancels = append(m.cancels, cancelCall{peer: peer, tempID: tempID})

	return nil
}

// badIDFunder reserves funding under an empty temporary channel ID.
type badIDFunder struct {
	*mockFunder
}

func (b *badIDFunder) StartFunding(ctx context.Context,
	req *FundingRequest) (*Reservation, error) {

	reservation, err := b.mockFunder.StartFunding(ctx, req)
	if err != nil {
		return nil, err
	}
	reservation.TempChannelID = ""

	return reservation, nil
}

// mockDeliverer records queued consignments.
type mockDeliverer struct {
	mu         sync.Mutex
	err        error
	recipients []string
	blobs      [][]byte
}

func (m *mockDeliverer) Deliver(_ context.Context, recipientID string,
	consignment proxy.Consignment) (uuid.UUID, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return uuid.Nil, m.err
	}

	m.recipients = append(m.recipients, recipientID)
	m.blobs = append(m.blobs, consignment.Blob)

	return uuid.New(), nil
}

// faultyColorer fails every call with the configured error.
type faultyColorer struct {
	err   error
	calls int
}

func (f *faultyColorer) Color(_ context.Context, _ *psbt.Packet,
	_ *rgb.Allocation, _ uint32,
	_ ...commitment.ColorOption) (*commitment.Commitment, error) {

	f.calls++
	return nil, f.err
}

// gatedColorer parks the first coloring until release is closed.
type gatedColorer struct {
	Colorer

	once    sync.Once
	parked  chan struct{}
	release chan struct{}
}

func (g *gatedColorer) Color(ctx context.Context, packet *psbt.Packet,
	alloc *rgb.Allocation, holderVout uint32,
	opts ...commitment.ColorOption) (*commitment.Commitment, error) {

	g.once.Do(func() {
		close(g.parked)
		<-g.release
	})

	return g.Colorer.Color(ctx, packet, alloc, holderVout, opts...)
}

// mockObserver records terminal states.
type mockObserver struct {
	mu     sync.Mutex
	states []FundingState
}

func (m *mockObserver) FundingDone(_ rgb.ContractID, state FundingState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = append(m.states, state)
}

type controllerHarness struct {
	t *testing.T

	registry  *rgbdb.Registry
	ledger    *rgbwallet.Ledger
	funder    *mockFunder
	deliverer *mockDeliverer
	observer  *mockObserver
	oracle    *balance.Oracle
	chain     *mockChainWallet
	peer      *btcec.PublicKey

	cfg *Cfg
}

func newControllerHarness(t *testing.T) *controllerHarness {
	store := rgbdb.NewMemStore()
	chainWallet := &mockChainWallet{}
	for i := 0; i < 3; i++ {
		chainWallet.utxos = append(chainWallet.utxos, &rgbwallet.Utxo{
			OutPoint:      test.RandOutPoint(),
			Value:         100_000,
			Confirmations: 3,
		})
	}

	registry := rgbdb.NewRegistry(store)
	ledger := rgbwallet.NewLedger(&rgbwallet.Config{
		Store:  store,
		Assets: rgbdb.NewAssetStore(store),
		Wallet: chainWallet,
		Clock:  clock.NewTestClock(time.Now()),
	})
	oracle := balance.NewOracle(registry, ledger)

	h := &controllerHarness{
		t:         t,
		registry:  registry,
		ledger:    ledger,
		funder:    &mockFunder{t: t},
		deliverer: &mockDeliverer{},
		observer:  &mockObserver{},
		oracle:    oracle,
		chain:     chainWallet,
		peer:      test.RandPubKey(t),
	}
	h.cfg = &Cfg{
		ChannelFunder: h.funder,
		Registry:      registry,
		Oracle:        oracle,
		Colorer:       commitment.NewBuilder(ledger),
		Wallet:        ledger,
		Deliverer:     h.deliverer,
		Observer:      h.observer,
	}

	return h
}

func (h *controllerHarness) controller() *FundingController {
	f, err := NewFundingController(h.cfg)
	require.NoError(h.t, err)

	return f
}

func (h *controllerHarness) issue(amounts ...uint64) rgb.ContractID {
	asset, err := h.ledger.IssueAsset(
		context.Background(), &rgbwallet.IssueRequest{
			Ticker:  "RGBT",
			Name:    "Test asset",
			Amounts: amounts,
		},
	)
	require.NoError(h.t, err)

	return asset.ContractID
}

func (h *controllerHarness) assertPartitionSizes(pending, confirmed int) {
	ctx := context.Background()

	p, err := h.registry.List(ctx, rgbdb.PartitionPending)
	require.NoError(h.t, err)
	require.Len(h.t, p, pending)

	c, err := h.registry.List(ctx, rgbdb.PartitionConfirmed)
	require.NoError(h.t, err)
	require.Len(h.t, c, confirmed)
}

// TestNewFundingControllerValidation makes sure a controller can't be built
// without its capabilities.
func TestNewFundingControllerValidation(t *testing.T) {
	t.Parallel()

	h := newControllerHarness(t)

	mutations := map[string]func(cfg *Cfg){
		"funder":    func(cfg *Cfg) { cfg.ChannelFunder = nil },
		"registry":  func(cfg *Cfg) { cfg.Registry = nil },
		"oracle":    func(cfg *Cfg) { cfg.Oracle = nil },
		"colorer":   func(cfg *Cfg) { cfg.Colorer = nil },
		"wallet":    func(cfg *Cfg) { cfg.Wallet = nil },
		"deliverer": func(cfg *Cfg) { cfg.Deliverer = nil },
	}
	for name, mutate := range mutations {
		cfg := *h.cfg
		mutate(&cfg)

		_, err := NewFundingController(&cfg)
		require.Error(t, err, name)
	}

	f := h.controller()
	require.Equal(t, DefaultChannelCapacity, f.cfg.DefaultCapacity)
}

// TestFundChannelValidation checks that malformed requests are rejected
// before the host is contacted.
func TestFundChannelValidation(t *testing.T) {
	t.Parallel()

	h := newControllerHarness(t)
	contractID := h.issue(30_000)
	f := h.controller()

	testCases := []struct {
		name string
		req  *FundReq
	}{{
		name: "no peer",
		req:  &FundReq{ContractID: contractID, Amount: 1},
	}, {
		name: "zero amount",
		req:  &FundReq{PeerPub: h.peer, ContractID: contractID},
	}, {
		name: "no asset",
		req:  &FundReq{PeerPub: h.peer, Amount: 1},
	}, {
		name: "unknown asset",
		req: &FundReq{
			PeerPub: h.peer, ContractID: test.RandContractID(),
			Amount: 1,
		},
	}}

	for _, tc := range testCases {
		_, err := f.FundChannel(context.Background(), tc.req)

		var validationErr *rgb.ValidationError
		require.ErrorAs(t, err, &validationErr, tc.name)
	}

	require.Empty(t, h.funder.starts)
	h.assertPartitionSizes(0, 0)
}

// TestFundChannelInsufficientBalance requests more than the spendable
// balance: no host call and no registry write may happen.
func TestFundChannelInsufficientBalance(t *testing.T) {
	t.Parallel()

	h := newControllerHarness(t)
	contractID := h.issue(30_000)
	f := h.controller()

	_, err := f.FundChannel(context.Background(), &FundReq{
		PeerPub:    h.peer,
		ContractID: contractID,
		Amount:     50_000,
	})

	var balanceErr *rgb.InsufficientBalanceError
	require.ErrorAs(t, err, &balanceErr)
	require.EqualValues(t, 50_000, balanceErr.Requested)
	require.EqualValues(t, 30_000, balanceErr.Available)
	require.False(t, rgb.IsRetrySafe(err))

	require.Empty(t, h.funder.starts)
	require.Empty(t, h.funder.cancels)
	h.assertPartitionSizes(0, 0)
}

// TestFundChannelConcurrentSameContract makes sure an attempt that released
// the contract lock already holds its amount in flight, so a second attempt
// on the same contract can't spend the same balance.
func TestFundChannelConcurrentSameContract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newControllerHarness(t)
	contractID := h.issue(30_000)

	colorer := &gatedColorer{
		Colorer: h.cfg.Colorer,
		parked:  make(chan struct{}),
		release: make(chan struct{}),
	}
	h.cfg.Colorer = colorer
	f := h.controller()

	req := func() *FundReq {
		return &FundReq{
			PeerPub:    h.peer,
			ContractID: contractID,
			Amount:     20_000,
		}
	}

	type result struct {
		info *FundingInfo
		err  error
	}
	first := make(chan result, 1)
	go func() {
		info, err := f.FundChannel(ctx, req())
		first <- result{info: info, err: err}
	}()

	select {
	case <-colorer.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt never reached coloring")
	}

	// The first attempt is past its reservation and holds no lock.
	bal, err := h.oracle.Spendable(ctx, contractID)
	require.NoError(t, err)
	require.EqualValues(t, 20_000, bal.InFlight)
	require.EqualValues(t, 10_000, bal.Spendable)

	_, err = f.FundChannel(ctx, req())
	var balanceErr *rgb.InsufficientBalanceError
	require.ErrorAs(t, err, &balanceErr)
	require.EqualValues(t, 20_000, balanceErr.Requested)
	require.EqualValues(t, 10_000, balanceErr.Available)

	h.funder.mu.Lock()
	require.Len(t, h.funder.starts, 1)
	h.funder.mu.Unlock()

	close(colorer.release)

	var res result
	select {
	case res = <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt didn't finish")
	}
	require.NoError(t, res.err)
	require.EqualValues(t, 20_000, res.info.Allocation.LocalAmount)

	h.assertPartitionSizes(0, 1)
	require.Empty(t, h.funder.cancels)
	require.Equal(t, []FundingState{StateFinalized}, h.observer.states)
}

// TestFundChannelPendingWriteFailure makes sure a reservation whose pending
// allocation can't be stored is canceled with the host.
func TestFundChannelPendingWriteFailure(t *testing.T) {
	t.Parallel()

	h := newControllerHarness(t)
	contractID := h.issue(30_000)

	// The host hands out a channel ID the registry refuses.
	h.cfg.ChannelFunder = &badIDFunder{mockFunder: h.funder}
	f := h.controller()

	_, err := f.FundChannel(context.Background(), &FundReq{
		PeerPub:    h.peer,
		ContractID: contractID,
		Amount:     20_000,
	})
	require.Error(t, err)

	require.Len(t, h.funder.cancels, 1)
	require.Empty(t, h.funder.completes)
	h.assertPartitionSizes(0, 0)
	require.Equal(t, []FundingState{StateCancelled}, h.observer.states)
}

// TestFundChannel runs a funding attempt to completion.
func TestFundChannel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newControllerHarness(t)
	contractID := h.issue(30_000)
	f := h.controller()

	info, err := f.FundChannel(ctx, &FundReq{
		PeerPub:    h.peer,
		ContractID: contractID,
		Amount:     20_000,
	})
	require.NoError(t, err)

	require.Equal(t, "temp-1", info.TempChannelID)
	require.Equal(t, "final-temp-1", info.ChannelID)
	require.Equal(t, &rgb.Allocation{
		ChannelID:   "final-temp-1",
		ContractID:  contractID,
		LocalAmount: 20_000,
	}, info.Allocation)
	require.NotEqual(t, uuid.Nil, info.DeliveryID)

	// The confirmed entry is the only trace left in the registry.
	confirmed, err := h.registry.Read(
		ctx, info.ChannelID, rgbdb.PartitionConfirmed,
	)
	require.NoError(t, err)
	require.Equal(t, info.Allocation, confirmed)
	require.False(t, h.registry.Exists(
		ctx, info.TempChannelID, rgbdb.PartitionPending,
	))
	h.assertPartitionSizes(0, 1)

	require.Len(t, h.funder.starts, 1)
	require.Equal(t, DefaultChannelCapacity, h.funder.starts[0].Capacity)
	require.Len(t, h.funder.starts[0].Inputs, 1)
	require.Equal(t, []string{"temp-1"}, h.funder.completes)
	require.Empty(t, h.funder.cancels)

	// The consignment is addressed to the final channel and carries the
	// committed transition.
	require.Equal(t, []string{info.ChannelID}, h.deliverer.recipients)
	transition, err := commitment.DecodeTransition(h.deliverer.blobs[0])
	require.NoError(t, err)
	transitionID, err := transition.ID()
	require.NoError(t, err)
	require.Equal(t, info.TransitionID, transitionID)

	// The surplus went to the change output, which is pending until it
	// confirms.
	bal, err := h.oracle.Spendable(ctx, contractID)
	require.NoError(t, err)
	require.Equal(t, rgb.Balance{
		Future:     10_000,
		InChannels: 20_000,
	}, bal)

	require.Equal(t, []FundingState{StateFinalized}, h.observer.states)
}

// TestFundChannelCompletionFailure makes sure a failed completion cancels
// the reservation with the same peer and leaves no confirmed entry.
func TestFundChannelCompletionFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newControllerHarness(t)
	contractID := h.issue(30_000)
	h.funder.completeErr = errors.New("peer went away")
	f := h.controller()

	_, err := f.FundChannel(ctx, &FundReq{
		PeerPub:    h.peer,
		ContractID: contractID,
		Amount:     20_000,
	})

	var hostErr *rgb.HostNegotiationError
	require.ErrorAs(t, err, &hostErr)
	require.ErrorIs(t, err, h.funder.completeErr)
	require.True(t, rgb.IsRetrySafe(err))

	require.Len(t, h.funder.cancels, 1)
	require.True(t, h.funder.cancels[0].peer.IsEqual(h.peer))
	require.Equal(t, "temp-1", h.funder.cancels[0].tempID)
	h.assertPartitionSizes(0, 0)
	require.Empty(t, h.deliverer.recipients)

	// The wallet state wasn't touched.
	bal, err := h.oracle.Spendable(ctx, contractID)
	require.NoError(t, err)
	require.EqualValues(t, 30_000, bal.Spendable)

	require.Equal(t, []FundingState{StateCancelled}, h.observer.states)
}

// TestFundChannelCompensationOnce injects builder faults and checks that
// every failed attempt is cancelled exactly once.
func TestFundChannelCompensationOnce(t *testing.T) {
	t.Parallel()

	faults := []error{
		&rgb.CommitmentError{Err: commitment.ErrMissingInputState},
		&rgb.CommitmentError{Err: commitment.ErrSealOutOfRange},
		&rgb.StorageError{Key: "ledger/", Err: errors.New("io")},
	}

	for i, fault := range faults {
		h := newControllerHarness(t)
		contractID := h.issue(30_000)
		colorer := &faultyColorer{err: fault}
		h.cfg.Colorer = colorer
		f := h.controller()

		_, err := f.FundChannel(context.Background(), &FundReq{
			PeerPub:    h.peer,
			ContractID: contractID,
			Amount:     10_000,
		})
		require.ErrorIs(t, err, fault, "fault %d", i)

		require.Equal(t, 1, colorer.calls)
		require.Len(t, h.funder.cancels, 1)
		require.Empty(t, h.funder.completes)
		h.assertPartitionSizes(0, 0)
	}
}

// TestFundChannelHostFailures covers the failures of the host's funding
// start.
func TestFundChannelHostFailures(t *testing.T) {
	t.Parallel()

	t.Run("start fails", func(t *testing.T) {
		h := newControllerHarness(t)
		contractID := h.issue(30_000)
		h.funder.startErr = errors.New("peer offline")
		f := h.controller()

		_, err := f.FundChannel(context.Background(), &FundReq{
			PeerPub:    h.peer,
			ContractID: contractID,
			Amount:     10_000,
		})

		var hostErr *rgb.HostNegotiationError
		require.ErrorAs(t, err, &hostErr)

		// Nothing was reserved, so there is nothing to cancel.
		require.Empty(t, h.funder.cancels)
		require.Empty(t, h.observer.states)
		h.assertPartitionSizes(0, 0)
	})

	t.Run("funding output missing", func(t *testing.T) {
		h := newControllerHarness(t)
		contractID := h.issue(30_000)
		h.funder.wrongScript = true
		f := h.controller()

		_, err := f.FundChannel(context.Background(), &FundReq{
			PeerPub:    h.peer,
			ContractID: contractID,
			Amount:     10_000,
		})
		require.ErrorIs(t, err, ErrFundingOutputNotFound)
		require.Len(t, h.funder.cancels, 1)
		h.assertPartitionSizes(0, 0)
	})
}

// TestFundChannelDeliveryFailure makes sure a failed delivery doesn't undo
// the funding.
func TestFundChannelDeliveryFailure(t *testing.T) {
	t.Parallel()

	h := newControllerHarness(t)
	contractID := h.issue(30_000)
	h.deliverer.err = &rgb.DeliveryError{
		RecipientID: "final-temp-1", Err: errors.New("disk full"),
	}
	f := h.controller()

	info, err := f.FundChannel(context.Background(), &FundReq{
		PeerPub:    h.peer,
		ContractID: contractID,
		Amount:     20_000,
	})
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, info.DeliveryID)
	h.assertPartitionSizes(0, 1)
}

// hookPacket returns a packet that spends an output carrying exactly the
// given amount of a new contract.
func hookPacket(t *testing.T, h *controllerHarness,
	amount uint64) (rgb.ContractID, *psbt.Packet) {

	contractID := h.issue(amount)
	entries, err := h.ledger.Entries(context.Background(), contractID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	packet := test.FundingPacket(
		t, []wire.OutPoint{entries[0].OutPoint}, test.P2WSHScript(t),
		100_000, false,
	)

	return contractID, packet
}

func serialize(t *testing.T, packet *psbt.Packet) []byte {
	var b bytes.Buffer
	require.NoError(t, packet.Serialize(&b))

	return b.Bytes()
}

// TestColorHostFunding checks the push path through the funding hook.
func TestColorHostFunding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newControllerHarness(t)
	f := h.controller()
	contractID, packet := hookPacket(t, h, 30)

	t.Run("txid mismatch", func(t *testing.T) {
		_, err := f.ColorHostFunding(ctx, &HookRequest{
			Tx:        packet.UnsignedTx,
			Txid:      test.RandHash(),
			Packet:    packet,
			ChannelID: "chan",
		})

		var validationErr *rgb.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("no pending allocation", func(t *testing.T) {
		before := serialize(t, packet)
		tx := packet.UnsignedTx.Copy()

		resp, err := f.ColorHostFunding(ctx, &HookRequest{
			Tx:         tx,
			Txid:       tx.TxHash(),
			Packet:     packet,
			ChannelID:  "unknown",
			HolderVout: 1,
		})
		require.NoError(t, err)
		require.Nil(t, resp.Commitment)
		require.Same(t, tx, resp.Tx)
		require.Equal(t, before, serialize(t, resp.Packet))
	})

	t.Run("pending allocation", func(t *testing.T) {
		alloc := &rgb.Allocation{
			ChannelID:    "host-chan",
			ContractID:   contractID,
			LocalAmount:  20,
			RemoteAmount: 10,
		}
		require.NoError(t, h.registry.Write(
			ctx, alloc.ChannelID, rgbdb.PartitionPending, alloc,
		))

		tx := packet.UnsignedTx.Copy()
		numOutputs := len(tx.TxOut)

		resp, err := f.ColorHostFunding(ctx, &HookRequest{
			Tx:         tx,
			Txid:       tx.TxHash(),
			Packet:     packet,
			ChannelID:  alloc.ChannelID,
			HolderVout: 1,
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Commitment)
		require.Len(t, resp.Tx.TxOut, numOutputs+1)

		c := resp.Commitment
		require.EqualValues(t, 1, c.HolderSeal.Vout)
		require.Equal(t, rgb.CounterpartyVout(1), c.CounterpartySeal.Vout)
		require.Zero(t, resp.Tx.TxOut[c.MarkerVout].Value)

		_, err = commitment.VerifyCommitment(resp.Packet)
		require.NoError(t, err)
	})
}

// TestUpdateChannelAmount checks that HTLC updates conserve the channel
// total and are recorded as payments.
func TestUpdateChannelAmount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newControllerHarness(t)
	f := h.controller()

	alloc := &rgb.Allocation{
		ChannelID:    "chan-1",
		ContractID:   test.RandContractID(),
		LocalAmount:  1_000,
		RemoteAmount: 500,
	}
	require.NoError(t, h.registry.Write(
		ctx, alloc.ChannelID, rgbdb.PartitionConfirmed, alloc,
	))

	_, err := f.UpdateChannelAmount(ctx, "unknown", 1, 0)
	var validationErr *rgb.ValidationError
	require.ErrorAs(t, err, &validationErr)

	rnd := rand.New(rand.NewSource(1))
	var updates int
	for i := 0; i < 50; i++ {
		offered := uint64(rnd.Intn(400))
		received := uint64(rnd.Intn(400))

		before, err := h.registry.Read(
			ctx, alloc.ChannelID, rgbdb.PartitionConfirmed,
		)
		require.NoError(t, err)

		payment, err := f.UpdateChannelAmount(
			ctx, alloc.ChannelID, offered, received,
		)
		after, readErr := h.registry.Read(
			ctx, alloc.ChannelID, rgbdb.PartitionConfirmed,
		)
		require.NoError(t, readErr)
		require.Equal(t, before.Total(), after.Total())

		if err != nil {
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, before, after)
			continue
		}
		updates++

		require.Equal(t, after.LocalAmount, payment.LocalAmount)
		require.Equal(t, after.RemoteAmount, payment.RemoteAmount)
		require.Equal(t, received > offered, payment.Incoming)
	}

	payments, err := h.registry.Payments(ctx, alloc.ChannelID)
	require.NoError(t, err)
	require.Len(t, payments, updates)
}

// TestCloseChannel settles a funded channel to the closing transaction.
func TestCloseChannel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newControllerHarness(t)
	contractID := h.issue(30_000)
	f := h.controller()

	closeOutpoint := test.RandOutPoint()

	_, err := f.CloseChannel(ctx, "unknown", closeOutpoint)
	var validationErr *rgb.ValidationError
	require.ErrorAs(t, err, &validationErr)

	info, err := f.FundChannel(ctx, &FundReq{
		PeerPub:    h.peer,
		ContractID: contractID,
		Amount:     20_000,
	})
	require.NoError(t, err)

	_, err = f.UpdateChannelAmount(ctx, info.ChannelID, 5_000, 0)
	require.NoError(t, err)

	// The local amount can't go back to the spent funding output, nor
	// nowhere at all.
	for _, op := range []wire.OutPoint{
		{}, info.FundingOutpoint.OutPoint(),
	} {
		_, err = f.CloseChannel(ctx, info.ChannelID, op)
		require.ErrorAs(t, err, &validationErr)
		h.assertPartitionSizes(0, 1)
	}

	closed, err := f.CloseChannel(ctx, info.ChannelID, closeOutpoint)
	require.NoError(t, err)
	require.EqualValues(t, 15_000, closed.LocalAmount)
	require.EqualValues(t, 5_000, closed.RemoteAmount)

	h.assertPartitionSizes(0, 0)

	// Neither the spent funding output nor the unconfirmed closing output
	// can be spent from.
	outpoints := []wire.OutPoint{
		info.FundingOutpoint.OutPoint(), closeOutpoint,
	}
	states, err := h.ledger.StateForOutpoints(ctx, contractID, outpoints)
	require.NoError(t, err)
	require.Empty(t, states)

	bal, err := h.oracle.Spendable(ctx, contractID)
	require.NoError(t, err)
	require.Zero(t, bal.Settled)
	require.EqualValues(t, 25_000, bal.Future)
	require.Zero(t, bal.InChannels)

	h.chain.utxos = append(h.chain.utxos, &rgbwallet.Utxo{
		OutPoint:      closeOutpoint,
		Value:         100_000,
		Confirmations: 1,
	})
	settled, err := h.ledger.Refresh(ctx, contractID)
	require.NoError(t, err)
	require.Equal(t, 1, settled)

	bal, err = h.oracle.Spendable(ctx, contractID)
	require.NoError(t, err)
	require.EqualValues(t, 15_000, bal.Settled)
	require.EqualValues(t, 15_000, bal.Spendable)

	states, err = h.ledger.StateForOutpoints(ctx, contractID, outpoints)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, closeOutpoint, states[0].OutPoint)
	require.EqualValues(t, 15_000, states[0].Amount)

	// A channel without a local side closes without settling anything.
	remoteOnly := &rgb.Allocation{
		ChannelID:    "remote-only",
		ContractID:   contractID,
		RemoteAmount: 100,
	}
	require.NoError(t, h.registry.Write(
		ctx, remoteOnly.ChannelID, rgbdb.PartitionConfirmed, remoteOnly,
	))
	_, err = f.CloseChannel(ctx, remoteOnly.ChannelID, wire.OutPoint{})
	require.NoError(t, err)
}

// TestFundingStateMachine checks the allowed transitions.
func TestFundingStateMachine(t *testing.T) {
	t.Parallel()

	allowed := map[[2]FundingState]bool{
		{StateRequested, StateReserved}: true,
		{StateReserved, StateColored}:   true,
		{StateReserved, StateCancelled}: true,
		{StateColored, StateFinalized}:  true,
		{StateColored, StateCancelled}:  true,
	}

	states := []FundingState{
		StateRequested, StateReserved, StateColored, StateFinalized,
		StateCancelled,
	}
	for _, from := range states {
		for _, to := range states {
			require.Equal(
				t, allowed[[2]FundingState{from, to}],
				canTransition(from, to), "%v -> %v", from, to,
			)
		}
	}

	require.True(t, StateFinalized.IsTerminal())
	require.True(t, StateCancelled.IsTerminal())
	require.False(t, StateColored.IsTerminal())
}

// TestContractLocks makes sure the per-contract lock excludes concurrent
// holders of the same contract only.
func TestContractLocks(t *testing.T) {
	t.Parallel()

	locks := newContractLocks()
	c1, c2 := test.RandContractID(), test.RandContractID()

	unlock1 := locks.lock(c1)

	// A different contract isn't blocked.
	unlock2 := locks.lock(c2)
	unlock2()

	acquired := make(chan struct{})
	go func() {
		unlock := locks.lock(c1)
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired twice")
	case <-time.After(50 * time.Millisecond):
	}

	unlock1()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}
