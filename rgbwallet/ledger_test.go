package rgbwallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/internal/test"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// mockWallet is a chain wallet with a fixed set of outputs.
type mockWallet struct {
	confirmed   []*Utxo
	unconfirmed []*Utxo
	err         error
}

func (m *mockWallet) ListUnspent(_ context.Context,
	minConfs int32) ([]*Utxo, error) {

	if m.err != nil {
		return nil, m.err
	}

	utxos := append([]*Utxo{}, m.confirmed...)
	if minConfs == 0 {
		utxos = append(utxos, m.unconfirmed...)
	}

	return utxos, nil
}

func (m *mockWallet) OnchainBalance(_ context.Context) (*OnchainBalance,
	error) {

	balance := &OnchainBalance{}
	for _, u := range m.confirmed {
		balance.Confirmed += u.Value
	}
	for _, u := range m.unconfirmed {
		balance.Unconfirmed += u.Value
	}

	return balance, nil
}

func (m *mockWallet) addConfirmed(op wire.OutPoint) {
	m.confirmed = append(m.confirmed, &Utxo{
		OutPoint:      op,
		Value:         100_000,
		Confirmations: 6,
	})
}

type ledgerHarness struct {
	t      *testing.T
	wallet *mockWallet
	assets *rgbdb.AssetStore
	ledger *Ledger
}

func newLedgerHarness(t *testing.T, numUtxos int) *ledgerHarness {
	store := rgbdb.NewMemStore()
	wallet := &mockWallet{}
	for i := 0; i < numUtxos; i++ {
		wallet.addConfirmed(test.RandOutPoint())
	}

	assets := rgbdb.NewAssetStore(store)
	ledger := NewLedger(&Config{
		Store:  store,
		Assets: assets,
		Wallet: wallet,
		Clock:  clock.NewTestClock(time.Unix(1_700_000_000, 0)),
	})

	return &ledgerHarness{
		t:      t,
		wallet: wallet,
		assets: assets,
		ledger: ledger,
	}
}

func (h *ledgerHarness) issue(amounts ...uint64) *rgb.Asset {
	asset, err := h.ledger.IssueAsset(context.Background(), &IssueRequest{
		Ticker:    "USDT",
		Name:      "Tether",
		Precision: 0,
		Amounts:   amounts,
	})
	require.NoError(h.t, err)

	return asset
}

func (h *ledgerHarness) balance(contractID rgb.ContractID) *rgb.Balance {
	balance, err := h.ledger.AssetBalance(context.Background(), contractID)
	require.NoError(h.t, err)

	return balance
}

// ownedOutpoints returns the outpoints that carry owned state.
func (h *ledgerHarness) ownedOutpoints(
	contractID rgb.ContractID) []wire.OutPoint {

	entries, err := h.ledger.Entries(context.Background(), contractID)
	require.NoError(h.t, err)

	var ops []wire.OutPoint
	for _, e := range entries {
		if e.Kind == StateOwned {
			ops = append(ops, e.OutPoint)
		}
	}

	return ops
}

// TestIssueAssetValidation makes sure malformed issuance requests are
// rejected before anything is written.
func TestIssueAssetValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		req  *IssueRequest
	}{{
		name: "no ticker",
		req: &IssueRequest{
			Name: "Tether", Amounts: []uint64{1},
		},
	}, {
		name: "no name",
		req: &IssueRequest{
			Ticker: "USDT", Amounts: []uint64{1},
		},
	}, {
		name: "precision too large",
		req: &IssueRequest{
			Ticker: "USDT", Name: "Tether", Precision: 19,
			Amounts: []uint64{1},
		},
	}, {
		name: "no amounts",
		req: &IssueRequest{
			Ticker: "USDT", Name: "Tether",
		},
	}, {
		name: "zero amount",
		req: &IssueRequest{
			Ticker: "USDT", Name: "Tether", Amounts: []uint64{1, 0},
		},
	}, {
		name: "supply overflow",
		req: &IssueRequest{
			Ticker: "USDT", Name: "Tether",
			Amounts: []uint64{^uint64(0), 1},
		},
	}, {
		name: "not enough outputs",
		req: &IssueRequest{
			Ticker: "USDT", Name: "Tether",
			Amounts: []uint64{1, 2, 3},
		},
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newLedgerHarness(t, 2)
			_, err := h.ledger.IssueAsset(
				context.Background(), tc.req,
			)

			var validationErr *rgb.ValidationError
			require.ErrorAs(t, err, &validationErr)

			assets, err := h.ledger.ListAssets(
				context.Background(),
			)
			require.NoError(t, err)
			require.Empty(t, assets)
		})
	}
}

// TestIssueAsset checks that issued state is sealed to wallet outputs and
// shows up as settled balance.
func TestIssueAsset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLedgerHarness(t, 3)
	asset := h.issue(600, 400)

	require.EqualValues(t, 1000, asset.TotalSupply)
	require.False(t, asset.ContractID.IsZero())

	balance := h.balance(asset.ContractID)
	require.EqualValues(t, 1000, balance.Settled)
	require.EqualValues(t, 1000, balance.Future)

	listened, err := h.assets.Listened(ctx)
	require.NoError(t, err)
	require.Equal(t, []rgb.ContractID{asset.ContractID}, listened)

	owned := h.ownedOutpoints(asset.ContractID)
	require.Len(t, owned, 2)

	states, err := h.ledger.StateForOutpoints(
		ctx, asset.ContractID, append(owned, test.RandOutPoint()),
	)
	require.NoError(t, err)
	require.Len(t, states, 2)

	var total uint64
	for _, s := range states {
		require.Equal(t, BeneficiaryType, s.Opout.AssignmentType)
		total += s.Amount
	}
	require.EqualValues(t, 1000, total)
}

// TestAssignmentType checks the interface lookup of the contract runtime.
func TestAssignmentType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLedgerHarness(t, 1)
	asset := h.issue(10)

	assignmentType, err := h.ledger.AssignmentType(
		ctx, asset.ContractID, rgb.Interface, rgb.BeneficiaryAssignment,
	)
	require.NoError(t, err)
	require.Equal(t, BeneficiaryType, assignmentType)

	_, err = h.ledger.AssignmentType(
		ctx, asset.ContractID, rgb.Interface, "inflation",
	)
	require.ErrorIs(t, err, commitment.ErrUnknownAssignmentType)

	_, err = h.ledger.AssignmentType(
		ctx, test.RandContractID(), rgb.Interface,
		rgb.BeneficiaryAssignment,
	)
	require.ErrorIs(t, err, ErrUnknownContract)

	_, err = h.ledger.AssetBalance(ctx, test.RandContractID())
	require.ErrorIs(t, err, ErrUnknownContract)
}

// TestChannelLifecycle runs the ledger through the funding, change
// confirmation and closing of a channel.
func TestChannelLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLedgerHarness(t, 1)
	asset := h.issue(50)
	owned := h.ownedOutpoints(asset.ContractID)

	// The funding output is the first output, change is the second.
	packet := test.FundingPacket(
		t, owned, test.P2WSHScript(t), 100_000, true,
	)
	alloc := &rgb.Allocation{
		ChannelID:   "chan-1",
		ContractID:  asset.ContractID,
		LocalAmount: 30,
	}

	builder := commitment.NewBuilder(h.ledger)
	c, err := builder.Color(
		ctx, packet, alloc, 0, commitment.WithChangeVout(1),
	)
	require.NoError(t, err)
	require.Equal(t, owned, c.Consumed)

	require.NoError(t, h.ledger.ApplyTransition(ctx, "chan-1", c))

	// Channel state is neither settled nor future, the change is
	// future until it confirms.
	balance := h.balance(asset.ContractID)
	require.EqualValues(t, 0, balance.Settled)
	require.EqualValues(t, 20, balance.Future)

	// The consumed input can't be used a second time.
	states, err := h.ledger.StateForOutpoints(
		ctx, asset.ContractID, owned,
	)
	require.NoError(t, err)
	require.Empty(t, states)

	entries, err := h.ledger.Entries(ctx, asset.ContractID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	txid := packet.UnsignedTx.TxHash()
	for _, e := range entries {
		require.Equal(t, txid, e.OutPoint.Hash)
		require.Equal(t, c.TransitionID, e.Opout.OpID)

		switch e.Kind {
		case StateChannel:
			require.EqualValues(t, 0, e.OutPoint.Index)
			require.EqualValues(t, 30, e.Amount)
			require.Equal(t, "chan-1", e.ChannelID)

		case StatePending:
			require.EqualValues(t, 1, e.OutPoint.Index)
			require.EqualValues(t, 20, e.Amount)

		default:
			t.Fatalf("unexpected entry kind %v", e.Kind)
		}
	}

	// Nothing changes until the change output confirms.
	settled, err := h.ledger.Refresh(ctx, asset.ContractID)
	require.NoError(t, err)
	require.Zero(t, settled)

	h.wallet.addConfirmed(wire.OutPoint{Hash: txid, Index: 1})
	settled, err = h.ledger.Refresh(ctx, asset.ContractID)
	require.NoError(t, err)
	require.Equal(t, 1, settled)

	balance = h.balance(asset.ContractID)
	require.EqualValues(t, 20, balance.Settled)
	require.EqualValues(t, 20, balance.Future)

	// Closing the channel seals the final local amount to the closing
	// transaction, never back to the spent funding output.
	fundingOutpoint := wire.OutPoint{Hash: txid, Index: 0}
	closeOutpoint := test.RandOutPoint()

	var validationErr *rgb.ValidationError
	for _, op := range []wire.OutPoint{{}, fundingOutpoint} {
		err = h.ledger.Settle(ctx, "chan-1", asset.ContractID, 25, op)
		require.ErrorAs(t, err, &validationErr)
	}

	require.NoError(t, h.ledger.Settle(
		ctx, "chan-1", asset.ContractID, 25, closeOutpoint,
	))

	states, err = h.ledger.StateForOutpoints(
		ctx, asset.ContractID, []wire.OutPoint{fundingOutpoint},
	)
	require.NoError(t, err)
	require.Empty(t, states)

	balance = h.balance(asset.ContractID)
	require.EqualValues(t, 20, balance.Settled)
	require.EqualValues(t, 45, balance.Future)

	h.wallet.addConfirmed(closeOutpoint)
	settled, err = h.ledger.Refresh(ctx, asset.ContractID)
	require.NoError(t, err)
	require.Equal(t, 1, settled)

	balance = h.balance(asset.ContractID)
	require.EqualValues(t, 45, balance.Settled)

	inputs, err := h.ledger.SelectInputs(ctx, asset.ContractID, 45)
	require.NoError(t, err)
	require.ElementsMatch(
		t, []wire.OutPoint{{Hash: txid, Index: 1}, closeOutpoint},
		inputs,
	)

	err = h.ledger.Settle(
		ctx, "chan-1", asset.ContractID, 25, closeOutpoint,
	)
	require.ErrorIs(t, err, ErrNoChannelState)
}

// TestApplyTransitionRemoteSide makes sure the counterparty's side of a
// channel is never recorded as local state.
func TestApplyTransitionRemoteSide(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLedgerHarness(t, 1)
	asset := h.issue(50)
	owned := h.ownedOutpoints(asset.ContractID)

	packet := test.FundingPacket(
		t, owned, test.P2WSHScript(t), 100_000, false,
	)
	alloc := &rgb.Allocation{
		ChannelID:    "chan-2",
		ContractID:   asset.ContractID,
		LocalAmount:  30,
		RemoteAmount: 20,
	}

	c, err := commitment.NewBuilder(h.ledger).Color(ctx, packet, alloc, 1)
	require.NoError(t, err)
	require.NoError(t, h.ledger.ApplyTransition(ctx, "chan-2", c))

	entries, err := h.ledger.Entries(ctx, asset.ContractID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, StateChannel, entries[0].Kind)
	require.EqualValues(t, 1, entries[0].OutPoint.Index)
	require.EqualValues(t, 30, entries[0].Amount)

	// A transaction that no longer commits to the transition is refused.
	packet.UnsignedTx.TxOut[c.MarkerVout].PkScript = []byte{0x6a}
	err = h.ledger.ApplyTransition(ctx, "chan-2", c)
	require.True(t, commitment.IsCommitmentError(
		err, commitment.ErrCommitmentMismatch,
	))
}

// TestRefreshWalletFailure checks that wallet failures are surfaced.
func TestRefreshWalletFailure(t *testing.T) {
	t.Parallel()

	h := newLedgerHarness(t, 1)
	asset := h.issue(5)

	h.wallet.err = errors.New("wallet offline")
	_, err := h.ledger.Refresh(context.Background(), asset.ContractID)
	require.ErrorContains(t, err, "wallet offline")
}

// TestSelectInputs checks the coin selection over colored outputs.
func TestSelectInputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLedgerHarness(t, 3)
	asset := h.issue(100, 500, 50)

	selected, err := h.ledger.SelectInputs(ctx, asset.ContractID, 400)
	require.NoError(t, err)
	require.Len(t, selected, 1)

	states, err := h.ledger.StateForOutpoints(
		ctx, asset.ContractID, selected,
	)
	require.NoError(t, err)
	require.EqualValues(t, 500, states[0].Amount)

	selected, err = h.ledger.SelectInputs(ctx, asset.ContractID, 620)
	require.NoError(t, err)
	require.Len(t, selected, 3)

	_, err = h.ledger.SelectInputs(ctx, asset.ContractID, 651)
	var balanceErr *rgb.InsufficientBalanceError
	require.ErrorAs(t, err, &balanceErr)
	require.EqualValues(t, 650, balanceErr.Available)
}
