package rgbdb

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// TestAssetStore tests that asset records are immutable once stored.
func TestAssetStore(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store KVStore) {
		ctx := context.Background()
		assets := NewAssetStore(store)

		asset := &rgb.Asset{
			ContractID:  testContract,
			Ticker:      "USDT",
			Name:        "Tether",
			Precision:   6,
			TotalSupply: 1_000_000,
		}
		require.NoError(t, assets.AddAsset(ctx, asset))
		require.ErrorIs(t, assets.AddAsset(ctx, asset), ErrAssetExists)

		stored, err := assets.FetchAsset(ctx, testContract)
		require.NoError(t, err)
		require.Equal(t, asset, stored)

		_, err = assets.FetchAsset(ctx, rgb.ContractID{7})
		require.ErrorIs(t, err, ErrNotFound)

		all, err := assets.ListAssets(ctx)
		require.NoError(t, err)
		require.Equal(t, []*rgb.Asset{asset}, all)
	})
}

// TestAssetStoreListen tests the listen list.
func TestAssetStoreListen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assets := NewAssetStore(NewMemStore())

	listened, err := assets.Listened(ctx)
	require.NoError(t, err)
	require.Empty(t, listened)

	second := rgb.ContractID{2}
	require.NoError(t, assets.ListenFor(ctx, testContract))
	require.NoError(t, assets.ListenFor(ctx, second))
	require.NoError(t, assets.ListenFor(ctx, testContract))

	listened, err = assets.Listened(ctx)
	require.NoError(t, err)
	require.Equal(t, []rgb.ContractID{testContract, second}, listened)
}

// TestDeliveryStore tests persisting deliveries and the transfer log.
func TestDeliveryStore(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store KVStore) {
		ctx := context.Background()
		testClock := clock.NewTestClock(time.Unix(1_700_000_000, 0))
		deliveries := NewDeliveryStore(store, testClock)

		first := proxy.NewDelivery("chan1", proxy.Consignment{
			Txid: chainhash.Hash{1},
			Vout: 1,
			Blob: []byte("consignment"),
		}, testClock.Now())
		second := proxy.NewDelivery("chan2", proxy.Consignment{
			Txid: chainhash.Hash{2},
			Blob: []byte("other"),
		}, testClock.Now().Add(time.Second))

		require.NoError(t, deliveries.StoreDelivery(ctx, second))
		require.NoError(t, deliveries.StoreDelivery(ctx, first))

		pending, err := deliveries.PendingDeliveries(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, first.ID, pending[0].ID)
		require.Equal(t, first.Consignment, pending[0].Consignment)
		require.Equal(t, "chan1", pending[0].RecipientID)
		require.Equal(t, second.ID, pending[1].ID)

		transferID := first.ID.String()
		for i := 0; i < 3; i++ {
			err := deliveries.LogTransferAttempt(
				ctx, transferID, proxy.SendTransferType,
			)
			require.NoError(t, err)

			testClock.SetTime(testClock.Now().Add(time.Minute))
		}

		attempts, err := deliveries.QueryTransferLog(
			ctx, transferID, proxy.SendTransferType,
		)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		require.True(t, attempts[0].Before(attempts[2]))

		attempts, err = deliveries.QueryTransferLog(
			ctx, transferID, proxy.ReceiveTransferType,
		)
		require.NoError(t, err)
		require.Empty(t, attempts)

		require.NoError(t, deliveries.DeleteDelivery(ctx, first.ID))

		pending, err = deliveries.PendingDeliveries(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		attempts, err = deliveries.QueryTransferLog(
			ctx, transferID, proxy.SendTransferType,
		)
		require.NoError(t, err)
		require.Empty(t, attempts)
	})
}
