package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/lightninglabs/rgb-lightning/internal/test"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/stretchr/testify/require"
)

type mockWallet struct {
	balance *rgb.Balance
	err     error
}

func (m *mockWallet) AssetBalance(_ context.Context,
	_ rgb.ContractID) (*rgb.Balance, error) {

	return m.balance, m.err
}

// TestSpendable checks how the oracle combines the wallet balance with the
// registry.
func TestSpendable(t *testing.T) {
	t.Parallel()

	contract := test.RandContractID()
	other := test.RandContractID()

	testCases := []struct {
		name      string
		settled   uint64
		future    uint64
		pending   []*rgb.Allocation
		confirmed []*rgb.Allocation
		expected  rgb.Balance
	}{{
		name:    "no channels",
		settled: 30_000,
		future:  35_000,
		expected: rgb.Balance{
			Settled:   30_000,
			Future:    35_000,
			Spendable: 30_000,
		},
	}, {
		name:    "pending and confirmed",
		settled: 30_000,
		future:  30_000,
		pending: []*rgb.Allocation{{
			ChannelID: "tmp-1", ContractID: contract,
			LocalAmount: 10_000, RemoteAmount: 5,
		}, {
			ChannelID: "tmp-2", ContractID: other,
			LocalAmount: 7_000,
		}},
		confirmed: []*rgb.Allocation{{
			ChannelID: "chan-1", ContractID: contract,
			LocalAmount: 2_000, RemoteAmount: 3_000,
		}},
		expected: rgb.Balance{
			Settled:    30_000,
			Future:     30_000,
			Spendable:  20_000,
			InFlight:   10_000,
			InChannels: 2_000,
		},
	}, {
		name:    "in flight exceeds settled",
		settled: 1_000,
		future:  1_000,
		pending: []*rgb.Allocation{{
			ChannelID: "tmp-1", ContractID: contract,
			LocalAmount: 5_000,
		}},
		expected: rgb.Balance{
			Settled:  1_000,
			Future:   1_000,
			InFlight: 5_000,
		},
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			registry := rgbdb.NewRegistry(rgbdb.NewMemStore())
			for _, alloc := range tc.pending {
				require.NoError(t, registry.Write(
					ctx, alloc.ChannelID,
					rgbdb.PartitionPending, alloc,
				))
			}
			for _, alloc := range tc.confirmed {
				require.NoError(t, registry.Write(
					ctx, alloc.ChannelID,
					rgbdb.PartitionConfirmed, alloc,
				))
			}

			oracle := NewOracle(registry, &mockWallet{
				balance: &rgb.Balance{
					Settled: tc.settled,
					Future:  tc.future,
				},
			})

			balance, err := oracle.Spendable(ctx, contract)
			require.NoError(t, err)
			require.Equal(t, tc.expected, balance)
		})
	}
}

// TestSpendableWalletFailure makes sure wallet errors are surfaced.
func TestSpendableWalletFailure(t *testing.T) {
	t.Parallel()

	walletErr := errors.New("wallet locked")
	oracle := NewOracle(
		rgbdb.NewRegistry(rgbdb.NewMemStore()),
		&mockWallet{err: walletErr},
	)

	_, err := oracle.Spendable(context.Background(), test.RandContractID())
	require.ErrorIs(t, err, walletErr)
}
