package balance

import (
	"context"
	"fmt"

	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
)

// AllocationSource lists the channel allocations of a contract.
type AllocationSource interface {
	// ListByContract returns all allocations of a partition that belong
	// to the given contract.
	ListByContract(ctx context.Context, p rgbdb.Partition,
		contractID rgb.ContractID) ([]*rgb.Allocation, error)
}

// AssetWallet reports the asset balance held by wallet outputs.
type AssetWallet interface {
	// AssetBalance returns the settled and future balance of the
	// contract.
	AssetBalance(ctx context.Context,
		contractID rgb.ContractID) (*rgb.Balance, error)
}

// Oracle answers how much of a contract can be committed to a new channel.
// Nothing is cached, every call reads the registry and the wallet.
type Oracle struct {
	allocations AllocationSource
	wallet      AssetWallet
}

// NewOracle creates a new balance oracle.
func NewOracle(allocations AllocationSource, wallet AssetWallet) *Oracle {
	return &Oracle{
		allocations: allocations,
		wallet:      wallet,
	}
}

// localSum adds up the local amounts of the allocations.
func localSum(allocs []*rgb.Allocation) (uint64, error) {
	var sum uint64
	for _, alloc := range allocs {
		if sum+alloc.LocalAmount < sum {
			return 0, fmt.Errorf("local amount of channel %v "+
				"overflows", alloc.ChannelID)
		}
		sum += alloc.LocalAmount
	}

	return sum, nil
}

// Spendable returns the full balance view of the contract. The spendable
// amount is the settled wallet balance minus the local amounts of funding
// attempts that are not yet finalized, floored at zero.
func (o *Oracle) Spendable(ctx context.Context,
	contractID rgb.ContractID) (rgb.Balance, error) {

	walletBalance, err := o.wallet.AssetBalance(ctx, contractID)
	if err != nil {
		return rgb.Balance{}, fmt.Errorf("unable to query wallet "+
			"balance: %w", err)
	}

	pending, err := o.allocations.ListByContract(
		ctx, rgbdb.PartitionPending, contractID,
	)
	if err != nil {
		return rgb.Balance{}, err
	}
	confirmed, err := o.allocations.ListByContract(
		ctx, rgbdb.PartitionConfirmed, contractID,
	)
	if err != nil {
		return rgb.Balance{}, err
	}

	balance := rgb.Balance{
		Settled: walletBalance.Settled,
		Future:  walletBalance.Future,
	}
	if balance.InFlight, err = localSum(pending); err != nil {
		return rgb.Balance{}, err
	}
	if balance.InChannels, err = localSum(confirmed); err != nil {
		return rgb.Balance{}, err
	}

	if balance.Settled > balance.InFlight {
		balance.Spendable = balance.Settled - balance.InFlight
	}

	log.Tracef("Balance of %v: settled=%d, future=%d, in_flight=%d, "+
		"in_channels=%d, spendable=%d", contractID, balance.Settled,
		balance.Future, balance.InFlight, balance.InChannels,
		balance.Spendable)

	return balance, nil
}
