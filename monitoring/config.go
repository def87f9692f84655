package monitoring

import (
	"context"

	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
)

// ChannelLister lists the allocations of a registry partition.
type ChannelLister interface {
	// List returns all allocations of a partition.
	List(ctx context.Context, p rgbdb.Partition) ([]*rgb.Allocation,
		error)
}

// AssetLister lists the known assets.
type AssetLister interface {
	// ListAssets returns all known assets.
	ListAssets(ctx context.Context) ([]*rgb.Asset, error)
}

// BalanceOracle reports the balance of a contract.
type BalanceOracle interface {
	// Spendable returns the balance view of the contract.
	Spendable(ctx context.Context,
		contractID rgb.ContractID) (rgb.Balance, error)
}

// PrometheusConfig is the set of configuration data that specifies if
// Prometheus metric exporting is activated, and if so the listening address of
// the Prometheus server.
//
// nolint:lll
type PrometheusConfig struct {
	// Active, if true, then Prometheus metrics will be exported.
	Active bool `long:"active" description:"if true prometheus metrics will be exported"`

	// ListenAddr is the listening address that we should use to allow the
	// main Prometheus server to scrape our metrics.
	ListenAddr string `long:"listenaddr" description:"the interface we should listen on for prometheus"`

	// Channels is used to collect the channel allocations.
	Channels ChannelLister

	// Assets is used to collect the known assets.
	Assets AssetLister

	// Balances is used to collect the balance of every asset.
	Balances BalanceOracle

	// Funding counts the finished funding attempts.
	Funding *FundingCounter
}

// DefaultPrometheusConfig is the default configuration for the Prometheus
// metrics exporter.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		ListenAddr: "127.0.0.1:8989",
		Active:     false,
	}
}
