package monitoring

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	assetBalancesCollectorName = "asset_balances"

	assetBalanceMetric = "asset_balance"
)

// assetBalancesCollector is a Prometheus collector that exports the balances
// of all known assets.
type assetBalancesCollector struct {
	collectMx sync.Mutex

	cfg      *PrometheusConfig
	registry *prometheus.Registry

	balancesVec *prometheus.GaugeVec
}

func newAssetBalancesCollector(cfg *PrometheusConfig,
	registry *prometheus.Registry) (*assetBalancesCollector, error) {

	if cfg == nil {
		return nil, errors.New("asset collector prometheus cfg is nil")
	}

	if cfg.Assets == nil || cfg.Balances == nil {
		return nil, errors.New("asset collector asset store is nil")
	}

	return &assetBalancesCollector{
		cfg:      cfg,
		registry: registry,
		balancesVec: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: assetBalanceMetric,
				Help: "Balances of all assets",
			},
			[]string{"ticker", "contract_id", "kind"},
		),
	}, nil
}

func (a *assetBalancesCollector) Name() string {
	return assetBalancesCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (a *assetBalancesCollector) Describe(ch chan<- *prometheus.Desc) {
	a.collectMx.Lock()
	defer a.collectMx.Unlock()

	a.balancesVec.Describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (a *assetBalancesCollector) Collect(ch chan<- prometheus.Metric) {
	a.collectMx.Lock()
	defer a.collectMx.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	assets, err := a.cfg.Assets.ListAssets(ctx)
	if err != nil {
		log.Errorf("unable to fetch assets: %v", err)
		return
	}

	a.balancesVec.Reset()

	for _, asset := range assets {
		balance, err := a.cfg.Balances.Spendable(ctx, asset.ContractID)
		if err != nil {
			log.Errorf("unable to fetch balance of %v: %v",
				asset.ContractID, err)
			continue
		}

		contractID := asset.ContractID.String()
		kinds := map[string]uint64{
			"settled":     balance.Settled,
			"future":      balance.Future,
			"spendable":   balance.Spendable,
			"in_flight":   balance.InFlight,
			"in_channels": balance.InChannels,
		}
		for kind, amount := range kinds {
			a.balancesVec.WithLabelValues(
				asset.Ticker, contractID, kind,
			).Set(float64(amount))
		}
	}

	a.balancesVec.Collect(ch)
}

func (a *assetBalancesCollector) RegisterMetricFuncs() error {
	err := a.registry.Register(a)
	if err != nil {
		log.Errorf("Error registering asset balances collector: %v",
			err)
		return err
	}

	return nil
}

var _ MetricGroup = (*assetBalancesCollector)(nil)

func init() {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()
	metricGroups[assetBalancesCollectorName] = func(cfg *PrometheusConfig,
		registry *prometheus.Registry) (MetricGroup, error) {

		return newAssetBalancesCollector(cfg, registry)
	}
}
