package monitoring

import (
	"errors"

	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	fundingCollectorName = "funding"

	fundingAttemptsMetric = "funding_attempts_total"
)

// FundingCounter counts funding attempts by their terminal state. It is
// handed to the funding controller as its observer, so it counts even if the
// exporter isn't active.
type FundingCounter struct {
	attempts *prometheus.CounterVec
}

// NewFundingCounter creates a new funding counter.
func NewFundingCounter() *FundingCounter {
	return &FundingCounter{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fundingAttemptsMetric,
				Help: "Number of finished funding attempts",
			},
			[]string{"contract_id", "state"},
		),
	}
}

// FundingDone counts a finished funding attempt.
//
// NOTE: Part of the rgbchannel.FundingObserver interface.
func (f *FundingCounter) FundingDone(contractID rgb.ContractID,
	state rgbchannel.FundingState) {

	f.attempts.WithLabelValues(contractID.String(), state.String()).Inc()
}

// fundingCollector exports the funding counter.
type fundingCollector struct {
	counter  *FundingCounter
	registry *prometheus.Registry
}

func newFundingCollector(cfg *PrometheusConfig,
	registry *prometheus.Registry) (*fundingCollector, error) {

	if cfg == nil {
		return nil, errors.New("funding collector prometheus cfg is nil")
	}

	if cfg.Funding == nil {
		return nil, errors.New("funding collector counter is nil")
	}

	return &fundingCollector{
		counter:  cfg.Funding,
		registry: registry,
	}, nil
}

func (f *fundingCollector) Name() string {
	return fundingCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (f *fundingCollector) Describe(ch chan<- *prometheus.Desc) {
	f.counter.attempts.Describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (f *fundingCollector) Collect(ch chan<- prometheus.Metric) {
	f.counter.attempts.Collect(ch)
}

func (f *fundingCollector) RegisterMetricFuncs() error {
	err := f.registry.Register(f)
	if err != nil {
		log.Errorf("Error registering funding collector: %v", err)
		return err
	}

	return nil
}

var _ MetricGroup = (*fundingCollector)(nil)

var _ rgbchannel.FundingObserver = (*FundingCounter)(nil)

func init() {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()
	metricGroups[fundingCollectorName] = func(cfg *PrometheusConfig,
		registry *prometheus.Registry) (MetricGroup, error) {

		return newFundingCollector(cfg, registry)
	}
}
