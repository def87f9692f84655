package monitoring

import (
	"context"
	"errors"
	"sync"

	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	channelCollectorName = "channel"

	channelAllocationMetric = "channel_allocation"

	pendingChannelsMetric = "pending_channels"
)

// channelCollector is a Prometheus collector that exports the allocations of
// all confirmed channels.
type channelCollector struct {
	collectMx sync.Mutex

	cfg      *PrometheusConfig
	registry *prometheus.Registry

	allocations *prometheus.GaugeVec

	pendingChannels prometheus.Gauge
}

func newChannelCollector(cfg *PrometheusConfig,
	registry *prometheus.Registry) (*channelCollector, error) {

	if cfg == nil {
		return nil, errors.New("channel collector prometheus cfg is nil")
	}

	if cfg.Channels == nil {
		return nil, errors.New("channel collector registry is nil")
	}

	return &channelCollector{
		cfg:      cfg,
		registry: registry,
		allocations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: channelAllocationMetric,
				Help: "Asset amount allocated to a channel side",
			},
			[]string{"channel_id", "contract_id", "side"},
		),
		pendingChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: pendingChannelsMetric,
				Help: "Number of channels being funded",
			},
		),
	}, nil
}

func (c *channelCollector) Name() string {
	return channelCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *channelCollector) Describe(ch chan<- *prometheus.Desc) {
	c.collectMx.Lock()
	defer c.collectMx.Unlock()

	c.allocations.Describe(ch)
	c.pendingChannels.Describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *channelCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectMx.Lock()
	defer c.collectMx.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	confirmed, err := c.cfg.Channels.List(ctx, rgbdb.PartitionConfirmed)
	if err != nil {
		log.Errorf("unable to list confirmed channels: %v", err)
		return
	}

	pending, err := c.cfg.Channels.List(ctx, rgbdb.PartitionPending)
	if err != nil {
		log.Errorf("unable to list pending channels: %v", err)
		return
	}

	c.allocations.Reset()
	for _, alloc := range confirmed {
		contractID := alloc.ContractID.String()
		c.allocations.WithLabelValues(
			alloc.ChannelID, contractID, "local",
		).Set(float64(alloc.LocalAmount))
		c.allocations.WithLabelValues(
			alloc.ChannelID, contractID, "remote",
		).Set(float64(alloc.RemoteAmount))
	}
	c.pendingChannels.Set(float64(len(pending)))

	c.allocations.Collect(ch)
	c.pendingChannels.Collect(ch)
}

func (c *channelCollector) RegisterMetricFuncs() error {
	err := c.registry.Register(c)
	if err != nil {
		log.Errorf("Error registering channel collector: %v", err)
		return err
	}

	return nil
}

var _ MetricGroup = (*channelCollector)(nil)

func init() {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()
	metricGroups[channelCollectorName] = func(cfg *PrometheusConfig,
		registry *prometheus.Registry) (MetricGroup, error) {

		return newChannelCollector(cfg, registry)
	}
}
