package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/lightninglabs/rgb-lightning/internal/test"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type mockChannels struct {
	pending   []*rgb.Allocation
	confirmed []*rgb.Allocation
	err       error
}

func (m *mockChannels) List(_ context.Context,
	p rgbdb.Partition) ([]*rgb.Allocation, error) {

	if m.err != nil {
		return nil, m.err
	}

	if p == rgbdb.PartitionPending {
		return m.pending, nil
	}

	return m.confirmed, nil
}

type mockAssets struct {
	assets   []*rgb.Asset
	balances map[rgb.ContractID]rgb.Balance
}

func (m *mockAssets) ListAssets(context.Context) ([]*rgb.Asset, error) {
	return m.assets, nil
}

func (m *mockAssets) Spendable(_ context.Context,
	id rgb.ContractID) (rgb.Balance, error) {

	balance, ok := m.balances[id]
	if !ok {
		return rgb.Balance{}, errors.New("unknown contract")
	}

	return balance, nil
}

// gaugeValue looks up the value of the gauge with the given labels.
func gaugeValue(t *testing.T, families []*dto.MetricFamily, name string,
	labels map[string]string) float64 {

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}

			return metric.GetGauge().GetValue()
		}
	}

	t.Fatalf("metric %v with labels %v not found", name, labels)
	return 0
}

func TestFundingCounter(t *testing.T) {
	t.Parallel()

	counter := NewFundingCounter()
	contractID := test.RandContractID()

	counter.FundingDone(contractID, rgbchannel.StateFinalized)
	counter.FundingDone(contractID, rgbchannel.StateFinalized)
	counter.FundingDone(contractID, rgbchannel.StateCancelled)

	finalized := counter.attempts.WithLabelValues(
		contractID.String(), rgbchannel.StateFinalized.String(),
	)
	cancelled := counter.attempts.WithLabelValues(
		contractID.String(), rgbchannel.StateCancelled.String(),
	)
	require.EqualValues(t, 2, testutil.ToFloat64(finalized))
	require.EqualValues(t, 1, testutil.ToFloat64(cancelled))

	_, err := newFundingCollector(&PrometheusConfig{}, nil)
	require.Error(t, err)

	registry := prometheus.NewRegistry()
	collector, err := newFundingCollector(&PrometheusConfig{
		Funding: counter,
	}, registry)
	require.NoError(t, err)
	require.NoError(t, collector.RegisterMetricFuncs())

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, fundingAttemptsMetric, families[0].GetName())
	require.Len(t, families[0].GetMetric(), 2)
}

func TestChannelCollector(t *testing.T) {
	t.Parallel()

	contractID := test.RandContractID()
	channels := &mockChannels{
		pending: []*rgb.Allocation{{
			ChannelID:   "temp",
			ContractID:  contractID,
			LocalAmount: 10,
		}},
		confirmed: []*rgb.Allocation{{
			ChannelID:    "chan-1",
			ContractID:   contractID,
			LocalAmount:  70,
			RemoteAmount: 30,
		}},
	}

	_, err := newChannelCollector(&PrometheusConfig{}, nil)
	require.Error(t, err)

	registry := prometheus.NewRegistry()
	collector, err := newChannelCollector(&PrometheusConfig{
		Channels: channels,
	}, registry)
	require.NoError(t, err)
	require.NoError(t, collector.RegisterMetricFuncs())

	families, err := registry.Gather()
	require.NoError(t, err)

	labels := map[string]string{
		"channel_id":  "chan-1",
		"contract_id": contractID.String(),
		"side":        "local",
	}
	require.EqualValues(
		t, 70, gaugeValue(t, families, channelAllocationMetric, labels),
	)

	labels["side"] = "remote"
	require.EqualValues(
		t, 30, gaugeValue(t, families, channelAllocationMetric, labels),
	)
	require.EqualValues(
		t, 1, gaugeValue(t, families, pendingChannelsMetric, nil),
	)

	// A failing registry must not produce partial metrics.
	channels.err = errors.New("store down")
	families, err = registry.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}

func TestAssetBalancesCollector(t *testing.T) {
	t.Parallel()

	known, unknown := test.RandContractID(), test.RandContractID()
	assets := &mockAssets{
		assets: []*rgb.Asset{
			{ContractID: known, Ticker: "USDT"},
			{ContractID: unknown, Ticker: "GONE"},
		},
		balances: map[rgb.ContractID]rgb.Balance{
			known: {
				Settled:    100,
				Future:     120,
				Spendable:  80,
				InFlight:   20,
				InChannels: 40,
			},
		},
	}

	_, err := newAssetBalancesCollector(&PrometheusConfig{
		Assets: assets,
	}, nil)
	require.Error(t, err)

	registry := prometheus.NewRegistry()
	collector, err := newAssetBalancesCollector(&PrometheusConfig{
		Assets:   assets,
		Balances: assets,
	}, registry)
	require.NoError(t, err)
	require.NoError(t, collector.RegisterMetricFuncs())

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)

	// Only the asset with a balance is exported.
	require.Len(t, families[0].GetMetric(), 5)

	expected := map[string]float64{
		"settled":     100,
		"future":      120,
		"spendable":   80,
		"in_flight":   20,
		"in_channels": 40,
	}
	for kind, value := range expected {
		labels := map[string]string{
			"ticker":      "USDT",
			"contract_id": known.String(),
			"kind":        kind,
		}
		require.Equal(
			t, value, gaugeValue(
				t, families, assetBalanceMetric, labels,
			),
		)
	}
}
