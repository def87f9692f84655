//go:build monitoring
// +build monitoring

package monitoring

import "github.com/prometheus/client_golang/prometheus"

// NewPrometheusExporter makes a new instance of the PrometheusExporter given
// the config.
func NewPrometheusExporter(cfg *PrometheusConfig) (*PrometheusExporter, error) {
	return &PrometheusExporter{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}, nil
}
