// SPDX-License-Identifier: AGPL-3.0-only

package sourcefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a Feed's instrumentation, grounded in the same promauto
// package-constructor style as mergeindex.Metrics.
type Metrics struct {
	pagesFetched  *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	bufferedPages prometheus.Gauge
	bufferedRows  prometheus.Gauge
}

// NewMetrics registers a Feed's instrumentation with reg. reg may be nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		pagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcefeed_pages_fetched_total",
			Help: "Pages successfully fetched, by source.",
		}, []string{"source"}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcefeed_fetch_errors_total",
			Help: "Fetch attempts that returned an error, by source.",
		}, []string{"source"}),
		bufferedPages: f.NewGauge(prometheus.GaugeOpts{
			Name: "sourcefeed_buffered_pages",
			Help: "Pages fetched but not yet admitted into the merge index.",
		}),
		bufferedRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "sourcefeed_buffered_rows",
			Help: "Rows fetched but not yet admitted into the merge index.",
		}),
	}
}
