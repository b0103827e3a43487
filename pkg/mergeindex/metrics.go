// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the per-index Prometheus instrumentation, grounded in the
// package-level promauto style used across the Mimir family (and in the
// pack's cdc-sink stage metrics): one constructor, one struct of vectors,
// registered once at index construction.
type Metrics struct {
	expectedRows        prometheus.Counter
	rowsAdmitted         *prometheus.CounterVec
	cacheDiscards        prometheus.Counter
	fetchNextSuppressed  *prometheus.CounterVec
	livenessSweepFailures prometheus.Counter
	cursorWaitDuration   prometheus.Histogram
}

// NewMetrics registers the merge index's instrumentation with reg. reg may
// be nil, in which case a private registry is used so construction never
// fails on a duplicate-registration collision in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		expectedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "mergeindex_expected_rows_total",
			Help: "Cumulative rows promised by first pages across all sources.",
		}),
		rowsAdmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mergeindex_rows_admitted_total",
			Help: "Rows admitted into the downstream buffer, by source.",
		}, []string{"source"}),
		cacheDiscards: f.NewCounter(prometheus.CounterOpts{
			Name: "mergeindex_cache_discards_total",
			Help: "Number of times the in-memory fetch cache was discarded for exceeding its cap.",
		}),
		fetchNextSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mergeindex_fetch_next_suppressed_total",
			Help: "Number of FetchNextPage calls suppressed because the source had already drained.",
		}, []string{"source"}),
		livenessSweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mergeindex_liveness_sweep_failures_total",
			Help: "Number of liveness sweeps that found a dead source or failed to probe a source.",
		}),
		cursorWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mergeindex_cursor_wait_duration_seconds",
			Help:    "Time a cursor's Next() spent blocked waiting for the next row.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
