package executor

import (
	"github.com/cockroachdb/stream-tables/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_tables_refresh_duration_seconds",
		Help:    "Time spent executing one stream-table refresh, by action and outcome.",
		Buckets: metrics.LatencyBuckets,
	}, []string{"action", "outcome"})

	refreshRowsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_tables_refresh_rows_applied_total",
		Help: "Rows inserted, updated, or deleted by a refresh apply step.",
	}, metrics.StreamTableLabels)

	refreshSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_tables_refresh_skipped_total",
		Help: "Refreshes that found the per-stream-table advisory lock already held.",
	}, metrics.TableLabels)

	refreshSuspended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_tables_refresh_suspended_total",
		Help: "Stream tables transitioned to SUSPENDED after exceeding the consecutive-error threshold.",
	}, metrics.TableLabels)
)
