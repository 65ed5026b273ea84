// Package metrics holds shared Prometheus bucket and label definitions
// used by every component's promauto collectors, grounded on the
// teacher's internal/util/metrics (referenced from
// internal/staging/stage/metrics.go's LatencyBuckets/TableLabels).
package metrics

// LatencyBuckets are the histogram buckets (in seconds) used for every
// latency metric in the repository: change-buffer store/select/retire,
// delta-program generation, MERGE application, scheduler dispatch.
var LatencyBuckets = []float64{
	.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

// TableLabels are the Prometheus label names attached to every
// per-stream-table or per-source metric.
var TableLabels = []string{"schema", "table"}

// StreamTableLabels extend TableLabels with the refresh mode, for
// metrics that want to break out FULL vs. DIFFERENTIAL behavior.
var StreamTableLabels = []string{"schema", "table", "mode"}
