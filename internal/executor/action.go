// Package executor runs a single refresh of one stream table: it picks
// an action from spec.md §4.3's decision table, applies the result
// under a per-stream-table advisory lock, and records frontier and
// history state. It is grounded on the teacher's apply-loop idiom
// (internal/target apply paths) generalized from CDC-sink fan-out to
// this repository's own MERGE/explicit-DML dichotomy.
package executor

import "github.com/cockroachdb/stream-tables/internal/catalog"

// Action is the refresh executor's chosen strategy for one refresh
// cycle (spec.md §4.3, Action selection).
type Action string

const (
	// ActionReinitialize rebuilds a stream table from scratch, including
	// auxiliary counter columns, after detected schema drift on a source.
	ActionReinitialize Action = "REINITIALIZE"
	// ActionNoData means no source has unconsumed changes; only the data
	// timestamp and history advance.
	ActionNoData Action = "NO_DATA"
	// ActionFull truncates and re-executes the defining query.
	ActionFull Action = "FULL"
	// ActionDifferential applies the delta program against the storage
	// table.
	ActionDifferential Action = "DIFFERENTIAL"
)

// Inputs bundles the decision table's four inputs (spec.md §4.3, Action
// selection).
type Inputs struct {
	Mode           catalog.Mode
	HasChanges     bool
	ReinitFlagged  bool
	ChangeRatio    float64 // estimated delta cardinality / storage-table cardinality
	AdaptiveThresh float64
}

// SelectAction applies spec.md §4.3's decision table in priority order:
// a pending reinitialize always wins, then the no-op case, then the
// FULL-vs-DIFFERENTIAL cardinality check.
func SelectAction(in Inputs) Action {
	switch {
	case in.ReinitFlagged:
		return ActionReinitialize
	case !in.HasChanges:
		return ActionNoData
	case in.Mode == catalog.ModeFull || in.ChangeRatio >= in.AdaptiveThresh:
		return ActionFull
	default:
		return ActionDifferential
	}
}
