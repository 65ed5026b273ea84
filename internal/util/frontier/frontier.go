// Package frontier implements the "up-to-here" position tracking
// described in spec.md §3 (Frontier). A Marker orders change-buffer
// entries for a single source; a Frontier is an immutable snapshot of
// markers across every source a stream table depends on, plus the
// data timestamp at which that snapshot was taken.
//
// The type is modeled after the teacher's internal/util/hlc.Time
// (nanos + logical tie-breaker, total order, Compare/Zero/String), but
// generalizes "nanos" to "Pos" because a Marker may be a WAL insert
// position (trigger mode) or a monotonic sequence value (distributed
// deployments, reserved) rather than strictly a wall-clock timestamp.
package frontier

import (
	"fmt"
	"time"

	"github.com/cockroachdb/stream-tables/internal/util/stamp"
)

// A Marker is a single source's position within its change stream. Pos
// is the primary ordering key (a WAL LSN-like value or a monotonic
// sequence number); Logical breaks ties between events that share a
// Pos, the way CockroachDB's HLC logical counter breaks ties within a
// nanosecond.
type Marker struct {
	Pos     uint64
	Logical uint32
}

// Zero is the marker representing "the start of time" for a source
// that has never been observed.
var Zero = Marker{}

// Compare returns -1, 0, or 1 according to whether m sorts before,
// equal to, or after other.
func (m Marker) Compare(other Marker) int {
	switch {
	case m.Pos < other.Pos:
		return -1
	case m.Pos > other.Pos:
		return 1
	case m.Logical < other.Logical:
		return -1
	case m.Logical > other.Logical:
		return 1
	default:
		return 0
	}
}

// Less reports whether m sorts strictly before other.
func (m Marker) Less(other Marker) bool { return m.Compare(other) < 0 }

// IsZero reports whether m is the Zero marker.
func (m Marker) IsZero() bool { return m == Zero }

// String renders the marker as "pos/logical", matching the teacher's
// "nanos,logical" HLC rendering convention.
func (m Marker) String() string { return fmt.Sprintf("%d/%d", m.Pos, m.Logical) }

// A Frontier is an immutable mapping from a source's stable,
// content-derived name (ident.Table.StableName, or the raw qualified
// name — callers pick one consistently) to its Marker, plus the single
// data timestamp recorded when the snapshot was taken (spec.md §3,
// Invariant 4).
type Frontier struct {
	markers       map[string]Marker
	dataTimestamp time.Time
}

// New constructs a Frontier from a marker map and data timestamp. The
// map is copied so the returned Frontier is safe to retain even if the
// caller mutates its argument afterward.
func New(markers map[string]Marker, dataTimestamp time.Time) Frontier {
	cp := make(map[string]Marker, len(markers))
	for k, v := range markers {
		cp[k] = v
	}
	return Frontier{markers: cp, dataTimestamp: dataTimestamp}
}

// Empty is the Frontier recorded before a stream table's first refresh.
var Empty = Frontier{}

// At returns the marker recorded for source, or Zero if the source was
// not part of this snapshot (e.g. a dependency added after the
// snapshot was taken).
func (f Frontier) At(source string) Marker {
	if f.markers == nil {
		return Zero
	}
	return f.markers[source]
}

// DataTimestamp returns the wall-clock instant this frontier represents.
func (f Frontier) DataTimestamp() time.Time { return f.dataTimestamp }

// Sources returns the stable names covered by this frontier.
func (f Frontier) Sources() []string {
	out := make([]string, 0, len(f.markers))
	for k := range f.markers {
		out = append(out, k)
	}
	return out
}

// GEq reports whether every marker in f is greater than or equal to
// the corresponding marker in other, componentwise — the monotonicity
// check required by spec.md Invariant 4. A source present in other but
// absent from f is treated as Zero, which always satisfies f ≥ other
// for that source only if other's marker is also Zero.
func (f Frontier) GEq(other Frontier) bool {
	for src, want := range other.markers {
		if f.At(src).Compare(want) < 0 {
			return false
		}
	}
	return true
}

// Min returns, for every source present in either frontier, the lesser
// of the two markers. This underlies "the minimum recorded frontier
// across all STs consuming that source" used by change-buffer cleanup
// (spec.md Invariant 5, §4.2 Cleanup).
func Min(a, b Frontier) Frontier {
	out := make(map[string]Marker, len(a.markers)+len(b.markers))
	for src, ma := range a.markers {
		out[src] = ma
	}
	for src, mb := range b.markers {
		if cur, ok := out[src]; !ok || mb.Less(cur) {
			out[src] = mb
		}
	}
	ts := a.dataTimestamp
	if b.dataTimestamp.Before(ts) {
		ts = b.dataTimestamp
	}
	return Frontier{markers: out, dataTimestamp: ts}
}

// Advance returns a new Frontier equal to f, with source's marker
// raised to marker. It is an error (caller's responsibility to check
// via GEq) to advance a source's marker backward; Advance does not
// itself enforce monotonicity since a Frontier is an immutable value,
// not a mutable ledger.
func (f Frontier) Advance(source string, marker Marker, dataTimestamp time.Time) Frontier {
	out := make(map[string]Marker, len(f.markers)+1)
	for k, v := range f.markers {
		out[k] = v
	}
	out[source] = marker
	return Frontier{markers: out, dataTimestamp: dataTimestamp}
}

// Less implements stamp.Stamp so a Frontier can serve directly as a
// resumable consistent point for the CDC pipeline's logical-replication
// style driver loop (internal/cdc, grounded on the teacher's
// logical.State/ConsistentPoint pattern).
func (f Frontier) Less(other stamp.Stamp) bool {
	o, ok := other.(Frontier)
	if !ok {
		return false
	}
	return f.dataTimestamp.Before(o.dataTimestamp)
}

var _ stamp.Stamp = Frontier{}
