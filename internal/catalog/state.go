package catalog

import (
	"context"
	"encoding/json"
	"hash/fnv"

	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// errNoRows is pgx's sentinel for "query returned zero rows", the
// signal every optional catalog lookup here maps to a zero-value
// default rather than propagating as an error.
var errNoRows = pgx.ErrNoRows

// Tx is the subset of pgx.Tx the advisory-lock helper needs; the
// refresh executor passes its own transaction through so the lock is
// released exactly when that transaction ends.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CaptureState is one source relation's row in change_tracking: which
// capture strategy is currently active, and (during TRANSITIONING) the
// WAL position at which the trigger installed, below which buffered
// rows came from the trigger and above which they came from decoding
// (spec.md §5, the trigger/WAL handoff).
type CaptureState struct {
	Mode          CaptureMode
	HandoffMarker *frontier.Marker
}

// CaptureState returns source's current capture strategy, defaulting to
// TRIGGER for a source never before recorded (spec.md §5: every source
// starts under trigger-based capture).
func (c *Catalog) CaptureState(ctx context.Context, source ident.Table) (CaptureState, error) {
	_, schema, table := source.Parts()
	var mode string
	var raw []byte
	err := c.pool.QueryRow(ctx, c.q(`
		SELECT capture_mode, handoff_marker FROM %[1]s.change_tracking
		WHERE source_schema = $1 AND source_table = $2`),
		schema, table,
	).Scan(&mode, &raw)
	if errors.Is(err, errNoRows) {
		return CaptureState{Mode: CaptureTrigger}, nil
	}
	if err != nil {
		return CaptureState{}, errors.Wrapf(err, "reading capture state for %s", source.Raw())
	}
	st := CaptureState{Mode: CaptureMode(mode)}
	if len(raw) > 0 {
		var m frontier.Marker
		if err := json.Unmarshal(raw, &m); err != nil {
			return CaptureState{}, errors.Wrapf(err, "decoding handoff marker for %s", source.Raw())
		}
		st.HandoffMarker = &m
	}
	return st, nil
}

// SetCaptureState upserts source's capture strategy, used both when a
// source is first seen (TRIGGER) and when ddlwatch/walmode advance it
// through TRANSITIONING to WAL (spec.md §5).
func (c *Catalog) SetCaptureState(ctx context.Context, source ident.Table, st CaptureState) error {
	_, schema, table := source.Parts()
	var raw []byte
	if st.HandoffMarker != nil {
		var err error
		raw, err = json.Marshal(st.HandoffMarker)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	_, err := c.pool.Exec(ctx, c.q(`
		INSERT INTO %[1]s.change_tracking (source_schema, source_table, capture_mode, handoff_marker)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_schema, source_table)
		DO UPDATE SET capture_mode = EXCLUDED.capture_mode, handoff_marker = EXCLUDED.handoff_marker`),
		schema, table, string(st.Mode), raw,
	)
	return errors.Wrapf(err, "recording capture state for %s", source.Raw())
}

// Frontier returns the recorded frontier marker for (streamTableID,
// source), or frontier.Zero if no refresh has advanced it yet.
func (c *Catalog) Frontier(ctx context.Context, streamTableID string, source ident.Table) (frontier.Marker, error) {
	_, schema, table := source.Parts()
	var raw []byte
	err := c.pool.QueryRow(ctx, c.q(`
		SELECT marker FROM %[1]s.frontiers
		WHERE stream_table_id = $1 AND source_schema = $2 AND source_table = $3`),
		streamTableID, schema, table,
	).Scan(&raw)
	if errors.Is(err, errNoRows) {
		return frontier.Zero, nil
	}
	if err != nil {
		return frontier.Marker{}, errors.Wrapf(err, "reading frontier for %s", source.Raw())
	}
	var m frontier.Marker
	if err := json.Unmarshal(raw, &m); err != nil {
		return frontier.Marker{}, errors.Wrapf(err, "decoding frontier for %s", source.Raw())
	}
	return m, nil
}

// AdvanceFrontier records marker as the new frontier for
// (streamTableID, source), stamping data_timestamp with now(). Callers check
// frontier.Frontier.GEq before calling, since this is an unconditional
// overwrite, not a compare-and-swap (spec.md Invariant 4 is the
// caller's obligation, not this accessor's).
func (c *Catalog) AdvanceFrontier(ctx context.Context, streamTableID string, source ident.Table, marker frontier.Marker) error {
	_, schema, table := source.Parts()
	raw, err := json.Marshal(marker)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = c.pool.Exec(ctx, c.q(`
		INSERT INTO %[1]s.frontiers (stream_table_id, source_schema, source_table, marker, data_timestamp)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (stream_table_id, source_schema, source_table)
		DO UPDATE SET marker = EXCLUDED.marker, data_timestamp = EXCLUDED.data_timestamp`),
		streamTableID, schema, table, raw,
	)
	return errors.Wrapf(err, "advancing frontier for %s", source.Raw())
}

// MinFrontier returns the minimum recorded marker for source across
// every stream table depending on it, the input to change-buffer
// cleanup (spec.md Invariant 5, §4.2 Cleanup): a change-buffer row may
// be pruned once no dependent stream table could still need it.
func (c *Catalog) MinFrontier(ctx context.Context, source ident.Table) (frontier.Marker, error) {
	dependents, err := c.Dependents(ctx, source)
	if err != nil {
		return frontier.Marker{}, err
	}
	if len(dependents) == 0 {
		return frontier.Zero, nil
	}
	min := frontier.Marker{Pos: ^uint64(0), Logical: ^uint32(0)}
	for _, id := range dependents {
		m, err := c.Frontier(ctx, id, source)
		if err != nil {
			return frontier.Marker{}, err
		}
		if m.Less(min) {
			min = m
		}
	}
	return min, nil
}

// AdvisoryLockKey derives the pg_advisory_xact_lock key the refresh
// executor takes to serialize concurrent refreshes of the same stream
// table (spec.md §4.3, Locking). FNV-1a keeps the key stable across
// processes without a round trip to the catalog. Acquisition itself
// lives in internal/executor/lock.go, since spec.md requires a
// non-blocking try-lock (contention becomes a SKIPPED outcome, never a
// wait), not the blocking pg_advisory_xact_lock this package would
// otherwise be tempted to wrap.
func AdvisoryLockKey(streamTableID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(streamTableID))
	return int64(h.Sum64())
}
