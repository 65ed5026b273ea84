// Package catalog persists stream-table definitions, their source
// dependencies, refresh history, change-tracking state, and the
// per-stream-table advisory-lock keys the refresh executor uses to
// serialize concurrent refreshes (spec.md §6, Persisted state). It is
// the one new package this repository adds that has no direct teacher
// analogue; its bootstrap-DDL and %[1]s-placeholder idiom follows the
// teacher's own resolved_table.go.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
)

// Mode is a stream table's configured refresh strategy (spec.md §2).
type Mode string

const (
	ModeFull         Mode = "FULL"
	ModeDifferential Mode = "DIFFERENTIAL"
)

// Status is a stream table's lifecycle state (spec.md §7, Error
// handling design).
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusError     Status = "ERROR"
)

// CaptureMode is the CDC pipeline's current capture strategy for a
// source relation (spec.md §5, TRIGGER/TRANSITIONING/WAL).
type CaptureMode string

const (
	CaptureTrigger       CaptureMode = "TRIGGER"
	CaptureTransitioning CaptureMode = "TRANSITIONING"
	CaptureWAL           CaptureMode = "WAL"
)

// defaultSchemaName is the catalog's own home; every bootstrap statement is
// parameterized on it via %[1]s so a single Catalog can be pointed at
// a schema other than the default during tests.
const defaultSchemaName = "stream_tables"

// Catalog is the catalog database's sole entry point. It is backed by
// a *types.CatalogPool (pgx, since the catalog needs prepared-statement
// reuse and COPY-friendly batch inserts the executor's change-buffer
// writes rely on).
type Catalog struct {
	pool   *types.CatalogPool
	schema string
}

// New constructs a Catalog backed by pool, rooted at schema (usually
// "stream_tables").
func New(pool *types.CatalogPool, schema string) *Catalog {
	if schema == "" {
		schema = defaultSchemaName
	}
	return &Catalog{pool: pool, schema: schema}
}

// Pool exposes the underlying catalog connection pool for callers that
// need to issue reads outside any catalog method, such as the
// scheduler's refresh adapter reading change-buffer transaction times
// for a source the catalog itself has no opinion about.
func (c *Catalog) Pool() *types.CatalogPool { return c.pool }

func (c *Catalog) q(format string, args ...any) string {
	full := append([]any{c.schema}, args...)
	return fmt.Sprintf(format, full...)
}

const bootstrapDDL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.stream_tables (
	id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	storage_schema     TEXT NOT NULL,
	storage_table      TEXT NOT NULL,
	defining_query     TEXT NOT NULL,
	refresh_mode       TEXT NOT NULL,
	cadence            TEXT NOT NULL,
	staleness_bound    INTERVAL NOT NULL,
	status             TEXT NOT NULL DEFAULT 'ACTIVE',
	consecutive_errors INT NOT NULL DEFAULT 0,
	reinit_flag        BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (storage_schema, storage_table)
);

CREATE TABLE IF NOT EXISTS %[1]s.dependencies (
	stream_table_id UUID NOT NULL REFERENCES %[1]s.stream_tables(id) ON DELETE CASCADE,
	source_schema   TEXT NOT NULL,
	source_table    TEXT NOT NULL,
	PRIMARY KEY (stream_table_id, source_schema, source_table)
);

CREATE TABLE IF NOT EXISTS %[1]s.refresh_history (
	id              BIGSERIAL PRIMARY KEY,
	stream_table_id UUID NOT NULL REFERENCES %[1]s.stream_tables(id) ON DELETE CASCADE,
	mode            TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	rows_changed    BIGINT NOT NULL DEFAULT 0,
	error           TEXT
);

CREATE TABLE IF NOT EXISTS %[1]s.change_tracking (
	source_schema TEXT NOT NULL,
	source_table  TEXT NOT NULL,
	capture_mode  TEXT NOT NULL,
	handoff_marker JSONB,
	PRIMARY KEY (source_schema, source_table)
);

CREATE TABLE IF NOT EXISTS %[1]s.frontiers (
	stream_table_id UUID NOT NULL REFERENCES %[1]s.stream_tables(id) ON DELETE CASCADE,
	source_schema   TEXT NOT NULL,
	source_table    TEXT NOT NULL,
	marker          JSONB NOT NULL,
	data_timestamp  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream_table_id, source_schema, source_table)
);
`

// Bootstrap creates the catalog schema and tables if they do not
// already exist. It is idempotent and safe to call on every process
// start, matching the teacher's CreateResolvedTable idiom.
func (c *Catalog) Bootstrap(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, c.q(bootstrapDDL))
	return errors.Wrap(err, "bootstrapping catalog schema")
}

// StreamTable is one row of %[1]s.stream_tables.
type StreamTable struct {
	ID             string
	Storage        ident.Table
	DefiningQuery  string
	RefreshMode    Mode
	Cadence        string
	StalenessBound string // Postgres interval literal, e.g. "30s"
}

// Create inserts a new stream table definition and its dependency
// edges in one transaction.
func (c *Catalog) Create(ctx context.Context, st StreamTable, sources []ident.Table) (string, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer tx.Rollback(ctx)

	_, schema, table := st.Storage.Parts()
	var id string
	err = tx.QueryRow(ctx, c.q(`
		INSERT INTO %[1]s.stream_tables
			(storage_schema, storage_table, defining_query, refresh_mode, cadence, staleness_bound)
		VALUES ($1, $2, $3, $4, $5, $6::interval)
		RETURNING id`),
		schema, table, st.DefiningQuery, string(st.RefreshMode), st.Cadence, st.StalenessBound,
	).Scan(&id)
	if err != nil {
		return "", errors.Wrap(err, "inserting stream table")
	}

	for _, src := range sources {
		_, srcSchema, srcTable := src.Parts()
		if _, err := tx.Exec(ctx, c.q(`
			INSERT INTO %[1]s.dependencies (stream_table_id, source_schema, source_table)
			VALUES ($1, $2, $3)`),
			id, srcSchema, srcTable,
		); err != nil {
			return "", errors.Wrap(err, "inserting dependency edge")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errors.WithStack(err)
	}
	return id, nil
}

// Dependencies returns the set of source tables a stream table reads
// from, per its last recorded Create/Redefine.
func (c *Catalog) Dependencies(ctx context.Context, streamTableID string) ([]ident.Table, error) {
	rows, err := c.pool.Query(ctx, c.q(`
		SELECT source_schema, source_table FROM %[1]s.dependencies WHERE stream_table_id = $1`),
		streamTableID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []ident.Table
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, ident.NewTable(ident.NewSchema(ident.New(""), ident.New(schema)), ident.New(table)))
	}
	return out, errors.WithStack(rows.Err())
}

// Dependents returns every stream table that depends on source,
// i.e. the reverse-dependency edge the scheduler's DAG build walks
// (spec.md §7).
func (c *Catalog) Dependents(ctx context.Context, source ident.Table) ([]string, error) {
	_, schema, table := source.Parts()
	rows, err := c.pool.Query(ctx, c.q(`
		SELECT stream_table_id FROM %[1]s.dependencies WHERE source_schema = $1 AND source_table = $2`),
		schema, table)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, id)
	}
	return out, errors.WithStack(rows.Err())
}

// RecordRefreshStart inserts an in-progress refresh_history row and
// returns its id, so RecordRefreshEnd can close it out even if the
// process crashes mid-refresh (the crash-recovery sweep,
// SweepIncompleteRefreshes, looks for rows with a null finished_at).
func (c *Catalog) RecordRefreshStart(ctx context.Context, streamTableID string, mode Mode) (int64, error) {
	var id int64
	err := c.pool.QueryRow(ctx, c.q(`
		INSERT INTO %[1]s.refresh_history (stream_table_id, mode, started_at)
		VALUES ($1, $2, now())
		RETURNING id`),
		streamTableID, string(mode),
	).Scan(&id)
	return id, errors.Wrap(err, "recording refresh start")
}

// RecordRefreshEnd closes out a refresh_history row, optionally with
// an error message (empty string for success).
func (c *Catalog) RecordRefreshEnd(ctx context.Context, historyID int64, rowsChanged int64, errMsg string) error {
	var errArg interface{}
	if errMsg != "" {
		errArg = errMsg
	}
	_, err := c.pool.Exec(ctx, c.q(`
		UPDATE %[1]s.refresh_history
		SET finished_at = now(), rows_changed = $2, error = $3
		WHERE id = $1`),
		historyID, rowsChanged, errArg,
	)
	return errors.Wrap(err, "recording refresh end")
}

// IncompleteRefreshes returns refresh_history rows with no
// finished_at, the crash-recovery sweep's input (spec.md §8,
// supplemented feature: a refresh interrupted by a process crash must
// be detected and either resumed or marked failed on the next startup,
// since an in-doubt MERGE/DML apply must never be silently skipped).
func (c *Catalog) IncompleteRefreshes(ctx context.Context) ([]int64, error) {
	rows, err := c.pool.Query(ctx, c.q(`
		SELECT id FROM %[1]s.refresh_history WHERE finished_at IS NULL`))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, id)
	}
	return out, errors.WithStack(rows.Err())
}

// LastRefreshTimestamp returns the most recent successful refresh's
// finish time for streamTableID, or the zero time if it has never
// completed one. The scheduler's control loop compares this against a
// stream table's effective cadence to decide whether it is due
// (spec.md §4.4, Control loop step 2).
func (c *Catalog) LastRefreshTimestamp(ctx context.Context, streamTableID string) (time.Time, error) {
	var ts *time.Time
	err := c.pool.QueryRow(ctx, c.q(`
		SELECT max(finished_at) FROM %[1]s.refresh_history
		WHERE stream_table_id = $1 AND error IS NULL`),
		streamTableID,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading last refresh timestamp for %s", streamTableID)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// SweepIncompleteRefreshes marks every RUNNING refresh_history row
// FAILED, the crash-recovery step the scheduler runs once at startup
// before scheduling any new refresh (spec.md §7, Crash/restart).
func (c *Catalog) SweepIncompleteRefreshes(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, c.q(`
		UPDATE %[1]s.refresh_history
		SET finished_at = now(), error = 'swept: process crashed mid-refresh'
		WHERE finished_at IS NULL`))
	if err != nil {
		return 0, errors.Wrap(err, "sweeping incomplete refreshes")
	}
	return tag.RowsAffected(), nil
}

// StatusOf returns a stream table's lifecycle status and consecutive
// failure count.
func (c *Catalog) StatusOf(ctx context.Context, streamTableID string) (Status, int, error) {
	var status string
	var errs int
	err := c.pool.QueryRow(ctx, c.q(`
		SELECT status, consecutive_errors FROM %[1]s.stream_tables WHERE id = $1`),
		streamTableID,
	).Scan(&status, &errs)
	return Status(status), errs, errors.Wrapf(err, "reading status for %s", streamTableID)
}

// SetStatus unconditionally sets a stream table's lifecycle status,
// used for SUSPENDED (error-counter threshold), ERROR (source dropped),
// and the explicit user-issued resume back to ACTIVE.
func (c *Catalog) SetStatus(ctx context.Context, streamTableID string, status Status) error {
	_, err := c.pool.Exec(ctx, c.q(`
		UPDATE %[1]s.stream_tables SET status = $2, updated_at = now() WHERE id = $1`),
		streamTableID, string(status),
	)
	return errors.Wrapf(err, "setting status for %s", streamTableID)
}

// RecordFailure increments the consecutive-error counter and, once it
// reaches threshold, transitions the stream table to SUSPENDED,
// returning the updated count and whether this call caused suspension
// (spec.md §4.3, Failure semantics).
func (c *Catalog) RecordFailure(ctx context.Context, streamTableID string, threshold int) (count int, suspended bool, err error) {
	err = c.pool.QueryRow(ctx, c.q(`
		UPDATE %[1]s.stream_tables SET consecutive_errors = consecutive_errors + 1, updated_at = now()
		WHERE id = $1
		RETURNING consecutive_errors`),
		streamTableID,
	).Scan(&count)
	if err != nil {
		return 0, false, errors.Wrapf(err, "recording failure for %s", streamTableID)
	}
	if count >= threshold {
		if err := c.SetStatus(ctx, streamTableID, StatusSuspended); err != nil {
			return count, false, err
		}
		return count, true, nil
	}
	return count, false, nil
}

// ClearErrors resets the consecutive-error counter after a successful
// refresh, and is also how the user-issued resume operation reactivates
// a SUSPENDED stream table.
func (c *Catalog) ClearErrors(ctx context.Context, streamTableID string) error {
	_, err := c.pool.Exec(ctx, c.q(`
		UPDATE %[1]s.stream_tables SET consecutive_errors = 0, updated_at = now() WHERE id = $1`),
		streamTableID,
	)
	return errors.Wrapf(err, "clearing error counter for %s", streamTableID)
}

// Resume clears a stream table's error counter and returns its status
// to ACTIVE, the explicit user operation spec.md §4.3 requires after a
// SUSPENDED transition ("the user must explicitly call the resume
// operation").
func (c *Catalog) Resume(ctx context.Context, streamTableID string) error {
	if err := c.ClearErrors(ctx, streamTableID); err != nil {
		return err
	}
	return c.SetStatus(ctx, streamTableID, StatusActive)
}

// SetReinitFlag marks streamTableID for REINITIALIZE on its next
// refresh cycle, set by the DDL-event watcher when a dependency's
// schema changes (spec.md §4.3, Action selection).
func (c *Catalog) SetReinitFlag(ctx context.Context, streamTableID string, flagged bool) error {
	_, err := c.pool.Exec(ctx, c.q(`
		UPDATE %[1]s.stream_tables SET reinit_flag = $2, updated_at = now() WHERE id = $1`),
		streamTableID, flagged,
	)
	return errors.Wrapf(err, "setting reinit flag for %s", streamTableID)
}

// ReinitFlagged reports whether streamTableID is currently flagged for
// REINITIALIZE.
func (c *Catalog) ReinitFlagged(ctx context.Context, streamTableID string) (bool, error) {
	var flagged bool
	err := c.pool.QueryRow(ctx, c.q(`
		SELECT reinit_flag FROM %[1]s.stream_tables WHERE id = $1`),
		streamTableID,
	).Scan(&flagged)
	return flagged, errors.Wrapf(err, "reading reinit flag for %s", streamTableID)
}

// All returns every stream table definition whose status is not ERROR,
// the scheduler's input for building its dependency graph (spec.md
// §4.4).
func (c *Catalog) All(ctx context.Context) ([]StreamTable, error) {
	rows, err := c.pool.Query(ctx, c.q(`
		SELECT id, storage_schema, storage_table, defining_query, refresh_mode, cadence, staleness_bound::text
		FROM %[1]s.stream_tables WHERE status != 'ERROR'`))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []StreamTable
	for rows.Next() {
		var st StreamTable
		var schema, table, mode string
		if err := rows.Scan(&st.ID, &schema, &table, &st.DefiningQuery, &mode, &st.Cadence, &st.StalenessBound); err != nil {
			return nil, errors.WithStack(err)
		}
		st.Storage = ident.NewTable(ident.NewSchema(ident.New(""), ident.New(schema)), ident.New(table))
		st.RefreshMode = Mode(mode)
		out = append(out, st)
	}
	return out, errors.WithStack(rows.Err())
}
