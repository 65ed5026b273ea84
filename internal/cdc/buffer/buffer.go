// Package buffer implements spec.md's Change Buffer: a durable,
// per-source log of row-level changes that a differential refresh
// reads over a half-open interval (prev, next]. It is grounded on the
// teacher's internal/staging/stage Stager, adapted from CockroachDB's
// jsonb-mutation-log storage to a single Postgres table per source
// keyed by a WAL/sequence Marker rather than an HLC timestamp.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
)

// Buffer is a types.ChangeBuffer backed by one Postgres table per
// source relation, named deterministically from the source's
// ident.Table.StableName so renames of the logical source don't
// require a buffer migration.
type Buffer struct {
	schema ident.Schema
	source ident.Table
	table  string // schema-qualified, already quoted

	sql struct {
		store           string
		selectRange     string
		selectPartial   string
		retire          string
		transactionTime string
	}
}

// TableName returns the schema-qualified change-buffer table name for
// source, rooted at schema.
func TableName(schema ident.Schema, source ident.Table) string {
	return fmt.Sprintf("%s.%s", schema.String(), ident.New("changes_"+source.StableName()).String())
}

const createTableTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id           BIGSERIAL PRIMARY KEY,
	key          JSONB NOT NULL,
	marker_pos   BIGINT NOT NULL,
	marker_logi  INT NOT NULL,
	tx_id        BIGINT NOT NULL,
	action       "char" NOT NULL,
	new_row      JSONB,
	old_row      JSONB,
	captured_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	origin       TEXT NOT NULL DEFAULT '',
	UNIQUE (marker_pos, marker_logi, key)
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (marker_pos, marker_logi);
`

// New constructs a Buffer for source, rooted at schema. The caller
// creates the underlying table via Bootstrap before first use.
func New(schema ident.Schema, source ident.Table) *Buffer {
	b := &Buffer{schema: schema, source: source, table: TableName(schema, source)}
	b.sql.store = fmt.Sprintf(`
		INSERT INTO %[1]s (key, marker_pos, marker_logi, tx_id, action, new_row, old_row, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (marker_pos, marker_logi, key) DO NOTHING`, b.table)
	b.sql.selectRange = fmt.Sprintf(`
		SELECT id, key, marker_pos, marker_logi, tx_id, action, new_row, old_row, captured_at, origin
		FROM %[1]s
		WHERE (marker_pos, marker_logi) > ($1, $2) AND (marker_pos, marker_logi) <= ($3, $4)
		ORDER BY marker_pos, marker_logi, id`, b.table)
	b.sql.selectPartial = fmt.Sprintf(`
		SELECT id, key, marker_pos, marker_logi, tx_id, action, new_row, old_row, captured_at, origin
		FROM %[1]s
		WHERE (marker_pos, marker_logi) > ($1, $2) AND (marker_pos, marker_logi) <= ($3, $4) AND key > $5
		ORDER BY key
		LIMIT $6`, b.table)
	b.sql.retire = fmt.Sprintf(`
		DELETE FROM %[1]s WHERE (marker_pos, marker_logi) <= ($1, $2)`, b.table)
	b.sql.transactionTime = fmt.Sprintf(`
		SELECT DISTINCT marker_pos, marker_logi FROM %[1]s
		WHERE (marker_pos, marker_logi) > ($1, $2) AND (marker_pos, marker_logi) <= ($3, $4)
		ORDER BY marker_pos, marker_logi`, b.table)
	return b
}

// Bootstrap creates the change-buffer table if it does not exist.
func (b *Buffer) Bootstrap(ctx context.Context, q types.StagingQuerier) error {
	idxName := ident.New("idx_" + b.source.StableName() + "_marker").Raw()
	_, err := q.Exec(ctx, fmt.Sprintf(createTableTemplate, b.table, idxName))
	return errors.Wrapf(err, "bootstrapping change buffer for %s", b.source.Raw())
}

var _ types.ChangeBuffer = (*Buffer)(nil)

// Store implements types.ChangeBuffer.
func (b *Buffer) Store(ctx context.Context, tx types.StagingQuerier, records []types.ChangeRecord) error {
	start := time.Now()
	labels := []string{b.source.Schema().Raw(), b.source.Table().Raw()}
	for _, r := range records {
		if _, err := tx.Exec(ctx, b.sql.store,
			r.Key, int64(r.Marker.Pos), int32(r.Marker.Logical), int64(r.TxID),
			string(r.Action), r.New, r.Old, r.Origin,
		); err != nil {
			bufferStoreErrors.WithLabelValues(labels...).Inc()
			return errors.Wrapf(err, "storing change record for %s", b.source.Raw())
		}
	}
	bufferStoreCount.WithLabelValues(labels...).Add(float64(len(records)))
	bufferStoreDurations.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	return nil
}

// Select implements types.ChangeBuffer.
func (b *Buffer) Select(
	ctx context.Context, tx types.StagingQuerier, prev, next frontier.Marker,
) ([]types.ChangeRecord, error) {
	start := time.Now()
	labels := []string{b.source.Schema().Raw(), b.source.Table().Raw()}
	rows, err := tx.Query(ctx, b.sql.selectRange,
		int64(prev.Pos), int32(prev.Logical), int64(next.Pos), int32(next.Logical))
	if err != nil {
		bufferSelectErrors.WithLabelValues(labels...).Inc()
		return nil, errors.Wrapf(err, "selecting change records for %s", b.source.Raw())
	}
	defer rows.Close()

	out, err := scanRecords(rows, b.source)
	if err != nil {
		bufferSelectErrors.WithLabelValues(labels...).Inc()
		return nil, err
	}
	bufferSelectCount.WithLabelValues(labels...).Add(float64(len(out)))
	bufferSelectDurations.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	return out, nil
}

// SelectPartial implements types.ChangeBuffer.
func (b *Buffer) SelectPartial(
	ctx context.Context, tx types.StagingQuerier, prev, next frontier.Marker, afterKey []byte, limit int,
) ([]types.ChangeRecord, error) {
	rows, err := tx.Query(ctx, b.sql.selectPartial,
		int64(prev.Pos), int32(prev.Logical), int64(next.Pos), int32(next.Logical), afterKey, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "selecting partial change records for %s", b.source.Raw())
	}
	defer rows.Close()
	return scanRecords(rows, b.source)
}

// Retire implements types.ChangeBuffer.
func (b *Buffer) Retire(ctx context.Context, tx types.StagingQuerier, end frontier.Marker) error {
	start := time.Now()
	labels := []string{b.source.Schema().Raw(), b.source.Table().Raw()}
	if _, err := tx.Exec(ctx, b.sql.retire, int64(end.Pos), int32(end.Logical)); err != nil {
		bufferRetireErrors.WithLabelValues(labels...).Inc()
		return errors.Wrapf(err, "retiring change records for %s", b.source.Raw())
	}
	bufferRetireDurations.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	return nil
}

// TransactionTimes implements types.ChangeBuffer.
func (b *Buffer) TransactionTimes(
	ctx context.Context, tx types.StagingQuerier, before, after frontier.Marker,
) ([]frontier.Marker, error) {
	rows, err := tx.Query(ctx, b.sql.transactionTime,
		int64(after.Pos), int32(after.Logical), int64(before.Pos), int32(before.Logical))
	if err != nil {
		return nil, errors.Wrapf(err, "listing transaction markers for %s", b.source.Raw())
	}
	defer rows.Close()

	var out []frontier.Marker
	for rows.Next() {
		var pos int64
		var logi int32
		if err := rows.Scan(&pos, &logi); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, frontier.Marker{Pos: uint64(pos), Logical: uint32(logi)})
	}
	return out, errors.WithStack(rows.Err())
}

func scanRecords(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}, source ident.Table) ([]types.ChangeRecord, error) {
	var out []types.ChangeRecord
	for rows.Next() {
		var rec types.ChangeRecord
		var pos int64
		var logi int32
		var action string
		var key json.RawMessage
		if err := rows.Scan(
			&rec.ID, &key, &pos, &logi, &rec.TxID, &action, &rec.New, &rec.Old, &rec.CapturedAt, &rec.Origin,
		); err != nil {
			return nil, errors.WithStack(err)
		}
		rec.Source = source
		rec.Key = key
		rec.Marker = frontier.Marker{Pos: uint64(pos), Logical: uint32(logi)}
		if len(action) > 0 {
			rec.Action = types.Action(action[0])
		}
		out = append(out, rec)
	}
	return out, errors.WithStack(rows.Err())
}
