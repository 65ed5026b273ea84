package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
)

// TriggerPolicy selects between the single-MERGE and explicit-DML apply
// paths (spec.md §4.3, Explicit-DML path: "a policy GUC (auto | always
// | never) may override detection").
type TriggerPolicy string

const (
	TriggerPolicyAuto   TriggerPolicy = "auto"
	TriggerPolicyAlways TriggerPolicy = "always"
	TriggerPolicyNever  TriggerPolicy = "never"
)

const hasUserTriggersQuery = `
SELECT EXISTS (
	SELECT 1 FROM pg_trigger t
	JOIN pg_class c ON c.oid = t.tgrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE NOT t.tgisinternal AND n.nspname = $1 AND c.relname = $2
)`

// HasUserTriggers inspects the host's trigger catalog for any
// non-internal trigger on storage, the detection step spec.md §4.3
// describes ("Detection of user triggers is done by inspecting the
// host's trigger catalog at refresh time"). It runs over
// types.TargetQuerier (database/sql), the same connection family the
// apply step itself uses, so detection sees the transaction's own
// uncommitted DDL if any.
func HasUserTriggers(ctx context.Context, q types.TargetQuerier, storage ident.Table) (bool, error) {
	_, schema, table := storage.Parts()
	var exists bool
	err := q.QueryRowContext(ctx, hasUserTriggersQuery, schema, table).Scan(&exists)
	return exists, errors.Wrapf(err, "inspecting trigger catalog for %s", storage.Raw())
}

// UseExplicitDML resolves the apply path for one refresh: the policy
// GUC wins outright at always/never, otherwise the trigger catalog
// decides (spec.md §4.3).
func UseExplicitDML(ctx context.Context, q types.TargetQuerier, storage ident.Table, policy TriggerPolicy) (bool, error) {
	switch policy {
	case TriggerPolicyAlways:
		return true, nil
	case TriggerPolicyNever:
		return false, nil
	default:
		return HasUserTriggers(ctx, q, storage)
	}
}

// ApplyExplicitDML runs the explicit-DML path: a set-based DELETE for
// 'D' rows, UPDATE for 'U' rows, and INSERT for 'I' rows, issued
// separately so BEFORE/AFTER triggers observe the correct TG_OP and
// OLD/NEW tuples (spec.md §4.3). Grounded on the now-superseded
// sink.go's per-row deleteRow/upsertRow pattern, generalized here to
// set-based statements driven off the materialized delta relation
// instead of a per-row loop.
func ApplyExplicitDML(ctx context.Context, tx types.TargetTx, storage ident.Table, cols []operator.Column, deltaRelation string) (int64, error) {
	colNames := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = ident.New(c.Name).String()
	}
	colList := strings.Join(colNames, ", ")

	var total int64
	del, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %[1]s WHERE row_id IN (SELECT row_id FROM %[2]s WHERE action = 'D')`,
		storage.String(), deltaRelation))
	if err != nil {
		return 0, errors.Wrapf(err, "explicit DELETE against %s", storage.Raw())
	}
	if n, err := del.RowsAffected(); err == nil {
		total += n
	}

	setList := make([]string, len(cols))
	for i, name := range colNames {
		setList[i] = fmt.Sprintf("%[1]s = delta.%[1]s", name)
	}
	upd, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %[1]s AS target SET %[3]s FROM %[2]s AS delta WHERE target.row_id = delta.row_id AND delta.action = 'U'`,
		storage.String(), deltaRelation, strings.Join(setList, ", ")))
	if err != nil {
		return 0, errors.Wrapf(err, "explicit UPDATE against %s", storage.Raw())
	}
	if n, err := upd.RowsAffected(); err == nil {
		total += n
	}

	ins, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s (row_id, %[3]s) SELECT row_id, %[3]s FROM %[2]s WHERE action = 'I'`,
		storage.String(), deltaRelation, colList))
	if err != nil {
		return 0, errors.Wrapf(err, "explicit INSERT against %s", storage.Raw())
	}
	if n, err := ins.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}
