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

// MergeSQL renders the single-MERGE apply path (spec.md §4.3, Single
// MERGE path): one statement, keyed on row_id, that deletes rows the
// delta relation marks 'D' and inserts rows it marks 'I'. Algebraic
// aggregates expand an updated group into a D+I pair upstream in the
// delta program (internal/dvm), so this statement never needs a WHEN
// MATCHED UPDATE clause.
func MergeSQL(storage ident.Table, cols []operator.Column, deltaRelation string) string {
	colNames := make([]string, len(cols))
	insertVals := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = ident.New(c.Name).String()
		insertVals[i] = "delta." + ident.New(c.Name).String()
	}
	return fmt.Sprintf(`
MERGE INTO %[1]s AS target
USING %[2]s AS delta
ON target.row_id = delta.row_id
WHEN MATCHED AND delta.action = 'D' THEN DELETE
WHEN NOT MATCHED AND delta.action = 'I' THEN
	INSERT (row_id, %[3]s) VALUES (delta.row_id, %[4]s)`,
		storage.String(), deltaRelation, strings.Join(colNames, ", "), strings.Join(insertVals, ", "))
}

// ApplyMerge executes the single-MERGE path against tx, which must
// already have deltaRelation materialized (a temporary relation or CTE
// visible in the same transaction) and hold the stream table's advisory
// lock.
func ApplyMerge(ctx context.Context, tx types.TargetTx, storage ident.Table, cols []operator.Column, deltaRelation string) (int64, error) {
	res, err := tx.ExecContext(ctx, MergeSQL(storage, cols, deltaRelation))
	if err != nil {
		return 0, errors.Wrapf(err, "applying MERGE to %s", storage.Raw())
	}
	n, err := res.RowsAffected()
	return n, errors.WithStack(err)
}
