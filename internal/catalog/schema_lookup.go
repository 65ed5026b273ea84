package catalog

import (
	"context"

	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
)

// SourceSchema implements operator.SchemaLookup against a source
// database's information_schema, so the operator builder can resolve
// a Scan's output columns and declared primary key without the caller
// hand-maintaining either.
type SourceSchema struct {
	pool *types.SourcePool
}

// NewSourceSchema constructs a SourceSchema backed by pool.
func NewSourceSchema(pool *types.SourcePool) *SourceSchema {
	return &SourceSchema{pool: pool}
}

var _ operator.SchemaLookup = (*SourceSchema)(nil)

const columnsQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const primaryKeyQuery = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY kcu.ordinal_position`

// TableColumns implements operator.SchemaLookup.
func (s *SourceSchema) TableColumns(ctx context.Context, t ident.Table) ([]operator.Column, []string, error) {
	_, schema, table := t.Parts()

	rows, err := s.pool.Query(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listing columns for %s", t.Raw())
	}
	defer rows.Close()

	var cols []operator.Column
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		cols = append(cols, operator.Column{Name: name, Expr: sqlast.ColumnRef{Column: name}})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if len(cols) == 0 {
		return nil, nil, errors.Errorf("source relation %s has no columns (does it exist?)", t.Raw())
	}

	pkRows, err := s.pool.Query(ctx, primaryKeyQuery, schema, table)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listing primary key for %s", t.Raw())
	}
	defer pkRows.Close()

	var pk []string
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		pk = append(pk, name)
	}
	return cols, pk, errors.WithStack(pkRows.Err())
}
