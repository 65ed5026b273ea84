package dvm_test

import (
	"strings"
	"testing"

	"github.com/cockroachdb/stream-tables/internal/dvm"
	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/stretchr/testify/require"
)

func ordersScan() *operator.Scan {
	return &operator.Scan{
		Alias:      "orders",
		PrimaryKey: []string{"id"},
		Cols: []operator.Column{
			{Name: "id", Expr: sqlast.ColumnRef{Column: "id"}},
			{Name: "amount", Expr: sqlast.ColumnRef{Column: "amount"}},
		},
	}
}

func TestDifferentiateFilterOverScan(t *testing.T) {
	scan := ordersScan()
	filt := &operator.Filter{
		Child: scan,
		Predicate: sqlast.BinaryExpr{
			Op:    ">",
			Left:  sqlast.ColumnRef{Column: "amount"},
			Right: sqlast.Literal{SQL: "100"},
		},
	}

	b := dvm.New(map[string]dvm.SourceDelta{
		scan.Source.Raw(): {CTEName: "delta_orders"},
	})
	program, err := b.Differentiate(filt)
	require.NoError(t, err)
	require.NotEmpty(t, program.CTEs)

	rendered := program.Render()
	require.True(t, strings.HasPrefix(rendered, "WITH "))
	require.Contains(t, rendered, "delta_orders")
	require.Contains(t, rendered, "action = 'D'")
}

func TestDifferentiateScanWithNoDeltaIsEmpty(t *testing.T) {
	scan := ordersScan()
	b := dvm.New(map[string]dvm.SourceDelta{})
	program, err := b.Differentiate(scan)
	require.NoError(t, err)
	require.Len(t, program.CTEs, 1)
	require.Contains(t, program.CTEs[0].SQL, "WHERE FALSE")
}

func TestDifferentiateAggregateScalar(t *testing.T) {
	scan := ordersScan()
	agg := &operator.Aggregate{
		Child: scan,
		Aggs: []operator.AggExpr{{
			Func:      "sum",
			Arg:       sqlast.ColumnRef{Column: "amount"},
			Alias:     "total",
			Algebraic: true,
		}},
		Cols: []operator.Column{{Name: "total"}},
	}

	b := dvm.New(map[string]dvm.SourceDelta{
		scan.Source.Raw(): {CTEName: "delta_orders"},
	})
	program, err := b.Differentiate(agg)
	require.NoError(t, err)
	rendered := program.Render()
	require.Contains(t, rendered, "hashtext(")
	require.Contains(t, rendered, "sum(")
}
