package operator_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/stretchr/testify/require"
)

type fakeSchema struct {
	cols map[string][]operator.Column
	pk   map[string][]string
}

func (f *fakeSchema) TableColumns(_ context.Context, t ident.Table) ([]operator.Column, []string, error) {
	return f.cols[t.Raw()], f.pk[t.Raw()], nil
}

func sch() ident.Schema { return ident.NewSchema(ident.New(""), ident.New("public")) }

func newBuilder() (*operator.Builder, *fakeSchema) {
	fs := &fakeSchema{cols: map[string][]operator.Column{}, pk: map[string][]string{}}
	return &operator.Builder{Schema: fs, DefaultSchema: sch()}, fs
}

func TestProjectFilterLookThroughIdentity(t *testing.T) {
	b, fs := newBuilder()
	fs.cols["public.orders"] = []operator.Column{{Name: "id"}, {Name: "amount"}}
	fs.pk["public.orders"] = []string{"id"}

	q := &sqlast.Query{
		Select: []sqlast.SelectItem{{Expr: sqlast.ColumnRef{Column: "amount"}, Alias: "amount"}},
		From:   sqlast.Table{Name: "orders"},
		Where: sqlast.BinaryExpr{
			Op:    ">",
			Left:  sqlast.ColumnRef{Column: "amount"},
			Right: sqlast.Literal{SQL: "0"},
		},
	}
	op, err := b.Build(context.Background(), q)
	require.NoError(t, err)

	cols, err := operator.IdentityColumns(op)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	require.Equal(t, "id", cols[0].Name)
}

func TestScalarAggregateIdentityIsSingleton(t *testing.T) {
	b, fs := newBuilder()
	fs.cols["public.orders"] = []operator.Column{{Name: "id"}, {Name: "amount"}}
	fs.pk["public.orders"] = []string{"id"}

	q := &sqlast.Query{
		Select: []sqlast.SelectItem{{
			Expr:  sqlast.FuncCall{Name: "sum", Args: []sqlast.Expr{sqlast.ColumnRef{Column: "amount"}}},
			Alias: "total",
		}},
		From: sqlast.Table{Name: "orders"},
	}
	op, err := b.Build(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, operator.KindAggregate, op.Kind())

	agg := op.(*operator.Aggregate)
	require.True(t, agg.IsScalar())

	cols, err := operator.IdentityColumns(op)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	require.Equal(t, "__scalar_group__", cols[0].Name)
}

func TestVolatileFunctionRejected(t *testing.T) {
	b, fs := newBuilder()
	fs.cols["public.orders"] = []operator.Column{{Name: "id"}}
	fs.pk["public.orders"] = []string{"id"}

	q := &sqlast.Query{
		Select: []sqlast.SelectItem{{Expr: sqlast.FuncCall{Name: "now", Volatility: sqlast.VolatilityVolatile}, Alias: "ts"}},
		From:   sqlast.Table{Name: "orders"},
		Where: sqlast.BinaryExpr{
			Op:    "=",
			Left:  sqlast.ColumnRef{Column: "id"},
			Right: sqlast.FuncCall{Name: "now", Volatility: sqlast.VolatilityVolatile},
		},
	}
	_, err := b.Build(context.Background(), q)
	require.Error(t, err)
	var unsupported *operator.Unsupported
	require.ErrorAs(t, err, &unsupported)
}

func TestWindowWithoutPartitionByRejected(t *testing.T) {
	b, fs := newBuilder()
	fs.cols["public.orders"] = []operator.Column{{Name: "id"}}
	fs.pk["public.orders"] = []string{"id"}

	q := &sqlast.Query{
		Select: []sqlast.SelectItem{{Expr: sqlast.ColumnRef{Column: "id"}, Alias: "id"}},
		From:   sqlast.Table{Name: "orders"},
		Window: []sqlast.WindowDef{{Name: "w"}},
	}
	_, err := b.Build(context.Background(), q)
	require.Error(t, err)
}

func TestHashIdentityDeterministic(t *testing.T) {
	h1 := operator.HashIdentity([]string{"1", "abc"})
	h2 := operator.HashIdentity([]string{"1", "abc"})
	h3 := operator.HashIdentity([]string{"1a", "bc"})
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}
