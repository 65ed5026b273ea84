package ident_test

import (
	"testing"

	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func TestTableRawAndString(t *testing.T) {
	sch := ident.NewSchema(ident.New(""), ident.New("public"))
	tbl := ident.NewTable(sch, ident.New("orders"))

	require.Equal(t, "public.orders", tbl.Raw())
	require.Equal(t, `"public"."orders"`, tbl.String())
}

func TestStableNameDeterministic(t *testing.T) {
	sch := ident.NewSchema(ident.New(""), ident.New("public"))
	a := ident.NewTable(sch, ident.New("orders"))
	b := ident.NewTable(sch, ident.New("orders"))
	c := ident.NewTable(sch, ident.New("customers"))

	require.Equal(t, a.StableName(), b.StableName())
	require.NotEqual(t, a.StableName(), c.StableName())
	require.Len(t, a.StableName(), 16)
}

func TestIdentQuoting(t *testing.T) {
	i := ident.New(`wei"rd`)
	require.Equal(t, `"wei""rd"`, i.String())
}
