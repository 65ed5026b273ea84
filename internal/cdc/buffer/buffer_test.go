package buffer_test

import (
	"testing"

	"github.com/cockroachdb/stream-tables/internal/cdc/buffer"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func TestTableNameStableAcrossCalls(t *testing.T) {
	schema := ident.NewSchema(ident.New(""), ident.New("stream_tables"))
	source := ident.NewTable(ident.NewSchema(ident.New(""), ident.New("public")), ident.New("orders"))

	a := buffer.TableName(schema, source)
	b := buffer.TableName(schema, source)
	require.Equal(t, a, b)

	other := ident.NewTable(ident.NewSchema(ident.New(""), ident.New("public")), ident.New("line_items"))
	require.NotEqual(t, a, buffer.TableName(schema, other))
}
