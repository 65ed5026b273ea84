package walmode

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func testSource() ident.Table {
	return ident.NewTable(ident.NewSchema(ident.New(""), ident.New("public")), ident.New("orders"))
}

func TestToChangeRecordInsert(t *testing.T) {
	d := &Decoder{Source: testSource()}
	c := wal2jsonChange{
		Kind: "insert", Schema: "public", Table: "orders",
		ColumnNames: []string{"id", "total"}, ColumnValues: []interface{}{float64(1), float64(42)},
	}
	rec, err := d.toChangeRecord(c, frontier.Marker{Pos: 100})
	require.NoError(t, err)
	require.Equal(t, types.ActionInsert, rec.Action)
	require.Nil(t, rec.Old)
	require.NotNil(t, rec.New)

	var row map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.New, &row))
	require.Equal(t, float64(1), row["id"])
}

func TestToChangeRecordDeleteUsesOldKeys(t *testing.T) {
	d := &Decoder{Source: testSource()}
	c := wal2jsonChange{
		Kind: "delete", Schema: "public", Table: "orders",
		OldKeys: &wal2jsonKeys{KeyNames: []string{"id"}, KeyValues: []interface{}{float64(7)}},
	}
	rec, err := d.toChangeRecord(c, frontier.Marker{Pos: 200})
	require.NoError(t, err)
	require.Equal(t, types.ActionDelete, rec.Action)
	require.Nil(t, rec.New)

	var key map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Key, &key))
	require.Equal(t, float64(7), key["id"])
}

func TestToChangeRecordRejectsUnknownKind(t *testing.T) {
	d := &Decoder{Source: testSource()}
	_, err := d.toChangeRecord(wal2jsonChange{Kind: "truncate"}, frontier.Marker{})
	require.Error(t, err)
}
