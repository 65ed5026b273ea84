package msort_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/msort"
	"github.com/stretchr/testify/require"
)

func rec(key string, pos uint64, action types.Action) types.ChangeRecord {
	return types.ChangeRecord{
		Key:    json.RawMessage(key),
		Marker: frontier.Marker{Pos: pos},
		Action: action,
	}
}

func TestUniqueByKeyLastWins(t *testing.T) {
	in := []types.ChangeRecord{
		rec(`[1]`, 1, types.ActionInsert),
		rec(`[1]`, 2, types.ActionUpdate),
		rec(`[2]`, 1, types.ActionInsert),
		rec(`[1]`, 3, types.ActionDelete),
	}
	out := msort.UniqueByKey(in)
	require.Len(t, out, 2)

	byKey := map[string]types.ChangeRecord{}
	for _, r := range out {
		byKey[string(r.Key)] = r
	}
	require.Equal(t, types.ActionDelete, byKey["[1]"].Action)
	require.Equal(t, types.ActionInsert, byKey["[2]"].Action)
}

func TestUniqueByKeyPanicsOnEmptyKey(t *testing.T) {
	require.Panics(t, func() {
		msort.UniqueByKey([]types.ChangeRecord{{}})
	})
}
