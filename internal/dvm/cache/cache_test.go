package cache_test

import (
	"testing"

	"github.com/cockroachdb/stream-tables/internal/dvm"
	"github.com/cockroachdb/stream-tables/internal/dvm/cache"
	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/util/stmtcache"
	"github.com/stretchr/testify/require"
)

func TestCachedHitsOnSecondCall(t *testing.T) {
	scan := &operator.Scan{
		PrimaryKey: []string{"id"},
		Cols:       []operator.Column{{Name: "id", Expr: sqlast.ColumnRef{Column: "id"}}},
	}
	sc := stmtcache.New()
	builder := dvm.New(map[string]dvm.SourceDelta{scan.Source.Raw(): {CTEName: "delta_x"}})

	first, err := cache.Cached(sc, "st1", scan, builder)
	require.NoError(t, err)
	require.Equal(t, 1, sc.Len())

	second, err := cache.Cached(sc, "st1", scan, builder)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, sc.Len())
}

func TestFingerprintStableAcrossRebuilds(t *testing.T) {
	a := &operator.Scan{Cols: []operator.Column{{Name: "id"}}}
	b := &operator.Scan{Cols: []operator.Column{{Name: "id"}}}
	require.Equal(t, cache.Fingerprint(a), cache.Fingerprint(b))
}
