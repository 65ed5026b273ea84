package sqlast_test

import (
	"testing"

	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/stretchr/testify/require"
)

func TestFindTopLevelKeywordSkipsComments(t *testing.T) {
	sql := "SELECT 1 -- FROM nowhere\nFROM orders"
	idx := sqlast.FindTopLevelKeyword(sql, "FROM")
	require.Equal(t, len("SELECT 1 -- FROM nowhere\n"), idx)
}

func TestFindTopLevelKeywordSkipsBlockComments(t *testing.T) {
	sql := "SELECT 1 /* FROM fake */ FROM orders"
	idx := sqlast.FindTopLevelKeyword(sql, "FROM")
	require.True(t, idx > len("SELECT 1 /* FROM fake */"))
}

func TestFindTopLevelKeywordSkipsParens(t *testing.T) {
	sql := "SELECT (SELECT 1 FROM inner_t) FROM outer_t"
	idx := sqlast.FindTopLevelKeyword(sql, "FROM")
	require.Equal(t, strIndexFromEnd(sql, "FROM outer_t"), idx)
}

func strIndexFromEnd(s, suffix string) int {
	return len(s) - len(suffix)
}

func TestFindTopLevelKeywordNotFound(t *testing.T) {
	require.Equal(t, -1, sqlast.FindTopLevelKeyword("SELECT 1", "FROM"))
}

func TestFindTopLevelKeywordNoFalsePrefixMatch(t *testing.T) {
	// "FROMAGE" must not match "FROM".
	sql := "SELECT FROMAGE FROM cheese"
	idx := sqlast.FindTopLevelKeyword(sql, "FROM")
	require.Equal(t, len("SELECT FROMAGE "), idx)
}

func TestStripTrailingTerminator(t *testing.T) {
	require.Equal(t, "SELECT 1", sqlast.StripTrailingTerminator("SELECT 1;\n"))
	require.Equal(t, "SELECT 1", sqlast.StripTrailingTerminator("SELECT 1"))
}
