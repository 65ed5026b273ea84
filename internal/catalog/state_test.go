package catalog_test

import (
	"testing"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockKeyDeterministic(t *testing.T) {
	a := catalog.AdvisoryLockKey("11111111-1111-1111-1111-111111111111")
	b := catalog.AdvisoryLockKey("11111111-1111-1111-1111-111111111111")
	c := catalog.AdvisoryLockKey("22222222-2222-2222-2222-222222222222")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
