package executor_test

import (
	"testing"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/executor"
	"github.com/stretchr/testify/require"
)

func TestSelectActionReinitializeWins(t *testing.T) {
	a := executor.SelectAction(executor.Inputs{
		Mode: catalog.ModeDifferential, HasChanges: false, ReinitFlagged: true,
	})
	require.Equal(t, executor.ActionReinitialize, a)
}

func TestSelectActionNoData(t *testing.T) {
	a := executor.SelectAction(executor.Inputs{
		Mode: catalog.ModeDifferential, HasChanges: false, ReinitFlagged: false,
	})
	require.Equal(t, executor.ActionNoData, a)
}

func TestSelectActionFullMode(t *testing.T) {
	a := executor.SelectAction(executor.Inputs{
		Mode: catalog.ModeFull, HasChanges: true, ChangeRatio: 0.01, AdaptiveThresh: 0.3,
	})
	require.Equal(t, executor.ActionFull, a)
}

func TestSelectActionFullByChangeRatio(t *testing.T) {
	a := executor.SelectAction(executor.Inputs{
		Mode: catalog.ModeDifferential, HasChanges: true, ChangeRatio: 0.5, AdaptiveThresh: 0.3,
	})
	require.Equal(t, executor.ActionFull, a)
}

func TestSelectActionDifferential(t *testing.T) {
	a := executor.SelectAction(executor.Inputs{
		Mode: catalog.ModeDifferential, HasChanges: true, ChangeRatio: 0.1, AdaptiveThresh: 0.3,
	})
	require.Equal(t, executor.ActionDifferential, a)
}
