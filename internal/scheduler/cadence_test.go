package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapCadenceGeometricSequence(t *testing.T) {
	require.Equal(t, 48*time.Second, SnapCadence(10*time.Second))
	require.Equal(t, 48*time.Second, SnapCadence(48*time.Second))
	require.Equal(t, 96*time.Second, SnapCadence(49*time.Second))
	require.Equal(t, 192*time.Second, SnapCadence(150*time.Second))
}

func TestIsCron(t *testing.T) {
	require.True(t, IsCron("*/5 * * * *"))
	require.False(t, IsCron("96s"))
	require.False(t, IsCron("DOWNSTREAM"))
}

func TestResolveDownstreamInheritsMinimumAcrossConsumers(t *testing.T) {
	// mid sits between base and two consumers with different cadences;
	// mid's own DOWNSTREAM cadence must take the minimum of the two.
	g := newTestGraph(map[string][]string{
		"base": {"mid"},
		"mid":  {"fast", "slow"},
	}, []string{"mid", "fast", "slow"})
	g.nodes["fast"].TargetCadence = "60s"
	g.nodes["slow"].TargetCadence = "300s"
	g.nodes["mid"].TargetCadence = downstreamCadence

	require.NoError(t, ResolveDownstream(g, 10*time.Second))

	mid, err := time.ParseDuration(g.nodes["mid"].EffectiveCadence)
	require.NoError(t, err)
	require.Equal(t, SnapCadence(60*time.Second), mid)
}

func TestResolveDownstreamNoConsumersFallsBackToFloor(t *testing.T) {
	g := newTestGraph(map[string][]string{"base": {"leaf"}}, []string{"leaf"})
	g.nodes["leaf"].TargetCadence = downstreamCadence

	require.NoError(t, ResolveDownstream(g, 77*time.Second))
	leaf, err := time.ParseDuration(g.nodes["leaf"].EffectiveCadence)
	require.NoError(t, err)
	require.Equal(t, 77*time.Second, leaf)
}
