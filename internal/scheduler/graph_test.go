package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGraph(edges map[string][]string, streamTables []string) *Graph {
	g := &Graph{nodes: make(map[string]*Node), edges: edges}
	stSet := make(map[string]bool, len(streamTables))
	for _, name := range streamTables {
		stSet[name] = true
	}
	for src, consumers := range edges {
		if _, ok := g.nodes[src]; !ok {
			g.nodes[src] = &Node{Name: src, IsStreamTable: stSet[src]}
		}
		for _, c := range consumers {
			if _, ok := g.nodes[c]; !ok {
				g.nodes[c] = &Node{Name: c, IsStreamTable: stSet[c]}
			}
		}
	}
	for _, name := range streamTables {
		if _, ok := g.nodes[name]; !ok {
			g.nodes[name] = &Node{Name: name, IsStreamTable: true}
		}
	}
	return g
}

func TestCheckAcyclicDetectsCycle(t *testing.T) {
	g := newTestGraph(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}, []string{"a", "b", "c"})
	require.ErrorIs(t, g.checkAcyclic(), ErrCycle)
}

func TestCheckAcyclicAcceptsDAG(t *testing.T) {
	g := newTestGraph(map[string][]string{
		"base": {"st1", "st2"},
		"st1":  {"st3"},
		"st2":  {"st3"},
	}, []string{"st1", "st2", "st3"})
	require.NoError(t, g.checkAcyclic())
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	g := newTestGraph(map[string][]string{
		"base": {"st1"},
		"st1":  {"st2"},
	}, []string{"st1", "st2"})
	order := g.TopoOrder()
	require.Len(t, order, 2)
	require.Equal(t, "st1", order[0].Name)
	require.Equal(t, "st2", order[1].Name)
}

func TestLayersGroupsIndependentBranches(t *testing.T) {
	g := newTestGraph(map[string][]string{
		"base": {"st1", "st2"},
		"st1":  {"st3"},
		"st2":  {"st3"},
	}, []string{"st1", "st2", "st3"})
	layers := g.Layers()
	require.Len(t, layers, 2)
	require.ElementsMatch(t, []string{"st1", "st2"}, []string{layers[0][0].Name, layers[0][1].Name})
	require.Equal(t, "st3", layers[1][0].Name)
}

func TestConsumers(t *testing.T) {
	g := newTestGraph(map[string][]string{"base": {"st1", "st2"}}, []string{"st1", "st2"})
	consumers := g.Consumers("base")
	require.Len(t, consumers, 2)
}
