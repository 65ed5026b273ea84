// Package scheduler maintains the dependency graph of stream tables
// and their sources, resolves refresh cadences, and drives the refresh
// executor on a wake cycle (spec.md §4.4). It is grounded on the
// teacher's internal/source/logical provider/dispatch idiom — a
// catalog-driven, counter-invalidated background loop — generalized
// from "dispatch change events to a sink" to "topologically dispatch
// refresh tasks across a DAG of stream tables."
package scheduler

import (
	"context"
	"sort"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/pkg/errors"
)

// Node is one entry in the dependency graph: either a base relation
// (IsStreamTable false, no outgoing refresh of its own) or a stream
// table (spec.md §4.4, Graph model).
type Node struct {
	Name           string // ident.Table.Raw(), stable across rebuilds
	IsStreamTable  bool
	StreamTable    catalog.StreamTable
	TargetCadence  string
	EffectiveCadence string
}

// Graph is the DAG the scheduler computes a refresh order from: nodes
// are base relations and stream tables, edges run from source to
// consumer.
type Graph struct {
	nodes map[string]*Node
	edges map[string][]string // source name -> consumer names
}

// ErrCycle is returned by Build when the stream tables recorded in the
// catalog form a dependency cycle. Build reads the catalog as already
// persisted, so a cycle is reported at the next graph rebuild; it does
// not stop the creation that introduced the cycle.
var ErrCycle = errors.New("scheduler: dependency graph contains a cycle")

// Build constructs a Graph from every stream table in cat, one scan per
// rebuild (spec.md §4.4: "The graph is built from catalog scans").
func Build(ctx context.Context, cat *catalog.Catalog) (*Graph, error) {
	streamTables, err := cat.All(ctx)
	if err != nil {
		return nil, err
	}

	g := &Graph{nodes: make(map[string]*Node), edges: make(map[string][]string)}
	for _, st := range streamTables {
		g.nodes[st.Storage.Raw()] = &Node{
			Name: st.Storage.Raw(), IsStreamTable: true, StreamTable: st, TargetCadence: st.Cadence,
		}
	}
	for _, st := range streamTables {
		deps, err := cat.Dependencies(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		for _, src := range deps {
			if _, ok := g.nodes[src.Raw()]; !ok {
				g.nodes[src.Raw()] = &Node{Name: src.Raw()}
			}
			g.edges[src.Raw()] = append(g.edges[src.Raw()], st.Storage.Raw())
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm: repeatedly remove nodes with
// in-degree zero; if any node remains afterward, the graph has a cycle
// (spec.md §4.4, Cycle detection).
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = 0
	}
	for _, consumers := range g.edges {
		for _, c := range consumers {
			inDegree[c]++
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue) // deterministic processing order for reproducible error messages

	processed := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		processed++
		next := append([]string(nil), g.edges[n]...)
		sort.Strings(next)
		for _, c := range next {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if processed != len(g.nodes) {
		return ErrCycle
	}
	return nil
}

// TopoOrder returns every stream-table node in upstream-before-
// downstream order, the order the control loop dispatches refresh
// tasks in (spec.md §4.4, Control loop step 3).
func (g *Graph) TopoOrder() []*Node {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = 0
	}
	for _, consumers := range g.edges {
		for _, c := range consumers {
			inDegree[c]++
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []*Node
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if node := g.nodes[n]; node != nil && node.IsStreamTable {
			order = append(order, node)
		}
		next := append([]string(nil), g.edges[n]...)
		sort.Strings(next)
		for _, c := range next {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	return order
}

// Layers groups stream-table nodes into topological layers: every node
// in layer i depends only on nodes in layers < i, so all of layer i can
// refresh concurrently once every earlier layer has completed (spec.md
// §5, "sequential pipeline per DAG layer, with optional bounded
// parallelism across independent branches").
func (g *Graph) Layers() [][]*Node {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = 0
	}
	for _, consumers := range g.edges {
		for _, c := range consumers {
			inDegree[c]++
		}
	}

	var layers [][]*Node
	remaining := len(g.nodes)
	for remaining > 0 {
		var frontier []string
		for name, deg := range inDegree {
			if deg == 0 {
				frontier = append(frontier, name)
			}
		}
		if len(frontier) == 0 {
			break // a cycle slipped past Build's check; stop rather than loop forever
		}
		sort.Strings(frontier)

		var layer []*Node
		for _, name := range frontier {
			if node := g.nodes[name]; node != nil && node.IsStreamTable {
				layer = append(layer, node)
			}
			delete(inDegree, name)
			remaining--
		}
		next := append([]string(nil), g.edges[frontier[0]]...)
		for _, name := range frontier[1:] {
			next = append(next, g.edges[name]...)
		}
		for _, c := range next {
			if _, ok := inDegree[c]; ok {
				inDegree[c]--
			}
		}
		if len(layer) > 0 {
			layers = append(layers, layer)
		}
	}
	return layers
}

// Consumers returns the stream-table nodes directly depending on
// source, the input to DOWNSTREAM cadence resolution.
func (g *Graph) Consumers(source string) []*Node {
	var out []*Node
	for _, name := range g.edges[source] {
		if node := g.nodes[name]; node != nil {
			out = append(out, node)
		}
	}
	return out
}

// Nodes returns every node, keyed by stable name.
func (g *Graph) Nodes() map[string]*Node { return g.nodes }
