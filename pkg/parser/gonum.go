package parser

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// ToGonum converts g into a gonum directed graph with one node per index.
// Self loops are dropped and parallel arcs collapse into one.
func ToGonum(g *models.Graph) *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for u := 0; u < g.NumNodes; u++ {
		dg.AddNode(simple.Node(u))
	}
	for u := 0; u < g.NumNodes; u++ {
		for _, e := range g.Out[u] {
			if e.To == u {
				continue
			}
			dg.SetEdge(simple.Edge{F: simple.Node(u), T: simple.Node(e.To)})
		}
	}
	return dg
}

// FromGonum builds a graph with unit-weight arcs from a gonum directed
// graph. Node ids are used as indices and must be non-negative. Arcs are
// added in ascending (from, to) order.
func FromGonum(dg graph.Directed) (*models.Graph, error) {
	nodes := graph.NodesOf(dg.Nodes())
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g := models.NewGraph(0)
	for _, id := range ids {
		if err := g.EnsureNode(int(id)); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		succ := graph.NodesOf(dg.From(id))
		targets := make([]int64, len(succ))
		for i, n := range succ {
			targets[i] = n.ID()
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
		for _, to := range targets {
			if err := g.AddEdge(int(id), int(to), 1.0); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}
