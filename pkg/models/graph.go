package models

import (
	"fmt"
	"strings"
)

// DiffusionModel selects how activations propagate along edges.
type DiffusionModel int

const (
	// ModelNone means no model has been assigned yet.
	ModelNone DiffusionModel = iota
	// ModelInstant is the Independent Cascade model: an activated node gets
	// exactly one chance, in the next round, to activate each out-neighbour.
	ModelInstant
	// ModelDelayed is the meeting-time cascade (IC-M): an edge must first
	// "meet" (geometric wait with rate m) before its activation trial, and
	// nothing propagates past the horizon.
	ModelDelayed
)

func (m DiffusionModel) String() string {
	switch m {
	case ModelInstant:
		return "ic"
	case ModelDelayed:
		return "icm"
	default:
		return "none"
	}
}

// ParseDiffusionModel maps a config/CLI name onto a DiffusionModel.
func ParseDiffusionModel(name string) (DiffusionModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ic", "instant":
		return ModelInstant, nil
	case "icm", "ic-m", "ic_m", "delayed":
		return ModelDelayed, nil
	default:
		return ModelNone, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

// Edge is one directed arc. In Graph.Out, To is the head; in Graph.In the
// same struct is stored with To set to the tail.
type Edge struct {
	To int     `json:"to"`
	P  float64 `json:"p"` // activation probability
	M  float64 `json:"m"` // meeting rate, delayed model only
}

// Graph is a weighted directed graph with forward and transposed adjacency.
//
// In is only valid after a diffusion model has been assigned; it is rebuilt
// by SetDiffusionModel and SetUniformProbability so both directions always
// carry the same probabilities.
type Graph struct {
	NumNodes  int      `json:"num_nodes"`
	NumEdges  int      `json:"num_edges"`
	Out       [][]Edge `json:"-"`
	In        [][]Edge `json:"-"`
	InDegree  []int    `json:"-"`
	OutDegree []int    `json:"-"`

	Model   DiffusionModel `json:"model"`
	Horizon int            `json:"horizon"`
}

// NewGraph creates a graph with n isolated nodes.
func NewGraph(numNodes int) *Graph {
	if numNodes < 0 {
		numNodes = 0
	}
	return &Graph{
		NumNodes:  numNodes,
		Out:       make([][]Edge, numNodes),
		InDegree:  make([]int, numNodes),
		OutDegree: make([]int, numNodes),
	}
}

// EnsureNode grows the node range so that node is a valid index.
func (g *Graph) EnsureNode(node int) error {
	if node < 0 {
		return fmt.Errorf("%w: %d", ErrNodeOutOfRange, node)
	}
	for g.NumNodes <= node {
		g.Out = append(g.Out, nil)
		g.InDegree = append(g.InDegree, 0)
		g.OutDegree = append(g.OutDegree, 0)
		g.NumNodes++
	}
	return nil
}

// AddEdge adds the arc u -> v. The node range grows as needed. The weight is
// used as the initial probability and meeting rate until a model is assigned.
// Any previously assigned model is cleared.
func (g *Graph) AddEdge(u, v int, weight float64) error {
	if err := g.EnsureNode(u); err != nil {
		return err
	}
	if err := g.EnsureNode(v); err != nil {
		return err
	}
	if weight < 0 || weight > 1 {
		return fmt.Errorf("%w: edge %d->%d weight %f", ErrInvalidProbability, u, v, weight)
	}

	g.Out[u] = append(g.Out[u], Edge{To: v, P: weight, M: weight})
	g.OutDegree[u]++
	g.InDegree[v]++
	g.NumEdges++

	g.Model = ModelNone
	g.In = nil
	return nil
}

// SetDiffusionModel derives per-edge parameters for the given model.
//
// Instant: p(u,v) = 1/deg_in(v).
// Delayed: p(u,v) = 1/deg_in(v), m(u,v) = 5/(5+deg_out(u)), horizon stored.
//
// Returns the mean meeting rate over all edges (0 for the instant model).
func (g *Graph) SetDiffusionModel(model DiffusionModel, horizon int) (float64, error) {
	switch model {
	case ModelInstant:
	case ModelDelayed:
		if horizon <= 0 {
			return 0, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizon)
		}
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownModel, model)
	}

	sumM := 0.0
	for u := 0; u < g.NumNodes; u++ {
		for j := range g.Out[u] {
			e := &g.Out[u][j]
			e.P = 1.0 / float64(g.InDegree[e.To])
			if model == ModelDelayed {
				e.M = 5.0 / (5.0 + float64(g.OutDegree[u]))
				sumM += e.M
			}
		}
	}

	g.Model = model
	g.Horizon = 0
	if model == ModelDelayed {
		g.Horizon = horizon
	}
	g.rebuildTranspose()

	if model == ModelDelayed && g.NumEdges > 0 {
		return sumM / float64(g.NumEdges), nil
	}
	return 0, nil
}

// SetUniformProbability overrides every activation probability with p. The
// current model must already be assigned.
func (g *Graph) SetUniformProbability(p float64) error {
	if g.Model == ModelNone {
		return ErrNoModel
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidProbability, p)
	}
	for u := 0; u < g.NumNodes; u++ {
		for j := range g.Out[u] {
			g.Out[u][j].P = p
		}
	}
	g.rebuildTranspose()
	return nil
}

// rebuildTranspose recomputes In from Out.
func (g *Graph) rebuildTranspose() {
	in := make([][]Edge, g.NumNodes)
	for v := 0; v < g.NumNodes; v++ {
		in[v] = make([]Edge, 0, g.InDegree[v])
	}
	for u := 0; u < g.NumNodes; u++ {
		for _, e := range g.Out[u] {
			in[e.To] = append(in[e.To], Edge{To: u, P: e.P, M: e.M})
		}
	}
	g.In = in
}

// Neighbors returns the out-edges of node, or nil for an invalid index.
func (g *Graph) Neighbors(node int) []Edge {
	if node < 0 || node >= g.NumNodes {
		return nil
	}
	return g.Out[node]
}

// Adjacency returns the edge lists for the requested direction: reverse
// edges when backward is true.
func (g *Graph) Adjacency(backward bool) [][]Edge {
	if backward {
		return g.In
	}
	return g.Out
}

// Clone creates a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	clone := NewGraph(g.NumNodes)
	clone.NumEdges = g.NumEdges
	clone.Model = g.Model
	clone.Horizon = g.Horizon
	copy(clone.InDegree, g.InDegree)
	copy(clone.OutDegree, g.OutDegree)

	for i := 0; i < g.NumNodes; i++ {
		clone.Out[i] = make([]Edge, len(g.Out[i]))
		copy(clone.Out[i], g.Out[i])
	}
	if g.In != nil {
		clone.rebuildTranspose()
	}

	return clone
}

// Validate checks graph consistency.
func (g *Graph) Validate() error {
	if len(g.Out) != g.NumNodes || len(g.InDegree) != g.NumNodes || len(g.OutDegree) != g.NumNodes {
		return fmt.Errorf("adjacency arrays inconsistent with %d nodes", g.NumNodes)
	}

	edges := 0
	inDeg := make([]int, g.NumNodes)
	for u := 0; u < g.NumNodes; u++ {
		if len(g.Out[u]) != g.OutDegree[u] {
			return fmt.Errorf("out-degree mismatch for node %d", u)
		}
		for _, e := range g.Out[u] {
			if e.To < 0 || e.To >= g.NumNodes {
				return fmt.Errorf("%w: neighbor %d of node %d", ErrNodeOutOfRange, e.To, u)
			}
			if e.P < 0 || e.P > 1 || e.M < 0 || e.M > 1 {
				return fmt.Errorf("%w: edge %d->%d", ErrInvalidProbability, u, e.To)
			}
			inDeg[e.To]++
			edges++
		}
	}
	if edges != g.NumEdges {
		return fmt.Errorf("edge count mismatch: counted %d, recorded %d", edges, g.NumEdges)
	}
	for v, d := range inDeg {
		if d != g.InDegree[v] {
			return fmt.Errorf("in-degree mismatch for node %d", v)
		}
	}
	if g.Model == ModelDelayed && g.Horizon <= 0 {
		return ErrInvalidHorizon
	}

	return nil
}

// CheckModel reports a configuration error when the graph cannot be sampled.
func (g *Graph) CheckModel() error {
	switch g.Model {
	case ModelInstant:
		return nil
	case ModelDelayed:
		if g.Horizon <= 0 {
			return ErrInvalidHorizon
		}
		return nil
	default:
		return ErrNoModel
	}
}
