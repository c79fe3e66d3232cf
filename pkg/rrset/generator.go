// Package rrset generates reverse-reachable (RR) samples and maintains the
// coverage index the greedy selectors work from.
//
// A sample is produced by Dijkstra over randomized edge weights: every time
// an edge is relaxed its cost is redrawn. A failed activation trial makes the
// edge impassable; a successful one costs 1 under the instant model, or
// 1 + Geometric(m) rounds under the delayed model. Nodes are finalized when
// popped with their best cost, and costs beyond the horizon are discarded.
package rrset

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// Direction selects which adjacency the traversal follows.
type Direction int

const (
	// Backward follows reversed edges and yields reverse-reachable sets.
	Backward Direction = iota
	// Forward follows edges as given and yields forward-influence sets.
	Forward
)

const unreached = -1

// Generator owns the scratch buffers for one IM computation. It is not safe
// for concurrent use; concurrent computations each need their own.
type Generator struct {
	graph   *models.Graph
	rng     *rand.Rand
	limit   int
	dist    []int
	visited []bool
	touched []int
	queue   frontier
}

// NewGenerator sizes scratch buffers to the graph. The graph must have a
// diffusion model assigned.
func NewGenerator(graph *models.Graph, rng *rand.Rand) (*Generator, error) {
	if err := graph.CheckModel(); err != nil {
		return nil, err
	}

	limit := math.MaxInt32
	if graph.Model == models.ModelDelayed {
		limit = graph.Horizon
	}

	dist := make([]int, graph.NumNodes)
	for i := range dist {
		dist[i] = unreached
	}

	return &Generator{
		graph:   graph,
		rng:     rng,
		limit:   limit,
		dist:    dist,
		visited: make([]bool, graph.NumNodes),
	}, nil
}

// Horizon returns the largest cost a node may have and still be included.
func (gen *Generator) Horizon() int {
	return gen.limit
}

// RandomSample draws a root uniformly at random and returns its RR set.
func (gen *Generator) RandomSample() []int {
	root := gen.rng.Intn(gen.graph.NumNodes)
	return gen.Generate([]int{root}, Backward)
}

// Generate returns the nodes reachable from roots under one random draw of
// edge outcomes, in finalization order. Roots are included at cost 0.
func (gen *Generator) Generate(roots []int, dir Direction) []int {
	sample, _ := gen.generate(roots, dir, false)
	return sample
}

// GenerateWithCost is Generate plus the finalized cost of every node, aligned
// with the returned sample.
func (gen *Generator) GenerateWithCost(roots []int, dir Direction) ([]int, []int) {
	return gen.generate(roots, dir, true)
}

func (gen *Generator) generate(roots []int, dir Direction, withCost bool) ([]int, []int) {
	defer gen.reset()

	edges := gen.graph.Adjacency(dir == Backward)
	sample := make([]int, 0, len(roots))
	var costs []int

	gen.queue = gen.queue[:0]
	for _, u := range roots {
		if u < 0 || u >= gen.graph.NumNodes || gen.dist[u] == 0 {
			continue
		}
		gen.touch(u, 0)
		heap.Push(&gen.queue, item{node: u, dist: 0})
	}

	for gen.queue.Len() > 0 {
		top := heap.Pop(&gen.queue).(item)
		u := top.node
		if gen.visited[u] {
			continue
		}
		gen.visited[u] = true
		sample = append(sample, u)
		if withCost {
			costs = append(costs, gen.dist[u])
		}

		for _, e := range edges[u] {
			if gen.visited[e.To] {
				continue
			}
			w, ok := gen.edgeCost(e)
			if !ok {
				continue
			}
			d := gen.dist[u] + w
			if d > gen.limit {
				continue
			}
			if gen.dist[e.To] == unreached || gen.dist[e.To] > d {
				gen.touch(e.To, d)
				heap.Push(&gen.queue, item{node: e.To, dist: d})
			}
		}
	}

	return sample, costs
}

// edgeCost draws the traversal cost of e. ok is false when the activation
// trial fails.
func (gen *Generator) edgeCost(e models.Edge) (int, bool) {
	if gen.rng.Float64() >= e.P {
		return 0, false
	}
	if gen.graph.Model != models.ModelDelayed {
		return 1, true
	}
	return Geometric(gen.rng, e.M) + 1, true
}

func (gen *Generator) touch(u, d int) {
	if gen.dist[u] == unreached {
		gen.touched = append(gen.touched, u)
	}
	gen.dist[u] = d
}

// reset restores scratch state for touched nodes only.
func (gen *Generator) reset() {
	for _, u := range gen.touched {
		gen.dist[u] = unreached
		gen.visited[u] = false
	}
	gen.touched = gen.touched[:0]
	gen.queue = gen.queue[:0]
}

// Geometric returns the number of failed Bernoulli(m) trials before the
// first success.
func Geometric(rng *rand.Rand, m float64) int {
	if m >= 1 {
		return 0
	}
	if m <= 0 {
		return math.MaxInt32
	}
	u := rng.Float64()
	k := math.Floor(math.Log1p(-u) / math.Log1p(-m))
	if k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(k)
}

type item struct {
	node int
	dist int
}

// frontier is a min-heap on dist.
type frontier []item

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].dist != f[j].dist {
		return f[i].dist < f[j].dist
	}
	return f[i].node < f[j].node
}
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(item)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}
