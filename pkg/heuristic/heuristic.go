// Package heuristic holds the degree and PageRank baselines: every
// participant independently picks its k highest-scoring candidates, and the
// baseline returns the union of the picks.
package heuristic

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"gonum.org/v1/gonum/graph/network"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/parser"
)

const (
	// DefaultDamping is the PageRank damping factor (teleport probability 0.2).
	DefaultDamping = 0.8
	// DefaultTolerance is the PageRank convergence tolerance.
	DefaultTolerance = 1e-9
)

// Score ranks a node; higher is better.
type Score func(node int) float64

// TopK lets every participant of pool pick its k best candidates by score,
// ties to the smaller id, and returns the sorted union.
func TopK(pool *budget.Pool, k int, score Score) []int {
	if k <= 0 {
		return []int{}
	}
	union := mapset.NewThreadUnsafeSet[int]()
	for _, u := range pool.Participants() {
		ranked := pool.CandidatesOf(u)
		sort.SliceStable(ranked, func(i, j int) bool {
			return score(ranked[i]) > score(ranked[j])
		})
		if len(ranked) > k {
			ranked = ranked[:k]
		}
		union.Append(ranked...)
	}

	seeds := union.ToSlice()
	sort.Ints(seeds)
	return seeds
}

// Degree picks candidates by out-degree.
func Degree(g *models.Graph, participants []int, k int) []int {
	return TopK(budget.NewPool(g, participants), k, func(v int) float64 {
		return float64(g.OutDegree[v])
	})
}

// PageRanker caches PageRank scores of one graph.
type PageRanker struct {
	scores []float64
}

// NewPageRanker computes PageRank over g with the given damping factor and
// tolerance.
func NewPageRanker(g *models.Graph, damping, tolerance float64) *PageRanker {
	scores := make([]float64, g.NumNodes)
	if g.NumNodes == 0 {
		return &PageRanker{scores: scores}
	}
	ranks := network.PageRankSparse(parser.ToGonum(g), damping, tolerance)
	for id, rank := range ranks {
		scores[id] = rank
	}
	return &PageRanker{scores: scores}
}

// Score returns the PageRank of node, 0 for an invalid index.
func (p *PageRanker) Score(node int) float64 {
	if node < 0 || node >= len(p.scores) {
		return 0
	}
	return p.scores[node]
}

// Select picks candidates by PageRank.
func (p *PageRanker) Select(g *models.Graph, participants []int, k int) []int {
	return TopK(budget.NewPool(g, participants), k, p.Score)
}

// PageRank computes PageRank with the default parameters and picks
// candidates by it.
func PageRank(g *models.Graph, participants []int, k int) []int {
	return NewPageRanker(g, DefaultDamping, DefaultTolerance).Select(g, participants, k)
}
