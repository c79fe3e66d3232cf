package heuristic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// fanGraph: participants 0 and 1. Candidate 2 has out-degree 3, candidate 3
// out-degree 1, candidate 4 none. 3 and 4 share in-neighbours 0 and 1, and 3
// is also pointed to by 7. Most arcs end in 9.
func fanGraph(t *testing.T) *models.Graph {
	t.Helper()
	g := models.NewGraph(10)
	edges := [][2]int{
		{0, 2}, {0, 3}, {0, 4}, {0, 1},
		{1, 3}, {1, 4},
		{2, 5}, {2, 6}, {2, 9},
		{3, 9},
		{5, 9}, {6, 9}, {7, 9}, {7, 3}, {8, 9},
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1], 1))
	}
	return g
}

func TestDegree(t *testing.T) {
	g := fanGraph(t)

	assert.Equal(t, []int{2, 3}, Degree(g, []int{0, 1}, 1))
	assert.Equal(t, []int{2, 3, 4}, Degree(g, []int{0, 1}, 2))
	assert.Empty(t, Degree(g, []int{0, 1}, 0))
	assert.Empty(t, Degree(g, []int{9}, 3))
}

func TestPageRankScores(t *testing.T) {
	g := fanGraph(t)
	ranker := NewPageRanker(g, DefaultDamping, 1e-9)

	for v := 0; v < g.NumNodes; v++ {
		if v != 9 {
			assert.Greater(t, ranker.Score(9), ranker.Score(v), "node %d", v)
		}
	}
	assert.Greater(t, ranker.Score(3), ranker.Score(4))
	assert.Zero(t, ranker.Score(-1))
	assert.Zero(t, ranker.Score(100))
}

func TestPageRankSelect(t *testing.T) {
	g := fanGraph(t)

	seeds := PageRank(g, []int{1}, 1)
	assert.Equal(t, []int{3}, seeds)
}

func TestPageRankEmptyGraph(t *testing.T) {
	ranker := NewPageRanker(models.NewGraph(0), DefaultDamping, DefaultTolerance)
	assert.Zero(t, ranker.Score(0))
}
