package celf

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
)

func sponsorCoverage() *coverageSpreader {
	return &coverageSpreader{items: map[int][]int{
		2: {1, 2, 3}, 3: {3, 4}, 4: {5}, 5: {6, 7}, 6: {8, 9, 10, 11},
	}}
}

func TestEnumerateFindsBestAssignment(t *testing.T) {
	pool := budget.NewPool(sponsorGraph(t), []int{0, 1})
	spreader := sponsorCoverage()
	selector, err := New(spreader, 1, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := selector.Enumerate(context.Background(), pool, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6}, result.Seeds)
	assert.Equal(t, 7.0, result.Spread)
	assert.Equal(t, map[int]int{6: 0, 2: 1}, result.Sponsors)

	// {6,y} for y in 2..5 plus every pair inside 2..5
	assert.Equal(t, 10, result.Evaluations)
	assert.Equal(t, 10, spreader.calls)
}

func TestEnumerateMatchesOrBeatsBudgetedCELF(t *testing.T) {
	pool := budget.NewPool(sponsorGraph(t), []int{0, 1})
	for k := 1; k <= 3; k++ {
		selector, err := New(sponsorCoverage(), 1, nil, zerolog.Nop())
		require.NoError(t, err)

		greedy, err := selector.SelectBudgeted(context.Background(), pool, budget.NewLedger(pool, k, rand.New(rand.NewSource(int64(k)))))
		require.NoError(t, err)
		best, err := selector.Enumerate(context.Background(), pool, k, 10_000)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, best.Spread, greedy.Spread, "k=%d", k)
		usage := map[int]int{}
		for _, sponsor := range best.Sponsors {
			usage[sponsor]++
		}
		for p, n := range usage {
			assert.LessOrEqual(t, n, k, "participant %d", p)
		}
	}
}

func TestEnumerateLimit(t *testing.T) {
	pool := budget.NewPool(sponsorGraph(t), []int{0, 1})
	spreader := sponsorCoverage()
	selector, err := New(spreader, 1, nil, zerolog.Nop())
	require.NoError(t, err)

	// 5 choices for participant 0 times 4 for participant 1
	_, err = selector.Enumerate(context.Background(), pool, 1, 19)
	assert.ErrorIs(t, err, ErrSearchTooLarge)
	assert.Zero(t, spreader.calls)

	_, err = selector.Enumerate(context.Background(), pool, 1, 20)
	assert.NoError(t, err)
}

func TestEnumerateEmpty(t *testing.T) {
	selector, err := New(sponsorCoverage(), 1, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := selector.Enumerate(context.Background(), budget.NewPool(sponsorGraph(t), []int{0, 1}), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Seeds)

	result, err = selector.Enumerate(context.Background(), budget.NewPool(sponsorGraph(t), []int{6}), 2, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Seeds)
}

func TestEnumerateCancelled(t *testing.T) {
	selector, err := New(sponsorCoverage(), 1, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = selector.Enumerate(ctx, budget.NewPool(sponsorGraph(t), []int{0, 1}), 1, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssignmentBound(t *testing.T) {
	assert.Equal(t, 6, assignmentBound([][]int{{1, 2, 3, 4}}, 2, 100))
	assert.Equal(t, 1, assignmentBound([][]int{{1, 2}, {}}, 3, 100))
	assert.Greater(t, assignmentBound([][]int{make([]int, 200), make([]int, 200)}, 100, 1000), 1000)
}
