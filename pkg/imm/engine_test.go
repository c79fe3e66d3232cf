package imm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/rrset"
)

func testConfig(seed int64) *Config {
	config := NewConfig()
	config.Set("algorithm.random_seed", seed)
	config.Set("logging.level", "disabled")
	config.Set("logging.enable_progress", false)
	config.Set("performance.num_workers", 2)
	return config
}

// hubGraph: participant 0 reaches candidates 1..10, and candidate 1 reaches
// 11..60 with certainty. Every RR set rooted at 1 or beyond 10 contains 1.
func hubGraph(t *testing.T) *models.Graph {
	t.Helper()
	g := models.NewGraph(61)
	for v := 1; v <= 10; v++ {
		require.NoError(t, g.AddEdge(0, v, 1.0))
	}
	for v := 11; v <= 60; v++ {
		require.NoError(t, g.AddEdge(1, v, 1.0))
	}
	_, err := g.SetDiffusionModel(models.ModelInstant, 0)
	require.NoError(t, err)
	require.NoError(t, g.SetUniformProbability(1.0))
	return g
}

func randomGraph(t *testing.T, n, m int, seed int64, model models.DiffusionModel) *models.Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	g := models.NewGraph(n)
	for i := 0; i < m; i++ {
		u, v := rng.Intn(n), rng.Intn(n)
		if u == v {
			continue
		}
		require.NoError(t, g.AddEdge(u, v, 1.0))
	}
	_, err := g.SetDiffusionModel(model, 5)
	require.NoError(t, err)
	return g
}

func newEngine(t *testing.T, g *models.Graph, config *Config) *Engine {
	t.Helper()
	engine, err := NewEngine(g, config)
	require.NoError(t, err)
	return engine
}

func TestNewEngineRequiresModel(t *testing.T) {
	g := models.NewGraph(3)
	require.NoError(t, g.AddEdge(0, 1, 0.5))

	_, err := NewEngine(g, testConfig(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoModel))
}

func TestInvalidParameters(t *testing.T) {
	engine := newEngine(t, hubGraph(t), testConfig(1))

	tests := []struct {
		name string
		k    int
		eps  float64
		ell  float64
	}{
		{"negative budget", -1, 0.5, 1},
		{"zero epsilon", 1, 0, 1},
		{"epsilon of one", 1, 1, 1},
		{"nan epsilon", 1, math.NaN(), 1},
		{"zero ell", 1, 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.ComputeSeeds([]int{0}, tt.k, tt.eps, tt.ell)
			assert.ErrorIs(t, err, ErrInvalidParameter)

			_, err = engine.ComputeSeedsBudgeted([]int{0}, tt.k, tt.eps, tt.ell)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestEmptyPool(t *testing.T) {
	engine := newEngine(t, hubGraph(t), testConfig(1))

	// node 60 has no out-neighbours
	result, err := engine.ComputeSeeds([]int{60}, 3, 0.5, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Seeds)
	assert.Zero(t, result.Coverage)
	assert.True(t, result.Trivial)

	result, err = engine.ComputeSeedsBudgeted([]int{60}, 3, 0.5, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Seeds)
	assert.Zero(t, result.Coverage)
}

func TestBudgetCoversPoolSkipsSampling(t *testing.T) {
	engine := newEngine(t, hubGraph(t), testConfig(1))

	result, err := engine.ComputeSeeds([]int{0}, 10, 0.5, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, result.Seeds)
	assert.Equal(t, 1.0, result.Coverage)
	assert.True(t, result.Trivial)
	assert.Zero(t, engine.Collection().Size())

	result, err = engine.ComputeSeedsBudgeted([]int{0}, 12, 0.5, 1)
	require.NoError(t, err)
	assert.Len(t, result.Seeds, 10)
	assert.Equal(t, 1.0, result.Coverage)
	assert.Zero(t, engine.Collection().Size())
	for _, sponsor := range result.Sponsors {
		assert.Equal(t, 0, sponsor)
	}
}

func TestTrivialRunsClearCollection(t *testing.T) {
	engine := newEngine(t, hubGraph(t), testConfig(4))

	sampled := func() {
		_, err := engine.ComputeSeeds([]int{0}, 1, 0.5, 1)
		require.NoError(t, err)
		require.NotZero(t, engine.Collection().Size())
	}

	sampled()
	_, err := engine.ComputeSeeds([]int{0}, 10, 0.5, 1)
	require.NoError(t, err)
	assert.Zero(t, engine.Collection().Size())

	sampled()
	_, err = engine.ComputeSeeds([]int{0}, 0, 0.5, 1)
	require.NoError(t, err)
	assert.Zero(t, engine.Collection().Size())

	sampled()
	_, err = engine.ComputeSeedsBudgeted([]int{60}, 3, 0.5, 1)
	require.NoError(t, err)
	assert.Zero(t, engine.Collection().Size())

	sampled()
	_, err = engine.ComputeSeedsBudgeted([]int{0}, 12, 0.5, 1)
	require.NoError(t, err)
	assert.Zero(t, engine.Collection().Size())
}

func TestComputeSeedsPicksHub(t *testing.T) {
	engine := newEngine(t, hubGraph(t), testConfig(7))

	result, err := engine.ComputeSeeds([]int{0}, 1, 0.5, 1)
	require.NoError(t, err)
	require.Equal(t, []int{1}, result.Seeds)
	assert.False(t, result.Trivial)
	assert.Equal(t, engine.Collection().Size(), result.Samples)
	assert.InDelta(t, 51.0/61.0, result.Coverage, 0.1)
	assert.NoError(t, engine.Collection().Verify())
}

func TestSampleCapIsRespected(t *testing.T) {
	config := testConfig(3)
	config.Set("algorithm.max_samples", 50)
	engine := newEngine(t, hubGraph(t), config)

	result, err := engine.ComputeSeeds([]int{0}, 1, 0.5, 1)
	require.NoError(t, err)
	assert.True(t, result.Capped)
	assert.LessOrEqual(t, result.Samples, 50)
	assert.Equal(t, []int{1}, result.Seeds)
}

func TestCoverageMonotoneInBudget(t *testing.T) {
	g := randomGraph(t, 200, 1000, 11, models.ModelInstant)
	gen, err := rrset.NewGenerator(g, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	coll := rrset.NewCollection(g.NumNodes)
	coll.Grow(gen, 2000, nil)

	candidates := budget.NewPool(g, []int{0, 1, 2, 3, 4}).Candidates()
	require.NotEmpty(t, candidates)

	selector := NewSelector(g.NumNodes)
	prev := 0.0
	for k := 1; k <= len(candidates); k++ {
		sel := selector.Select(coll, candidates, k)
		assert.LessOrEqual(t, len(sel.Seeds), k)
		assert.GreaterOrEqual(t, sel.Coverage, prev, "k=%d", k)
		prev = sel.Coverage
	}
	assert.Empty(t, selector.Select(coll, candidates, 0).Seeds)
}

func TestSelectorAgreesWithExhaustiveGains(t *testing.T) {
	g := randomGraph(t, 80, 300, 21, models.ModelDelayed)
	gen, err := rrset.NewGenerator(g, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	coll := rrset.NewCollection(g.NumNodes)
	coll.Grow(gen, 500, nil)

	candidates := make([]int, g.NumNodes)
	for i := range candidates {
		candidates[i] = i
	}
	sel := NewSelector(g.NumNodes).Select(coll, candidates, 5)

	// replay the picks with full recomputation of marginal gains
	covered := make([]bool, coll.Size())
	total := 0
	for _, seed := range sel.Seeds {
		best := -1
		gains := make([]int, g.NumNodes)
		for v := 0; v < g.NumNodes; v++ {
			for _, idx := range coll.Coverage(v) {
				if !covered[idx] {
					gains[v]++
				}
			}
			if best < 0 || gains[v] > gains[best] {
				best = v
			}
		}
		assert.Equal(t, gains[best], gains[seed], "seed %d is not a maximum-gain pick", seed)
		total += gains[seed]
		for _, idx := range coll.Coverage(seed) {
			covered[idx] = true
		}
	}
	assert.Equal(t, total, sel.Covered)
}

func TestBudgetedRespectsPerSourceCapacity(t *testing.T) {
	g := randomGraph(t, 300, 1500, 13, models.ModelInstant)
	participants := []int{0, 1, 2, 3, 4, 5}
	pool := budget.NewPool(g, participants)
	require.Greater(t, pool.Size(), 12)

	engine := newEngine(t, g, testConfig(17))
	result, err := engine.ComputeSeedsBudgeted(participants, 2, 0.5, 1)
	require.NoError(t, err)

	assert.False(t, result.Trivial)
	assert.LessOrEqual(t, len(result.Seeds), 12)
	assert.Len(t, result.Sponsors, len(result.Seeds))

	usage := make(map[int]int)
	for _, seed := range result.Seeds {
		sponsor, ok := result.Sponsors[seed]
		require.True(t, ok, "seed %d has no sponsor", seed)
		assert.Contains(t, pool.Sources(seed), sponsor)
		usage[sponsor]++
	}
	for p, used := range usage {
		assert.LessOrEqual(t, used, 2, "participant %d", p)
	}
}

func TestBudgetedIsReproducible(t *testing.T) {
	g := randomGraph(t, 150, 700, 19, models.ModelDelayed)
	participants := []int{3, 7, 11}

	first, err := newEngine(t, g, testConfig(23)).ComputeSeedsBudgeted(participants, 1, 0.5, 1)
	require.NoError(t, err)
	second, err := newEngine(t, g, testConfig(23)).ComputeSeedsBudgeted(participants, 1, 0.5, 1)
	require.NoError(t, err)

	assert.Equal(t, first.Seeds, second.Seeds)
	assert.Equal(t, first.Sponsors, second.Sponsors)
	assert.Equal(t, first.Samples, second.Samples)
}

type countingObserver struct {
	mu         sync.Mutex
	samples    int
	epochs     int
	selections int
}

func (o *countingObserver) SampleGenerated(int) {
	o.mu.Lock()
	o.samples++
	o.mu.Unlock()
}

func (o *countingObserver) EpochCompleted(int, int, float64) {
	o.mu.Lock()
	o.epochs++
	o.mu.Unlock()
}

func (o *countingObserver) SelectionCompleted(int, float64) {
	o.mu.Lock()
	o.selections++
	o.mu.Unlock()
}

func TestObserverSeesEverySample(t *testing.T) {
	observer := &countingObserver{}
	engine := newEngine(t, hubGraph(t), testConfig(29)).WithObserver(observer)

	result, err := engine.ComputeSeeds([]int{0}, 2, 0.5, 1)
	require.NoError(t, err)
	assert.Equal(t, result.Statistics.SamplesGenerated, observer.samples)
	assert.Equal(t, result.Statistics.Epochs, observer.epochs)
	assert.Equal(t, 1, observer.selections)
}

func TestComputeSeedsPerParticipant(t *testing.T) {
	g := randomGraph(t, 200, 1000, 31, models.ModelInstant)
	participants := []int{0, 1, 2, 3}
	pool := budget.NewPool(g, participants)

	result, err := ComputeSeedsPerParticipant(context.Background(), g, testConfig(37), participants, 1, nil)
	require.NoError(t, err)

	assert.True(t, sort.IntsAreSorted(result.Seeds))
	assert.LessOrEqual(t, len(result.Seeds), len(participants))
	for _, seed := range result.Seeds {
		assert.Contains(t, pool.Candidates(), seed)
	}

	again, err := ComputeSeedsPerParticipant(context.Background(), g, testConfig(37), participants, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, result.Seeds, again.Seeds)
}

func TestComputeSeedsPerParticipantHub(t *testing.T) {
	result, err := ComputeSeedsPerParticipant(context.Background(), hubGraph(t), testConfig(41), []int{0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, result.Seeds)
}

func TestComputeSeedsPerParticipantCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ComputeSeedsPerParticipant(ctx, hubGraph(t), testConfig(43), []int{0}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
