// Package imm selects seed sets with the IMM sampling framework: grow a
// collection of reverse-reachable samples until it statistically supports a
// (1-1/e-eps)-approximate greedy solution, then run lazy-greedy maximum
// coverage over it. A budgeted variant caps how many seeds each active
// participant may sponsor.
package imm

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/rrset"
)

// ErrInvalidParameter is returned for out-of-range eps, ell or budgets.
var ErrInvalidParameter = errors.New("imm: invalid parameter")

// Result represents the engine output
type Result struct {
	RunID      string      `json:"run_id"`
	Seeds      []int       `json:"seeds"`
	Coverage   float64     `json:"coverage"`
	Samples    int         `json:"samples"`
	LowerBound float64     `json:"lower_bound"`
	Capped     bool        `json:"capped"`
	Trivial    bool        `json:"trivial"`
	Sponsors   map[int]int `json:"sponsors,omitempty"`
	Statistics Statistics  `json:"statistics"`
}

// Statistics contains engine performance metrics
type Statistics struct {
	Epochs           int   `json:"epochs"`
	SamplesGenerated int   `json:"samples_generated"`
	RuntimeMS        int64 `json:"runtime_ms"`
	MemoryPeakMB     int64 `json:"memory_peak_mb"`
}

// Engine owns every piece of mutable state for one IM computation: the RNG,
// the RR generator's scratch buffers, the RR collection and the selector
// buffers. The graph is read only. An Engine must not be shared between
// goroutines; concurrent computations each build their own.
type Engine struct {
	graph    *models.Graph
	config   *Config
	rng      *rand.Rand
	logger   zerolog.Logger
	observer Observer

	gen      *rrset.Generator
	coll     *rrset.Collection
	selector *Selector
}

// NewEngine validates that graph can be sampled and allocates per-computation
// buffers. The RNG is seeded from algorithm.random_seed.
func NewEngine(graph *models.Graph, config *Config) (*Engine, error) {
	rng := rand.New(rand.NewSource(config.RandomSeed()))
	gen, err := rrset.NewGenerator(graph, rng)
	if err != nil {
		return nil, fmt.Errorf("cannot sample graph: %w", err)
	}

	return &Engine{
		graph:    graph,
		config:   config,
		rng:      rng,
		logger:   config.CreateLogger(),
		observer: nopObserver{},
		gen:      gen,
		coll:     rrset.NewCollection(graph.NumNodes),
		selector: NewSelector(graph.NumNodes),
	}, nil
}

// WithLogger replaces the logger built from the config.
func (e *Engine) WithLogger(logger zerolog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithObserver attaches progress callbacks.
func (e *Engine) WithObserver(observer Observer) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	e.observer = observer
	return e
}

// Collection exposes the RR collection built by the last computation.
func (e *Engine) Collection() *rrset.Collection {
	return e.coll
}

// Rand exposes the engine's random source.
func (e *Engine) Rand() *rand.Rand {
	return e.rng
}

// ComputeSeeds selects k seeds among the candidate pool of participants: the
// out-neighbours of the participants that are not participants themselves.
func (e *Engine) ComputeSeeds(participants []int, k int, eps, ell float64) (*Result, error) {
	pool := budget.NewPool(e.graph, participants)
	return e.SelectFromPool(pool.Candidates(), k, eps, ell)
}

// SelectFromPool selects up to k seeds from candidates.
func (e *Engine) SelectFromPool(candidates []int, k int, eps, ell float64) (*Result, error) {
	if err := checkParams(k, eps, ell); err != nil {
		return nil, err
	}
	start := time.Now()
	runID := uuid.NewString()
	candidates = validCandidates(candidates, e.graph.NumNodes)
	e.coll.Reset()

	if len(candidates) == 0 || k == 0 {
		return e.finish(&Result{RunID: runID, Seeds: []int{}, Trivial: true}, start), nil
	}
	if k >= len(candidates) {
		e.logger.Debug().
			Int("k", k).
			Int("candidates", len(candidates)).
			Msg("Budget covers the candidate pool, skipping sampling")
		seeds := append([]int(nil), candidates...)
		return e.finish(&Result{RunID: runID, Seeds: seeds, Coverage: 1, Trivial: true}, start), nil
	}

	run := e.sample(k, eps, ell, func() float64 {
		return e.selector.Select(e.coll, candidates, k).Coverage
	})

	sel := e.selector.Select(e.coll, candidates, k)
	e.observer.SelectionCompleted(len(sel.Seeds), sel.Coverage)

	result := &Result{
		RunID:      runID,
		Seeds:      sel.Seeds,
		Coverage:   sel.Coverage,
		Samples:    e.coll.Size(),
		LowerBound: run.lowerBound,
		Capped:     run.capped,
		Statistics: Statistics{Epochs: run.epochs, SamplesGenerated: run.generated},
	}
	return e.finish(result, start), nil
}

// ComputeSeedsBudgeted lets every participant sponsor at most perSourceK
// seeds among its own out-neighbours outside the participant set. Ties
// between sponsors are broken by a shuffle drawn from the engine's RNG.
func (e *Engine) ComputeSeedsBudgeted(participants []int, perSourceK int, eps, ell float64) (*Result, error) {
	if err := checkParams(perSourceK, eps, ell); err != nil {
		return nil, err
	}
	start := time.Now()
	runID := uuid.NewString()

	pool := budget.NewPool(e.graph, participants)
	e.coll.Reset()
	if pool.Size() == 0 || perSourceK == 0 {
		return e.finish(&Result{RunID: runID, Seeds: []int{}, Trivial: true}, start), nil
	}
	ledger := budget.NewLedger(pool, perSourceK, e.rng)

	if ledger.TotalBudget() >= pool.Size() {
		if seeds, ok := claimAll(pool, ledger); ok {
			e.logger.Debug().
				Int("per_source_k", perSourceK).
				Int("candidates", pool.Size()).
				Msg("Capacities cover the candidate pool, skipping sampling")
			return e.finish(&Result{
				RunID:    runID,
				Seeds:    seeds,
				Coverage: 1,
				Trivial:  true,
				Sponsors: ledger.Assignments(),
			}, start), nil
		}
		ledger.Reset()
	}

	k := min(ledger.TotalBudget(), pool.Size())
	run := e.sample(k, eps, ell, func() float64 {
		ledger.Reset()
		return e.selector.SelectBudgeted(e.coll, pool, ledger).Coverage
	})

	ledger.Reset()
	sel := e.selector.SelectBudgeted(e.coll, pool, ledger)
	e.observer.SelectionCompleted(len(sel.Seeds), sel.Coverage)

	result := &Result{
		RunID:      runID,
		Seeds:      sel.Seeds,
		Coverage:   sel.Coverage,
		Samples:    e.coll.Size(),
		LowerBound: run.lowerBound,
		Capped:     run.capped,
		Sponsors:   sel.Sponsors,
		Statistics: Statistics{Epochs: run.epochs, SamplesGenerated: run.generated},
	}
	return e.finish(result, start), nil
}

type samplingRun struct {
	epochs     int
	generated  int
	lowerBound float64
	capped     bool
}

// sample grows the collection by iterative doubling until pass reports a
// coverage fraction above 2^-i, then grows it to the final target derived
// from the resulting lower bound. Both targets respect algorithm.max_samples.
func (e *Engine) sample(k int, eps, ell float64, pass func() float64) samplingRun {
	n := e.graph.NumNodes
	logN := math.Log(float64(n))
	ellNew := ell * (1.0 + math.Ln2/logN)
	epsPrime := eps * math.Sqrt2
	limit := e.config.MaxSamples()

	run := samplingRun{lowerBound: 1}
	onSample := func(size int) { e.observer.SampleGenerated(size) }

	maxEpoch := int(math.Floor(math.Log2(float64(n))))
	for i := 1; i <= maxEpoch; i++ {
		target, capped := capTarget(epochTarget(n, k, i, epsPrime, ellNew), limit)
		run.capped = run.capped || capped
		run.generated += e.coll.Grow(e.gen, target, onSample)
		run.epochs = i

		ept := pass()
		e.observer.EpochCompleted(i, e.coll.Size(), ept)
		if e.config.EnableProgress() {
			e.logger.Info().
				Int("epoch", i).
				Int("samples", e.coll.Size()).
				Float64("coverage", ept).
				Msg("Sampling epoch")
		}

		if ept > math.Pow(2.0, -float64(i)) {
			run.lowerBound = ept * float64(n) / (1.0 + epsPrime)
			break
		}
		if capped {
			break
		}
	}

	target, capped := capTarget(finalTarget(n, k, run.lowerBound, eps, ellNew), limit)
	run.capped = run.capped || capped
	run.generated += e.coll.Grow(e.gen, target, onSample)

	if run.capped {
		e.logger.Warn().
			Int("max_samples", limit).
			Msg("Sample target exceeds cap, approximation guarantee is best-effort")
	}
	return run
}

func (e *Engine) finish(result *Result, start time.Time) *Result {
	result.Statistics.RuntimeMS = time.Since(start).Milliseconds()
	result.Statistics.MemoryPeakMB = getMemoryUsage()

	e.logger.Info().
		Str("run_id", result.RunID).
		Int("seeds", len(result.Seeds)).
		Int("samples", result.Samples).
		Float64("coverage", result.Coverage).
		Bool("trivial", result.Trivial).
		Bool("capped", result.Capped).
		Int64("runtime_ms", result.Statistics.RuntimeMS).
		Msg("Seed selection completed")
	return result
}

// claimAll sponsors every candidate in pool order, reporting whether all of
// them could be claimed.
func claimAll(pool *budget.Pool, ledger *budget.Ledger) ([]int, bool) {
	seeds := make([]int, 0, pool.Size())
	for _, c := range pool.Candidates() {
		if _, ok := ledger.Claim(c); !ok {
			return nil, false
		}
		seeds = append(seeds, c)
	}
	return seeds, true
}

func validCandidates(candidates []int, numNodes int) []int {
	out := make([]int, 0, len(candidates))
	seen := make(map[int]struct{}, len(candidates))
	for _, c := range candidates {
		if c < 0 || c >= numNodes {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func checkParams(k int, eps, ell float64) error {
	if k < 0 {
		return fmt.Errorf("%w: budget %d", ErrInvalidParameter, k)
	}
	if !(eps > 0 && eps < 1) {
		return fmt.Errorf("%w: epsilon %f must be in (0, 1)", ErrInvalidParameter, eps)
	}
	if !(ell > 0) {
		return fmt.Errorf("%w: ell %f must be positive", ErrInvalidParameter, ell)
	}
	return nil
}

// getMemoryUsage returns current memory usage in MB
func getMemoryUsage() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Alloc / 1024 / 1024)
}
