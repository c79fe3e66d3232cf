// Package experiment sweeps solvers over random active-participant sets and
// budgets, scoring every seed set with Monte-Carlo simulation.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/celf"
	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/parser"
	"github.com/gilchrisn/budgeted-influence-service/pkg/simulation"
	"github.com/gilchrisn/budgeted-influence-service/pkg/telemetry"
)

// Solver names accepted in experiment.solvers.
const (
	SolverDegree       = "degree"
	SolverPageRank     = "pagerank"
	SolverCELF         = "celf"
	SolverCELFBudgeted = "celf-budgeted"
	SolverIMM          = "imm"
	SolverIMMBudgeted  = "imm-budgeted"
	SolverIMMPool      = "imm-pool"
	SolverEnumeration  = "enumeration"
)

var knownSolvers = mapset.NewSet(
	SolverDegree, SolverPageRank, SolverCELF, SolverCELFBudgeted,
	SolverIMM, SolverIMMBudgeted, SolverIMMPool, SolverEnumeration,
)

// ErrNoParticipantSet is returned when no admissible participant set was
// drawn within experiment.max_attempts.
var ErrNoParticipantSet = errors.New("experiment: no admissible participant set")

// Record is one (participant set, k, solver) measurement.
type Record struct {
	ID              string  `json:"id"`
	ParticipantSize int     `json:"participant_size"`
	Round           int     `json:"round"`
	K               int     `json:"k"`
	Solver          string  `json:"solver"`
	Participants    []int   `json:"participants"`
	PoolSize        int     `json:"pool_size"`
	Overlap         float64 `json:"overlap"`
	Seeds           []int   `json:"seeds"`
	Spread          float64 `json:"spread"`
	StdErr          float64 `json:"std_err"`
	DurationMS      float64 `json:"duration_ms"`
}

// Runner executes the sweep configured under experiment.*.
type Runner struct {
	graph     *models.Graph
	config    *imm.Config
	logger    zerolog.Logger
	collector *telemetry.Collector
	solvers   *Solvers
	rng       *rand.Rand
}

// NewRunner validates the configured solvers and prepares the shared CELF
// singleton-spread cache, preloading it from celf.spread_file when set.
func NewRunner(graph *models.Graph, config *imm.Config) (*Runner, error) {
	for _, name := range config.Solvers() {
		if !knownSolvers.Contains(name) {
			return nil, fmt.Errorf("unknown solver %q", name)
		}
	}

	cache, err := celf.NewSpreadCache(config.CacheSize())
	if err != nil {
		return nil, err
	}
	if path := config.SpreadFile(); path != "" {
		spreads, err := parser.LoadSpreads(path)
		if err != nil {
			return nil, err
		}
		cache.Preload(spreads)
	}

	logger := config.CreateLogger()
	solvers, err := NewSolvers(graph, cache, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		graph:   graph,
		config:  config,
		logger:  logger,
		solvers: solvers,
		rng:     rand.New(rand.NewSource(config.RandomSeed())),
	}, nil
}

// WithLogger replaces the logger built from the config.
func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.logger = logger
	r.solvers.logger = logger
	return r
}

// WithCollector records solver metrics into c.
func (r *Runner) WithCollector(c *telemetry.Collector) *Runner {
	r.collector = c
	r.solvers.WithCollector(c)
	return r
}

// Run executes every (participant size, round, k, solver) combination. For
// each size and round a fresh participant set is drawn and shared by all k
// values and solvers. Solvers for one k run concurrently on up to
// performance.num_workers goroutines.
func (r *Runner) Run(ctx context.Context) ([]Record, error) {
	start := time.Now()
	var records []Record

	for _, size := range r.config.ParticipantSizes() {
		for round := 1; round <= r.config.ExperimentRounds(); round++ {
			participants, err := r.drawParticipants(size)
			if err != nil {
				return nil, err
			}
			pool := budget.NewPool(r.graph, participants)
			base := Record{
				ParticipantSize: size,
				Round:           round,
				Participants:    participants,
				PoolSize:        pool.Size(),
				Overlap:         Overlap(pool),
			}

			for _, k := range r.config.KValues() {
				base.K = k
				rows, err := r.runSolvers(ctx, pool, base)
				if err != nil {
					return nil, err
				}
				records = append(records, rows...)
			}
		}
	}

	r.logger.Info().
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("Experiment completed")

	if path := r.config.ExperimentOutputFile(); path != "" {
		if err := WriteJSON(path, records); err != nil {
			return nil, err
		}
		r.logger.Info().Str("path", path).Msg("Experiment results written")
	}
	return records, nil
}

func (r *Runner) runSolvers(ctx context.Context, pool *budget.Pool, base Record) ([]Record, error) {
	solvers := r.config.Solvers()
	rows := make([]Record, len(solvers))

	// seeds and configs are derived before any goroutine starts so the run
	// is reproducible regardless of scheduling
	seeds := make([]int64, len(solvers))
	configs := make([]*imm.Config, len(solvers))
	for i := range solvers {
		seeds[i] = r.rng.Int63()
		configs[i] = r.config.Clone()
		configs[i].Set("algorithm.random_seed", seeds[i])
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.config.NumWorkers(), 1))

	for i, name := range solvers {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			start := time.Now()
			sel, err := r.solvers.Solve(ctx, name, pool, base.K, configs[i], rng)
			if err != nil {
				return fmt.Errorf("solver %s (size %d, round %d, k %d): %w", name, base.ParticipantSize, base.Round, base.K, err)
			}
			elapsed := time.Since(start)
			chosen := sel.Seeds

			sim, err := simulation.New(r.graph, rng)
			if err != nil {
				return err
			}
			est := sim.Estimate(chosen, r.config.VerifyRounds())

			row := base
			row.ID = uuid.NewString()
			row.Solver = name
			row.Seeds = chosen
			row.Spread = est.Mean
			row.StdErr = est.StdErr
			row.DurationMS = float64(elapsed.Microseconds()) / 1000
			rows[i] = row

			if r.collector != nil {
				r.collector.SolverFinished(name, elapsed, est.Mean)
			}
			r.logger.Info().
				Int("participants", row.ParticipantSize).
				Int("round", row.Round).
				Int("k", row.K).
				Str("solver", name).
				Int("seeds", len(chosen)).
				Float64("spread", row.Spread).
				Float64("duration_ms", row.DurationMS).
				Msg("Solver finished")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// drawParticipants draws size distinct nodes uniformly at random, rejecting
// sets with an empty candidate pool, whose neighbour union reaches
// experiment.max_pool_ratio times size, or whose Overlap is below
// experiment.min_overlap.
func (r *Runner) drawParticipants(size int) ([]int, error) {
	n := r.graph.NumNodes
	if size <= 0 || size > n {
		return nil, fmt.Errorf("%w: size %d for %d nodes", ErrNoParticipantSet, size, n)
	}

	limit := r.config.MaxPoolRatio() * size
	minOverlap := r.config.MinOverlap()
	attempts := max(r.config.MaxAttempts(), 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		participants := sampleNodes(r.rng, n, size)
		if limit > 0 && budget.NeighborUnionSize(r.graph, participants) >= limit {
			continue
		}
		pool := budget.NewPool(r.graph, participants)
		if pool.Size() == 0 || Overlap(pool) < minOverlap {
			continue
		}
		r.logger.Debug().
			Int("size", size).
			Int("attempts", attempt).
			Msg("Participant set drawn")
		return participants, nil
	}
	return nil, fmt.Errorf("%w: size %d after %d attempts", ErrNoParticipantSet, size, attempts)
}

// sampleNodes returns size distinct nodes of [0, n), sorted.
func sampleNodes(rng *rand.Rand, n, size int) []int {
	var out []int
	if 2*size >= n {
		out = rng.Perm(n)[:size]
	} else {
		chosen := mapset.NewThreadUnsafeSetWithSize[int](size)
		out = make([]int, 0, size)
		for len(out) < size {
			if v := rng.Intn(n); chosen.Add(v) {
				out = append(out, v)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Overlap is the fraction of candidates that more than one participant can
// sponsor.
func Overlap(pool *budget.Pool) float64 {
	if pool.Size() == 0 {
		return 0
	}
	shared := 0
	for _, c := range pool.Candidates() {
		if len(pool.Sources(c)) > 1 {
			shared++
		}
	}
	return float64(shared) / float64(pool.Size())
}
