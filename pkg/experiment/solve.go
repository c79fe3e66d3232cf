package experiment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/celf"
	"github.com/gilchrisn/budgeted-influence-service/pkg/heuristic"
	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/simulation"
	"github.com/gilchrisn/budgeted-influence-service/pkg/telemetry"
)

// Selection is the outcome of one solver run. IMM or CELF carries the full
// solver result when the solver produced one.
type Selection struct {
	Solver   string       `json:"solver"`
	Seeds    []int        `json:"seeds"`
	Sponsors map[int]int  `json:"sponsors,omitempty"`
	IMM      *imm.Result  `json:"imm,omitempty"`
	CELF     *celf.Result `json:"celf,omitempty"`
}

// Solvers holds what the solvers share across invocations on one graph: the
// CELF singleton-spread cache, the lazily computed PageRank scores and an
// optional metrics collector.
type Solvers struct {
	graph     *models.Graph
	cache     *celf.SpreadCache
	logger    zerolog.Logger
	collector *telemetry.Collector

	rankOnce sync.Once
	ranker   *heuristic.PageRanker
}

// NewSolvers prepares solvers for graph. The graph must have a model.
func NewSolvers(graph *models.Graph, cache *celf.SpreadCache, logger zerolog.Logger) (*Solvers, error) {
	if err := graph.CheckModel(); err != nil {
		return nil, fmt.Errorf("cannot simulate graph: %w", err)
	}
	if cache == nil {
		var err error
		if cache, err = celf.NewSpreadCache(graph.NumNodes); err != nil {
			return nil, err
		}
	}
	return &Solvers{graph: graph, cache: cache, logger: logger}, nil
}

// WithCollector records solver metrics into c.
func (s *Solvers) WithCollector(c *telemetry.Collector) *Solvers {
	s.collector = c
	return s
}

// IsSolver reports whether name is a known solver.
func IsSolver(name string) bool {
	return knownSolvers.Contains(name)
}

// Solve runs solver name over pool with per-participant budget k (total
// budget for imm-pool). config supplies ε, ℓ, the sample cap, the Monte
// Carlo trial count and the enumeration limit; rng drives simulation and the
// budgeted ledger.
func (s *Solvers) Solve(ctx context.Context, name string, pool *budget.Pool, k int, config *imm.Config, rng *rand.Rand) (*Selection, error) {
	sel := &Selection{Solver: name}

	switch name {
	case SolverDegree:
		sel.Seeds = heuristic.TopK(pool, k, func(v int) float64 { return float64(s.graph.OutDegree[v]) })

	case SolverPageRank:
		sel.Seeds = heuristic.TopK(pool, k, s.pageRanker().Score)

	case SolverIMM:
		res, err := imm.ComputeSeedsPerParticipant(ctx, s.graph, config, pool.Participants(), k, s.immObserver())
		if err != nil {
			return nil, err
		}
		sel.Seeds, sel.IMM = res.Seeds, res

	case SolverIMMBudgeted, SolverIMMPool:
		engine, err := imm.NewEngine(s.graph, config)
		if err != nil {
			return nil, err
		}
		engine.WithLogger(s.logger).WithObserver(s.immObserver())

		var res *imm.Result
		if name == SolverIMMBudgeted {
			res, err = engine.ComputeSeedsBudgeted(pool.Participants(), k, config.Epsilon(), config.Ell())
		} else {
			res, err = engine.ComputeSeeds(pool.Participants(), k, config.Epsilon(), config.Ell())
		}
		if err != nil {
			return nil, err
		}
		sel.Seeds, sel.Sponsors, sel.IMM = res.Seeds, res.Sponsors, res

	case SolverCELF, SolverCELFBudgeted, SolverEnumeration:
		sim, err := simulation.New(s.graph, rng)
		if err != nil {
			return nil, err
		}
		selector, err := celf.New(sim, config.SimulationRounds(), s.cache, s.logger)
		if err != nil {
			return nil, err
		}
		if s.collector != nil {
			selector.WithObserver(s.collector)
		}

		var res *celf.Result
		switch name {
		case SolverCELF:
			res, err = selector.PerParticipant(ctx, pool, k)
		case SolverCELFBudgeted:
			res, err = selector.SelectBudgeted(ctx, pool, budget.NewLedger(pool, k, rng))
		default:
			res, err = selector.Enumerate(ctx, pool, k, config.EnumerationLimit())
		}
		if err != nil {
			return nil, err
		}
		sel.Seeds, sel.Sponsors, sel.CELF = res.Seeds, res.Sponsors, res

	default:
		return nil, fmt.Errorf("unknown solver %q", name)
	}
	return sel, nil
}

// immObserver keeps a nil collector from becoming a non-nil interface.
func (s *Solvers) immObserver() imm.Observer {
	if s.collector == nil {
		return nil
	}
	return s.collector
}

func (s *Solvers) pageRanker() *heuristic.PageRanker {
	s.rankOnce.Do(func() {
		s.ranker = heuristic.NewPageRanker(s.graph, heuristic.DefaultDamping, heuristic.DefaultTolerance)
	})
	return s.ranker
}
