// Package celf implements the CELF lazy-greedy seed selector. Unlike the
// RR-based engine it evaluates marginal gains directly with Monte-Carlo
// simulation, which is more accurate per query and far more expensive.
package celf

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/lazyqueue"
)

// ErrInvalidTrials is returned when the Monte-Carlo trial count is not
// positive.
var ErrInvalidTrials = errors.New("celf: trials must be positive")

// Spreader estimates the expected cascade size of a seed set.
type Spreader interface {
	Spread(seeds []int, trials int) float64
}

// Observer receives one callback per spread evaluation and per accepted
// seed.
type Observer interface {
	SpreadEvaluated(cached bool)
	SeedAccepted(node int, gain float64)
}

type nopObserver struct{}

func (nopObserver) SpreadEvaluated(bool)      {}
func (nopObserver) SeedAccepted(int, float64) {}

// Result is the outcome of one selection.
type Result struct {
	Seeds       []int       `json:"seeds"`
	Spread      float64     `json:"spread"`
	Evaluations int         `json:"evaluations"`
	Sponsors    map[int]int `json:"sponsors,omitempty"`
	RuntimeMS   int64       `json:"runtime_ms"`
}

// Selector runs CELF over a Spreader. It inherits the Spreader's concurrency
// restrictions; the SpreadCache may be shared.
type Selector struct {
	spreader Spreader
	trials   int
	cache    *SpreadCache
	logger   zerolog.Logger
	observer Observer
}

// New creates a selector estimating every spread with trials simulations.
// A nil cache disables memoization of singleton spreads.
func New(spreader Spreader, trials int, cache *SpreadCache, logger zerolog.Logger) (*Selector, error) {
	if trials <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTrials, trials)
	}
	return &Selector{
		spreader: spreader,
		trials:   trials,
		cache:    cache,
		logger:   logger,
		observer: nopObserver{},
	}, nil
}

// WithObserver attaches evaluation callbacks.
func (s *Selector) WithObserver(observer Observer) *Selector {
	if observer == nil {
		observer = nopObserver{}
	}
	s.observer = observer
	return s
}

// Select picks up to k seeds from candidates. When k is at least the number
// of candidates every candidate is returned without simulation.
func (s *Selector) Select(ctx context.Context, candidates []int, k int) (*Result, error) {
	start := time.Now()
	candidates = dedupe(candidates)
	if k <= 0 || len(candidates) == 0 {
		return &Result{Seeds: []int{}}, nil
	}
	if k >= len(candidates) {
		s.logger.Debug().
			Int("k", k).
			Int("candidates", len(candidates)).
			Msg("Budget covers the candidate pool, all selected")
		return &Result{Seeds: candidates, RuntimeMS: time.Since(start).Milliseconds()}, nil
	}

	result, err := s.run(ctx, candidates, k, nil)
	if err != nil {
		return nil, err
	}
	result.RuntimeMS = time.Since(start).Milliseconds()
	return result, nil
}

// SelectBudgeted selects from the pool's candidates subject to the ledger's
// per-participant capacities. A candidate none of whose sponsors has
// capacity left is dropped. Selection continues until the queue is empty.
func (s *Selector) SelectBudgeted(ctx context.Context, pool *budget.Pool, ledger *budget.Ledger) (*Result, error) {
	start := time.Now()
	result, err := s.run(ctx, pool.Candidates(), -1, ledger)
	if err != nil {
		return nil, err
	}
	result.Sponsors = ledger.Assignments()
	result.RuntimeMS = time.Since(start).Milliseconds()
	return result, nil
}

// PerParticipant runs Select over each participant's own candidates with
// budget k and returns the sorted union of the picks.
func (s *Selector) PerParticipant(ctx context.Context, pool *budget.Pool, k int) (*Result, error) {
	start := time.Now()
	union := mapset.NewThreadUnsafeSet[int]()
	evaluations := 0
	for _, u := range pool.Participants() {
		res, err := s.Select(ctx, pool.CandidatesOf(u), k)
		if err != nil {
			return nil, fmt.Errorf("participant %d: %w", u, err)
		}
		union.Append(res.Seeds...)
		evaluations += res.Evaluations
	}

	seeds := union.ToSlice()
	sort.Ints(seeds)
	return &Result{
		Seeds:       seeds,
		Evaluations: evaluations,
		RuntimeMS:   time.Since(start).Milliseconds(),
	}, nil
}

// run is the lazy loop. An entry is accepted only when its gain was computed
// against the current seed set, i.e. its round equals len(seeds); otherwise
// the gain is recomputed and the entry goes back into the queue.
func (s *Selector) run(ctx context.Context, candidates []int, k int, ledger *budget.Ledger) (*Result, error) {
	result := &Result{Seeds: []int{}}

	entries := make([]lazyqueue.Entry, 0, len(candidates))
	for _, c := range candidates {
		if ledger != nil {
			if _, ok := ledger.Source(c); !ok {
				continue
			}
		}
		gain, err := s.singleton(ctx, c, result)
		if err != nil {
			return nil, err
		}
		entries = append(entries, lazyqueue.Entry{Node: c, Gain: gain})
	}
	queue := lazyqueue.New(entries)

	current := 0.0
	buf := make([]int, 0, len(candidates))
	for queue.Len() > 0 && (k < 0 || len(result.Seeds) < k) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := queue.Pop()

		if ledger != nil {
			if _, ok := ledger.Source(top.Node); !ok {
				continue
			}
		}

		round := len(result.Seeds)
		if top.Round != round {
			buf = append(buf[:0], result.Seeds...)
			buf = append(buf, top.Node)
			top.Gain = s.spreader.Spread(buf, s.trials) - current
			top.Round = round
			result.Evaluations++
			s.observer.SpreadEvaluated(false)
			queue.Push(top)
			continue
		}

		if ledger != nil {
			ledger.Claim(top.Node)
		}
		result.Seeds = append(result.Seeds, top.Node)
		current += top.Gain
		s.observer.SeedAccepted(top.Node, top.Gain)

		s.logger.Debug().
			Int("seed", top.Node).
			Int("round", round+1).
			Float64("gain", top.Gain).
			Int("evaluations", result.Evaluations).
			Msg("CELF seed accepted")
	}

	result.Spread = current
	return result, nil
}

func (s *Selector) singleton(ctx context.Context, node int, result *Result) (float64, error) {
	compute := func(v int) float64 {
		result.Evaluations++
		return s.spreader.Spread([]int{v}, s.trials)
	}
	if s.cache == nil {
		s.observer.SpreadEvaluated(false)
		return compute(node), nil
	}

	spread, hit, err := s.cache.load(ctx, node, compute)
	if err != nil {
		return 0, fmt.Errorf("singleton spread of %d: %w", node, err)
	}
	s.observer.SpreadEvaluated(hit)
	return spread, nil
}

func dedupe(nodes []int) []int {
	seen := mapset.NewThreadUnsafeSetWithSize[int](len(nodes))
	out := make([]int, 0, len(nodes))
	for _, v := range nodes {
		if v < 0 || !seen.Add(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
