package celf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
)

// ErrSearchTooLarge is returned when an exhaustive search would exceed its
// limit on assignments.
var ErrSearchTooLarge = errors.New("celf: enumeration space too large")

// Enumerate scores every seed set reachable by letting each participant, in
// order, sponsor min(k, available) of its candidates not already taken, and
// returns the one with the highest simulated spread. Sets reached through
// different assignments are simulated once. Since spread is monotone the
// result is at least as good as any set respecting the per-participant
// budget k.
//
// limit bounds the number of assignments up front; ErrSearchTooLarge is
// returned when the product of per-participant choices exceeds it.
func (s *Selector) Enumerate(ctx context.Context, pool *budget.Pool, k, limit int) (*Result, error) {
	start := time.Now()
	if k <= 0 || pool.Size() == 0 {
		return &Result{Seeds: []int{}}, nil
	}

	participants := pool.Participants()
	options := make([][]int, len(participants))
	for i, u := range participants {
		options[i] = pool.CandidatesOf(u)
	}
	if n := assignmentBound(options, k, limit); n > limit {
		return nil, fmt.Errorf("%w: more than %d assignments", ErrSearchTooLarge, limit)
	}

	e := &enumeration{
		selector:     s,
		ctx:          ctx,
		k:            k,
		participants: participants,
		options:      options,
		taken:        mapset.NewThreadUnsafeSet[int](),
		sponsors:     make(map[int]int),
		seen:         mapset.NewThreadUnsafeSet[string](),
		best:         &Result{Seeds: []int{}, Spread: -1},
	}
	if err := e.assign(0); err != nil {
		return nil, err
	}

	result := e.best
	result.Evaluations = e.seen.Cardinality()
	result.RuntimeMS = time.Since(start).Milliseconds()
	s.logger.Debug().
		Int("k", k).
		Int("candidates", pool.Size()).
		Int("evaluations", result.Evaluations).
		Float64("spread", result.Spread).
		Msg("Enumeration finished")
	return result, nil
}

// assignmentBound multiplies C(|options_i|, min(k, |options_i|)) over the
// participants, stopping once the product passes limit.
func assignmentBound(options [][]int, k, limit int) int {
	total := 1
	for _, opts := range options {
		total = saturatingMul(total, binomial(len(opts), min(k, len(opts)), limit))
		if total > limit {
			return total
		}
	}
	return total
}

func binomial(n, r, limit int) int {
	if r > n-r {
		r = n - r
	}
	c := 1
	for i := 1; i <= r; i++ {
		// c*(n-r+i) is divisible by i at every step
		c = saturatingMul(c, n-r+i)
		if c == math.MaxInt {
			return c
		}
		c /= i
		if c > limit {
			return c
		}
	}
	return c
}

func saturatingMul(a, b int) int {
	if a != 0 && b > math.MaxInt/a {
		return math.MaxInt
	}
	return a * b
}

type enumeration struct {
	selector     *Selector
	ctx          context.Context
	k            int
	participants []int
	options      [][]int
	taken        mapset.Set[int]
	sponsors     map[int]int
	seen         mapset.Set[string]
	best         *Result
}

func (e *enumeration) assign(i int) error {
	if i == len(e.participants) {
		return e.evaluate()
	}

	avail := make([]int, 0, len(e.options[i]))
	for _, c := range e.options[i] {
		if !e.taken.Contains(c) {
			avail = append(avail, c)
		}
	}
	return e.choose(i, avail, min(e.k, len(avail)))
}

// choose picks want more of avail for participant i, then moves on.
func (e *enumeration) choose(i int, avail []int, want int) error {
	if want == 0 {
		return e.assign(i + 1)
	}
	for j := 0; j <= len(avail)-want; j++ {
		c := avail[j]
		e.taken.Add(c)
		e.sponsors[c] = e.participants[i]
		err := e.choose(i, avail[j+1:], want-1)
		e.taken.Remove(c)
		delete(e.sponsors, c)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *enumeration) evaluate() error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	seeds := e.taken.ToSlice()
	sort.Ints(seeds)
	if !e.seen.Add(setKey(seeds)) {
		return nil
	}

	spread := e.selector.spreader.Spread(seeds, e.selector.trials)
	e.selector.observer.SpreadEvaluated(false)
	if spread > e.best.Spread {
		sponsors := make(map[int]int, len(e.sponsors))
		for c, p := range e.sponsors {
			sponsors[c] = p
		}
		e.best = &Result{Seeds: seeds, Spread: spread, Sponsors: sponsors}
	}
	return nil
}

func setKey(seeds []int) string {
	var b strings.Builder
	for i, v := range seeds {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}
