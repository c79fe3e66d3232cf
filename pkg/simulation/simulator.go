// Package simulation estimates expected cascade size by forward Monte-Carlo
// simulation. It is the ground-truth oracle for seed sets produced by the
// RR-based engine and the gain oracle for CELF.
package simulation

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/rrset"
)

// Estimate summarizes per-trial cascade sizes.
type Estimate struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	StdErr float64 `json:"std_err"`
	Trials int     `json:"trials"`
}

// Simulator owns activation markers sized to the graph. Markers are cleared
// after every trial for exactly the nodes that trial touched. Not safe for
// concurrent use.
type Simulator struct {
	graph   *models.Graph
	rng     *rand.Rand
	active  []bool
	touched []int
	gen     *rrset.Generator
}

type pendingEdge struct {
	to int
	p  float64
	m  float64
}

// New creates a simulator for g. The graph must have a diffusion model.
func New(graph *models.Graph, rng *rand.Rand) (*Simulator, error) {
	if err := graph.CheckModel(); err != nil {
		return nil, err
	}
	return &Simulator{
		graph:  graph,
		rng:    rng,
		active: make([]bool, graph.NumNodes),
	}, nil
}

// Spread returns the mean cascade size of seeds over trials independent
// simulations. An empty seed set or non-positive trial count yields 0.
func (s *Simulator) Spread(seeds []int, trials int) float64 {
	return s.Estimate(seeds, trials).Mean
}

// Estimate is Spread with dispersion statistics.
func (s *Simulator) Estimate(seeds []int, trials int) Estimate {
	if len(seeds) == 0 || trials <= 0 {
		return Estimate{Trials: max(trials, 0)}
	}

	sizes := make([]float64, trials)
	for i := 0; i < trials; i++ {
		sizes[i] = float64(s.trial(seeds))
	}

	mean, std := stat.MeanStdDev(sizes, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Estimate{
		Mean:   mean,
		StdDev: std,
		StdErr: std / math.Sqrt(float64(trials)),
		Trials: trials,
	}
}

// ForwardSketch estimates spread as the mean size of forward reachability
// samples from seeds, using the same randomized traversal as RR sampling.
func (s *Simulator) ForwardSketch(seeds []int, trials int) (float64, error) {
	if len(seeds) == 0 || trials <= 0 {
		return 0, nil
	}
	if s.gen == nil {
		gen, err := rrset.NewGenerator(s.graph, s.rng)
		if err != nil {
			return 0, err
		}
		s.gen = gen
	}

	total := 0.0
	for i := 0; i < trials; i++ {
		total += float64(len(s.gen.Generate(seeds, rrset.Forward)))
	}
	return total / float64(trials), nil
}

func (s *Simulator) trial(seeds []int) int {
	defer s.reset()

	frontier := make([]int, 0, len(seeds))
	for _, u := range seeds {
		if u < 0 || u >= s.graph.NumNodes || s.active[u] {
			continue
		}
		s.activate(u)
		frontier = append(frontier, u)
	}

	if s.graph.Model == models.ModelDelayed {
		s.runDelayed(frontier)
	} else {
		s.runInstant(frontier)
	}
	return len(s.touched)
}

// runInstant: every newly active node gets one attempt per inactive
// out-neighbour; stops when a round activates nobody.
func (s *Simulator) runInstant(frontier []int) {
	next := make([]int, 0)
	for len(frontier) > 0 {
		next = next[:0]
		for _, u := range frontier {
			for _, e := range s.graph.Out[u] {
				if s.active[e.To] {
					continue
				}
				if s.rng.Float64() < e.P {
					s.activate(e.To)
					next = append(next, e.To)
				}
			}
		}
		frontier, next = next, frontier
	}
}

// runDelayed: edges out of an active node stay pending until they meet
// (Bernoulli(m) per round). A met edge gets a single activation trial and is
// then decided. Nodes activated in round r open their edges from round r+1.
// Nothing happens after the horizon.
func (s *Simulator) runDelayed(frontier []int) {
	pending := make([]pendingEdge, 0)
	open := func(u int) {
		for _, e := range s.graph.Out[u] {
			if !s.active[e.To] {
				pending = append(pending, pendingEdge{to: e.To, p: e.P, m: e.M})
			}
		}
	}
	for _, u := range frontier {
		open(u)
	}

	var newly []int
	for round := 1; round <= s.graph.Horizon && len(pending) > 0; round++ {
		kept := pending[:0]
		newly = newly[:0]
		for _, pe := range pending {
			if s.active[pe.to] {
				continue
			}
			if s.rng.Float64() >= pe.m {
				kept = append(kept, pe)
				continue
			}
			if s.rng.Float64() < pe.p {
				s.activate(pe.to)
				newly = append(newly, pe.to)
			}
		}
		pending = kept
		for _, u := range newly {
			open(u)
		}
	}
}

func (s *Simulator) activate(u int) {
	s.active[u] = true
	s.touched = append(s.touched, u)
}

func (s *Simulator) reset() {
	for _, u := range s.touched {
		s.active[u] = false
	}
	s.touched = s.touched[:0]
}
