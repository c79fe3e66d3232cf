package imm

import (
	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/lazyqueue"
	"github.com/gilchrisn/budgeted-influence-service/pkg/rrset"
)

// Selection is the outcome of one greedy pass over an RR collection.
type Selection struct {
	Seeds    []int       `json:"seeds"`
	Covered  int         `json:"covered"`
	Coverage float64     `json:"coverage"`
	Sponsors map[int]int `json:"sponsors,omitempty"`
}

// Selector runs lazy-greedy maximum coverage over an RR collection. Its
// buffers are reused across passes; a Selector serves one computation at a
// time.
type Selector struct {
	gain    []int
	remain  []bool
	covered []bool
}

// NewSelector sizes node-indexed buffers for a graph with n nodes.
func NewSelector(numNodes int) *Selector {
	return &Selector{
		gain:   make([]int, numNodes),
		remain: make([]bool, numNodes),
	}
}

// Select picks up to k candidates maximizing the number of covered samples.
func (s *Selector) Select(coll *rrset.Collection, candidates []int, k int) Selection {
	if k <= 0 {
		return Selection{Seeds: []int{}}
	}
	return s.run(coll, candidates, k, nil)
}

// SelectBudgeted is Select restricted by the ledger's per-participant
// capacities. A candidate whose sponsors are all exhausted is dropped without
// consuming a round. The pass continues until the queue is empty, so the
// number of seeds is decided by the capacities rather than a fixed k.
func (s *Selector) SelectBudgeted(coll *rrset.Collection, pool *budget.Pool, ledger *budget.Ledger) Selection {
	sel := s.run(coll, pool.Candidates(), -1, ledger)
	sel.Sponsors = ledger.Assignments()
	return sel
}

func (s *Selector) run(coll *rrset.Collection, candidates []int, k int, ledger *budget.Ledger) Selection {
	s.gain = coll.CopyCounts(s.gain)
	if cap(s.covered) < coll.Size() {
		s.covered = make([]bool, coll.Size())
	} else {
		s.covered = s.covered[:coll.Size()]
		clear(s.covered)
	}

	entries := make([]lazyqueue.Entry, 0, len(candidates))
	for _, c := range candidates {
		if c < 0 || c >= len(s.remain) || s.remain[c] {
			continue
		}
		s.remain[c] = true
		entries = append(entries, lazyqueue.Entry{Node: c, Gain: float64(s.gain[c])})
	}
	defer func() {
		for _, e := range entries {
			s.remain[e.Node] = false
		}
	}()

	queue := lazyqueue.New(entries)
	seeds := make([]int, 0)
	covered := 0

	for queue.Len() > 0 && (k < 0 || len(seeds) < k) {
		top := queue.Pop()
		current := s.gain[top.Node]
		if top.Gain > float64(current) {
			top.Gain = float64(current)
			top.Round = len(seeds)
			queue.Push(top)
			continue
		}

		if ledger != nil {
			if _, ok := ledger.Claim(top.Node); !ok {
				s.remain[top.Node] = false
				continue
			}
		}

		covered += current
		seeds = append(seeds, top.Node)
		s.remain[top.Node] = false
		for _, idx := range coll.Coverage(top.Node) {
			if s.covered[idx] {
				continue
			}
			s.covered[idx] = true
			for _, u := range coll.Sample(idx) {
				if s.remain[u] {
					s.gain[u]--
				}
			}
		}
	}

	sel := Selection{Seeds: seeds, Covered: covered}
	if coll.Size() > 0 {
		sel.Coverage = float64(covered) / float64(coll.Size())
	}
	return sel
}
