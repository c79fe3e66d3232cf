package budget

import (
	"math"
	"math/rand"
)

// Ledger tracks per-participant capacity usage for one selector invocation.
//
// Each candidate's source list is shuffled exactly once, at construction,
// with the caller's RNG, so ties between sponsoring participants are broken
// fairly and reproducibly. Exhausted participants are pruned from a
// candidate's list the first time they are encountered and never return
// until Reset.
type Ledger struct {
	capacity    int
	numSources  int
	shuffled    [][]int
	sources     [][]int
	used        map[int]int
	assignments map[int]int
}

// NewLedger gives every participant of pool a capacity of perSourceK.
func NewLedger(pool *Pool, perSourceK int, rng *rand.Rand) *Ledger {
	shuffled := make([][]int, len(pool.sources))
	for _, c := range pool.candidates {
		list := append([]int(nil), pool.sources[c]...)
		rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
		shuffled[c] = list
	}

	l := &Ledger{
		capacity:   perSourceK,
		numSources: len(pool.participants),
		shuffled:   shuffled,
	}
	l.Reset()
	return l
}

// Reset clears all usage and restores every pruned source list to its
// shuffled order.
func (l *Ledger) Reset() {
	l.sources = make([][]int, len(l.shuffled))
	for c, list := range l.shuffled {
		if list != nil {
			l.sources[c] = append([]int(nil), list...)
		}
	}
	l.used = make(map[int]int, l.numSources)
	l.assignments = make(map[int]int)
}

// Capacity is the per-participant budget.
func (l *Ledger) Capacity() int { return l.capacity }

// TotalBudget is the sum of all participant capacities, saturating at
// math.MaxInt.
func (l *Ledger) TotalBudget() int {
	if l.numSources > 0 && l.capacity > math.MaxInt/l.numSources {
		return math.MaxInt
	}
	return l.capacity * l.numSources
}

// Source picks the participant that would sponsor candidate c: the earliest
// entry of c's shuffled source list that still has capacity. Exhausted
// entries met on the way are pruned. No capacity is consumed.
func (l *Ledger) Source(c int) (int, bool) {
	if c < 0 || c >= len(l.sources) {
		return 0, false
	}
	list := l.sources[c]
	i := 0
	for i < len(list) && l.used[list[i]] >= l.capacity {
		i++
	}
	list = list[i:]
	l.sources[c] = list
	if len(list) == 0 {
		return 0, false
	}
	return list[0], true
}

// Claim sponsors candidate c with the participant chosen by Source and
// charges that participant one unit.
func (l *Ledger) Claim(c int) (int, bool) {
	p, ok := l.Source(c)
	if !ok {
		return 0, false
	}
	l.used[p]++
	l.assignments[c] = p
	return p, true
}

// Usage returns how many seeds participant p has sponsored.
func (l *Ledger) Usage(p int) int { return l.used[p] }

// Assignments maps each claimed candidate to its sponsoring participant.
func (l *Ledger) Assignments() map[int]int {
	out := make(map[int]int, len(l.assignments))
	for c, p := range l.assignments {
		out[c] = p
	}
	return out
}
