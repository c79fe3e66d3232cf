// Package lazyqueue is the max-priority queue behind both lazy-greedy
// selectors.
//
// Each Entry caches a marginal gain together with the round (seed-set size)
// at which that gain was last validated. Marginal gains of a submodular
// objective never increase as the seed set grows, so a cached gain is an
// upper bound on the true one. An entry popped from the top whose gain is
// still current for the present round is therefore a true maximum and may be
// accepted; otherwise its gain is recomputed, the entry is re-stamped with
// the current round, and it is pushed back.
package lazyqueue

import "container/heap"

// Entry is a candidate with its cached marginal gain.
type Entry struct {
	Node  int
	Gain  float64
	Round int
}

// Queue orders entries by gain, highest first. Ties go to the smaller node
// id so runs with a fixed seed are reproducible.
type Queue struct {
	entries entries
}

// New builds a queue holding the given entries.
func New(initial []Entry) *Queue {
	q := &Queue{entries: make(entries, len(initial))}
	copy(q.entries, initial)
	heap.Init(&q.entries)
	return q
}

func (q *Queue) Len() int { return len(q.entries) }

// Push inserts e.
func (q *Queue) Push(e Entry) {
	heap.Push(&q.entries, e)
}

// Pop removes and returns the top entry. The queue must be non-empty.
func (q *Queue) Pop() Entry {
	return heap.Pop(&q.entries).(Entry)
}

// Peek returns the top entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

type entries []Entry

func (h entries) Len() int { return len(h) }
func (h entries) Less(i, j int) bool {
	if h[i].Gain != h[j].Gain {
		return h[i].Gain > h[j].Gain
	}
	return h[i].Node < h[j].Node
}
func (h entries) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entries) Push(x interface{}) { *h = append(*h, x.(Entry)) }
func (h *entries) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
