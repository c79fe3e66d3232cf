// Package budget models the active-participant side of budgeted seeding:
// which target nodes are eligible, which participants can sponsor each of
// them, and how much of each participant's capacity has been used.
package budget

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// Pool is the candidate pool induced by an active-participant set A: every
// out-neighbour of a participant that is not itself in A. For each candidate
// it records the participants that can sponsor it.
type Pool struct {
	participants []int
	members      mapset.Set[int]
	candidates   []int
	sources      [][]int
}

// NewPool derives the candidate pool of participants on g. Duplicate and
// out-of-range participants are ignored.
func NewPool(g *models.Graph, participants []int) *Pool {
	members := mapset.NewThreadUnsafeSet[int]()
	ordered := make([]int, 0, len(participants))
	for _, u := range participants {
		if u < 0 || u >= g.NumNodes || members.Contains(u) {
			continue
		}
		members.Add(u)
		ordered = append(ordered, u)
	}

	sources := make([][]int, g.NumNodes)
	candidates := make([]int, 0)
	for _, u := range ordered {
		for _, e := range g.Out[u] {
			v := e.To
			if members.Contains(v) {
				continue
			}
			if n := len(sources[v]); n > 0 && sources[v][n-1] == u {
				continue
			}
			if len(sources[v]) == 0 {
				candidates = append(candidates, v)
			}
			sources[v] = append(sources[v], u)
		}
	}
	sort.Ints(candidates)

	return &Pool{
		participants: ordered,
		members:      members,
		candidates:   candidates,
		sources:      sources,
	}
}

// NeighborPool returns u's out-neighbours that are not in participants,
// sorted and de-duplicated.
func NeighborPool(g *models.Graph, u int, participants []int) []int {
	return NewPool(g, participants).CandidatesOf(u)
}

// Participants returns the de-duplicated participant list in input order.
func (p *Pool) Participants() []int { return p.participants }

// Candidates returns the sorted candidate pool.
func (p *Pool) Candidates() []int { return p.candidates }

// Size returns the number of candidates.
func (p *Pool) Size() int { return len(p.candidates) }

// IsParticipant reports whether u belongs to A.
func (p *Pool) IsParticipant(u int) bool { return p.members.Contains(u) }

// Sources returns the participants able to sponsor candidate c.
func (p *Pool) Sources(c int) []int {
	if c < 0 || c >= len(p.sources) {
		return nil
	}
	return p.sources[c]
}

// CandidatesOf returns the candidates sponsored by participant u, sorted.
func (p *Pool) CandidatesOf(u int) []int {
	out := make([]int, 0)
	for _, c := range p.candidates {
		for _, s := range p.sources[c] {
			if s == u {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// NeighborUnionSize is the number of distinct out-neighbours of A, including
// those inside A.
func NeighborUnionSize(g *models.Graph, participants []int) int {
	union := mapset.NewThreadUnsafeSet[int]()
	for _, u := range participants {
		for _, e := range g.Neighbors(u) {
			union.Add(e.To)
		}
	}
	return union.Cardinality()
}
