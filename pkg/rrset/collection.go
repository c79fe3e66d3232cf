package rrset

import (
	"fmt"
)

// Collection is an append-only store of RR samples with an inverted index
// from node to the samples containing it.
//
// Invariant: CoverageCount(v) == len(Coverage(v)) for every v, and the index
// is exactly what Rebuild would derive from the sample list.
type Collection struct {
	numNodes      int
	sets          [][]int
	coverage      [][]int
	coverageCount []int
}

// NewCollection creates an empty collection for a graph with n nodes.
func NewCollection(numNodes int) *Collection {
	return &Collection{
		numNodes:      numNodes,
		coverage:      make([][]int, numNodes),
		coverageCount: make([]int, numNodes),
	}
}

// Insert appends sample and indexes every node in it. The collection takes
// ownership of the slice.
func (c *Collection) Insert(sample []int) {
	idx := len(c.sets)
	c.sets = append(c.sets, sample)
	for _, u := range sample {
		c.coverage[u] = append(c.coverage[u], idx)
		c.coverageCount[u]++
	}
}

// Reset drops all samples together with the index.
func (c *Collection) Reset() {
	c.sets = nil
	for u := range c.coverage {
		c.coverage[u] = nil
		c.coverageCount[u] = 0
	}
}

// Size returns the number of samples.
func (c *Collection) Size() int {
	return len(c.sets)
}

// NumNodes returns the node range the index was sized for.
func (c *Collection) NumNodes() int {
	return c.numNodes
}

// Sample returns sample i. Callers must not modify it.
func (c *Collection) Sample(i int) []int {
	return c.sets[i]
}

// Coverage returns the indices of samples containing node.
func (c *Collection) Coverage(node int) []int {
	return c.coverage[node]
}

// CoverageCount returns how many samples contain node.
func (c *Collection) CoverageCount(node int) int {
	return c.coverageCount[node]
}

// CopyCounts copies the coverage counts into dst, growing it if needed.
func (c *Collection) CopyCounts(dst []int) []int {
	if cap(dst) < c.numNodes {
		dst = make([]int, c.numNodes)
	}
	dst = dst[:c.numNodes]
	copy(dst, c.coverageCount)
	return dst
}

// Rebuild derives the index from scratch out of the sample list.
func (c *Collection) Rebuild() ([][]int, []int) {
	coverage := make([][]int, c.numNodes)
	counts := make([]int, c.numNodes)
	for idx, sample := range c.sets {
		for _, u := range sample {
			coverage[u] = append(coverage[u], idx)
			counts[u]++
		}
	}
	return coverage, counts
}

// Verify checks the incremental index against a full rebuild.
func (c *Collection) Verify() error {
	coverage, counts := c.Rebuild()
	for u := 0; u < c.numNodes; u++ {
		if counts[u] != c.coverageCount[u] {
			return fmt.Errorf("node %d: coverage count %d, rebuilt %d", u, c.coverageCount[u], counts[u])
		}
		if len(c.coverage[u]) != c.coverageCount[u] {
			return fmt.Errorf("node %d: %d indexed samples but count %d", u, len(c.coverage[u]), c.coverageCount[u])
		}
		for i, idx := range coverage[u] {
			if c.coverage[u][i] != idx {
				return fmt.Errorf("node %d: index entry %d is %d, rebuilt %d", u, i, c.coverage[u][i], idx)
			}
		}
	}
	return nil
}

// Grow appends samples from gen until the collection holds target samples.
// It never shrinks. The number of samples added is returned.
func (c *Collection) Grow(gen *Generator, target int, onSample func(size int)) int {
	added := 0
	for len(c.sets) < target {
		sample := gen.RandomSample()
		c.Insert(sample)
		added++
		if onSample != nil {
			onSample(len(sample))
		}
	}
	return added
}
