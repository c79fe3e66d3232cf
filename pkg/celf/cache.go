package celf

import (
	"context"
	"fmt"

	"github.com/maypok86/otter/v2"
)

// SpreadCache memoizes the singleton spread of nodes, the initial marginal
// gain of every candidate. It is safe for concurrent use and may be shared by
// selectors working on the same graph and model.
type SpreadCache struct {
	cache *otter.Cache[int, float64]
}

// NewSpreadCache creates a cache holding at most size singleton spreads.
func NewSpreadCache(size int) (*SpreadCache, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := otter.New(&otter.Options[int, float64]{
		MaximumSize: size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create spread cache: %w", err)
	}
	return &SpreadCache{cache: cache}, nil
}

// Get returns the cached spread of node, if present.
func (c *SpreadCache) Get(node int) (float64, bool) {
	return c.cache.GetIfPresent(node)
}

// Set stores the spread of node.
func (c *SpreadCache) Set(node int, spread float64) {
	c.cache.Set(node, spread)
}

// Preload stores spreads[i] as the spread of node i, e.g. values read from a
// precomputed singleton-spread file.
func (c *SpreadCache) Preload(spreads []float64) {
	for node, spread := range spreads {
		c.cache.Set(node, spread)
	}
}

// Len is the approximate number of cached entries.
func (c *SpreadCache) Len() int {
	return c.cache.EstimatedSize()
}

// load returns the spread of node, computing and caching it on a miss.
func (c *SpreadCache) load(ctx context.Context, node int, compute func(int) float64) (float64, bool, error) {
	hit := true
	spread, err := c.cache.Get(ctx, node, otter.LoaderFunc[int, float64](func(ctx context.Context, key int) (float64, error) {
		hit = false
		return compute(key), nil
	}))
	return spread, hit, err
}
