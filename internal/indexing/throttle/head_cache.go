package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/ethmirror/internal/indexing/metrics"
)

// TipSource reports the node's latest block height.
type TipSource interface {
	TipHeight(ctx context.Context) (uint64, error)
}

// HeadCache caches TipHeight to avoid asking the node on every chunk while
// catching up over a long range.
type HeadCache struct {
	source TipSource
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source TipSource, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// TipHeight returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) TipHeight(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source.TipHeight(ctx)
	if err != nil {
		return 0, err
	}
	metrics.ChainTip.Set(float64(head))

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Cached returns the last observed tip without calling the node.
func (c *HeadCache) Cached() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
