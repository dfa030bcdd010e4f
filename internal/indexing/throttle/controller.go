package throttle

import (
	"fmt"
	"sync"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
)

// ChunkSizer computes the effective chunk size under resource pressure.
//
// Algorithm:
//   - Resource failure above size 1: halve the size (floor 1)
//   - Resource failure at size 1: count it; HaltAfter in a row is fatal
//   - RecoverAfter successful commits in a row: double toward BulkSize
type ChunkSizer struct {
	config Config

	mu            sync.Mutex
	size          int
	successes     int
	floorFailures int
	shrinks       uint64
}

// NewChunkSizer creates a sizer starting at the configured bulk size.
func NewChunkSizer(config Config) *ChunkSizer {
	config = config.withDefaults()
	metrics.ChunkSize.Set(float64(config.BulkSize))
	return &ChunkSizer{config: config, size: config.BulkSize}
}

// Size returns the current effective chunk size.
func (c *ChunkSizer) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Degraded reports whether the size is below the bulk size.
func (c *ChunkSizer) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size < c.config.BulkSize
}

// Shrinks is the number of times the size has been reduced. The sync loop
// uses it to tell whether a repeated decode error survived a shrink.
func (c *ChunkSizer) Shrinks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shrinks
}

// Shrink records a resource failure and returns the size to retry with.
// It fails with domain.ErrSyncHalted once HaltAfter consecutive failures
// happened at size 1.
func (c *ChunkSizer) Shrink() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes = 0
	if c.size == 1 {
		c.floorFailures++
		if c.floorFailures >= c.config.HaltAfter {
			return 1, fmt.Errorf("%w: %d consecutive resource failures at chunk size 1",
				domain.ErrSyncHalted, c.floorFailures)
		}
		return 1, nil
	}

	c.size = max(1, c.size/2)
	c.shrinks++
	metrics.ChunkSize.Set(float64(c.size))
	return c.size, nil
}

// Success records a committed chunk. It returns true when the size grew.
func (c *ChunkSizer) Success() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.floorFailures = 0
	if c.size >= c.config.BulkSize {
		c.successes = 0
		return false
	}
	c.successes++
	if c.successes < c.config.RecoverAfter {
		return false
	}
	c.successes = 0
	c.size = min(c.config.BulkSize, c.size*2)
	metrics.ChunkSize.Set(float64(c.size))
	return true
}

// Reset restores the bulk size.
func (c *ChunkSizer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = c.config.BulkSize
	c.successes = 0
	c.floorFailures = 0
	metrics.ChunkSize.Set(float64(c.size))
}
