package throttle

import "time"

// Config holds configuration for adaptive chunk sizing.
type Config struct {
	// BulkSize is the chunk size under normal conditions (default: 1000)
	BulkSize int

	// RecoverAfter is the number of consecutive successful commits after
	// which a shrunk chunk size doubles back toward BulkSize (default: 5)
	RecoverAfter int

	// HaltAfter is the number of consecutive resource failures at chunk
	// size 1 that make the sync loop give up (default: 3)
	HaltAfter int

	// TipCacheTTL is how long a TipHeight result is reused (default: 3s)
	TipCacheTTL time.Duration
}

// DefaultConfig returns sensible defaults for adaptive chunk sizing.
func DefaultConfig() Config {
	return Config{
		BulkSize:     1000,
		RecoverAfter: 5,
		HaltAfter:    3,
		TipCacheTTL:  3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BulkSize <= 0 {
		c.BulkSize = d.BulkSize
	}
	if c.RecoverAfter <= 0 {
		c.RecoverAfter = d.RecoverAfter
	}
	if c.HaltAfter <= 0 {
		c.HaltAfter = d.HaltAfter
	}
	if c.TipCacheTTL <= 0 {
		c.TipCacheTTL = d.TipCacheTTL
	}
	return c
}
