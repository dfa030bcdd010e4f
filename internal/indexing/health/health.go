// Package health reports whether the mirror is keeping up with its node.
package health

import (
	"time"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// SystemStatus represents the overall health state of the mirror.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report is the full health report served on /health/detailed.
type Report struct {
	Status           SystemStatus       `json:"status"`
	Running          bool               `json:"running"`
	State            string             `json:"state"`
	HasBlocks        bool               `json:"has_blocks"`
	LastSyncedHeight uint64             `json:"last_synced_height"`
	LastSyncedHash   string             `json:"last_synced_hash,omitempty"`
	ChainTip         uint64             `json:"chain_tip"`
	Lag              uint64             `json:"lag"`
	ChunkSize        int                `json:"chunk_size"`
	Degraded         bool               `json:"degraded"`
	BlocksPerSecond  float64            `json:"blocks_per_second"`
	Reorgs           int                `json:"reorgs"`
	LastCommitAge    float64            `json:"last_commit_age_seconds,omitempty"`
	LastHalt         *domain.HaltRecord `json:"last_halt,omitempty"`
	CheckedAt        time.Time          `json:"checked_at"`
}

// Thresholds decide when lag and commit age turn the status.
type Thresholds struct {
	DegradedLag uint64
	CriticalLag uint64
	// StaleAfter marks the mirror degraded when it is behind and nothing
	// has been committed for this long.
	StaleAfter time.Duration
}

// DefaultThresholds returns the thresholds used by the run command.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedLag: 10,
		CriticalLag: 100,
		StaleAfter:  5 * time.Minute,
	}
}
