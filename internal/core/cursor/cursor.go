// Package cursor tracks where the mirror is and what the sync loop is doing.
//
// # Purpose
//
// The checkpoint (domain.SyncState) is the bookmark of the mirror:
//   - Last synced height: which height to fetch next
//   - Last synced hash: anchor for reorg detection
//   - Tracking flags: which optional indexes are being written
//
// # Key Features
//
// State Machine - Only allows valid transitions:
//
//	IDLE → FETCHING → VALIDATING → INDEXING → COMMITTED → IDLE (valid)
//	VALIDATING → REPAIRING → FETCHING (valid, reorg)
//	HALTED → FETCHING (invalid - halting is terminal)
//
// Atomic Updates - The checkpoint is staged into the chunk's write batch and
// published with Committed only after the batch is durable, so a crash
// between fetch and commit replays the chunk instead of skipping it.
//
// Monotonic - StageAdvance refuses to move the checkpoint backwards; only
// StageRollback may do that.
//
// # Quick Start
//
//	manager := cursor.NewManager(store, startHeight)
//	state, _ := manager.Load(ctx, cursor.Flags{Tokens: true})
//
//	b := storage.NewBatch()
//	// ... index the chunk into b ...
//	next, _ := manager.StageAdvance(b, lastBlock)
//	if err := store.Write(ctx, b); err == nil {
//	    manager.Committed(next)
//	}
//
// # Package Structure
//
//   - state.go   - State machine definitions and valid transitions
//   - manager.go - Checkpoint staging, rollback and state changes
//   - metrics.go - Throughput and transition history
package cursor

import (
	"time"

	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// NewManager creates a manager over store. startHeight is the first height
// synced when the store is empty.
func NewManager(store storage.Store, startHeight uint64) *DefaultManager {
	return &DefaultManager{
		store:       store,
		repo:        storage.NewRepository(store),
		startHeight: startHeight,
		state:       StateIdle,
		collector:   NewMetricsCollector(100),
		now:         time.Now,
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		commits:     make([]commitRecord, 0, windowSize),
		transitions: make([]Transition, 0, 20),
	}
}
