package reorg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// Handler executes reorg rollbacks.
type Handler struct {
	store     storage.Store
	indexer   *indexer.Indexer
	cursorMgr cursor.Manager
	detector  *Detector
	log       *slog.Logger
	callback  func(result RollbackResult)
}

// RollbackResult contains the result of a rollback operation.
type RollbackResult struct {
	Tip            uint64
	Ancestor       uint64
	OrphanedBlocks int
	BatchOps       int
	Duration       time.Duration
}

// SetRollbackCallback sets a callback invoked after each committed rollback.
func (h *Handler) SetRollbackCallback(fn func(result RollbackResult)) {
	h.callback = fn
}

// Repair removes every entry above the common ancestor and resets the
// checkpoint, all in one batch. A zero-depth reorg (the node changed its
// mind between two requests) writes nothing.
func (h *Handler) Repair(ctx context.Context, info *Info) (*RollbackResult, error) {
	start := time.Now()
	result := &RollbackResult{Tip: info.Tip, Ancestor: info.Ancestor}
	if !info.Detected || info.Depth == 0 {
		return result, nil
	}

	b := storage.NewBatch()
	removed, err := h.indexer.Rollback(ctx, b, info.Ancestor, info.Tip)
	if err != nil {
		return nil, fmt.Errorf("failed to stage rollback to %d: %w", info.Ancestor, err)
	}
	next, err := h.cursorMgr.StageRollback(b, info.Ancestor, info.AncestorHash, info.HasAncestor)
	if err != nil {
		return nil, fmt.Errorf("failed to stage checkpoint: %w", err)
	}
	if err := h.store.Write(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to commit rollback: %w", err)
	}
	h.cursorMgr.Committed(next)
	h.detector.Forget(info.Ancestor+1, info.Tip)

	result.OrphanedBlocks = removed
	result.BatchOps = b.Len()
	result.Duration = time.Since(start)

	metrics.ReorgsTotal.Inc()
	metrics.ReorgDepth.Observe(float64(info.Depth))
	metrics.LastSyncedHeight.Set(float64(next.LastSyncedHeight))
	h.log.Warn("reorg repaired",
		"ancestor", info.Ancestor,
		"tip", info.Tip,
		"depth", info.Depth,
		"orphaned", removed,
		"ops", result.BatchOps,
		"duration", result.Duration,
	)

	if h.callback != nil {
		h.callback(*result)
	}
	return result, nil
}
