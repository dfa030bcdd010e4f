package syncer

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/indexing/reorg"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// processChunk fetches, validates and commits [from, to]. It returns nil
// both after a commit and after a reorg repair; the caller re-reads the
// checkpoint either way.
func (s *Syncer) processChunk(ctx context.Context, from, to uint64) error {
	s.setState(cursor.StateFetching, fmt.Sprintf("chunk %d-%d", from, to))
	chunk, err := s.fetchChunk(ctx, from, to)
	if err != nil {
		return err
	}

	s.setState(cursor.StateValidating, "")
	for i := 1; i < len(chunk); i++ {
		if !chunk[i].Block.Follows(chunk[i-1].Block) {
			// The node switched forks while we were fetching.
			return fmt.Errorf("%w: block %d does not follow %d",
				domain.ErrDiscontinuity, chunk[i].Block.Height, chunk[i-1].Block.Height)
		}
	}
	if cur := s.cfg.Cursor.Current(); cur.HasBlocks {
		info, err := s.cfg.Detector.CheckParent(ctx, chunk[0].Block, cur.LastSyncedHeight)
		if err != nil {
			return err
		}
		if info.Detected {
			if info.Depth == 0 {
				return fmt.Errorf("%w: parent of block %d changed during fetch",
					domain.ErrDiscontinuity, chunk[0].Block.Height)
			}
			return s.repair(ctx, info)
		}
	}

	s.setState(cursor.StateIndexing, "")
	if err := s.checkMemory(); err != nil {
		return err
	}
	batch, err := s.cfg.Indexer.BuildChunk(ctx, chunk)
	if err != nil {
		return err
	}
	last := chunk[len(chunk)-1].Block
	next, err := s.cfg.Cursor.StageAdvance(batch, last)
	if err != nil {
		return fmt.Errorf("%w: stage checkpoint at %d: %w", domain.ErrSyncHalted, last.Height, err)
	}
	if s.clearHalt {
		s.cfg.Halts.StageClear(batch)
	}

	start := time.Now()
	if err := s.cfg.Store.Write(ctx, batch); err != nil {
		return fmt.Errorf("commit chunk %d-%d: %w", from, to, err)
	}
	metrics.CommitLatency.Observe(time.Since(start).Seconds())
	s.cfg.Cursor.Committed(next)
	s.setState(cursor.StateCommitted, "")
	s.afterCommit(chunk, batch, next)
	return nil
}

func (s *Syncer) afterCommit(chunk []*indexer.BlockData, batch *storage.Batch, next domain.SyncState) {
	for _, d := range chunk {
		s.cfg.Detector.Remember(d.Block)
		for _, t := range d.NewTokens {
			s.known.Add(t.Address)
		}
	}
	s.clearHalt = false
	s.decodeSeen = false
	s.lastCommit.Store(next.UpdatedAt.UnixNano())

	from, to := chunk[0].Block.Height, chunk[len(chunk)-1].Block.Height
	metrics.BlocksIndexed.Add(float64(len(chunk)))
	metrics.ChunksCommitted.WithLabelValues("committed").Inc()
	metrics.LastSyncedHeight.Set(float64(to))

	if s.cfg.Sizer.Success() {
		size := s.cfg.Sizer.Size()
		s.log.Info("chunk size recovering", "chunk_size", size)
		s.emit(domain.Event{
			Type:     domain.EventRecovered,
			ToHeight: to,
			Metadata: map[string]any{"chunk_size": size},
		})
	}

	s.log.Info("chunk committed",
		"from", from,
		"to", to,
		"ops", batch.Len(),
		"bytes", batch.Size(),
	)
	s.emit(domain.Event{Type: domain.EventChunkCommitted, FromHeight: from, ToHeight: to})
}

// repair rolls back to the common ancestor described by info.
func (s *Syncer) repair(ctx context.Context, info *reorg.Info) error {
	s.setState(cursor.StateRepairing, fmt.Sprintf("reorg below %d, depth %d", info.Tip, info.Depth))
	res, err := s.cfg.Reorg.Repair(ctx, info)
	if err != nil {
		return fmt.Errorf("reorg repair: %w", err)
	}
	s.cfg.Tip.Invalidate()
	s.known.Reset()
	metrics.ChunksCommitted.WithLabelValues("repaired").Inc()
	s.emit(domain.Event{
		Type:       domain.EventReorgRepaired,
		FromHeight: info.Ancestor + 1,
		ToHeight:   info.Tip,
		Depth:      info.Depth,
		Metadata:   map[string]any{"orphaned": res.OrphanedBlocks},
	})
	return nil
}

// checkMemory treats a heap above the configured limit like an oversized
// response: the chunk shrinks and is retried.
func (s *Syncer) checkMemory() error {
	if s.cfg.MemoryLimitMB <= 0 {
		return nil
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if limit := uint64(s.cfg.MemoryLimitMB) << 20; m.HeapAlloc > limit {
		return fmt.Errorf("%w: heap at %d MiB, limit %d MiB",
			domain.ErrResourceExhausted, m.HeapAlloc>>20, s.cfg.MemoryLimitMB)
	}
	return nil
}
