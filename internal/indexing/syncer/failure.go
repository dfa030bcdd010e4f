package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/indexing/recovery"
)

// handleFailure decides what happens after a chunk failed. retry is true
// when the loop should try the same start height again right away; a
// non-nil error stops the loop.
func (s *Syncer) handleFailure(ctx context.Context, from, to uint64, cause error, attempt *int) (retry bool, err error) {
	category := recovery.Classify(cause)
	log := s.log.With("from", from, "to", to, "category", category.String(), "error", cause)

	switch category {
	case recovery.CategoryCanceled, recovery.CategoryFatal:
		return false, cause
	case recovery.CategoryResource:
		return s.degrade(from, to, cause, log)
	case recovery.CategoryDecode:
		shrinks := s.cfg.Sizer.Shrinks()
		if s.decodeSeen && shrinks > s.decodeShrinks {
			return false, fmt.Errorf("%w: decode error persisted after shrinking the chunk: %w",
				domain.ErrSyncHalted, cause)
		}
		s.decodeSeen = true
		s.decodeShrinks = shrinks
	}

	s.setState(cursor.StateIdle, category.String()+" failure")
	if !s.cfg.Backoff.ShouldRetry(cause, *attempt) {
		log.Warn("retries exhausted, waiting for next refresh",
			"attempts", *attempt, "refresh", s.cfg.RefreshInterval)
		s.cfg.Tip.Invalidate()
		return false, nil
	}

	delay := s.cfg.Backoff.GetDelay(*attempt)
	*attempt++
	metrics.RetriesTotal.WithLabelValues(category.String()).Inc()
	log.Warn("chunk failed, retrying", "attempt", *attempt, "delay", delay)
	if err := recovery.Sleep(ctx, delay); err != nil {
		return false, err
	}
	return true, nil
}

// degrade shrinks the chunk and retries the same range immediately.
func (s *Syncer) degrade(from, to uint64, cause error, log *slog.Logger) (bool, error) {
	size, err := s.cfg.Sizer.Shrink()
	if err != nil {
		return false, fmt.Errorf("%w: %w", err, cause)
	}
	s.setState(cursor.StateDegraded, fmt.Sprintf("chunk size %d", size))
	metrics.RetriesTotal.WithLabelValues(recovery.CategoryResource.String()).Inc()
	metrics.ChunksCommitted.WithLabelValues("degraded").Inc()

	// Hand the failed chunk's memory back before retrying.
	debug.FreeOSMemory()

	log.Warn("resource exhausted, shrinking chunk", "chunk_size", size)
	s.emit(domain.Event{
		Type:       domain.EventDegraded,
		FromHeight: from,
		ToHeight:   to,
		Metadata:   map[string]any{"chunk_size": size},
	})
	return true, nil
}

// waitForRefresh handles a failure outside chunk processing: fatal errors
// stop the loop, anything else waits for the next refresh.
func (s *Syncer) waitForRefresh(op string, cause error) (bool, error) {
	switch recovery.Classify(cause) {
	case recovery.CategoryCanceled, recovery.CategoryFatal:
		return false, cause
	}
	s.setState(cursor.StateIdle, op+" failed")
	s.log.Warn("sync step failed, waiting for next refresh", "op", op, "error", cause)
	return true, nil
}

// halt records a fatal error and moves the loop to HALTED.
func (s *Syncer) halt(ctx context.Context, cause error) error {
	s.setState(cursor.StateHalted, cause.Error())
	height := s.cfg.Cursor.NextHeight()

	record, err := s.cfg.Halts.HandleFailure(context.WithoutCancel(ctx), height, cause)
	if err != nil {
		s.log.Error("failed to record halt", "error", err)
	}
	metrics.ChunksCommitted.WithLabelValues("halted").Inc()
	s.log.Error("sync halted",
		"height", height,
		"reason", record.Reason,
		"halt_id", record.ID,
		"error", cause,
	)
	s.emit(domain.Event{
		Type:       domain.EventHalted,
		FromHeight: height,
		Metadata:   map[string]any{"reason": record.Reason, "error": cause.Error()},
	})
	return fmt.Errorf("sync halted at height %d: %w", height, cause)
}
