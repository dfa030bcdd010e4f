package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// Handler persists halt records so an operator can see why ingestion
// stopped without digging through logs.
type Handler struct {
	store storage.Store
	repo  *storage.Repository
	now   func() time.Time
}

// NewHandler creates a new halt handler.
func NewHandler(store storage.Store) *Handler {
	return &Handler{
		store: store,
		repo:  storage.NewRepository(store),
		now:   time.Now,
	}
}

// HaltReason maps a fatal error to a HaltRecord reason.
func HaltReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrReorgTooDeep):
		return domain.HaltReasonReorgTooDeep
	case errors.Is(err, domain.ErrCorruption), errors.Is(err, domain.ErrIOFailure):
		return domain.HaltReasonStorage
	case errors.Is(err, domain.ErrDecode):
		return domain.HaltReasonDecode
	default:
		return domain.HaltReasonSyncHalted
	}
}

// HandleFailure records a fatal failure at height. It is best effort: a
// store that cannot take the record is reported but does not mask err.
func (h *Handler) HandleFailure(ctx context.Context, height uint64, err error) (*domain.HaltRecord, error) {
	record := &domain.HaltRecord{
		ID:        uuid.New().String(),
		Reason:    HaltReason(err),
		Height:    height,
		Error:     err.Error(),
		CreatedAt: h.now().UTC(),
	}

	b := storage.NewBatch()
	if perr := b.PutRecord(storage.KeyHalt, record); perr != nil {
		return record, fmt.Errorf("failed to encode halt record: %w", perr)
	}
	if werr := h.store.Write(ctx, b); werr != nil {
		return record, fmt.Errorf("failed to persist halt record: %w", werr)
	}
	return record, nil
}

// LastHalt returns the stored halt record, or nil when there is none.
func (h *Handler) LastHalt(ctx context.Context) (*domain.HaltRecord, error) {
	record, err := h.repo.Halt(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return record, err
}

// StageClear adds the removal of the halt record to b. Used by the operator
// rollback so the clear lands with the rollback itself.
func (h *Handler) StageClear(b *storage.Batch) {
	b.Delete(storage.KeyHalt)
}
