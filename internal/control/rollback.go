package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/recovery"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// ErrNothingToRollBack is returned when the store holds no blocks.
var ErrNothingToRollBack = errors.New("no committed blocks")

// RollbackResult reports an operator rollback.
type RollbackResult struct {
	From       uint64
	To         uint64
	Removed    int
	Cleared    bool // every stored block was removed
	Checkpoint domain.SyncState
}

// Rollback removes every block above target, moves the checkpoint to target
// and clears any halt record, all in one batch. A target below the first
// stored block empties the mirror; the next run starts from the configured
// start height.
//
// The mirror must not be running.
func Rollback(ctx context.Context, store storage.Store, target uint64, log *slog.Logger) (*RollbackResult, error) {
	repo := storage.NewRepository(store)
	state, err := repo.SyncState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNothingToRollBack
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	if !state.HasBlocks {
		return nil, ErrNothingToRollBack
	}
	if target >= state.LastSyncedHeight {
		return nil, fmt.Errorf("target %d is not below checkpoint %d", target, state.LastSyncedHeight)
	}

	first, ok, err := repo.FirstBlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find first block: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint at %d but no blocks stored", domain.ErrCorruption, state.LastSyncedHeight)
	}

	mgr := cursor.NewManager(store, first)
	if _, err := mgr.Load(ctx, cursor.Flags{
		InternalTransactions: state.InternalTransactions,
		Tokens:               state.Tokens,
	}); err != nil {
		return nil, err
	}
	ix := indexer.New(indexer.Options{
		InternalTransactions: state.InternalTransactions,
		Tokens:               state.Tokens,
	}, repo, log)

	keep := target >= first
	var (
		ancestor uint64
		hash     common.Hash
	)
	if keep {
		blk, err := repo.Block(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to load block %d: %w", target, err)
		}
		ancestor, hash = target, blk.Hash
	} else {
		// first > target >= 0, so first-1 does not wrap.
		ancestor = first - 1
	}

	b := storage.NewBatch()
	removed, err := ix.Rollback(ctx, b, ancestor, state.LastSyncedHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to stage rollback: %w", err)
	}
	next, err := mgr.StageRollback(b, ancestor, hash, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to stage checkpoint: %w", err)
	}
	recovery.NewHandler(store).StageClear(b)

	if err := store.Write(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to commit rollback: %w", err)
	}

	log.Warn("Rolled back",
		"from", state.LastSyncedHeight,
		"to", target,
		"removed", removed,
		"ops", b.Len(),
		"cleared", !keep,
	)
	return &RollbackResult{
		From:       state.LastSyncedHeight,
		To:         target,
		Removed:    removed,
		Cleared:    !keep,
		Checkpoint: next,
	}, nil
}
