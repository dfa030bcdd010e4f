package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/syncer"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// StoreStatus is what the status command prints.
type StoreStatus struct {
	Initialized bool
	State       domain.SyncState
	FirstBlock  *uint64
	LastHalt    *domain.HaltRecord

	// Filled only when the node answered.
	ChainTip  *uint64
	Target    uint64
	Lag       uint64
	NodeError error
}

// Inspect reads the checkpoint and halt record from store and, when node is
// non-nil, compares them against the chain tip.
func Inspect(ctx context.Context, store storage.Reader, node chain.NodeClient, confirmations, startHeight uint64) (*StoreStatus, error) {
	repo := storage.NewRepository(store)
	st := &StoreStatus{}

	state, err := repo.SyncState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	default:
		st.Initialized = true
		st.State = *state
	}

	if first, ok, err := repo.FirstBlockHeight(ctx); err != nil {
		return nil, err
	} else if ok {
		st.FirstBlock = &first
	}

	halt, err := repo.Halt(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load halt record: %w", err)
	default:
		st.LastHalt = halt
	}

	if node == nil {
		return st, nil
	}
	tipCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tip, err := node.TipHeight(tipCtx)
	if err != nil {
		st.NodeError = err
		return st, nil
	}
	st.ChainTip = &tip
	if target, ok := syncer.TargetHeight(tip, confirmations); ok {
		st.Target = target
		if next := st.State.NextHeight(startHeight); target+1 > next {
			st.Lag = target + 1 - next
		}
	}
	return st, nil
}
