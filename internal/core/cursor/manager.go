package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

var (
	// ErrNotLoaded is returned when the manager is used before Load.
	ErrNotLoaded = errors.New("sync state not loaded")

	// ErrNotMonotonic is returned when a commit would move the checkpoint
	// backwards. Only a rollback may do that.
	ErrNotMonotonic = errors.New("sync state must advance monotonically")

	// ErrHalted is returned when advancing a halted loop.
	ErrHalted = errors.New("sync is halted")
)

// Flags are the tracking options recorded in the sync state.
type Flags struct {
	InternalTransactions bool
	Tokens               bool
}

// Manager owns the sync checkpoint and the loop state machine. Checkpoint
// changes are staged into the same batch as the data they describe and only
// become visible through Committed once the batch is durable.
type Manager interface {
	// Load reads the checkpoint, creating it on first run.
	Load(ctx context.Context, flags Flags) (domain.SyncState, error)

	// Current returns the last committed checkpoint.
	Current() domain.SyncState

	// NextHeight is the first height not yet committed.
	NextHeight() uint64

	// StageAdvance puts the checkpoint for a chunk ending at last into b.
	StageAdvance(b *storage.Batch, last *domain.Block) (domain.SyncState, error)

	// StageRollback puts a checkpoint at ancestor into b. hasBlocks is false
	// when the rollback removed every stored block.
	StageRollback(b *storage.Batch, ancestor uint64, hash common.Hash, hasBlocks bool) (domain.SyncState, error)

	// Committed publishes a staged checkpoint after its batch was written.
	Committed(s domain.SyncState)

	// State returns the current loop state.
	State() State

	// SetState transitions the loop to a new state (validates transition).
	SetState(to State, reason string) error

	// Lag returns how many confirmed heights are not yet committed.
	Lag(target uint64) uint64

	// GetMetrics returns throughput and transition history.
	GetMetrics() Metrics

	// SetStateChangeCallback registers callback for state changes.
	SetStateChangeCallback(fn func(t Transition))
}

// DefaultManager implements Manager over a storage.Store.
type DefaultManager struct {
	store       storage.Store
	repo        *storage.Repository
	startHeight uint64

	mu            sync.RWMutex
	loaded        bool
	current       domain.SyncState
	state         State
	stateCallback func(Transition)
	collector     *MetricsCollector
	now           func() time.Time
}

func (m *DefaultManager) Load(ctx context.Context, flags Flags) (domain.SyncState, error) {
	s, err := m.repo.SyncState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s = &domain.SyncState{
			InternalTransactions: flags.InternalTransactions,
			Tokens:               flags.Tokens,
			UpdatedAt:            m.now(),
		}
		b := storage.NewBatch()
		if err := b.PutRecord(storage.KeySyncState, s); err != nil {
			return domain.SyncState{}, fmt.Errorf("failed to encode sync state: %w", err)
		}
		if err := m.store.Write(ctx, b); err != nil {
			return domain.SyncState{}, fmt.Errorf("failed to create sync state: %w", err)
		}
	case err != nil:
		return domain.SyncState{}, fmt.Errorf("failed to load sync state: %w", err)
	}

	// Flags follow configuration from the next commit on.
	s.InternalTransactions = flags.InternalTransactions
	s.Tokens = flags.Tokens

	m.mu.Lock()
	m.current = *s
	m.loaded = true
	m.mu.Unlock()
	return *s, nil
}

func (m *DefaultManager) Current() domain.SyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *DefaultManager) NextHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.NextHeight(m.startHeight)
}

func (m *DefaultManager) StageAdvance(b *storage.Batch, last *domain.Block) (domain.SyncState, error) {
	m.mu.RLock()
	cur, loaded, state := m.current, m.loaded, m.state
	m.mu.RUnlock()

	if !loaded {
		return domain.SyncState{}, ErrNotLoaded
	}
	if state == StateHalted {
		return domain.SyncState{}, ErrHalted
	}
	if cur.HasBlocks && last.Height <= cur.LastSyncedHeight {
		return domain.SyncState{}, fmt.Errorf("%w: at %d, got %d",
			ErrNotMonotonic, cur.LastSyncedHeight, last.Height)
	}

	next := cur
	next.LastSyncedHeight = last.Height
	next.LastSyncedHash = last.Hash
	next.HasBlocks = true
	next.UpdatedAt = m.now()
	if err := b.PutRecord(storage.KeySyncState, &next); err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to encode sync state: %w", err)
	}
	return next, nil
}

func (m *DefaultManager) StageRollback(
	b *storage.Batch,
	ancestor uint64,
	hash common.Hash,
	hasBlocks bool,
) (domain.SyncState, error) {
	m.mu.RLock()
	cur, loaded := m.current, m.loaded
	m.mu.RUnlock()

	if !loaded {
		return domain.SyncState{}, ErrNotLoaded
	}
	if hasBlocks && cur.HasBlocks && ancestor > cur.LastSyncedHeight {
		return domain.SyncState{}, fmt.Errorf("rollback target %d is above checkpoint %d",
			ancestor, cur.LastSyncedHeight)
	}

	next := cur
	next.HasBlocks = hasBlocks
	next.LastSyncedHeight = ancestor
	next.LastSyncedHash = hash
	if !hasBlocks {
		next.LastSyncedHeight = 0
		next.LastSyncedHash = common.Hash{}
	}
	next.UpdatedAt = m.now()
	if err := b.PutRecord(storage.KeySyncState, &next); err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to encode sync state: %w", err)
	}
	return next, nil
}

func (m *DefaultManager) Committed(s domain.SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
	if s.HasBlocks {
		m.collector.RecordCommit(s.LastSyncedHeight, s.UpdatedAt)
	}
}

func (m *DefaultManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *DefaultManager) SetState(to State, reason string) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}

	transition := NewTransition(from, to, reason)
	m.state = to
	m.collector.RecordTransition(transition)
	callback := m.stateCallback
	m.mu.Unlock()

	if callback != nil {
		callback(transition)
	}
	return nil
}

func (m *DefaultManager) Lag(target uint64) uint64 {
	next := m.NextHeight()
	if target+1 <= next {
		return 0
	}
	return target + 1 - next
}

func (m *DefaultManager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collector.GetMetrics()
}

func (m *DefaultManager) SetStateChangeCallback(fn func(t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}
