// Package syncer drives ingestion. It picks the confirmed range to fetch,
// pulls it from the node in chunks, checks continuity against the store and
// commits each chunk together with its checkpoint in one batch.
//
// # Loop
//
//	IDLE → FETCHING → VALIDATING → INDEXING → COMMITTED → FETCHING | IDLE
//
// A parent-hash mismatch detours through REPAIRING, resource exhaustion
// through DEGRADED. Fatal errors end in HALTED and Run returns the cause.
//
// # Usage
//
//	s, err := syncer.New(syncer.Config{
//	    Node: node, Store: store, Cursor: cursorMgr,
//	    Indexer: ix, Detector: detector, Reorg: reorgHandler,
//	    Confirmations: 12, RefreshInterval: 20 * time.Second, MaxWorkers: 8,
//	})
//	err = s.Run(ctx) // blocks until ctx is cancelled or the loop halts
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/filter"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/indexing/recovery"
	"github.com/vietddude/ethmirror/internal/indexing/reorg"
	"github.com/vietddude/ethmirror/internal/indexing/throttle"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// Config holds the loop's collaborators and tuning.
type Config struct {
	Node     chain.NodeClient
	Store    storage.Store
	Cursor   cursor.Manager
	Indexer  *indexer.Indexer
	Detector *reorg.Detector
	Reorg    *reorg.Handler

	// Optional; defaults are built from the fields above.
	Sizer   *throttle.ChunkSizer
	Tip     *throttle.HeadCache
	Backoff recovery.RetryStrategy
	Halts   *recovery.Handler
	Log     *slog.Logger

	Confirmations   uint64
	RefreshInterval time.Duration
	MaxWorkers      int
	// MemoryLimitMB is the heap ceiling checked before each batch is built.
	// Zero disables the check.
	MemoryLimitMB int
	// KnownTokens bounds the in-memory set of tokens already stored.
	KnownTokens int

	// OnEvent is called on the loop goroutine; it must not block.
	OnEvent func(domain.Event)
}

// Status is a point-in-time view of the loop.
type Status struct {
	Running          bool
	State            cursor.State
	HasBlocks        bool
	LastSyncedHeight uint64
	LastSyncedHash   common.Hash
	ChainTip         uint64
	Lag              uint64
	ChunkSize        int
	Degraded         bool
	BlocksPerSecond  float64
	Reorgs           int
	LastCommitAt     time.Time
}

// Syncer is the sync loop.
type Syncer struct {
	cfg  Config
	repo  *storage.Repository
	known *filter.KnownSet
	log   *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	lastCommit atomic.Int64

	// Loop goroutine only.
	decodeSeen    bool
	decodeShrinks uint64
	clearHalt     bool
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Syncer, error) {
	switch {
	case cfg.Node == nil:
		return nil, errors.New("syncer: node client is required")
	case cfg.Store == nil:
		return nil, errors.New("syncer: store is required")
	case cfg.Cursor == nil:
		return nil, errors.New("syncer: cursor manager is required")
	case cfg.Indexer == nil:
		return nil, errors.New("syncer: indexer is required")
	case cfg.Detector == nil || cfg.Reorg == nil:
		return nil, errors.New("syncer: reorg detector and handler are required")
	}

	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Sizer == nil {
		cfg.Sizer = throttle.NewChunkSizer(throttle.DefaultConfig())
	}
	if cfg.Tip == nil {
		cfg.Tip = throttle.NewHeadCache(cfg.Node, throttle.DefaultConfig().TipCacheTTL)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = recovery.DefaultBackoff(recovery.Classify)
	}
	if cfg.Halts == nil {
		cfg.Halts = recovery.NewHandler(cfg.Store)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 20 * time.Second
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}

	return &Syncer{
		cfg:   cfg,
		repo:  storage.NewRepository(cfg.Store),
		known: filter.NewKnownSet(cfg.KnownTokens),
		log:   cfg.Log.With("component", "syncer"),
	}, nil
}

// Run loads the checkpoint and syncs until ctx is cancelled or Stop is
// called, which return nil, or until a fatal error halts the loop, which is
// returned.
func (s *Syncer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("syncer already running")
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	opts := s.cfg.Indexer.Options()
	state, err := s.cfg.Cursor.Load(ctx, cursor.Flags{
		InternalTransactions: opts.InternalTransactions,
		Tokens:               opts.Tokens,
	})
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	metrics.LastSyncedHeight.Set(float64(state.LastSyncedHeight))

	if prev, err := s.cfg.Halts.LastHalt(ctx); err != nil {
		return fmt.Errorf("failed to read halt record: %w", err)
	} else if prev != nil {
		s.log.Warn("resuming after a recorded halt",
			"id", prev.ID, "reason", prev.Reason, "height", prev.Height, "error", prev.Error)
		s.clearHalt = true
	}

	s.log.Info("sync starting",
		"next_height", s.cfg.Cursor.NextHeight(),
		"has_blocks", state.HasBlocks,
		"internal_transactions", opts.InternalTransactions,
		"tokens", opts.Tokens,
		"confirmations", s.cfg.Confirmations,
		"chunk_size", s.cfg.Sizer.Size(),
	)

	if err := s.verifyTip(ctx); err != nil {
		return s.stopped(ctx, err)
	}

	for {
		idle, err := s.syncOnce(ctx)
		if err != nil {
			return s.stopped(ctx, err)
		}
		if idle {
			if err := recovery.Sleep(ctx, s.cfg.RefreshInterval); err != nil {
				return s.stopped(ctx, err)
			}
		}
	}
}

// Stop cancels a running loop and waits for it to return. A commit already
// handed to the store completes first.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// GetStatus returns the current status.
func (s *Syncer) GetStatus() Status {
	cur := s.cfg.Cursor.Current()
	m := s.cfg.Cursor.GetMetrics()
	st := Status{
		Running:          s.running.Load(),
		State:            s.cfg.Cursor.State(),
		HasBlocks:        cur.HasBlocks,
		LastSyncedHeight: cur.LastSyncedHeight,
		LastSyncedHash:   cur.LastSyncedHash,
		ChainTip:         s.cfg.Tip.Cached(),
		ChunkSize:        s.cfg.Sizer.Size(),
		Degraded:         s.cfg.Sizer.Degraded(),
		BlocksPerSecond:  m.BlocksPerSecond,
		Reorgs:           m.Reorgs,
	}
	if target, ok := TargetHeight(st.ChainTip, s.cfg.Confirmations); ok && st.ChainTip > 0 {
		st.Lag = s.cfg.Cursor.Lag(target)
	}
	if ns := s.lastCommit.Load(); ns > 0 {
		st.LastCommitAt = time.Unix(0, ns)
	}
	return st
}

// TargetHeight is the highest height considered confirmed at tip. ok is
// false while the chain is shorter than the confirmation depth.
func TargetHeight(tip, confirmations uint64) (uint64, bool) {
	if tip < confirmations {
		return 0, false
	}
	return tip - confirmations, true
}

// syncOnce brings the store up to the confirmed target. idle is true when
// there was nothing to do or the loop should wait for the next refresh.
func (s *Syncer) syncOnce(ctx context.Context) (idle bool, err error) {
	tip, err := s.cfg.Tip.TipHeight(ctx)
	if err != nil {
		return s.waitForRefresh("tip height", err)
	}
	target, ok := TargetHeight(tip, s.cfg.Confirmations)
	next := s.cfg.Cursor.NextHeight()
	if !ok || next > target {
		s.setState(cursor.StateIdle, "caught up")
		return true, nil
	}
	s.log.Debug("range selected", "from", next, "to", target, "tip", tip)

	attempt := 0
	for next <= target {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		to := min(target, next+uint64(s.cfg.Sizer.Size())-1)

		if err := s.processChunk(ctx, next, to); err != nil {
			retry, err := s.handleFailure(ctx, next, to, err, &attempt)
			if err != nil {
				return false, err
			}
			if !retry {
				return true, nil
			}
		} else {
			attempt = 0
		}
		next = s.cfg.Cursor.NextHeight()
	}

	s.setState(cursor.StateIdle, "range done")
	return false, nil
}

// verifyTip catches a fork that happened while the process was down.
func (s *Syncer) verifyTip(ctx context.Context) error {
	cur := s.cfg.Cursor.Current()
	if !cur.HasBlocks {
		return nil
	}
	info, err := s.cfg.Detector.VerifyTip(ctx, cur.LastSyncedHeight)
	if err != nil {
		switch recovery.Classify(err) {
		case recovery.CategoryFatal, recovery.CategoryCanceled:
			return err
		}
		// The parent check of the first chunk covers this case too.
		s.log.Warn("startup tip check failed", "height", cur.LastSyncedHeight, "error", err)
		return nil
	}
	if !info.Detected || info.Depth == 0 {
		return nil
	}
	if err := s.repair(ctx, info); err != nil {
		return err
	}
	s.setState(cursor.StateIdle, "startup repair done")
	return nil
}

// stopped turns a loop error into Run's result.
func (s *Syncer) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.log.Info("sync stopped", "next_height", s.cfg.Cursor.NextHeight())
		return nil
	}
	return s.halt(ctx, err)
}

func (s *Syncer) setState(to cursor.State, reason string) {
	if err := s.cfg.Cursor.SetState(to, reason); err != nil {
		s.log.Warn("state transition rejected", "to", to, "reason", reason, "error", err)
	}
}

func (s *Syncer) emit(e domain.Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(e)
	}
}
