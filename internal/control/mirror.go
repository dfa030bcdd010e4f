// Package control wires the mirror together from configuration and runs its
// lifecycle: storage, node transport, sync loop, health server and the
// single-writer lease.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ethmirror/internal/core/config"
	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/indexing/emitter"
	"github.com/vietddude/ethmirror/internal/indexing/health"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/indexing/recovery"
	"github.com/vietddude/ethmirror/internal/indexing/reorg"
	"github.com/vietddude/ethmirror/internal/indexing/syncer"
	"github.com/vietddude/ethmirror/internal/indexing/throttle"
	"github.com/vietddude/ethmirror/internal/infra/chain/evm"
	redisclient "github.com/vietddude/ethmirror/internal/infra/redis"
	"github.com/vietddude/ethmirror/internal/infra/rpc"
	"github.com/vietddude/ethmirror/internal/infra/storage"
	"github.com/vietddude/ethmirror/internal/infra/storage/postgres"
)

// Mirror owns every long-lived component of a running mirror.
type Mirror struct {
	cfg      config.AppConfig
	runID    string
	store    storage.Store
	db       *postgres.DB
	provider rpc.Provider
	cursor   *cursor.DefaultManager
	halts    *recovery.Handler
	syncer   *syncer.Syncer

	healthServer *health.Server
	redisClient  *redisclient.Client
	events       *emitter.Dispatcher

	log *slog.Logger
}

// NewMirror opens the store, dials the node and builds the sync loop.
func NewMirror(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (m *Mirror, err error) {
	if log == nil {
		log = slog.Default()
	}
	runID := uuid.NewString()
	log = log.With("run_id", runID)

	m = &Mirror{cfg: cfg, runID: runID, log: log}
	defer func() {
		if err != nil {
			m.close()
		}
	}()

	// 1. Storage
	m.store, m.db, err = OpenStore(ctx, cfg.Storage, false, log)
	if err != nil {
		return nil, err
	}

	// 2. Node
	m.provider, err = rpc.Dial(ctx, cfg.Node)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	node := evm.NewEVMAdapter(m.provider, log)
	log.Info("Connected to node", "transport", rpc.TransportFor(cfg.Node.URL), "rate_limit", cfg.Node.RateLimit)

	// 3. Sync components
	sc := cfg.Sync
	repo := storage.NewRepository(m.store)
	ix := indexer.New(indexer.Options{
		InternalTransactions: sc.InternalTransactions,
		Tokens:               sc.Tokens,
		MaxBatchBytes:        sc.MaxBatchBytes,
		Balances:             sc.Balances,
	}, repo, log)

	m.cursor = cursor.NewManager(m.store, sc.StartHeight)
	m.cursor.SetStateChangeCallback(func(t cursor.Transition) {
		metrics.SyncState.WithLabelValues(string(t.From)).Set(0)
		metrics.SyncState.WithLabelValues(string(t.To)).Set(1)
		log.Debug("sync state changed", "from", t.From, "to", t.To, "reason", t.Reason)
	})

	detector, err := reorg.NewDetector(reorg.Config{MaxDepth: sc.MaxReorgDepth}, repo, node.BlockHashAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create reorg detector: %w", err)
	}
	reorgHandler := reorg.NewHandler(m.store, ix, m.cursor, detector, log)

	throttleCfg := throttle.Config{
		BulkSize:     sc.BulkSize,
		RecoverAfter: sc.RecoverAfter,
		HaltAfter:    sc.HaltAfter,
		TipCacheTTL:  sc.TipCacheTTL,
	}
	m.halts = recovery.NewHandler(m.store)

	// 4. Redis and events
	emitters := []emitter.Emitter{emitter.NewLogEmitter(log)}
	if cfg.Redis.Enabled() {
		m.redisClient, err = redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		if ch := cfg.Redis.EventsChannel; ch != "" {
			emitters = append(emitters, m.redisClient.NewEventPublisher(ch))
			log.Info("Publishing sync events", "channel", ch)
		}
	}
	m.events = emitter.NewDispatcher(emitter.DefaultBuffer, log, emitters...)

	m.syncer, err = syncer.New(syncer.Config{
		Node:     node,
		Store:    m.store,
		Cursor:   m.cursor,
		Indexer:  ix,
		Detector: detector,
		Reorg:    reorgHandler,
		Sizer:    throttle.NewChunkSizer(throttleCfg),
		Tip:      throttle.NewHeadCache(node, sc.TipCacheTTL),
		Backoff: &recovery.ExponentialBackoff{
			InitialDelay: sc.Retry.InitialDelay,
			MaxDelay:     sc.Retry.MaxDelay,
			MaxAttempts:  sc.Retry.MaxAttempts,
			Classifier:   recovery.Classify,
		},
		Halts:           m.halts,
		Log:             log,
		Confirmations:   sc.Confirmations,
		RefreshInterval: sc.RefreshInterval,
		MaxWorkers:      sc.MaxWorkers,
		MemoryLimitMB:   sc.MemoryLimitMB,
		OnEvent:         m.events.Publish,
	})
	if err != nil {
		return nil, err
	}

	// 5. Health
	if cfg.Server.Port > 0 {
		monitor := health.NewMonitor(m.syncer, m.halts.LastHalt, health.DefaultThresholds())
		m.healthServer = health.NewServer(monitor, cfg.Server.Port)
	}

	return m, nil
}

// Run holds the writer lease and syncs until ctx is done or the loop halts.
func (m *Mirror) Run(ctx context.Context) error {
	defer m.close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if m.redisClient != nil {
		lease, err := m.redisClient.Acquire(ctx, m.cfg.Storage.Location(), m.cfg.Redis.LeaseTTL, m.log)
		if err != nil {
			return fmt.Errorf("failed to acquire writer lease: %w", err)
		}
		defer func() {
			releaseCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer done()
			if err := lease.Release(releaseCtx); err != nil {
				m.log.Warn("Failed to release lease", "error", err)
			}
		}()
		go watchLease(ctx, lease.Lost(), cancel, m.log)
	}

	if limit := m.cfg.Sync.MemoryLimitMB; limit > 0 {
		debug.SetMemoryLimit(int64(limit) << 20)
	}

	if m.healthServer != nil {
		go func() {
			if err := m.healthServer.Start(); err != nil {
				m.log.Error("Health server failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer done()
			if err := m.healthServer.Stop(stopCtx); err != nil {
				m.log.Warn("Failed to stop health server", "error", err)
			}
		}()
	}

	if m.db != nil {
		m.db.StartMetricsCollector(ctx)
	}

	m.events.Start(ctx)
	defer func() {
		if err := m.events.Close(); err != nil {
			m.log.Warn("Failed to close event emitters", "error", err)
		}
	}()

	m.log.Info("Starting mirror", "store", m.cfg.Storage.Location(), "node", m.cfg.Node.URL)
	if err := runErr(ctx, m.syncer.Run(ctx)); err != nil {
		return err
	}
	m.log.Info("Mirror stopped")
	return nil
}

// watchLease cancels the run with ErrLeaseLost once lost is closed.
func watchLease(ctx context.Context, lost <-chan struct{}, cancel context.CancelCauseFunc, log *slog.Logger) {
	select {
	case <-lost:
		log.Error("Writer lease lost, stopping")
		cancel(redisclient.ErrLeaseLost)
	case <-ctx.Done():
	}
}

// runErr maps the loop's return to Run's. A canceled run is a clean stop
// unless it was canceled because the lease was lost.
func runErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, redisclient.ErrLeaseLost) {
		return fmt.Errorf("mirror stopped: %w", cause)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop asks a running mirror to finish its current step and return.
func (m *Mirror) Stop() {
	m.syncer.Stop()
}

// Status returns the loop status.
func (m *Mirror) Status() syncer.Status {
	return m.syncer.GetStatus()
}

func (m *Mirror) close() {
	if m.redisClient != nil {
		if err := m.redisClient.Close(); err != nil {
			m.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if m.provider != nil {
		if err := m.provider.Close(); err != nil {
			m.log.Warn("Failed to close node connection", "error", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.log.Warn("Failed to close store", "error", err)
		}
	}
}
