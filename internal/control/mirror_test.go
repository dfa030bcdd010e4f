package control

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/config"
	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/recovery"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	redisclient "github.com/vietddude/ethmirror/internal/infra/redis"
	"github.com/vietddude/ethmirror/internal/infra/storage"
	"github.com/vietddude/ethmirror/internal/infra/storage/pebblestore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func hashAt(h uint64) common.Hash {
	var out common.Hash
	out[0] = 0xab
	binary.BigEndian.PutUint64(out[24:], h)
	return out
}

func openStore(t *testing.T) *pebblestore.Store {
	t.Helper()
	s, err := pebblestore.Open(pebblestore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seed commits empty blocks [from, to] the way the sync loop does.
func seed(t *testing.T, store storage.Store, from, to uint64) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewRepository(store)
	mgr := cursor.NewManager(store, from)
	if _, err := mgr.Load(ctx, cursor.Flags{Tokens: true}); err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	ix := indexer.New(indexer.Options{Tokens: true}, repo, discard)

	var chunk []*indexer.BlockData
	for h := from; h <= to; h++ {
		blk := &domain.Block{Height: h, Hash: hashAt(h), Timestamp: 1_600_000_000 + h}
		if h > 0 {
			blk.ParentHash = hashAt(h - 1)
		}
		chunk = append(chunk, &indexer.BlockData{Block: blk})
	}
	b, err := ix.BuildChunk(ctx, chunk)
	if err != nil {
		t.Fatalf("build chunk: %v", err)
	}
	next, err := mgr.StageAdvance(b, chunk[len(chunk)-1].Block)
	if err != nil {
		t.Fatalf("stage advance: %v", err)
	}
	if err := store.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	mgr.Committed(next)
}

// =============================================================================
// Rollback
// =============================================================================

func TestRollback_ToHeight(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store, 100, 120)

	halts := recovery.NewHandler(store)
	if _, err := halts.HandleFailure(ctx, 121, domain.ErrReorgTooDeep); err != nil {
		t.Fatalf("record halt: %v", err)
	}

	res, err := Rollback(ctx, store, 110, discard)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if res.Removed != 10 || res.Cleared {
		t.Errorf("unexpected result %+v", res)
	}

	repo := storage.NewRepository(store)
	state, err := repo.SyncState(ctx)
	if err != nil {
		t.Fatalf("sync state: %v", err)
	}
	if !state.HasBlocks || state.LastSyncedHeight != 110 || state.LastSyncedHash != hashAt(110) {
		t.Errorf("unexpected checkpoint %+v", state)
	}
	if _, err := repo.Block(ctx, 111); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("block 111 should be gone, got %v", err)
	}
	if _, err := repo.BlockByHash(ctx, hashAt(115)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("hash index of 115 should be gone, got %v", err)
	}
	if _, err := repo.Block(ctx, 110); err != nil {
		t.Errorf("block 110 should remain: %v", err)
	}
	if rec, err := halts.LastHalt(ctx); err != nil || rec != nil {
		t.Errorf("halt record should be cleared, got %+v, %v", rec, err)
	}
}

func TestRollback_BelowFirstBlock(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store, 100, 105)

	res, err := Rollback(ctx, store, 50, discard)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !res.Cleared || res.Removed != 6 {
		t.Errorf("unexpected result %+v", res)
	}

	repo := storage.NewRepository(store)
	state, err := repo.SyncState(ctx)
	if err != nil {
		t.Fatalf("sync state: %v", err)
	}
	if state.HasBlocks {
		t.Errorf("expected empty checkpoint, got %+v", state)
	}
	if _, ok, err := repo.FirstBlockHeight(ctx); err != nil || ok {
		t.Errorf("expected no blocks, ok=%v err=%v", ok, err)
	}
}

func TestRollback_Rejects(t *testing.T) {
	ctx := context.Background()

	if _, err := Rollback(ctx, openStore(t), 5, discard); !errors.Is(err, ErrNothingToRollBack) {
		t.Errorf("expected ErrNothingToRollBack on empty store, got %v", err)
	}

	store := openStore(t)
	seed(t, store, 0, 10)
	if _, err := Rollback(ctx, store, 10, discard); err == nil {
		t.Error("expected error for target at checkpoint")
	}
	if _, err := Rollback(ctx, store, 11, discard); err == nil {
		t.Error("expected error for target above checkpoint")
	}
}

// =============================================================================
// Inspect
// =============================================================================

type tipNode struct {
	chain.NodeClient
	tip uint64
	err error
}

func (n *tipNode) TipHeight(context.Context) (uint64, error) { return n.tip, n.err }

func TestInspect(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store, 10, 20)

	st, err := Inspect(ctx, store, &tipNode{tip: 40}, 12, 10)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !st.Initialized || st.State.LastSyncedHeight != 20 {
		t.Errorf("unexpected state %+v", st.State)
	}
	if st.FirstBlock == nil || *st.FirstBlock != 10 {
		t.Errorf("unexpected first block %v", st.FirstBlock)
	}
	if st.ChainTip == nil || *st.ChainTip != 40 || st.Target != 28 || st.Lag != 8 {
		t.Errorf("unexpected tip view: tip=%v target=%d lag=%d", st.ChainTip, st.Target, st.Lag)
	}
}

func TestInspect_NodeDown(t *testing.T) {
	st, err := Inspect(context.Background(), openStore(t), &tipNode{err: domain.ErrUnreachable}, 12, 0)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if st.Initialized || st.ChainTip != nil {
		t.Errorf("unexpected status %+v", st)
	}
	if !errors.Is(st.NodeError, domain.ErrUnreachable) {
		t.Errorf("expected node error, got %v", st.NodeError)
	}
}

// =============================================================================
// Mirror lifecycle
// =============================================================================

func TestMirror_Lifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Node.URL = "http://127.0.0.1:1" // nothing listens here
	cfg.Node.Timeout = 200 * time.Millisecond
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db")
	cfg.Server.Port = 0
	cfg.Sync.RefreshInterval = 50 * time.Millisecond

	m, err := NewMirror(context.Background(), cfg, discard)
	if err != nil {
		t.Fatalf("NewMirror failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// The node is unreachable: the loop keeps waiting for it instead of
	// failing, and returns cleanly when ctx ends.
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	st := m.Status()
	if st.Running || st.HasBlocks {
		t.Errorf("unexpected status after stop: %+v", st)
	}
}

func TestWatchLease_LostStopsWithError(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	lost := make(chan struct{})
	go watchLease(ctx, lost, cancel, discard)

	close(lost)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("run not canceled after losing the lease")
	}

	// The loop reports a plain cancellation; Run must not treat it as a clean stop.
	err := runErr(ctx, context.Canceled)
	if !errors.Is(err, redisclient.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

func TestRunErr(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(nil)
	if err := runErr(ctx, context.Canceled); err != nil {
		t.Errorf("plain shutdown should be clean, got %v", err)
	}
	if err := runErr(ctx, domain.ErrSyncHalted); !errors.Is(err, domain.ErrSyncHalted) {
		t.Errorf("loop error should pass through, got %v", err)
	}
	if err := runErr(context.Background(), nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMirror_RejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Node.URL = "http://127.0.0.1:1"
	cfg.Storage.Driver = "rocks"

	if _, err := NewMirror(context.Background(), cfg, discard); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

