// Package reorg detects chain reorganizations and rolls the mirror back to
// the last common ancestor.
//
// # Detection
//
// Detection is parent-hash based and costs no extra RPC on the happy path:
//   - The first block of a fetched chunk carries its parent hash
//   - Compare it with the stored hash at height-1
//   - On mismatch, walk backwards comparing stored hashes with the node's
//     hash at each height until they agree (the common ancestor)
//
// The walk is bounded by MaxDepth; a deeper fork is ErrReorgTooDeep and
// halts the sync loop.
//
// # Rollback Process
//
//  1. Rebuild what each orphaned height wrote from the store
//  2. Stage deletes for every primary and secondary entry above the ancestor
//  3. Stage the checkpoint reset in the same batch
//  4. Write the batch; nothing is visible until it lands
//
// # Usage
//
//	detector := reorg.NewDetector(reorg.Config{MaxDepth: 12}, repo, node.BlockHashAt)
//	handler := reorg.NewHandler(store, ix, cursorMgr, detector, log)
//
//	info, err := detector.CheckParent(ctx, chunk[0].Block, lastCommitted)
//	if err == nil && info.Detected {
//	    handler.Repair(ctx, info)
//	}
package reorg

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// HashFetcher returns the node's canonical hash at height.
type HashFetcher func(ctx context.Context, height uint64) (common.Hash, error)

// Config holds configuration for reorg detection.
type Config struct {
	MaxDepth int // Maximum number of heights that may be rolled back (default: 12)
	// CacheSize is the number of recent committed hashes kept in memory.
	CacheSize int
}

// NewDetector creates a new reorg detector.
func NewDetector(config Config, repo *storage.Repository, fetch HashFetcher) (*Detector, error) {
	if config.MaxDepth <= 0 {
		config.MaxDepth = 12
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 4 * config.MaxDepth
	}
	return newDetector(config, repo, fetch)
}

// NewHandler creates a new reorg handler.
func NewHandler(
	store storage.Store,
	ix *indexer.Indexer,
	cursorMgr cursor.Manager,
	detector *Detector,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:     store,
		indexer:   ix,
		cursorMgr: cursorMgr,
		detector:  detector,
		log:       log.With("component", "reorg"),
	}
}
