// Package indexer turns decoded blocks into store entries: the primary
// records plus every secondary index (hash, timestamp, address, token,
// contract creation). The same derivation drives rollback, so whatever a
// block wrote is exactly what a rollback removes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// Options selects the optional indexes and bounds batch size.
type Options struct {
	InternalTransactions bool
	Tokens               bool
	// MaxBatchBytes bounds one chunk's write batch. Zero disables the check.
	MaxBatchBytes int
	// Balances asks the syncer to refresh balances of touched addresses.
	Balances bool
}

// BlockData is everything fetched and decoded for one block.
type BlockData struct {
	Block     *domain.Block
	Txs       []domain.Transaction
	Internal  []domain.InternalTransaction
	Transfers []domain.TokenTransfer
	// NewTokens holds metadata for contracts not yet present in the store.
	NewTokens []domain.Token
	// Balances holds balances read at this height for addresses whose last
	// touch in the chunk is this block. Nil unless balance refresh is on.
	Balances map[common.Address]*big.Int
}

// Indexer derives store entries for blocks.
type Indexer struct {
	opts Options
	repo *storage.Repository
	log  *slog.Logger
}

func New(opts Options, repo *storage.Repository, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{opts: opts, repo: repo, log: log.With("component", "indexer")}
}

func (ix *Indexer) Options() Options { return ix.opts }

// IndexBlock adds every entry of d to b.
func (ix *Indexer) IndexBlock(b *storage.Batch, d *BlockData) error {
	if d.Block == nil {
		return fmt.Errorf("index block: nil block")
	}
	return walk(d, ix.opts, func(e entry) error {
		if e.raw != nil {
			b.Put(e.key, e.raw)
			return nil
		}
		if err := b.PutRecord(e.key, e.record); err != nil {
			return fmt.Errorf("encode %x: %w", e.key, err)
		}
		return nil
	})
}

// BuildChunk indexes a run of consecutive blocks into one batch and stages
// the address summaries they change. Blocks already in the store with the
// same hash are re-indexed without counting twice. A batch over
// MaxBatchBytes fails with domain.ErrResourceExhausted so the caller can
// retry with a smaller chunk.
func (ix *Indexer) BuildChunk(ctx context.Context, chunk []*BlockData) (*storage.Batch, error) {
	b := storage.NewBatch()
	for i, d := range chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && !d.Block.Follows(chunk[i-1].Block) {
			return nil, fmt.Errorf("%w: block %d does not follow %d",
				domain.ErrDiscontinuity, d.Block.Height, chunk[i-1].Block.Height)
		}
		if err := ix.IndexBlock(b, d); err != nil {
			return nil, fmt.Errorf("index block %d: %w", d.Block.Height, err)
		}
		if err := ix.checkSize(b, i+1, len(chunk)); err != nil {
			return nil, err
		}
	}

	t := make(tally)
	var fresh []*BlockData
	for _, d := range chunk {
		indexed, err := ix.indexed(ctx, d.Block)
		if err != nil {
			return nil, err
		}
		if indexed {
			continue
		}
		if err := t.add(d, ix.opts, 1); err != nil {
			return nil, err
		}
		fresh = append(fresh, d)
	}
	t.balances(fresh)
	if err := ix.stageSummaries(ctx, b, t, nil); err != nil {
		return nil, err
	}
	if err := ix.checkSize(b, len(chunk), len(chunk)); err != nil {
		return nil, err
	}
	metrics.BatchBytes.Observe(float64(b.Size()))
	return b, nil
}

func (ix *Indexer) checkSize(b *storage.Batch, done, total int) error {
	if ix.opts.MaxBatchBytes > 0 && b.Size() > ix.opts.MaxBatchBytes {
		return fmt.Errorf("%w: batch reached %d bytes at block %d of %d",
			domain.ErrResourceExhausted, b.Size(), done, total)
	}
	return nil
}

// indexed reports whether blk is already stored under the same hash.
func (ix *Indexer) indexed(ctx context.Context, blk *domain.Block) (bool, error) {
	stored, err := ix.repo.Block(ctx, blk.Height)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check block %d: %w", blk.Height, err)
	}
	return stored.Hash == blk.Hash, nil
}
