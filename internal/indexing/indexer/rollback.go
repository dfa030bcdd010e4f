package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// LoadBlockData rebuilds what was indexed for height from the store. Optional
// records are loaded whatever the current options are, so a block indexed
// under different flags still rolls back cleanly. Only tokens first seen at
// this height are returned in NewTokens.
func (ix *Indexer) LoadBlockData(ctx context.Context, height uint64) (*BlockData, error) {
	blk, err := ix.repo.Block(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("load block %d: %w", height, err)
	}
	d := &BlockData{Block: blk}

	for _, h := range blk.TxHashes {
		tx, err := ix.repo.Transaction(ctx, h)
		if errors.Is(err, storage.ErrNotFound) {
			// A committed block always has its transactions.
			return nil, fmt.Errorf("%w: block %d lists missing tx %s", domain.ErrCorruption, height, h.Hex())
		}
		if err != nil {
			return nil, fmt.Errorf("load tx %s: %w", h.Hex(), err)
		}
		d.Txs = append(d.Txs, *tx)
		internal, err := ix.repo.InternalTransactions(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("load internal txs of %s: %w", h.Hex(), err)
		}
		d.Internal = append(d.Internal, internal...)
	}

	d.Transfers, err = ix.repo.TransfersAt(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("load transfers at %d: %w", height, err)
	}
	seen := make(map[common.Address]bool)
	for _, tr := range d.Transfers {
		if seen[tr.Token] {
			continue
		}
		seen[tr.Token] = true
		tok, err := ix.repo.Token(ctx, tr.Token)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load token %s: %w", tr.Token.Hex(), err)
		}
		if tok.FirstSeenHeight == height {
			d.NewTokens = append(d.NewTokens, *tok)
		}
	}
	return d, nil
}

// UnindexBlock adds a delete for every entry of d to b.
func (ix *Indexer) UnindexBlock(b *storage.Batch, d *BlockData) error {
	all := Options{InternalTransactions: true, Tokens: true}
	return walk(d, all, func(e entry) error {
		b.Delete(e.key)
		return nil
	})
}

// Rollback stages deletes for every height in (ancestor, tip], newest first,
// and subtracts the removed blocks from the address summaries. It returns the
// number of blocks removed.
func (ix *Indexer) Rollback(ctx context.Context, b *storage.Batch, ancestor, tip uint64) (int, error) {
	all := Options{InternalTransactions: true, Tokens: true}
	t := make(tally)
	removed := 0
	for h := tip; h > ancestor; h-- {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		d, err := ix.LoadBlockData(ctx, h)
		if errors.Is(err, storage.ErrNotFound) {
			ix.log.Warn("block missing during rollback", "height", h)
			continue
		}
		if err != nil {
			return removed, err
		}
		if err := ix.UnindexBlock(b, d); err != nil {
			return removed, fmt.Errorf("unindex block %d: %w", h, err)
		}
		if err := t.add(d, all, -1); err != nil {
			return removed, fmt.Errorf("unindex block %d: %w", h, err)
		}
		removed++
	}
	if err := ix.stageSummaries(ctx, b, t, &ancestor); err != nil {
		return removed, err
	}
	return removed, nil
}
