// Package audit checks a mirror's stored chain for damage without touching
// the sync loop.
//
// # Checks
//
// Store only (0 RPC calls):
//   - Gaps: heights missing between the first block and the checkpoint
//   - Breaks: a stored block whose parent hash is not its predecessor's hash
//   - Index: a block whose hash index does not point back at it
//   - Checkpoint: the stored block at the checkpoint height has its hash
//
// With a node, every Sample-th height and the last one are also compared
// against the node's canonical hash. A mismatch there means a reorg deeper
// than the confirmation depth was committed.
//
// # Usage
//
//	a := audit.New(audit.Config{Sample: 1000}, storage.NewRepository(store), node, log)
//	report, err := a.Verify(ctx)
//	if !report.OK() { ... }
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// Gap represents a range of missing blocks.
type Gap struct {
	FromBlock uint64
	ToBlock   uint64
}

// Break is a stored block that does not extend the block below it.
type Break struct {
	Height     uint64
	ParentHash common.Hash
	Previous   common.Hash
}

// Mismatch is a height where two sources disagree on the block hash.
type Mismatch struct {
	Height uint64
	Stored common.Hash
	Other  common.Hash
}

// Report is the outcome of a scan.
type Report struct {
	From, To   uint64
	Blocks     int
	Gaps       []Gap
	Breaks     []Break
	BadIndex   []Mismatch
	NodeDiffs  []Mismatch
	Sampled    int
	Checkpoint *Mismatch
}

// OK reports whether the scan found nothing wrong.
func (r *Report) OK() bool {
	return len(r.Gaps) == 0 && len(r.Breaks) == 0 && len(r.BadIndex) == 0 &&
		len(r.NodeDiffs) == 0 && r.Checkpoint == nil
}

// Config tunes a scan.
type Config struct {
	// PageSize is the number of blocks read per store scan.
	PageSize uint64
	// Sample compares every Sample-th height with the node. Zero compares
	// only the last height.
	Sample uint64
}

// Auditor scans a store.
type Auditor struct {
	cfg  Config
	repo *storage.Repository
	node chain.NodeClient
	log  *slog.Logger
}

// New creates an auditor. node may be nil to skip node comparison.
func New(cfg Config, repo *storage.Repository, node chain.NodeClient, log *slog.Logger) *Auditor {
	if cfg.PageSize == 0 {
		cfg.PageSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{cfg: cfg, repo: repo, node: node, log: log.With("component", "audit")}
}

// ErrEmpty is returned by Verify when the store holds no blocks.
var ErrEmpty = errors.New("store holds no blocks")

// Verify scans everything between the first stored block and the
// checkpoint, then checks the checkpoint itself.
func (a *Auditor) Verify(ctx context.Context) (*Report, error) {
	state, err := a.repo.SyncState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	if !state.HasBlocks {
		return nil, ErrEmpty
	}
	first, ok, err := a.repo.FirstBlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("find first block: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint at %d but no block stored",
			domain.ErrCorruption, state.LastSyncedHeight)
	}

	report, err := a.Scan(ctx, first, state.LastSyncedHeight)
	if err != nil {
		return nil, err
	}
	blk, err := a.repo.Block(ctx, state.LastSyncedHeight)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Reported as a gap already.
	case err != nil:
		return nil, err
	case blk.Hash != state.LastSyncedHash:
		report.Checkpoint = &Mismatch{Height: blk.Height, Stored: blk.Hash, Other: state.LastSyncedHash}
	}
	return report, nil
}

// Scan checks stored blocks in [from, to].
func (a *Auditor) Scan(ctx context.Context, from, to uint64) (*Report, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range %d-%d", from, to)
	}
	report := &Report{From: from, To: to}
	var prev *domain.Block

	for start := from; start <= to; {
		end := min(to, start+a.cfg.PageSize-1)
		blocks, err := a.repo.Blocks(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("read blocks %d-%d: %w", start, end, err)
		}
		for i := range blocks {
			b := &blocks[i]
			expect := from
			if prev != nil {
				expect = prev.Height + 1
			}
			switch {
			case b.Height > expect:
				report.Gaps = append(report.Gaps, Gap{FromBlock: expect, ToBlock: b.Height - 1})
			case prev != nil && b.ParentHash != prev.Hash:
				report.Breaks = append(report.Breaks, Break{Height: b.Height, ParentHash: b.ParentHash, Previous: prev.Hash})
			}
			if err := a.checkIndex(ctx, b, report); err != nil {
				return nil, err
			}
			if err := a.checkNode(ctx, b, from, to, report); err != nil {
				return nil, err
			}
			report.Blocks++
			prev = b
		}
		a.log.Debug("scanned", "from", start, "to", end, "blocks", len(blocks))
		if end == to {
			break
		}
		start = end + 1
	}

	switch {
	case prev == nil:
		report.Gaps = append(report.Gaps, Gap{FromBlock: from, ToBlock: to})
	case prev.Height < to:
		report.Gaps = append(report.Gaps, Gap{FromBlock: prev.Height + 1, ToBlock: to})
	}
	return report, nil
}

func (a *Auditor) checkIndex(ctx context.Context, b *domain.Block, report *Report) error {
	h, err := a.repo.BlockHeightByHash(ctx, b.Hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		report.BadIndex = append(report.BadIndex, Mismatch{Height: b.Height, Stored: b.Hash})
	case err != nil:
		return fmt.Errorf("read hash index of %d: %w", b.Height, err)
	case h != b.Height:
		report.BadIndex = append(report.BadIndex, Mismatch{Height: b.Height, Stored: b.Hash})
	}
	return nil
}

func (a *Auditor) checkNode(ctx context.Context, b *domain.Block, from, to uint64, report *Report) error {
	if a.node == nil {
		return nil
	}
	sampled := b.Height == to
	if a.cfg.Sample > 0 && (b.Height-from)%a.cfg.Sample == 0 {
		sampled = true
	}
	if !sampled {
		return nil
	}
	hash, err := a.node.BlockHashAt(ctx, b.Height)
	if err != nil {
		return fmt.Errorf("node hash at %d: %w", b.Height, err)
	}
	report.Sampled++
	if hash != b.Hash {
		report.NodeDiffs = append(report.NodeDiffs, Mismatch{Height: b.Height, Stored: b.Hash, Other: hash})
	}
	return nil
}
