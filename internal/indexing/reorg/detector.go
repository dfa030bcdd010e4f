package reorg

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// Detector checks for chain reorganizations using parent hash verification.
type Detector struct {
	config Config
	repo   *storage.Repository
	fetch  HashFetcher
	// recent caches committed hashes by height so the parent check of every
	// chunk does not hit the store.
	recent *lru.Cache[uint64, common.Hash]
}

// Info contains information about a detected reorganization.
type Info struct {
	Detected bool
	// Depth is the number of stored heights that are no longer canonical.
	Depth uint64
	// Tip is the highest stored height at detection time.
	Tip uint64
	// Ancestor is the highest height where store and node agree.
	Ancestor     uint64
	AncestorHash common.Hash
	// HasAncestor is false when every stored block was orphaned.
	HasAncestor bool
}

func newDetector(config Config, repo *storage.Repository, fetch HashFetcher) (*Detector, error) {
	recent, err := lru.New[uint64, common.Hash](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("reorg cache: %w", err)
	}
	return &Detector{config: config, repo: repo, fetch: fetch, recent: recent}, nil
}

func (d *Detector) MaxDepth() int { return d.config.MaxDepth }

// Remember records a committed block.
func (d *Detector) Remember(b *domain.Block) {
	d.recent.Add(b.Height, b.Hash)
}

// Forget drops cached hashes for heights in [from, to].
func (d *Detector) Forget(from, to uint64) {
	for h := from; h <= to; h++ {
		d.recent.Remove(h)
	}
}

// storedHash returns the committed hash at height and whether one exists.
func (d *Detector) storedHash(ctx context.Context, height uint64) (common.Hash, bool, error) {
	if h, ok := d.recent.Get(height); ok {
		return h, true, nil
	}
	b, err := d.repo.Block(ctx, height)
	if errors.Is(err, storage.ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	d.recent.Add(height, b.Hash)
	return b.Hash, true, nil
}

// CheckParent verifies the first block of a chunk links to the stored block
// below it. tip is the last committed height.
func (d *Detector) CheckParent(ctx context.Context, first *domain.Block, tip uint64) (*Info, error) {
	if first.Height == 0 {
		return &Info{}, nil
	}

	stored, ok, err := d.storedHash(ctx, first.Height-1)
	if err != nil {
		return nil, err
	}
	// Nothing stored below the chunk: this is the first chunk of the mirror.
	if !ok || stored == first.ParentHash {
		return &Info{}, nil
	}

	return d.FindAncestor(ctx, tip)
}

// VerifyTip compares the stored hash at tip with the node's. Used on startup
// to catch a fork that happened while the process was down.
func (d *Detector) VerifyTip(ctx context.Context, tip uint64) (*Info, error) {
	stored, ok, err := d.storedHash(ctx, tip)
	if err != nil || !ok {
		return &Info{}, err
	}
	canonical, err := d.fetch(ctx, tip)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hash %d: %w", tip, err)
	}
	if canonical == stored {
		return &Info{}, nil
	}
	return d.FindAncestor(ctx, tip)
}

// FindAncestor walks backwards from tip, comparing stored hashes with the
// node's, until both agree.
func (d *Detector) FindAncestor(ctx context.Context, tip uint64) (*Info, error) {
	maxDepth := uint64(d.config.MaxDepth)
	info := &Info{Detected: true, Tip: tip}

	for h := tip; ; h-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		depth := tip - h
		stored, ok, err := d.storedHash(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Walked below the first stored block: everything stored is orphaned.
			info.Depth = depth
			info.Ancestor = h
			return info, nil
		}

		canonical, err := d.fetch(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch hash %d: %w", h, err)
		}
		if canonical == stored {
			info.Depth = depth
			info.Ancestor = h
			info.AncestorHash = stored
			info.HasAncestor = true
			return info, nil
		}

		if depth+1 > maxDepth {
			return nil, fmt.Errorf("%w: no common ancestor within %d blocks of %d",
				domain.ErrReorgTooDeep, maxDepth, tip)
		}
		if h == 0 {
			return nil, fmt.Errorf("%w: genesis hash differs from node", domain.ErrReorgTooDeep)
		}
	}
}
