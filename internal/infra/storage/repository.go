package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// Repository offers typed lookups over a Reader. It never writes.
type Repository struct {
	r Reader
}

func NewRepository(r Reader) *Repository {
	return &Repository{r: r}
}

// Page is one page of a paginated scan. Next is nil on the last page and is
// otherwise passed back as the After cursor.
type Page[T any] struct {
	Items []T
	Next  []byte
}

func getRecord[T any](ctx context.Context, r Reader, key []byte) (*T, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := Decode(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanRecords[T any](ctx context.Context, r Reader, rng Range, limit int) (Page[T], error) {
	var page Page[T]
	it, err := r.Scan(ctx, rng)
	if err != nil {
		return page, err
	}
	defer it.Close()

	var last []byte
	for it.Next() {
		if limit > 0 && len(page.Items) == limit {
			page.Next = last
			break
		}
		var v T
		if err := Decode(it.Value(), &v); err != nil {
			return page, err
		}
		page.Items = append(page.Items, v)
		last = append(last[:0], it.Key()...)
	}
	if err := it.Err(); err != nil {
		return page, err
	}
	return page, nil
}

// SyncState returns ErrNotFound before the first run.
func (r *Repository) SyncState(ctx context.Context) (*domain.SyncState, error) {
	return getRecord[domain.SyncState](ctx, r.r, KeySyncState)
}

func (r *Repository) Halt(ctx context.Context) (*domain.HaltRecord, error) {
	return getRecord[domain.HaltRecord](ctx, r.r, KeyHalt)
}

func (r *Repository) Block(ctx context.Context, height uint64) (*domain.Block, error) {
	return getRecord[domain.Block](ctx, r.r, BlockKey(height))
}

func (r *Repository) BlockHeightByHash(ctx context.Context, hash common.Hash) (uint64, error) {
	raw, err := r.r.Get(ctx, BlockHashKey(hash))
	if err != nil {
		return 0, err
	}
	return DecodeHeight(raw)
}

func (r *Repository) BlockByHash(ctx context.Context, hash common.Hash) (*domain.Block, error) {
	h, err := r.BlockHeightByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return r.Block(ctx, h)
}

// FirstBlockHeight returns the lowest committed height. ok is false when no
// block is stored.
func (r *Repository) FirstBlockHeight(ctx context.Context) (height uint64, ok bool, err error) {
	it, err := r.r.Scan(ctx, PrefixRange(PrefixBlock))
	if err != nil {
		return 0, false, err
	}
	defer it.Close()
	if !it.Next() {
		return 0, false, it.Err()
	}
	key := it.Key()
	if len(key) != len(PrefixBlock)+8 {
		return 0, false, fmt.Errorf("%w: malformed block key %x", domain.ErrCorruption, key)
	}
	return binary.BigEndian.Uint64(key[len(PrefixBlock):]), true, nil
}

// BlockAtOrAfter returns the first block whose timestamp is >= ts.
func (r *Repository) BlockAtOrAfter(ctx context.Context, ts uint64) (*domain.Block, error) {
	it, err := r.r.Scan(ctx, Range{Prefix: PrefixTimestamp, Start: TimestampFrom(ts)})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	h, err := DecodeHeight(it.Value())
	if err != nil {
		return nil, err
	}
	return r.Block(ctx, h)
}

// Blocks returns committed blocks in [from, to].
func (r *Repository) Blocks(ctx context.Context, from, to uint64) ([]domain.Block, error) {
	page, err := scanRecords[domain.Block](ctx, r.r, Range{
		Prefix: PrefixBlock,
		Start:  BlockKey(from),
		End:    BlockKey(to + 1),
	}, 0)
	return page.Items, err
}

func (r *Repository) Transaction(ctx context.Context, hash common.Hash) (*domain.Transaction, error) {
	return getRecord[domain.Transaction](ctx, r.r, TxKey(hash))
}

func (r *Repository) InternalTransactions(ctx context.Context, txHash common.Hash) ([]domain.InternalTransaction, error) {
	page, err := scanRecords[domain.InternalTransaction](ctx, r.r, PrefixRange(InternalPrefix(txHash)), 0)
	return page.Items, err
}

// TransfersAt returns the token transfers of one block in log order.
func (r *Repository) TransfersAt(ctx context.Context, height uint64) ([]domain.TokenTransfer, error) {
	page, err := scanRecords[domain.TokenTransfer](ctx, r.r, PrefixRange(TransferHeightPrefix(height)), 0)
	return page.Items, err
}

// AddressRefs pages through one sub-index of an address.
func (r *Repository) AddressRefs(
	ctx context.Context,
	addr common.Address,
	kind domain.RefKind,
	after []byte,
	limit int,
) (Page[domain.AddressRef], error) {
	return scanRecords[domain.AddressRef](ctx, r.r, Range{
		Prefix: AddressKindPrefix(addr, kind),
		After:  after,
	}, limit)
}

// TokenTransfers pages through the transfers of one token contract.
func (r *Repository) TokenTransfers(
	ctx context.Context,
	token common.Address,
	after []byte,
	limit int,
) (Page[domain.TokenTransfer], error) {
	var out Page[domain.TokenTransfer]
	it, err := r.r.Scan(ctx, Range{Prefix: TokenTransferPrefix(token), After: after})
	if err != nil {
		return out, err
	}
	defer it.Close()

	var last []byte
	for it.Next() {
		if limit > 0 && len(out.Items) == limit {
			out.Next = last
			break
		}
		// Per-token entries point at the by-height record.
		key := append([]byte{}, PrefixTransfer...)
		key = append(key, it.Key()[len(PrefixTokenTransfer)+common.AddressLength:]...)
		t, err := getRecord[domain.TokenTransfer](ctx, r.r, key)
		if err != nil {
			return out, fmt.Errorf("transfer %x: %w", key, err)
		}
		out.Items = append(out.Items, *t)
		last = append(last[:0], it.Key()...)
	}
	return out, it.Err()
}

func (r *Repository) Token(ctx context.Context, addr common.Address) (*domain.Token, error) {
	return getRecord[domain.Token](ctx, r.r, TokenKey(addr))
}

// HasToken reports whether a token record exists.
func (r *Repository) HasToken(ctx context.Context, addr common.Address) (bool, error) {
	_, err := r.r.Get(ctx, TokenKey(addr))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// AddressSummary returns ErrNotFound for addresses nothing indexed refers to.
func (r *Repository) AddressSummary(ctx context.Context, addr common.Address) (*domain.AddressSummary, error) {
	return getRecord[domain.AddressSummary](ctx, r.r, SummaryKey(addr))
}

// ContractCreation returns the hash of the transaction that deployed addr.
func (r *Repository) ContractCreation(ctx context.Context, addr common.Address) (common.Hash, error) {
	raw, err := r.r.Get(ctx, ContractKey(addr))
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: contract index value has %d bytes", domain.ErrCorruption, len(raw))
	}
	return common.BytesToHash(raw), nil
}
