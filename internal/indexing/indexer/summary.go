package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// delta is the signed change a run of blocks makes to one summary. Flag
// fields are +1 to set, -1 to clear and 0 to leave alone.
type delta struct {
	in, out           int64
	tokenIn, tokenOut int64
	internal, mined   int64
	contract, token   int8

	// balance read at balanceHeight, the last height in the run that touched
	// the address.
	balance       *big.Int
	balanceHeight uint64
	touched       uint64
}

type tally map[common.Address]*delta

func (t tally) at(addr common.Address) *delta {
	d, ok := t[addr]
	if !ok {
		d = &delta{}
		t[addr] = d
	}
	return d
}

// add counts everything walk would index for d, with sign +1 for indexing
// and -1 for rollback.
func (t tally) add(d *BlockData, opts Options, sign int64) error {
	height := d.Block.Height
	return walk(d, opts, func(e entry) error {
		var addr common.Address
		switch r := e.record.(type) {
		case *domain.AddressRef:
			t.ref(r, sign)
			addr = r.Address
		case *domain.Token:
			t.at(r.Address).token = int8(sign)
			addr = r.Address
		default:
			return nil
		}
		if c := t.at(addr); height > c.touched {
			c.touched = height
		}
		return nil
	})
}

func (t tally) ref(r *domain.AddressRef, sign int64) {
	c := t.at(r.Address)
	switch r.Kind {
	case domain.RefTransaction:
		switch r.Direction {
		case domain.DirectionOut:
			c.out += sign
		case domain.DirectionIn:
			c.in += sign
		case domain.DirectionCreate:
			c.in += sign
			c.contract = int8(sign)
		case domain.DirectionSelf:
			c.in += sign
			c.out += sign
		}
	case domain.RefInternal:
		c.internal += sign
	case domain.RefTokenTransfer:
		switch r.Direction {
		case domain.DirectionOut:
			c.tokenOut += sign
		case domain.DirectionIn:
			c.tokenIn += sign
		case domain.DirectionSelf:
			c.tokenIn += sign
			c.tokenOut += sign
		}
	case domain.RefMined:
		c.mined += sign
	}
}

// balances attaches refreshed balances. A balance is only kept when it was
// read at the height the address was last touched.
func (t tally) balances(chunk []*BlockData) {
	for _, d := range chunk {
		for addr, bal := range d.Balances {
			c, ok := t[addr]
			if !ok || c.touched != d.Block.Height {
				continue
			}
			c.balance, c.balanceHeight = bal, d.Block.Height
		}
	}
}

// Touched returns every address the chunk refers to under the current
// options, mapped to the last height that touched it.
func (ix *Indexer) Touched(chunk []*BlockData) (map[common.Address]uint64, error) {
	t := make(tally)
	for _, d := range chunk {
		if err := t.add(d, ix.opts, 1); err != nil {
			return nil, err
		}
	}
	out := make(map[common.Address]uint64, len(t))
	for addr, c := range t {
		out[addr] = c.touched
	}
	return out, nil
}

// stageSummaries applies t to the stored summaries and stages the result in
// b. Each address is written once. A rollback to ancestor drops balances
// read above it. A counter that would go negative means the summary and the
// address index disagree.
func (ix *Indexer) stageSummaries(ctx context.Context, b *storage.Batch, t tally, ancestor *uint64) error {
	addrs := make([]common.Address, 0, len(t))
	for addr := range t {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(x, y common.Address) int { return bytes.Compare(x[:], y[:]) })

	for _, addr := range addrs {
		sum, err := ix.repo.AddressSummary(ctx, addr)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			sum = &domain.AddressSummary{Address: addr}
		case err != nil:
			return fmt.Errorf("load summary %s: %w", addr.Hex(), err)
		}
		if err := apply(sum, t[addr]); err != nil {
			return fmt.Errorf("%w: summary %s: %w", domain.ErrCorruption, addr.Hex(), err)
		}
		if ancestor != nil && sum.BalanceHeight > *ancestor {
			sum.Balance, sum.BalanceHeight = nil, 0
		}

		key := storage.SummaryKey(addr)
		if sum.Empty() {
			b.Delete(key)
			continue
		}
		if err := b.PutRecord(key, sum); err != nil {
			return fmt.Errorf("encode summary %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

func apply(sum *domain.AddressSummary, c *delta) error {
	counters := []struct {
		name string
		v    *uint64
		d    int64
	}{
		{"input txs", &sum.InputTxs, c.in},
		{"output txs", &sum.OutputTxs, c.out},
		{"input token txs", &sum.InputTokenTxs, c.tokenIn},
		{"output token txs", &sum.OutputTokenTxs, c.tokenOut},
		{"internal txs", &sum.InternalTxs, c.internal},
		{"mined", &sum.Mined, c.mined},
	}
	for _, k := range counters {
		if k.d >= 0 {
			*k.v += uint64(k.d)
			continue
		}
		if uint64(-k.d) > *k.v {
			return fmt.Errorf("%s would drop below zero (%d%d)", k.name, *k.v, k.d)
		}
		*k.v -= uint64(-k.d)
	}
	if c.contract != 0 {
		sum.Contract = c.contract > 0
	}
	if c.token != 0 {
		sum.TokenContract = c.token > 0
	}
	if c.balance != nil {
		sum.Balance, sum.BalanceHeight = c.balance, c.balanceHeight
	}
	return nil
}
