package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/decoder"
	"github.com/vietddude/ethmirror/internal/indexing/indexer"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/rpc"
)

// fetchChunk fetches and decodes [from, to] with at most MaxWorkers requests
// in flight. Every worker writes only its own slot.
func (s *Syncer) fetchChunk(ctx context.Context, from, to uint64) ([]*indexer.BlockData, error) {
	opts := s.cfg.Indexer.Options()
	chunk := make([]*indexer.BlockData, to-from+1)
	var logs []domain.Log

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	if opts.Tokens {
		g.Go(func() error {
			var err error
			logs, err = s.fetchLogs(gctx, from, to)
			return err
		})
	}
	for i := range chunk {
		if gctx.Err() != nil {
			break
		}
		height := from + uint64(i)
		g.Go(func() error {
			d, err := s.fetchBlock(gctx, height, opts)
			if err != nil {
				return err
			}
			chunk[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Tokens {
		if err := attachTransfers(chunk, from, logs); err != nil {
			return nil, err
		}
		if err := s.resolveTokens(ctx, chunk); err != nil {
			return nil, err
		}
	}
	if opts.Balances {
		if err := s.fetchBalances(ctx, chunk, from); err != nil {
			return nil, err
		}
	}
	return chunk, nil
}

// fetchBalances reads the balance of every touched address at the last
// height in the chunk that touched it.
func (s *Syncer) fetchBalances(ctx context.Context, chunk []*indexer.BlockData, from uint64) error {
	touched, err := s.cfg.Indexer.Touched(chunk)
	if err != nil {
		return err
	}
	type read struct {
		addr   common.Address
		height uint64
		bal    *big.Int
	}
	reads := make([]read, 0, len(touched))
	for addr, h := range touched {
		reads = append(reads, read{addr: addr, height: h})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	for i := range reads {
		g.Go(func() error {
			r := &reads[i]
			raw, err := s.cfg.Node.Balance(gctx, r.addr, r.height)
			if err != nil {
				return err
			}
			if r.bal, err = decoder.Big(raw); err != nil {
				return fmt.Errorf("balance of %s: %w", r.addr.Hex(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range reads {
		d := chunk[r.height-from]
		if d.Balances == nil {
			d.Balances = make(map[common.Address]*big.Int)
		}
		d.Balances[r.addr] = r.bal
	}
	s.log.Debug("balances refreshed", "count", len(reads), "from", from)
	return nil
}

// fetchBlock fetches one block with its receipts and, when enabled, traces.
func (s *Syncer) fetchBlock(ctx context.Context, height uint64, opts indexer.Options) (*indexer.BlockData, error) {
	raw, err := s.cfg.Node.BlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	block, txs, err := decoder.Block(raw)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}
	if block.Height != height {
		return nil, fmt.Errorf("%w: asked for block %d, got %d",
			domain.ErrMalformedResponse, height, block.Height)
	}
	d := &indexer.BlockData{Block: block, Txs: txs}
	if len(txs) == 0 {
		return d, nil
	}

	raw, err = s.cfg.Node.BlockReceipts(ctx, block.Hash, block.TxHashes)
	if err != nil {
		return nil, err
	}
	receipts, err := decoder.Receipts(raw)
	if err != nil {
		return nil, fmt.Errorf("receipts of block %d: %w", height, err)
	}
	if err := decoder.MergeReceipts(d.Txs, receipts); err != nil {
		return nil, fmt.Errorf("receipts of block %d: %w", height, err)
	}

	if opts.InternalTransactions {
		raw, err := s.cfg.Node.TraceBlock(ctx, block.Hash)
		if err != nil {
			return nil, err
		}
		internal, failed, err := decoder.Traces(raw, block)
		if err != nil {
			return nil, fmt.Errorf("traces of block %d: %w", height, err)
		}
		d.Internal = internal
		for _, f := range failed {
			s.log.Warn("tracer failed, internal transactions skipped",
				"height", height, "tx", f.TxHash.Hex(), "tx_index", f.TxIndex, "error", f.Message)
		}
		metrics.TraceFailures.Add(float64(len(failed)))
	}
	return d, nil
}

func (s *Syncer) fetchLogs(ctx context.Context, from, to uint64) ([]domain.Log, error) {
	raw, err := s.cfg.Node.Logs(ctx, from, to, [][]common.Hash{{decoder.TransferTopic}})
	if err != nil {
		return nil, err
	}
	logs, err := decoder.Logs(raw)
	if err != nil {
		return nil, fmt.Errorf("logs %d-%d: %w", from, to, err)
	}
	return logs, nil
}

// attachTransfers decodes Transfer logs onto the blocks they belong to. A
// log whose block hash differs from the fetched block came from another
// fork.
func attachTransfers(chunk []*indexer.BlockData, from uint64, logs []domain.Log) error {
	for i := range logs {
		l := &logs[i]
		if l.Removed {
			continue
		}
		if l.BlockHeight < from || l.BlockHeight-from >= uint64(len(chunk)) {
			return fmt.Errorf("%w: log at height %d outside requested range",
				domain.ErrMalformedResponse, l.BlockHeight)
		}
		d := chunk[l.BlockHeight-from]
		if l.BlockHash != (common.Hash{}) && l.BlockHash != d.Block.Hash {
			return fmt.Errorf("%w: log %d of block %d is from %s, fetched %s",
				domain.ErrDiscontinuity, l.LogIndex, l.BlockHeight, l.BlockHash.Hex(), d.Block.Hash.Hex())
		}
		if t, ok := decoder.Transfer(l); ok {
			d.Transfers = append(d.Transfers, *t)
		}
	}
	return nil
}

// resolveTokens fetches metadata for tokens the store does not know yet and
// attaches each to the block where it first appears in the chunk.
func (s *Syncer) resolveTokens(ctx context.Context, chunk []*indexer.BlockData) error {
	type pending struct {
		addr common.Address
		at   *indexer.BlockData
	}
	seen := make(map[common.Address]struct{})
	var todo []pending
	for _, d := range chunk {
		for _, t := range d.Transfers {
			if _, ok := seen[t.Token]; ok {
				continue
			}
			seen[t.Token] = struct{}{}
			if s.known.Contains(t.Token) {
				continue
			}
			known, err := s.repo.HasToken(ctx, t.Token)
			if err != nil {
				return fmt.Errorf("lookup token %s: %w", t.Token.Hex(), err)
			}
			if known {
				s.known.Add(t.Token)
			} else {
				todo = append(todo, pending{addr: t.Token, at: d})
			}
		}
	}
	if len(todo) == 0 {
		return nil
	}

	tokens := make([]*domain.Token, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	for i, p := range todo {
		g.Go(func() error {
			tok, err := tokenMetadata(gctx, s.cfg.Node, p.addr, p.at.Block.Height)
			if err != nil {
				return err
			}
			tokens[i] = tok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, p := range todo {
		p.at.NewTokens = append(p.at.NewTokens, *tokens[i])
	}
	s.log.Debug("new tokens", "count", len(todo), "from", chunk[0].Block.Height)
	return nil
}

// tokenMetadata reads ERC-20 metadata at height. Contracts that do not
// implement a getter, or answer with something undecodable, get the zero
// value for that field.
func tokenMetadata(ctx context.Context, node chain.NodeClient, addr common.Address, height uint64) (*domain.Token, error) {
	tok := &domain.Token{Address: addr, FirstSeenHeight: height}

	raw, err := node.Code(ctx, addr, height)
	if err != nil {
		return nil, err
	}
	code, err := decoder.Data(raw)
	if err != nil {
		return nil, fmt.Errorf("code of %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return tok, nil
	}

	if tok.Name, err = call(ctx, node, addr, decoder.SelectorName, height, decoder.ABIString); err != nil {
		return nil, err
	}
	if tok.Symbol, err = call(ctx, node, addr, decoder.SelectorSymbol, height, decoder.ABIString); err != nil {
		return nil, err
	}
	if tok.Decimals, err = call(ctx, node, addr, decoder.SelectorDecimals, height, decoder.ABIUint8); err != nil {
		return nil, err
	}
	if tok.TotalSupply, err = call(ctx, node, addr, decoder.SelectorTotalSupply, height, decoder.ABIUint); err != nil {
		return nil, err
	}
	return tok, nil
}

func call[T any](
	ctx context.Context,
	node chain.NodeClient,
	addr common.Address,
	selector []byte,
	height uint64,
	decode func([]byte) (T, error),
) (T, error) {
	var zero T
	raw, err := node.CallContract(ctx, addr, selector, height)
	if err != nil {
		if callRejected(err) {
			return zero, nil
		}
		return zero, err
	}
	data, err := decoder.Data(raw)
	if err != nil {
		return zero, fmt.Errorf("eth_call %s: %w", addr.Hex(), err)
	}
	v, err := decode(data)
	if err != nil {
		return zero, nil
	}
	return v, nil
}

// callRejected reports whether the node executed the call and the EVM
// failed it, as opposed to the node failing to answer.
func callRejected(err error) bool {
	var rpcErr *rpc.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Reverted()
}
