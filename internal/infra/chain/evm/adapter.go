package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/decoder"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/rpc"
)

const (
	receiptBatchSize   = 50
	receiptConcurrency = 3
)

// EVMAdapter implements chain.NodeClient over JSON-RPC.
type EVMAdapter struct {
	client rpc.Provider
	log    *slog.Logger

	// Set once the node rejects eth_getBlockReceipts; receipts are then
	// fetched per transaction in batches.
	noBlockReceipts atomic.Bool
}

var _ chain.NodeClient = (*EVMAdapter)(nil)

func NewEVMAdapter(client rpc.Provider, log *slog.Logger) *EVMAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &EVMAdapter{client: client, log: log.With("component", "evm")}
}

func (a *EVMAdapter) TipHeight(ctx context.Context) (uint64, error) {
	raw, err := a.client.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	h, err := decoder.Quantity(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %v", domain.ErrMalformedResponse, err)
	}
	return h, nil
}

func (a *EVMAdapter) BlockByHeight(ctx context.Context, height uint64) (json.RawMessage, error) {
	raw, err := a.client.Call(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(height), true)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber(%d) failed: %w", height, err)
	}
	if decoder.IsNull(raw) {
		// Load-balanced nodes can briefly lag behind the tip they reported.
		return nil, fmt.Errorf("%w: block %d not available", domain.ErrMalformedResponse, height)
	}
	return raw, nil
}

func (a *EVMAdapter) BlockHashAt(ctx context.Context, height uint64) (common.Hash, error) {
	raw, err := a.client.Call(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(height), false)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth_getBlockByNumber(%d) failed: %w", height, err)
	}
	if decoder.IsNull(raw) {
		return common.Hash{}, fmt.Errorf("%w: block %d not available", domain.ErrMalformedResponse, height)
	}
	h, err := decoder.Header(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: header %d: %v", domain.ErrMalformedResponse, height, err)
	}
	return h.Hash, nil
}

func (a *EVMAdapter) BlockReceipts(
	ctx context.Context,
	blockHash common.Hash,
	txHashes []common.Hash,
) (json.RawMessage, error) {
	if len(txHashes) == 0 {
		return json.RawMessage("[]"), nil
	}
	if !a.noBlockReceipts.Load() {
		raw, err := a.client.Call(ctx, "eth_getBlockReceipts", blockHash)
		switch {
		case err == nil && !decoder.IsNull(raw):
			return raw, nil
		case err == nil:
			return nil, fmt.Errorf("%w: receipts for %s not available", domain.ErrMalformedResponse, blockHash.Hex())
		case !errors.Is(err, domain.ErrUnsupported):
			return nil, fmt.Errorf("eth_getBlockReceipts(%s) failed: %w", blockHash.Hex(), err)
		}
		a.log.Warn("node lacks eth_getBlockReceipts, falling back to per-transaction receipts")
		a.noBlockReceipts.Store(true)
	}
	return a.receiptsByTx(ctx, txHashes)
}

// receiptsByTx fetches receipts in parallel batches and reassembles them
// into one JSON array in transaction order.
func (a *EVMAdapter) receiptsByTx(ctx context.Context, txHashes []common.Hash) (json.RawMessage, error) {
	results := make([]json.RawMessage, len(txHashes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(receiptConcurrency)

	for start := 0; start < len(txHashes); start += receiptBatchSize {
		end := min(start+receiptBatchSize, len(txHashes))
		g.Go(func() error {
			requests := make([]rpc.BatchRequest, 0, end-start)
			for _, h := range txHashes[start:end] {
				requests = append(requests, rpc.BatchRequest{
					Method: "eth_getTransactionReceipt",
					Params: []any{h},
				})
			}
			responses, err := a.client.BatchCall(ctx, requests)
			if err != nil {
				return fmt.Errorf("receipt batch %d-%d failed: %w", start, end, err)
			}
			for j, resp := range responses {
				if resp.Error != nil {
					return fmt.Errorf("receipt %s: %w", txHashes[start+j].Hex(), resp.Error)
				}
				if decoder.IsNull(resp.Result) {
					return fmt.Errorf("%w: receipt %s not available", domain.ErrMalformedResponse, txHashes[start+j].Hex())
				}
				results[start+j] = resp.Result
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("assemble receipts: %w", err)
	}
	return out, nil
}

type logFilter struct {
	FromBlock string          `json:"fromBlock"`
	ToBlock   string          `json:"toBlock"`
	Topics    [][]common.Hash `json:"topics,omitempty"`
}

func (a *EVMAdapter) Logs(ctx context.Context, from, to uint64, topics [][]common.Hash) (json.RawMessage, error) {
	raw, err := a.client.Call(ctx, "eth_getLogs", logFilter{
		FromBlock: hexutil.EncodeUint64(from),
		ToBlock:   hexutil.EncodeUint64(to),
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs(%d-%d) failed: %w", from, to, err)
	}
	return raw, nil
}

func (a *EVMAdapter) TraceBlock(ctx context.Context, blockHash common.Hash) (json.RawMessage, error) {
	raw, err := a.client.Call(ctx, "debug_traceBlockByHash", blockHash, map[string]any{"tracer": "callTracer"})
	if err != nil {
		return nil, fmt.Errorf("debug_traceBlockByHash(%s) failed: %w", blockHash.Hex(), err)
	}
	return raw, nil
}

type callMsg struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

func (a *EVMAdapter) CallContract(
	ctx context.Context,
	to common.Address,
	data []byte,
	height uint64,
) (json.RawMessage, error) {
	raw, err := a.client.Call(ctx, "eth_call", callMsg{To: to, Data: data}, hexutil.EncodeUint64(height))
	if err != nil {
		return nil, fmt.Errorf("eth_call(%s) failed: %w", to.Hex(), err)
	}
	return raw, nil
}

func (a *EVMAdapter) Code(ctx context.Context, addr common.Address, height uint64) (json.RawMessage, error) {
	raw, err := a.client.Call(ctx, "eth_getCode", addr, hexutil.EncodeUint64(height))
	if err != nil {
		return nil, fmt.Errorf("eth_getCode(%s) failed: %w", addr.Hex(), err)
	}
	return raw, nil
}

func (a *EVMAdapter) Balance(ctx context.Context, addr common.Address, height uint64) (json.RawMessage, error) {
	raw, err := a.client.Call(ctx, "eth_getBalance", addr, hexutil.EncodeUint64(height))
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance(%s) failed: %w", addr.Hex(), err)
	}
	return raw, nil
}
