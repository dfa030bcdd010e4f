package chain

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// NodeClient is the boundary to the node the mirror follows. Payloads are
// returned undecoded; turning them into records is the decoder's job.
//
// Every method may fail with domain.ErrUnreachable, domain.ErrTimeout or
// domain.ErrMalformedResponse. domain.ErrResourceExhausted is returned when
// the node refuses a request as too large.
type NodeClient interface {
	// TipHeight returns the latest block height on the node.
	TipHeight(ctx context.Context) (uint64, error)

	// BlockByHeight returns the block with full transaction objects.
	BlockByHeight(ctx context.Context, height uint64) (json.RawMessage, error)

	// BlockHashAt returns the canonical hash at height, for reorg walks.
	BlockHashAt(ctx context.Context, height uint64) (common.Hash, error)

	// BlockReceipts returns the receipts of every transaction in a block.
	BlockReceipts(ctx context.Context, blockHash common.Hash, txHashes []common.Hash) (json.RawMessage, error)

	// Logs returns logs in [from, to] matching the topic filter.
	Logs(ctx context.Context, from, to uint64, topics [][]common.Hash) (json.RawMessage, error)

	// TraceBlock returns callTracer frames for every transaction in a block.
	TraceBlock(ctx context.Context, blockHash common.Hash) (json.RawMessage, error)

	// CallContract runs a read-only call against state at height.
	CallContract(ctx context.Context, to common.Address, data []byte, height uint64) (json.RawMessage, error)

	// Code returns the contract bytecode at addr as of height.
	Code(ctx context.Context, addr common.Address, height uint64) (json.RawMessage, error)

	// Balance returns the wei balance of addr as of height.
	Balance(ctx context.Context, addr common.Address, height uint64) (json.RawMessage, error)
}
