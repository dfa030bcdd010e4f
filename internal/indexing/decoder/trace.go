package decoder

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// callFrame is one node of a callTracer result.
type callFrame struct {
	Type  string          `json:"type"`
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Error string          `json:"error"`
	Calls []callFrame     `json:"calls"`
}

type txTrace struct {
	TxHash *common.Hash `json:"txHash"`
	Result *callFrame   `json:"result"`
	Error  string       `json:"error"`
}

// TraceFailure is a transaction the tracer could not trace. Its internal
// transactions are missing from the result.
type TraceFailure struct {
	TxHash  common.Hash
	TxIndex uint32
	Message string
}

// Traces decodes a debug_traceBlockByHash result produced by callTracer.
// The top-level frame of each transaction is the transaction itself and is
// skipped; every nested frame becomes an InternalTransaction, numbered in
// depth-first order with its position path. Transactions the tracer reported
// an error for are returned as failures instead.
func Traces(raw json.RawMessage, block *domain.Block) ([]domain.InternalTransaction, []TraceFailure, error) {
	var traces []txTrace
	if err := unmarshal("trace", raw, &traces); err != nil {
		return nil, nil, err
	}
	if len(traces) != len(block.TxHashes) {
		return nil, nil, decodeErr("trace", "", "block %d has %d transactions but %d traces", block.Height, len(block.TxHashes), len(traces))
	}

	var (
		out    []domain.InternalTransaction
		failed []TraceFailure
	)
	for i, t := range traces {
		txHash := block.TxHashes[i]
		if t.TxHash != nil && *t.TxHash != txHash {
			return nil, nil, decodeErr("trace", "txHash", "trace %d is for %s, want %s", i, t.TxHash.Hex(), txHash.Hex())
		}
		if t.Result == nil {
			if t.Error != "" {
				failed = append(failed, TraceFailure{TxHash: txHash, TxIndex: uint32(i), Message: t.Error})
				continue
			}
			return nil, nil, missing("trace", "result")
		}
		w := walker{txHash: txHash, height: block.Height, txIndex: uint32(i)}
		for j := range t.Result.Calls {
			if err := w.walk(&t.Result.Calls[j], []uint32{uint32(j)}); err != nil {
				return nil, nil, err
			}
		}
		out = append(out, w.out...)
	}
	return out, failed, nil
}

type walker struct {
	txHash  common.Hash
	height  uint64
	txIndex uint32
	seq     uint32
	out     []domain.InternalTransaction
}

func (w *walker) walk(f *callFrame, path []uint32) error {
	if f.From == nil {
		return missing("trace", "from")
	}
	it := domain.InternalTransaction{
		TxHash:      w.txHash,
		BlockHeight: w.height,
		TxIndex:     w.txIndex,
		Seq:         w.seq,
		Path:        append([]uint32{}, path...),
		CallType:    strings.ToLower(f.Type),
		From:        *f.From,
		To:          f.To,
		Value:       bigOrNil(f.Value),
		Error:       f.Error,
	}
	if it.Value == nil {
		it.Value = new(big.Int)
	}
	w.out = append(w.out, it)
	w.seq++

	for i := range f.Calls {
		if err := w.walk(&f.Calls[i], append(path, uint32(i))); err != nil {
			return err
		}
	}
	return nil
}
