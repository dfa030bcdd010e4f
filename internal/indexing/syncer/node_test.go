package syncer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/decoder"
	"github.com/vietddude/ethmirror/internal/infra/chain"
)

var (
	sender   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	miner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func hashFor(fork byte, height uint64) common.Hash {
	var h common.Hash
	h[0] = fork
	binary.BigEndian.PutUint64(h[24:], height)
	return h
}

func txHashFor(fork byte, height uint64) common.Hash {
	h := hashFor(fork, height)
	h[1] = 0x77
	return h
}

type fakeBlock struct {
	height uint64
	fork   byte
	hash   common.Hash
	parent common.Hash
}

// fakeNode serves a single-transaction-per-block chain in JSON-RPC shape.
// Every transaction also emits one ERC-20 Transfer of token.
type fakeNode struct {
	mu    sync.Mutex
	tip   uint64
	chain map[uint64]*fakeBlock
	// queued errors per method, returned before the call succeeds
	failures map[string][]error
	// errors returned on every call to a method
	always map[string]error
	// logs over more heights than this fail as oversized; zero disables
	logLimit uint64
	// when set, the tracer fails every transaction with this message
	tracerError string
	calls       map[string]int
}

var _ chain.NodeClient = (*fakeNode)(nil)

func newFakeNode() *fakeNode {
	return &fakeNode{
		chain:    make(map[uint64]*fakeBlock),
		failures: make(map[string][]error),
		always:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// extend builds fork blocks for [from, to] on top of whatever is at from-1
// and moves the tip to to.
func (n *fakeNode) extend(fork byte, from, to uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for h := from; h <= to; h++ {
		b := &fakeBlock{height: h, fork: fork, hash: hashFor(fork, h)}
		if parent, ok := n.chain[h-1]; ok && h > 0 {
			b.parent = parent.hash
		}
		n.chain[h] = b
	}
	n.tip = to
}

func (n *fakeNode) failNext(method string, errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[method] = append(n.failures[method], errs...)
}

func (n *fakeNode) failAlways(method string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.always[method] = err
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// hit records a call and returns an injected error; n.mu must be held.
func (n *fakeNode) hit(method string) error {
	n.calls[method]++
	if err := n.always[method]; err != nil {
		return err
	}
	if q := n.failures[method]; len(q) > 0 {
		n.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func hexBig(v int64) *hexutil.Big { return (*hexutil.Big)(big.NewInt(v)) }

func (n *fakeNode) TipHeight(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("tip"); err != nil {
		return 0, err
	}
	return n.tip, nil
}

func (n *fakeNode) BlockByHeight(ctx context.Context, height uint64) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("block"); err != nil {
		return nil, err
	}
	b, ok := n.chain[height]
	if !ok {
		return nil, fmt.Errorf("%w: block %d not available", domain.ErrMalformedResponse, height)
	}
	return mustJSON(map[string]any{
		"number":     hexutil.Uint64(b.height),
		"hash":       b.hash,
		"parentHash": b.parent,
		"timestamp":  hexutil.Uint64(1_600_000_000 + b.height*12),
		"miner":      miner,
		"gasUsed":    hexutil.Uint64(21000),
		"gasLimit":   hexutil.Uint64(30_000_000),
		"transactions": []any{map[string]any{
			"hash":             txHashFor(b.fork, b.height),
			"blockNumber":      hexutil.Uint64(b.height),
			"blockHash":        b.hash,
			"transactionIndex": hexutil.Uint64(0),
			"from":             sender,
			"to":               receiver,
			"value":            hexBig(1),
			"nonce":            hexutil.Uint64(b.height),
			"gas":              hexutil.Uint64(21000),
			"gasPrice":         hexBig(1),
			"input":            hexutil.Bytes{},
		}},
	}), nil
}

func (n *fakeNode) BlockHashAt(ctx context.Context, height uint64) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("hash"); err != nil {
		return common.Hash{}, err
	}
	b, ok := n.chain[height]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: block %d not available", domain.ErrMalformedResponse, height)
	}
	return b.hash, nil
}

func (n *fakeNode) BlockReceipts(ctx context.Context, blockHash common.Hash, txHashes []common.Hash) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("receipts"); err != nil {
		return nil, err
	}
	receipts := make([]any, 0, len(txHashes))
	for i, h := range txHashes {
		receipts = append(receipts, map[string]any{
			"transactionHash":  h,
			"transactionIndex": hexutil.Uint64(i),
			"status":           hexutil.Uint64(1),
			"gasUsed":          hexutil.Uint64(21000),
			"contractAddress":  nil,
			"logs":             []any{},
		})
	}
	return mustJSON(receipts), nil
}

func (n *fakeNode) Logs(ctx context.Context, from, to uint64, topics [][]common.Hash) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("logs"); err != nil {
		return nil, err
	}
	if n.logLimit > 0 && to-from+1 > n.logLimit {
		return nil, fmt.Errorf("eth_getLogs: %w: query returned more than %d results", domain.ErrResourceExhausted, n.logLimit)
	}
	logs := []any{}
	for h := from; h <= to; h++ {
		b, ok := n.chain[h]
		if !ok {
			continue
		}
		logs = append(logs, map[string]any{
			"address":          token,
			"topics":           []common.Hash{decoder.TransferTopic, common.BytesToHash(sender.Bytes()), common.BytesToHash(receiver.Bytes())},
			"data":             hexutil.Bytes(common.BigToHash(new(big.Int).SetUint64(h + 1)).Bytes()),
			"blockNumber":      hexutil.Uint64(h),
			"blockHash":        b.hash,
			"transactionHash":  txHashFor(b.fork, h),
			"transactionIndex": hexutil.Uint64(0),
			"logIndex":         hexutil.Uint64(0),
			"removed":          false,
		})
	}
	return mustJSON(logs), nil
}

func (n *fakeNode) TraceBlock(ctx context.Context, blockHash common.Hash) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tracerError == "" {
		return nil, fmt.Errorf("debug_traceBlockByHash: %w", domain.ErrUnsupported)
	}
	for _, b := range n.chain {
		if b.hash == blockHash {
			return mustJSON([]map[string]any{{"txHash": txHashFor(b.fork, b.height), "error": n.tracerError}}), nil
		}
	}
	return nil, fmt.Errorf("%w: unknown block %s", domain.ErrMalformedResponse, blockHash.Hex())
}

func bytes32(s string) []byte {
	var b [32]byte
	copy(b[:], s)
	return b[:]
}

func (n *fakeNode) CallContract(ctx context.Context, to common.Address, data []byte, height uint64) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("call"); err != nil {
		return nil, err
	}
	if to != token {
		return mustJSON(hexutil.Bytes{}), nil
	}
	switch {
	case bytes.Equal(data, decoder.SelectorName):
		return mustJSON(hexutil.Bytes(bytes32("Test Token"))), nil
	case bytes.Equal(data, decoder.SelectorSymbol):
		return mustJSON(hexutil.Bytes(bytes32("TKN"))), nil
	case bytes.Equal(data, decoder.SelectorDecimals):
		return mustJSON(hexutil.Bytes(common.BigToHash(big.NewInt(18)).Bytes())), nil
	case bytes.Equal(data, decoder.SelectorTotalSupply):
		return mustJSON(hexutil.Bytes(common.BigToHash(big.NewInt(1_000_000)).Bytes())), nil
	}
	return mustJSON(hexutil.Bytes{}), nil
}

func (n *fakeNode) Code(ctx context.Context, addr common.Address, height uint64) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("code"); err != nil {
		return nil, err
	}
	if addr == token {
		return mustJSON(hexutil.Bytes{0x60, 0x80}), nil
	}
	return mustJSON(hexutil.Bytes{}), nil
}

// Balance answers with the queried height so tests can see where it was read.
func (n *fakeNode) Balance(ctx context.Context, addr common.Address, height uint64) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.hit("balance"); err != nil {
		return nil, err
	}
	return mustJSON(hexBig(int64(height))), nil
}
