// Package decoder turns raw JSON-RPC payloads into domain records.
//
// Every function is pure: no I/O, no retries. A payload with the wrong shape
// yields a *DecodeError; retrying is the sync loop's call.
package decoder

import (
	"bytes"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

var nullPayload = []byte("null")

// IsNull reports whether the node answered with JSON null.
func IsNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), nullPayload)
}

func unmarshal(kind string, raw json.RawMessage, v any) error {
	if IsNull(raw) {
		return decodeErr(kind, "", "null payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &DecodeError{Kind: kind, Err: err}
	}
	return nil
}

// Quantity decodes a hex quantity such as the eth_blockNumber result.
func Quantity(raw json.RawMessage) (uint64, error) {
	var q hexutil.Uint64
	if err := unmarshal("quantity", raw, &q); err != nil {
		return 0, err
	}
	return uint64(q), nil
}

// Data decodes a hex byte string such as an eth_call or eth_getCode result.
func Data(raw json.RawMessage) ([]byte, error) {
	var b hexutil.Bytes
	if err := unmarshal("data", raw, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// Big decodes a hex quantity that may exceed 64 bits, such as a balance.
func Big(raw json.RawMessage) (*big.Int, error) {
	var b hexutil.Big
	if err := unmarshal("quantity", raw, &b); err != nil {
		return nil, err
	}
	return b.ToInt(), nil
}

type rpcBlock struct {
	Number       *hexutil.Uint64 `json:"number"`
	Hash         *common.Hash    `json:"hash"`
	ParentHash   *common.Hash    `json:"parentHash"`
	Timestamp    *hexutil.Uint64 `json:"timestamp"`
	Miner        *common.Address `json:"miner"`
	GasUsed      *hexutil.Uint64 `json:"gasUsed"`
	GasLimit     *hexutil.Uint64 `json:"gasLimit"`
	BaseFee      *hexutil.Big    `json:"baseFeePerGas"`
	Difficulty   *hexutil.Big    `json:"difficulty"`
	Size         *hexutil.Uint64 `json:"size"`
	ExtraData    hexutil.Bytes   `json:"extraData"`
	Transactions []rpcTx         `json:"transactions"`
}

type rpcTx struct {
	Hash             *common.Hash    `json:"hash"`
	BlockNumber      *hexutil.Uint64 `json:"blockNumber"`
	BlockHash        *common.Hash    `json:"blockHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	From             *common.Address `json:"from"`
	To               *common.Address `json:"to"`
	Value            *hexutil.Big    `json:"value"`
	Nonce            *hexutil.Uint64 `json:"nonce"`
	Gas              *hexutil.Uint64 `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	Input            hexutil.Bytes   `json:"input"`
}

func bigOrNil(b *hexutil.Big) *big.Int {
	if b == nil {
		return nil
	}
	return b.ToInt()
}

// Block decodes an eth_getBlockByNumber(..., true) result. Transactions are
// returned in block order with receipt fields unset.
func Block(raw json.RawMessage) (*domain.Block, []domain.Transaction, error) {
	var rb rpcBlock
	if err := unmarshal("block", raw, &rb); err != nil {
		return nil, nil, err
	}
	switch {
	case rb.Number == nil:
		return nil, nil, missing("block", "number")
	case rb.Hash == nil:
		return nil, nil, missing("block", "hash")
	case rb.ParentHash == nil:
		return nil, nil, missing("block", "parentHash")
	case rb.Timestamp == nil:
		return nil, nil, missing("block", "timestamp")
	case rb.Miner == nil:
		return nil, nil, missing("block", "miner")
	}

	b := &domain.Block{
		Height:     uint64(*rb.Number),
		Hash:       *rb.Hash,
		ParentHash: *rb.ParentHash,
		Timestamp:  uint64(*rb.Timestamp),
		Miner:      *rb.Miner,
		BaseFee:    bigOrNil(rb.BaseFee),
		Difficulty: bigOrNil(rb.Difficulty),
		ExtraData:  rb.ExtraData,
		TxHashes:   make([]common.Hash, 0, len(rb.Transactions)),
	}
	if rb.GasUsed != nil {
		b.GasUsed = uint64(*rb.GasUsed)
	}
	if rb.GasLimit != nil {
		b.GasLimit = uint64(*rb.GasLimit)
	}
	if rb.Size != nil {
		b.Size = uint64(*rb.Size)
	}

	txs := make([]domain.Transaction, 0, len(rb.Transactions))
	for i, rt := range rb.Transactions {
		tx, err := transaction(b, i, &rt)
		if err != nil {
			return nil, nil, err
		}
		b.TxHashes = append(b.TxHashes, tx.Hash)
		txs = append(txs, *tx)
	}
	return b, txs, nil
}

func transaction(b *domain.Block, i int, rt *rpcTx) (*domain.Transaction, error) {
	switch {
	case rt.Hash == nil:
		return nil, missing("transaction", "hash")
	case rt.From == nil:
		return nil, missing("transaction", "from")
	case rt.Value == nil:
		return nil, missing("transaction", "value")
	case rt.TransactionIndex == nil:
		return nil, missing("transaction", "transactionIndex")
	}
	if uint64(*rt.TransactionIndex) != uint64(i) {
		return nil, decodeErr("transaction", "transactionIndex", "tx %s at position %d claims index %d", rt.Hash.Hex(), i, *rt.TransactionIndex)
	}
	if rt.BlockHash != nil && *rt.BlockHash != b.Hash {
		return nil, decodeErr("transaction", "blockHash", "tx %s belongs to %s, not %s", rt.Hash.Hex(), rt.BlockHash.Hex(), b.Hash.Hex())
	}

	tx := &domain.Transaction{
		Hash:        *rt.Hash,
		BlockHeight: b.Height,
		BlockHash:   b.Hash,
		Index:       uint32(i),
		From:        *rt.From,
		To:          rt.To,
		Value:       rt.Value.ToInt(),
		GasPrice:    bigOrNil(rt.GasPrice),
		Input:       rt.Input,
		Status:      domain.TxStatusUnknown,
	}
	if rt.Nonce != nil {
		tx.Nonce = uint64(*rt.Nonce)
	}
	if rt.Gas != nil {
		tx.Gas = uint64(*rt.Gas)
	}
	return tx, nil
}

type rpcReceipt struct {
	TransactionHash  *common.Hash    `json:"transactionHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	Status           *hexutil.Uint64 `json:"status"`
	GasUsed          *hexutil.Uint64 `json:"gasUsed"`
	ContractAddress  *common.Address `json:"contractAddress"`
	Logs             []rpcLog        `json:"logs"`
}

type rpcLog struct {
	Address          *common.Address `json:"address"`
	Topics           []common.Hash   `json:"topics"`
	Data             hexutil.Bytes   `json:"data"`
	BlockNumber      *hexutil.Uint64 `json:"blockNumber"`
	BlockHash        *common.Hash    `json:"blockHash"`
	TransactionHash  *common.Hash    `json:"transactionHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	LogIndex         *hexutil.Uint64 `json:"logIndex"`
	Removed          bool            `json:"removed"`
}

// Receipts decodes an eth_getBlockReceipts result.
func Receipts(raw json.RawMessage) ([]domain.Receipt, error) {
	var rr []rpcReceipt
	if err := unmarshal("receipt", raw, &rr); err != nil {
		return nil, err
	}
	out := make([]domain.Receipt, 0, len(rr))
	for _, r := range rr {
		if r.TransactionHash == nil {
			return nil, missing("receipt", "transactionHash")
		}
		if r.TransactionIndex == nil {
			return nil, missing("receipt", "transactionIndex")
		}
		rec := domain.Receipt{
			TxHash:          *r.TransactionHash,
			TxIndex:         uint32(*r.TransactionIndex),
			Status:          domain.TxStatusUnknown,
			ContractAddress: r.ContractAddress,
		}
		if r.Status != nil {
			rec.Status = domain.TxStatusFailed
			if *r.Status == 1 {
				rec.Status = domain.TxStatusSuccess
			}
		}
		if r.GasUsed != nil {
			rec.GasUsed = uint64(*r.GasUsed)
		}
		for _, l := range r.Logs {
			dl, err := toLog(&l)
			if err != nil {
				return nil, err
			}
			rec.Logs = append(rec.Logs, *dl)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Logs decodes an eth_getLogs result.
func Logs(raw json.RawMessage) ([]domain.Log, error) {
	var rl []rpcLog
	if err := unmarshal("log", raw, &rl); err != nil {
		return nil, err
	}
	out := make([]domain.Log, 0, len(rl))
	for i := range rl {
		l, err := toLog(&rl[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

func toLog(l *rpcLog) (*domain.Log, error) {
	switch {
	case l.Address == nil:
		return nil, missing("log", "address")
	case l.BlockNumber == nil:
		return nil, missing("log", "blockNumber")
	case l.TransactionHash == nil:
		return nil, missing("log", "transactionHash")
	case l.TransactionIndex == nil:
		return nil, missing("log", "transactionIndex")
	case l.LogIndex == nil:
		return nil, missing("log", "logIndex")
	}
	out := &domain.Log{
		Address:     *l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockHeight: uint64(*l.BlockNumber),
		TxHash:      *l.TransactionHash,
		TxIndex:     uint32(*l.TransactionIndex),
		LogIndex:    uint32(*l.LogIndex),
		Removed:     l.Removed,
	}
	if l.BlockHash != nil {
		out.BlockHash = *l.BlockHash
	}
	return out, nil
}

// MergeReceipts copies receipt fields onto the block's transactions. The
// receipts must cover exactly the block's transactions.
func MergeReceipts(txs []domain.Transaction, receipts []domain.Receipt) error {
	if len(txs) != len(receipts) {
		return decodeErr("receipt", "", "block has %d transactions but %d receipts", len(txs), len(receipts))
	}
	byHash := make(map[common.Hash]*domain.Receipt, len(receipts))
	for i := range receipts {
		byHash[receipts[i].TxHash] = &receipts[i]
	}
	for i := range txs {
		r, ok := byHash[txs[i].Hash]
		if !ok {
			return decodeErr("receipt", "transactionHash", "no receipt for tx %s", txs[i].Hash.Hex())
		}
		txs[i].Status = r.Status
		txs[i].GasUsed = r.GasUsed
		txs[i].ContractAddress = r.ContractAddress
	}
	return nil
}

type rpcHeader struct {
	Number     *hexutil.Uint64 `json:"number"`
	Hash       *common.Hash    `json:"hash"`
	ParentHash *common.Hash    `json:"parentHash"`
}

// Header decodes the identifying fields of any block payload.
func Header(raw json.RawMessage) (domain.Header, error) {
	var h rpcHeader
	if err := unmarshal("header", raw, &h); err != nil {
		return domain.Header{}, err
	}
	switch {
	case h.Number == nil:
		return domain.Header{}, missing("header", "number")
	case h.Hash == nil:
		return domain.Header{}, missing("header", "hash")
	case h.ParentHash == nil:
		return domain.Header{}, missing("header", "parentHash")
	}
	return domain.Header{Height: uint64(*h.Number), Hash: *h.Hash, ParentHash: *h.ParentHash}, nil
}
