package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction is a top-level transaction merged with its receipt.
type Transaction struct {
	Hash            common.Hash     `json:"hash"`
	BlockHeight     uint64          `json:"block_height"`
	BlockHash       common.Hash     `json:"block_hash"`
	Index           uint32          `json:"index"`
	From            common.Address  `json:"from"`
	To              *common.Address `json:"to,omitempty"`
	Value           *big.Int        `json:"value"`
	Nonce           uint64          `json:"nonce"`
	Gas             uint64          `json:"gas"`
	GasPrice        *big.Int        `json:"gas_price,omitempty"`
	Input           []byte          `json:"input,omitempty"`
	Status          TxStatus        `json:"status"`
	GasUsed         uint64          `json:"gas_used"`
	ContractAddress *common.Address `json:"contract_address,omitempty"`
}

// Receiver returns the address that received the transaction: the callee,
// or the created contract for deployments.
func (t *Transaction) Receiver() (common.Address, bool) {
	if t.To != nil {
		return *t.To, true
	}
	if t.ContractAddress != nil {
		return *t.ContractAddress, true
	}
	return common.Address{}, false
}

type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
	// TxStatusUnknown covers pre-Byzantium receipts without a status field.
	TxStatusUnknown TxStatus = "unknown"
)

// Receipt is the subset of a transaction receipt the mirror keeps.
type Receipt struct {
	TxHash          common.Hash
	TxIndex         uint32
	Status          TxStatus
	GasUsed         uint64
	ContractAddress *common.Address
	Logs            []Log
}

// Log is a decoded event log.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockHeight uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint32
	LogIndex    uint32
	Removed     bool
}

// InternalTransaction is a call frame nested inside a transaction's execution.
type InternalTransaction struct {
	TxHash      common.Hash     `json:"tx_hash"`
	BlockHeight uint64          `json:"block_height"`
	TxIndex     uint32          `json:"tx_index"`
	Seq         uint32          `json:"seq"`
	Path        []uint32        `json:"path"`
	CallType    string          `json:"call_type"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to,omitempty"`
	Value       *big.Int        `json:"value"`
	Error       string          `json:"error,omitempty"`
}
