package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block is a confirmed block as stored in the mirror.
type Block struct {
	Height     uint64         `json:"height"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parent_hash"`
	Timestamp  uint64         `json:"timestamp"`
	Miner      common.Address `json:"miner"`
	GasUsed    uint64         `json:"gas_used"`
	GasLimit   uint64         `json:"gas_limit"`
	BaseFee    *big.Int       `json:"base_fee,omitempty"`
	Difficulty *big.Int       `json:"difficulty,omitempty"`
	Size       uint64         `json:"size"`
	ExtraData  []byte         `json:"extra_data,omitempty"`
	TxHashes   []common.Hash  `json:"tx_hashes"`
}

// Follows reports whether b extends parent.
func (b *Block) Follows(parent *Block) bool {
	return parent != nil && b.Height == parent.Height+1 && b.ParentHash == parent.Hash
}

// Header is the minimal view of a block used for continuity checks.
type Header struct {
	Height     uint64
	Hash       common.Hash
	ParentHash common.Hash
}

func (b *Block) Header() Header {
	return Header{Height: b.Height, Hash: b.Hash, ParentHash: b.ParentHash}
}
