package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RefKind selects an address sub-index.
type RefKind uint8

const (
	RefTransaction RefKind = iota + 1
	RefInternal
	RefTokenTransfer
	RefMined
)

func (k RefKind) String() string {
	switch k {
	case RefTransaction:
		return "transaction"
	case RefInternal:
		return "internal"
	case RefTokenTransfer:
		return "token_transfer"
	case RefMined:
		return "mined"
	default:
		return "unknown"
	}
}

// Direction of a transaction relative to the indexed address.
type Direction string

const (
	DirectionOut    Direction = "out"
	DirectionIn     Direction = "in"
	DirectionSelf   Direction = "self"
	DirectionCreate Direction = "create"
)

// AddressRef is one entry of an address index. It only carries identifiers;
// the referenced records live under their own prefixes.
type AddressRef struct {
	Address     common.Address `json:"address"`
	Kind        RefKind        `json:"kind"`
	BlockHeight uint64         `json:"block_height"`
	TxIndex     uint32         `json:"tx_index"`
	// Sub is the log index for token transfers and the trace sequence for
	// internal transactions.
	Sub       uint32      `json:"sub"`
	TxHash    common.Hash `json:"tx_hash,omitempty"`
	Direction Direction   `json:"direction,omitempty"`
}

// AddressSummary carries running counters for one address. The counters
// follow the indexed chain: a rollback subtracts what the removed blocks
// added. Self transfers count as both input and output.
type AddressSummary struct {
	Address        common.Address `json:"address"`
	InputTxs       uint64         `json:"input_txs"`
	OutputTxs      uint64         `json:"output_txs"`
	InputTokenTxs  uint64         `json:"input_token_txs"`
	OutputTokenTxs uint64         `json:"output_token_txs"`
	InternalTxs    uint64         `json:"internal_txs"`
	Mined          uint64         `json:"mined"`
	// Contract is set when an indexed transaction deployed the address.
	Contract      bool `json:"contract"`
	TokenContract bool `json:"token_contract"`
	// Balance is only kept when balance refresh is enabled. BalanceHeight is
	// the block it was read at.
	Balance       *big.Int `json:"balance,omitempty"`
	BalanceHeight uint64   `json:"balance_height,omitempty"`
}

// Empty reports whether nothing indexed refers to the address any more.
func (s *AddressSummary) Empty() bool {
	return s.InputTxs == 0 && s.OutputTxs == 0 &&
		s.InputTokenTxs == 0 && s.OutputTokenTxs == 0 &&
		s.InternalTxs == 0 && s.Mined == 0 &&
		!s.Contract && !s.TokenContract
}
