package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token holds ERC-20 style metadata captured when a contract is first seen
// emitting a Transfer event.
type Token struct {
	Address         common.Address `json:"address"`
	Symbol          string         `json:"symbol"`
	Name            string         `json:"name"`
	Decimals        uint8          `json:"decimals"`
	TotalSupply     *big.Int       `json:"total_supply,omitempty"`
	FirstSeenHeight uint64         `json:"first_seen_height"`
}

// TokenTransfer is a Transfer event decoded from a log.
type TokenTransfer struct {
	Token       common.Address `json:"token"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockHeight uint64         `json:"block_height"`
	TxIndex     uint32         `json:"tx_index"`
	LogIndex    uint32         `json:"log_index"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Amount      *big.Int       `json:"amount"`
}
