package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// Transfer extracts a token transfer from a log. ok is false for logs that
// are not Transfer events or whose layout matches none of the known
// encodings; such logs are simply not token transfers.
//
// Accepted layouts:
//
//	ERC-20:  3 topics, amount in data
//	ERC-721: 4 topics, token id in topic 3
//	legacy:  1 topic, from/to/amount all in data
func Transfer(l *domain.Log) (t *domain.TokenTransfer, ok bool) {
	if l.Removed || len(l.Topics) == 0 || l.Topics[0] != TransferTopic {
		return nil, false
	}
	t = &domain.TokenTransfer{
		Token:       l.Address,
		TxHash:      l.TxHash,
		BlockHeight: l.BlockHeight,
		TxIndex:     l.TxIndex,
		LogIndex:    l.LogIndex,
	}
	switch {
	case len(l.Topics) == 3 && len(l.Data) == word:
		t.From = topicAddress(l.Topics[1])
		t.To = topicAddress(l.Topics[2])
		t.Amount = new(big.Int).SetBytes(l.Data)
	case len(l.Topics) == 4 && len(l.Data) == 0:
		t.From = topicAddress(l.Topics[1])
		t.To = topicAddress(l.Topics[2])
		t.Amount = new(big.Int).SetBytes(l.Topics[3][:])
	case len(l.Topics) == 1 && len(l.Data) == 3*word:
		t.From = common.BytesToAddress(l.Data[:word])
		t.To = common.BytesToAddress(l.Data[word : 2*word])
		t.Amount = new(big.Int).SetBytes(l.Data[2*word:])
	default:
		return nil, false
	}
	return t, true
}

func topicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h[12:])
}
