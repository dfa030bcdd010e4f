package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SyncState is the durable checkpoint of the mirror. It is written in the
// same batch as the data it describes.
type SyncState struct {
	LastSyncedHeight uint64      `json:"last_synced_height"`
	LastSyncedHash   common.Hash `json:"last_synced_hash"`
	// HasBlocks is false until the first chunk commits; LastSyncedHeight is
	// meaningless before that.
	HasBlocks            bool      `json:"has_blocks"`
	InternalTransactions bool      `json:"internal_transactions"`
	Tokens               bool      `json:"tokens"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NextHeight returns the first height that has not been committed.
func (s *SyncState) NextHeight(start uint64) uint64 {
	if !s.HasBlocks {
		return start
	}
	return s.LastSyncedHeight + 1
}
