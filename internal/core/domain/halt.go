package domain

import "time"

// HaltRecord is persisted when ingestion stops on a fatal condition so the
// operator can see why without digging through logs.
type HaltRecord struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Height    uint64    `json:"height"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	HaltReasonReorgTooDeep = "reorg_too_deep"
	HaltReasonSyncHalted   = "sync_halted"
	HaltReasonStorage      = "storage"
	HaltReasonDecode       = "decode"
)
