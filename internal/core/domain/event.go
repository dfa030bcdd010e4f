package domain

// Event is emitted by the sync loop for observers (logging, metrics).
type Event struct {
	Type       EventType `json:"type"`
	FromHeight uint64    `json:"from_height"`
	ToHeight   uint64    `json:"to_height"`
	// Depth is set for reorg events.
	Depth    uint64         `json:"depth,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type EventType string

const (
	EventChunkCommitted EventType = "chunk_committed"
	EventReorgRepaired  EventType = "reorg_repaired"
	EventDegraded       EventType = "degraded"
	EventRecovered      EventType = "recovered"
	EventHalted         EventType = "halted"
)
