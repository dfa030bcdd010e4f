package cursor

import (
	"errors"
	"time"
)

// State is a sync loop state.
type State string

const (
	StateIdle       State = "IDLE"
	StateFetching   State = "FETCHING"
	StateValidating State = "VALIDATING"
	StateIndexing   State = "INDEXING"
	StateCommitted  State = "COMMITTED"
	StateDegraded   State = "DEGRADED"
	StateRepairing  State = "REPAIRING"
	StateHalted     State = "HALTED"
)

// AllStates lists every state, in the order used for metrics.
var AllStates = []State{
	StateIdle, StateFetching, StateValidating, StateIndexing,
	StateCommitted, StateDegraded, StateRepairing, StateHalted,
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
// HALTED is terminal until an operator intervenes and the process restarts.
var ValidTransitions = map[State][]State{
	StateIdle: {StateFetching, StateRepairing, StateHalted},
	StateFetching: {
		StateValidating,
		StateDegraded,
		StateIdle,
		StateHalted,
	},
	StateValidating: {
		StateIndexing,
		StateRepairing,
		StateDegraded,
		StateIdle,
		StateHalted,
	},
	StateIndexing: {
		StateCommitted,
		StateDegraded,
		StateIdle,
		StateHalted,
	},
	StateCommitted: {StateIdle, StateFetching},
	StateDegraded:  {StateFetching, StateIdle, StateHalted},
	StateRepairing: {StateFetching, StateIdle, StateHalted},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateIdle:
		return "Idle - caught up, waiting for the next refresh"
	case StateFetching:
		return "Fetching - pulling a chunk from the node"
	case StateValidating:
		return "Validating - checking chunk continuity against the store"
	case StateIndexing:
		return "Indexing - deriving primary and secondary index writes"
	case StateCommitted:
		return "Committed - chunk and sync state written atomically"
	case StateDegraded:
		return "Degraded - chunk size reduced after resource pressure"
	case StateRepairing:
		return "Repairing - rolling back a chain reorganization"
	case StateHalted:
		return "Halted - stopped on a fatal condition, operator action needed"
	default:
		return "Unknown state"
	}
}
