package cursor

import (
	"time"
)

// commitRecord holds timing data for a committed chunk.
type commitRecord struct {
	Height      uint64
	CommittedAt time.Time
}

// Metrics holds sync performance data.
type Metrics struct {
	BlocksPerSecond  float64
	AverageBlockTime time.Duration
	LastReorgAt      *time.Time
	Reorgs           int
	StateHistory     []Transition
}

// MetricsCollector tracks sync throughput over a window of commits.
type MetricsCollector struct {
	windowSize  int            // number of commits to track
	commits     []commitRecord // ring buffer of commit records
	transitions []Transition   // recent state changes
	lastReorgAt *time.Time
	reorgs      int
}

// RecordCommit records the height reached by a committed chunk.
func (mc *MetricsCollector) RecordCommit(height uint64, at time.Time) {
	record := commitRecord{Height: height, CommittedAt: at}

	if len(mc.commits) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.commits, mc.commits[1:])
		mc.commits[len(mc.commits)-1] = record
	} else {
		mc.commits = append(mc.commits, record)
	}
}

// RecordTransition records a state transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 20 transitions
	if len(mc.transitions) >= 20 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}

	if t.To == StateRepairing {
		now := t.Timestamp
		mc.lastReorgAt = &now
		mc.reorgs++
	}
}

func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		LastReorgAt:  mc.lastReorgAt,
		Reorgs:       mc.reorgs,
		StateHistory: make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	if len(mc.commits) >= 2 {
		first := mc.commits[0]
		last := mc.commits[len(mc.commits)-1]
		duration := last.CommittedAt.Sub(first.CommittedAt)

		// Rollbacks can move the height backwards inside the window.
		if duration > 0 && last.Height > first.Height {
			blocks := float64(last.Height - first.Height)
			m.BlocksPerSecond = blocks / duration.Seconds()
			m.AverageBlockTime = time.Duration(float64(duration) / blocks)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.commits = mc.commits[:0]
	mc.transitions = mc.transitions[:0]
	mc.lastReorgAt = nil
	mc.reorgs = 0
}
