package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/syncer"
)

// StatusSource is the sync loop as seen by the monitor.
type StatusSource interface {
	GetStatus() syncer.Status
}

// HaltReader returns the last recorded halt, or nil.
type HaltReader func(ctx context.Context) (*domain.HaltRecord, error)

// Monitor turns the loop status into a health report.
type Monitor struct {
	source     StatusSource
	halts      HaltReader
	thresholds Thresholds
	// reports are reused for this long to keep frequent health checks off the store
	cacheFor time.Duration
	now      func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a new health monitor. halts may be nil.
func NewMonitor(source StatusSource, halts HaltReader, thresholds Thresholds) *Monitor {
	return &Monitor{
		source:     source,
		halts:      halts,
		thresholds: thresholds,
		cacheFor:   2 * time.Second,
		now:        time.Now,
	}
}

// CheckHealth builds a report from the current loop status.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	st := m.source.GetStatus()
	report := Report{
		Running:          st.Running,
		State:            string(st.State),
		HasBlocks:        st.HasBlocks,
		LastSyncedHeight: st.LastSyncedHeight,
		ChainTip:         st.ChainTip,
		Lag:              st.Lag,
		ChunkSize:        st.ChunkSize,
		Degraded:         st.Degraded,
		BlocksPerSecond:  st.BlocksPerSecond,
		Reorgs:           st.Reorgs,
		CheckedAt:        now,
	}
	if st.HasBlocks {
		report.LastSyncedHash = st.LastSyncedHash.Hex()
	}
	if !st.LastCommitAt.IsZero() {
		report.LastCommitAge = now.Sub(st.LastCommitAt).Seconds()
	}
	if m.halts != nil {
		// A read failure only hides the record; status comes from the loop.
		if rec, err := m.halts(ctx); err == nil {
			report.LastHalt = rec
		}
	}
	report.Status = m.evaluate(st, now)

	m.lastCheck = now
	m.lastReport = &report
	return report
}

func (m *Monitor) evaluate(st syncer.Status, now time.Time) SystemStatus {
	t := m.thresholds
	switch {
	case st.State == cursor.StateHalted, !st.Running:
		return StatusCritical
	case t.CriticalLag > 0 && st.Lag > t.CriticalLag:
		return StatusCritical
	case st.Degraded, t.DegradedLag > 0 && st.Lag > t.DegradedLag:
		return StatusDegraded
	case t.StaleAfter > 0 && st.Lag > 0 && !st.LastCommitAt.IsZero() && now.Sub(st.LastCommitAt) > t.StaleAfter:
		return StatusDegraded
	}
	return StatusHealthy
}
