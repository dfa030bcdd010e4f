package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/ethmirror/internal/core/cursor"
	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/syncer"
)

// =============================================================================
// Stubs
// =============================================================================

type stubSource struct {
	status syncer.Status
	calls  int
}

func (s *stubSource) GetStatus() syncer.Status {
	s.calls++
	return s.status
}

func running(lag uint64) syncer.Status {
	return syncer.Status{
		Running:          true,
		State:            cursor.StateIdle,
		HasBlocks:        true,
		LastSyncedHeight: 1000,
		ChainTip:         1000 + lag,
		Lag:              lag,
		ChunkSize:        1000,
	}
}

// =============================================================================
// Monitor
// =============================================================================

func TestMonitor_Status(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	halted := running(0)
	halted.State = cursor.StateHalted
	stopped := running(0)
	stopped.Running = false
	degraded := running(0)
	degraded.Degraded = true
	stale := running(3)
	stale.LastCommitAt = now.Add(-10 * time.Minute)
	fresh := running(3)
	fresh.LastCommitAt = now.Add(-10 * time.Second)

	tests := []struct {
		name   string
		status syncer.Status
		want   SystemStatus
	}{
		{"caught up", running(0), StatusHealthy},
		{"small lag", running(5), StatusHealthy},
		{"lagging", running(50), StatusDegraded},
		{"far behind", running(200), StatusCritical},
		{"halted", halted, StatusCritical},
		{"not running", stopped, StatusCritical},
		{"shrunk chunk", degraded, StatusDegraded},
		{"stale commit", stale, StatusDegraded},
		{"recent commit", fresh, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&stubSource{status: tt.status}, nil, DefaultThresholds())
			m.now = func() time.Time { return now }

			report := m.CheckHealth(context.Background())
			if report.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.Status)
			}
		})
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	now := time.Now()
	src := &stubSource{status: running(0)}
	m := NewMonitor(src, nil, DefaultThresholds())
	m.now = func() time.Time { return now }

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if src.calls != 1 {
		t.Errorf("expected 1 status read within cache window, got %d", src.calls)
	}

	now = now.Add(3 * time.Second)
	m.CheckHealth(context.Background())
	if src.calls != 2 {
		t.Errorf("expected refresh after cache window, got %d reads", src.calls)
	}
}

func TestMonitor_IncludesLastHalt(t *testing.T) {
	rec := &domain.HaltRecord{ID: "h1", Reason: domain.HaltReasonReorgTooDeep, Height: 42}
	st := running(0)
	st.State = cursor.StateHalted

	m := NewMonitor(&stubSource{status: st}, func(context.Context) (*domain.HaltRecord, error) {
		return rec, nil
	}, DefaultThresholds())

	report := m.CheckHealth(context.Background())
	if report.LastHalt == nil || report.LastHalt.ID != "h1" {
		t.Fatalf("expected halt record h1, got %+v", report.LastHalt)
	}
}

func TestMonitor_HaltReadErrorIgnored(t *testing.T) {
	m := NewMonitor(&stubSource{status: running(0)}, func(context.Context) (*domain.HaltRecord, error) {
		return nil, errors.New("store closed")
	}, DefaultThresholds())

	report := m.CheckHealth(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.LastHalt != nil {
		t.Error("expected no halt record")
	}
}

// =============================================================================
// Server
// =============================================================================

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name   string
		status syncer.Status
		code   int
	}{
		{"healthy", running(0), http.StatusOK},
		{"degraded", running(50), http.StatusOK},
		{"critical", running(500), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(NewMonitor(&stubSource{status: tt.status}, nil, DefaultThresholds()), 0)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["status"] != tt.name {
				t.Errorf("expected status %q, got %v", tt.name, body["status"])
			}
		})
	}
}

func TestServer_Detailed(t *testing.T) {
	srv := NewServer(NewMonitor(&stubSource{status: running(7)}, nil, DefaultThresholds()), 0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Lag != 7 || report.ChainTip != 1007 || report.State != string(cursor.StateIdle) {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer(NewMonitor(&stubSource{status: running(0)}, nil, DefaultThresholds()), 0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
