package provider

import (
	"strings"
	"sync"
	"time"
)

// ProviderStatus represents the health state of a provider.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota // Provider is working normally
	StatusDegraded                        // Provider is slow but working
	StatusThrottled                       // Provider is rate limiting
	StatusBlocked                         // Provider has blocked this client
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status           ProviderStatus `json:"status"`
	AverageLatency   time.Duration  `json:"average_latency"`
	ThrottleCount429 int            `json:"throttle_count_429"`
	ThrottleCount403 int            `json:"throttle_count_403"`
	Requests         int            `json:"requests"`
	Successes        int            `json:"successes"`
	Failures         int            `json:"failures"`
}

var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// Nodes refuse oversized answers with messages like these.
var resourcePatterns = []string{
	"response size exceeded",
	"response is too big",
	"query returned more than",
	"exceed maximum block range",
	"log response size exceeded",
	"out of memory",
	"request entity too large",
}

// The EVM ran an eth_call and it failed.
var executionPatterns = []string{
	"execution reverted",
	"invalid opcode",
	"out of gas",
	"stack underflow",
	"invalid jump destination",
}

func matchesAny(message string, patterns []string) bool {
	lower := strings.ToLower(message)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Monitor tracks latency, error rate and throttling for one provider.
type Monitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count     int
	status403Count     int
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	successes     int
	failures      int
	lastSuccessAt time.Time
	lastFailureAt time.Time

	slowResponseThreshold time.Duration
}

// NewMonitor creates a monitor with default thresholds.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:       make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		lastSuccessAt:         time.Now(),
		slowResponseThreshold: 3 * time.Second,
	}
}

// RecordSuccess records a successful request with its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.successes++
	m.lastSuccessAt = time.Now()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	m.lastFailureAt = time.Now()
}

// RecordThrottle records a rate limiting or blocking response.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = time.Now()
	switch statusCode {
	case 429:
		m.status429Count++
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		m.retryAfterDuration = retryAfter
	case 403:
		m.status403Count++
		m.retryAfterDuration = 10 * time.Minute
	}
}

// Status returns the current status of the provider.
func (m *Monitor) Status() ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() ProviderStatus {
	throttled := time.Since(m.lastThrottleTime) < m.retryAfterDuration
	if m.status403Count > 0 && throttled {
		return StatusBlocked
	}
	if m.status429Count > 5 && throttled {
		return StatusThrottled
	}
	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// RetryAfter returns remaining time before retry is allowed.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if remaining := m.retryAfterDuration - time.Since(m.lastThrottleTime); remaining > 0 {
		return remaining
	}
	return 0
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		Status:           m.statusLocked(),
		AverageLatency:   m.averageLatencyLocked(),
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
		Requests:         m.successes + m.failures,
		Successes:        m.successes,
		Failures:         m.failures,
	}
}

// Health summarises the monitor as a HealthStatus.
func (m *Monitor) Health() HealthStatus {
	stats := m.Stats()

	m.mu.RLock()
	defer m.mu.RUnlock()

	h := HealthStatus{
		Available:     true,
		Latency:       stats.AverageLatency,
		LastSuccessAt: m.lastSuccessAt,
		LastFailureAt: m.lastFailureAt,
		MonitorStats:  &stats,
	}
	if stats.Requests > 0 {
		h.ErrorRate = float64(stats.Failures) / float64(stats.Requests)
	}
	if h.ErrorRate > 0.5 || stats.Status == StatusBlocked {
		h.Available = false
	}
	return h
}
