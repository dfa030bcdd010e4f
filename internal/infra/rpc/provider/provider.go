// Package provider implements node transports behind one Provider interface.
//
// This package contains:
//   - HTTPProvider: pooled JSON-RPC over HTTP
//   - GethProvider: go-ethereum's rpc client for WebSocket and IPC endpoints
//   - RateLimited: a token-bucket wrapper shared by both
//   - Monitor: throttle and latency tracking
//
// Every transport maps its failures onto the node error taxonomy in the
// domain package (ErrUnreachable, ErrTimeout, ErrMalformedResponse), plus
// ErrResourceExhausted when the node refuses a response as too large.
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Provider is a JSON-RPC endpoint. Results are returned undecoded.
type Provider interface {
	Name() string
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)
	Health() HealthStatus
	Close() error
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
