// Package rpc connects to the node the mirror follows.
//
// The transport is picked from the endpoint URL so callers never branch on
// it:
//
//	http://, https://   pooled JSON-RPC over HTTP
//	ws://, wss://       go-ethereum rpc client over WebSocket
//	anything else       treated as an IPC socket path
//
// # Quick Start
//
//	p, err := rpc.Dial(ctx, rpc.Config{URL: "http://localhost:8545", Timeout: 30 * time.Second})
//	raw, err := p.Call(ctx, "eth_blockNumber")
package rpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/ethmirror/internal/infra/rpc/provider"
)

// Provider is the transport-agnostic node endpoint.
type Provider = provider.Provider

// BatchRequest represents a single request in a batch call.
type BatchRequest = provider.BatchRequest

// BatchResponse represents a single response from a batch call.
type BatchResponse = provider.BatchResponse

// HealthStatus represents the health state of a provider.
type HealthStatus = provider.HealthStatus

// RPCError is an error object returned by the node itself, as opposed to a
// failed round trip.
type RPCError = provider.RPCError

// Config describes the node endpoint.
type Config struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"`
}

// Transport names the protocol chosen for an endpoint.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportWS   Transport = "ws"
	TransportIPC  Transport = "ipc"
)

// TransportFor reports which transport Dial would use for url.
func TransportFor(url string) Transport {
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return TransportHTTP
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return TransportWS
	default:
		return TransportIPC
	}
}

// Dial opens a provider for cfg.URL, rate limited when configured.
func Dial(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("node url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var (
		p   Provider
		err error
	)
	switch TransportFor(cfg.URL) {
	case TransportHTTP:
		p = provider.NewHTTPProvider("http", cfg.URL, timeout)
	case TransportWS:
		p, err = provider.DialGeth(ctx, "ws", cfg.URL, timeout)
	case TransportIPC:
		p, err = provider.DialGeth(ctx, "ipc", cfg.URL, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	return provider.WithRateLimit(p, cfg.RateLimit), nil
}
