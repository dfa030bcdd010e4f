package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
)

// maxResponseBytes caps a single HTTP response body. Anything larger is
// treated as resource exhaustion so the caller shrinks its request.
const maxResponseBytes = 256 << 20

// HTTPProvider implements Provider for JSON-RPC over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64

	Monitor *Monitor
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewMonitor(),
	}
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpcError   `json:"error"`
}

func (p *HTTPProvider) request(method string, params []any) jsonrpcRequest {
	if params == nil {
		params = []any{}
	}
	return jsonrpcRequest{JSONRPC: "2.0", ID: p.nextID.Add(1), Method: method, Params: params}
}

// Call makes a single JSON-RPC call.
func (p *HTTPProvider) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()
	start := time.Now()

	body, err := p.post(ctx, method, p.request(method, params))
	if err != nil {
		p.fail(err)
		return nil, err
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("%w: %s: parse response: %v", domain.ErrMalformedResponse, method, err)
		p.fail(err)
		return nil, err
	}
	if resp.Error != nil {
		err := fmt.Errorf("%s: %w", method, newRPCError(resp.Error.Code, resp.Error.Message))
		p.fail(err)
		return nil, err
	}

	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(p.name, method).Observe(latency.Seconds())
	p.Monitor.RecordSuccess(latency)
	return resp.Result, nil
}

// BatchCall makes multiple RPC calls in one request. Responses are matched
// back to requests by id since nodes may reorder them.
func (p *HTTPProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	metrics.RPCCallsTotal.WithLabelValues(p.name, "batch").Inc()
	start := time.Now()

	batch := make([]jsonrpcRequest, len(requests))
	index := make(map[uint64]int, len(requests))
	for i, r := range requests {
		batch[i] = p.request(r.Method, r.Params)
		index[batch[i].ID] = i
	}

	body, err := p.post(ctx, "batch", batch)
	if err != nil {
		p.fail(err)
		return nil, err
	}

	var raw []jsonrpcResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		err = fmt.Errorf("%w: parse batch response: %v", domain.ErrMalformedResponse, err)
		p.fail(err)
		return nil, err
	}

	responses := make([]BatchResponse, len(requests))
	seen := 0
	for _, r := range raw {
		i, ok := index[r.ID]
		if !ok {
			continue
		}
		seen++
		if r.Error != nil {
			responses[i] = BatchResponse{Error: fmt.Errorf("%s: %w", requests[i].Method, newRPCError(r.Error.Code, r.Error.Message))}
		} else {
			responses[i] = BatchResponse{Result: r.Result}
		}
	}
	if seen != len(requests) {
		err := fmt.Errorf("%w: batch of %d answered %d", domain.ErrMalformedResponse, len(requests), seen)
		p.fail(err)
		return nil, err
	}

	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(p.name, "batch").Observe(latency.Seconds())
	p.Monitor.RecordSuccess(latency)
	return responses, nil
}

func (p *HTTPProvider) post(ctx context.Context, op string, payload any) ([]byte, error) {
	if p.Monitor.Status() == StatusBlocked {
		return nil, fmt.Errorf("%w: provider %s blocked, retry after %v", domain.ErrUnreachable, p.name, p.Monitor.RetryAfter())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		p.Monitor.RecordThrottle(resp.StatusCode, time.Duration(retryAfter)*time.Second)
		return nil, fmt.Errorf("%w: %s: rate limited (429)", domain.ErrUnreachable, op)
	case resp.StatusCode == http.StatusForbidden:
		p.Monitor.RecordThrottle(resp.StatusCode, 0)
		return nil, fmt.Errorf("%w: %s: ip blocked (403)", domain.ErrUnreachable, op)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, fmt.Errorf("%w: %s: request entity too large (413)", domain.ErrResourceExhausted, op)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s: response exceeds %d bytes", domain.ErrResourceExhausted, op, maxResponseBytes)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		switch {
		case matchesAny(msg, resourcePatterns):
			return nil, fmt.Errorf("%w: %s: http %d: %s", domain.ErrResourceExhausted, op, resp.StatusCode, msg)
		case matchesAny(msg, throttlePatterns):
			p.Monitor.RecordThrottle(http.StatusTooManyRequests, 0)
		}
		return nil, fmt.Errorf("%w: %s: http %d: %s", domain.ErrUnreachable, op, resp.StatusCode, msg)
	}
	return body, nil
}

func (p *HTTPProvider) fail(err error) {
	p.Monitor.RecordFailure()
	metrics.RPCErrorsTotal.WithLabelValues(p.name, errorType(err)).Inc()
}

// Name returns the provider's name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Health returns the provider's health status.
func (p *HTTPProvider) Health() HealthStatus {
	return p.Monitor.Health()
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
