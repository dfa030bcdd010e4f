package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
)

// GethProvider serves WebSocket and IPC endpoints through go-ethereum's
// rpc client, which keeps one persistent connection.
type GethProvider struct {
	name    string
	client  *gethrpc.Client
	timeout time.Duration

	Monitor *Monitor
}

var _ Provider = (*GethProvider)(nil)

// DialGeth connects to a ws://, wss:// or IPC endpoint.
func DialGeth(ctx context.Context, name, endpoint string, timeout time.Duration) (*GethProvider, error) {
	client, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, transportError(ctx, "dial", err)
	}
	return &GethProvider{name: name, client: client, timeout: timeout, Monitor: NewMonitor()}, nil
}

func (p *GethProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *GethProvider) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()
	start := time.Now()

	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	var result json.RawMessage
	if err := p.client.CallContext(callCtx, &result, method, params...); err != nil {
		err = p.classify(ctx, method, err)
		p.fail(err)
		return nil, err
	}

	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(p.name, method).Observe(latency.Seconds())
	p.Monitor.RecordSuccess(latency)
	return result, nil
}

func (p *GethProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	metrics.RPCCallsTotal.WithLabelValues(p.name, "batch").Inc()
	start := time.Now()

	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	elems := make([]gethrpc.BatchElem, len(requests))
	results := make([]json.RawMessage, len(requests))
	for i, r := range requests {
		elems[i] = gethrpc.BatchElem{Method: r.Method, Args: r.Params, Result: &results[i]}
	}
	if err := p.client.BatchCallContext(callCtx, elems); err != nil {
		err = p.classify(ctx, "batch", err)
		p.fail(err)
		return nil, err
	}

	responses := make([]BatchResponse, len(requests))
	for i, e := range elems {
		if e.Error != nil {
			responses[i] = BatchResponse{Error: p.classify(ctx, e.Method, e.Error)}
			continue
		}
		responses[i] = BatchResponse{Result: results[i]}
	}

	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(p.name, "batch").Observe(latency.Seconds())
	p.Monitor.RecordSuccess(latency)
	return responses, nil
}

func (p *GethProvider) classify(ctx context.Context, op string, err error) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", op, newRPCError(rpcErr.ErrorCode(), rpcErr.Error()))
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		p.Monitor.RecordThrottle(429, 0)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformedResponse, op, err)
	}
	return transportError(ctx, op, err)
}

func (p *GethProvider) fail(err error) {
	p.Monitor.RecordFailure()
	metrics.RPCErrorsTotal.WithLabelValues(p.name, errorType(err)).Inc()
}

func (p *GethProvider) Name() string { return p.name }

func (p *GethProvider) Health() HealthStatus { return p.Monitor.Health() }

func (p *GethProvider) Close() error {
	p.client.Close()
	return nil
}
