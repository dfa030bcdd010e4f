package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

func newNode(t *testing.T, handler func(req jsonrpcRequest) (any, *jsonrpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		reply := func(req jsonrpcRequest) map[string]any {
			result, rpcErr := handler(req)
			out := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if rpcErr != nil {
				out["error"] = rpcErr
			} else {
				out["result"] = result
			}
			return out
		}

		if len(body) > 0 && body[0] == '[' {
			var reqs []jsonrpcRequest
			require.NoError(t, json.Unmarshal(body, &reqs))
			out := make([]map[string]any, 0, len(reqs))
			// Answer in reverse to exercise id matching.
			for i := len(reqs) - 1; i >= 0; i-- {
				out = append(out, reply(reqs[i]))
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		var req jsonrpcRequest
		require.NoError(t, json.Unmarshal(body, &req))
		_ = json.NewEncoder(w).Encode(reply(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_Call(t *testing.T) {
	srv := newNode(t, func(req jsonrpcRequest) (any, *jsonrpcError) {
		assert.Equal(t, "eth_blockNumber", req.Method)
		return "0x12d687", nil
	})
	p := NewHTTPProvider("test", srv.URL, time.Second)

	raw, err := p.Call(context.Background(), "eth_blockNumber")
	require.NoError(t, err)
	assert.JSONEq(t, `"0x12d687"`, string(raw))
	assert.Equal(t, 1, p.Monitor.Stats().Successes)
}

func TestHTTPProvider_BatchCallMatchesIDs(t *testing.T) {
	srv := newNode(t, func(req jsonrpcRequest) (any, *jsonrpcError) {
		if req.Method == "eth_fail" {
			return nil, &jsonrpcError{Code: -32000, Message: "header not found"}
		}
		return req.Params[0], nil
	})
	p := NewHTTPProvider("test", srv.URL, time.Second)

	resps, err := p.BatchCall(context.Background(), []BatchRequest{
		{Method: "eth_echo", Params: []any{"a"}},
		{Method: "eth_fail", Params: []any{"b"}},
		{Method: "eth_echo", Params: []any{"c"}},
	})
	require.NoError(t, err)
	require.Len(t, resps, 3)
	assert.JSONEq(t, `"a"`, string(resps[0].Result))
	assert.ErrorIs(t, resps[1].Error, domain.ErrMalformedResponse)
	assert.JSONEq(t, `"c"`, string(resps[2].Result))
}

func TestHTTPProvider_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, "", domain.ErrUnreachable},
		{"server error", http.StatusBadGateway, "bad gateway", domain.ErrUnreachable},
		{"too large", http.StatusRequestEntityTooLarge, "", domain.ErrResourceExhausted},
		{"garbage", http.StatusOK, "not json", domain.ErrMalformedResponse},
		{"log limit", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"query returned more than 10000 results"}}`, domain.ErrResourceExhausted},
		{"no debug api", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"the method debug_traceBlockByHash does not exist"}}`, domain.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider("test", srv.URL, time.Second)
			_, err := p.Call(context.Background(), "eth_getLogs")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, 20*time.Millisecond)
	_, err := p.Call(context.Background(), "eth_blockNumber")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	p := NewHTTPProvider("test", "http://127.0.0.1:1", time.Second)
	_, err := p.Call(context.Background(), "eth_blockNumber")
	assert.ErrorIs(t, err, domain.ErrUnreachable)
}

func TestHTTPProvider_CallerCancellation(t *testing.T) {
	srv := newNode(t, func(req jsonrpcRequest) (any, *jsonrpcError) { return "0x1", nil })
	p := NewHTTPProvider("test", srv.URL, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Call(ctx, "eth_blockNumber")
	assert.ErrorIs(t, err, context.Canceled)
}
