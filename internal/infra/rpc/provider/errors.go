package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// JSON-RPC error codes with a fixed meaning.
const (
	codeExecutionError = 3
	codeMethodNotFound = -32601
	codeLimitExceeded  = -32005
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int
	Message string
	kind    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error { return e.kind }

// Reverted reports whether the node executed a call and the EVM failed it.
// Anything else, such as a lagging node's "header not found", is not a
// property of the contract.
func (e *RPCError) Reverted() bool {
	return e.Code == codeExecutionError || matchesAny(e.Message, executionPatterns)
}

// newRPCError classifies a node-reported error by code and message.
func newRPCError(code int, message string) *RPCError {
	e := &RPCError{Code: code, Message: message}
	switch {
	case code == codeMethodNotFound:
		e.kind = domain.ErrUnsupported
	case matchesAny(message, resourcePatterns):
		e.kind = domain.ErrResourceExhausted
	case code == codeLimitExceeded, matchesAny(message, throttlePatterns):
		e.kind = domain.ErrUnreachable
	default:
		// Lagging nodes answer "header not found" and similar; retrying helps.
		e.kind = domain.ErrMalformedResponse
	}
	return e
}

// transportError maps a failed round trip onto the node taxonomy. The
// caller's own cancellation is passed through untouched.
func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUnreachable, op, err)
}

// errorType is the metrics label for err.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, domain.ErrResourceExhausted):
		return "resource"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, domain.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
