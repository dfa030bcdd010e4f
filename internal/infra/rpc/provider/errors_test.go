package provider

import (
	"errors"
	"testing"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

func TestNewRPCError_Kinds(t *testing.T) {
	tests := []struct {
		code    int
		message string
		kind    error
	}{
		{-32601, "the method debug_traceBlockByHash does not exist", domain.ErrUnsupported},
		{-32005, "limit exceeded", domain.ErrUnreachable},
		{-32000, "query returned more than 10000 results", domain.ErrResourceExhausted},
		{-32000, "header not found", domain.ErrMalformedResponse},
	}
	for _, tt := range tests {
		err := newRPCError(tt.code, tt.message)
		if !errors.Is(err, tt.kind) {
			t.Errorf("%d %q: expected %v, got %v", tt.code, tt.message, tt.kind, err.Unwrap())
		}
	}
}

func TestRPCError_Reverted(t *testing.T) {
	tests := []struct {
		code     int
		message  string
		reverted bool
	}{
		{3, "execution reverted", true},
		{-32000, "execution reverted", true},
		{-32015, "VM execution error: invalid opcode", true},
		{-32000, "out of gas", true},
		{-32000, "header not found", false},
		{-32000, "missing trie node", false},
		{-32005, "rate limit exceeded", false},
	}
	for _, tt := range tests {
		if got := newRPCError(tt.code, tt.message).Reverted(); got != tt.reverted {
			t.Errorf("%d %q: expected reverted=%v, got %v", tt.code, tt.message, tt.reverted, got)
		}
	}
}
