package decoder

import (
	"fmt"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// DecodeError reports a payload that does not have the expected shape.
type DecodeError struct {
	Kind  string // block, receipt, log, trace, abi
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("decode %s.%s: %v", e.Kind, e.Field, e.Err)
}

// Unwrap lets callers match both domain.ErrDecode and the cause.
func (e *DecodeError) Unwrap() []error {
	return []error{domain.ErrDecode, e.Err}
}

func decodeErr(kind, field string, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Field: field, Err: fmt.Errorf(format, args...)}
}

func missing(kind, field string) *DecodeError {
	return decodeErr(kind, field, "missing")
}
