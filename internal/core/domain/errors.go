package domain

import "errors"

// Node boundary failures.
var (
	ErrUnreachable       = errors.New("node unreachable")
	ErrTimeout           = errors.New("node timeout")
	ErrMalformedResponse = errors.New("malformed node response")
)

var (
	// ErrDecode marks a payload that does not have the expected shape.
	ErrDecode = errors.New("decode error")
	// ErrResourceExhausted is the out-of-memory class signal that shrinks chunks.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrDiscontinuity means blocks inside one fetched chunk do not link up.
	ErrDiscontinuity = errors.New("chunk discontinuity")
)

// Fatal conditions.
var (
	ErrIOFailure    = errors.New("storage io failure")
	ErrCorruption   = errors.New("storage corruption detected")
	ErrReorgTooDeep = errors.New("reorg too deep")
	ErrSyncHalted   = errors.New("sync halted")
	// ErrUnsupported means the node does not serve a required method, usually
	// debug_* with tracing enabled against a node without the debug API.
	ErrUnsupported = errors.New("method not supported by node")
)
