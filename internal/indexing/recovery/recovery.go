// Package recovery decides what the sync loop does with a failure: retry
// with backoff, shrink the chunk, or halt and leave a record for the
// operator.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// FailureCategory groups errors by how the sync loop reacts to them.
type FailureCategory int

const (
	// CategoryTransient is retried with backoff on the same chunk size.
	CategoryTransient FailureCategory = iota
	// CategoryResource shrinks the chunk and retries the same range.
	CategoryResource
	// CategoryDecode is retried, unless it survives a shrink.
	CategoryDecode
	// CategoryFatal halts ingestion.
	CategoryFatal
	// CategoryCanceled means the loop is shutting down.
	CategoryCanceled
)

func (c FailureCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryResource:
		return "resource"
	case CategoryDecode:
		return "decode"
	case CategoryFatal:
		return "fatal"
	case CategoryCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classifier maps an error to a category.
type Classifier func(err error) FailureCategory

var fatalErrors = []error{
	domain.ErrCorruption,
	domain.ErrIOFailure,
	domain.ErrReorgTooDeep,
	domain.ErrSyncHalted,
	domain.ErrUnsupported,
}

// Messages nodes use for oversized responses. Providers map most of them to
// ErrResourceExhausted already; these catch errors that reach us as text.
var resourcePatterns = []string{
	"out of memory",
	"cannot allocate memory",
	"response size exceeded",
	"response too large",
	"query returned more than",
}

// Classify is the default Classifier.
func Classify(err error) FailureCategory {
	switch {
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case isAny(err, fatalErrors):
		return CategoryFatal
	case errors.Is(err, domain.ErrResourceExhausted):
		return CategoryResource
	case errors.Is(err, domain.ErrDecode):
		return CategoryDecode
	}

	msg := strings.ToLower(err.Error())
	for _, p := range resourcePatterns {
		if strings.Contains(msg, p) {
			return CategoryResource
		}
	}
	// Node failures, intra-chunk discontinuity and anything unrecognised.
	return CategoryTransient
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
