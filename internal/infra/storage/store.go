// Package storage defines the mirror's key-value contract: a sorted key space
// with point reads, ordered prefix scans and atomic write batches.
//
// Backends (pebble, postgres) only move opaque bytes. Value integrity is
// handled here: every value written through a Batch is sealed in a checksum
// envelope, and backends must pass reads through Open/Verify so a damaged
// value surfaces as domain.ErrCorruption instead of a bogus record.
package storage

import (
	"bytes"
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// Reader is the read side of the store. The query layer only ever sees this.
type Reader interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Scan(ctx context.Context, r Range) (Iterator, error)
}

// Store is a durable sorted map. Only the sync coordinator writes to it.
type Store interface {
	Reader
	// Write applies all operations of b atomically and durably, in order.
	Write(ctx context.Context, b *Batch) error
	Close() error
}

// Iterator walks a Range in ascending key order. Key and Value are only valid
// until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Range selects keys for a scan. Prefix, when set, bounds the scan to keys
// carrying it. Start and End narrow it further as [Start, End). After resumes
// a previous scan strictly past the given key.
type Range struct {
	Prefix []byte
	Start  []byte
	End    []byte
	After  []byte
}

// PrefixRange scans every key starting with p.
func PrefixRange(p []byte) Range {
	return Range{Prefix: p}
}

// Bounds resolves the range into an inclusive lower and exclusive upper key.
// A nil upper bound means unbounded.
func (r Range) Bounds() (lower, upper []byte) {
	lower = r.Prefix
	if r.Start != nil && bytes.Compare(r.Start, lower) > 0 {
		lower = r.Start
	}
	if r.After != nil {
		next := append(append([]byte{}, r.After...), 0x00)
		if bytes.Compare(next, lower) > 0 {
			lower = next
		}
	}
	if r.Prefix != nil {
		upper = PrefixEnd(r.Prefix)
	}
	if r.End != nil && (upper == nil || bytes.Compare(r.End, upper) < 0) {
		upper = r.End
	}
	return lower, upper
}

// PrefixEnd returns the smallest key greater than every key with prefix p,
// or nil if no such key exists.
func PrefixEnd(p []byte) []byte {
	end := append([]byte{}, p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
