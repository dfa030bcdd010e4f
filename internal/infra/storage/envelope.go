package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

const (
	envelopeVersion = 1
	envelopeHeader  = 1 + 8
)

// Seal prefixes value with a version byte and its xxhash64.
func Seal(value []byte) []byte {
	out := make([]byte, envelopeHeader+len(value))
	out[0] = envelopeVersion
	binary.BigEndian.PutUint64(out[1:envelopeHeader], xxhash.Sum64(value))
	copy(out[envelopeHeader:], value)
	return out
}

// Open verifies a sealed value and returns its payload.
func Open(raw []byte) ([]byte, error) {
	if len(raw) < envelopeHeader {
		return nil, fmt.Errorf("%w: value truncated to %d bytes", domain.ErrCorruption, len(raw))
	}
	if raw[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %d", domain.ErrCorruption, raw[0])
	}
	payload := raw[envelopeHeader:]
	if want := binary.BigEndian.Uint64(raw[1:envelopeHeader]); xxhash.Sum64(payload) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", domain.ErrCorruption)
	}
	return payload, nil
}

// Verify wraps a backend iterator so every value is checked on the way out.
func Verify(it Iterator) Iterator {
	return &verifyingIterator{inner: it}
}

type verifyingIterator struct {
	inner Iterator
	value []byte
	err   error
}

func (v *verifyingIterator) Next() bool {
	if v.err != nil || !v.inner.Next() {
		return false
	}
	payload, err := Open(v.inner.Value())
	if err != nil {
		v.err = fmt.Errorf("key %x: %w", v.inner.Key(), err)
		return false
	}
	v.value = payload
	return true
}

func (v *verifyingIterator) Key() []byte   { return v.inner.Key() }
func (v *verifyingIterator) Value() []byte { return v.value }

func (v *verifyingIterator) Err() error {
	if v.err != nil {
		return v.err
	}
	return v.inner.Err()
}

func (v *verifyingIterator) Close() error { return v.inner.Close() }
