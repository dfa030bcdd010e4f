package storage

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// Encode serialises a record for storage.
func Encode(v any) ([]byte, error) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Decode parses a stored record. A record that passed the checksum but does
// not parse is still treated as corruption.
func Decode(data []byte, v any) error {
	if err := sonnet.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %T: %v", domain.ErrCorruption, v, err)
	}
	return nil
}
