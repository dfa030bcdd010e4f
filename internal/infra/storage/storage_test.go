package storage

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

func TestSealOpen(t *testing.T) {
	payload := []byte(`{"height":7}`)
	sealed := Seal(payload)
	require.Len(t, sealed, envelopeHeader+len(payload))

	got, err := Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpen_Corruption(t *testing.T) {
	sealed := Seal([]byte("block"))

	flipped := append([]byte{}, sealed...)
	flipped[len(flipped)-1] ^= 0x01

	badVersion := append([]byte{}, sealed...)
	badVersion[0] = 9

	for name, raw := range map[string][]byte{
		"flipped payload": flipped,
		"bad version":     badVersion,
		"truncated":       sealed[:4],
		"empty":           nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Open(raw)
			assert.ErrorIs(t, err, domain.ErrCorruption)
		})
	}
}

func TestDecode_Corruption(t *testing.T) {
	var b domain.Block
	assert.ErrorIs(t, Decode([]byte("{not json"), &b), domain.ErrCorruption)
}

func TestKeys_SortNumerically(t *testing.T) {
	assert.Negative(t, bytes.Compare(BlockKey(255), BlockKey(256)))
	assert.Negative(t, bytes.Compare(BlockKey(1<<32), BlockKey(1<<33)))
	assert.Negative(t, bytes.Compare(TimestampKey(100, 9), TimestampKey(101, 1)))
	assert.Negative(t, bytes.Compare(TransferKey(5, 0, 9), TransferKey(5, 1, 0)))

	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ref := &domain.AddressRef{Address: addr, Kind: domain.RefTransaction, BlockHeight: 3}
	assert.True(t, bytes.HasPrefix(AddressRefKey(ref), AddressKindPrefix(addr, domain.RefTransaction)))
	assert.False(t, bytes.HasPrefix(AddressRefKey(ref), AddressKindPrefix(addr, domain.RefInternal)))
}

func TestHeightValue(t *testing.T) {
	h, err := DecodeHeight(EncodeHeight(123456))
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), h)

	_, err = DecodeHeight([]byte{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrCorruption)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("b0"), PrefixEnd([]byte("b/")))
	assert.Equal(t, []byte{0x02}, PrefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
}

func TestRange_Bounds(t *testing.T) {
	tests := []struct {
		name         string
		r            Range
		lower, upper []byte
	}{
		{"prefix", PrefixRange([]byte("b/")), []byte("b/"), []byte("b0")},
		{"start and end", Range{Prefix: []byte("b/"), Start: []byte("b/5"), End: []byte("b/7")}, []byte("b/5"), []byte("b/7")},
		{"end past prefix", Range{Prefix: []byte("b/"), End: []byte("c")}, []byte("b/"), []byte("b0")},
		{"after", Range{Prefix: []byte("a/"), After: []byte("a/x")}, []byte("a/x\x00"), []byte("a0")},
		{"after below start", Range{Prefix: []byte("a/"), Start: []byte("a/y"), After: []byte("a/x")}, []byte("a/y"), []byte("a0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper := tt.r.Bounds()
			assert.Equal(t, tt.lower, lower)
			assert.Equal(t, tt.upper, upper)
		})
	}
}

func TestBatch(t *testing.T) {
	b := NewBatch()
	b.Put([]byte("k1"), []byte("v1"))
	require.NoError(t, b.PutRecord([]byte("k2"), domain.Block{Height: 2}))
	b.Delete([]byte("k3"))
	assert.Equal(t, 3, b.Len())
	assert.Positive(t, b.Size())

	other := NewBatch()
	other.Delete([]byte("k4"))
	b.Append(other)
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, OpDelete, b.Ops()[3].Kind)

	payload, err := Open(b.Ops()[0].Value)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), payload)

	b.Reset()
	assert.Zero(t, b.Len())
	assert.Zero(t, b.Size())
}
