package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// Key prefixes. Integers inside keys are big-endian so byte order equals
// numeric order.
var (
	PrefixBlock         = []byte("b/")
	PrefixBlockHash     = []byte("h/")
	PrefixTimestamp     = []byte("n/")
	PrefixTx            = []byte("t/")
	PrefixInternal      = []byte("i/")
	PrefixTransfer      = []byte("r/")
	PrefixAddress       = []byte("a/")
	PrefixToken         = []byte("k/")
	PrefixTokenTransfer = []byte("f/")
	PrefixContract      = []byte("c/")
	PrefixSummary       = []byte("d/")

	KeySyncState = []byte("s/sync")
	KeyHalt      = []byte("s/halt")
)

type keyBuilder []byte

func newKey(prefix []byte, capacity int) keyBuilder {
	k := make(keyBuilder, 0, len(prefix)+capacity)
	return append(k, prefix...)
}

func (k keyBuilder) u64(v uint64) keyBuilder { return binary.BigEndian.AppendUint64(k, v) }
func (k keyBuilder) u32(v uint32) keyBuilder { return binary.BigEndian.AppendUint32(k, v) }
func (k keyBuilder) u8(v uint8) keyBuilder   { return append(k, v) }
func (k keyBuilder) bytes(b []byte) keyBuilder {
	return append(k, b...)
}

func BlockKey(height uint64) []byte {
	return newKey(PrefixBlock, 8).u64(height)
}

func BlockHashKey(hash common.Hash) []byte {
	return newKey(PrefixBlockHash, common.HashLength).bytes(hash[:])
}

func TimestampKey(ts, height uint64) []byte {
	return newKey(PrefixTimestamp, 16).u64(ts).u64(height)
}

func TimestampFrom(ts uint64) []byte {
	return newKey(PrefixTimestamp, 8).u64(ts)
}

func TxKey(hash common.Hash) []byte {
	return newKey(PrefixTx, common.HashLength).bytes(hash[:])
}

func InternalKey(txHash common.Hash, seq uint32) []byte {
	return newKey(PrefixInternal, common.HashLength+4).bytes(txHash[:]).u32(seq)
}

func InternalPrefix(txHash common.Hash) []byte {
	return newKey(PrefixInternal, common.HashLength).bytes(txHash[:])
}

func TransferKey(height uint64, txIndex, logIndex uint32) []byte {
	return newKey(PrefixTransfer, 16).u64(height).u32(txIndex).u32(logIndex)
}

// TransferHeightPrefix covers every token transfer in one block.
func TransferHeightPrefix(height uint64) []byte {
	return newKey(PrefixTransfer, 8).u64(height)
}

func AddressRefKey(ref *domain.AddressRef) []byte {
	return newKey(PrefixAddress, common.AddressLength+17).
		bytes(ref.Address[:]).
		u8(uint8(ref.Kind)).
		u64(ref.BlockHeight).
		u32(ref.TxIndex).
		u32(ref.Sub)
}

func AddressPrefix(addr common.Address) []byte {
	return newKey(PrefixAddress, common.AddressLength).bytes(addr[:])
}

func AddressKindPrefix(addr common.Address, kind domain.RefKind) []byte {
	return newKey(PrefixAddress, common.AddressLength+1).bytes(addr[:]).u8(uint8(kind))
}

func TokenKey(addr common.Address) []byte {
	return newKey(PrefixToken, common.AddressLength).bytes(addr[:])
}

func TokenTransferKey(t *domain.TokenTransfer) []byte {
	return newKey(PrefixTokenTransfer, common.AddressLength+16).
		bytes(t.Token[:]).
		u64(t.BlockHeight).
		u32(t.TxIndex).
		u32(t.LogIndex)
}

func TokenTransferPrefix(token common.Address) []byte {
	return newKey(PrefixTokenTransfer, common.AddressLength).bytes(token[:])
}

func ContractKey(addr common.Address) []byte {
	return newKey(PrefixContract, common.AddressLength).bytes(addr[:])
}

func SummaryKey(addr common.Address) []byte {
	return newKey(PrefixSummary, common.AddressLength).bytes(addr[:])
}

// EncodeHeight and DecodeHeight handle the height values stored under the
// hash and timestamp indexes.
func EncodeHeight(h uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, h)
}

func DecodeHeight(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: height value has %d bytes", domain.ErrCorruption, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
