package storage_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
	"github.com/vietddude/ethmirror/internal/infra/storage/pebblestore"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	coin  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func newRepo(t *testing.T, fill func(b *storage.Batch)) *storage.Repository {
	t.Helper()
	s, err := pebblestore.Open(pebblestore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b := storage.NewBatch()
	fill(b)
	require.NoError(t, s.Write(context.Background(), b))
	return storage.NewRepository(s)
}

func putRecord(t *testing.T, b *storage.Batch, key []byte, v any) {
	t.Helper()
	require.NoError(t, b.PutRecord(key, v))
}

func TestRepository_Blocks(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, func(b *storage.Batch) {
		for h := uint64(10); h <= 14; h++ {
			blk := domain.Block{Height: h, Hash: common.BigToHash(new(big.Int).SetUint64(h)), Timestamp: 1000 + h*12}
			putRecord(t, b, storage.BlockKey(h), blk)
			b.Put(storage.BlockHashKey(blk.Hash), storage.EncodeHeight(h))
			b.Put(storage.TimestampKey(blk.Timestamp, h), storage.EncodeHeight(h))
		}
	})

	first, ok, err := repo.FirstBlockHeight(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), first)

	blocks, err := repo.Blocks(ctx, 11, 13)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(11), blocks[0].Height)
	assert.Equal(t, uint64(13), blocks[2].Height)

	byHash, err := repo.BlockByHash(ctx, common.BigToHash(big.NewInt(12)))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), byHash.Height)

	// 1000+12*12 = 1144 is block 12; 1145 falls to block 13.
	at, err := repo.BlockAtOrAfter(ctx, 1145)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), at.Height)

	_, err = repo.BlockAtOrAfter(ctx, 5000)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.Block(ctx, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepository_FirstBlockHeight_Empty(t *testing.T) {
	repo := newRepo(t, func(b *storage.Batch) {})
	_, ok, err := repo.FirstBlockHeight(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_AddressRefsPaging(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, func(b *storage.Batch) {
		for h := uint64(1); h <= 5; h++ {
			ref := &domain.AddressRef{Address: alice, Kind: domain.RefTransaction, BlockHeight: h}
			putRecord(t, b, storage.AddressRefKey(ref), ref)
		}
		mined := &domain.AddressRef{Address: alice, Kind: domain.RefMined, BlockHeight: 3}
		putRecord(t, b, storage.AddressRefKey(mined), mined)
	})

	var heights []uint64
	var after []byte
	pages := 0
	for {
		page, err := repo.AddressRefs(ctx, alice, domain.RefTransaction, after, 2)
		require.NoError(t, err)
		pages++
		for _, r := range page.Items {
			heights = append(heights, r.BlockHeight)
		}
		if page.Next == nil {
			break
		}
		after = page.Next
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, heights)
	assert.Equal(t, 3, pages)

	mined, err := repo.AddressRefs(ctx, alice, domain.RefMined, nil, 0)
	require.NoError(t, err)
	require.Len(t, mined.Items, 1)
	assert.Equal(t, uint64(3), mined.Items[0].BlockHeight)
}

func TestRepository_TokenTransfers(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, func(b *storage.Batch) {
		for h := uint64(1); h <= 3; h++ {
			tr := &domain.TokenTransfer{Token: coin, BlockHeight: h, LogIndex: uint32(h), Amount: big.NewInt(int64(h))}
			putRecord(t, b, storage.TransferKey(h, 0, uint32(h)), tr)
			b.Put(storage.TokenTransferKey(tr), tr.TxHash.Bytes())
		}
		putRecord(t, b, storage.TokenKey(coin), domain.Token{Address: coin, Symbol: "TKN"})
		b.Put(storage.ContractKey(coin), common.HexToHash("0xbeef").Bytes())
	})

	page, err := repo.TokenTransfers(ctx, coin, nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotNil(t, page.Next)
	rest, err := repo.TokenTransfers(ctx, coin, page.Next, 2)
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Nil(t, rest.Next)
	assert.Equal(t, 0, rest.Items[0].Amount.Cmp(big.NewInt(3)))

	at, err := repo.TransfersAt(ctx, 2)
	require.NoError(t, err)
	require.Len(t, at, 1)

	known, err := repo.HasToken(ctx, coin)
	require.NoError(t, err)
	assert.True(t, known)
	known, err = repo.HasToken(ctx, alice)
	require.NoError(t, err)
	assert.False(t, known)

	creation, err := repo.ContractCreation(ctx, coin)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xbeef"), creation)
}
