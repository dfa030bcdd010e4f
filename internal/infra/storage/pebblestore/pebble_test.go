package pebblestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethmirror/internal/infra/storage"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func put(t *testing.T, s *Store, kv ...string) {
	t.Helper()
	b := storage.NewBatch()
	for i := 0; i < len(kv); i += 2 {
		b.Put([]byte(kv[i]), []byte(kv[i+1]))
	}
	require.NoError(t, s.Write(context.Background(), b))
}

func keys(t *testing.T, s *Store, r storage.Range) []string {
	t.Helper()
	it, err := s.Scan(context.Background(), r)
	require.NoError(t, err)
	defer it.Close()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()))
	}
	require.NoError(t, it.Err())
	return out
}

func TestStore_GetWriteDelete(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	_, err := s.Get(ctx, []byte("b/1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	put(t, s, "b/1", "one")
	got, err := s.Get(ctx, []byte("b/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	b := storage.NewBatch()
	b.Delete([]byte("b/1"))
	b.Put([]byte("b/2"), []byte("two"))
	require.NoError(t, s.Write(ctx, b))

	_, err = s.Get(ctx, []byte("b/1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, err = s.Get(ctx, []byte("b/2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestStore_ScanRanges(t *testing.T) {
	s := openMem(t)
	put(t, s, "a/1", "x", "b/1", "x", "b/2", "x", "b/3", "x", "c/1", "x")

	assert.Equal(t, []string{"b/1", "b/2", "b/3"}, keys(t, s, storage.PrefixRange([]byte("b/"))))
	assert.Equal(t, []string{"b/2"}, keys(t, s, storage.Range{
		Prefix: []byte("b/"), Start: []byte("b/2"), End: []byte("b/3"),
	}))
	assert.Equal(t, []string{"b/3"}, keys(t, s, storage.Range{
		Prefix: []byte("b/"), After: []byte("b/2"),
	}))
	assert.Empty(t, keys(t, s, storage.PrefixRange([]byte("z/"))))
}

func TestStore_ScanValuesAreVerified(t *testing.T) {
	s := openMem(t)
	put(t, s, "k/1", "payload")

	it, err := s.Scan(context.Background(), storage.PrefixRange([]byte("k/")))
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.Next())
	assert.Equal(t, []byte("payload"), it.Value())
}

func TestStore_WriteHonoursCancelledContext(t *testing.T) {
	s := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := storage.NewBatch()
	b.Put([]byte("b/1"), []byte("one"))
	assert.ErrorIs(t, s.Write(ctx, b), context.Canceled)

	_, err := s.Get(context.Background(), []byte("b/1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), []byte("b/1"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Scan(context.Background(), storage.PrefixRange([]byte("b/")))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Write(context.Background(), storage.NewBatch()), ErrClosed)
}

func TestStore_ReopenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	put(t, s, "s/sync", "state")
	require.NoError(t, s.Close())

	ro, err := Open(Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	got, err := ro.Get(context.Background(), []byte("s/sync"))
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got)
}
