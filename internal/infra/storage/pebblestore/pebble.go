// Package pebblestore is the embedded storage backend built on Pebble.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Config holds Pebble options.
type Config struct {
	Path     string
	CacheMB  int
	ReadOnly bool
	// InMemory keeps everything in a memory filesystem. Used by tests.
	InMemory bool
}

// Store implements storage.Store on a Pebble database.
type Store struct {
	db     *pebble.DB
	closed atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database.
func Open(cfg Config) (*Store, error) {
	if cfg.CacheMB <= 0 {
		cfg.CacheMB = 64
	}
	cache := pebble.NewCache(int64(cfg.CacheMB) << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: 1000,
		MemTableSize: 64 << 20,
		ReadOnly:     cfg.ReadOnly,
	}
	path := cfg.Path
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		path = ""
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open pebble at %q: %v", domain.ErrIOFailure, cfg.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	raw, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %x: %v", domain.ErrIOFailure, key, err)
	}
	// raw is only valid until closer is closed.
	owned := append([]byte{}, raw...)
	_ = closer.Close()

	payload, err := storage.Open(owned)
	if err != nil {
		return nil, fmt.Errorf("key %x: %w", key, err)
	}
	return payload, nil
}

func (s *Store) Scan(ctx context.Context, r storage.Range) (storage.Iterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	lower, upper := r.Bounds()
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("%w: new iterator: %v", domain.ErrIOFailure, err)
	}
	return storage.Verify(&iterator{it: it}), nil
}

// Write commits the batch with fsync. Context cancellation is honoured only
// before the commit starts; a started commit always completes.
func (s *Store) Write(ctx context.Context, b *storage.Batch) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range b.Ops() {
		var err error
		switch op.Kind {
		case storage.OpPut:
			err = batch.Set(op.Key, op.Value, nil)
		case storage.OpDelete:
			err = batch.Delete(op.Key, nil)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("%w: stage %x: %v", domain.ErrIOFailure, op.Key, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: commit batch of %d ops: %v", domain.ErrIOFailure, b.Len(), err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type iterator struct {
	it      *pebble.Iterator
	started bool
}

func (i *iterator) Next() bool {
	if !i.started {
		i.started = true
		return i.it.First()
	}
	return i.it.Next()
}

func (i *iterator) Key() []byte   { return i.it.Key() }
func (i *iterator) Value() []byte { return i.it.Value() }

func (i *iterator) Err() error {
	if err := i.it.Error(); err != nil {
		return fmt.Errorf("%w: iterate: %v", domain.ErrIOFailure, err)
	}
	return nil
}

func (i *iterator) Close() error { return i.it.Close() }
