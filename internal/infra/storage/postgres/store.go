package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

const defaultPageSize = 512

const upsertKV = `INSERT INTO kv (k, v) VALUES ($1, $2)
ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`

// Store implements storage.Store on a single kv table. bytea compares
// bytewise, so ORDER BY k matches the key order of the embedded backend.
type Store struct {
	db       *DB
	pageSize int
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *DB, cfg Config) *Store {
	size := cfg.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &Store{db: db, pageSize: size}
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT v FROM kv WHERE k = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %x: %v", domain.ErrIOFailure, key, err)
	}
	payload, err := storage.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("key %x: %w", key, err)
	}
	return payload, nil
}

// Scan pages through the range with keyset pagination so memory stays
// bounded by the page size. All pages are read inside one read-only
// REPEATABLE READ transaction, so a scan sees a single snapshot even when a
// batch commits between pages. The transaction ends with the last page or on
// Close.
func (s *Store) Scan(ctx context.Context, r storage.Range) (storage.Iterator, error) {
	lower, upper := r.Bounds()
	return storage.Verify(&iterator{
		ctx:       ctx,
		store:     s,
		lower:     lower,
		upper:     upper,
		inclusive: true,
	}), nil
}

// Write runs the batch in one transaction. The SQL transaction is the
// atomicity boundary.
func (s *Store) Write(ctx context.Context, b *storage.Batch) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrIOFailure, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range b.Ops() {
		switch op.Kind {
		case storage.OpPut:
			_, err = tx.ExecContext(ctx, upsertKV, op.Key, op.Value)
		case storage.OpDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE k = $1`, op.Key)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("%w: stage %x: %v", domain.ErrIOFailure, op.Key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrIOFailure, err)
	}
	metrics.DBBatchSize.WithLabelValues("kv_write").Observe(float64(b.Len()))
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	K []byte `db:"k"`
	V []byte `db:"v"`
}

type iterator struct {
	ctx       context.Context
	store     *Store
	lower     []byte
	upper     []byte
	inclusive bool

	tx   *sqlx.Tx
	rows []row
	pos  int
	done bool
	err  error
}

var snapshot = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

func (i *iterator) fetch() {
	if i.tx == nil {
		tx, err := i.store.db.BeginTxx(i.ctx, snapshot)
		if err != nil {
			i.err = fmt.Errorf("%w: begin scan: %v", domain.ErrIOFailure, err)
			return
		}
		i.tx = tx
	}
	cmp := ">"
	if i.inclusive {
		cmp = ">="
	}
	lower := i.lower
	if lower == nil {
		lower = []byte{}
	}

	var err error
	i.rows = nil
	if i.upper == nil {
		err = i.tx.SelectContext(i.ctx, &i.rows,
			`SELECT k, v FROM kv WHERE k `+cmp+` $1 ORDER BY k LIMIT $2`,
			lower, i.store.pageSize)
	} else {
		err = i.tx.SelectContext(i.ctx, &i.rows,
			`SELECT k, v FROM kv WHERE k `+cmp+` $1 AND k < $2 ORDER BY k LIMIT $3`,
			lower, i.upper, i.store.pageSize)
	}
	if err != nil {
		i.err = fmt.Errorf("%w: scan: %v", domain.ErrIOFailure, err)
		i.finish()
		return
	}
	if len(i.rows) < i.store.pageSize {
		i.done = true
		i.finish()
	}
	if n := len(i.rows); n > 0 {
		i.lower = i.rows[n-1].K
		i.inclusive = false
	}
}

func (i *iterator) Next() bool {
	if i.err != nil {
		return false
	}
	if i.pos+1 < len(i.rows) {
		i.pos++
		return true
	}
	if i.done {
		return false
	}
	i.fetch()
	if i.err != nil || len(i.rows) == 0 {
		return false
	}
	i.pos = 0
	return true
}

func (i *iterator) Key() []byte   { return i.rows[i.pos].K }
func (i *iterator) Value() []byte { return i.rows[i.pos].V }
func (i *iterator) Err() error    { return i.err }
func (i *iterator) Close() error {
	i.finish()
	return nil
}

// finish releases the snapshot transaction.
func (i *iterator) finish() {
	if i.tx != nil {
		_ = i.tx.Rollback()
		i.tx = nil
	}
}
