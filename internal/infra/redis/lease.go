package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLeaseHeld is returned when another process owns the lease.
	ErrLeaseHeld = errors.New("lease held by another process")
	// ErrLeaseLost is the cancel cause of a run that lost its lease.
	ErrLeaseLost = errors.New("writer lease lost")
)

const defaultLeaseTTL = 30 * time.Second

// Both scripts act only while the caller still owns the key.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaseKey names the lease for a store location.
func LeaseKey(store string) string {
	return "ethmirror:lease:" + store
}

// Lease is a held single-writer lock. It is refreshed in the background
// every ttl/3 until Release.
type Lease struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
	log   *slog.Logger

	// lost is closed when a refresh finds the key gone or taken over.
	lost     chan struct{}
	lostOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// Acquire takes the lease for store or fails with ErrLeaseHeld.
func (c *Client) Acquire(ctx context.Context, store string, ttl time.Duration, log *slog.Logger) (*Lease, error) {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	if log == nil {
		log = slog.Default()
	}
	l := &Lease{
		rdb:   c.rdb,
		key:   LeaseKey(store),
		owner: uuid.NewString(),
		ttl:   ttl,
		log:   log.With("component", "lease"),
		lost:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	ok, err := c.rdb.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if !ok {
		holder, _ := c.rdb.Get(ctx, l.key).Result()
		return nil, fmt.Errorf("%w: %s owned by %s", ErrLeaseHeld, l.key, holder)
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	go l.keepAlive(refreshCtx)

	l.log.Info("lease acquired", "key", l.key, "owner", l.owner, "ttl", ttl)
	return l, nil
}

// Owner is the random id written as the key's value.
func (l *Lease) Owner() string { return l.owner }

// Lost is closed if the lease expired or was taken while held.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

func (l *Lease) keepAlive(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
			switch {
			case err != nil:
				// The key survives until ttl; the next tick tries again.
				l.log.Warn("lease refresh failed", "key", l.key, "error", err)
			case n == 0:
				l.log.Error("lease lost", "key", l.key, "owner", l.owner)
				l.lostOnce.Do(func() { close(l.lost) })
				return
			}
		}
	}
}

// Release stops refreshing and deletes the key if still owned.
func (l *Lease) Release(ctx context.Context) error {
	l.cancel()
	<-l.done
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.log.Info("lease released", "key", l.key)
	return nil
}
