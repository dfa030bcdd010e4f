// Package filter keeps an in-memory view of addresses the store already
// holds so the sync loop can skip lookups for them.
package filter

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds KnownSet when no size is given.
const DefaultSize = 65536

// KnownSet is a bounded set of addresses. An address missing from the set
// may still be known to the store; a present one always is until Reset.
type KnownSet struct {
	cache *lru.Cache[common.Address, struct{}]
}

// NewKnownSet creates a set holding at most size addresses. The least
// recently used address is dropped when it is full.
func NewKnownSet(size int) *KnownSet {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[common.Address, struct{}](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &KnownSet{cache: cache}
}

// Contains reports whether addr is in the set.
func (s *KnownSet) Contains(addr common.Address) bool {
	_, ok := s.cache.Get(addr)
	return ok
}

// Add adds addr to the set.
func (s *KnownSet) Add(addr common.Address) {
	s.cache.Add(addr, struct{}{})
}

// AddBatch adds every address in addrs.
func (s *KnownSet) AddBatch(addrs []common.Address) {
	for _, a := range addrs {
		s.cache.Add(a, struct{}{})
	}
}

// Remove drops addr from the set.
func (s *KnownSet) Remove(addr common.Address) {
	s.cache.Remove(addr)
}

// Size returns the number of addresses held.
func (s *KnownSet) Size() int {
	return s.cache.Len()
}

// Reset empties the set. Called after a rollback, which may have removed
// addresses the set still holds.
func (s *KnownSet) Reset() {
	s.cache.Purge()
}

// Addresses returns the held addresses, oldest first.
func (s *KnownSet) Addresses() []common.Address {
	return s.cache.Keys()
}
