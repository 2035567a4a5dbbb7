// Package store implements the sharded, time-indexed key-value store: a
// fixed-fan-out array of independently-locked maps keyed by string, each
// entry carrying an encoded payload and an absolute expiry in milliseconds.
package store

import (
	"sync"
	"time"
)

// NeverExpire is the sentinel absolute-expiry value meaning a key has no
// TTL.
const NeverExpire int64 = -1

// DefaultShardCount is the fan-out used when a Store is built with New.
const DefaultShardCount = 32

const (
	hashPrime  = 26
	hashModulo = 1_000_000_007
)

// entry is one shard slot: an encoded payload plus its absolute expiry in
// milliseconds since the epoch (NeverExpire meaning no TTL).
type entry struct {
	value     []byte
	expiresAt int64
}

type shard struct {
	mu   sync.Mutex
	data map[string]entry
}

// Store is a fixed-size ordered sequence of independently-guarded shards.
type Store struct {
	shards []*shard
}

// New builds a Store with DefaultShardCount shards.
func New() *Store {
	return NewWithShardCount(DefaultShardCount)
}

// NewWithShardCount builds a Store with the given number of shards. n must
// be positive; the reference hash works with any positive shard count, not
// only powers of two.
func NewWithShardCount(n int) *Store {
	if n <= 0 {
		n = DefaultShardCount
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{data: make(map[string]entry)}
	}
	return &Store{shards: shards}
}

// hashKey computes a polynomial rolling hash of key modulo hashModulo
// (P = 26, MOD = 10^9 + 7), used only to route a key to a shard.
func hashKey(key string) uint64 {
	var h uint64
	var pow uint64 = 1
	for i := 0; i < len(key); i++ {
		h = (h + (uint64(key[i])+1)*pow) % hashModulo
		pow = (pow * hashPrime) % hashModulo
	}
	return h
}

func (s *Store) shardFor(key string) *shard {
	idx := hashKey(key) % uint64(len(s.shards))
	return s.shards[idx]
}

// nowMS returns the current wall-clock time in milliseconds since the
// epoch, the store's time source for expiry comparisons.
func nowMS() int64 {
	return time.Now().UnixMilli()
}

// Put stores value under key with the given absolute expiry in
// milliseconds (NeverExpire for no TTL), unconditionally overwriting any
// existing entry. The write is atomic: value and expiry land together
// under the target shard's exclusive guard.
func (s *Store) Put(key string, value []byte, expiresAtMS int64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = entry{value: value, expiresAt: expiresAtMS}
}

// Get returns the value stored under key. If the entry has expired
// (now >= expiresAt), it is deleted and ok is false — expiry is
// opportunistic, checked only on read, with no background sweeper.
func (s *Store) Get(key string) (value []byte, ok bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, exists := sh.data[key]
	if !exists {
		return nil, false
	}
	if e.expiresAt != NeverExpire && nowMS() >= e.expiresAt {
		delete(sh.data, key)
		return nil, false
	}
	return e.value, true
}
