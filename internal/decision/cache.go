// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package decision

import (
	"sync"
	"sync/atomic"
	"time"
)

// l1Shards bounds lock contention on the L1 cache: each key hashes to
// one of a fixed number of independently-locked shards, the same
// sharded-map shape other_examples' cache implementations use to avoid
// a single global mutex on a hot lookup path.
const l1Shards = 32

// l1Capacity is the total entry bound across all shards (§4.M: 100,000
// entries, 60s TTL for L1).
const l1Capacity = 100_000

type l1Entry struct {
	decision Decision
	expires  time.Time
}

// l1Cache is the in-process decision cache. Each shard is guarded by its
// own mutex so unrelated keys never contend; reads and writes are O(1).
type l1Cache struct {
	shards [l1Shards]l1Shard
	size   atomic.Int64
	ttl    time.Duration
}

type l1Shard struct {
	mu      sync.Mutex
	entries map[string]l1Entry
}

func newL1Cache(ttl time.Duration) *l1Cache {
	c := &l1Cache{ttl: ttl}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]l1Entry)
	}
	return c
}

func (c *l1Cache) shardFor(key string) *l1Shard {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return &c.shards[h%l1Shards]
}

// Get returns the cached decision for key if present and not expired.
func (c *l1Cache) Get(key string, now time.Time) (Decision, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || now.After(e.expires) {
		return Decision{}, false
	}
	return e.decision, true
}

// Put stores d under key with the cache's configured TTL. When the target
// shard already holds its share (l1Capacity/l1Shards) of entries, Put
// evicts one arbitrary entry from that shard first — a bounded cache never grows unbounded,
// and precise LRU ordering is not required for a 60s-TTL hot cache.
func (c *l1Cache) Put(key string, d Decision, now time.Time) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists {
		if int64(len(s.entries)) >= l1Capacity/l1Shards {
			for k := range s.entries {
				delete(s.entries, k)
				c.size.Add(-1)
				break
			}
		}
		c.size.Add(1)
	}
	s.entries[key] = l1Entry{decision: d, expires: now.Add(c.ttl)}
}

// L2Cache is the optional shared network cache tier (§4.M). Left nil,
// the decision engine relies on L1 alone.
type L2Cache interface {
	Get(key string) (Decision, bool, error)
	Put(key string, d Decision, ttl time.Duration) error
}
