// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package propagator validates incoming vertices and forwards them to
// peers. The dedup cache and bounded backfill buffer follow the shape of
// the teacher's dag/witness LRU (container/list, capacity-bound, evict on
// overflow), generalized to batch-evict half the cache rather than one
// entry at a time.
package propagator

import (
	"container/list"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/dagstore"
	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/vertex"
)

const (
	dedupCapacity  = 10_000
	backfillCapacity = 1_000
)

// KeyResolver looks up a node's published verification key.
type KeyResolver interface {
	PublicKey(node ids.NodeID) (crypto.PublicKey, error)
}

// ByzantineReporter receives evidence of protocol violations observed
// while validating an incoming vertex.
type ByzantineReporter interface {
	ReportInvalidSignature(node ids.NodeID, detail string)
	ReportHashMismatch(node ids.NodeID, detail string)
}

// Broadcaster forwards a validated vertex to every known peer except the
// one it was received from.
type Broadcaster interface {
	Broadcast(v *vertex.Vertex, exclude ids.NodeID) error
}

// BackfillRequester asks peers for a vertex the local store has never
// seen, so a buffered child can eventually be admitted.
type BackfillRequester interface {
	RequestVertex(hash ids.ID) error
}

// Propagator is the single entry point for vertices arriving from peers.
type Propagator struct {
	store    *dagstore.Store
	keys     KeyResolver
	byz      ByzantineReporter
	peers    Broadcaster
	backfill BackfillRequester
	log      log.Logger

	dedup  *dedupCache
	buffer *bufferedSet
}

// New constructs a Propagator wired to store for persistence and the given
// collaborators for verification, reporting, and forwarding.
func New(store *dagstore.Store, keys KeyResolver, byz ByzantineReporter, peers Broadcaster, backfill BackfillRequester, logger log.Logger) *Propagator {
	return &Propagator{
		store:    store,
		keys:     keys,
		byz:      byz,
		peers:    peers,
		backfill: backfill,
		log:      logger,
		dedup:    newDedupCache(dedupCapacity),
		buffer:   newBufferedSet(backfillCapacity),
	}
}

// Handle processes a vertex received from sender: dedup short-circuit,
// hash recomputation, signature verification, parent admission (buffering
// and backfill-requesting on an unknown parent), store insertion, and
// forwarding to every other peer.
func (p *Propagator) Handle(v *vertex.Vertex, sender ids.NodeID) error {
	if p.dedup.Contains(v.Hash) {
		return nil
	}

	if recomputed := v.ComputeHash(); recomputed != v.Hash {
		p.byz.ReportHashMismatch(sender, "recomputed hash does not match claimed hash for "+v.Hash.String())
		return errs.New(errs.HashMismatch, "propagator: hash mismatch for "+v.Hash.String())
	}

	pk, err := p.keys.PublicKey(v.Creator)
	if err != nil {
		return errs.Wrap(errs.InvalidSignature, "propagator: unknown creator key", err)
	}
	ok, err := vertex.VerifySignature(v, pk)
	if err != nil {
		return errs.Wrap(errs.InvalidSignature, "propagator: signature verification error", err)
	}
	if !ok {
		p.byz.ReportInvalidSignature(sender, "signature does not verify for "+v.Hash.String())
		return errs.New(errs.InvalidSignature, "propagator: invalid signature for "+v.Hash.String())
	}

	if missing, err := p.firstMissingParent(v); err != nil {
		return err
	} else if missing != nil {
		p.buffer.Add(v, *missing)
		if err := p.backfill.RequestVertex(*missing); err != nil && p.log != nil {
			p.log.Warn("backfill request failed", log.String("parent", (*missing).String()), log.String("err", err.Error()))
		}
		return nil
	}

	p.dedup.Add(v.Hash)
	if err := p.store.PutVertex(v); err != nil {
		return errs.Wrap(errs.Internal, "propagator: store insert failed", err)
	}

	if err := p.peers.Broadcast(v, sender); err != nil {
		return errs.Wrap(errs.Internal, "propagator: broadcast failed", err)
	}

	p.admitBuffered(v.Hash)
	return nil
}

// firstMissingParent returns the first parent of v the store has never
// seen, or nil if every parent is known.
func (p *Propagator) firstMissingParent(v *vertex.Vertex) (*ids.ID, error) {
	for _, parent := range v.Parents {
		has, err := p.store.HasVertex(parent)
		if err != nil {
			return nil, err
		}
		if !has {
			missing := parent
			return &missing, nil
		}
	}
	return nil, nil
}

// admitBuffered re-attempts every buffered vertex that was waiting on
// hash, now that hash has been admitted.
func (p *Propagator) admitBuffered(hash ids.ID) {
	for _, v := range p.buffer.TakeWaitingOn(hash) {
		if missing, err := p.firstMissingParent(v); err == nil && missing != nil {
			p.buffer.Add(v, *missing)
			_ = p.backfill.RequestVertex(*missing)
		} else if err == nil {
			p.dedup.Add(v.Hash)
			if err := p.store.PutVertex(v); err == nil {
				_ = p.peers.Broadcast(v, ids.EmptyNodeID)
				p.admitBuffered(v.Hash)
			}
		}
	}
}

// dedupCache is a bounded set of recently-seen vertex hashes. On overflow
// the oldest half of entries is evicted in one batch rather than one at a
// time, bounding the cost of a burst of unique vertices.
type dedupCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[ids.ID]*list.Element
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[ids.ID]*list.Element, capacity),
	}
}

func (c *dedupCache) Contains(hash ids.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[hash]
	return ok
}

func (c *dedupCache) Add(hash ids.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[hash]; ok {
		return
	}
	el := c.order.PushBack(hash)
	c.index[hash] = el
	if c.order.Len() > c.capacity {
		c.evictOldestHalf()
	}
}

func (c *dedupCache) evictOldestHalf() {
	toEvict := c.order.Len() / 2
	for i := 0; i < toEvict; i++ {
		front := c.order.Front()
		if front == nil {
			return
		}
		c.order.Remove(front)
		delete(c.index, front.Value.(ids.ID))
	}
}

// bufferedSet holds vertices awaiting a missing parent, bounded to a fixed
// capacity with oldest-first eviction.
type bufferedSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[ids.ID]*list.Element
}

type bufferedEntry struct {
	v        *vertex.Vertex
	waitedOn ids.ID
}

func newBufferedSet(capacity int) *bufferedSet {
	return &bufferedSet{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[ids.ID]*list.Element, capacity),
	}
}

func (b *bufferedSet) Add(v *vertex.Vertex, waitedOn ids.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[v.Hash]; ok {
		return
	}
	el := b.order.PushBack(bufferedEntry{v: v, waitedOn: waitedOn})
	b.entries[v.Hash] = el
	if b.order.Len() > b.capacity {
		front := b.order.Front()
		if front != nil {
			b.order.Remove(front)
			delete(b.entries, front.Value.(bufferedEntry).v.Hash)
		}
	}
}

// TakeWaitingOn removes and returns every buffered vertex recorded as
// waiting on hash.
func (b *bufferedSet) TakeWaitingOn(hash ids.ID) []*vertex.Vertex {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*vertex.Vertex
	for id, el := range b.entries {
		entry := el.Value.(bufferedEntry)
		if entry.waitedOn == hash {
			out = append(out, entry.v)
			b.order.Remove(el)
			delete(b.entries, id)
		}
	}
	return out
}
