// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package query runs k-peer sampled acceptance queries for a vertex and
// aggregates the responses. The sampling itself mirrors the teacher's
// utils/sampler.Uniform (sample without replacement over an index range,
// math/rand-backed) adapted to sample directly from a peer list instead
// of abstract indices; query completion and concurrency limiting are new
// to this package.
package query

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/ids"

	"github.com/quorumdag/core/internal/errs"
)

// DefaultTimeout bounds how long aggregation waits for responses.
const DefaultTimeout = 5 * time.Second

// MaxConcurrentQueries bounds how many queries a node runs at once.
const MaxConcurrentQueries = 100

// StaleRoundWindow is how many rounds behind current a query may lag
// before it is dropped on receipt instead of aggregated.
const StaleRoundWindow = 2

// HonestReputationThreshold is the minimum reputation score a peer must
// have to be eligible for sampling.
const HonestReputationThreshold = 0.3

// Vote is a peer's response to a query.
type Vote int

const (
	VoteReject Vote = iota
	VoteAccept
)

// Result summarizes how a query's aggregation concluded.
type Result struct {
	Accepts   int
	Rejects   int
	Responses int
	TimedOut  bool
}

// Accepted reports whether accepts met or exceeded alpha.
func (r Result) Accepted(alpha int) bool {
	return r.Accepts >= alpha
}

// PeerReputation exposes peer reputation so sampling can restrict itself
// to the known-honest set.
type PeerReputation interface {
	Reputation(node ids.NodeID) float64
	KnownPeers() []ids.NodeID
}

// Sender transmits a query to a single peer. Implementations should
// return promptly; QueryVertex fans out to all sampled peers concurrently.
type Sender interface {
	SendQuery(ctx context.Context, peer ids.NodeID, vertexID ids.ID, round uint64, queryID uint64) error
}

type inflightQuery struct {
	round     uint64
	k         int
	alpha     int
	accepts   int
	rejects   int
	responses int
	closed    bool
	done      chan struct{}
}

// Handler runs sampled acceptance queries and aggregates their responses.
// Safe for concurrent use.
type Handler struct {
	mu sync.Mutex

	peers  PeerReputation
	sender Sender

	k       int
	alpha   int
	timeout time.Duration

	currentRound uint64
	nextQueryID  uint64
	inflight     map[uint64]*inflightQuery

	sem chan struct{}
}

// New constructs a Handler sampling k peers per query, requiring alpha
// accepts to early-accept.
func New(peers PeerReputation, sender Sender, k, alpha int, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handler{
		peers:    peers,
		sender:   sender,
		k:        k,
		alpha:    alpha,
		timeout:  timeout,
		inflight: make(map[uint64]*inflightQuery),
		sem:      make(chan struct{}, MaxConcurrentQueries),
	}
}

// AdvanceRound records that the network has moved to round. In-flight and
// future queries referencing a round more than StaleRoundWindow behind
// the current one are treated as stale.
func (h *Handler) AdvanceRound(round uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if round > h.currentRound {
		h.currentRound = round
	}
}

// QueryVertex samples k known-honest peers, queries them for vertexID at
// round, and blocks until aggregation completes: k responses, early
// accept (accepts >= alpha), early reject (rejects > k - alpha), or
// timeout. A caller already running MaxConcurrentQueries queries receives
// a ConcurrencyLimit error instead of blocking.
func (h *Handler) QueryVertex(ctx context.Context, vertexID ids.ID, round uint64) (Result, error) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		return Result{}, errs.New(errs.ConcurrencyLimit, "query: too many concurrent queries in flight")
	}

	h.mu.Lock()
	if round+StaleRoundWindow < h.currentRound {
		h.mu.Unlock()
		return Result{}, errs.New(errs.InvalidInput, "query: round is stale")
	}
	h.mu.Unlock()

	honest := h.honestPeers()
	if len(honest) < h.k {
		return Result{}, errs.New(errs.InvalidInput, "query: fewer than k honest peers known")
	}
	sampled := sampleWithoutReplacement(honest, h.k)

	queryID := atomic.AddUint64(&h.nextQueryID, 1)
	q := &inflightQuery{round: round, k: h.k, alpha: h.alpha, done: make(chan struct{})}
	h.mu.Lock()
	h.inflight[queryID] = q
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.inflight, queryID)
		h.mu.Unlock()
	}()

	queryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	for _, peer := range sampled {
		go func(p ids.NodeID) {
			_ = h.sender.SendQuery(queryCtx, p, vertexID, round, queryID)
		}(peer)
	}

	select {
	case <-q.done:
	case <-queryCtx.Done():
	}

	h.mu.Lock()
	result := Result{Accepts: q.accepts, Rejects: q.rejects, Responses: q.responses, TimedOut: queryCtx.Err() != nil}
	h.mu.Unlock()
	return result, nil
}

// RecordVote applies a peer's response to queryID. It is a no-op for an
// unknown query, a query whose round has since gone stale, or a query
// that already completed.
func (h *Handler) RecordVote(queryID uint64, vote Vote) {
	h.mu.Lock()
	q, ok := h.inflight[queryID]
	if !ok || q.closed {
		h.mu.Unlock()
		return
	}
	if q.round+StaleRoundWindow < h.currentRound {
		h.mu.Unlock()
		return
	}

	q.responses++
	if vote == VoteAccept {
		q.accepts++
	} else {
		q.rejects++
	}
	done := q.responses >= q.k || q.accepts >= q.alpha || q.rejects > q.k-q.alpha
	if done {
		q.closed = true
	}
	h.mu.Unlock()

	if done {
		close(q.done)
	}
}

func (h *Handler) honestPeers() []ids.NodeID {
	all := h.peers.KnownPeers()
	out := make([]ids.NodeID, 0, len(all))
	for _, p := range all {
		if h.peers.Reputation(p) >= HonestReputationThreshold {
			out = append(out, p)
		}
	}
	return out
}

// sampleWithoutReplacement returns k distinct entries chosen uniformly at
// random from peers.
func sampleWithoutReplacement(peers []ids.NodeID, k int) []ids.NodeID {
	indices := make([]int, len(peers))
	for i := range indices {
		indices[i] = i
	}
	rand.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

	out := make([]ids.NodeID, k)
	for i := 0; i < k; i++ {
		out[i] = peers[indices[i]]
	}
	return out
}
