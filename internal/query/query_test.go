// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

type fakePeers struct {
	peers       []ids.NodeID
	reputations map[ids.NodeID]float64
}

func (f *fakePeers) KnownPeers() []ids.NodeID { return f.peers }
func (f *fakePeers) Reputation(node ids.NodeID) float64 {
	return f.reputations[node]
}

// autoVoteSender immediately records a vote for every query it receives,
// via the Handler passed at construction, simulating an instantaneous
// network.
type autoVoteSender struct {
	mu      sync.Mutex
	handler *Handler
	vote    Vote
}

func (s *autoVoteSender) SendQuery(ctx context.Context, peer ids.NodeID, vertexID ids.ID, round uint64, queryID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler.RecordVote(queryID, s.vote)
	return nil
}

func newFakePeerSet(n int, reputation float64) *fakePeers {
	peers := make([]ids.NodeID, n)
	rep := make(map[ids.NodeID]float64, n)
	for i := range peers {
		peers[i] = ids.GenerateTestNodeID()
		rep[peers[i]] = reputation
	}
	return &fakePeers{peers: peers, reputations: rep}
}

func TestQueryVertexEarlyAcceptsOnAlpha(t *testing.T) {
	peers := newFakePeerSet(10, 1.0)
	sender := &autoVoteSender{vote: VoteAccept}
	h := New(peers, sender, 5, 3, time.Second)
	sender.handler = h

	result, err := h.QueryVertex(context.Background(), ids.GenerateTestID(), 1)
	require.NoError(t, err)
	require.True(t, result.Accepted(3))
	require.False(t, result.TimedOut)
}

func TestQueryVertexEarlyRejectsBelowAlpha(t *testing.T) {
	peers := newFakePeerSet(10, 1.0)
	sender := &autoVoteSender{vote: VoteReject}
	h := New(peers, sender, 5, 4, time.Second)
	sender.handler = h

	result, err := h.QueryVertex(context.Background(), ids.GenerateTestID(), 1)
	require.NoError(t, err)
	require.False(t, result.Accepted(4))
}

func TestQueryVertexFiltersLowReputationPeers(t *testing.T) {
	peers := newFakePeerSet(3, 0.1) // all below HonestReputationThreshold
	sender := &autoVoteSender{vote: VoteAccept}
	h := New(peers, sender, 2, 1, time.Second)
	sender.handler = h

	_, err := h.QueryVertex(context.Background(), ids.GenerateTestID(), 1)
	require.Error(t, err)
}

func TestQueryVertexRejectsStaleRound(t *testing.T) {
	peers := newFakePeerSet(5, 1.0)
	sender := &autoVoteSender{vote: VoteAccept}
	h := New(peers, sender, 3, 2, time.Second)
	sender.handler = h
	h.AdvanceRound(10)

	_, err := h.QueryVertex(context.Background(), ids.GenerateTestID(), 1)
	require.Error(t, err)
}

func TestQueryVertexTimesOutWithoutEnoughResponses(t *testing.T) {
	peers := newFakePeerSet(5, 1.0)
	h := New(peers, &noopSender{}, 3, 2, 20*time.Millisecond)

	result, err := h.QueryVertex(context.Background(), ids.GenerateTestID(), 1)
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.Equal(t, 0, result.Responses)
}

type noopSender struct{}

func (noopSender) SendQuery(ctx context.Context, peer ids.NodeID, vertexID ids.ID, round uint64, queryID uint64) error {
	return nil
}

func TestConcurrencyLimitRejectsExcessQueries(t *testing.T) {
	peers := newFakePeerSet(5, 1.0)
	h := New(peers, &blockingSender{release: make(chan struct{})}, 3, 2, time.Second)
	h.sem = make(chan struct{}, 1) // shrink for a fast test
	h.sem <- struct{}{}            // occupy the only slot

	_, err := h.QueryVertex(context.Background(), ids.GenerateTestID(), 1)
	require.Error(t, err)
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) SendQuery(ctx context.Context, peer ids.NodeID, vertexID ids.ID, round uint64, queryID uint64) error {
	<-b.release
	return nil
}
