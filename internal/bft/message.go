// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bft

import "github.com/luxfi/ids"

// PrePrepare is the leader's proposal for (View, Sequence): bind VertexHash
// to this slot. Only the view's leader may originate one.
type PrePrepare struct {
	View       uint64
	Sequence   uint64
	VertexHash ids.ID
	Proposer   ids.NodeID
}

// Prepare is a replica's vote that it has validated a PrePrepare.
type Prepare struct {
	View       uint64
	Sequence   uint64
	VertexHash ids.ID
	Sender     ids.NodeID
}

// Commit is a replica's vote that it observed 2f+1 matching Prepares.
type Commit struct {
	View       uint64
	Sequence   uint64
	VertexHash ids.ID
	Sender     ids.NodeID
}

// PreparedCert certifies that Sequence reached the Prepared phase in View
// for VertexHash: proof carried into a view change so the next leader can
// re-propose rather than silently drop in-flight work.
type PreparedCert struct {
	View       uint64
	Sequence   uint64
	VertexHash ids.ID
}

// ViewChange is broadcast by a replica abandoning View in favor of NewView,
// carrying every Prepared certificate it holds so the next leader can
// re-execute PrePrepare for sequences that never committed.
type ViewChange struct {
	NewView            uint64
	Sender             ids.NodeID
	LastStableSequence uint64
	Proofs             []PreparedCert
}

// NewViewMsg is broadcast by the new leader once it collects 2f+1
// ViewChanges for NewView: the merged proof set, plus the PrePrepares the
// new leader re-issues for every sequence the proofs show was still
// in-flight.
type NewViewMsg struct {
	View        uint64
	Sender      ids.NodeID
	Proofs      []PreparedCert
	PrePrepares []PrePrepare
}
