// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bft implements the Pre-Prepare/Prepare/Commit phase state
// machine: one Idle->PrePrepared->Prepared->Committed (or ->ViewChanged)
// run per (view, sequence), 2f+1 quorum certificates, round-robin leader
// rotation, and view change with merged Prepared-certificate replay. The
// phase progression and quorum-counted vote tallying follow the same
// shape as the teacher's confidence/threshold.go state ladder
// (accumulate votes, cross a threshold, move to the next terminal state)
// generalized from a single binary/unary decision to one slot per
// (view, sequence) and from a continuous confidence score to a discrete
// 2f+1 certificate count, since PBFT-style commitment is a hard quorum
// rather than a probabilistic one.
package bft

import (
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/finality"
)

// Phase is a (view, sequence) slot's position in the commit pipeline.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePrePrepared
	PhasePrepared
	PhaseCommitted
	PhaseViewChanged
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrePrepared:
		return "pre_prepared"
	case PhasePrepared:
		return "prepared"
	case PhaseCommitted:
		return "committed"
	case PhaseViewChanged:
		return "view_changed"
	default:
		return "unknown"
	}
}

// DefaultViewChangeTimeout is how long a slot may sit short of Prepared
// before a replica gives up on the current view.
const DefaultViewChangeTimeout = 5 * time.Second

// Broadcaster fans a protocol message out to every other replica.
type Broadcaster interface {
	BroadcastPrePrepare(msg PrePrepare)
	BroadcastPrepare(msg Prepare)
	BroadcastCommit(msg Commit)
	BroadcastViewChange(msg ViewChange)
	BroadcastNewView(msg NewViewMsg)
}

// ByzantineReporter is notified of protocol violations observed while
// processing BFT messages, so the reputation system can act on them.
// This package never bans a sender itself; it only reports.
type ByzantineReporter interface {
	ReportEquivocation(sender ids.NodeID, view, sequence uint64, a, b ids.ID)
	ReportReplay(sender ids.NodeID, view, sequence uint64)
}

// slot tracks one (view, sequence)'s progress through the phases. A slot
// is keyed by sequence alone: once a sequence commits it never runs
// again, and an in-flight slot is replaced by a fresh slot in the new
// view when a view change carries its sequence forward.
type slot struct {
	view       uint64
	phase      Phase
	prePrepare *PrePrepare
	prepares   map[ids.NodeID]Prepare
	commits    map[ids.NodeID]Commit
	startedAt  time.Time
}

func newSlot(view uint64, now time.Time) *slot {
	return &slot{
		view:      view,
		phase:     PhaseIdle,
		prepares:  make(map[ids.NodeID]Prepare),
		commits:   make(map[ids.NodeID]Commit),
		startedAt: now,
	}
}

// Engine runs the PBFT-style phase state machine for one replica across
// every in-flight sequence number.
type Engine struct {
	mu sync.Mutex

	self     ids.NodeID
	replicas []ids.NodeID // sorted ascending; leader = replicas[view % len(replicas)]
	quorum   int           // floor(2n/3)+1
	f        int           // floor((n-1)/3)

	view               uint64
	lastStableSequence uint64
	slots              map[uint64]*slot

	viewChangeTimeout time.Duration
	viewChangeVotes   map[uint64]map[ids.NodeID]ViewChange // keyed by proposed new view
	viewChanged       bool

	broadcaster Broadcaster
	byz         ByzantineReporter
	finality    *finality.Detector
	log         log.Logger
}

// New constructs an Engine for self among replicas (deduplicated and
// sorted so every replica computes the same leader schedule).
func New(self ids.NodeID, replicas []ids.NodeID, broadcaster Broadcaster, byz ByzantineReporter, fin *finality.Detector, logger log.Logger, viewChangeTimeout time.Duration) *Engine {
	sorted := append([]ids.NodeID(nil), replicas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	n := len(sorted)
	quorum := (2*n)/3 + 1
	f := (n - 1) / 3

	if viewChangeTimeout <= 0 {
		viewChangeTimeout = DefaultViewChangeTimeout
	}

	return &Engine{
		self:              self,
		replicas:          sorted,
		quorum:            quorum,
		f:                 f,
		slots:             make(map[uint64]*slot),
		viewChangeTimeout: viewChangeTimeout,
		viewChangeVotes:   make(map[uint64]map[ids.NodeID]ViewChange),
		broadcaster:       broadcaster,
		byz:               byz,
		finality:          fin,
		log:               logger,
	}
}

// Quorum returns floor(2n/3)+1 for this replica set, which is 2f+1 when
// n = 3f+1.
func (e *Engine) Quorum() int { return e.quorum }

// F returns the tolerated Byzantine replica count for this replica set.
func (e *Engine) F() int { return e.f }

// View returns the current view.
func (e *Engine) View() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Leader returns the leader of view under round-robin rotation.
func (e *Engine) Leader(view uint64) ids.NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderLocked(view)
}

func (e *Engine) leaderLocked(view uint64) ids.NodeID {
	if len(e.replicas) == 0 {
		return ids.EmptyNodeID
	}
	return e.replicas[view%uint64(len(e.replicas))]
}

// IsLeader reports whether self leads the current view.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderLocked(e.view) == e.self
}

// Propose starts a new slot at sequence with vertexHash, broadcasting a
// PrePrepare. Only the current view's leader may call this.
func (e *Engine) Propose(sequence uint64, vertexHash ids.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.leaderLocked(e.view) != e.self {
		return errs.New(errs.InvalidInput, "bft: only the current leader may propose")
	}
	if _, exists := e.slots[sequence]; exists {
		return errs.New(errs.InvalidInput, "bft: sequence already has an in-flight slot")
	}

	msg := PrePrepare{View: e.view, Sequence: sequence, VertexHash: vertexHash, Proposer: e.self}
	s := newSlot(e.view, time.Now())
	s.phase = PhasePrePrepared
	s.prePrepare = &msg
	e.slots[sequence] = s

	e.broadcaster.BroadcastPrePrepare(msg)
	if e.log != nil {
		e.log.Debug("proposed", log.Uint64("view", e.view), log.Uint64("sequence", sequence))
	}
	return nil
}

// HandlePrePrepare validates and records a PrePrepare from the current
// view's leader, then broadcasts this replica's own Prepare.
func (e *Engine) HandlePrePrepare(msg PrePrepare) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msg.View != e.view {
		return errs.New(errs.InvalidInput, "bft: pre-prepare for a foreign view")
	}
	if msg.Proposer != e.leaderLocked(msg.View) {
		return errs.New(errs.InvalidSignature, "bft: pre-prepare from a non-leader")
	}

	s, exists := e.slots[sequence(msg)]
	if exists && s.prePrepare != nil && s.prePrepare.VertexHash != msg.VertexHash {
		e.byz.ReportEquivocation(msg.Proposer, msg.View, msg.Sequence, s.prePrepare.VertexHash, msg.VertexHash)
		return errs.New(errs.Equivocation, "bft: leader equivocated on pre-prepare")
	}
	if !exists {
		s = newSlot(msg.View, time.Now())
		e.slots[msg.Sequence] = s
	}
	if s.phase >= PhasePrePrepared {
		return nil // idempotent replay of an already-recorded pre-prepare
	}
	s.prePrepare = &msg
	s.phase = PhasePrePrepared

	prepare := Prepare{View: msg.View, Sequence: msg.Sequence, VertexHash: msg.VertexHash, Sender: e.self}
	s.prepares[e.self] = prepare
	e.broadcaster.BroadcastPrepare(prepare)
	return nil
}

func sequence(msg PrePrepare) uint64 { return msg.Sequence }

// HandlePrepare records a Prepare vote and, once 2f+1 matching votes
// (including this replica's own) are in, advances the slot to Prepared
// and broadcasts a Commit.
func (e *Engine) HandlePrepare(msg Prepare) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msg.View != e.view {
		return errs.New(errs.InvalidInput, "bft: prepare for a foreign view")
	}
	s, exists := e.slots[msg.Sequence]
	if !exists {
		s = newSlot(msg.View, time.Now())
		e.slots[msg.Sequence] = s
	}

	if prior, ok := s.prepares[msg.Sender]; ok {
		if prior.VertexHash != msg.VertexHash {
			e.byz.ReportEquivocation(msg.Sender, msg.View, msg.Sequence, prior.VertexHash, msg.VertexHash)
			return errs.New(errs.Equivocation, "bft: replica equivocated on prepare")
		}
		return nil // idempotent replay
	}
	s.prepares[msg.Sender] = msg

	if s.phase >= PhasePrepared {
		return nil
	}
	if countMatching(s.prepares, msg.VertexHash) < e.quorum {
		return nil
	}

	s.phase = PhasePrepared
	commit := Commit{View: msg.View, Sequence: msg.Sequence, VertexHash: msg.VertexHash, Sender: e.self}
	s.commits[e.self] = commit
	e.broadcaster.BroadcastCommit(commit)
	return nil
}

// HandleCommit records a Commit vote and, once 2f+1 matching votes are
// in, advances the slot to Committed and finalizes the vertex.
func (e *Engine) HandleCommit(msg Commit) error {
	e.mu.Lock()

	if msg.View != e.view {
		e.mu.Unlock()
		return errs.New(errs.InvalidInput, "bft: commit for a foreign view")
	}
	s, exists := e.slots[msg.Sequence]
	if !exists {
		s = newSlot(msg.View, time.Now())
		e.slots[msg.Sequence] = s
	}

	if prior, ok := s.commits[msg.Sender]; ok {
		if prior.VertexHash != msg.VertexHash {
			e.byz.ReportEquivocation(msg.Sender, msg.View, msg.Sequence, prior.VertexHash, msg.VertexHash)
			e.mu.Unlock()
			return errs.New(errs.Equivocation, "bft: replica equivocated on commit")
		}
		e.mu.Unlock()
		return nil
	}
	s.commits[msg.Sender] = msg

	if s.phase >= PhaseCommitted || countMatching(s.commits, msg.VertexHash) < e.quorum {
		e.mu.Unlock()
		return nil
	}

	s.phase = PhaseCommitted
	if msg.Sequence > e.lastStableSequence {
		e.lastStableSequence = msg.Sequence
	}
	vertexHash := msg.VertexHash
	sequenceNum := msg.Sequence
	e.mu.Unlock()

	if err := e.finality.Finalize(vertexHash, sequenceNum, time.Now().Unix()); err != nil {
		if e.log != nil {
			e.log.Warn("finalize after commit failed", log.Uint64("sequence", sequenceNum), log.String("err", err.Error()))
		}
		return err
	}
	if e.log != nil {
		e.log.Debug("committed", log.Uint64("sequence", sequenceNum), log.String("vertex", vertexHash.String()))
	}
	return nil
}

func countMatching[T interface{ hash() ids.ID }](votes map[ids.NodeID]T, want ids.ID) int {
	n := 0
	for _, v := range votes {
		if v.hash() == want {
			n++
		}
	}
	return n
}

func (p Prepare) hash() ids.ID { return p.VertexHash }
func (c Commit) hash() ids.ID  { return c.VertexHash }

// CheckTimeouts scans every slot not yet Prepared and returns true if any
// has been pending longer than the configured view change timeout,
// initiating a view change as a side effect.
func (e *Engine) CheckTimeouts(now time.Time) bool {
	e.mu.Lock()
	timedOut := false
	for _, s := range e.slots {
		if s.phase < PhasePrepared && now.Sub(s.startedAt) > e.viewChangeTimeout {
			timedOut = true
			break
		}
	}
	e.mu.Unlock()

	if timedOut {
		e.InitiateViewChange()
	}
	return timedOut
}

// InitiateViewChange abandons the current view and broadcasts a
// ViewChange proposing view+1, carrying every Prepared certificate this
// replica holds for sequences not yet committed.
func (e *Engine) InitiateViewChange() {
	e.mu.Lock()
	defer e.mu.Unlock()

	proposed := e.view + 1
	var proofs []PreparedCert
	for seq, s := range e.slots {
		if s.phase == PhasePrepared && s.prePrepare != nil {
			proofs = append(proofs, PreparedCert{View: s.view, Sequence: seq, VertexHash: s.prePrepare.VertexHash})
		}
	}

	for _, s := range e.slots {
		if s.phase < PhaseCommitted {
			s.phase = PhaseViewChanged
		}
	}

	msg := ViewChange{NewView: proposed, Sender: e.self, LastStableSequence: e.lastStableSequence, Proofs: proofs}
	e.recordViewChangeLocked(msg)
	e.broadcaster.BroadcastViewChange(msg)
}

// HandleViewChange records a peer's ViewChange vote. Once 2f+1 votes for
// the same proposed view are in and self leads that view, it emits a
// NewView merging every proof set.
func (e *Engine) HandleViewChange(msg ViewChange) error {
	e.mu.Lock()
	e.recordViewChangeLocked(msg)
	votes := e.viewChangeVotes[msg.NewView]
	count := len(votes)
	newLeader := e.leaderLocked(msg.NewView)
	e.mu.Unlock()

	if count < e.quorum || newLeader != e.self {
		return nil
	}
	return e.emitNewView(msg.NewView, votes)
}

func (e *Engine) recordViewChangeLocked(msg ViewChange) {
	votes, ok := e.viewChangeVotes[msg.NewView]
	if !ok {
		votes = make(map[ids.NodeID]ViewChange)
		e.viewChangeVotes[msg.NewView] = votes
	}
	votes[msg.Sender] = msg
}

func (e *Engine) emitNewView(view uint64, votes map[ids.NodeID]ViewChange) error {
	merged := make(map[uint64]PreparedCert)
	for _, vc := range votes {
		for _, p := range vc.Proofs {
			existing, ok := merged[p.Sequence]
			if !ok || p.View > existing.View {
				merged[p.Sequence] = p
			}
		}
	}

	var proofs []PreparedCert
	var prePrepares []PrePrepare
	for seq, cert := range merged {
		proofs = append(proofs, cert)
		prePrepares = append(prePrepares, PrePrepare{View: view, Sequence: seq, VertexHash: cert.VertexHash, Proposer: e.self})
	}
	sort.Slice(prePrepares, func(i, j int) bool { return prePrepares[i].Sequence < prePrepares[j].Sequence })

	msg := NewViewMsg{View: view, Sender: e.self, Proofs: proofs, PrePrepares: prePrepares}
	if err := e.adoptNewView(msg); err != nil {
		return err
	}
	e.broadcaster.BroadcastNewView(msg)
	return nil
}

// HandleNewView adopts a NewView emitted by the view's leader: it moves
// this replica into the new view and re-executes PrePrepare for every
// sequence the merged proof set carried forward.
func (e *Engine) HandleNewView(msg NewViewMsg) error {
	e.mu.Lock()
	if msg.Sender != e.leaderLocked(msg.View) {
		e.mu.Unlock()
		return errs.New(errs.InvalidSignature, "bft: new-view from a non-leader")
	}
	e.mu.Unlock()
	return e.adoptNewView(msg)
}

func (e *Engine) adoptNewView(msg NewViewMsg) error {
	e.mu.Lock()
	if msg.View <= e.view && !e.viewChanged {
		e.mu.Unlock()
		return nil
	}
	e.view = msg.View
	e.viewChanged = false
	for _, pp := range msg.PrePrepares {
		s, exists := e.slots[pp.Sequence]
		if exists && s.phase == PhaseCommitted {
			continue // already finalized in a prior view; never re-execute
		}
		s = newSlot(msg.View, time.Now())
		e.slots[pp.Sequence] = s
	}
	e.mu.Unlock()

	for _, pp := range msg.PrePrepares {
		if err := e.HandlePrePrepare(pp); err != nil && e.log != nil {
			e.log.Warn("re-execute pre-prepare after view change failed", log.Uint64("sequence", pp.Sequence), log.String("err", err.Error()))
		}
	}
	return nil
}

// Phase returns the current phase of sequence, or PhaseIdle if unknown.
func (e *Engine) Phase(sequence uint64) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[sequence]
	if !ok {
		return PhaseIdle
	}
	return s.phase
}
