// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package byzantine tracks per-node reputation from observed protocol
// violations and bans nodes whose score drops too low. It implements the
// ByzantineReporter interfaces that internal/bft and internal/propagator
// depend on, and the PeerReputation interface internal/query samples
// against, so a single Reporter instance is the one source of truth for
// "is this node still worth listening to." The score-then-threshold
// shape follows the naming the teacher uses for the same concern
// (engine/fastdag/engine.go's ReputationManager) generalized here to a
// defaults-driven penalty table and an explicit ban set, since the
// teacher's own ReputationManager implementation lives outside the
// retrieval pack.
package byzantine

import (
	"strconv"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// Kind identifies the category of a confirmed protocol violation.
type Kind string

const (
	KindEquivocation     Kind = "equivocation"
	KindInvalidSignature Kind = "invalid_signature"
	KindReplay           Kind = "replay"
	KindViewChangeSpam   Kind = "view_change_spam"
	KindTimeout          Kind = "timeout"
)

// InitialReputation is the score every previously-unseen node starts at.
const InitialReputation = 1.0

// BanThreshold is the score below which a node is banned.
const BanThreshold = 0.3

// DefaultPenalties are the score deductions for one confirmed violation
// of each kind.
var DefaultPenalties = map[Kind]float64{
	KindEquivocation:     0.5,
	KindInvalidSignature: 0.3,
	KindReplay:           0.1,
	KindViewChangeSpam:   0.1,
}

// DefaultViewChangeWindow and DefaultMaxViewChangeRate bound how many
// ViewChange reports a single sender may generate before being flagged
// for spam.
const (
	DefaultViewChangeWindow   = 10 * time.Second
	DefaultMaxViewChangeRate  = 5
)

// ConnectionCloser severs an active connection to a node, invoked once a
// node's score crosses BanThreshold. Nil-safe: a Reporter with no closer
// configured simply skips this step.
type ConnectionCloser interface {
	Close(node ids.NodeID)
}

// Evidence records one confirmed violation, kept so a ban decision can be
// audited or appealed by an operator.
type Evidence struct {
	Node      ids.NodeID
	Kind      Kind
	Detail    string
	Penalty   float64
	Recorded  time.Time
}

// Reporter accumulates reputation scores and ban state across every
// violation category the BFT engine, propagator, and query layers can
// observe. Safe for concurrent use.
type Reporter struct {
	mu sync.Mutex

	scores    map[ids.NodeID]float64
	banned    map[ids.NodeID]struct{}
	evidence  map[ids.NodeID][]Evidence
	vcWindow  map[ids.NodeID][]time.Time

	penalties         map[Kind]float64
	viewChangeWindow  time.Duration
	maxViewChangeRate int

	closer ConnectionCloser
	log    log.Logger
}

// New constructs a Reporter with the default penalty table and
// view-change rate limit. closer may be nil.
func New(closer ConnectionCloser, logger log.Logger) *Reporter {
	return &Reporter{
		scores:            make(map[ids.NodeID]float64),
		banned:            make(map[ids.NodeID]struct{}),
		evidence:          make(map[ids.NodeID][]Evidence),
		vcWindow:          make(map[ids.NodeID][]time.Time),
		penalties:         DefaultPenalties,
		viewChangeWindow:  DefaultViewChangeWindow,
		maxViewChangeRate: DefaultMaxViewChangeRate,
		closer:            closer,
		log:               logger,
	}
}

// Reputation returns node's current score, or InitialReputation for a
// node that has never been scored. Satisfies query.PeerReputation.
func (r *Reporter) Reputation(node ids.NodeID) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scoreLocked(node)
}

func (r *Reporter) scoreLocked(node ids.NodeID) float64 {
	score, ok := r.scores[node]
	if !ok {
		return InitialReputation
	}
	return score
}

// KnownPeers returns every node this Reporter has scored. Satisfies
// query.PeerReputation.
func (r *Reporter) KnownPeers() []ids.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ids.NodeID, 0, len(r.scores))
	for n := range r.scores {
		out = append(out, n)
	}
	return out
}

// IsBanned reports whether node's votes and connections should be ignored.
func (r *Reporter) IsBanned(node ids.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, banned := r.banned[node]
	return banned
}

// BanSet returns every currently banned node.
func (r *Reporter) BanSet() []ids.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ids.NodeID, 0, len(r.banned))
	for n := range r.banned {
		out = append(out, n)
	}
	return out
}

// ReportEquivocation satisfies bft.ByzantineReporter: two different
// vertex hashes signed by the same sender for the same (view, sequence).
func (r *Reporter) ReportEquivocation(sender ids.NodeID, view, sequence uint64, a, b ids.ID) {
	r.apply(sender, KindEquivocation, "conflicting votes at view="+strconv.FormatUint(view, 10)+" sequence="+strconv.FormatUint(sequence, 10)+": "+a.String()+" vs "+b.String(), true)
}

// ReportReplay satisfies bft.ByzantineReporter: an identical
// (sender, view, sequence, phase) tuple accepted twice with differing
// content.
func (r *Reporter) ReportReplay(sender ids.NodeID, view, sequence uint64) {
	r.apply(sender, KindReplay, "replayed message at view="+strconv.FormatUint(view, 10)+" sequence="+strconv.FormatUint(sequence, 10), true)
}

// ReportInvalidSignature satisfies propagator.ByzantineReporter.
func (r *Reporter) ReportInvalidSignature(node ids.NodeID, detail string) {
	r.apply(node, KindInvalidSignature, detail, true)
}

// ReportHashMismatch satisfies propagator.ByzantineReporter. A vertex
// whose recomputed hash disagrees with its claimed identity is scored
// the same as an invalid signature: both mean the sender forwarded
// content it cannot back.
func (r *Reporter) ReportHashMismatch(node ids.NodeID, detail string) {
	r.apply(node, KindInvalidSignature, "hash mismatch: "+detail, true)
}

// ReportViewChange records that sender broadcast a ViewChange, banning
// it for spam if it has exceeded max_view_change_rate within the
// configured window.
func (r *Reporter) ReportViewChange(sender ids.NodeID, now time.Time) {
	r.mu.Lock()
	cutoff := now.Add(-r.viewChangeWindow)
	events := r.vcWindow[sender]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.vcWindow[sender] = kept
	spamming := len(kept) > r.maxViewChangeRate
	r.mu.Unlock()

	if spamming {
		r.apply(sender, KindViewChangeSpam, "exceeded max view-change rate", true)
	}
}

// ReportTimeout records persistent non-participation in Prepare/Commit
// phases. This decays reputation but, per the detector's design, never
// bans on its own: a node that merely times out stays reachable.
func (r *Reporter) ReportTimeout(node ids.NodeID, detail string) {
	r.apply(node, KindTimeout, detail, false)
}

// apply deducts the configured penalty for kind from node's score,
// records the evidence, and bans the node if evaluateBan is true and the
// new score crosses BanThreshold.
func (r *Reporter) apply(node ids.NodeID, kind Kind, detail string, evaluateBan bool) {
	penalty := r.penalties[kind]
	if kind == KindTimeout {
		penalty = 0.05
	}

	r.mu.Lock()
	score := r.scoreLocked(node) - penalty
	if score < 0 {
		score = 0
	}
	r.scores[node] = score
	r.evidence[node] = append(r.evidence[node], Evidence{Node: node, Kind: kind, Detail: detail, Penalty: penalty, Recorded: time.Now()})

	shouldBan := evaluateBan && score < BanThreshold
	if shouldBan {
		r.banned[node] = struct{}{}
	}
	r.mu.Unlock()

	if r.log != nil {
		r.log.Warn("protocol violation", log.String("node", node.String()), log.String("kind", string(kind)), log.String("detail", detail))
	}
	if shouldBan {
		if r.log != nil {
			r.log.Warn("node banned", log.String("node", node.String()))
		}
		if r.closer != nil {
			r.closer.Close(node)
		}
	}
}

// Unban reverses a ban by operator action, restoring node to
// InitialReputation. Bans otherwise persist indefinitely.
func (r *Reporter) Unban(node ids.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, node)
	r.scores[node] = InitialReputation
}

// EvidenceFor returns every confirmed violation recorded against node, in
// the order observed.
func (r *Reporter) EvidenceFor(node ids.NodeID) []Evidence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Evidence(nil), r.evidence[node]...)
}
