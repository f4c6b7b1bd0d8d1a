// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package finality decides when a vertex's confidence has matured into
// permanent finalization, and propagates that decision to descendants
// whose own parents are now all finalized. Conflict losers are rejected
// permanently rather than left pending, the way the teacher's consensus
// instances retire a losing choice once a winner is decided
// (confidence/threshold.go's finalized flag) generalized here to a DAG of
// vertices instead of one binary/unary decision.
package finality

import (
	"sort"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/confidence"
	"github.com/quorumdag/core/internal/dagstore"
	"github.com/quorumdag/core/internal/errs"
)

// Detector finalizes vertices once every parent is finalized and no
// higher-confidence conflict remains, and walks the child index to find
// descendants that become finalizable as a result.
type Detector struct {
	store      *dagstore.Store
	confidence *confidence.Tracker
	log        log.Logger

	// conflicts maps a vertex to the set of other vertices it conflicts
	// with (e.g. competing children of the same parent).
	conflicts map[ids.ID][]ids.ID
}

// New constructs a Detector over store, consulting tracker for confidence
// and conflict resolution decisions.
func New(store *dagstore.Store, tracker *confidence.Tracker, logger log.Logger) *Detector {
	return &Detector{
		store:      store,
		confidence: tracker,
		log:        logger,
		conflicts:  make(map[ids.ID][]ids.ID),
	}
}

// RegisterConflict records that a and b are mutually exclusive: finalizing
// one permanently rejects the other.
func (d *Detector) RegisterConflict(a, b ids.ID) {
	d.conflicts[a] = append(d.conflicts[a], b)
	d.conflicts[b] = append(d.conflicts[b], a)
}

// Finalize finalizes vertex at sequence, provided every parent is already
// finalized and vertex is not the loser of any registered conflict. On
// success it marks every registered conflict of vertex as rejected.
func (d *Detector) Finalize(vertex ids.ID, sequence uint64, nowUnix int64) error {
	if winner := d.resolveConflicts(vertex); winner != vertex {
		return errs.New(errs.InvariantViolation, "finality: "+vertex.String()+" lost conflict resolution to "+winner.String())
	}

	if err := d.store.MarkFinalized(vertex, sequence, nowUnix); err != nil {
		return err
	}

	for _, loser := range d.conflicts[vertex] {
		meta, err := d.store.GetMetadata(loser)
		if err != nil || meta.Finalized || meta.Rejected {
			continue
		}
		if err := d.store.MarkRejected(loser, "lost conflict resolution to "+vertex.String()); err != nil && d.log != nil {
			d.log.Warn("reject loser failed", log.String("loser", loser.String()), log.String("err", err.Error()))
		}
	}

	if d.log != nil {
		d.log.Debug("finalized vertex", log.String("vertex", vertex.String()), log.Uint64("sequence", sequence))
	}
	return nil
}

// resolveConflicts returns the vertex that should win among vertex and
// everything registered as conflicting with it. It returns vertex itself
// if it has no registered conflicts.
func (d *Detector) resolveConflicts(vertex ids.ID) ids.ID {
	winner := vertex
	for _, rival := range d.conflicts[vertex] {
		winner = d.confidence.Resolve(winner, rival)
	}
	return winner
}

// Propagate walks the child index of vertex and returns, in deterministic
// (lexicographic hash) order, every child whose parents are now all
// finalized and which is not the loser of a registered conflict. Callers
// are expected to finalize each returned child (assigning it the next
// sequence number) and may call Propagate again on each in turn to walk
// further down the DAG.
func (d *Detector) Propagate(vertex ids.ID) ([]ids.ID, error) {
	children := d.store.GetChildren(vertex)
	var ready []ids.ID
	for _, child := range children {
		meta, err := d.store.GetMetadata(child)
		if err != nil {
			return nil, err
		}
		if meta.Finalized || meta.Rejected {
			continue
		}

		parents, err := d.store.GetParents(child)
		if err != nil {
			return nil, err
		}
		allFinalized := true
		for _, p := range parents {
			pm, err := d.store.GetMetadata(p)
			if err != nil {
				return nil, err
			}
			if !pm.Finalized {
				allFinalized = false
				break
			}
		}
		if !allFinalized {
			continue
		}

		if winner := d.resolveConflicts(child); winner != child {
			continue
		}
		ready = append(ready, child)
	}

	sort.Slice(ready, func(i, j int) bool {
		return lessHash(ready[i], ready[j])
	})
	return ready, nil
}

func lessHash(a, b ids.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
