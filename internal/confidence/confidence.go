// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package confidence tracks per-vertex acceptance confidence using repeated
// sampling rounds, an exponential moving average, and a consecutive-success
// counter, the way the teacher's confidence package tracks unary and binary
// decisions (confidence/threshold.go) — generalized here to a per-vertex map
// keyed by content hash instead of one instance per consensus decision, and
// to a float EMA instead of the teacher's fixed-size termination-condition
// ladder.
package confidence

import (
	"bytes"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/errs"
)

// Params configures the sampling and finalization thresholds shared by
// every tracked vertex.
type Params struct {
	K                     int     // sample size per round
	Alpha                 int     // chit threshold: positiveCount >= Alpha increments consecutiveSuccesses
	Beta                  int     // consecutive successful rounds required to finalize
	FinalizationThreshold float64 // minimum EMA confidence required to finalize
	MaxRounds             uint64  // rounds after which an unresolved vertex times out
}

// DefaultParams returns the standard network parameters.
func DefaultParams() Params {
	return Params{
		K:                     30,
		Alpha:                 24,
		Beta:                  20,
		FinalizationThreshold: 0.95,
		MaxRounds:             1000,
	}
}

type vertexState struct {
	confidence           float64
	consecutiveSuccesses int
	totalRounds          uint64
	positiveResponses    uint64
	roundNumber          uint64
	lastChit             bool
	conflicting          map[ids.ID]struct{}
	finalized            bool
}

// Tracker holds the confidence state of every vertex under sampling. It is
// safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	params Params
	log    log.Logger
	states map[ids.ID]*vertexState
}

// New creates a Tracker with the given parameters.
func New(params Params, logger log.Logger) *Tracker {
	return &Tracker{
		params: params,
		log:    logger,
		states: make(map[ids.ID]*vertexState),
	}
}

func (t *Tracker) getOrCreate(v ids.ID) *vertexState {
	st, ok := t.states[v]
	if !ok {
		st = &vertexState{conflicting: make(map[ids.ID]struct{})}
		t.states[v] = st
	}
	return st
}

// RecordRound folds one sampling round's result into v's confidence state:
// EMA update, chit/consecutive-success bookkeeping, conflict-set merge, and
// a finalization re-check. A round recorded after finalization is a no-op.
// Exceeding MaxRounds without finalizing returns a ConsensusTimeout error.
func (t *Tracker) RecordRound(v ids.ID, sampleSize, positiveCount int, conflictingSet []ids.ID) error {
	if sampleSize <= 0 {
		return errs.New(errs.InvalidInput, "confidence: sample size must be positive")
	}
	if positiveCount < 0 || positiveCount > sampleSize {
		return errs.New(errs.InvalidInput, "confidence: positive count out of range")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.getOrCreate(v)
	if st.finalized {
		return nil
	}
	if st.roundNumber >= t.params.MaxRounds {
		return errs.New(errs.ConsensusTimeout, "confidence: exceeded max rounds without finalizing")
	}

	st.roundNumber++
	st.totalRounds++
	st.positiveResponses += uint64(positiveCount)

	ratio := float64(positiveCount) / float64(sampleSize)
	st.confidence = 0.9*st.confidence + 0.1*ratio

	if positiveCount >= t.params.Alpha {
		st.consecutiveSuccesses++
		st.lastChit = true
	} else {
		st.consecutiveSuccesses = 0
		st.lastChit = false
	}

	for _, c := range conflictingSet {
		st.conflicting[c] = struct{}{}
	}

	st.finalized = t.isFinalizedLocked(st)
	if st.finalized && t.log != nil {
		t.log.Debug("vertex finalized",
			log.String("vertex", v.String()),
			log.Int("consecutiveSuccesses", st.consecutiveSuccesses))
	}
	return nil
}

// isFinalizedLocked evaluates the finalization predicate for st. Callers
// must hold t.mu.
func (t *Tracker) isFinalizedLocked(st *vertexState) bool {
	if st.consecutiveSuccesses < t.params.Beta {
		return false
	}
	if st.confidence < t.params.FinalizationThreshold {
		return false
	}
	for c := range st.conflicting {
		if other, ok := t.states[c]; ok && other.confidence > st.confidence {
			return false
		}
	}
	return true
}

// Confidence returns v's current EMA confidence, or 0 if v has never been
// sampled.
func (t *Tracker) Confidence(v ids.ID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[v]; ok {
		return st.confidence
	}
	return 0
}

// IsFinalized reports whether v has met the finalization predicate.
func (t *Tracker) IsFinalized(v ids.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[v]; ok {
		return st.finalized
	}
	return false
}

// ConsecutiveSuccesses returns v's current chit streak.
func (t *Tracker) ConsecutiveSuccesses(v ids.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[v]; ok {
		return st.consecutiveSuccesses
	}
	return 0
}

// Resolve applies deterministic conflict resolution between a and b: the
// finalized vertex wins; if neither or both are finalized, the higher
// confidence wins; ties break on lexicographic hash order.
func (t *Tracker) Resolve(a, b ids.ID) ids.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	sa, sb := t.states[a], t.states[b]
	aFinal, aConf := stateView(sa)
	bFinal, bConf := stateView(sb)
	return Preferred(a, b, aFinal, bFinal, aConf, bConf)
}

func stateView(st *vertexState) (finalized bool, confidence float64) {
	if st == nil {
		return false, 0
	}
	return st.finalized, st.confidence
}

// Preferred picks between two conflicting vertices given their finalization
// and confidence state: the finalized one wins; otherwise the higher
// confidence; on a tie, lexicographic hash order.
func Preferred(a, b ids.ID, aFinalized, bFinalized bool, aConfidence, bConfidence float64) ids.ID {
	if aFinalized != bFinalized {
		if aFinalized {
			return a
		}
		return b
	}
	if aConfidence != bConfidence {
		if aConfidence > bConfidence {
			return a
		}
		return b
	}
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a
	}
	return b
}
