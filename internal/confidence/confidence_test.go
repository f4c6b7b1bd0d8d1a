// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package confidence

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundUpdatesEMA(t *testing.T) {
	tr := New(DefaultParams(), nil)
	v := ids.GenerateTestID()

	require.NoError(t, tr.RecordRound(v, 30, 30, nil))
	require.InDelta(t, 0.1, tr.Confidence(v), 1e-9)

	require.NoError(t, tr.RecordRound(v, 30, 30, nil))
	require.InDelta(t, 0.19, tr.Confidence(v), 1e-9)
}

func TestConsecutiveSuccessesResetOnLowPositiveCount(t *testing.T) {
	tr := New(DefaultParams(), nil)
	v := ids.GenerateTestID()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.RecordRound(v, 30, 30, nil))
	}
	require.Equal(t, 5, tr.ConsecutiveSuccesses(v))

	require.NoError(t, tr.RecordRound(v, 30, 10, nil)) // below alpha=24
	require.Equal(t, 0, tr.ConsecutiveSuccesses(v))
}

func TestFinalizesAfterBetaConsecutiveSuccesses(t *testing.T) {
	tr := New(DefaultParams(), nil)
	v := ids.GenerateTestID()

	// Beta=20 consecutive successes are reached on round 20, but the EMA
	// (1 - 0.9^n for all-positive rounds) first reaches the 0.95
	// threshold on round 29, so finalization waits for both.
	for i := 0; i < 28; i++ {
		require.NoError(t, tr.RecordRound(v, 30, 30, nil))
		require.False(t, tr.IsFinalized(v))
	}
	require.NoError(t, tr.RecordRound(v, 30, 30, nil))
	require.True(t, tr.IsFinalized(v))
}

func TestFinalizationBlockedByHigherConfidenceConflict(t *testing.T) {
	tr := New(DefaultParams(), nil)
	v := ids.GenerateTestID()
	rival := ids.GenerateTestID()

	for i := 0; i < 30; i++ {
		require.NoError(t, tr.RecordRound(rival, 30, 30, nil))
	}
	// After 40 rounds at 29/30, v's confidence (~0.9524) clears the 0.95
	// threshold and beta, so only the rival (finalized at ~0.9529) blocks it.
	for i := 0; i < 40; i++ {
		require.NoError(t, tr.RecordRound(v, 30, 29, []ids.ID{rival}))
	}
	require.False(t, tr.IsFinalized(v), "v must not finalize while rival has strictly higher confidence")
}

func TestRecordRoundRejectsInvalidCounts(t *testing.T) {
	tr := New(DefaultParams(), nil)
	v := ids.GenerateTestID()

	require.Error(t, tr.RecordRound(v, 0, 0, nil))
	require.Error(t, tr.RecordRound(v, 30, 31, nil))
	require.Error(t, tr.RecordRound(v, 30, -1, nil))
}

func TestMaxRoundsProducesConsensusTimeout(t *testing.T) {
	params := DefaultParams()
	params.MaxRounds = 3
	tr := New(params, nil)
	v := ids.GenerateTestID()

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.RecordRound(v, 30, 1, nil))
	}
	err := tr.RecordRound(v, 30, 1, nil)
	require.Error(t, err)
}

func TestPreferredFinalizedBeatsUnfinalized(t *testing.T) {
	a := ids.GenerateTestID()
	b := ids.GenerateTestID()
	require.Equal(t, a, Preferred(a, b, true, false, 0.1, 0.99))
}

func TestPreferredHigherConfidenceWins(t *testing.T) {
	a := ids.GenerateTestID()
	b := ids.GenerateTestID()
	require.Equal(t, b, Preferred(a, b, false, false, 0.5, 0.9))
}

func TestPreferredTieBreaksLexicographically(t *testing.T) {
	a := ids.GenerateTestID()
	b := ids.GenerateTestID()
	want := a
	if greater(a, b) {
		want = b
	}
	require.Equal(t, want, Preferred(a, b, false, false, 0.5, 0.5))
}

func greater(a, b ids.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
