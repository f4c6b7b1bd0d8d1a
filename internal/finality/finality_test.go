// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/quorumdag/core/internal/confidence"
	"github.com/quorumdag/core/internal/dagstore"
	"github.com/quorumdag/core/internal/vertex"
)

func newHarness() (*Detector, *dagstore.Store, *confidence.Tracker) {
	store := dagstore.New(memdb.New(), log.NewNoOpLogger())
	tracker := confidence.New(confidence.DefaultParams(), log.NewNoOpLogger())
	return New(store, tracker, log.NewNoOpLogger()), store, tracker
}

func TestFinalizeRootVertex(t *testing.T) {
	d, store, _ := newHarness()
	creator := ids.GenerateTestNodeID()
	genesis := vertex.New(nil, []byte("g"), 0, creator)
	require.NoError(t, store.PutVertex(genesis))

	require.NoError(t, d.Finalize(genesis.Hash, 0, 100))

	meta, err := store.GetMetadata(genesis.Hash)
	require.NoError(t, err)
	require.True(t, meta.Finalized)
}

func TestPropagateFindsReadyChildrenInHashOrder(t *testing.T) {
	d, store, _ := newHarness()
	creator := ids.GenerateTestNodeID()
	genesis := vertex.New(nil, []byte("g"), 0, creator)
	require.NoError(t, store.PutVertex(genesis))
	require.NoError(t, d.Finalize(genesis.Hash, 0, 100))

	childA := vertex.New([]ids.ID{genesis.Hash}, []byte("a"), 1, creator)
	childB := vertex.New([]ids.ID{genesis.Hash}, []byte("b"), 1, creator)
	require.NoError(t, store.PutVertex(childA))
	require.NoError(t, store.PutVertex(childB))

	ready, err := d.Propagate(genesis.Hash)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	require.True(t, lessHash(ready[0], ready[1]) || ready[0] == ready[1])
}

func TestPropagateSkipsChildWithUnfinalizedParent(t *testing.T) {
	d, store, _ := newHarness()
	creator := ids.GenerateTestNodeID()
	genesis := vertex.New(nil, []byte("g"), 0, creator)
	other := vertex.New(nil, []byte("o"), 0, creator)
	require.NoError(t, store.PutVertex(genesis))
	require.NoError(t, store.PutVertex(other))
	require.NoError(t, d.Finalize(genesis.Hash, 0, 100))
	// other is never finalized

	child := vertex.New([]ids.ID{genesis.Hash, other.Hash}, []byte("c"), 1, creator)
	require.NoError(t, store.PutVertex(child))

	ready, err := d.Propagate(genesis.Hash)
	require.NoError(t, err)
	require.Empty(t, ready)
}

func TestFinalizeRejectsConflictLoser(t *testing.T) {
	d, store, tracker := newHarness()
	creator := ids.GenerateTestNodeID()
	genesis := vertex.New(nil, []byte("g"), 0, creator)
	require.NoError(t, store.PutVertex(genesis))
	require.NoError(t, d.Finalize(genesis.Hash, 0, 100))

	a := vertex.New([]ids.ID{genesis.Hash}, []byte("a"), 1, creator)
	b := vertex.New([]ids.ID{genesis.Hash}, []byte("b"), 1, creator)
	require.NoError(t, store.PutVertex(a))
	require.NoError(t, store.PutVertex(b))
	d.RegisterConflict(a.Hash, b.Hash)

	// Give a higher confidence than b so it wins.
	for i := 0; i < 25; i++ {
		require.NoError(t, tracker.RecordRound(a.Hash, 30, 30, nil))
	}
	for i := 0; i < 25; i++ {
		require.NoError(t, tracker.RecordRound(b.Hash, 30, 1, nil))
	}

	require.NoError(t, d.Finalize(a.Hash, 1, 200))

	bMeta, err := store.GetMetadata(b.Hash)
	require.NoError(t, err)
	require.True(t, bMeta.Rejected)
}

func TestFinalizeFailsForConflictLoser(t *testing.T) {
	d, store, tracker := newHarness()
	creator := ids.GenerateTestNodeID()
	genesis := vertex.New(nil, []byte("g"), 0, creator)
	require.NoError(t, store.PutVertex(genesis))
	require.NoError(t, d.Finalize(genesis.Hash, 0, 100))

	a := vertex.New([]ids.ID{genesis.Hash}, []byte("a"), 1, creator)
	b := vertex.New([]ids.ID{genesis.Hash}, []byte("b"), 1, creator)
	require.NoError(t, store.PutVertex(a))
	require.NoError(t, store.PutVertex(b))
	d.RegisterConflict(a.Hash, b.Hash)

	for i := 0; i < 25; i++ {
		require.NoError(t, tracker.RecordRound(a.Hash, 30, 30, nil))
	}

	err := d.Finalize(b.Hash, 1, 200)
	require.Error(t, err)
}
