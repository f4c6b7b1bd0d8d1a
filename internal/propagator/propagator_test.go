// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package propagator

import (
	"errors"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/dagstore"
	"github.com/quorumdag/core/internal/vertex"
)

var errUnknownKey = errors.New("propagator test: unknown node key")

type fakeKeys struct {
	keys map[ids.NodeID]crypto.PublicKey
}

func (f *fakeKeys) PublicKey(node ids.NodeID) (crypto.PublicKey, error) {
	pk, ok := f.keys[node]
	if !ok {
		return crypto.PublicKey{}, errUnknownKey
	}
	return pk, nil
}

type fakeByz struct {
	invalidSigs   []ids.NodeID
	hashMismatches []ids.NodeID
}

func (f *fakeByz) ReportInvalidSignature(node ids.NodeID, detail string) {
	f.invalidSigs = append(f.invalidSigs, node)
}

func (f *fakeByz) ReportHashMismatch(node ids.NodeID, detail string) {
	f.hashMismatches = append(f.hashMismatches, node)
}

type fakeBroadcaster struct {
	sent []ids.ID
}

func (f *fakeBroadcaster) Broadcast(v *vertex.Vertex, exclude ids.NodeID) error {
	f.sent = append(f.sent, v.Hash)
	return nil
}

type fakeBackfill struct {
	requested []ids.ID
}

func (f *fakeBackfill) RequestVertex(hash ids.ID) error {
	f.requested = append(f.requested, hash)
	return nil
}

func newHarness(t *testing.T) (*Propagator, *fakeKeys, *fakeByz, *fakeBroadcaster, *dagstore.Store) {
	t.Helper()
	store := dagstore.New(memdb.New(), log.NewNoOpLogger())
	keys := &fakeKeys{keys: make(map[ids.NodeID]crypto.PublicKey)}
	byz := &fakeByz{}
	bc := &fakeBroadcaster{}
	bf := &fakeBackfill{}
	p := New(store, keys, byz, bc, bf, log.NewNoOpLogger())
	return p, keys, byz, bc, store
}

func TestHandleAcceptsValidGenesisVertex(t *testing.T) {
	p, keys, _, bc, _ := newHarness(t)

	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	creator := ids.GenerateTestNodeID()
	keys.keys[creator] = kp.Public()

	v := vertex.New(nil, []byte("genesis"), 1, creator)
	require.NoError(t, v.Sign(kp))

	require.NoError(t, p.Handle(v, ids.GenerateTestNodeID()))
	require.Contains(t, bc.sent, v.Hash)
}

func TestHandleDedupsRepeatedVertex(t *testing.T) {
	p, keys, _, bc, _ := newHarness(t)

	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	creator := ids.GenerateTestNodeID()
	keys.keys[creator] = kp.Public()

	v := vertex.New(nil, []byte("genesis"), 1, creator)
	require.NoError(t, v.Sign(kp))

	require.NoError(t, p.Handle(v, ids.GenerateTestNodeID()))
	require.NoError(t, p.Handle(v, ids.GenerateTestNodeID()))
	require.Len(t, bc.sent, 1)
}

func TestHandleRejectsTamperedHash(t *testing.T) {
	p, keys, byz, _, _ := newHarness(t)

	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	creator := ids.GenerateTestNodeID()
	keys.keys[creator] = kp.Public()

	v := vertex.New(nil, []byte("genesis"), 1, creator)
	require.NoError(t, v.Sign(kp))
	v.Hash = ids.GenerateTestID() // corrupt claimed hash

	err = p.Handle(v, ids.GenerateTestNodeID())
	require.Error(t, err)
	require.Len(t, byz.hashMismatches, 1)
}

func TestHandleBuffersVertexWithMissingParent(t *testing.T) {
	p, keys, _, bc, _ := newHarness(t)

	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	creator := ids.GenerateTestNodeID()
	keys.keys[creator] = kp.Public()

	missingParent := ids.GenerateTestID()
	child := vertex.New([]ids.ID{missingParent}, []byte("child"), 2, creator)
	require.NoError(t, child.Sign(kp))

	require.NoError(t, p.Handle(child, ids.GenerateTestNodeID()))
	require.Empty(t, bc.sent, "a vertex with an unknown parent must not be forwarded yet")
}

// TestHandleBuffersMergeVertexOnActualMissingParent covers a merge vertex
// naming two parents where the first parent is already known and the
// second is missing: the buffered entry must wait on the real missing
// parent, not unconditionally on Parents[0], or it would never be
// released once the real missing parent is backfilled.
func TestHandleBuffersMergeVertexOnActualMissingParent(t *testing.T) {
	p, keys, _, bc, _ := newHarness(t)

	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	creator := ids.GenerateTestNodeID()
	keys.keys[creator] = kp.Public()

	known := vertex.New(nil, []byte("known parent"), 1, creator)
	require.NoError(t, known.Sign(kp))
	require.NoError(t, p.Handle(known, ids.GenerateTestNodeID()))

	missingParent := ids.GenerateTestID()
	merge := vertex.New([]ids.ID{known.Hash, missingParent}, []byte("merge"), 2, creator)
	require.NoError(t, merge.Sign(kp))

	require.NoError(t, p.Handle(merge, ids.GenerateTestNodeID()))
	require.NotContains(t, bc.sent, merge.Hash, "a merge vertex with one unknown parent must not be forwarded yet")

	require.Empty(t, p.buffer.TakeWaitingOn(known.Hash),
		"the buffered entry must not be waiting on the already-known first parent")

	waiting := p.buffer.TakeWaitingOn(missingParent)
	require.Len(t, waiting, 1)
	require.Equal(t, merge.Hash, waiting[0].Hash)
}
