// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package propagator

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/dagstore"
	"github.com/quorumdag/core/internal/propagator/propagatormock"
	"github.com/quorumdag/core/internal/vertex"
)

// TestHandleBroadcastsExcludingSender exercises Broadcaster through a
// gomock-generated-style mock (propagatormock.Broadcaster) instead of the
// hand-written fakeBroadcaster spy the rest of this package's tests use,
// to assert both the call count and the exact (vertex, exclude) arguments
// in one expectation.
func TestHandleBroadcastsExcludingSender(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := dagstore.New(memdb.New(), log.NewNoOpLogger())
	keys := &fakeKeys{keys: make(map[ids.NodeID]crypto.PublicKey)}
	byz := &fakeByz{}
	bf := &fakeBackfill{}
	bc := propagatormock.NewBroadcaster(ctrl)

	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	creator := ids.GenerateTestNodeID()
	keys.keys[creator] = kp.Public()
	sender := ids.GenerateTestNodeID()

	v := vertex.New(nil, []byte("genesis"), 1, creator)
	require.NoError(t, v.Sign(kp))

	bc.EXPECT().Broadcast(v, sender).Times(1).Return(nil)

	p := New(store, keys, byz, bc, bf, log.NewNoOpLogger())
	require.NoError(t, p.Handle(v, sender))
}
