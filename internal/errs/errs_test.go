// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageUnavailable, "put_vertex failed", cause)

	require.True(t, Is(err, StorageUnavailable))
	require.False(t, Is(err, ParentMissing))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "put_vertex failed: disk full", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestKindOfTagged(t *testing.T) {
	require.Equal(t, CycleDetected, KindOf(New(CycleDetected, "role cycle")))
}
