// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	msg := []byte("vertex payload")
	h1 := Hash(msg)
	h2 := Hash(msg)
	require.Equal(t, h1, h2)

	h3 := Hash([]byte("vertex payloaD"))
	require.NotEqual(t, h1, h3)
}

func TestSignVerifySingleMode(t *testing.T) {
	kp, err := GenerateKeyPair(false)
	require.NoError(t, err)

	msg := []byte("authorize user:alice to read doc:123")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	ok, err := Verify(kp.Public(), msg, sig)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair(false)
	require.NoError(t, err)

	msg := []byte("original message")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	ok, err := Verify(kp.Public(), []byte("tampered message"), sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHybridModeRequiresBothSignatures(t *testing.T) {
	kp, err := GenerateKeyPair(true)
	require.NoError(t, err)

	msg := []byte("hybrid message")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NotEmpty(t, sig.PostQuantum)
	require.NotEmpty(t, sig.Classical)

	ok, err := Verify(kp.Public(), msg, sig)
	require.NoError(t, err)
	require.True(t, ok)

	// Stripping the classical half must fail closed, not silently pass on PQ alone.
	sig.Classical = nil
	_, err = Verify(kp.Public(), msg, sig)
	require.Error(t, err)
}
