// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package decision

import (
	"context"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/expr"
	"github.com/quorumdag/core/internal/policy"
	"github.com/quorumdag/core/internal/roles"
)

type noopAudit struct{ calls int }

func (n *noopAudit) Record(_ context.Context, _ Request, _ Decision) (ids.ID, error) {
	n.calls++
	return ids.ID{}, nil
}

func newTestEngine(t *testing.T, policies ...policy.Policy) (*Engine, *noopAudit) {
	t.Helper()
	eval, err := expr.New()
	require.NoError(t, err)
	store, err := policy.New(nil)
	require.NoError(t, err)
	for _, p := range policies {
		require.NoError(t, store.Put(p))
	}
	resolver := roles.New(eval)
	kp, err := crypto.GenerateKeyPair(false)
	require.NoError(t, err)
	audit := &noopAudit{}
	return New(resolver, store, eval, kp, audit, nil), audit
}

func aliceRequest() Request {
	return Request{
		Principal: Principal{ID: "user:alice", Roles: []string{"employee"}, Attrs: map[string]interface{}{"dept": "eng"}},
		Resource:  Resource{ID: "doc:123", Kind: "document", Scope: "org:acme:eng", Attrs: map[string]interface{}{"classification": "internal"}},
		Action:    "read",
	}
}

func TestE1HappyPathAndCacheHit(t *testing.T) {
	e, audit := newTestEngine(t, policy.Policy{
		ID: "p1", Effect: policy.Allow, Principal: "user:*", Resource: "document:*", Action: "read",
		Scope: "org:acme", Condition: `R.attrs.classification != "secret"`, Priority: 100,
	})

	d1, err := e.Evaluate(context.Background(), aliceRequest())
	require.NoError(t, err)
	require.True(t, d1.Allowed)
	require.Equal(t, "p1", d1.PolicyID)
	require.False(t, d1.CacheHit)

	d2, err := e.Evaluate(context.Background(), aliceRequest())
	require.NoError(t, err)
	require.True(t, d2.Allowed)
	require.True(t, d2.CacheHit)
	require.Equal(t, 1, audit.calls, "second call is served from cache, not re-audited")
}

func TestE2DenyOverrides(t *testing.T) {
	e, _ := newTestEngine(t,
		policy.Policy{ID: "pA", Effect: policy.Allow, Principal: "*", Resource: "*", Action: "read", Priority: 50},
		policy.Policy{ID: "pD", Effect: policy.Deny, Principal: "*", Resource: "*", Action: "read", Priority: 100},
	)
	d, err := e.Evaluate(context.Background(), aliceRequest())
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "pD", d.PolicyID)
}

func TestE3ConditionErrorSkipsPolicy(t *testing.T) {
	e, _ := newTestEngine(t,
		policy.Policy{ID: "pBad", Effect: policy.Allow, Principal: "*", Resource: "*", Action: "read",
			Condition: `R.attrs.nonexistent.foo`, Priority: 100},
		policy.Policy{ID: "pAllow", Effect: policy.Allow, Principal: "*", Resource: "*", Action: "read", Priority: 50},
	)
	d, err := e.Evaluate(context.Background(), aliceRequest())
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, "pAllow", d.PolicyID)
}

func TestNoMatchDefaultsToDeny(t *testing.T) {
	e, _ := newTestEngine(t)
	d, err := e.Evaluate(context.Background(), aliceRequest())
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "default", d.PolicyID)
}
