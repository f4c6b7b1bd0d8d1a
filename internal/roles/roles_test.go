// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package roles

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quorumdag/core/internal/expr"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	eval, err := expr.New()
	require.NoError(t, err)
	return New(eval)
}

func TestExpandTransitiveClosure(t *testing.T) {
	r := newResolver(t)
	require.NoError(t, r.Insert(DerivedRole{Name: "manager", Parents: []string{"employee"}}))
	require.NoError(t, r.Insert(DerivedRole{Name: "director", Parents: []string{"manager"}}))

	expanded := r.Expand([]string{"employee"}, expr.Vars{})
	require.Contains(t, expanded, "manager")
	require.Contains(t, expanded, "director")
}

func TestExpandRespectsActivationCondition(t *testing.T) {
	r := newResolver(t)
	require.NoError(t, r.Insert(DerivedRole{Name: "on_call", Parents: []string{"employee"}, Condition: `request.context.oncall == true`}))

	off := r.Expand([]string{"employee"}, expr.Vars{Context: map[string]interface{}{"oncall": false}})
	require.NotContains(t, off, "on_call")

	on := r.Expand([]string{"employee"}, expr.Vars{Context: map[string]interface{}{"oncall": true}})
	require.Contains(t, on, "on_call")
}

func TestInsertRejectsCycle(t *testing.T) {
	r := newResolver(t)
	require.NoError(t, r.Insert(DerivedRole{Name: "a", Parents: []string{"b"}}))
	err := r.Insert(DerivedRole{Name: "b", Parents: []string{"a"}})
	require.Error(t, err)
}

func TestExpandIsIdempotent(t *testing.T) {
	r := newResolver(t)
	require.NoError(t, r.Insert(DerivedRole{Name: "manager", Parents: []string{"employee"}}))

	vars := expr.Vars{Context: map[string]interface{}{}}
	first := r.Expand([]string{"employee"}, vars)
	second := r.Expand([]string{"employee"}, vars)
	require.ElementsMatch(t, first, second)
}
