// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package roles expands a principal's direct roles into the transitive
// set of derived roles whose parent roles are all present and whose
// activation condition (if any) evaluates true. The derived-role graph
// is validated acyclic on insertion with a Kahn's-algorithm topological
// sort; expansion walks that same order so each derived role's condition
// is evaluated at most once per call.
package roles

import (
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/expr"
)

// DerivedRole is a role computed from other (direct or derived) roles,
// optionally gated by an activation condition in the same expression
// language policy conditions use. An empty Condition always activates.
type DerivedRole struct {
	Name      string
	Parents   []string
	Condition string
}

// Resolver holds the derived-role graph and expands principal role sets
// against it. Safe for concurrent use: Expand takes a read lock and
// Insert/Delete take the exclusive lock while they rebuild the
// topological order.
type Resolver struct {
	mu        sync.RWMutex
	roles     map[string]DerivedRole
	order     []string // topological order, parents before children
	evaluator *expr.Evaluator
}

// New constructs an empty Resolver. evaluator runs activation conditions.
func New(evaluator *expr.Evaluator) *Resolver {
	return &Resolver{
		roles:     make(map[string]DerivedRole),
		evaluator: evaluator,
	}
}

// Insert adds or replaces a derived role and re-validates the whole graph
// is acyclic. On a cycle the insert is rejected and the prior graph is
// left untouched.
func (r *Resolver) Insert(role DerivedRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := maps.Clone(r.roles)
	if candidate == nil {
		candidate = make(map[string]DerivedRole, 1)
	}
	candidate[role.Name] = role

	order, err := topoSort(candidate)
	if err != nil {
		return err
	}
	r.roles = candidate
	r.order = order
	return nil
}

// Delete removes a derived role by name and re-sorts the remaining
// graph.
func (r *Resolver) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := maps.Clone(r.roles)
	delete(candidate, name)
	order, err := topoSort(candidate)
	if err != nil {
		return err
	}
	r.roles = candidate
	r.order = order
	return nil
}

// Expand returns the transitive closure of direct over the derived-role
// graph: every derived role whose parents are already in the active set
// and whose condition (if any) evaluates true against vars, applied in
// one pass in topological order, which reaches the fixed point because
// every parent is visited before its children. Each derived role's
// condition is evaluated at most once, satisfying the per-request
// memoization and idempotence requirements: calling Expand twice with
// the same direct roles and vars yields the same set.
func (r *Resolver) Expand(direct []string, vars expr.Vars) []string {
	r.mu.RLock()
	order := r.order
	roles := r.roles
	r.mu.RUnlock()

	active := make(map[string]struct{}, len(direct))
	for _, d := range direct {
		active[d] = struct{}{}
	}

	for _, name := range order {
		role := roles[name]
		if _, already := active[name]; already {
			continue
		}
		if !allPresent(role.Parents, active) {
			continue
		}
		if role.Condition != "" && !r.evaluator.Evaluate(role.Condition, vars) {
			continue
		}
		active[name] = struct{}{}
	}

	return maps.Keys(active)
}

func allPresent(names []string, set map[string]struct{}) bool {
	for _, n := range names {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

// topoSort runs Kahn's algorithm over roles, treating each Parents entry
// that names another derived role as a dependency edge (parent before
// child). Direct roles referenced only as a Parents entry, never defined
// as their own DerivedRole, are leaves with no further expansion.
func topoSort(roleSet map[string]DerivedRole) ([]string, error) {
	inDegree := make(map[string]int, len(roleSet))
	dependents := make(map[string][]string, len(roleSet))
	for name := range roleSet {
		inDegree[name] = 0
	}
	for name, role := range roleSet {
		for _, parent := range role.Parents {
			if _, isDerived := roleSet[parent]; !isDerived {
				continue // a plain direct role, not a graph edge
			}
			inDegree[name]++
			dependents[parent] = append(dependents[parent], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, child := range dependents[next] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(roleSet) {
		return nil, errs.New(errs.CycleDetected, "roles: cycle detected involving "+strings.Join(remaining(inDegree), ", "))
	}
	return order, nil
}

func remaining(inDegree map[string]int) []string {
	stuck := make(map[string]int, len(inDegree))
	for name, deg := range inDegree {
		if deg > 0 {
			stuck[name] = deg
		}
	}
	return maps.Keys(stuck)
}
