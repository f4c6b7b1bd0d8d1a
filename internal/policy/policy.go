// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package policy stores authorization policies in memory, backed
// optionally by a persistent store that is loaded on cold start and
// written through on Put and Delete (it is not re-read afterwards), and
// matches an incoming request against the wildcard
// grammar (literal, "*" suffix/prefix, "kind:*") §4.I describes. Matches
// are sorted (priority desc, id asc) for the decision engine to
// evaluate conditions against in that order.
package policy

import (
	"sort"
	"strings"
	"sync"

	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/scope"
)

// Effect is a policy's outcome when its condition holds.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Policy is one authorization rule.
type Policy struct {
	ID          string
	Name        string
	Effect      Effect
	Principal   string // pattern against the requesting principal's id
	Resource    string // pattern against "<resource kind>:<resource id>"
	Action      string // pattern against the request action
	Scope       string // optional; "" matches any resource scope
	Condition   string // optional CEL expression; "" always activates
	Priority    int
	DerivedRole string // optional; "" means no derived-role gate
}

// PersistentStore is the backing store New loads on cold start and Put
// and Delete write through to. The Store does not re-read it after New,
// so changes made to it directly are not reflected in memory.
// In-memory-only deployments pass a nil PersistentStore to New.
type PersistentStore interface {
	LoadAll() ([]Policy, error)
	Save(Policy) error
	Delete(id string) error
}

// Store holds the in-memory policy map. Safe for concurrent use: a
// read-write lock guards modification, and List and FindMatching sort
// their results on each call rather than keeping a sorted index.
type Store struct {
	mu       sync.RWMutex
	policies map[string]Policy
	backing  PersistentStore
}

// New constructs an empty Store. If backing is non-nil its contents are
// loaded immediately.
func New(backing PersistentStore) (*Store, error) {
	s := &Store{policies: make(map[string]Policy), backing: backing}
	if backing == nil {
		return s, nil
	}
	all, err := backing.LoadAll()
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "policy: load backing store", err)
	}
	for _, p := range all {
		s.policies[p.ID] = p
	}
	return s, nil
}

// Put inserts or replaces a policy, writing through to the backing store
// (if configured) before the in-memory index is updated.
func (s *Store) Put(p Policy) error {
	if p.ID == "" {
		return errs.New(errs.InvalidInput, "policy: id must be non-empty")
	}
	if s.backing != nil {
		if err := s.backing.Save(p); err != nil {
			return errs.Wrap(errs.StorageUnavailable, "policy: write through", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	return nil
}

// Get returns the policy with the given id, or PolicyNotFound.
func (s *Store) Get(id string) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return Policy{}, errs.New(errs.PolicyNotFound, "policy: "+id+" not found")
	}
	return p, nil
}

// Delete removes a policy by id. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) error {
	if s.backing != nil {
		if err := s.backing.Delete(id); err != nil {
			return errs.Wrap(errs.StorageUnavailable, "policy: delete through", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	return nil
}

// List returns every policy, ordered by (priority desc, id asc).
func (s *Store) List() []Policy {
	s.mu.RLock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sortPolicies(out)
	return out
}

// MatchInput is the request-shaped view FindMatching tests policies
// against; the decision engine builds one from an AuthzRequest plus its
// already-resolved scope chain and derived roles.
type MatchInput struct {
	PrincipalID   string
	ResourceID    string
	ResourceKind  string
	ScopeChain    scope.Chain
	Action        string
	ResolvedRoles map[string]struct{}
}

// FindMatching returns every policy whose principal, resource, scope,
// action, and (if set) derived-role gate all match input, sorted
// (priority desc, id asc) — the order the decision engine evaluates
// conditions in.
func (s *Store) FindMatching(input MatchInput) []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resourceSubject := input.ResourceKind + ":" + input.ResourceID
	var matches []Policy
	for _, p := range s.policies {
		if !matchPattern(p.Principal, input.PrincipalID) {
			continue
		}
		if !matchPattern(p.Resource, resourceSubject) && !matchPattern(p.Resource, input.ResourceID) {
			continue
		}
		if p.Action != "" && !matchPattern(p.Action, input.Action) {
			continue
		}
		if !scope.Matches(p.Scope, input.ScopeChain) {
			continue
		}
		if p.DerivedRole != "" {
			if _, ok := input.ResolvedRoles[p.DerivedRole]; !ok {
				continue
			}
		}
		matches = append(matches, p)
	}
	sortPolicies(matches)
	return matches
}

func sortPolicies(ps []Policy) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority > ps[j].Priority
		}
		return ps[i].ID < ps[j].ID
	})
}

// matchPattern implements the §4.I wildcard grammar: an exact literal, a
// trailing "*" for a prefix match, a leading "*" for a suffix match, or
// a bare "*" matching everything. "kind:*" is simply the trailing-"*"
// case applied to a "kind:id"-shaped value.
func matchPattern(pattern, value string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, "*"):
		inner := strings.Trim(pattern, "*")
		return strings.Contains(value, inner)
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(value, strings.TrimPrefix(pattern, "*"))
	default:
		return pattern == value
	}
}
