// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scope resolves a colon-separated hierarchical scope path
// ("org:dept:team") into its ordered chain of ancestors from root to
// leaf, the structure the policy matcher (4.I) walks when comparing a
// policy's scope against a resource's.
package scope

import (
	"strings"

	"github.com/quorumdag/core/internal/errs"
)

// Chain is the ordered sequence of scopes from root to leaf, e.g.
// ["org", "org:dept", "org:dept:team"] for "org:dept:team".
type Chain []string

// Resolve splits path on ':' and returns its Chain. Segments must be
// non-empty and may not themselves contain ':'.
func Resolve(path string) (Chain, error) {
	if path == "" {
		return nil, errs.New(errs.InvalidInput, "scope: empty path")
	}
	segments := strings.Split(path, ":")
	chain := make(Chain, len(segments))
	var built strings.Builder
	for i, seg := range segments {
		if seg == "" {
			return nil, errs.New(errs.InvalidInput, "scope: empty segment in "+path)
		}
		if built.Len() > 0 {
			built.WriteByte(':')
		}
		built.WriteString(seg)
		chain[i] = built.String()
	}
	return chain, nil
}

// Leaf returns the full scope path the chain terminates at, or "" for an
// empty chain.
func (c Chain) Leaf() string {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

// Contains reports whether prefix appears anywhere in the chain, i.e.
// whether prefix is an ancestor of (or equal to) the chain's leaf scope.
func (c Chain) Contains(prefix string) bool {
	for _, s := range c {
		if s == prefix {
			return true
		}
	}
	return false
}

// Matches reports whether a policy scoped to policyScope applies to a
// resource whose resolved chain is resourceChain: an empty policyScope
// matches any resource, otherwise policyScope must be a prefix of the
// resource's chain (i.e. an ancestor scope or the scope itself).
func Matches(policyScope string, resourceChain Chain) bool {
	if policyScope == "" {
		return true
	}
	return resourceChain.Contains(policyScope)
}
