// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package decision orchestrates the authorization pipeline (§4.M): cache
// probe, derived-role resolution (4.J), scope filtering (4.K), policy
// matching (4.I), condition evaluation (4.L), and finally audit +
// metrics + cache write-back. Policy-store failures fail closed through
// a shared internal/breaker circuit breaker.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/breaker"
	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/expr"
	"github.com/quorumdag/core/internal/policy"
	"github.com/quorumdag/core/internal/roles"
	"github.com/quorumdag/core/internal/scope"
)

// DefaultDecisionTimeout is the §5 decision-engine total timeout; a
// breach surfaces as errs.DecisionTimeout and always resolves to Deny.
const DefaultDecisionTimeout = 100 * time.Millisecond

const defaultReason = "no matching policy"

// Principal is the authenticated entity making a request.
type Principal struct {
	ID    string
	Roles []string
	Attrs map[string]interface{}
}

// Resource is the target of an action.
type Resource struct {
	ID    string
	Kind  string
	Scope string
	Attrs map[string]interface{}
}

// Request is an immutable authorization request.
type Request struct {
	Principal Principal
	Resource  Resource
	Action    string
	Context   map[string]interface{}
}

// Decision is the orchestrator's output.
type Decision struct {
	ID        string
	Allowed   bool
	PolicyID  string // "default" when no policy matched
	Reason    string
	Latency   time.Duration
	CacheHit  bool
	Signature crypto.Signature
	AuditTip  ids.ID
}

// AuditLogger is the subset of internal/audit's Logger the decision
// engine needs: a local interface (the same decoupling pattern
// internal/propagator uses for ByzantineReporter) so this package never
// imports internal/audit directly.
type AuditLogger interface {
	Record(ctx context.Context, req Request, d Decision) (ids.ID, error)
}

// Engine wires together the decision pipeline's stages.
type Engine struct {
	roles   *roles.Resolver
	policies *policy.Store
	eval    *expr.Evaluator
	audit   AuditLogger
	signer  *crypto.KeyPair
	log     log.Logger

	l1      *l1Cache
	l2      L2Cache
	flight  *flightGroup
	br      *breaker.Breaker
	timeout time.Duration
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithL2Cache attaches an optional shared network cache tier.
func WithL2Cache(c L2Cache) Option { return func(e *Engine) { e.l2 = c } }

// WithTimeout overrides DefaultDecisionTimeout.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithBreaker overrides the default circuit breaker configuration.
func WithBreaker(b *breaker.Breaker) Option { return func(e *Engine) { e.br = b } }

// New constructs an Engine. signer is used to sign emitted Decisions;
// audit may be nil (decisions are still returned, just not chained into
// the DAG).
func New(resolver *roles.Resolver, policies *policy.Store, eval *expr.Evaluator, signer *crypto.KeyPair, audit AuditLogger, logger log.Logger, opts ...Option) *Engine {
	e := &Engine{
		roles:    resolver,
		policies: policies,
		eval:     eval,
		audit:    audit,
		signer:   signer,
		log:      logger,
		l1:       newL1Cache(60 * time.Second),
		flight:   newFlightGroup(),
		br:       breaker.New(breaker.Config{}),
		timeout:  DefaultDecisionTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the full pipeline for req. Every path returns a Decision
// and a nil error except a true DecisionTimeout breach, which still
// returns a fail-closed Deny Decision rather than propagating the error
// to the caller (per §7's "user-visible: yes, defaults to Deny" rule) —
// the error is returned alongside so callers can distinguish the reason
// from a straightforward Deny.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		d   Decision
		err error
	}
	ch := make(chan result, 1)
	key := cacheKey(req)

	go func() {
		d, err := e.flight.Do(key, func() (Decision, error) {
			return e.compute(ctx, req, key, start)
		})
		ch <- result{d, err}
	}()

	select {
	case r := <-ch:
		return r.d, r.err
	case <-ctx.Done():
		return e.deny("", errs.DecisionTimeout, "decision timeout", start), errs.New(errs.DecisionTimeout, "decision: pipeline exceeded "+e.timeout.String())
	}
}

func (e *Engine) compute(ctx context.Context, req Request, key string, start time.Time) (Decision, error) {
	now := time.Now()
	if d, ok := e.l1.Get(key, now); ok {
		d.CacheHit = true
		d.Latency = time.Since(start)
		return d, nil
	}
	if e.l2 != nil {
		if d, ok, err := e.l2.Get(key); err == nil && ok {
			d.CacheHit = true
			d.Latency = time.Since(start)
			e.l1.Put(key, d, now)
			return d, nil
		}
	}

	if !e.br.Allow() {
		return e.deny("", errs.CircuitOpen, "policy store circuit open", start), nil
	}

	var resourceChain scope.Chain
	if req.Resource.Scope != "" {
		if c, err := scope.Resolve(req.Resource.Scope); err == nil {
			resourceChain = c
		} // malformed scope: treat as unscoped rather than failing the whole request
	}

	vars := expr.Vars{
		Principal: principalVars(req.Principal),
		Resource:  resourceVars(req.Resource),
		Context:   req.Context,
	}
	resolvedRoles := e.roles.Expand(req.Principal.Roles, vars)
	roleSet := make(map[string]struct{}, len(resolvedRoles))
	for _, r := range resolvedRoles {
		roleSet[r] = struct{}{}
	}

	matches := e.policies.FindMatching(policy.MatchInput{
		PrincipalID:   req.Principal.ID,
		ResourceID:    req.Resource.ID,
		ResourceKind:  req.Resource.Kind,
		ScopeChain:    resourceChain,
		Action:        req.Action,
		ResolvedRoles: roleSet,
	})
	e.br.RecordSuccess()

	d := e.decide(matches, vars, start)
	e.finalize(ctx, req, &d)

	e.l1.Put(key, d, now)
	if e.l2 != nil {
		_ = e.l2.Put(key, d, 300*time.Second)
	}
	return d, nil
}

// decide walks matches in (priority desc, id asc) order — the order
// FindMatching already sorted them in — evaluating each policy's
// condition until an Allow or Deny is reached. Deny-overrides: a Deny at
// higher priority is reached first and wins outright, and when an Allow
// fires, a firing Deny later in the same priority bucket still wins; a
// skipped (condition-false or errored) policy simply falls through to the
// next.
func (e *Engine) decide(matches []policy.Policy, vars expr.Vars, start time.Time) Decision {
	for i, p := range matches {
		if p.Condition != "" && !e.eval.Evaluate(p.Condition, vars) {
			continue
		}
		if p.Effect == policy.Allow {
			for _, q := range matches[i+1:] {
				if q.Priority != p.Priority {
					break
				}
				if q.Effect == policy.Deny && (q.Condition == "" || e.eval.Evaluate(q.Condition, vars)) {
					p = q
					break
				}
			}
		}
		return Decision{
			Allowed:  p.Effect == policy.Allow,
			PolicyID: p.ID,
			Reason:   "matched " + p.ID,
			Latency:  time.Since(start),
		}
	}
	return Decision{Allowed: false, PolicyID: "default", Reason: defaultReason, Latency: time.Since(start)}
}

func (e *Engine) deny(policyID string, kind errs.Kind, reason string, start time.Time) Decision {
	if policyID == "" {
		policyID = "default"
	}
	return Decision{Allowed: false, PolicyID: policyID, Reason: reason, Latency: time.Since(start)}
}

// finalize assigns an id, signs the decision, and (if configured) writes
// it to the audit trail. Audit failures are logged but never change the
// already-decided outcome.
func (e *Engine) finalize(ctx context.Context, req Request, d *Decision) {
	d.ID = fmt.Sprintf("dec-%s-%d", req.Principal.ID, time.Now().UnixNano())
	if e.signer != nil {
		if sig, err := e.signer.Sign([]byte(d.ID + d.PolicyID)); err == nil {
			d.Signature = sig
		}
	}
	if e.audit == nil {
		return
	}
	tip, err := e.audit.Record(ctx, req, *d)
	if err != nil {
		if e.log != nil {
			e.log.Warn("audit record failed", log.String("decision", d.ID), log.String("err", err.Error()))
		}
		return
	}
	d.AuditTip = tip
}

// principalVars and resourceVars shape a Principal/Resource into the
// {id, attrs, ...} maps conditions index as P.attrs.x / R.attrs.x (the
// convention internal/expr's test fixtures establish); principalVars
// additionally exposes roles as P.roles for "manager" in P.roles-style
// conditions.
func principalVars(p Principal) map[string]interface{} {
	return map[string]interface{}{
		"id":    p.ID,
		"roles": p.Roles,
		"attrs": attrsOrEmpty(p.Attrs),
	}
}

func resourceVars(r Resource) map[string]interface{} {
	return map[string]interface{}{
		"id":    r.ID,
		"kind":  r.Kind,
		"scope": r.Scope,
		"attrs": attrsOrEmpty(r.Attrs),
	}
}

func attrsOrEmpty(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return map[string]interface{}{}
	}
	return attrs
}

// cacheKey hashes (principal id, sorted resolved roles, resource id,
// scope chain, action, context) into the §4.M L1/L2 cache key. Roles
// are pre-expand direct roles here (derived roles are resolved inside
// compute); two requests with identical direct inputs always resolve
// the same derived set deterministically (testable property 8), so
// hashing the direct roles is sufficient for cache-key purposes.
func cacheKey(req Request) string {
	roles := append([]string(nil), req.Principal.Roles...)
	sort.Strings(roles)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|", req.Principal.ID, strings.Join(roles, ","), req.Resource.ID, req.Resource.Scope, req.Action)
	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v|", k, req.Context[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
