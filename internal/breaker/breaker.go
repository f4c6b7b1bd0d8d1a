// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package breaker implements the Closed/Open/HalfOpen circuit breaker §7
// requires for both the DAG store (storage faults) and the decision
// engine (policy-store faults), factored out once so neither caller
// reimplements the state machine, the way confidence/factory.go composes
// one small wrapper type rather than duplicating threshold logic per
// caller.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config tunes the breaker's thresholds; zero values fall back to the
// §7 defaults.
type Config struct {
	FailureThreshold int           // consecutive failures to trip Closed -> Open; default 5
	SuccessThreshold int           // consecutive HalfOpen successes to close; default 2
	Timeout          time.Duration // Open -> HalfOpen cooldown; default 60s
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Breaker guards a failure-prone dependency. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: Closed}
}

// Allow reports whether a call should proceed. Open refuses every call
// until Timeout has elapsed, at which point exactly one caller is let
// through as the HalfOpen probe; concurrent callers during that window
// are still refused so only one probe is in flight.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.Timeout {
			return false
		}
		b.state = HalfOpen
		b.consecutiveOK = 0
		return true
	case HalfOpen:
		// A probe is already in flight; only the call that transitioned
		// us into HalfOpen is allowed until it reports back.
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In HalfOpen, SuccessThreshold
// consecutive successes close the breaker; in Closed it resets the
// failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFail = 0
			b.consecutiveOK = 0
		}
	case Closed:
		b.consecutiveFail = 0
	}
}

// RecordFailure reports a failed call. In Closed, FailureThreshold
// consecutive failures trip the breaker open. In HalfOpen, any failure
// reopens it immediately and restarts the cooldown.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = now
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.consecutiveOK = 0
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
