// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package decision

import "sync"

// flightGroup guarantees at most one computation is in flight per cache
// key: concurrent callers for the same key block on the first caller's
// result rather than recomputing, the §5 "decisions for the same cache
// key are serialized" guarantee. Semantically equivalent to
// golang.org/x/sync/singleflight.Group, hand-rolled here since that
// package appears in no example repo's go.mod.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val Decision
	err error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*call)}
}

// Do executes fn for key if no call for key is already in flight;
// otherwise it waits for the in-flight call and returns its result.
func (g *flightGroup) Do(key string, fn func() (Decision, error)) (Decision, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	return c.val, c.err
}
