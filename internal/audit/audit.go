// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audit is the append-only, tamper-evident trail §4.N
// describes: every finalized Decision is serialized, signed with the
// node's post-quantum key, linked as a vertex into the DAG (parent: the
// previous audit tip; the matched policy is recorded by id only and is
// not linked as a parent vertex), and appended to an async buffered sink. VerifyChain re-walks
// the trail offline, re-checking every hash and signature — the library
// entrypoint for E6's tamper-detection scenario, deliberately not a CLI
// (the CLI surface itself is an explicit non-goal).
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/dagstore"
	"github.com/quorumdag/core/internal/decision"
	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/vertex"
	"github.com/quorumdag/core/internal/wire"
)

// DefaultBufferSize and DefaultFlushInterval match §4.N's stated
// defaults for the async buffered sink.
const (
	DefaultBufferSize     = 10_000
	DefaultFlushInterval  = 5 * time.Second
)

// Record is the structured entry written for every finalized Decision.
type Record struct {
	Timestamp     int64
	RequestID     string
	PrincipalID   string
	PrincipalRoles []string
	ResourceID    string
	ResourceKind  string
	Action        string
	Allowed       bool
	PolicyID      string
	Reason        string
	LatencyNS     int64
	CacheHit      bool
	Context       map[string]string // keys passed to WithRedactedKeys are redacted
}

func (r Record) encode() []byte {
	w := wire.NewWriter(256)
	w.Uint64(uint64(r.Timestamp))
	w.String(r.RequestID)
	w.String(r.PrincipalID)
	roleBytes := make([][]byte, len(r.PrincipalRoles))
	for i, role := range r.PrincipalRoles {
		roleBytes[i] = []byte(role)
	}
	w.BytesList(roleBytes)
	w.String(r.ResourceID)
	w.String(r.ResourceKind)
	w.String(r.Action)
	if r.Allowed {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
	w.String(r.PolicyID)
	w.String(r.Reason)
	w.Uint64(uint64(r.LatencyNS))
	if r.CacheHit {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
	keys := make([]string, 0, len(r.Context))
	for k := range r.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairBytes := make([][]byte, 0, len(keys))
	for _, k := range keys {
		pairBytes = append(pairBytes, []byte(k+"="+r.Context[k]))
	}
	w.BytesList(pairBytes)
	return w.Finish()
}

// Logger implements decision.AuditLogger, signing and chaining every
// recorded Decision into the DAG store, then queueing it onto a bounded
// async sink that a background goroutine flushes on an interval.
type Logger struct {
	store     *dagstore.Store
	signer    *crypto.KeyPair
	log       log.Logger
	redactKeys map[string]struct{}

	mu      sync.Mutex
	tip     ids.ID
	hasTip  bool

	queue   chan *vertex.Vertex
	done    chan struct{}
	stopped chan struct{}
}

var _ decision.AuditLogger = (*Logger)(nil)

// Option configures a Logger at construction.
type Option func(*Logger)

// WithRedactedKeys marks context keys whose values are replaced with
// "[redacted]" before an entry is serialized.
func WithRedactedKeys(keys ...string) Option {
	return func(l *Logger) {
		for _, k := range keys {
			l.redactKeys[k] = struct{}{}
		}
	}
}

// New constructs a Logger over store, signing with signer, and starts
// its background flush goroutine. Stop must be called to drain the
// queue and halt the goroutine on shutdown.
func New(store *dagstore.Store, signer *crypto.KeyPair, logger log.Logger, bufferSize int, flushInterval time.Duration, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	l := &Logger{
		store:      store,
		signer:     signer,
		log:        logger,
		redactKeys: make(map[string]struct{}),
		queue:      make(chan *vertex.Vertex, bufferSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run(flushInterval)
	return l
}

// Record builds, signs, and links a Record for (req, d) as a new DAG
// vertex whose parents are the previous audit tip (if any), then queues
// it for asynchronous persistence. It returns the new vertex's hash
// immediately, without waiting for the flush.
func (l *Logger) Record(_ context.Context, req decision.Request, d decision.Decision) (ids.ID, error) {
	rec := Record{
		Timestamp:      time.Now().Unix(),
		RequestID:      d.ID,
		PrincipalID:    req.Principal.ID,
		PrincipalRoles: req.Principal.Roles,
		ResourceID:     req.Resource.ID,
		ResourceKind:   req.Resource.Kind,
		Action:         req.Action,
		Allowed:        d.Allowed,
		PolicyID:       d.PolicyID,
		Reason:         d.Reason,
		LatencyNS:      int64(d.Latency),
		CacheHit:       d.CacheHit,
		Context:        l.redact(req.Context),
	}

	l.mu.Lock()
	var parents []ids.ID
	if l.hasTip {
		parents = []ids.ID{l.tip}
	}
	l.mu.Unlock()

	var creator ids.NodeID
	if l.signer != nil {
		nodeID, err := crypto.DeriveNodeID(l.signer.Public())
		if err == nil {
			creator, _ = ids.ToNodeID(nodeID[:])
		}
	}

	v := vertex.New(parents, rec.encode(), rec.Timestamp, creator)
	if l.signer != nil {
		if err := v.Sign(l.signer); err != nil {
			return ids.ID{}, errs.Wrap(errs.Internal, "audit: sign record", err)
		}
	}

	l.mu.Lock()
	l.tip = v.Hash
	l.hasTip = true
	l.mu.Unlock()

	select {
	case l.queue <- v:
	default:
		// Buffer is saturated; persist synchronously rather than drop an
		// audit entry, since the trail must stay complete.
		if err := l.store.PutVertex(v); err != nil {
			return ids.ID{}, err
		}
	}
	return v.Hash, nil
}

func (l *Logger) redact(ctx map[string]interface{}) map[string]string {
	out := make(map[string]string, len(ctx))
	for k, v := range ctx {
		if _, redact := l.redactKeys[k]; redact {
			out[k] = "[redacted]"
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func (l *Logger) run(interval time.Duration) {
	defer close(l.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var pending []*vertex.Vertex
	for {
		select {
		case v := <-l.queue:
			pending = append(pending, v)
		case <-ticker.C:
			pending = l.flush(pending)
		case <-l.done:
			for v := range drain(l.queue) {
				pending = append(pending, v)
			}
			l.flush(pending)
			return
		}
	}
}

func drain(ch chan *vertex.Vertex) chan *vertex.Vertex {
	out := make(chan *vertex.Vertex, len(ch))
	for {
		select {
		case v := <-ch:
			out <- v
		default:
			close(out)
			return out
		}
	}
}

func (l *Logger) flush(pending []*vertex.Vertex) []*vertex.Vertex {
	for _, v := range pending {
		if err := l.store.PutVertex(v); err != nil && l.log != nil {
			l.log.Error("audit: persist vertex failed", log.String("vertex", v.Hash.String()), log.String("err", err.Error()))
		}
	}
	return pending[:0]
}

// Stop drains the queue synchronously and halts the background
// goroutine. Safe to call once at shutdown.
func (l *Logger) Stop() {
	close(l.done)
	<-l.stopped
}

// Tip returns the current audit chain tip and whether one exists yet.
func (l *Logger) Tip() (ids.ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tip, l.hasTip
}

// VerifyChain re-walks the audit trail starting at tip back to genesis,
// re-checking every vertex's hash and the creator's signature under
// creatorKey. It returns the first hash that fails verification, or a
// nil id with ok=true if the whole trail verifies — the offline
// integrity check §4.N requires and E6 exercises.
func VerifyChain(store *dagstore.Store, tip ids.ID, creatorKey crypto.PublicKey) (failedAt ids.ID, ok bool, err error) {
	current := tip
	for {
		v, getErr := store.GetVertex(current)
		if getErr != nil {
			return ids.ID{}, false, getErr
		}
		if v.Hash != v.ComputeHash() {
			return v.Hash, false, nil
		}
		valid, verifyErr := vertex.VerifySignature(v, creatorKey)
		if verifyErr != nil {
			return v.Hash, false, verifyErr
		}
		if !valid {
			return v.Hash, false, nil
		}
		if len(v.Parents) == 0 {
			return ids.ID{}, true, nil
		}
		current = v.Parents[0]
	}
}
