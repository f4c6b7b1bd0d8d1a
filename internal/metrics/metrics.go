// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics registers counters and histograms for the decision
// engine, BFT phase engine, and query handler with a pull-based metrics
// scraper. Those components do not take a Registry or update its
// collectors; only cmd/sentinel constructs one. The registration follows
// the same prometheus.Registerer-wrapping shape
// api/metrics/metrics.go uses for its Prisms/Successful/Failed counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quorumdag"

// Registry is the process-wide metrics singleton, constructed once at
// startup rather than read from a package-level global. No component in
// this module is passed a Registry.
type Registry struct {
	reg prometheus.Registerer

	DecisionsTotal     *prometheus.CounterVec
	DecisionLatency    prometheus.Histogram
	DecisionCacheHits  prometheus.Counter
	CircuitOpenTotal   prometheus.Counter

	BFTCommitsTotal    prometheus.Counter
	BFTViewChanges     prometheus.Counter
	BFTCurrentView     prometheus.Gauge

	QueriesInFlight    prometheus.Gauge
	QueryTimeouts      prometheus.Counter

	VerticesFinalized  prometheus.Counter
	VerticesRejected   prometheus.Counter

	ByzantineBans      prometheus.Counter
}

// New constructs a Registry and registers every collector against reg.
// Registration failures (e.g. a duplicate collector) are returned rather
// than panicking, so callers can decide whether a re-registration in
// tests is fatal.
func New(reg prometheus.Registerer) (*Registry, error) {
	m := &Registry{
		reg: reg,
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Authorization decisions by allowed/denied outcome.",
		}, []string{"allowed"}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_latency_seconds",
			Help:      "End-to-end decision pipeline latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		DecisionCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_cache_hits_total",
			Help:      "Decisions served from the L1/L2 cache.",
		}),
		CircuitOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_total",
			Help:      "Times the decision engine's circuit breaker opened.",
		}),
		BFTCommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bft_commits_total",
			Help:      "Sequences committed by the BFT phase engine.",
		}),
		BFTViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bft_view_changes_total",
			Help:      "View changes triggered by leader silence or equivocation.",
		}),
		BFTCurrentView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bft_current_view",
			Help:      "Current BFT view number.",
		}),
		QueriesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queries_in_flight",
			Help:      "Concurrent Avalanche-style sample queries in flight.",
		}),
		QueryTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_timeouts_total",
			Help:      "Sample queries that completed via timeout.",
		}),
		VerticesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertices_finalized_total",
			Help:      "Vertices finalized by confidence or BFT commit.",
		}),
		VerticesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertices_rejected_total",
			Help:      "Vertices permanently rejected as conflict losers.",
		}),
		ByzantineBans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "byzantine_bans_total",
			Help:      "Peers banned for reputation below threshold.",
		}),
	}

	collectors := []prometheus.Collector{
		m.DecisionsTotal, m.DecisionLatency, m.DecisionCacheHits, m.CircuitOpenTotal,
		m.BFTCommitsTotal, m.BFTViewChanges, m.BFTCurrentView,
		m.QueriesInFlight, m.QueryTimeouts,
		m.VerticesFinalized, m.VerticesRejected,
		m.ByzantineBans,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
