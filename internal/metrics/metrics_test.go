// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.DecisionsTotal.WithLabelValues("true").Inc()
	m.DecisionLatency.Observe(0.001)
	m.DecisionCacheHits.Inc()
	m.BFTCurrentView.Set(3)
	m.QueriesInFlight.Set(1)
	m.VerticesFinalized.Inc()
	m.ByzantineBans.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewFailsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err, "registering the same collectors against reg twice must fail, not silently succeed")
}
