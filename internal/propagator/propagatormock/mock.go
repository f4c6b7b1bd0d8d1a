// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package propagatormock provides a gomock-generated-style mock of
// propagator.Broadcaster, following the same mockgen output shape the
// teacher uses for validator/validatorsmock (go.uber.org/mock/gomock
// controller + recorder pair) rather than a hand-written fake, for tests
// that need call-count/argument expectations instead of a spy struct.
package propagatormock

import (
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/luxfi/ids"

	"github.com/quorumdag/core/internal/propagator"
	"github.com/quorumdag/core/internal/vertex"
)

// Broadcaster is a mock of propagator.Broadcaster.
type Broadcaster struct {
	ctrl     *gomock.Controller
	recorder *BroadcasterMockRecorder
}

// BroadcasterMockRecorder is the recorder for Broadcaster.
type BroadcasterMockRecorder struct {
	mock *Broadcaster
}

// NewBroadcaster returns a new mock Broadcaster.
func NewBroadcaster(ctrl *gomock.Controller) *Broadcaster {
	m := &Broadcaster{ctrl: ctrl}
	m.recorder = &BroadcasterMockRecorder{m}
	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *Broadcaster) EXPECT() *BroadcasterMockRecorder {
	return m.recorder
}

// Broadcast mocks propagator.Broadcaster.Broadcast.
func (m *Broadcaster) Broadcast(v *vertex.Vertex, exclude ids.NodeID) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Broadcast", v, exclude)
	ret0, _ := ret[0].(error)
	return ret0
}

// Broadcast indicates an expected call of Broadcast.
func (mr *BroadcasterMockRecorder) Broadcast(v, exclude interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Broadcast", reflect.TypeOf((*Broadcaster)(nil).Broadcast), v, exclude)
}

var _ propagator.Broadcaster = (*Broadcaster)(nil)
