// Copyright 2025 Sonic Labs
// This file is part of Busmap, witness-generation infrastructure for Sonic
//
// Busmap is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Busmap is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Busmap. If not, see <http://www.gnu.org/licenses/>.

// Package tracker is a generated GoMock package.
package tracker

import (
	reflect "reflect"

	operation "github.com/0xsoniclabs/busmap/operation"
	uint256 "github.com/holiman/uint256"
	gomock "go.uber.org/mock/gomock"
)

// MockTracker is a mock of Tracker interface.
type MockTracker struct {
	ctrl     *gomock.Controller
	recorder *MockTrackerMockRecorder
	isgomock struct{}
}

// MockTrackerMockRecorder is the mock recorder for MockTracker.
type MockTrackerMockRecorder struct {
	mock *MockTracker
}

// NewMockTracker creates a new mock instance.
func NewMockTracker(ctrl *gomock.Controller) *MockTracker {
	mock := &MockTracker{ctrl: ctrl}
	mock.recorder = &MockTrackerMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTracker) EXPECT() *MockTrackerMockRecorder {
	return m.recorder
}

// Has mocks base method.
func (m *MockTracker) Has(target operation.Target, key operation.Key) bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Has", target, key)
	ret0, _ := ret[0].(bool)
	return ret0
}

// Has indicates an expected call of Has.
func (mr *MockTrackerMockRecorder) Has(target, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Has", reflect.TypeOf((*MockTracker)(nil).Has), target, key)
}

// Initial mocks base method.
func (m *MockTracker) Initial(target operation.Target, key operation.Key) uint256.Int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Initial", target, key)
	ret0, _ := ret[0].(uint256.Int)
	return ret0
}

// Initial indicates an expected call of Initial.
func (mr *MockTrackerMockRecorder) Initial(target, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Initial", reflect.TypeOf((*MockTracker)(nil).Initial), target, key)
}

// Prime mocks base method.
func (m *MockTracker) Prime(target operation.Target, key operation.Key, value uint256.Int) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Prime", target, key, value)
}

// Prime indicates an expected call of Prime.
func (mr *MockTrackerMockRecorder) Prime(target, key, value any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Prime", reflect.TypeOf((*MockTracker)(nil).Prime), target, key, value)
}

// Read mocks base method.
func (m *MockTracker) Read(target operation.Target, key operation.Key) uint256.Int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Read", target, key)
	ret0, _ := ret[0].(uint256.Int)
	return ret0
}

// Read indicates an expected call of Read.
func (mr *MockTrackerMockRecorder) Read(target, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Read", reflect.TypeOf((*MockTracker)(nil).Read), target, key)
}

// Touched mocks base method.
func (m *MockTracker) Touched(target operation.Target) []operation.Key {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Touched", target)
	ret0, _ := ret[0].([]operation.Key)
	return ret0
}

// Touched indicates an expected call of Touched.
func (mr *MockTrackerMockRecorder) Touched(target any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Touched", reflect.TypeOf((*MockTracker)(nil).Touched), target)
}

// Write mocks base method.
func (m *MockTracker) Write(target operation.Target, key operation.Key, value uint256.Int) uint256.Int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Write", target, key, value)
	ret0, _ := ret[0].(uint256.Int)
	return ret0
}

// Write indicates an expected call of Write.
func (mr *MockTrackerMockRecorder) Write(target, key, value any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Write", reflect.TypeOf((*MockTracker)(nil).Write), target, key, value)
}
