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

package tracker

import (
	"slices"

	"github.com/0xsoniclabs/busmap/operation"
	"github.com/holiman/uint256"
)

//go:generate mockgen -source tracker.go -destination tracker_mock.go -package tracker

// Tracker answers "current value" queries for every state target during one
// witness build. It is exclusively owned by the in-flight build; it must
// never be shared across concurrent builds.
type Tracker interface {
	// Read returns the current value of (target, key). An untouched key
	// yields the canonical zero value without mutating the tracker.
	Read(target operation.Target, key operation.Key) uint256.Int

	// Write sets (target, key) to value and returns the previous value
	// (zero for an untouched key).
	Write(target operation.Target, key operation.Key, value uint256.Int) uint256.Int

	// Prime seeds (target, key) with a pre-state value before the build
	// starts. Priming an already-touched key overwrites it.
	Prime(target operation.Target, key operation.Key, value uint256.Int)

	// Has reports whether (target, key) has been primed or written.
	Has(target operation.Target, key operation.Key) bool

	// Initial returns the value (target, key) had before the first write of
	// this build; zero unless the key was primed.
	Initial(target operation.Target, key operation.Key) uint256.Int

	// Touched lists all keys of a target that were primed or written,
	// ordered by the per-target key order.
	Touched(target operation.Target) []operation.Key
}

// stateTracker keeps one independent store per target kind.
type stateTracker struct {
	current [operation.NumTargets]map[operation.Key]uint256.Int
	initial [operation.NumTargets]map[operation.Key]uint256.Int
}

// NewTracker creates an empty tracker for a single witness build.
func NewTracker() Tracker {
	t := &stateTracker{}
	for i := range t.current {
		t.current[i] = make(map[operation.Key]uint256.Int)
		t.initial[i] = make(map[operation.Key]uint256.Int)
	}
	return t
}

func (t *stateTracker) Read(target operation.Target, key operation.Key) uint256.Int {
	return t.current[target][key]
}

func (t *stateTracker) Write(target operation.Target, key operation.Key, value uint256.Int) uint256.Int {
	prev, touched := t.current[target][key]
	if !touched {
		// first touch of this key; its pre-build value is the zero default
		t.initial[target][key] = uint256.Int{}
	}
	t.current[target][key] = value
	return prev
}

func (t *stateTracker) Prime(target operation.Target, key operation.Key, value uint256.Int) {
	t.current[target][key] = value
	t.initial[target][key] = value
}

func (t *stateTracker) Has(target operation.Target, key operation.Key) bool {
	_, ok := t.current[target][key]
	return ok
}

func (t *stateTracker) Initial(target operation.Target, key operation.Key) uint256.Int {
	return t.initial[target][key]
}

func (t *stateTracker) Touched(target operation.Target) []operation.Key {
	keys := make([]operation.Key, 0, len(t.current[target]))
	for key := range t.current[target] {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, operation.Key.Compare)
	return keys
}
