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

package witness

import (
	"fmt"

	"github.com/0xsoniclabs/busmap/operation"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// ErrCounterOverflow is returned when a build would exceed the representable
// RW counter range.
var ErrCounterOverflow = errors.New("rw counter overflow")

// StateInconsistencyError reports a read whose trace-claimed value disagrees
// with the tracker's current value. This is always a tracer or ingestion
// defect; the build is discarded and never retried.
type StateInconsistencyError struct {
	Step   int
	Op     vm.OpCode
	Target operation.Target
	Key    operation.Key
	Want   uint256.Int // tracker's current value
	Got    uint256.Int // value the trace claims
}

func (e *StateInconsistencyError) Error() string {
	return fmt.Sprintf("state inconsistency at step %d (%s): %s %s tracked %s, trace claims %s",
		e.Step, e.Op, e.Target, e.Key.String(e.Target), e.Want.Hex(), e.Got.Hex())
}

// ReversionReplayError reports that a compensating write found a value it
// cannot restore from, meaning the frame's undo journal is out of sync with
// the tracker.
type ReversionReplayError struct {
	CallID uint64
	Target operation.Target
	Key    operation.Key
	Want   uint256.Int // value the original write left behind
	Got    uint256.Int // tracker's value at replay time
}

func (e *ReversionReplayError) Error() string {
	return fmt.Sprintf("reversion replay failed for call %d: %s %s holds %s, journal expects %s",
		e.CallID, e.Target, e.Key.String(e.Target), e.Got.Hex(), e.Want.Hex())
}

// PanicError wraps a panic recovered on a block-build worker together with
// the stack trace of the worker goroutine.
type PanicError struct {
	message string
	stack   []byte
}

func NewPanicError(message string, stack []byte) *PanicError {
	return &PanicError{
		message: message,
		stack:   stack,
	}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("PanicError: %s\nStack Trace:\n%s", e.message, string(e.stack))
}
