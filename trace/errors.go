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

package trace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// TraceMalformedError reports a structurally invalid input trace.
type TraceMalformedError struct {
	Detail string
}

func (e *TraceMalformedError) Error() string {
	return fmt.Sprintf("trace malformed: %s", e.Detail)
}

// UnsupportedOpcodeError reports a trace step whose opcode is outside the
// supported set.
type UnsupportedOpcodeError struct {
	Step int
	Name string
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported opcode %q at step %d", e.Name, e.Step)
}

// TraceInconsistencyError reports a step whose stack, memory or depth
// contradicts the declared effect of its opcode. It always indicates a
// defect in the tracer, never a recoverable condition.
type TraceInconsistencyError struct {
	Step   int
	Op     vm.OpCode
	Detail string
}

func (e *TraceInconsistencyError) Error() string {
	return fmt.Sprintf("trace inconsistency at step %d (%s): %s", e.Step, e.Op, e.Detail)
}
