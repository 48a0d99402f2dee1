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
	"math"

	"github.com/holiman/uint256"
)

// maxStackDepth is the EVM stack limit.
const maxStackDepth = 1024

// Ingest normalizes the raw step records of one transaction trace into
// ExecSteps, resolving opcode metadata and validating each step against its
// opcode's declared effect. The returned steps are an immutable input to the
// witness builder; any validation failure discards the whole transaction.
func Ingest(tx *TxTrace) ([]*ExecStep, error) {
	if tx == nil {
		return nil, &TraceMalformedError{Detail: "nil transaction trace"}
	}
	if len(tx.StructLogs) == 0 {
		return nil, &TraceMalformedError{Detail: "transaction trace has no steps"}
	}
	if tx.StructLogs[0].Depth != 1 {
		return nil, &TraceMalformedError{Detail: fmt.Sprintf("trace starts at depth %d, want 1", tx.StructLogs[0].Depth)}
	}

	steps := make([]*ExecStep, 0, len(tx.StructLogs))
	for i := range tx.StructLogs {
		step, err := normalizeStep(i, &tx.StructLogs[i])
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	for i, step := range steps {
		var next *ExecStep
		if i+1 < len(steps) {
			next = steps[i+1]
		}
		if err := validateStep(i, step, next); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

func normalizeStep(idx int, raw *StructLog) (*ExecStep, error) {
	op, ok := ParseOpcode(raw.Op)
	if !ok {
		return nil, &UnsupportedOpcodeError{Step: idx, Name: raw.Op}
	}
	if len(raw.Memory)%32 != 0 {
		return nil, &TraceMalformedError{
			Detail: fmt.Sprintf("step %d: memory snapshot of %d bytes is not word aligned", idx, len(raw.Memory)),
		}
	}

	stack := make([]uint256.Int, len(raw.Stack))
	for i := range raw.Stack {
		stack[i] = uint256.Int(raw.Stack[i])
	}

	return &ExecStep{
		PC:      raw.PC,
		Op:      op,
		Gas:     raw.Gas,
		GasCost: raw.GasCost,
		Depth:   raw.Depth,
		Err:     raw.Error,
		Stack:   stack,
		Memory:  raw.Memory,
		Storage: raw.Storage,
		Refund:  raw.Refund,
	}, nil
}

// validateStep checks one step against the static effect of its opcode and
// against its successor.
func validateStep(idx int, step, next *ExecStep) error {
	spec, ok := Spec(step.Op)
	if !ok {
		return &UnsupportedOpcodeError{Step: idx, Name: step.Op.String()}
	}

	if step.StackLen() < spec.Pops {
		return &TraceInconsistencyError{
			Step: idx, Op: step.Op,
			Detail: fmt.Sprintf("stack has %d entries, opcode pops %d", step.StackLen(), spec.Pops),
		}
	}
	if step.StackLen()-spec.Pops+spec.Pushes > maxStackDepth {
		return &TraceInconsistencyError{
			Step: idx, Op: step.Op,
			Detail: fmt.Sprintf("stack would grow past %d entries", maxStackDepth),
		}
	}

	if next == nil {
		if !IsExit(step.Op) && step.Err == "" {
			return &TraceInconsistencyError{
				Step: idx, Op: step.Op,
				Detail: "trace ends without STOP, RETURN, REVERT or an error",
			}
		}
		return nil
	}

	switch diff := next.Depth - step.Depth; {
	case diff == 1:
		if !IsCallFamily(step.Op) {
			return &TraceInconsistencyError{
				Step: idx, Op: step.Op,
				Detail: "depth increases without a call-family opcode",
			}
		}
	case diff == -1:
		if !IsExit(step.Op) && step.Err == "" {
			return &TraceInconsistencyError{
				Step: idx, Op: step.Op,
				Detail: "depth decreases without an exit opcode or error",
			}
		}
	case diff == 0:
		// successor at the same depth must reflect the declared stack effect,
		// except when the step itself failed; this covers call-family opcodes
		// that settle without descending, whose result must still be present
		if step.Err == "" {
			want := step.StackLen() - spec.Pops + spec.Pushes
			if next.StackLen() != want {
				return &TraceInconsistencyError{
					Step: idx, Op: step.Op,
					Detail: fmt.Sprintf("successor stack has %d entries, opcode effect yields %d", next.StackLen(), want),
				}
			}
			if err := validateMemoryGrowth(idx, step, next, spec.Memory); err != nil {
				return err
			}
		}
	default:
		return &TraceInconsistencyError{
			Step: idx, Op: step.Op,
			Detail: fmt.Sprintf("depth jumps from %d to %d", step.Depth, next.Depth),
		}
	}
	return nil
}

// validateMemoryGrowth checks the successor's memory snapshot against the
// range the opcode's memory rule declares: the snapshot must cover the
// touched range, rounded up to full words.
func validateMemoryGrowth(idx int, step, next *ExecStep, rule MemRule) error {
	var offset, size uint256.Int
	switch rule {
	case MemNone:
		return nil
	case MemReadWord, MemWriteWord:
		offset = step.StackBack(0)
		size = *uint256.NewInt(32)
	case MemWriteByte:
		offset = step.StackBack(0)
		size = *uint256.NewInt(1)
	case MemReadRange:
		offset = step.StackBack(0)
		size = step.StackBack(1)
	case MemWriteRange:
		offset = step.StackBack(0)
		size = step.StackBack(2)
	case MemInitCode:
		offset = step.StackBack(1)
		size = step.StackBack(2)
	}
	if size.IsZero() {
		return nil
	}
	if !offset.IsUint64() || !size.IsUint64() {
		return &TraceInconsistencyError{
			Step: idx, Op: step.Op,
			Detail: "memory operand exceeds the addressable range",
		}
	}
	end := offset.Uint64() + size.Uint64()
	if end < offset.Uint64() || end > math.MaxUint64-31 {
		return &TraceInconsistencyError{
			Step: idx, Op: step.Op,
			Detail: "memory operand exceeds the addressable range",
		}
	}
	need := (end + 31) &^ 31
	if uint64(len(next.Memory)) < need {
		return &TraceInconsistencyError{
			Step: idx, Op: step.Op,
			Detail: fmt.Sprintf("successor memory has %d bytes, opcode touches %d", len(next.Memory), need),
		}
	}
	return nil
}
