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

	"github.com/0xsoniclabs/busmap/trace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// CallKind IDs of the frame-opening opcodes
const (
	RootKind Kind = iota
	CallKind
	CallCodeKind
	DelegateCallKind
	StaticCallKind
	CreateKind
	Create2Kind
)

// Kind classifies how a call frame was opened.
type Kind byte

var kindDict = map[Kind]string{
	RootKind:         "Root",
	CallKind:         "Call",
	CallCodeKind:     "CallCode",
	DelegateCallKind: "DelegateCall",
	StaticCallKind:   "StaticCall",
	CreateKind:       "Create",
	Create2Kind:      "Create2",
}

func (k Kind) String() string {
	label, ok := kindDict[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
	return label
}

func kindOf(op vm.OpCode) Kind {
	switch op {
	case vm.CALL:
		return CallKind
	case vm.CALLCODE:
		return CallCodeKind
	case vm.DELEGATECALL:
		return DelegateCallKind
	case vm.STATICCALL:
		return StaticCallKind
	case vm.CREATE:
		return CreateKind
	case vm.CREATE2:
		return Create2Kind
	}
	return RootKind
}

// Call is one frame of the transaction's call tree. ParentID is a weak back
// reference (0 for the root); the tree itself lives in the transaction's
// call arena, root first.
type Call struct {
	ID       uint64
	ParentID uint64
	Kind     Kind

	// Caller is the frame's msg.sender. DelegateCall inherits it from the
	// parent frame unchanged.
	Caller common.Address

	// Callee is the account providing the executed code; for creation
	// frames it is the created account, derived by the builder.
	Callee common.Address

	// Address is the account the frame executes as: storage, balance and
	// log attribution all use it. It equals Callee except for CallCode and
	// DelegateCall, which run foreign code against the invoking account.
	Address common.Address

	Value    uint256.Int
	Success  bool
	Reverted bool

	// Persistent is true when this call and all its ancestors succeed, i.e.
	// its writes survive into the post-transaction state.
	Persistent bool
}

// StorageAddress returns the account whose storage the call reads and
// writes.
func (c *Call) StorageAddress() common.Address {
	return c.Address
}

// buildCallTree derives the call tree of a transaction trace and stamps each
// step with the ID of the call it executes in. Calls are created on entry
// opcodes and finalized on exit opcodes, exactly bracketing their steps.
func buildCallTree(tx *trace.TxTrace, steps []*trace.ExecStep) ([]*Call, error) {
	root := &Call{
		ID:     1,
		Kind:   RootKind,
		Caller: tx.From,
		Value:  uint256.Int(tx.Value),
	}
	if tx.To != nil {
		root.Callee = *tx.To
	} else {
		root.Callee = crypto.CreateAddress(tx.From, tx.Nonce)
	}
	root.Address = root.Callee

	calls := []*Call{root}
	open := []*Call{root} // frame stack, innermost last
	nextID := uint64(2)

	for i, step := range steps {
		current := open[len(open)-1]
		step.CallID = current.ID

		var next *trace.ExecStep
		if i+1 < len(steps) {
			next = steps[i+1]
		}

		switch {
		case next != nil && next.Depth == step.Depth+1:
			child := &Call{
				ID:       nextID,
				ParentID: current.ID,
				Kind:     kindOf(step.Op),
			}
			switch step.Op {
			case vm.CALL, vm.STATICCALL:
				addr := step.StackBack(1)
				child.Caller = current.Address
				child.Callee = common.Address(addr.Bytes20())
				child.Address = child.Callee
				if step.Op == vm.CALL {
					child.Value = step.StackBack(2)
				}
			case vm.CALLCODE:
				addr := step.StackBack(1)
				child.Caller = current.Address
				child.Callee = common.Address(addr.Bytes20())
				child.Address = current.Address
				child.Value = step.StackBack(2)
			case vm.DELEGATECALL:
				// msg.sender and the executing account pass through unchanged
				addr := step.StackBack(1)
				child.Caller = current.Caller
				child.Callee = common.Address(addr.Bytes20())
				child.Address = current.Address
				child.Value = current.Value
			case vm.CREATE, vm.CREATE2:
				// Callee and Address are filled by the builder, which knows
				// the creator's nonce and the init code
				child.Caller = current.Address
				child.Value = step.StackBack(0)
			}
			nextID++
			calls = append(calls, child)
			open = append(open, child)

		case next == nil || next.Depth == step.Depth-1:
			current.Success = step.Err == "" && step.Op != vm.REVERT
			current.Reverted = !current.Success
			open = open[:len(open)-1]
		}
	}

	if len(open) != 0 {
		return nil, &trace.TraceInconsistencyError{
			Step: len(steps) - 1, Op: steps[len(steps)-1].Op,
			Detail: fmt.Sprintf("%d call frames left open at end of trace", len(open)),
		}
	}

	// a frame's writes persist only if the whole ancestor chain succeeds
	root.Persistent = root.Success && !tx.Failed
	byID := map[uint64]*Call{root.ID: root}
	for _, call := range calls[1:] {
		byID[call.ID] = call
		call.Persistent = call.Success && byID[call.ParentID].Persistent
	}

	return calls, nil
}
