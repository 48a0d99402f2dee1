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
	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/trace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// stepFunc emits the operations of one executed step. The per-opcode
// sub-operation order is fixed; it must match the gate definitions of the
// target circuit backend and must never be reordered silently.
type stepFunc func(b *Builder, step, next *trace.ExecStep) error

// stepFuncs is the closed dispatch table over the supported opcode set.
var stepFuncs = buildStepFuncs()

func buildStepFuncs() map[vm.OpCode]stepFunc {
	funcs := map[vm.OpCode]stepFunc{
		vm.STOP:     opNoop,
		vm.JUMPDEST: opNoop,

		vm.POP:   makeStackFunc(1, false),
		vm.JUMP:  makeStackFunc(1, false),
		vm.JUMPI: makeStackFunc(2, false),

		vm.PC:             makeStackFunc(0, true),
		vm.GAS:            makeStackFunc(0, true),
		vm.MSIZE:          makeStackFunc(0, true),
		vm.CALLDATASIZE:   makeStackFunc(0, true),
		vm.CODESIZE:       makeStackFunc(0, true),
		vm.RETURNDATASIZE: makeStackFunc(0, true),
		vm.CALLDATALOAD:   makeStackFunc(1, true),

		vm.ADDRESS:   makeContextRead(operation.CtxCalleeAddress),
		vm.CALLER:    makeContextRead(operation.CtxCallerAddress),
		vm.CALLVALUE: makeContextRead(operation.CtxValue),
		vm.ORIGIN:    makeRootContextRead(operation.CtxTxOrigin),
		vm.GASPRICE:  makeRootContextRead(operation.CtxTxGasPrice),

		vm.KECCAK256: opKeccak,

		vm.MLOAD:   opMload,
		vm.MSTORE:  opMstore,
		vm.MSTORE8: opMstore8,

		vm.CALLDATACOPY: opMemoryCopy,
		vm.CODECOPY:     opMemoryCopy,

		vm.SLOAD:  opSload,
		vm.SSTORE: opSstore,

		vm.CALL:         opCall,
		vm.CALLCODE:     opCall,
		vm.DELEGATECALL: opCall,
		vm.STATICCALL:   opCall,
		vm.CREATE:       opCreate,
		vm.CREATE2:      opCreate,

		vm.RETURN: makeStackFunc(2, false),
		vm.REVERT: makeStackFunc(2, false),
	}

	for _, op := range []vm.OpCode{
		vm.ADD, vm.MUL, vm.SUB, vm.DIV, vm.SDIV, vm.MOD, vm.SMOD, vm.EXP,
		vm.SIGNEXTEND, vm.LT, vm.GT, vm.SLT, vm.SGT, vm.EQ, vm.AND, vm.OR,
		vm.XOR, vm.BYTE, vm.SHL, vm.SHR, vm.SAR,
	} {
		funcs[op] = makeStackFunc(2, true)
	}
	funcs[vm.ISZERO] = makeStackFunc(1, true)
	funcs[vm.NOT] = makeStackFunc(1, true)
	funcs[vm.ADDMOD] = makeStackFunc(3, true)
	funcs[vm.MULMOD] = makeStackFunc(3, true)

	funcs[vm.PUSH0] = makeStackFunc(0, true)
	for op := vm.PUSH1; op <= vm.PUSH32; op++ {
		funcs[op] = makeStackFunc(0, true)
	}
	for i, op := 1, vm.DUP1; op <= vm.DUP16; i, op = i+1, op+1 {
		funcs[op] = makeDupFunc(i)
	}
	for i, op := 1, vm.SWAP1; op <= vm.SWAP16; i, op = i+1, op+1 {
		funcs[op] = makeSwapFunc(i)
	}
	for i, op := 0, vm.LOG0; op <= vm.LOG4; i, op = i+1, op+1 {
		funcs[op] = makeLogFunc(i)
	}

	return funcs
}

func opNoop(*Builder, *trace.ExecStep, *trace.ExecStep) error {
	return nil
}

// makeStackFunc emits the generic pop/push pattern shared by most opcodes:
// the popped operands are read top first, then the single result (taken from
// the successor's stack top) is written to the new top slot.
func makeStackFunc(pops int, pushes bool) stepFunc {
	return func(b *Builder, step, next *trace.ExecStep) error {
		callID := b.currentCall().ID
		top := step.StackLen() - 1
		for i := 0; i < pops; i++ {
			key := operation.StackKey(callID, uint64(top-i))
			if err := b.emitCheckedRead(operation.StackID, key, step.StackBack(i)); err != nil {
				return err
			}
		}
		if pushes {
			key := operation.StackKey(callID, uint64(step.StackLen()-pops))
			return b.emitWrite(operation.StackID, key, next.StackBack(0))
		}
		return nil
	}
}

// makeDupFunc duplicates the n-th entry from the top onto a new top slot.
func makeDupFunc(n int) stepFunc {
	return func(b *Builder, step, next *trace.ExecStep) error {
		callID := b.currentCall().ID
		src := operation.StackKey(callID, uint64(step.StackLen()-n))
		if err := b.emitCheckedRead(operation.StackID, src, step.StackBack(n-1)); err != nil {
			return err
		}
		dst := operation.StackKey(callID, uint64(step.StackLen()))
		return b.emitWrite(operation.StackID, dst, step.StackBack(n-1))
	}
}

// makeSwapFunc swaps the top with the n-th entry below it: two reads, two
// writes.
func makeSwapFunc(n int) stepFunc {
	return func(b *Builder, step, next *trace.ExecStep) error {
		callID := b.currentCall().ID
		topSlot := uint64(step.StackLen() - 1)
		lowSlot := uint64(step.StackLen() - 1 - n)
		topKey := operation.StackKey(callID, topSlot)
		lowKey := operation.StackKey(callID, lowSlot)

		if err := b.emitCheckedRead(operation.StackID, topKey, step.StackBack(0)); err != nil {
			return err
		}
		if err := b.emitCheckedRead(operation.StackID, lowKey, step.StackBack(n)); err != nil {
			return err
		}
		if err := b.emitWrite(operation.StackID, topKey, step.StackBack(n)); err != nil {
			return err
		}
		return b.emitWrite(operation.StackID, lowKey, step.StackBack(0))
	}
}

// makeContextRead reads a field of the current call's context and pushes it.
func makeContextRead(field uint8) stepFunc {
	return func(b *Builder, step, next *trace.ExecStep) error {
		key := operation.CallContextKey(b.currentCall().ID, field)
		if _, err := b.emitRead(operation.CallContextID, key); err != nil {
			return err
		}
		dst := operation.StackKey(b.currentCall().ID, uint64(step.StackLen()))
		return b.emitWrite(operation.StackID, dst, next.StackBack(0))
	}
}

// makeRootContextRead reads a transaction-scoped field, which lives on the
// root call's context regardless of the current frame.
func makeRootContextRead(field uint8) stepFunc {
	return func(b *Builder, step, next *trace.ExecStep) error {
		key := operation.CallContextKey(b.calls[0].ID, field)
		if _, err := b.emitRead(operation.CallContextID, key); err != nil {
			return err
		}
		dst := operation.StackKey(b.currentCall().ID, uint64(step.StackLen()))
		return b.emitWrite(operation.StackID, dst, next.StackBack(0))
	}
}

// memoryByte reads a byte from the step's memory snapshot; bytes past the
// snapshot are the canonical zero.
func memoryByte(step *trace.ExecStep, addr uint64) byte {
	if addr < uint64(len(step.Memory)) {
		return step.Memory[addr]
	}
	return 0
}

func stackOffset(b *Builder, step *trace.ExecStep, n int) (uint64, error) {
	v := step.StackBack(n)
	if !v.IsUint64() {
		return 0, &StateInconsistencyError{
			Step:   b.stepIdx,
			Op:     b.curOp,
			Target: operation.MemoryID,
			Key:    operation.MemoryKey(b.currentCall().ID, 0),
			Got:    v,
		}
	}
	return v.Uint64(), nil
}

func opMload(b *Builder, step, next *trace.ExecStep) error {
	callID := b.currentCall().ID
	top := uint64(step.StackLen() - 1)
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top), step.StackBack(0)); err != nil {
		return err
	}
	offset, err := stackOffset(b, step, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < 32; i++ {
		key := operation.MemoryKey(callID, offset+i)
		claimed := *uint256.NewInt(uint64(memoryByte(step, offset+i)))
		if err := b.emitCheckedRead(operation.MemoryID, key, claimed); err != nil {
			return err
		}
	}
	return b.emitWrite(operation.StackID, operation.StackKey(callID, top), next.StackBack(0))
}

func opMstore(b *Builder, step, next *trace.ExecStep) error {
	callID := b.currentCall().ID
	top := uint64(step.StackLen() - 1)
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top), step.StackBack(0)); err != nil {
		return err
	}
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top-1), step.StackBack(1)); err != nil {
		return err
	}
	offset, err := stackOffset(b, step, 0)
	if err != nil {
		return err
	}
	value := step.StackBack(1)
	word := value.Bytes32()
	for i := uint64(0); i < 32; i++ {
		key := operation.MemoryKey(callID, offset+i)
		if err := b.emitWrite(operation.MemoryID, key, *uint256.NewInt(uint64(word[i]))); err != nil {
			return err
		}
	}
	return nil
}

func opMstore8(b *Builder, step, next *trace.ExecStep) error {
	callID := b.currentCall().ID
	top := uint64(step.StackLen() - 1)
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top), step.StackBack(0)); err != nil {
		return err
	}
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top-1), step.StackBack(1)); err != nil {
		return err
	}
	offset, err := stackOffset(b, step, 0)
	if err != nil {
		return err
	}
	value := step.StackBack(1)
	key := operation.MemoryKey(callID, offset)
	return b.emitWrite(operation.MemoryID, key, *uint256.NewInt(uint64(value.Bytes32()[31])))
}

// opMemoryCopy covers CALLDATACOPY and CODECOPY: three stack reads, then one
// memory write per copied byte, taking the written bytes from the successor
// snapshot since the copy source is outside the RW table.
func opMemoryCopy(b *Builder, step, next *trace.ExecStep) error {
	callID := b.currentCall().ID
	top := step.StackLen() - 1
	for i := 0; i < 3; i++ {
		key := operation.StackKey(callID, uint64(top-i))
		if err := b.emitCheckedRead(operation.StackID, key, step.StackBack(i)); err != nil {
			return err
		}
	}
	offset, err := stackOffset(b, step, 0)
	if err != nil {
		return err
	}
	length, err := stackOffset(b, step, 2)
	if err != nil {
		return err
	}
	for i := uint64(0); i < length; i++ {
		key := operation.MemoryKey(callID, offset+i)
		var value byte
		if next != nil {
			value = memoryByte(next, offset+i)
		}
		if err := b.emitWrite(operation.MemoryID, key, *uint256.NewInt(uint64(value))); err != nil {
			return err
		}
	}
	return nil
}

func opKeccak(b *Builder, step, next *trace.ExecStep) error {
	callID := b.currentCall().ID
	top := uint64(step.StackLen() - 1)
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top), step.StackBack(0)); err != nil {
		return err
	}
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(callID, top-1), step.StackBack(1)); err != nil {
		return err
	}
	offset, err := stackOffset(b, step, 0)
	if err != nil {
		return err
	}
	length, err := stackOffset(b, step, 1)
	if err != nil {
		return err
	}
	for i := uint64(0); i < length; i++ {
		key := operation.MemoryKey(callID, offset+i)
		claimed := *uint256.NewInt(uint64(memoryByte(step, offset+i)))
		if err := b.emitCheckedRead(operation.MemoryID, key, claimed); err != nil {
			return err
		}
	}
	return b.emitWrite(operation.StackID, operation.StackKey(callID, top-1), next.StackBack(0))
}

// opSload emits the pinned sub-operation order of SLOAD: stack read (slot),
// access-list warm write, storage read, stack write. It must match the
// backend's SLOAD gate and must never be reordered.
func opSload(b *Builder, step, next *trace.ExecStep) error {
	call := b.currentCall()
	top := uint64(step.StackLen() - 1)
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(call.ID, top), step.StackBack(0)); err != nil {
		return err
	}

	slotValue := step.StackBack(0)
	slot := common.Hash(slotValue.Bytes32())
	addr := call.StorageAddress()

	warmKey := operation.AccessListSlotKey(b.txID, addr, slot)
	if err := b.emitWrite(operation.TxAccessListAccountStorageID, warmKey, boolValue(true)); err != nil {
		return err
	}

	storageKey := operation.StorageKey(addr, slot)
	if err := b.emitCheckedRead(operation.StorageID, storageKey, next.StackBack(0)); err != nil {
		return err
	}

	return b.emitWrite(operation.StackID, operation.StackKey(call.ID, top), next.StackBack(0))
}

// opSstore emits the pinned SSTORE order: stack read (slot), stack read
// (value), access-list warm write, storage read, committed-value read,
// storage write, refund read/write. Pinned against the backend's SSTORE gate.
func opSstore(b *Builder, step, next *trace.ExecStep) error {
	call := b.currentCall()
	top := uint64(step.StackLen() - 1)
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(call.ID, top), step.StackBack(0)); err != nil {
		return err
	}
	if err := b.emitCheckedRead(operation.StackID, operation.StackKey(call.ID, top-1), step.StackBack(1)); err != nil {
		return err
	}

	slotValue := step.StackBack(0)
	newValue := step.StackBack(1)
	slot := common.Hash(slotValue.Bytes32())
	addr := call.StorageAddress()

	warmKey := operation.AccessListSlotKey(b.txID, addr, slot)
	if err := b.emitWrite(operation.TxAccessListAccountStorageID, warmKey, boolValue(true)); err != nil {
		return err
	}

	storageKey := operation.StorageKey(addr, slot)
	current, err := b.emitRead(operation.StorageID, storageKey)
	if err != nil {
		return err
	}
	if _, err := b.emitRead(operation.AccountStorageID, storageKey); err != nil {
		return err
	}
	if err := b.emitWrite(operation.StorageID, storageKey, newValue); err != nil {
		return err
	}

	refundKey := operation.RefundKey(b.txID)
	refund, err := b.emitRead(operation.TxRefundID, refundKey)
	if err != nil {
		return err
	}
	if newValue.IsZero() && !current.IsZero() {
		newRefund := new(uint256.Int).AddUint64(&refund, sstoreClearRefund)
		return b.emitWrite(operation.TxRefundID, refundKey, *newRefund)
	}
	return nil
}

// opCall emits the call-site operations: operand stack reads (top first) and
// the callee access-list warm write. The context seeds, value transfer and
// result write are emitted around the frame transition. Pinned against the
// backend's call gates.
func opCall(b *Builder, step, next *trace.ExecStep) error {
	call := b.currentCall()
	spec, _ := trace.Spec(step.Op)
	top := step.StackLen() - 1
	for i := 0; i < spec.Pops; i++ {
		key := operation.StackKey(call.ID, uint64(top-i))
		if err := b.emitCheckedRead(operation.StackID, key, step.StackBack(i)); err != nil {
			return err
		}
	}

	calleeValue := step.StackBack(1)
	callee := common.Address(calleeValue.Bytes20())
	warmKey := operation.AccessListAccountKey(b.txID, callee)
	if err := b.emitWrite(operation.TxAccessListAccountID, warmKey, boolValue(true)); err != nil {
		return err
	}

	// a call that opens no frame (account without code, failed setup)
	// settles within this step: transfer and result happen right here
	descends := next != nil && next.Depth == step.Depth+1
	if !descends {
		if step.Op == vm.CALL || step.Op == vm.CALLCODE {
			value := step.StackBack(2)
			if !value.IsZero() {
				if err := b.transferValue(call.StorageAddress(), callee, value); err != nil {
					return err
				}
			}
		}
		if next != nil {
			result := operation.StackKey(call.ID, uint64(step.StackLen()-spec.Pops))
			return b.emitWrite(operation.StackID, result, next.StackBack(0))
		}
	}
	return nil
}

func opCreate(b *Builder, step, next *trace.ExecStep) error {
	call := b.currentCall()
	spec, _ := trace.Spec(step.Op)
	top := step.StackLen() - 1
	for i := 0; i < spec.Pops; i++ {
		key := operation.StackKey(call.ID, uint64(top-i))
		if err := b.emitCheckedRead(operation.StackID, key, step.StackBack(i)); err != nil {
			return err
		}
	}

	descends := next != nil && next.Depth == step.Depth+1
	if !descends && next != nil {
		result := operation.StackKey(call.ID, uint64(step.StackLen()-spec.Pops))
		return b.emitWrite(operation.StackID, result, next.StackBack(0))
	}
	return nil
}

// makeLogFunc emits one LOG opcode: stack reads, the log's address and
// topics, then one memory read plus one log-data write per payload byte.
func makeLogFunc(topics int) stepFunc {
	return func(b *Builder, step, next *trace.ExecStep) error {
		call := b.currentCall()
		top := step.StackLen() - 1
		for i := 0; i < 2+topics; i++ {
			key := operation.StackKey(call.ID, uint64(top-i))
			if err := b.emitCheckedRead(operation.StackID, key, step.StackBack(i)); err != nil {
				return err
			}
		}

		b.logSeq++
		logID := b.logSeq
		if call.Persistent {
			b.logCount++
		}

		addrKey := operation.LogKey(b.txID, logID, operation.LogAddress, 0)
		if err := b.emitWrite(operation.TxLogID, addrKey, addressValue(call.StorageAddress())); err != nil {
			return err
		}
		for i := 0; i < topics; i++ {
			topicKey := operation.LogKey(b.txID, logID, operation.LogTopic, uint64(i))
			if err := b.emitWrite(operation.TxLogID, topicKey, step.StackBack(2+i)); err != nil {
				return err
			}
		}

		offset, err := stackOffset(b, step, 0)
		if err != nil {
			return err
		}
		length, err := stackOffset(b, step, 1)
		if err != nil {
			return err
		}
		for i := uint64(0); i < length; i++ {
			memKey := operation.MemoryKey(call.ID, offset+i)
			claimed := *uint256.NewInt(uint64(memoryByte(step, offset+i)))
			if err := b.emitCheckedRead(operation.MemoryID, memKey, claimed); err != nil {
				return err
			}
			dataKey := operation.LogKey(b.txID, logID, operation.LogData, i)
			if err := b.emitWrite(operation.TxLogID, dataKey, claimed); err != nil {
				return err
			}
		}
		return nil
	}
}
