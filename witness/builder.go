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
	"github.com/0xsoniclabs/busmap/logger"
	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/trace"
	"github.com/0xsoniclabs/busmap/tracker"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// sstoreClearRefund is the EIP-3529 refund for clearing a storage slot.
const sstoreClearRefund = 4800

// Prestate seeds the tracker with the state a transaction starts from.
// Untouched keys keep the canonical zero default.
type Prestate struct {
	Balances map[common.Address]uint256.Int
	Nonces   map[common.Address]uint64
	Storage  map[common.Address]map[common.Hash]common.Hash
}

// frame is one entry of the builder's explicit call stack. It carries the
// undo journal of its call: indices of reversible write operations that must
// be compensated should the call fail.
type frame struct {
	call       *Call
	journal    []int
	resultSlot uint64
	hasResult  bool
}

// Builder folds the steps of one transaction into the counter-stamped
// operation log. It exclusively owns its tracker and counter for the whole
// build; it must not be shared across builds.
type Builder struct {
	log     logger.Logger
	tracker tracker.Tracker

	txID    uint64
	counter operation.RWCounter
	ops     []operation.Operation

	calls      []*Call
	callCursor int
	frames     []*frame

	stepIdx  int
	curOp    vm.OpCode
	logSeq   uint64
	logCount uint64

	cumulativeGasBase uint64
}

func newBuilder(txID uint64, t tracker.Tracker, log logger.Logger) *Builder {
	return &Builder{
		log:     log,
		tracker: t,
		txID:    txID,
	}
}

// BuildTx builds the complete witness of one transaction trace. The returned
// transaction is immutable; on any error the partial log is discarded in
// full and never exposed.
func BuildTx(txTrace *trace.TxTrace, txID uint64, prestate *Prestate, log logger.Logger) (*Transaction, error) {
	return buildTx(txTrace, txID, prestate, 0, log)
}

func buildTx(txTrace *trace.TxTrace, txID uint64, prestate *Prestate, cumulativeGasBase uint64, log logger.Logger) (*Transaction, error) {
	steps, err := trace.Ingest(txTrace)
	if err != nil {
		return nil, err
	}
	calls, err := buildCallTree(txTrace, steps)
	if err != nil {
		return nil, err
	}

	b := newBuilder(txID, tracker.NewTracker(), log)
	b.calls = calls
	b.callCursor = 1
	b.cumulativeGasBase = cumulativeGasBase
	b.prime(prestate)

	b.frames = append(b.frames, &frame{call: calls[0]})
	if err := b.beginTx(txTrace); err != nil {
		return nil, err
	}

	for i, step := range steps {
		b.stepIdx = i
		b.curOp = step.Op
		var next *trace.ExecStep
		if i+1 < len(steps) {
			next = steps[i+1]
		}

		step.OpBegin = len(b.ops)
		if step.Err == "" {
			if fn := stepFuncs[step.Op]; fn != nil {
				if err := fn(b, step, next); err != nil {
					return nil, err
				}
			}
		}

		switch {
		case next != nil && next.Depth == step.Depth+1:
			if err := b.pushFrame(step, next); err != nil {
				return nil, err
			}
		case next == nil || next.Depth == step.Depth-1:
			if err := b.popFrame(step, next); err != nil {
				return nil, err
			}
		}
		step.OpEnd = len(b.ops)
	}

	if err := b.endTx(txTrace); err != nil {
		return nil, err
	}

	return b.assemble(txTrace, steps), nil
}

// prime seeds the tracker from the given pre-state. Storage values are
// seeded into both the live and the committed (start-of-transaction) view.
func (b *Builder) prime(prestate *Prestate) {
	if prestate == nil {
		return
	}
	for addr, balance := range prestate.Balances {
		b.tracker.Prime(operation.AccountID, operation.AccountKey(addr, operation.AccountBalance), balance)
	}
	for addr, nonce := range prestate.Nonces {
		b.tracker.Prime(operation.AccountID, operation.AccountKey(addr, operation.AccountNonce), *uint256.NewInt(nonce))
	}
	for addr, slots := range prestate.Storage {
		for slot, value := range slots {
			v := new(uint256.Int).SetBytes32(value[:])
			b.tracker.Prime(operation.StorageID, operation.StorageKey(addr, slot), *v)
			b.tracker.Prime(operation.AccountStorageID, operation.StorageKey(addr, slot), *v)
		}
	}
}

// nextCounter advances the global RW counter; it is never reused and never
// skipped.
func (b *Builder) nextCounter() (operation.RWCounter, error) {
	if b.counter >= operation.MaxRWCounter {
		return 0, ErrCounterOverflow
	}
	b.counter++
	return b.counter, nil
}

func (b *Builder) currentFrame() *frame {
	return b.frames[len(b.frames)-1]
}

func (b *Builder) currentCall() *Call {
	return b.currentFrame().call
}

// emitRead records a read of the tracker's current value; an untouched key
// yields the canonical zero default without mutating state.
func (b *Builder) emitRead(target operation.Target, key operation.Key) (uint256.Int, error) {
	value := b.tracker.Read(target, key)
	ctr, err := b.nextCounter()
	if err != nil {
		return uint256.Int{}, err
	}
	b.ops = append(b.ops, operation.Operation{
		Counter: ctr,
		Target:  target,
		Key:     key,
		Value:   value,
	})
	return value, nil
}

// emitCheckedRead is emitRead plus the read-consistency rule: the value the
// trace claims must equal the tracker's current value.
func (b *Builder) emitCheckedRead(target operation.Target, key operation.Key, claimed uint256.Int) error {
	value := b.tracker.Read(target, key)
	if value != claimed {
		return &StateInconsistencyError{
			Step:   b.stepIdx,
			Op:     b.curOp,
			Target: target,
			Key:    key,
			Want:   value,
			Got:    claimed,
		}
	}
	_, err := b.emitRead(target, key)
	return err
}

// reversibleTargets marks the targets whose writes outlive their call frame
// and therefore need compensation when the frame fails.
var reversibleTargets = [operation.NumTargets]bool{
	operation.StorageID:                    true,
	operation.AccountID:                    true,
	operation.TxAccessListAccountID:        true,
	operation.TxAccessListAccountStorageID: true,
	operation.TxRefundID:                   true,
	operation.TxLogID:                      true,
}

// emitWrite records a write, updating the tracker and capturing (old, new).
// Writes of persistent targets inside a frame destined to revert are tagged
// reversible and journaled for compensation.
func (b *Builder) emitWrite(target operation.Target, key operation.Key, value uint256.Int) error {
	reversible := reversibleTargets[target] && !b.currentCall().Persistent
	return b.writeOp(target, key, value, reversible)
}

// emitTxScopedWrite records a write that survives even a reverted
// transaction (nonce increment, tx-level access-list warming, compensation).
func (b *Builder) emitTxScopedWrite(target operation.Target, key operation.Key, value uint256.Int) error {
	return b.writeOp(target, key, value, false)
}

func (b *Builder) writeOp(target operation.Target, key operation.Key, value uint256.Int, reversible bool) error {
	prev := b.tracker.Write(target, key, value)
	ctr, err := b.nextCounter()
	if err != nil {
		return err
	}
	if reversible {
		f := b.currentFrame()
		f.journal = append(f.journal, len(b.ops))
	}
	b.ops = append(b.ops, operation.Operation{
		Counter:    ctr,
		IsWrite:    true,
		Target:     target,
		Key:        key,
		Value:      value,
		ValuePrev:  prev,
		Reversible: reversible,
	})
	return nil
}

// pushFrame opens the call frame the next step executes in and seeds its
// call context. Creation frames first derive the created address, increment
// the creator's nonce and warm the created account.
func (b *Builder) pushFrame(step, next *trace.ExecStep) error {
	call := b.calls[b.callCursor]
	b.callCursor++

	// the creator's bookkeeping happens in the parent frame, before the
	// creation frame opens
	if call.Kind == CreateKind || call.Kind == Create2Kind {
		if err := b.enterCreation(call, step); err != nil {
			return err
		}
	}

	spec, _ := trace.Spec(step.Op)
	f := &frame{
		call:       call,
		resultSlot: uint64(step.StackLen() - spec.Pops),
		hasResult:  spec.Pushes > 0,
	}
	b.frames = append(b.frames, f)

	if err := b.seedCallContext(call, next.Depth, step.Op == vm.STATICCALL); err != nil {
		return err
	}

	// value moves with the frame so that a failing callee gives it back
	switch call.Kind {
	case CallKind, CallCodeKind, CreateKind, Create2Kind:
		if !call.Value.IsZero() {
			return b.transferValue(call.Caller, call.Address, call.Value)
		}
	}
	return nil
}

// enterCreation resolves the address of a CREATE or CREATE2 frame from the
// creator's nonce respectively the salted init-code hash, then emits the
// creator nonce increment and the access-list warming of the new account.
func (b *Builder) enterCreation(call *Call, step *trace.ExecStep) error {
	creator := call.Caller
	nonceKey := operation.AccountKey(creator, operation.AccountNonce)
	nonce := b.tracker.Read(operation.AccountID, nonceKey)

	switch call.Kind {
	case CreateKind:
		call.Callee = crypto.CreateAddress(creator, nonce.Uint64())
	case Create2Kind:
		offset, err := stackOffset(b, step, 1)
		if err != nil {
			return err
		}
		size, err := stackOffset(b, step, 2)
		if err != nil {
			return err
		}
		initCode := make([]byte, size)
		for i := uint64(0); i < size; i++ {
			initCode[i] = memoryByte(step, offset+i)
		}
		salt := step.StackBack(3)
		call.Callee = crypto.CreateAddress2(creator, salt.Bytes32(), crypto.Keccak256(initCode))
	}
	call.Address = call.Callee

	newNonce := new(uint256.Int).AddUint64(&nonce, 1)
	if err := b.emitWrite(operation.AccountID, nonceKey, *newNonce); err != nil {
		return err
	}
	warmKey := operation.AccessListAccountKey(b.txID, call.Callee)
	return b.emitWrite(operation.TxAccessListAccountID, warmKey, boolValue(true))
}

// popFrame closes the innermost frame on its exit step. A failed frame is
// compensated immediately; a successful frame hands its journal to the
// parent, whose own failure would still undo the child's writes.
func (b *Builder) popFrame(step, next *trace.ExecStep) error {
	f := b.currentFrame()
	b.frames = b.frames[:len(b.frames)-1]

	if f.call.Success {
		if len(b.frames) > 0 {
			parent := b.currentFrame()
			parent.journal = append(parent.journal, f.journal...)
		}
	} else {
		if err := b.revertFrame(f); err != nil {
			return err
		}
	}

	// the parent sees the frame's result on its stack
	if len(b.frames) > 0 && f.hasResult && next != nil {
		if next.StackLen() == 0 {
			return &trace.TraceInconsistencyError{
				Step: b.stepIdx, Op: step.Op,
				Detail: "caller resumes without the call result on its stack",
			}
		}
		key := operation.StackKey(b.currentCall().ID, f.resultSlot)
		return b.emitWrite(operation.StackID, key, next.StackBack(0))
	}
	return nil
}

// revertFrame appends compensating writes for every reversible operation of
// the frame, in reverse counter order with fresh counters, restoring each
// write's old value. The counter never rewinds.
func (b *Builder) revertFrame(f *frame) error {
	for i := len(f.journal) - 1; i >= 0; i-- {
		orig := b.ops[f.journal[i]]
		current := b.tracker.Read(orig.Target, orig.Key)
		if current != orig.Value {
			return &ReversionReplayError{
				CallID: f.call.ID,
				Target: orig.Target,
				Key:    orig.Key,
				Want:   orig.Value,
				Got:    current,
			}
		}
		if err := b.emitTxScopedWrite(orig.Target, orig.Key, orig.ValuePrev); err != nil {
			return err
		}
	}
	f.journal = nil
	return nil
}

// seedCallContext writes the context fields every constraint gadget of the
// call may look up. The field order is part of the table contract.
func (b *Builder) seedCallContext(call *Call, depth int, isStatic bool) error {
	seeds := []struct {
		field uint8
		value uint256.Int
	}{
		{operation.CtxTxID, *uint256.NewInt(b.txID)},
		{operation.CtxDepth, *uint256.NewInt(uint64(depth))},
		{operation.CtxCallerID, *uint256.NewInt(call.ParentID)},
		{operation.CtxCallerAddress, addressValue(call.Caller)},
		{operation.CtxCalleeAddress, addressValue(call.Address)},
		{operation.CtxValue, call.Value},
		{operation.CtxIsStatic, boolValue(isStatic)},
		{operation.CtxIsSuccess, boolValue(call.Success)},
	}
	for _, seed := range seeds {
		key := operation.CallContextKey(call.ID, seed.field)
		if err := b.emitWrite(operation.CallContextID, key, seed.value); err != nil {
			return err
		}
	}
	return nil
}

// transferValue moves value between account balances; both writes are
// reversible within the current frame.
func (b *Builder) transferValue(from, to common.Address, value uint256.Int) error {
	fromKey := operation.AccountKey(from, operation.AccountBalance)
	fromBalance := b.tracker.Read(operation.AccountID, fromKey)
	newBalance, underflow := new(uint256.Int).SubOverflow(&fromBalance, &value)
	if underflow {
		return &StateInconsistencyError{
			Step:   b.stepIdx,
			Op:     b.curOp,
			Target: operation.AccountID,
			Key:    fromKey,
			Want:   value,
			Got:    fromBalance,
		}
	}
	if err := b.emitWrite(operation.AccountID, fromKey, *newBalance); err != nil {
		return err
	}

	toKey := operation.AccountKey(to, operation.AccountBalance)
	toBalance := b.tracker.Read(operation.AccountID, toKey)
	sum := new(uint256.Int).Add(&toBalance, &value)
	return b.emitWrite(operation.AccountID, toKey, *sum)
}

// beginTx emits the transaction-entry bookkeeping: nonce increment,
// tx-level access-list warming, the root value transfer and the root call's
// context seeds. Nonce and warming survive even a reverted transaction.
func (b *Builder) beginTx(tx *trace.TxTrace) error {
	root := b.calls[0]

	nonceKey := operation.AccountKey(tx.From, operation.AccountNonce)
	if !b.tracker.Has(operation.AccountID, nonceKey) {
		b.tracker.Prime(operation.AccountID, nonceKey, *uint256.NewInt(tx.Nonce))
	}
	if err := b.emitTxScopedWrite(operation.AccountID, nonceKey, *uint256.NewInt(tx.Nonce+1)); err != nil {
		return err
	}

	callerWarm := operation.AccessListAccountKey(b.txID, tx.From)
	if err := b.emitTxScopedWrite(operation.TxAccessListAccountID, callerWarm, boolValue(true)); err != nil {
		return err
	}
	calleeWarm := operation.AccessListAccountKey(b.txID, root.Callee)
	if err := b.emitTxScopedWrite(operation.TxAccessListAccountID, calleeWarm, boolValue(true)); err != nil {
		return err
	}

	value := uint256.Int(tx.Value)
	if !value.IsZero() {
		if err := b.transferValue(root.Caller, root.Callee, value); err != nil {
			return err
		}
	}

	if err := b.seedCallContext(root, 1, false); err != nil {
		return err
	}

	origin := operation.CallContextKey(root.ID, operation.CtxTxOrigin)
	if err := b.emitWrite(operation.CallContextID, origin, addressValue(tx.From)); err != nil {
		return err
	}
	gasPrice := operation.CallContextKey(root.ID, operation.CtxTxGasPrice)
	return b.emitWrite(operation.CallContextID, gasPrice, uint256.Int(tx.GasPrice))
}

// endTx emits the transaction-exit bookkeeping: the final refund read and
// the receipt fields.
func (b *Builder) endTx(tx *trace.TxTrace) error {
	if _, err := b.emitRead(operation.TxRefundID, operation.RefundKey(b.txID)); err != nil {
		return err
	}

	status := operation.ReceiptKey(b.txID, operation.ReceiptPostStateOrStatus)
	if err := b.emitTxScopedWrite(operation.TxReceiptID, status, boolValue(!tx.Failed)); err != nil {
		return err
	}
	gasUsed := operation.ReceiptKey(b.txID, operation.ReceiptCumulativeGasUsed)
	if err := b.emitTxScopedWrite(operation.TxReceiptID, gasUsed, *uint256.NewInt(b.cumulativeGasBase+tx.GasUsed)); err != nil {
		return err
	}
	logLength := operation.ReceiptKey(b.txID, operation.ReceiptLogLength)
	return b.emitTxScopedWrite(operation.TxReceiptID, logLength, *uint256.NewInt(b.logCount))
}

func addressValue(addr common.Address) uint256.Int {
	return *new(uint256.Int).SetBytes20(addr[:])
}

func boolValue(v bool) uint256.Int {
	if v {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}
