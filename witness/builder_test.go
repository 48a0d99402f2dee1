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
	"testing"

	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/trace"
	"github.com/0xsoniclabs/busmap/tracker"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	testSender   = common.Address{0xaa}
	testContract = common.Address{0xbb}
)

// makeLog builds a raw step with a stack given bottom-up.
func makeLog(op vm.OpCode, depth int, stack ...uint64) trace.StructLog {
	s := trace.StructLog{Op: op.String(), Depth: depth}
	for _, v := range stack {
		s.Stack = append(s.Stack, hexutil.U256(*uint256.NewInt(v)))
	}
	return s
}

func makeTx(logs ...trace.StructLog) *trace.TxTrace {
	to := testContract
	return &trace.TxTrace{
		From:       testSender,
		To:         &to,
		Gas:        100_000,
		GasUsed:    21_000,
		StructLogs: logs,
	}
}

func opsOf(tx *Transaction, target operation.Target) []operation.Operation {
	var out []operation.Operation
	for _, op := range tx.Ops {
		if op.Target == target {
			out = append(out, op)
		}
	}
	return out
}

func slotHash(v uint64) common.Hash {
	return common.Hash(uint256.NewInt(v).Bytes32())
}

func TestBuildTx_AddProgramEmitsExpectedStackOps(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.PUSH1, 1, 5),
		makeLog(vm.ADD, 1, 5, 3),
		makeLog(vm.STOP, 1, 8),
	)

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)

	stackOps := opsOf(witness, operation.StackID)
	require.Len(t, stackOps, 5)

	expected := []struct {
		isWrite bool
		slot    uint64
		value   uint64
	}{
		{true, 0, 5},  // PUSH1 05
		{true, 1, 3},  // PUSH1 03
		{false, 1, 3}, // ADD reads its operands top first
		{false, 0, 5},
		{true, 0, 8}, // and writes the sum over the lower operand
	}
	for i, want := range expected {
		op := stackOps[i]
		assert.Equal(t, want.isWrite, op.IsWrite, "op %d", i)
		assert.Equal(t, uint64(1), op.Key.CallID, "op %d", i)
		assert.Equal(t, want.slot, op.Key.Pointer, "op %d", i)
		assert.Equal(t, *uint256.NewInt(want.value), op.Value, "op %d", i)
	}

	// the five operations are consecutive in the global log
	for i := 1; i < len(stackOps); i++ {
		assert.Equal(t, stackOps[i-1].Counter+1, stackOps[i].Counter)
	}
}

func TestBuildTx_CountersAreGapFreeAndStartAtOne(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.PUSH1, 1, 5),
		makeLog(vm.ADD, 1, 5, 3),
		makeLog(vm.STOP, 1, 8),
	)

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, witness.Ops)

	for i, op := range witness.Ops {
		assert.Equal(t, operation.RWCounter(i+1), op.Counter)
	}
}

func TestBuildTx_EntryAndExitBookkeeping(t *testing.T) {
	tx := makeTx(makeLog(vm.STOP, 1))
	tx.Nonce = 6

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)

	// nonce increment first, then caller and callee access-list warming
	require.Greater(t, len(witness.Ops), 4)
	nonceOp := witness.Ops[0]
	assert.Equal(t, operation.AccountID, nonceOp.Target)
	assert.True(t, nonceOp.IsWrite)
	assert.Equal(t, operation.AccountKey(testSender, operation.AccountNonce), nonceOp.Key)
	assert.Equal(t, *uint256.NewInt(7), nonceOp.Value)

	warm := opsOf(witness, operation.TxAccessListAccountID)
	require.Len(t, warm, 2)
	assert.Equal(t, operation.AccessListAccountKey(1, testSender), warm[0].Key)
	assert.Equal(t, operation.AccessListAccountKey(1, testContract), warm[1].Key)

	// final refund read followed by the three receipt writes
	tail := witness.Ops[len(witness.Ops)-4:]
	assert.Equal(t, operation.TxRefundID, tail[0].Target)
	assert.False(t, tail[0].IsWrite)

	receipts := opsOf(witness, operation.TxReceiptID)
	require.Len(t, receipts, 3)
	assert.Equal(t, operation.ReceiptKey(1, operation.ReceiptPostStateOrStatus), receipts[0].Key)
	assert.Equal(t, *uint256.NewInt(1), receipts[0].Value)
	assert.Equal(t, operation.ReceiptKey(1, operation.ReceiptCumulativeGasUsed), receipts[1].Key)
	assert.Equal(t, *uint256.NewInt(21_000), receipts[1].Value)
	assert.Equal(t, operation.ReceiptKey(1, operation.ReceiptLogLength), receipts[2].Key)
	assert.True(t, receipts[2].Value.IsZero())
}

func TestBuildTx_UntouchedSlotReadsAsZero(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.SLOAD, 1, 42),
		makeLog(vm.POP, 1, 0),
		makeLog(vm.STOP, 1),
	)

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)

	storageOps := opsOf(witness, operation.StorageID)
	require.Len(t, storageOps, 1)
	assert.False(t, storageOps[0].IsWrite)
	assert.Equal(t, operation.StorageKey(testContract, slotHash(42)), storageOps[0].Key)
	assert.True(t, storageOps[0].Value.IsZero())

	// reading an untouched key leaves no trace in the state diff
	assert.Empty(t, witness.StorageDiff)
}

func TestBuildTx_ReadAfterWriteSeesTheWrite(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),          // push value 7
		makeLog(vm.PUSH1, 1, 7),       // push slot 1
		makeLog(vm.SSTORE, 1, 7, 1),   //
		makeLog(vm.PUSH1, 1),          // push slot 1
		makeLog(vm.SLOAD, 1, 1),       //
		makeLog(vm.POP, 1, 7),         //
		makeLog(vm.STOP, 1),           //
	)

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)

	storageOps := opsOf(witness, operation.StorageID)
	require.Len(t, storageOps, 3) // sstore read, sstore write, sload read
	assert.False(t, storageOps[0].IsWrite)
	assert.True(t, storageOps[0].Value.IsZero())
	assert.True(t, storageOps[1].IsWrite)
	assert.Equal(t, *uint256.NewInt(7), storageOps[1].Value)
	assert.False(t, storageOps[2].IsWrite)
	assert.Equal(t, *uint256.NewInt(7), storageOps[2].Value)

	// the committed view still reports the start-of-transaction value
	committed := opsOf(witness, operation.AccountStorageID)
	require.Len(t, committed, 1)
	assert.True(t, committed[0].Value.IsZero())

	require.Len(t, witness.StorageDiff, 1)
	diff := witness.StorageDiff[StorageDiffKey{Address: testContract, Slot: slotHash(1)}]
	assert.True(t, diff.Old.IsZero())
	assert.Equal(t, *uint256.NewInt(7), diff.New)
}

func TestBuildTx_PrestateSeedsTheTracker(t *testing.T) {
	prestate := &Prestate{
		Storage: map[common.Address]map[common.Hash]common.Hash{
			testContract: {slotHash(1): slotHash(5)},
		},
	}
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.SLOAD, 1, 1),
		makeLog(vm.POP, 1, 5),
		makeLog(vm.STOP, 1),
	)

	witness, err := BuildTx(tx, 1, prestate, nil)
	require.NoError(t, err)

	storageOps := opsOf(witness, operation.StorageID)
	require.Len(t, storageOps, 1)
	assert.Equal(t, *uint256.NewInt(5), storageOps[0].Value)
	assert.Empty(t, witness.StorageDiff)
}

func TestBuildTx_RevertedCallIsCompensated(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),                                // retSize
		makeLog(vm.PUSH1, 1, 0),                             // retOffset
		makeLog(vm.PUSH1, 1, 0, 0),                          // argSize
		makeLog(vm.PUSH1, 1, 0, 0, 0),                       // argOffset
		makeLog(vm.PUSH1, 1, 0, 0, 0, 0),                    // value
		makeLog(vm.PUSH20, 1, 0, 0, 0, 0, 0),                // callee
		makeLog(vm.PUSH2, 1, 0, 0, 0, 0, 0, 0xcc),           // gas
		makeLog(vm.CALL, 1, 0, 0, 0, 0, 0, 0xcc, 50_000),    //
		makeLog(vm.PUSH1, 2),                                // push value 7
		makeLog(vm.PUSH1, 2, 7),                             // push slot 1
		makeLog(vm.SSTORE, 2, 7, 1),                         //
		makeLog(vm.PUSH1, 2),                                //
		makeLog(vm.PUSH1, 2, 0),                             //
		makeLog(vm.REVERT, 2, 0, 0),                         //
		makeLog(vm.STOP, 1, 0),                              // call result 0
	)

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)

	require.Len(t, witness.Calls, 2)
	root, inner := witness.Calls[0], witness.Calls[1]
	assert.True(t, root.Success)
	assert.True(t, root.Persistent)
	assert.Equal(t, CallKind, inner.Kind)
	assert.False(t, inner.Success)
	assert.True(t, inner.Reverted)
	assert.False(t, inner.Persistent)

	// the inner frame's slot warming and storage write are the only
	// reversible operations, and each gets exactly one compensating write
	var reversible []operation.Operation
	for _, op := range witness.Ops {
		if op.Reversible {
			reversible = append(reversible, op)
		}
	}
	require.Len(t, reversible, 2)

	storageWrites := []operation.Operation{}
	for _, op := range opsOf(witness, operation.StorageID) {
		if op.IsWrite {
			storageWrites = append(storageWrites, op)
		}
	}
	require.Len(t, storageWrites, 2)
	assert.Equal(t, *uint256.NewInt(7), storageWrites[0].Value)
	assert.True(t, storageWrites[1].Value.IsZero()) // compensation restores the old value
	assert.Greater(t, storageWrites[1].Counter, storageWrites[0].Counter)

	// the compensating writes are in reverse order of the originals
	compStorage := storageWrites[1]
	var compWarm *operation.Operation
	for i, op := range witness.Ops {
		if op.Target == operation.TxAccessListAccountStorageID && op.IsWrite && op.Counter > compStorage.Counter {
			compWarm = &witness.Ops[i]
			break
		}
	}
	require.NotNil(t, compWarm)
	assert.True(t, compWarm.Value.IsZero())

	// the reverted write never reaches the post-transaction state
	assert.Empty(t, witness.StorageDiff)

	// the parent sees the failed call's result on its stack
	stackOps := opsOf(witness, operation.StackID)
	result := stackOps[len(stackOps)-1]
	assert.True(t, result.IsWrite)
	assert.Equal(t, uint64(1), result.Key.CallID)
	assert.Equal(t, uint64(0), result.Key.Pointer)
	assert.True(t, result.Value.IsZero())

	// counters never rewind, even across the reversion replay
	for i, op := range witness.Ops {
		assert.Equal(t, operation.RWCounter(i+1), op.Counter)
	}
}

func TestBuildTx_DelegateCallKeepsCallerAndStorageContext(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),                                   // retSize
		makeLog(vm.PUSH1, 1, 0),                                // retOffset
		makeLog(vm.PUSH1, 1, 0, 0),                             // argSize
		makeLog(vm.PUSH1, 1, 0, 0, 0),                          // argOffset
		makeLog(vm.PUSH20, 1, 0, 0, 0, 0),                      // code address
		makeLog(vm.PUSH2, 1, 0, 0, 0, 0, 0xcc),                 // gas
		makeLog(vm.DELEGATECALL, 1, 0, 0, 0, 0, 0xcc, 50_000),  //
		makeLog(vm.PUSH1, 2),                                   // push value 7
		makeLog(vm.PUSH1, 2, 7),                                // push slot 1
		makeLog(vm.SSTORE, 2, 7, 1),                            //
		makeLog(vm.STOP, 2),                                    //
		makeLog(vm.STOP, 1, 1),                                 // call result 1
	)

	witness, err := BuildTx(tx, 1, nil, nil)
	require.NoError(t, err)

	require.Len(t, witness.Calls, 2)
	inner := witness.Calls[1]
	assert.Equal(t, DelegateCallKind, inner.Kind)
	assert.Equal(t, testSender, inner.Caller, "msg.sender passes through unchanged")
	assert.Equal(t, common.BytesToAddress([]byte{0xcc}), inner.Callee)
	assert.Equal(t, testContract, inner.StorageAddress())

	// the delegated SSTORE lands in the invoking contract's storage
	var writes []operation.Operation
	for _, op := range opsOf(witness, operation.StorageID) {
		if op.IsWrite {
			writes = append(writes, op)
		}
	}
	require.Len(t, writes, 1)
	assert.Equal(t, testContract, writes[0].Key.Address)

	// the inner frame's context seeds carry the inherited addresses
	for _, op := range opsOf(witness, operation.CallContextID) {
		if op.Key.CallID != inner.ID {
			continue
		}
		switch op.Key.Field {
		case operation.CtxCallerAddress:
			assert.Equal(t, addressValue(testSender), op.Value)
		case operation.CtxCalleeAddress:
			assert.Equal(t, addressValue(testContract), op.Value)
		}
	}
}

func TestBuildTx_CreateDerivesAddressAndMovesValue(t *testing.T) {
	prestate := &Prestate{
		Balances: map[common.Address]uint256.Int{testContract: *uint256.NewInt(100)},
	}
	tx := makeTx(
		makeLog(vm.PUSH1, 1),             // size
		makeLog(vm.PUSH1, 1, 0),          // offset
		makeLog(vm.PUSH1, 1, 0, 0),       // value
		makeLog(vm.CREATE, 1, 0, 0, 5),   //
		makeLog(vm.PUSH1, 2),             // init code: push value 7
		makeLog(vm.PUSH1, 2, 7),          // push slot 1
		makeLog(vm.SSTORE, 2, 7, 1),      //
		makeLog(vm.STOP, 2),              //
		makeLog(vm.STOP, 1, 1),           // created address claimed on stack
	)

	witness, err := BuildTx(tx, 1, prestate, nil)
	require.NoError(t, err)

	created := crypto.CreateAddress(testContract, 0)
	require.Len(t, witness.Calls, 2)
	inner := witness.Calls[1]
	assert.Equal(t, CreateKind, inner.Kind)
	assert.Equal(t, testContract, inner.Caller)
	assert.Equal(t, created, inner.Callee)
	assert.Equal(t, created, inner.StorageAddress())

	// the init code's SSTORE is attributed to the created account
	var writes []operation.Operation
	for _, op := range opsOf(witness, operation.StorageID) {
		if op.IsWrite {
			writes = append(writes, op)
		}
	}
	require.Len(t, writes, 1)
	assert.Equal(t, created, writes[0].Key.Address)

	// the endowment moves from the creator to the created account
	balances := make(map[common.Address]uint256.Int)
	for _, op := range opsOf(witness, operation.AccountID) {
		if op.IsWrite && op.Key.Field == operation.AccountBalance {
			balances[op.Key.Address] = op.Value
		}
	}
	assert.Equal(t, *uint256.NewInt(95), balances[testContract])
	assert.Equal(t, *uint256.NewInt(5), balances[created])

	// the creator's nonce increments before the frame opens
	var nonceWrites []operation.Operation
	for _, op := range opsOf(witness, operation.AccountID) {
		if op.IsWrite && op.Key.Field == operation.AccountNonce && op.Key.Address == testContract {
			nonceWrites = append(nonceWrites, op)
		}
	}
	require.Len(t, nonceWrites, 1)
	assert.Equal(t, *uint256.NewInt(1), nonceWrites[0].Value)
}

func TestBuildTx_MissingCallResultOnReturnIsRejected(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),                             // retSize
		makeLog(vm.PUSH1, 1, 0),                          // retOffset
		makeLog(vm.PUSH1, 1, 0, 0),                       // argSize
		makeLog(vm.PUSH1, 1, 0, 0, 0),                    // argOffset
		makeLog(vm.PUSH1, 1, 0, 0, 0, 0),                 // value
		makeLog(vm.PUSH20, 1, 0, 0, 0, 0, 0),             // callee
		makeLog(vm.PUSH2, 1, 0, 0, 0, 0, 0, 0xcc),        // gas
		makeLog(vm.CALL, 1, 0, 0, 0, 0, 0, 0xcc, 50_000), //
		makeLog(vm.STOP, 2),                              //
		makeLog(vm.STOP, 1),                              // caller resumes without a result
	)

	_, err := BuildTx(tx, 1, nil, nil)
	inconsistent := &trace.TraceInconsistencyError{}
	require.ErrorAs(t, err, &inconsistent)
	assert.Contains(t, inconsistent.Detail, "call result")
}

func TestBuildTx_DoctoredReadValueIsRejected(t *testing.T) {
	prestate := &Prestate{
		Storage: map[common.Address]map[common.Hash]common.Hash{
			testContract: {slotHash(1): slotHash(5)},
		},
	}
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.SLOAD, 1, 1),
		makeLog(vm.POP, 1, 9), // trace claims 9, state holds 5
		makeLog(vm.STOP, 1),
	)

	_, err := BuildTx(tx, 1, prestate, nil)
	inconsistent := &StateInconsistencyError{}
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, operation.StorageID, inconsistent.Target)
	assert.Equal(t, *uint256.NewInt(5), inconsistent.Want)
	assert.Equal(t, *uint256.NewInt(9), inconsistent.Got)
}

func TestBuilder_CounterOverflowIsReported(t *testing.T) {
	b := newBuilder(1, tracker.NewTracker(), nil)
	b.calls = []*Call{{ID: 1, Persistent: true}}
	b.frames = []*frame{{call: b.calls[0]}}
	b.counter = operation.MaxRWCounter

	_, err := b.emitRead(operation.TxRefundID, operation.RefundKey(1))
	assert.True(t, errors.Is(err, ErrCounterOverflow))

	err = b.emitWrite(operation.StorageID, operation.StorageKey(testContract, slotHash(1)), *uint256.NewInt(1))
	assert.True(t, errors.Is(err, ErrCounterOverflow))
}

func TestBuilder_CheckedReadConsultsTracker(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := tracker.NewMockTracker(ctrl)

	key := operation.StorageKey(testContract, slotHash(1))
	m.EXPECT().Read(operation.StorageID, key).Return(*uint256.NewInt(5)).Times(2)

	b := newBuilder(1, m, nil)
	b.calls = []*Call{{ID: 1, Persistent: true}}
	b.frames = []*frame{{call: b.calls[0]}}

	err := b.emitCheckedRead(operation.StorageID, key, *uint256.NewInt(5))
	require.NoError(t, err)
	require.Len(t, b.ops, 1)
	assert.Equal(t, *uint256.NewInt(5), b.ops[0].Value)
	assert.False(t, b.ops[0].IsWrite)
}

func TestBuildCallTree_ClassifiesFramesAndPersistence(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.PUSH1, 1, 0),
		makeLog(vm.PUSH1, 1, 0, 0),
		makeLog(vm.PUSH1, 1, 0, 0, 0),
		makeLog(vm.PUSH20, 1, 0, 0, 0, 0),
		makeLog(vm.PUSH2, 1, 0, 0, 0, 0, 0xcc),
		makeLog(vm.STATICCALL, 1, 0, 0, 0, 0, 0xcc, 50_000),
		makeLog(vm.STOP, 2),
		makeLog(vm.STOP, 1, 1),
	)

	steps, err := trace.Ingest(tx)
	require.NoError(t, err)
	calls, err := buildCallTree(tx, steps)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, RootKind, calls[0].Kind)
	assert.Equal(t, StaticCallKind, calls[1].Kind)
	assert.Equal(t, uint64(1), calls[1].ParentID)
	assert.True(t, calls[1].Success)
	assert.True(t, calls[1].Persistent)
	assert.Equal(t, common.BytesToAddress([]byte{0xcc}), calls[1].Callee)

	// every step carries the ID of the frame it executed in
	assert.Equal(t, uint64(2), steps[7].CallID)
	assert.Equal(t, uint64(1), steps[8].CallID)
}

func TestBuildCallTree_FailedTransactionIsNeverPersistent(t *testing.T) {
	tx := makeTx(
		makeLog(vm.PUSH1, 1),
		makeLog(vm.PUSH1, 1, 0),
		makeLog(vm.REVERT, 1, 0, 0),
	)
	tx.Failed = true

	steps, err := trace.Ingest(tx)
	require.NoError(t, err)
	calls, err := buildCallTree(tx, steps)
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
	assert.False(t, calls[0].Persistent)
}
