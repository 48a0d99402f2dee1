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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeTx writes value into slot 1 of the contract.
func storeTx(from common.Address, value uint64) *trace.TxTrace {
	to := testContract
	return &trace.TxTrace{
		From:    from,
		To:      &to,
		Gas:     100_000,
		GasUsed: 40_000,
		StructLogs: []trace.StructLog{
			makeLog(vm.PUSH1, 1),
			makeLog(vm.PUSH1, 1, value),
			makeLog(vm.SSTORE, 1, value, 1),
			makeLog(vm.STOP, 1),
		},
	}
}

// loadTx reads slot 1 of the contract and claims the given value.
func loadTx(from common.Address, claimed uint64) *trace.TxTrace {
	to := testContract
	return &trace.TxTrace{
		From:    from,
		To:      &to,
		Gas:     100_000,
		GasUsed: 25_000,
		StructLogs: []trace.StructLog{
			makeLog(vm.PUSH1, 1),
			makeLog(vm.SLOAD, 1, 1),
			makeLog(vm.POP, 1, claimed),
			makeLog(vm.STOP, 1),
		},
	}
}

func TestBuildBlock_SerialChainsTransactionState(t *testing.T) {
	senderA := common.Address{0x01}
	senderB := common.Address{0x02}
	bt := &trace.BlockTrace{
		Number:       9,
		Transactions: []*trace.TxTrace{storeTx(senderA, 7), loadTx(senderB, 7)},
	}

	block, err := BuildBlock(bt, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)
	assert.Equal(t, uint64(9), block.Number)

	// the second transaction observes the first one's write
	reads := opsOf(block.Transactions[1], operation.StorageID)
	require.Len(t, reads, 1)
	assert.Equal(t, *uint256.NewInt(7), reads[0].Value)

	// counters continue gap free across the transaction boundary
	for i, op := range block.Ops() {
		assert.Equal(t, operation.RWCounter(i+1), op.Counter)
	}

	// call IDs stay globally unique
	assert.Equal(t, uint64(1), block.Transactions[0].Calls[0].ID)
	assert.Equal(t, uint64(2), block.Transactions[1].Calls[0].ID)
	for _, op := range opsOf(block.Transactions[1], operation.StackID) {
		assert.Equal(t, uint64(2), op.Key.CallID)
	}

	// receipts accumulate gas across the block
	receipts := opsOf(block.Transactions[1], operation.TxReceiptID)
	require.Len(t, receipts, 3)
	assert.Equal(t, *uint256.NewInt(65_000), receipts[1].Value)
}

func TestBuildBlock_ParallelMatchesSerial(t *testing.T) {
	senderA := common.Address{0x01}
	senderB := common.Address{0x02}
	// the second transaction stores to a different slot so the builds are
	// actually independent
	storeOther := storeTx(senderB, 9)
	storeOther.StructLogs = []trace.StructLog{
		makeLog(vm.PUSH1, 1),
		makeLog(vm.PUSH1, 1, 9),
		makeLog(vm.SSTORE, 1, 9, 2),
		makeLog(vm.STOP, 1),
	}

	bt := &trace.BlockTrace{
		Number:       11,
		Transactions: []*trace.TxTrace{storeTx(senderA, 7), storeOther},
	}

	serial, err := BuildBlock(bt, nil, nil, nil)
	require.NoError(t, err)
	parallel, err := BuildBlock(bt, nil, &BlockConfig{Workers: 2}, nil)
	require.NoError(t, err)

	assert.Equal(t, serial.Ops(), parallel.Ops())
	assert.Equal(t, serial.StorageDiff(), parallel.StorageDiff())

	diff := parallel.StorageDiff()
	require.Len(t, diff, 2)
	assert.Equal(t, *uint256.NewInt(7), diff[StorageDiffKey{Address: testContract, Slot: slotHash(1)}].New)
	assert.Equal(t, *uint256.NewInt(9), diff[StorageDiffKey{Address: testContract, Slot: slotHash(2)}].New)
}

func TestBuildBlock_OverlappingWritesFallBackToSerial(t *testing.T) {
	senderA := common.Address{0x01}
	senderB := common.Address{0x02}
	bt := &trace.BlockTrace{
		Number:       12,
		Transactions: []*trace.TxTrace{storeTx(senderA, 7), storeTx(senderB, 9)},
	}

	block, err := BuildBlock(bt, nil, &BlockConfig{Workers: 2}, nil)
	require.NoError(t, err)

	// in serial order the second write sees the first one as its old value;
	// an (incorrectly kept) parallel build would report 0 here
	key := StorageDiffKey{Address: testContract, Slot: slotHash(1)}
	diff := block.Transactions[1].StorageDiff[key]
	assert.Equal(t, *uint256.NewInt(7), diff.Old)
	assert.Equal(t, *uint256.NewInt(9), diff.New)

	merged := block.StorageDiff()
	require.Len(t, merged, 1)
	mergedEntry := merged[key]
	assert.True(t, mergedEntry.Old.IsZero())
	assert.Equal(t, *uint256.NewInt(9), mergedEntry.New)

	for i, op := range block.Ops() {
		assert.Equal(t, operation.RWCounter(i+1), op.Counter)
	}
}

func TestBuildBlock_DependentReadFallsBackToSerial(t *testing.T) {
	senderA := common.Address{0x01}
	senderB := common.Address{0x02}
	bt := &trace.BlockTrace{
		Number:       13,
		Transactions: []*trace.TxTrace{storeTx(senderA, 7), loadTx(senderB, 7)},
	}

	// the load claims a value only the preceding store produces, so its
	// stand-alone build fails and the block must be rebuilt serially
	block, err := BuildBlock(bt, nil, &BlockConfig{Workers: 2}, nil)
	require.NoError(t, err)

	reads := opsOf(block.Transactions[1], operation.StorageID)
	require.Len(t, reads, 1)
	assert.Equal(t, *uint256.NewInt(7), reads[0].Value)
}

func TestBuildBlock_GenuineDefectSurvivesSerialRebuild(t *testing.T) {
	senderA := common.Address{0x01}
	senderB := common.Address{0x02}
	bt := &trace.BlockTrace{
		Number:       14,
		Transactions: []*trace.TxTrace{storeTx(senderA, 7), loadTx(senderB, 8)},
	}

	_, err := BuildBlock(bt, nil, &BlockConfig{Workers: 2}, nil)
	inconsistent := &StateInconsistencyError{}
	require.ErrorAs(t, err, &inconsistent)
}

func TestBuildBlock_RejectsNilTrace(t *testing.T) {
	_, err := BuildBlock(nil, nil, nil, nil)
	malformed := &trace.TraceMalformedError{}
	assert.ErrorAs(t, err, &malformed)
}

func TestTransaction_RenumberShiftsScopedKeysOnly(t *testing.T) {
	tx := &Transaction{
		TxID: 1,
		Ops: []operation.Operation{
			{Counter: 1, Target: operation.StackID, Key: operation.StackKey(1, 0)},
			{Counter: 2, Target: operation.StorageID, Key: operation.StorageKey(testContract, slotHash(1))},
			{Counter: 3, Target: operation.CallContextID, Key: operation.CallContextKey(2, operation.CtxDepth)},
			{Counter: 4, IsWrite: true, Target: operation.TxRefundID, Key: operation.RefundKey(1)},
			{Counter: 5, IsWrite: true, Target: operation.CallContextID,
				Key: operation.CallContextKey(1, operation.CtxTxID), Value: *uint256.NewInt(1)},
		},
		Calls: []*Call{{ID: 1}, {ID: 2, ParentID: 1}},
		Steps: []*trace.ExecStep{{CallID: 2}},
	}

	tx.renumber(10, 5, 3)

	assert.Equal(t, operation.RWCounter(11), tx.Ops[0].Counter)
	assert.Equal(t, uint64(6), tx.Ops[0].Key.CallID)
	assert.Equal(t, uint64(0), tx.Ops[1].Key.CallID) // storage keys carry no call ID
	assert.Equal(t, uint64(0), tx.Ops[1].Key.TxID)   // nor a transaction ID
	assert.Equal(t, uint64(7), tx.Ops[2].Key.CallID)
	assert.Equal(t, uint64(4), tx.Ops[3].Key.TxID)
	assert.Equal(t, *uint256.NewInt(4), tx.Ops[4].Value) // the seeded tx ID follows
	assert.Equal(t, uint64(4), tx.TxID)
	assert.Equal(t, uint64(6), tx.Calls[0].ID)
	assert.Equal(t, uint64(0), tx.Calls[0].ParentID) // the root stays parentless
	assert.Equal(t, uint64(6), tx.Calls[1].ParentID)
	assert.Equal(t, uint64(7), tx.Steps[0].CallID)
}

func TestBlock_RenumberSeparatesTxScopedKeysAcrossBlocks(t *testing.T) {
	senderA := common.Address{0x01}
	senderB := common.Address{0x02}

	first, err := BuildBlock(&trace.BlockTrace{
		Number:       9,
		Transactions: []*trace.TxTrace{storeTx(senderA, 7)},
	}, nil, nil, nil)
	require.NoError(t, err)

	second, err := BuildBlock(&trace.BlockTrace{
		Number:       10,
		Transactions: []*trace.TxTrace{storeTx(senderB, 9)},
	}, nil, nil, nil)
	require.NoError(t, err)

	second.Renumber(first.CounterEnd(), first.CallCount(), uint64(len(first.Transactions)))

	// without the transaction-ID shift both refund keys would be equal and
	// the per-target view of the merged table would interleave the blocks
	refundKeys := make(map[uint64]bool)
	for _, block := range []*Block{first, second} {
		for _, op := range block.Ops() {
			if op.Target == operation.TxRefundID {
				refundKeys[op.Key.TxID] = true
			}
		}
	}
	assert.Equal(t, map[uint64]bool{1: true, 2: true}, refundKeys)

	tx := second.Transactions[0]
	assert.Equal(t, uint64(2), tx.TxID)
	for _, op := range tx.Ops {
		if op.Target == operation.CallContextID && op.Key.Field == operation.CtxTxID {
			assert.Equal(t, *uint256.NewInt(2), op.Value)
		}
	}
}
