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
	"github.com/holiman/uint256"
)

// StorageDiffKey addresses one touched storage slot in the transaction diff.
type StorageDiffKey struct {
	Address common.Address
	Slot    common.Hash
}

// AccountDiffKey addresses one touched account field in the transaction diff.
type AccountDiffKey struct {
	Address common.Address
	Field   uint8
}

// DiffEntry is the (old, new) value pair of one touched key, the input
// contract of the trie-witness generator.
type DiffEntry struct {
	Old uint256.Int
	New uint256.Int
}

// Transaction is the completed witness of one transaction: its call tree,
// normalized steps, the full operation log and the touched-state diff.
type Transaction struct {
	TxID     uint64
	Nonce    uint64
	GasLimit uint64
	GasUsed  uint64
	Status   bool

	Calls []*Call
	Steps []*trace.ExecStep
	Ops   []operation.Operation

	StorageDiff map[StorageDiffKey]DiffEntry
	AccountDiff map[AccountDiffKey]DiffEntry
}

// assemble freezes the builder's state into the immutable transaction
// witness, deriving the touched-state diff from the tracker.
func (b *Builder) assemble(tx *trace.TxTrace, steps []*trace.ExecStep) *Transaction {
	storageDiff := make(map[StorageDiffKey]DiffEntry)
	for _, key := range b.tracker.Touched(operation.StorageID) {
		old := b.tracker.Initial(operation.StorageID, key)
		current := b.tracker.Read(operation.StorageID, key)
		if old != current {
			storageDiff[StorageDiffKey{Address: key.Address, Slot: key.Slot}] = DiffEntry{Old: old, New: current}
		}
	}

	accountDiff := make(map[AccountDiffKey]DiffEntry)
	for _, key := range b.tracker.Touched(operation.AccountID) {
		old := b.tracker.Initial(operation.AccountID, key)
		current := b.tracker.Read(operation.AccountID, key)
		if old != current {
			accountDiff[AccountDiffKey{Address: key.Address, Field: key.Field}] = DiffEntry{Old: old, New: current}
		}
	}

	return &Transaction{
		TxID:        b.txID,
		Nonce:       tx.Nonce,
		GasLimit:    tx.Gas,
		GasUsed:     tx.GasUsed,
		Status:      !tx.Failed,
		Calls:       b.calls,
		Steps:       steps,
		Ops:         b.ops,
		StorageDiff: storageDiff,
		AccountDiff: accountDiff,
	}
}

// CounterEnd returns the last counter value the build consumed.
func (t *Transaction) CounterEnd() operation.RWCounter {
	if len(t.Ops) == 0 {
		return 0
	}
	return t.Ops[len(t.Ops)-1].Counter
}

// callScoped marks the targets whose keys embed a call ID and therefore
// shift when a transaction is renumbered into a block-wide log.
var callScoped = [operation.NumTargets]bool{
	operation.StackID:       true,
	operation.MemoryID:      true,
	operation.CallContextID: true,
}

// txScoped marks the targets whose keys embed a transaction ID and therefore
// shift when a transaction is renumbered behind preceding blocks.
var txScoped = [operation.NumTargets]bool{
	operation.TxAccessListAccountID:        true,
	operation.TxAccessListAccountStorageID: true,
	operation.TxRefundID:                   true,
	operation.TxLogID:                      true,
	operation.TxReceiptID:                  true,
}

// renumber shifts all counters, call IDs and transaction IDs of the
// transaction by deterministic offsets, preparing it for concatenation into
// a run-wide log. Relative order and values are untouched, except for the
// seeded transaction ID of the call contexts, which follows the shift.
func (t *Transaction) renumber(counterOffset operation.RWCounter, callOffset, txOffset uint64) {
	if counterOffset == 0 && callOffset == 0 && txOffset == 0 {
		return
	}
	t.TxID += txOffset
	for i := range t.Ops {
		t.Ops[i].Counter += counterOffset
		if callScoped[t.Ops[i].Target] {
			t.Ops[i].Key.CallID += callOffset
		}
		if txScoped[t.Ops[i].Target] {
			t.Ops[i].Key.TxID += txOffset
		}
		if t.Ops[i].Target == operation.CallContextID && t.Ops[i].Key.Field == operation.CtxTxID {
			shifted := new(uint256.Int).AddUint64(&t.Ops[i].Value, txOffset)
			t.Ops[i].Value = *shifted
		}
	}
	for _, call := range t.Calls {
		call.ID += callOffset
		if call.ParentID != 0 {
			call.ParentID += callOffset
		}
	}
	for _, step := range t.Steps {
		step.CallID += callOffset
	}
}

// applyDiff folds the transaction's touched-state diff into a pre-state so
// that the next transaction of a serial block build starts from this
// transaction's end state.
func (t *Transaction) applyDiff(prestate *Prestate) {
	if prestate.Storage == nil {
		prestate.Storage = make(map[common.Address]map[common.Hash]common.Hash)
	}
	if prestate.Balances == nil {
		prestate.Balances = make(map[common.Address]uint256.Int)
	}
	if prestate.Nonces == nil {
		prestate.Nonces = make(map[common.Address]uint64)
	}
	for key, entry := range t.StorageDiff {
		if prestate.Storage[key.Address] == nil {
			prestate.Storage[key.Address] = make(map[common.Hash]common.Hash)
		}
		prestate.Storage[key.Address][key.Slot] = entry.New.Bytes32()
	}
	for key, entry := range t.AccountDiff {
		switch key.Field {
		case operation.AccountBalance:
			prestate.Balances[key.Address] = entry.New
		case operation.AccountNonce:
			prestate.Nonces[key.Address] = entry.New.Uint64()
		}
	}
}
