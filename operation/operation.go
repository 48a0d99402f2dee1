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

package operation

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Target IDs of the state kinds recorded in the RW table
const (
	StackID Target = iota
	MemoryID
	StorageID
	AccountID
	AccountStorageID
	CallContextID
	TxAccessListAccountID
	TxAccessListAccountStorageID
	TxRefundID
	TxLogID
	TxReceiptID

	// WARNING: New IDs should be added here. Any change in the order of the
	// IDs above invalidates persisted witnesses and the backend's table layout.

	// NumTargets is number of distinct targets (must be last)
	NumTargets
)

// Target identifies the kind of state a single operation touches.
type Target byte

// targetDict relates a target's id with its label.
var targetDict = map[Target]string{
	StackID:                      "Stack",
	MemoryID:                     "Memory",
	StorageID:                    "Storage",
	AccountID:                    "Account",
	AccountStorageID:             "AccountStorage",
	CallContextID:                "CallContext",
	TxAccessListAccountID:        "TxAccessListAccount",
	TxAccessListAccountStorageID: "TxAccessListAccountStorage",
	TxRefundID:                   "TxRefund",
	TxLogID:                      "TxLog",
	TxReceiptID:                  "TxReceipt",
}

// String retrieves the label of a target.
func (t Target) String() string {
	label, ok := targetDict[t]
	if !ok {
		return fmt.Sprintf("Target(%d)", byte(t))
	}
	return label
}

// CreateIdLabelMap returns a map of target ID and target name.
func CreateIdLabelMap() map[Target]string {
	ret := make(map[Target]string, NumTargets)
	for id := Target(0); id < NumTargets; id++ {
		ret[id] = id.String()
	}
	return ret
}

// MaxRWCounter is the largest counter value the downstream table encoding
// can represent; builds exceeding it must abort.
const MaxRWCounter = RWCounter(1<<32 - 1)

// RWCounter is the global monotonic sequence id assigned to every state
// operation of one transaction build.
type RWCounter uint64

// Operation is one counter-stamped read or write of a single state target.
// Operations are created once during a build and are immutable afterwards.
type Operation struct {
	Counter    RWCounter
	IsWrite    bool
	Target     Target
	Key        Key
	Value      uint256.Int
	ValuePrev  uint256.Int // meaningful for writes only
	Reversible bool
}

func (op *Operation) String() string {
	rw := "read"
	if op.IsWrite {
		rw = "write"
	}
	return fmt.Sprintf("%d: %s %s %s value=%s prev=%s",
		op.Counter, rw, op.Target, op.Key.String(op.Target), op.Value.Hex(), op.ValuePrev.Hex())
}
