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
	"bytes"
	"cmp"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Account field tags for AccountID operations.
const (
	AccountNonce uint8 = iota
	AccountBalance
	AccountCodeHash
)

// Call-context field tags for CallContextID operations.
const (
	CtxTxID uint8 = iota
	CtxDepth
	CtxCallerID
	CtxCallerAddress
	CtxCalleeAddress
	CtxValue
	CtxIsStatic
	CtxIsSuccess
	CtxTxOrigin
	CtxTxGasPrice
)

// Log field tags for TxLogID operations.
const (
	LogAddress uint8 = iota
	LogTopic
	LogData
)

// Receipt field tags for TxReceiptID operations.
const (
	ReceiptPostStateOrStatus uint8 = iota
	ReceiptCumulativeGasUsed
	ReceiptLogLength
)

// Key is the composite lookup key of an operation. Only the fields meaningful
// for the operation's target are set; the rest stay zero so that Key remains
// comparable and usable as a map key.
//
//	Stack:                      CallID, Pointer (slot index from stack bottom)
//	Memory:                     CallID, Pointer (byte address)
//	Storage:                    Address, Slot
//	Account:                    Address, Field
//	AccountStorage:             Address, Slot (committed, start-of-tx view)
//	CallContext:                CallID, Field
//	TxAccessListAccount:        TxID, Address
//	TxAccessListAccountStorage: TxID, Address, Slot
//	TxRefund:                   TxID
//	TxLog:                      TxID, LogID, Field, Index
//	TxReceipt:                  TxID, Field
type Key struct {
	Address common.Address
	Slot    common.Hash
	CallID  uint64
	Pointer uint64
	TxID    uint64
	LogID   uint64
	Field   uint8
	Index   uint64
}

// Compare orders two keys of the same target for the per-target table view.
// The order of compared fields is part of the exported table contract.
func (k Key) Compare(other Key) int {
	if c := bytes.Compare(k.Address[:], other.Address[:]); c != 0 {
		return c
	}
	if c := bytes.Compare(k.Slot[:], other.Slot[:]); c != 0 {
		return c
	}
	if c := cmp.Compare(k.TxID, other.TxID); c != 0 {
		return c
	}
	if c := cmp.Compare(k.CallID, other.CallID); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Pointer, other.Pointer); c != 0 {
		return c
	}
	if c := cmp.Compare(k.LogID, other.LogID); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Field, other.Field); c != 0 {
		return c
	}
	return cmp.Compare(k.Index, other.Index)
}

// String renders the key fields meaningful for the given target.
func (k Key) String(target Target) string {
	switch target {
	case StackID, MemoryID:
		return fmt.Sprintf("{call=%d ptr=%d}", k.CallID, k.Pointer)
	case StorageID, AccountStorageID:
		return fmt.Sprintf("{addr=%s slot=%s}", k.Address, k.Slot)
	case AccountID:
		return fmt.Sprintf("{addr=%s field=%d}", k.Address, k.Field)
	case CallContextID:
		return fmt.Sprintf("{call=%d field=%d}", k.CallID, k.Field)
	case TxAccessListAccountID:
		return fmt.Sprintf("{tx=%d addr=%s}", k.TxID, k.Address)
	case TxAccessListAccountStorageID:
		return fmt.Sprintf("{tx=%d addr=%s slot=%s}", k.TxID, k.Address, k.Slot)
	case TxRefundID:
		return fmt.Sprintf("{tx=%d}", k.TxID)
	case TxLogID:
		return fmt.Sprintf("{tx=%d log=%d field=%d idx=%d}", k.TxID, k.LogID, k.Field, k.Index)
	case TxReceiptID:
		return fmt.Sprintf("{tx=%d field=%d}", k.TxID, k.Field)
	default:
		return fmt.Sprintf("%+v", struct {
			Key
		}{k})
	}
}

// StackKey addresses one stack slot of a call; slot counts from the stack bottom.
func StackKey(callID uint64, slot uint64) Key {
	return Key{CallID: callID, Pointer: slot}
}

// MemoryKey addresses one memory byte of a call.
func MemoryKey(callID uint64, addr uint64) Key {
	return Key{CallID: callID, Pointer: addr}
}

// StorageKey addresses one persistent storage slot.
func StorageKey(addr common.Address, slot common.Hash) Key {
	return Key{Address: addr, Slot: slot}
}

// AccountKey addresses one field of an account.
func AccountKey(addr common.Address, field uint8) Key {
	return Key{Address: addr, Field: field}
}

// CallContextKey addresses one context field of a call.
func CallContextKey(callID uint64, field uint8) Key {
	return Key{CallID: callID, Field: field}
}

// AccessListAccountKey addresses the warm/cold flag of an account in a transaction.
func AccessListAccountKey(txID uint64, addr common.Address) Key {
	return Key{TxID: txID, Address: addr}
}

// AccessListSlotKey addresses the warm/cold flag of a storage slot in a transaction.
func AccessListSlotKey(txID uint64, addr common.Address, slot common.Hash) Key {
	return Key{TxID: txID, Address: addr, Slot: slot}
}

// RefundKey addresses the accumulated gas refund of a transaction.
func RefundKey(txID uint64) Key {
	return Key{TxID: txID}
}

// LogKey addresses one field entry of one log of a transaction.
func LogKey(txID, logID uint64, field uint8, index uint64) Key {
	return Key{TxID: txID, LogID: logID, Field: field, Index: index}
}

// ReceiptKey addresses one receipt field of a transaction.
func ReceiptKey(txID uint64, field uint8) Key {
	return Key{TxID: txID, Field: field}
}
