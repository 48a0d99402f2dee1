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
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestOperation_AllTargetsAreLabeled(t *testing.T) {
	labels := CreateIdLabelMap()
	assert.Len(t, labels, int(NumTargets))
	for id, label := range labels {
		assert.NotEmpty(t, label, "target %d has no label", id)
		assert.NotContains(t, label, "Target(", "target %d has no dictionary entry", id)
	}
}

func TestOperation_String(t *testing.T) {
	op := Operation{
		Counter: 7,
		IsWrite: true,
		Target:  StorageID,
		Key:     StorageKey(common.Address{0x01}, common.Hash{0x02}),
		Value:   *uint256.NewInt(5),
	}
	s := op.String()
	assert.Contains(t, s, "write")
	assert.Contains(t, s, "Storage")
	assert.Contains(t, s, "7:")
}

func TestKey_CompareOrdersByAddressFirst(t *testing.T) {
	a := StorageKey(common.Address{0x01}, common.Hash{0xff})
	b := StorageKey(common.Address{0x02}, common.Hash{0x00})
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestKey_CompareOrdersSlotsWithinAddress(t *testing.T) {
	a := StorageKey(common.Address{0x01}, common.Hash{0x01})
	b := StorageKey(common.Address{0x01}, common.Hash{0x02})
	assert.Negative(t, a.Compare(b))
}

func TestKey_CompareOrdersStackSlots(t *testing.T) {
	a := StackKey(1, 0)
	b := StackKey(1, 1)
	c := StackKey(2, 0)
	assert.Negative(t, a.Compare(b))
	assert.Negative(t, b.Compare(c))
}

func TestKey_StringRendersTargetSpecificFields(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		key    Key
		want   string
	}{
		{"stack", StackID, StackKey(3, 4), "{call=3 ptr=4}"},
		{"refund", TxRefundID, RefundKey(9), "{tx=9}"},
		{"receipt", TxReceiptID, ReceiptKey(9, ReceiptLogLength), "{tx=9 field=2}"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, test.key.String(test.target))
		})
	}
}
