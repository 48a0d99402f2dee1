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
	"github.com/ethereum/go-ethereum/core/vm"
)

// MemRule describes how an opcode touches memory; the ingestor uses it to
// validate memory growth between consecutive steps.
type MemRule byte

const (
	MemNone      MemRule = iota
	MemReadWord          // reads 32 bytes at stack[top]
	MemWriteWord         // writes 32 bytes at stack[top]
	MemWriteByte         // writes 1 byte at stack[top]
	MemReadRange         // reads stack[top+1] bytes at stack[top]
	MemWriteRange        // writes stack[top+2] bytes at stack[top]
	MemInitCode          // reads stack[top+2] bytes at stack[top+1]
)

// OpSpec is the static effect declaration of one supported opcode.
type OpSpec struct {
	Pops   int
	Pushes int
	Memory MemRule
}

// opSpecs is the closed set of opcodes the bus-mapping layer understands.
// A trace step with an opcode outside this table fails ingestion.
var opSpecs = buildOpSpecs()

// opNames resolves the struct-logger's opcode names back to opcodes; derived
// from opSpecs so both stay in sync.
var opNames = buildOpNames()

func buildOpSpecs() map[vm.OpCode]OpSpec {
	specs := map[vm.OpCode]OpSpec{
		vm.STOP:       {0, 0, MemNone},
		vm.ADD:        {2, 1, MemNone},
		vm.MUL:        {2, 1, MemNone},
		vm.SUB:        {2, 1, MemNone},
		vm.DIV:        {2, 1, MemNone},
		vm.SDIV:       {2, 1, MemNone},
		vm.MOD:        {2, 1, MemNone},
		vm.SMOD:       {2, 1, MemNone},
		vm.ADDMOD:     {3, 1, MemNone},
		vm.MULMOD:     {3, 1, MemNone},
		vm.EXP:        {2, 1, MemNone},
		vm.SIGNEXTEND: {2, 1, MemNone},

		vm.LT:     {2, 1, MemNone},
		vm.GT:     {2, 1, MemNone},
		vm.SLT:    {2, 1, MemNone},
		vm.SGT:    {2, 1, MemNone},
		vm.EQ:     {2, 1, MemNone},
		vm.ISZERO: {1, 1, MemNone},
		vm.AND:    {2, 1, MemNone},
		vm.OR:     {2, 1, MemNone},
		vm.XOR:    {2, 1, MemNone},
		vm.NOT:    {1, 1, MemNone},
		vm.BYTE:   {2, 1, MemNone},
		vm.SHL:    {2, 1, MemNone},
		vm.SHR:    {2, 1, MemNone},
		vm.SAR:    {2, 1, MemNone},

		vm.KECCAK256: {2, 1, MemReadRange},

		vm.ADDRESS:        {0, 1, MemNone},
		vm.ORIGIN:         {0, 1, MemNone},
		vm.CALLER:         {0, 1, MemNone},
		vm.CALLVALUE:      {0, 1, MemNone},
		vm.CALLDATALOAD:   {1, 1, MemNone},
		vm.CALLDATASIZE:   {0, 1, MemNone},
		vm.CALLDATACOPY:   {3, 0, MemWriteRange},
		vm.CODESIZE:       {0, 1, MemNone},
		vm.CODECOPY:       {3, 0, MemWriteRange},
		vm.GASPRICE:       {0, 1, MemNone},
		vm.RETURNDATASIZE: {0, 1, MemNone},

		vm.POP:      {1, 0, MemNone},
		vm.MLOAD:    {1, 1, MemReadWord},
		vm.MSTORE:   {2, 0, MemWriteWord},
		vm.MSTORE8:  {2, 0, MemWriteByte},
		vm.SLOAD:    {1, 1, MemNone},
		vm.SSTORE:   {2, 0, MemNone},
		vm.JUMP:     {1, 0, MemNone},
		vm.JUMPI:    {2, 0, MemNone},
		vm.PC:       {0, 1, MemNone},
		vm.MSIZE:    {0, 1, MemNone},
		vm.GAS:      {0, 1, MemNone},
		vm.JUMPDEST: {0, 0, MemNone},

		vm.CREATE:  {3, 1, MemInitCode},
		vm.CREATE2: {4, 1, MemInitCode},

		vm.CALL:         {7, 1, MemNone},
		vm.CALLCODE:     {7, 1, MemNone},
		vm.DELEGATECALL: {6, 1, MemNone},
		vm.STATICCALL:   {6, 1, MemNone},

		vm.RETURN: {2, 0, MemReadRange},
		vm.REVERT: {2, 0, MemReadRange},
	}

	specs[vm.PUSH0] = OpSpec{0, 1, MemNone}
	for op := vm.PUSH1; op <= vm.PUSH32; op++ {
		specs[op] = OpSpec{0, 1, MemNone}
	}
	for i, op := 1, vm.DUP1; op <= vm.DUP16; i, op = i+1, op+1 {
		specs[op] = OpSpec{i, i + 1, MemNone}
	}
	for i, op := 1, vm.SWAP1; op <= vm.SWAP16; i, op = i+1, op+1 {
		specs[op] = OpSpec{i + 1, i + 1, MemNone}
	}
	for i, op := 0, vm.LOG0; op <= vm.LOG4; i, op = i+1, op+1 {
		specs[op] = OpSpec{2 + i, 0, MemReadRange}
	}

	return specs
}

func buildOpNames() map[string]vm.OpCode {
	names := make(map[string]vm.OpCode, len(opSpecs))
	for op := range opSpecs {
		names[op.String()] = op
	}
	return names
}

// Spec returns the static effect declaration of op.
func Spec(op vm.OpCode) (OpSpec, bool) {
	spec, ok := opSpecs[op]
	return spec, ok
}

// ParseOpcode resolves a struct-logger opcode name to the opcode.
func ParseOpcode(name string) (vm.OpCode, bool) {
	op, ok := opNames[name]
	return op, ok
}

// IsCallFamily reports whether op opens a new call frame.
func IsCallFamily(op vm.OpCode) bool {
	switch op {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL, vm.CREATE, vm.CREATE2:
		return true
	}
	return false
}

// IsExit reports whether op closes the current call frame.
func IsExit(op vm.OpCode) bool {
	switch op {
	case vm.STOP, vm.RETURN, vm.REVERT:
		return true
	}
	return false
}
