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
	"encoding/json"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// StructLog is one raw step record as emitted by the standard struct-logger
// tracer of an execution client.
type StructLog struct {
	PC      uint64                      `json:"pc"`
	Op      string                      `json:"op"`
	Gas     uint64                      `json:"gas"`
	GasCost uint64                      `json:"gasCost"`
	Depth   int                         `json:"depth"`
	Error   string                      `json:"error,omitempty"`
	Stack   []hexutil.U256              `json:"stack"`
	Memory  hexutil.Bytes               `json:"memory,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
	Refund  uint64                      `json:"refund,omitempty"`
}

// TxTrace is the raw trace of one executed transaction, together with the
// envelope data the witness builder needs for its begin/end bookkeeping.
type TxTrace struct {
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to,omitempty"` // nil for contract creation
	Nonce       uint64          `json:"nonce"`
	Value       hexutil.U256    `json:"value"`
	Gas         uint64          `json:"gas"` // gas limit
	GasUsed     uint64          `json:"gasUsed"`
	GasPrice    hexutil.U256    `json:"gasPrice"`
	Failed      bool            `json:"failed"`
	ReturnValue hexutil.Bytes   `json:"returnValue,omitempty"`
	StructLogs  []StructLog     `json:"structLogs"`
}

// BlockTrace wraps the traces of all transactions of one block together with
// the state-root transition claimed for it.
type BlockTrace struct {
	Number          uint64      `json:"number"`
	StateRootBefore common.Hash `json:"stateRootBefore"`
	StateRootAfter  common.Hash `json:"stateRootAfter"`
	Transactions    []*TxTrace  `json:"transactions"`
}

// ExecStep is the normalized record of one opcode's execution. Stack and
// memory are the before-state of the step. CallID is assigned by the witness
// builder when the step is folded into its call frame.
type ExecStep struct {
	PC      uint64
	Op      vm.OpCode
	Gas     uint64
	GasCost uint64
	Depth   int
	Err     string
	Stack   []uint256.Int
	Memory  []byte
	Storage map[common.Hash]common.Hash
	Refund  uint64

	CallID uint64
	// half-open range of operation indices emitted for this step
	OpBegin, OpEnd int
}

// StackLen returns the number of stack entries before the step executes.
func (s *ExecStep) StackLen() int {
	return len(s.Stack)
}

// StackBack returns the n-th stack entry counted from the top (0 = top).
func (s *ExecStep) StackBack(n int) uint256.Int {
	return s.Stack[len(s.Stack)-1-n]
}

// DecodeTxTrace reads one transaction trace from JSON.
func DecodeTxTrace(r io.Reader) (*TxTrace, error) {
	var tx TxTrace
	if err := json.NewDecoder(r).Decode(&tx); err != nil {
		return nil, &TraceMalformedError{Detail: err.Error()}
	}
	return &tx, nil
}

// DecodeBlockTrace reads one block trace from JSON.
func DecodeBlockTrace(r io.Reader) (*BlockTrace, error) {
	var blk BlockTrace
	if err := json.NewDecoder(r).Decode(&blk); err != nil {
		return nil, &TraceMalformedError{Detail: err.Error()}
	}
	return &blk, nil
}
