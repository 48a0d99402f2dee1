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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// TransactionInfo wraps one provided item with its position in the input.
type TransactionInfo[T any] struct {
	Block       int
	Transaction int
	Data        T
}

// Consumer is a call-back consuming one provided item; returning an error
// stops the provider.
type Consumer[T any] func(TransactionInfo[T]) error

// Provider is a source of transaction traces for a block range.
type Provider[T any] interface {
	// Run iterates items of blocks in [from, to] in input order, feeding
	// each to the consumer.
	Run(from int, to int, consumer Consumer[T]) error
	Close()
}

// traceRecord is one line of a trace file: a transaction trace with its
// block and transaction coordinates.
type traceRecord struct {
	Block       int      `json:"block"`
	Transaction int      `json:"tx"`
	Trace       *TxTrace `json:"trace"`
}

// NewFileProvider provides transaction traces from a newline-delimited JSON
// file of trace records.
func NewFileProvider(path string) (Provider[*TxTrace], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open trace file: %w", err)
	}
	return &fileProvider{file: file}, nil
}

type fileProvider struct {
	file *os.File
}

func (p *fileProvider) Run(from int, to int, consumer Consumer[*TxTrace]) (err error) {
	defer func() {
		err = errors.Join(err, p.file.Close())
	}()

	scanner := bufio.NewScanner(p.file)
	scanner.Buffer(make([]byte, 1024*1024), 512*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record traceRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return &TraceMalformedError{Detail: fmt.Sprintf("line %d: %v", line, err)}
		}
		if record.Trace == nil {
			return &TraceMalformedError{Detail: fmt.Sprintf("line %d: record without trace", line)}
		}
		if record.Block < from {
			continue
		}
		if record.Block > to {
			return nil
		}
		err := consumer(TransactionInfo[*TxTrace]{
			Block:       record.Block,
			Transaction: record.Transaction,
			Data:        record.Trace,
		})
		if err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("cannot read trace file: %w", err)
	}
	return nil
}

func (p *fileProvider) Close() {
}
