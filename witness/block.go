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
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/0xsoniclabs/busmap/logger"
	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/trace"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockConfig controls how a block's transactions are built.
type BlockConfig struct {
	// Workers > 1 builds independent transactions concurrently; dependent
	// transactions fall back to serial order automatically.
	Workers int
}

// Block is the completed witness of one block: the concatenated transaction
// witnesses with block-wide renumbered counters and call IDs.
type Block struct {
	Number          uint64
	StateRootBefore common.Hash
	StateRootAfter  common.Hash
	Transactions    []*Transaction
}

// Ops flattens the block's operation log in chronological order.
func (b *Block) Ops() []operation.Operation {
	var ops []operation.Operation
	for _, tx := range b.Transactions {
		ops = append(ops, tx.Ops...)
	}
	return ops
}

// StorageDiff merges the per-transaction storage diffs into the final
// touched-slot mapping handed to the trie-witness generator. The first
// transaction touching a slot contributes the old value, the last one the
// new value.
func (b *Block) StorageDiff() map[StorageDiffKey]DiffEntry {
	merged := make(map[StorageDiffKey]DiffEntry)
	for _, tx := range b.Transactions {
		for key, entry := range tx.StorageDiff {
			if prior, ok := merged[key]; ok {
				merged[key] = DiffEntry{Old: prior.Old, New: entry.New}
			} else {
				merged[key] = entry
			}
		}
	}
	return merged
}

// ApplyDiff folds the block's touched-state diff into a pre-state, chaining
// it into the next block of a multi-block run.
func (b *Block) ApplyDiff(prestate *Prestate) {
	for _, tx := range b.Transactions {
		tx.applyDiff(prestate)
	}
}

// CounterEnd returns the last counter value of the block's log.
func (b *Block) CounterEnd() operation.RWCounter {
	if len(b.Transactions) == 0 {
		return 0
	}
	return b.Transactions[len(b.Transactions)-1].CounterEnd()
}

// CallCount returns the number of call frames across all transactions.
func (b *Block) CallCount() uint64 {
	var count uint64
	for _, tx := range b.Transactions {
		count += uint64(len(tx.Calls))
	}
	return count
}

// Renumber shifts the block's counters, call IDs and transaction IDs by the
// given offsets, preparing it for concatenation behind the logs of preceding
// blocks. Without the transaction-ID shift, transaction-scoped keys of equal
// in-block position would collide across blocks.
func (b *Block) Renumber(counterOffset operation.RWCounter, callOffset, txOffset uint64) {
	for _, tx := range b.Transactions {
		tx.renumber(counterOffset, callOffset, txOffset)
	}
}

// BuildBlock builds the witnesses of all transactions of a block and
// concatenates them with deterministic counter and call-ID offsets. Any
// transaction failure discards the whole block build.
func BuildBlock(blockTrace *trace.BlockTrace, prestate *Prestate, cfg *BlockConfig, log logger.Logger) (*Block, error) {
	if blockTrace == nil {
		return nil, &trace.TraceMalformedError{Detail: "nil block trace"}
	}

	var txs []*Transaction
	var err error
	if cfg != nil && cfg.Workers > 1 && len(blockTrace.Transactions) > 1 {
		txs, err = buildParallel(blockTrace, prestate, cfg.Workers, log)
	} else {
		txs, err = buildSerial(blockTrace, prestate)
	}
	if err != nil {
		return nil, err
	}

	concatenate(txs)
	return &Block{
		Number:          blockTrace.Number,
		StateRootBefore: blockTrace.StateRootBefore,
		StateRootAfter:  blockTrace.StateRootAfter,
		Transactions:    txs,
	}, nil
}

// buildSerial folds the transactions in order, chaining each transaction's
// end state into the next one's pre-state.
func buildSerial(blockTrace *trace.BlockTrace, prestate *Prestate) ([]*Transaction, error) {
	state := clonePrestate(prestate)
	txs := make([]*Transaction, 0, len(blockTrace.Transactions))
	var cumulativeGas uint64
	for i, txTrace := range blockTrace.Transactions {
		tx, err := buildTx(txTrace, uint64(i+1), state, cumulativeGas, nil)
		if err != nil {
			return nil, fmt.Errorf("cannot build witness of transaction %d: %w", i, err)
		}
		tx.applyDiff(state)
		cumulativeGas += tx.GasUsed
		txs = append(txs, tx)
	}
	return txs, nil
}

// buildParallel builds every transaction from the block's pre-state on a
// worker pool. If any two transactions turn out to touch overlapping
// persistent keys, or a build fails against the block pre-state because it
// depends on an earlier transaction, the block is rebuilt serially. A defect
// that survives the serial rebuild is genuine and reported from there.
func buildParallel(blockTrace *trace.BlockTrace, prestate *Prestate, workers int, log logger.Logger) ([]*Transaction, error) {
	count := len(blockTrace.Transactions)
	cumulativeGas := make([]uint64, count)
	for i := 1; i < count; i++ {
		cumulativeGas[i] = cumulativeGas[i-1] + blockTrace.Transactions[i-1].GasUsed
	}

	txs := make([]*Transaction, count)
	buildErrs := make([]error, count)
	jobs := make(chan int, count)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				buildErrs[i] = func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = NewPanicError(fmt.Sprintf("build of transaction %d panicked: %v", i, r), debug.Stack())
						}
					}()
					tx, err := buildTx(blockTrace.Transactions[i], uint64(i+1), clonePrestate(prestate), cumulativeGas[i], nil)
					if err != nil {
						return fmt.Errorf("cannot build witness of transaction %d: %w", i, err)
					}
					txs[i] = tx
					return nil
				}()
			}
		}()
	}
	for i := 0; i < count; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := errors.Join(buildErrs...); err != nil {
		if log != nil {
			log.Warningf("parallel transaction build failed, retrying serially: %v", err)
		}
		return buildSerial(blockTrace, prestate)
	}

	if overlaps(txs) {
		if log != nil {
			log.Warning("transactions touch overlapping state; falling back to serial build")
		}
		return buildSerial(blockTrace, prestate)
	}
	return txs, nil
}

// overlaps reports whether two transactions touched the same persistent key,
// i.e. their parallel builds were not actually independent.
func overlaps(txs []*Transaction) bool {
	type touchedKey struct {
		target operation.Target
		key    operation.Key
	}
	seen := make(map[touchedKey]int)
	for i, tx := range txs {
		for _, op := range tx.Ops {
			switch op.Target {
			case operation.StorageID, operation.AccountID, operation.AccountStorageID:
			default:
				continue
			}
			k := touchedKey{target: op.Target, key: op.Key}
			if owner, ok := seen[k]; ok && owner != i {
				return true
			}
			seen[k] = i
		}
	}
	return false
}

// concatenate renumbers the per-transaction logs into one block-wide log:
// counters continue across transactions, call IDs stay globally unique.
func concatenate(txs []*Transaction) {
	var counterOffset operation.RWCounter
	var callOffset uint64
	for _, tx := range txs {
		end := tx.CounterEnd()
		tx.renumber(counterOffset, callOffset, 0)
		counterOffset += end
		callOffset += uint64(len(tx.Calls))
	}
}

func clonePrestate(prestate *Prestate) *Prestate {
	clone := &Prestate{
		Balances: make(map[common.Address]uint256.Int),
		Nonces:   make(map[common.Address]uint64),
		Storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
	if prestate == nil {
		return clone
	}
	for addr, balance := range prestate.Balances {
		clone.Balances[addr] = balance
	}
	for addr, nonce := range prestate.Nonces {
		clone.Nonces[addr] = nonce
	}
	for addr, slots := range prestate.Storage {
		cloned := make(map[common.Hash]common.Hash, len(slots))
		for slot, value := range slots {
			cloned[slot] = value
		}
		clone.Storage[addr] = cloned
	}
	return clone
}
