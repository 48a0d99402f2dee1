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

package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/witness"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// ErrNotFound is returned when the requested witness is not in the store.
var ErrNotFound = errors.New("witness not found in store")

const (
	blockKeyPrefix = 'b'
	txKeyPrefix    = 't'
)

// chainIDKey holds the chain the store's witnesses belong to; mixing chains
// in one store is rejected at open time.
var chainIDKey = []byte("m_chainid")

// Store persists built witnesses keyed by block and transaction number, so
// that downstream provers can fetch them without re-folding the traces.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) a witness store at the given path, pinned to the
// given chain.
func Open(path string, chainID int) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot open witness store %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.verifyChainID(chainID); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

// OpenMemory opens a store backed by volatile memory.
func OpenMemory(chainID int) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("cannot open in-memory witness store: %w", err)
	}
	s := &Store{db: db}
	if err := s.verifyChainID(chainID); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

// verifyChainID records the chain ID in a fresh store and rejects opening an
// existing store under a different chain.
func (s *Store) verifyChainID(chainID int) error {
	data, err := s.db.Get(chainIDKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(chainID))
		return s.db.Put(chainIDKey, value, nil)
	}
	if err != nil {
		return fmt.Errorf("cannot read chain id of witness store: %w", err)
	}
	stored := int(binary.BigEndian.Uint64(data))
	if stored != chainID {
		return fmt.Errorf("witness store belongs to chain %d, configured chain is %d", stored, chainID)
	}
	return nil
}

// ChainID returns the chain the store is pinned to.
func (s *Store) ChainID() (int, error) {
	data, err := s.db.Get(chainIDKey, nil)
	if err != nil {
		return 0, fmt.Errorf("cannot read chain id of witness store: %w", err)
	}
	return int(binary.BigEndian.Uint64(data)), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// txRecord is the persisted form of a transaction witness. The normalized
// steps are deliberately not stored; the operation log is the product.
type txRecord struct {
	TxID     uint64
	Nonce    uint64
	GasLimit uint64
	GasUsed  uint64
	Status   bool
	Ops      []operation.Operation
}

type blockRecord struct {
	Number          uint64
	StateRootBefore common.Hash
	StateRootAfter  common.Hash
	TxCount         int
}

func blockKey(number uint64) []byte {
	key := make([]byte, 9)
	key[0] = blockKeyPrefix
	binary.BigEndian.PutUint64(key[1:], number)
	return key
}

func txKey(number, txID uint64) []byte {
	key := make([]byte, 17)
	key[0] = txKeyPrefix
	binary.BigEndian.PutUint64(key[1:], number)
	binary.BigEndian.PutUint64(key[9:], txID)
	return key
}

// PutTransaction stores one transaction witness under its block number.
func (s *Store) PutTransaction(block uint64, tx *witness.Transaction) error {
	record := txRecord{
		TxID:     tx.TxID,
		Nonce:    tx.Nonce,
		GasLimit: tx.GasLimit,
		GasUsed:  tx.GasUsed,
		Status:   tx.Status,
		Ops:      tx.Ops,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cannot encode witness of tx %d: %w", tx.TxID, err)
	}
	return s.db.Put(txKey(block, tx.TxID), data, nil)
}

// GetTransaction loads one transaction witness.
func (s *Store) GetTransaction(block, txID uint64) (*witness.Transaction, error) {
	data, err := s.db.Get(txKey(block, txID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "tx %d of block %d", txID, block)
		}
		return nil, fmt.Errorf("cannot read witness of tx %d in block %d: %w", txID, block, err)
	}
	var record txRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("cannot decode witness of tx %d in block %d: %w", txID, block, err)
	}
	return &witness.Transaction{
		TxID:     record.TxID,
		Nonce:    record.Nonce,
		GasLimit: record.GasLimit,
		GasUsed:  record.GasUsed,
		Status:   record.Status,
		Ops:      record.Ops,
	}, nil
}

// PutBlock stores a block witness and all its transactions.
func (s *Store) PutBlock(b *witness.Block) error {
	record := blockRecord{
		Number:          b.Number,
		StateRootBefore: b.StateRootBefore,
		StateRootAfter:  b.StateRootAfter,
		TxCount:         len(b.Transactions),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cannot encode witness of block %d: %w", b.Number, err)
	}
	if err := s.db.Put(blockKey(b.Number), data, nil); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		if err := s.PutTransaction(b.Number, tx); err != nil {
			return err
		}
	}
	return nil
}

// GetBlock loads a block witness with all its transactions.
func (s *Store) GetBlock(number uint64) (*witness.Block, error) {
	data, err := s.db.Get(blockKey(number), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "block %d", number)
		}
		return nil, fmt.Errorf("cannot read witness of block %d: %w", number, err)
	}
	var record blockRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("cannot decode witness of block %d: %w", number, err)
	}

	block := &witness.Block{
		Number:          record.Number,
		StateRootBefore: record.StateRootBefore,
		StateRootAfter:  record.StateRootAfter,
	}
	for txID := uint64(1); ; txID++ {
		tx, err := s.GetTransaction(number, txID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, tx)
	}
	if len(block.Transactions) != record.TxCount {
		return nil, fmt.Errorf("witness of block %d is incomplete: %d of %d transactions present",
			number, len(block.Transactions), record.TxCount)
	}
	return block, nil
}

// Blocks lists the numbers of all stored blocks in ascending order.
func (s *Store) Blocks() ([]uint64, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var numbers []uint64
	for iter.Next() {
		key := iter.Key()
		if len(key) == 9 && key[0] == blockKeyPrefix {
			numbers = append(numbers, binary.BigEndian.Uint64(key[1:]))
		}
	}
	return numbers, iter.Error()
}
