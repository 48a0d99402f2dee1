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

package rwtable

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/0xsoniclabs/busmap/operation"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/gzip"
	// the sql package needs the driver registered before Open
	_ "github.com/mattn/go-sqlite3"
)

const (
	createRowSQL = `
PRAGMA journal_mode = MEMORY;
CREATE TABLE IF NOT EXISTS rwTable (
	counter    INTEGER PRIMARY KEY,
	write      INTEGER,
	target     TEXT,
	address    TEXT,
	slot       TEXT,
	callId     INTEGER,
	pointer    INTEGER,
	txId       INTEGER,
	logId      INTEGER,
	field      INTEGER,
	idx        INTEGER,
	value      TEXT,
	valuePrev  TEXT,
	reversible INTEGER
);
`
	insertRowSQL = `
INSERT INTO rwTable (
	counter, write, target, address, slot, callId, pointer, txId, logId, field, idx, value, valuePrev, reversible
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)
`
)

// Row is the flattened export form of one operation.
type Row struct {
	Counter    uint64 `json:"counter" db:"counter"`
	Write      bool   `json:"write" db:"write"`
	Target     string `json:"target" db:"target"`
	Address    string `json:"address,omitempty" db:"address"`
	Slot       string `json:"slot,omitempty" db:"slot"`
	CallID     uint64 `json:"callId,omitempty" db:"callId"`
	Pointer    uint64 `json:"pointer,omitempty" db:"pointer"`
	TxID       uint64 `json:"txId,omitempty" db:"txId"`
	LogID      uint64 `json:"logId,omitempty" db:"logId"`
	Field      uint8  `json:"field,omitempty" db:"field"`
	Index      uint64 `json:"idx,omitempty" db:"idx"`
	Value      string `json:"value" db:"value"`
	ValuePrev  string `json:"valuePrev,omitempty" db:"valuePrev"`
	Reversible bool   `json:"reversible,omitempty" db:"reversible"`
}

func makeRow(op operation.Operation) Row {
	row := Row{
		Counter:    uint64(op.Counter),
		Write:      op.IsWrite,
		Target:     op.Target.String(),
		Address:    op.Key.Address.Hex(),
		Slot:       op.Key.Slot.Hex(),
		CallID:     op.Key.CallID,
		Pointer:    op.Key.Pointer,
		TxID:       op.Key.TxID,
		LogID:      op.Key.LogID,
		Field:      op.Key.Field,
		Index:      op.Key.Index,
		Value:      op.Value.Hex(),
		Reversible: op.Reversible,
	}
	if op.IsWrite {
		row.ValuePrev = op.ValuePrev.Hex()
	}
	return row
}

// Rows flattens the chronological log for export.
func (t *Table) Rows() []Row {
	rows := make([]Row, len(t.ops))
	for i, op := range t.ops {
		rows[i] = makeRow(op)
	}
	return rows
}

// WriteJSON writes the table as newline-delimited JSON, one row per line.
func (t *Table) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, op := range t.ops {
		if err := enc.Encode(makeRow(op)); err != nil {
			return fmt.Errorf("cannot encode table row %d: %w", op.Counter, err)
		}
	}
	return nil
}

// WriteJSONGz is WriteJSON through a gzip stream.
func (t *Table) WriteJSONGz(w io.Writer) (err error) {
	gz := gzip.NewWriter(w)
	defer func() {
		err = errors.Join(err, gz.Close())
	}()
	return t.WriteJSON(gz)
}

// ExportSqlite3 writes the table into the rwTable relation of the given
// database, creating the schema if needed. A single transaction with a
// prepared statement keeps the bulk insert efficient.
func (t *Table) ExportSqlite3(db *sqlx.DB) error {
	if _, err := db.Exec(createRowSQL); err != nil {
		return fmt.Errorf("cannot create rw table schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("cannot begin insert transaction: %w", err)
	}
	stmt, err := db.Prepare(insertRowSQL)
	if err != nil {
		return fmt.Errorf("cannot prepare insert statement: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, op := range t.ops {
		row := makeRow(op)
		_, err = tx.Stmt(stmt).Exec(
			row.Counter, row.Write, row.Target, row.Address, row.Slot,
			row.CallID, row.Pointer, row.TxID, row.LogID, row.Field, row.Index,
			row.Value, row.ValuePrev, row.Reversible,
		)
		if err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// ExportSqlite3File exports the table into a sqlite3 database file.
func (t *Table) ExportSqlite3File(path string) (err error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("cannot open sqlite3 database %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	// so that the bulk insert does not block on disk syncs
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		return err
	}
	return t.ExportSqlite3(db)
}
