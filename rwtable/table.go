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
	"slices"

	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/witness"
	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Table is the exported RW table of a build: the frozen operation log with
// its two canonical views. The chronological view is the log as built; the
// per-target view groups operations by target and key for the sorted-table
// half of the export.
type Table struct {
	ops []operation.Operation
}

// New wraps a finished operation log. The log is taken over, not copied.
func New(ops []operation.Operation) *Table {
	return &Table{ops: ops}
}

// FromTransaction builds the table of a single transaction witness.
func FromTransaction(tx *witness.Transaction) *Table {
	return New(tx.Ops)
}

// FromBlock builds the table of a block witness.
func FromBlock(b *witness.Block) *Table {
	return New(b.Ops())
}

func (t *Table) Len() int {
	return len(t.ops)
}

// Chronological returns the log ordered by counter, i.e. execution order.
func (t *Table) Chronological() []operation.Operation {
	return slices.Clone(t.ops)
}

// ByTarget returns the log grouped by target, then by key, with ties broken
// by counter. Within one key the counter order preserves the read-after-write
// chains the constraint system checks.
func (t *Table) ByTarget() []operation.Operation {
	view := slices.Clone(t.ops)
	slices.SortStableFunc(view, func(a, b operation.Operation) int {
		if a.Target != b.Target {
			return int(a.Target) - int(b.Target)
		}
		if c := a.Key.Compare(b.Key); c != 0 {
			return c
		}
		switch {
		case a.Counter < b.Counter:
			return -1
		case a.Counter > b.Counter:
			return 1
		}
		return 0
	})
	return view
}

// VerifyPermutation checks that a candidate view contains exactly the
// operations of the chronological log, nothing added, dropped or altered.
func (t *Table) VerifyPermutation(view []operation.Operation) error {
	if len(view) != len(t.ops) {
		return errors.Newf("view has %d operations, log has %d", len(view), len(t.ops))
	}
	counts := make(map[operation.Operation]int, len(t.ops))
	for _, op := range t.ops {
		counts[op]++
	}
	for _, op := range view {
		if counts[op] == 0 {
			return errors.Newf("operation with counter %d is not part of the log", op.Counter)
		}
		counts[op]--
	}
	return nil
}

// Counts is the read/write tally of one target.
type Counts struct {
	Reads  int
	Writes int
}

// TargetCounts tallies the log per target.
func (t *Table) TargetCounts() [operation.NumTargets]Counts {
	var counts [operation.NumTargets]Counts
	for _, op := range t.ops {
		if op.IsWrite {
			counts[op.Target].Writes++
		} else {
			counts[op.Target].Reads++
		}
	}
	return counts
}

// Summary renders a per-target overview of the log for console output.
func (t *Table) Summary() string {
	counts := t.TargetCounts()

	w := table.NewWriter()
	w.AppendHeader(table.Row{"Target", "Reads", "Writes", "Total"})
	var reads, writes int
	for target := operation.Target(0); target < operation.NumTargets; target++ {
		c := counts[target]
		if c.Reads == 0 && c.Writes == 0 {
			continue
		}
		w.AppendRow(table.Row{target.String(), c.Reads, c.Writes, c.Reads + c.Writes})
		reads += c.Reads
		writes += c.Writes
	}
	w.AppendFooter(table.Row{"Total", reads, writes, reads + writes})
	return w.Render()
}
