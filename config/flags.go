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

package config

import "github.com/urfave/cli/v2"

var (
	// ChainIDFlag defines the chain the traces were recorded on.
	ChainIDFlag = cli.IntFlag{
		Name:    "chainid",
		Aliases: []string{"chain-id"},
		Usage:   "ChainID for the trace source",
		Value:   146,
	}
	// WorkersFlag defines the number of concurrent transaction builds.
	WorkersFlag = cli.IntFlag{
		Name:    "workers",
		Aliases: []string{"w"},
		Usage:   "Number of worker threads building transaction witnesses",
		Value:   4,
	}
	// TraceFileFlag points at the newline-delimited JSON trace input.
	TraceFileFlag = cli.PathFlag{
		Name:  "trace-file",
		Usage: "Path to the recorded execution trace file",
	}
	// OutputFlag names the RW table output file; a .gz suffix selects
	// gzip-compressed output.
	OutputFlag = cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output file for the exported RW table",
	}
	// ProfileSqlite3Flag names an optional sqlite3 database the RW table is
	// additionally exported into.
	ProfileSqlite3Flag = cli.StringFlag{
		Name:  "profile-sqlite3",
		Usage: "Output sqlite3 database for the exported RW table",
	}
	// StoreDirFlag names an optional witness store directory.
	StoreDirFlag = cli.StringFlag{
		Name:  "store-dir",
		Usage: "Directory of the witness store to persist built witnesses into",
	}
	// ValidateFlag enables the permutation check between the chronological
	// and the per-target view before export.
	ValidateFlag = cli.BoolFlag{
		Name:  "validate",
		Usage: "Verify that the sorted table view is a permutation of the log",
		Value: true,
	}
	// SummaryFlag prints a per-target operation tally after the run.
	SummaryFlag = cli.BoolFlag{
		Name:  "summary",
		Usage: "Print a per-target summary of the exported table",
	}
)
