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

package main

import (
	"fmt"
	"os"

	"github.com/0xsoniclabs/busmap/config"
	"github.com/0xsoniclabs/busmap/logger"
	"github.com/urfave/cli/v2"
)

// TraceApp defines metadata and configuration options of the busmap-trace
// executable.
var TraceApp = cli.App{
	Action:    RunBusmapTrace,
	Name:      "Busmap Witness Generation Tool",
	HelpName:  "busmap-trace",
	Usage:     "fold recorded execution traces into circuit-consumable RW tables",
	Copyright: "(c) 2025 Sonic Labs",
	ArgsUsage: "<blockNumFirst> <blockNumLast>",
	Flags: []cli.Flag{
		&config.ChainIDFlag,
		&config.WorkersFlag,
		&logger.LogLevelFlag,

		// input
		&config.TraceFileFlag,

		// output
		&config.OutputFlag,
		&config.ProfileSqlite3Flag,
		&config.StoreDirFlag,
		&config.ValidateFlag,
		&config.SummaryFlag,
	},
	Description: "Replays recorded transaction traces into globally ordered read/write operation logs",
}

// main implements the busmap-trace cli.
func main() {
	if err := TraceApp.Run(os.Args); err != nil {
		code := 1
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}
