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
	"strings"
	"time"

	"github.com/0xsoniclabs/busmap/config"
	"github.com/0xsoniclabs/busmap/logger"
	"github.com/0xsoniclabs/busmap/operation"
	"github.com/0xsoniclabs/busmap/rwtable"
	"github.com/0xsoniclabs/busmap/store"
	"github.com/0xsoniclabs/busmap/trace"
	"github.com/0xsoniclabs/busmap/witness"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
)

// RunBusmapTrace folds the trace file into one concatenated RW table and
// exports it to the configured sinks.
func RunBusmapTrace(ctx *cli.Context) (err error) {
	cfg, err := config.NewConfig(ctx)
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.LogLevel, "busmap-trace")

	if cfg.TraceFile == "" {
		return fmt.Errorf("no trace file given, use --%s", config.TraceFileFlag.Name)
	}
	provider, err := trace.NewFileProvider(cfg.TraceFile)
	if err != nil {
		return err
	}
	defer provider.Close()

	var witnessStore *store.Store
	if cfg.StoreDir != "" {
		witnessStore, err = store.Open(cfg.StoreDir, cfg.ChainID)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, witnessStore.Close())
		}()
	}

	start := time.Now()
	table, blocks, err := buildTable(cfg, provider, witnessStore, log)
	if err != nil {
		return err
	}
	hours, minutes, seconds := logger.ParseTime(time.Since(start))
	log.Noticef("built %d operations from %d blocks in %dh %dm %ds",
		table.Len(), blocks, hours, minutes, seconds)

	if cfg.Validate {
		if err := table.VerifyPermutation(table.ByTarget()); err != nil {
			return fmt.Errorf("table view verification failed: %w", err)
		}
		log.Infof("sorted view verified as permutation of the log")
	}

	if err := exportTable(cfg, table, log); err != nil {
		return err
	}
	if cfg.Summary {
		log.Noticef("per-target table summary\n%s", table.Summary())
	}
	return nil
}

// buildTable folds all blocks of the configured range into one table,
// chaining the pre-state and renumbering each block behind its predecessors.
func buildTable(cfg *config.Config, provider trace.Provider[*trace.TxTrace], witnessStore *store.Store, log logger.Logger) (*rwtable.Table, int, error) {
	var (
		ops       []operation.Operation
		prestate  = &witness.Prestate{}
		buildCfg  = &witness.BlockConfig{Workers: cfg.Workers}
		counter   operation.RWCounter
		calls     uint64
		txs       uint64
		blocks    int
		current   = -1
		currentTx []*trace.TxTrace
	)

	flush := func() error {
		if current < 0 {
			return nil
		}
		blockTrace := &trace.BlockTrace{
			Number:       uint64(current),
			Transactions: currentTx,
		}
		block, err := witness.BuildBlock(blockTrace, prestate, buildCfg, log)
		if err != nil {
			return fmt.Errorf("cannot build witness of block %d: %w", current, err)
		}
		block.ApplyDiff(prestate)

		// stored witnesses stay block local; renumbering happens afterwards,
		// only for the concatenated table
		if witnessStore != nil {
			if err := witnessStore.PutBlock(block); err != nil {
				return fmt.Errorf("cannot store witness of block %d: %w", current, err)
			}
		}

		end := block.CounterEnd()
		block.Renumber(counter, calls, txs)
		counter += end
		calls += block.CallCount()
		txs += uint64(len(block.Transactions))

		ops = append(ops, block.Ops()...)
		blocks++
		log.Debugf("block %d: %d transactions, %d operations", current, len(currentTx), len(block.Ops()))
		currentTx = nil
		return nil
	}

	err := provider.Run(int(cfg.First), last(cfg), func(info trace.TransactionInfo[*trace.TxTrace]) error {
		if info.Block != current {
			if err := flush(); err != nil {
				return err
			}
			current = info.Block
		}
		currentTx = append(currentTx, info.Data)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if err := flush(); err != nil {
		return nil, 0, err
	}
	return rwtable.New(ops), blocks, nil
}

func exportTable(cfg *config.Config, table *rwtable.Table, log logger.Logger) error {
	if cfg.Output != "" {
		if err := writeOutput(cfg.Output, table); err != nil {
			return err
		}
		log.Noticef("RW table written to %s", cfg.Output)
	}
	if cfg.ProfileSqlite3 != "" {
		if err := table.ExportSqlite3File(cfg.ProfileSqlite3); err != nil {
			return err
		}
		log.Noticef("RW table exported to sqlite3 database %s", cfg.ProfileSqlite3)
	}
	return nil
}

func writeOutput(path string, table *rwtable.Table) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	if strings.HasSuffix(path, ".gz") {
		return table.WriteJSONGz(file)
	}
	return table.WriteJSON(file)
}

// last clamps the configured last block to the provider's int range.
func last(cfg *config.Config) int {
	if cfg.Last > uint64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(cfg.Last)
}
