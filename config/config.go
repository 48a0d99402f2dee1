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

import (
	"fmt"
	"strconv"

	"github.com/0xsoniclabs/busmap/logger"
	"github.com/urfave/cli/v2"
)

// Config carries the effective settings of one witness-generation run.
type Config struct {
	AppName     string
	CommandName string

	ChainID        int
	LogLevel       string
	Workers        int
	TraceFile      string
	Output         string
	ProfileSqlite3 string
	StoreDir       string
	Validate       bool
	Summary        bool

	First uint64 // first block to process, inclusive
	Last  uint64 // last block to process, inclusive
}

// NewConfig builds the run configuration from cli flags and the positional
// <blockNumFirst> <blockNumLast> arguments. Without arguments the whole
// input is processed.
func NewConfig(ctx *cli.Context) (*Config, error) {
	cfg := createConfigFromFlags(ctx)
	if err := setBlockRange(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.First > cfg.Last {
		return nil, fmt.Errorf("first block %d is after last block %d", cfg.First, cfg.Last)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.Workers)
	}
	return cfg, nil
}

// createConfigFromFlags returns a Config with user specified values or the
// default ones.
func createConfigFromFlags(ctx *cli.Context) *Config {
	return &Config{
		AppName:     ctx.App.HelpName,
		CommandName: ctx.Command.Name,

		ChainID:        getFlagValue(ctx, ChainIDFlag).(int),
		LogLevel:       getFlagValue(ctx, logger.LogLevelFlag).(string),
		Workers:        getFlagValue(ctx, WorkersFlag).(int),
		TraceFile:      getFlagValue(ctx, TraceFileFlag).(string),
		Output:         getFlagValue(ctx, OutputFlag).(string),
		ProfileSqlite3: getFlagValue(ctx, ProfileSqlite3Flag).(string),
		StoreDir:       getFlagValue(ctx, StoreDirFlag).(string),
		Validate:       getFlagValue(ctx, ValidateFlag).(bool),
		Summary:        getFlagValue(ctx, SummaryFlag).(bool),
	}
}

func setBlockRange(ctx *cli.Context, cfg *Config) error {
	cfg.First = 0
	cfg.Last = ^uint64(0)

	args := ctx.Args()
	switch args.Len() {
	case 0:
		return nil
	case 2:
	default:
		return fmt.Errorf("command requires 0 or 2 arguments, got %d", args.Len())
	}

	first, err := strconv.ParseUint(args.Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("cannot parse first block %q: %w", args.Get(0), err)
	}
	last, err := strconv.ParseUint(args.Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("cannot parse last block %q: %w", args.Get(1), err)
	}
	cfg.First, cfg.Last = first, last
	return nil
}

// getFlagValue returns the value specified by the user if the flag is present
// in the cli context, otherwise the flag's default value.
func getFlagValue(ctx *cli.Context, flag interface{}) interface{} {
	cmdFlags := ctx.Command.Flags
	for _, cmdFlag := range cmdFlags {
		switch f := flag.(type) {
		case cli.IntFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Int(f.Name)
			}
		case cli.Uint64Flag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Uint64(f.Name)
			}
		case cli.StringFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.String(f.Name)
			}
		case cli.PathFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Path(f.Name)
			}
		case cli.BoolFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Bool(f.Name)
			}
		}
	}

	// flag not found, return the default value of the flag
	switch f := flag.(type) {
	case cli.IntFlag:
		return f.Value
	case cli.Uint64Flag:
		return f.Value
	case cli.StringFlag:
		return f.Value
	case cli.PathFlag:
		return f.Value
	case cli.BoolFlag:
		return f.Value
	}
	return nil
}
