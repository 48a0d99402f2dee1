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

package logger

import (
	"os"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli/v2"
)

// Logger is the logging interface handed out to all components.
type Logger = *logging.Logger

// LogLevelFlag enables users to pick the amount of logging detail.
var LogLevelFlag = cli.StringFlag{
	Name:    "log",
	Aliases: []string{"l"},
	Usage:   "Level of the logging of the app action (\"critical\", \"error\", \"warning\", \"notice\", \"info\", \"debug\"; default: INFO)",
	Value:   "info",
}

const logFormat = "%{time:2006/01/02 15:04:05} %{color}%{level:-8s}%{color:reset} %{module}: %{message}"

// NewLogger provides a new instance of the Logger based on the wanted level and module.
// An unknown level falls back to INFO.
func NewLogger(level string, module string) Logger {
	backend := logging.NewLogBackend(os.Stdout, "", 0)
	fm := logging.MustStringFormatter(logFormat)
	fmtBackend := logging.NewBackendFormatter(backend, fm)

	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}
	lvlBackend := logging.AddModuleLevel(fmtBackend)
	lvlBackend.SetLevel(lvl, "")

	logging.SetBackend(lvlBackend)
	return logging.MustGetLogger(module)
}

// ParseTime splits an elapsed duration into hours, minutes and seconds for progress reports.
func ParseTime(elapsed time.Duration) (uint32, uint32, uint32) {
	hours := uint32(elapsed.Seconds()) / (60 * 60)
	minutes := (uint32(elapsed.Seconds()) / 60) % 60
	seconds := uint32(elapsed.Seconds()) % 60

	return hours, minutes, seconds
}
