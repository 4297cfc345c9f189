/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup builds the logger for environment and installs it as log.Logger. Development gets
// colored console output at debug level; everything else gets JSON lines at info. A
// non-empty level overrides the default.
func Setup(environment, level string) zerolog.Logger {
	return New(os.Stdout, environment, level)
}

// New is Setup with an explicit writer.
func New(w io.Writer, environment, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	development := environment == "development"
	if development {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).With().Timestamp().Str("env", environment).Logger().Level(levelFor(development, level))
	log.Logger = logger
	return logger
}

func levelFor(development bool, level string) zerolog.Level {
	if level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			return lvl
		}
	}
	if development {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
