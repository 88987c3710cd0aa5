/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Domain names the two halves of the engine spec §5 keeps strictly apart:
// the realtime cycle driver and everything else that mutates the graph
// through the single control-domain mutator.
const (
	DomainControl  = "control"
	DomainRealtime = "realtime"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// WithComponent returns a child logger carrying domain and component as
// structured fields on every subsequent event, so a line from
// session.Manager can't be mistaken for one from the realtime driver even
// after both land in the same JSON stream. session, compiler, and driver
// each call this from their SetLogger method with their own component name.
func WithComponent(logger zerolog.Logger, domain, component string) zerolog.Logger {
	return logger.With().Str("domain", domain).Str("component", component).Logger()
}

// SetupWithWriter configures zerolog with an additional writer (e.g., for log buffer).
func SetupWithWriter(environment string, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	// Console writer for human-readable output
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}

	var writer io.Writer = consoleWriter
	if additionalWriter != nil {
		// JSON writer for the buffer (machine-readable)
		jsonWriter := os.Stdout // zerolog will use this for JSON format
		// Multi-writer: console for display, JSON for buffer
		multiWriter := zerolog.MultiLevelWriter(consoleWriter, additionalWriter)
		writer = multiWriter
		_ = jsonWriter // not used directly, additionalWriter captures JSON
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
