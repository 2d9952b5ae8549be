// Package telemetry wires zerolog the way the rest of the stack expects:
// one base logger per process, per-component child loggers via With().
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the base logger for a component. level is one of
// "debug", "info", "warn", "error"; unrecognized values fall back to info.
func NewLogger(component string, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := io.Writer(os.Stderr)
	if isTerminal(os.Stderr) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Str("component", component).
		Logger()

	return logger.Level(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
