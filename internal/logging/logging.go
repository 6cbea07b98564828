// Package logging configures the process-wide zerolog logger.
//
// DESIGN: The minimum level comes from configuration, so "debug only in
// development" is a level choice and never an if-statement at call sites.
// Components receive a zerolog.Logger; the global log.Logger is the default.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Formats accepted by Options.Format.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures Init.
type Options struct {
	Level  string
	Format string
	Output *os.File
}

// Init installs the global logger and returns it.
func Init(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logger := zerolog.New(writerFor(out, opts.Format)).
		With().
		Timestamp().
		Logger().
		Level(ParseLevel(opts.Level))

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = logger
	return logger
}

func writerFor(out *os.File, format string) io.Writer {
	switch strings.ToLower(format) {
	case FormatJSON:
		return out
	case FormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	default:
		if term.IsTerminal(int(out.Fd())) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
		return out
	}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
