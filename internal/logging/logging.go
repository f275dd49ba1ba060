// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns a logger writing to w. Format "console" produces human-readable
// output, anything else JSON lines.
func New(w io.Writer, level, format string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	out := w
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(parsed).With().Timestamp().Logger()
}

// Setup installs the logger as the zerolog global and returns it.
func Setup(level, format string) zerolog.Logger {
	logger := New(os.Stdout, level, format)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = logger
	return logger
}
