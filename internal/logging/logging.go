// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and writer. format is "console" or "json";
// anything else falls back to console.
func Setup(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
}

// Component returns a sub-logger of the global logger tagged with component.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
