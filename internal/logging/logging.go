// Package logging configures the process-wide zerolog logger that every
// other package reaches via github.com/rs/zerolog/log's global logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger: level parsed from levelName
// (falling back to info on an unrecognized value), timestamps, and either
// JSON (production) or a human-readable console writer (pretty, for local
// development).
func Setup(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out zerolog.Logger
	if pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		out = zerolog.New(os.Stderr)
	}
	log.Logger = out.With().Timestamp().Logger()
}
