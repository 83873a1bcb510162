// Package logger configures zerolog for the momentum service. Components
// derive their scoped loggers from the root logger built here.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the log level and output format.
type Config struct {
	Level  string // zerolog level name: trace, debug, info, warn, error
	Pretty bool   // human-readable console output for development
}

// New builds the root logger. An unknown level name falls back to info so a
// typo in the environment never silences the service.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(out).
		With().
		Timestamp().
		Str("service", "momentum").
		Logger()

	if err != nil && cfg.Level != "" {
		l.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
	}
	return l
}

// SetGlobalLogger routes zerolog's package-level log through l.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
