// Package logging builds the zerolog loggers used across cacheload.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Formats accepted by Config.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects the level, encoding and destination of log output.
type Config struct {
	Level  string
	Format string
	// Output defaults to stderr so that stdout stays free for reports.
	Output io.Writer
	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// New builds a logger from cfg. An unknown level is an error; the empty
// level means info.
func New(cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: cfg.NoColor}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (expected %s or %s)", cfg.Format, FormatConsole, FormatJSON)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Setup builds a logger with New and installs it as the package-level
// log.Logger.
func Setup(cfg Config) (zerolog.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}

// Sampled wraps logger so that at most burst messages per period are
// written, with every nth message passed after that. It is meant for
// per-iteration logs on the hot path.
func Sampled(logger zerolog.Logger, burst uint32, period time.Duration, nth uint32) zerolog.Logger {
	return logger.Sample(&zerolog.BurstSampler{
		Burst:       burst,
		Period:      period,
		NextSampler: &zerolog.BasicSampler{N: nth},
	})
}
