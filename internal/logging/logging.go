// Package logging configures the zerolog logger used by the CLI and the
// lock engine. Logs always go to their own writer (stderr by default) so
// they never mix with findings or JSON output.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel  = "STAGEGATE_LOG_LEVEL"
	EnvLogFormat = "STAGEGATE_LOG_FORMAT"
)

// Options selects the level and output format.
type Options struct {
	Level   string
	Format  string // "console" or "json"
	NoColor bool
}

// New builds a logger writing to w. Empty option fields fall back to the
// STAGEGATE_LOG_* environment, then to info level console output.
func New(w io.Writer, opts Options) zerolog.Logger {
	if opts.Level == "" {
		opts.Level = os.Getenv(EnvLogLevel)
	}
	if opts.Format == "" {
		opts.Format = os.Getenv(EnvLogFormat)
	}

	level, _ := ParseLevel(opts.Level)

	var out io.Writer = w
	if !strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "stagegate").Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// yield info and false.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
