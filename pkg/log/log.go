package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level names accepted in configuration.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is the process-wide root logger. Until Init runs it discards
// everything, so library code may log unconditionally.
var Logger = zerolog.Nop()

// Init builds the root logger from cfg. The level is carried on the
// logger itself rather than zerolog's global, so tests can install
// quiet loggers without cross-talk.
func Init(cfg Config) {
	Logger = zerolog.New(sink(cfg)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
}

// sink picks the output: raw JSON for machine consumption, a console
// writer for humans. With no explicit writer, logs go to stderr.
func sink(cfg Config) io.Writer {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	if cfg.JSONOutput {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
}

// parseLevel maps a configured level name onto zerolog's scale.
// Unknown or empty names mean info.
func parseLevel(l Level) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(string(l)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithComponent derives a child logger tagged with the component name.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
