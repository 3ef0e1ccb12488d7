// Package logger builds the process logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "15:04:05.000"

// IsDevelopment reports whether env names a developer environment.
func IsDevelopment(env string) bool {
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}

// New returns a logger at the given level. Development environments get
// console output on stderr, everything else JSON lines. When writers are
// given, JSON goes to all of them instead.
func New(env, level string, writers ...io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = false

	var out io.Writer
	switch {
	case len(writers) > 0:
		out = io.MultiWriter(writers...)
	case IsDevelopment(env):
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}
	default:
		out = os.Stderr
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "widget-consumer").
		Logger(), nil
}

// ParseLevel accepts zerolog level names in any case. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}

// Component tags l with the emitting component.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
