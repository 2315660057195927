// Package logging sets up the process-wide zerolog logger used by the
// Manuals client, its observers and the proxy.
//
// Each package logs with a "component" field, and a single request can be
// followed across the bus, cache and retry manager by its request_id field.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a configured level name as it appears in YAML and the
// MANUALS_LOG_LEVEL variable.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// levels maps accepted names to zerolog levels. "warning" is an alias and
// the empty name means info.
var levels = map[string]zerolog.Level{
	"":        zerolog.InfoLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Valid reports whether the level name is recognised (case-insensitive).
func (l LogLevel) Valid() bool {
	_, ok := levels[strings.ToLower(string(l))]
	return ok
}

// Zerolog returns the matching zerolog level. Unknown names fall back to
// info; config validation rejects them before they get here.
func (l LogLevel) Zerolog() zerolog.Level {
	if lvl, ok := levels[strings.ToLower(string(l))]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service is added to every entry as "service" when set.
	Service string
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global logger and level and returns the logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.Zerolog())

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// NewLogger derives a logger tagged with component from the global logger.
// Call it after Setup; loggers created earlier keep the old output.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Level usage across the module:
//
// Debug: cache HIT, MISS, SET and INVALIDATED lines, replay scheduling,
// per-page fetches.
//
// Info: requests that succeeded after a replay, cache enable, disable and
// reconfigure, proxy startup and shutdown.
//
// Warn: individual retry attempts, storage or history fallbacks, page
// failures that leave a partial listing.
//
// Error: exhausted or aborted retries, failures delivered to the caller.
//
// Common fields: component, request_id, method, path, status (0 for a
// network error), attempt, backoff, key, ttl.
