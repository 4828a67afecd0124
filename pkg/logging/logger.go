// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Dedup cache operations (hit/miss, document id)
//   - Request flow (attempt number, user agent in use)
//   - Per-record parse decisions (skipped child items)
//
// Info: Normal operation events
//   - Page completed, checkpoint advanced
//   - New person created, declaration committed
//   - Worker claimed/resumed/completed an assignment
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and rate-limit responses
//   - Per-record fetch or parse failures (record skipped)
//   - Dedup cache errors (store uniqueness is the backstop)
//
// Error: Error conditions requiring attention
//   - Retry budget exhausted for a record or page
//   - Integrity violations on commit (record rolled back)
//   - Checkpoint store unavailability (fatal to the worker)
//
// Context Fields:
//   - worker_id: worker identifier
//   - page: current page number
//   - document_id: remote document identifier
//   - error_class: fetch error classification (client, server, rate_limit, network, not_found)
//   - duration: request or commit duration
//   - attempt: retry attempt number
