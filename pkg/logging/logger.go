// Package logging configures zerolog for the search stream components.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvPretty = "LOG_PRETTY"
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

// ConfigFromEnv builds a Config from LOG_LEVEL and LOG_PRETTY using getenv,
// falling back to DefaultConfig for unset or unparseable values.
func ConfigFromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()

	if level := getenv(EnvLevel); level != "" {
		cfg.Level = LogLevel(strings.ToLower(level))
	}

	if pretty := getenv(EnvPretty); pretty != "" {
		if b, err := strconv.ParseBool(pretty); err == nil {
			cfg.Pretty = b
		}
	}

	return cfg
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
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

// NewLogger creates a child of the global logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: page requests, suspension and resume of a run, rate limit window
// updates, dropped continuation signals.
//
// Info: run start and finish, successful retries, CLI startup.
//
// Warn: retries, rejected responses, rate limit hits, runs ending offline.
//
// Error: retry budget exhausted, runs that could not be started.
//
// Context Fields:
//   - component: search-client, pagination, stream, cli
//   - query: the query of the run
//   - url: page URL being fetched
//   - page: 1-based page number within a run
//   - status: HTTP status code
//   - error_class: http, decode, link_header, network
//   - attempt: retry attempt number
//   - items: accumulated item count
//   - result: how a run ended (exhausted, rate_limited, offline, ...)
