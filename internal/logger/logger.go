// Package logger provides the agent's structured logging facade, a thin
// wrapper over zerolog that the rest of the core calls instead of the
// standard library log package. Redacted is the placeholder call sites log
// in place of a sensitive value.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Configure replaces the global logger's level and output writer. Called
// once during agent startup from the parsed CLI/config.
func Configure(w io.Writer, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log = zerolog.New(w).With().Timestamp().Logger().Level(level)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugf logs a debug-level message.
func Debugf(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// Infof logs an info-level message.
func Infof(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// Warnf logs a warn-level message.
func Warnf(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// Errorf logs an error-level message.
func Errorf(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}

// Redacted returns a fixed placeholder for use when a log statement would
// otherwise need to interpolate a sensitive value (password, token, JWK
// private key material). Call sites should pass this instead of the value.
func Redacted() string {
	return "<redacted>"
}
