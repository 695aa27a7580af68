// Package logging provides the shared zerolog setup for the host process
// and the engine subprocess. Both sides log free-form text to stderr only;
// stdout is reserved for the wire protocol.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	loggerOnce    sync.Once
)

func initDefaultLogger() {
	level := zerolog.InfoLevel
	if env := os.Getenv("GLOAMING_LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(env)); err == nil {
			level = parsed
		}
	}

	var w zerolog.LevelWriter = zerolog.MultiLevelWriter(os.Stderr)
	if os.Getenv("GLOAMING_LOG_PRETTY") != "" {
		w = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	defaultLogger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// GetDefaultLogger returns the process-wide root logger.
func GetDefaultLogger() zerolog.Logger {
	loggerOnce.Do(initDefaultLogger)
	return defaultLogger
}

// GetSubsystemLogger returns a logger scoped to a named component.
func GetSubsystemLogger(component string) zerolog.Logger {
	return GetDefaultLogger().With().Str("component", component).Logger()
}
