package util

import (
	"log/slog"
	"os"
	"time"

	stdlog "log"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

type Logger = zerolog.Logger

// LogLevel represents available log levels
type LogLevel = int

// Log levels
const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

// InitializeLogger sets up the global logger with the specified configuration
func InitializeLogger(level LogLevel) {
	// Set time format to ISO8601
	zerolog.TimeFieldFormat = time.RFC3339

	// Set global log level based on configuration
	switch level {
	case TraceLevel:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case DebugLevel:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case InfoLevel:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case WarnLevel:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case ErrorLevel:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Create a console writer with nice formatting for terminal output
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	// Set global logger
	ctx := zerolog.New(output).With().Timestamp()
	if level == TraceLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	log.Info().Msg("Logger initialized")
}

// GetLogger returns a configured logger for a specific component
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewSlogHandler returns an slog.Handler that routes to the global
// zerolog logger with the given component field.
func NewSlogHandler(component string, lvl slog.Level) slog.Handler {
	opt := slogzerolog.Option{Level: lvl}

	zlog := log.With().Str("component", component).Logger()
	opt.Logger = &zlog

	return opt.NewZerologHandler()
}

// NewLogLogger returns a stdlog.Logger that routes to zerolog. Used to
// hand third-party code (the FUSE server) a standard logger.
func NewLogLogger(component string, lvl LogLevel) *stdlog.Logger {
	var slvl slog.Level
	switch lvl {
	case TraceLevel, DebugLevel:
		slvl = slog.LevelDebug
	case InfoLevel:
		slvl = slog.LevelInfo
	case WarnLevel:
		slvl = slog.LevelWarn
	case ErrorLevel:
		slvl = slog.LevelError
	default:
		slvl = slog.LevelInfo
	}
	handler := NewSlogHandler(component, slvl)

	return slog.NewLogLogger(handler, slvl)
}
