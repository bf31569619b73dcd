// ==============================================================================
// LOGGER PACKAGE - pkg/logger/logger.go
// ==============================================================================
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type jsonLogger struct {
	zl zerolog.Logger
}

// New returns a JSON line logger tagged with the service name at info level.
func New(serviceName string) Logger {
	return NewWithOptions(serviceName, os.Stdout, "info")
}

// NewWithOptions builds a logger writing to w with the given level name.
// Unknown level names fall back to info.
func NewWithOptions(serviceName string, w io.Writer, level string) Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zl := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	return &jsonLogger{zl: zl}
}

// ParseLevel maps LOG_LEVEL values onto zerolog levels.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *jsonLogger) log(ev *zerolog.Event, message string, fields map[string]interface{}) {
	if fields != nil {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.log(l.zl.Info(), message, fields)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.log(l.zl.Error(), message, fields)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.log(l.zl.Warn(), message, fields)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.log(l.zl.Debug(), message, fields)
}

func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	// zerolog's Fatal event calls os.Exit(1) after writing.
	l.log(l.zl.Fatal(), message, fields)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
