// Package logger provides the leveled logger used throughout the library.
// Callers may inject their own *slog.Logger through the client options; when
// they do not, output goes to a slog TextHandler on stdout.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// Level is the severity of a log entry.
type Level string

const (
	Info  Level = "info"
	Err   Level = "error"
	Warn  Level = "warn"
	Debug Level = "debug"
)

// Logger is implemented by anything the library can log to.
type Logger interface {
	Log(ctx context.Context, level Level, message string, fields ...any)
}

type slogAdapter struct {
	logging *slog.Logger
}

// New wraps an *slog.Logger for use by the library. A nil argument gets the
// default text handler.
func New(l *slog.Logger) Logger {
	if l == nil {
		l = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &slogAdapter{logging: l}
}

func (a *slogAdapter) Log(ctx context.Context, level Level, message string, fields ...any) {
	if a == nil || a.logging == nil {
		return
	}
	var slogLevel slog.Level
	switch level {
	case Info:
		slogLevel = slog.LevelInfo
	case Err:
		slogLevel = slog.LevelError
	case Warn:
		slogLevel = slog.LevelWarn
	case Debug:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}
	a.logging.Log(ctx, slogLevel, message, fields...)
}

// Field creates a structured logging field for any value.
func Field(key string, value any) any {
	return slog.Any(key, value)
}
