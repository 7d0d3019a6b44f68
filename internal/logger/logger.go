// Package logger provides structured logging built on zerolog.
package logger

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the same With/WithContext shape the rest
// of this codebase's ambient stack expects.
type Logger struct {
	zl zerolog.Logger
}

type ctxKey struct{}

// Config selects the logger's level and output format.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New builds a Logger from Config, defaulting to info/json.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var output = zerolog.New(os.Stdout)
	if cfg.Format == "console" {
		output = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	zl := output.Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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

// With returns a derived logger carrying the given key/value pairs on every
// subsequent line.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

// WithContext attaches l to ctx so FromContext can retrieve it downstream.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or the package-level
// default logger (see Default/SetDefault) if none was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return defaultLogger
}

var defaultLogger = New(Config{Level: "info", Format: "json"})

// Default returns the package-level default logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) { defaultLogger = l }

func (l *Logger) Debug(msg string, kv ...any) { l.event(l.zl.Debug(), kv).Msg(msg) }
func (l *Logger) Info(msg string, kv ...any)  { l.event(l.zl.Info(), kv).Msg(msg) }
func (l *Logger) Warn(msg string, kv ...any)  { l.event(l.zl.Warn(), kv).Msg(msg) }
func (l *Logger) Error(msg string, kv ...any) { l.event(l.zl.Error(), kv).Msg(msg) }

func (l *Logger) DebugContext(ctx context.Context, msg string, kv ...any) { FromContext(ctx).Debug(msg, kv...) }
func (l *Logger) InfoContext(ctx context.Context, msg string, kv ...any)  { FromContext(ctx).Info(msg, kv...) }
func (l *Logger) WarnContext(ctx context.Context, msg string, kv ...any)  { FromContext(ctx).Warn(msg, kv...) }
func (l *Logger) ErrorContext(ctx context.Context, msg string, kv ...any) { FromContext(ctx).Error(msg, kv...) }

func (l *Logger) event(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	return e
}
