// Package logging wraps zap behind a small interface so the rest of the
// core never imports zap directly, and exposes a runtime-settable level
// for the CLI's "log <LEVEL>" verb.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured, leveled logger whose level can be changed while
// the process is running.
type Logger struct {
	level *zap.AtomicLevel
	base  *zap.Logger
}

// New builds a Logger writing to stderr at the given initial level
// ("debug", "info", "warn", "error"; defaults to "info" if unrecognized).
func New(initialLevel string) *Logger {
	level := zap.NewAtomicLevel()
	level.SetLevel(parseLevel(initialLevel))

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	base := zap.New(core)

	return &Logger{level: &level, base: base}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO", "":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel changes the active log level at runtime. Unrecognized level
// names are treated as "info"; it never returns an error, matching the
// CLI's original_source behavior of accepting any level string.
func (l *Logger) SetLevel(levelName string) {
	l.level.SetLevel(parseLevel(levelName))
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// Named returns a child logger with component appended to the logger
// name, the style used throughout the overlay/session/router packages.
func (l *Logger) Named(component string) *Logger {
	return &Logger{level: l.level, base: l.base.Named(component)}
}

// With returns a child logger with additional structured fields attached.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{level: l.level, base: l.base.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }

// Sync flushes any buffered log entries. Errors from Sync on stderr
// (ENOTTY on some platforms) are expected and ignored by callers.
func (l *Logger) Sync() error { return l.base.Sync() }

// Field constructors re-exported for convenience at call sites so packages
// outside logging don't need their own zap import just to build a field.
func String(key, value string) zap.Field  { return zap.String(key, value) }
func Int(key string, value int) zap.Field { return zap.Int(key, value) }
func Err(err error) zap.Field             { return zap.Error(err) }
