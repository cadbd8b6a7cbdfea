// Package cryfslog provides the structured logger used across the core
// block-store stack. It wraps log/slog with the severity vocabulary the
// rest of the core expects (TRACE..ERROR) and optional file rotation,
// following the same shape as the teacher's internal/logger package.
package cryfslog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity is the logging level vocabulary used throughout the core.
type Severity string

const (
	Trace   Severity = "TRACE"
	Debug   Severity = "DEBUG"
	Info    Severity = "INFO"
	Warning Severity = "WARNING"
	Error   Severity = "ERROR"
	Off     Severity = "OFF"
)

// slogLevel below TRACE is used to keep TRACE distinct from DEBUG while
// mapping both onto slog's level space, which only defines Debug..Error.
const levelTrace = slog.Level(-8)

func (s Severity) level() slog.Level {
	switch s {
	case Trace:
		return levelTrace
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	case Warning:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	case Off:
		return slog.Level(1 << 20)
	default:
		return slog.LevelInfo
	}
}

// Config controls where and how logs are written.
type Config struct {
	// Severity is the minimum level that gets emitted.
	Severity Severity
	// Format is either "text" or "json".
	Format string
	// File is the path to log to; if empty, logs go to stderr.
	File string
	// MaxFileSizeMB and BackupFileCount control lumberjack rotation when
	// File is set.
	MaxFileSizeMB  int
	BackupFileCount int
}

// Logger is the handle every layer of the core logs through.
type Logger struct {
	slog *slog.Logger
	sev  Severity
}

// New builds a Logger from cfg. Never returns nil.
func New(cfg Config) *Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    nonZero(cfg.MaxFileSizeMB, 10),
			MaxBackups: cfg.BackupFileCount,
			Compress:   true,
		}
	}

	level := cfg.Severity.level()
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == levelTrace {
					a.Value = slog.StringValue(string(Trace))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog: slog.New(handler), sev: cfg.Severity}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil)), sev: Off}
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *Logger) Tracef(format string, args ...any)   { l.log(levelTrace, format, args...) }
func (l *Logger) Debugf(format string, args ...any)   { l.log(slog.LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)    { l.log(slog.LevelInfo, format, args...) }
func (l *Logger) Warningf(format string, args ...any) { l.log(slog.LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any)   { l.log(slog.LevelError, format, args...) }

func (l *Logger) log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.slog.Log(context.Background(), level, msg)
}
