// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps charmbracelet/log with the structured,
// component-scoped logger used throughout the controller.
package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmlog's levels so callers never import charmlog directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) charm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// ParseLevel maps the --log-level flag value onto a Level, defaulting to
// LevelInfo for unrecognized input.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config controls how a Logger is constructed.
type Config struct {
	Level  Level
	Output io.Writer
}

// DefaultConfig returns the controller's default logging configuration:
// info level, to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger is a structured, component-scoped logger.
type Logger struct {
	inner *charmlog.Logger
}

// New constructs a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		Level:           cfg.Level.charm(),
		ReportTimestamp: true,
	})
	return &Logger{inner: l}
}

// WithComponent returns a derived Logger tagging every line with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With returns a derived Logger with additional structured key-value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

var (
	defaultMu  sync.RWMutex
	defaultLog = New(DefaultConfig())
)

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

func getDefault() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

func Debug(msg string, kv ...any) { getDefault().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { getDefault().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { getDefault().Warn(msg, kv...) }
func Error(msg string, kv ...any) { getDefault().Error(msg, kv...) }
