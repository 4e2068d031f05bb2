package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BadgerLogger routes BadgerDB's printf-style logging into slog.
type BadgerLogger struct {
	log *slog.Logger
}

// NewBadgerLogger wraps l for badger.Options.WithLogger.
func NewBadgerLogger(l *slog.Logger) *BadgerLogger {
	return &BadgerLogger{log: l.With("component", "badger")}
}

func (l *BadgerLogger) emit(level slog.Level, format string, args ...interface{}) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *BadgerLogger) Errorf(format string, args ...interface{}) {
	l.emit(slog.LevelError, format, args...)
}

func (l *BadgerLogger) Warningf(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, format, args...)
}

// Infof logs at debug level; badger's info output is compaction chatter.
func (l *BadgerLogger) Infof(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l *BadgerLogger) Debugf(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, format, args...)
}
