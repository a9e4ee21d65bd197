// Package fleetlog provides the structured logger used by both the agent
// and the fleet server binaries.
package fleetlog

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so callers depend on this package, not logrus
// directly — keeps the logging backend swappable in one place.
type Logger struct {
	*logrus.Logger
}

// Config controls level, format, and output destination.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text" or "json"
	File   string // optional path; when set, logs go to both stdout and this file
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out := io.Writer(os.Stdout)
	if cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = io.MultiWriter(os.Stdout, f)
		} else {
			l.Warnf("fleetlog: could not open log file %s: %v", cfg.File, err)
		}
	}
	l.SetOutput(out)

	return &Logger{Logger: l}
}

// NewDefault returns an info-level, text-formatted logger to stdout — used
// by tests and small command-line utilities that don't load full config.
func NewDefault(name string) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	return &Logger{Logger: l}
}

// WithField returns an entry carrying one structured field.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns an entry carrying several structured fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
