// Package logging adapts logrus to the domain Logger contract.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// logrusLogger wraps a logrus logger behind the domain Logger interface
type logrusLogger struct {
	log *logrus.Logger
}

// Options controls how the logger renders
type Options struct {
	Verbose bool
	Quiet   bool
	Color   string // "auto", "always" or "never"
	Output  io.Writer
}

// New creates a structured logger for interactive use
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func New(opts Options) *logrusLogger {
	log := logrus.New()
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	}

	switch {
	case opts.Quiet:
		log.SetLevel(logrus.WarnLevel)
	case opts.Verbose:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	formatter := &logrus.TextFormatter{
		DisableTimestamp: true,
	}
	switch opts.Color {
	case "always":
		formatter.ForceColors = true
	case "never":
		formatter.DisableColors = true
	}
	log.SetFormatter(formatter)

	return &logrusLogger{log: log}
}

// Debug logs debug-level messages
func (l *logrusLogger) Debug(msg string, fields ...interfaces.Field) {
	l.entry(fields).Debug(msg)
}

// Info logs informational messages
func (l *logrusLogger) Info(msg string, fields ...interfaces.Field) {
	l.entry(fields).Info(msg)
}

// Warn logs warning messages
func (l *logrusLogger) Warn(msg string, fields ...interfaces.Field) {
	l.entry(fields).Warn(msg)
}

// Error logs error messages
func (l *logrusLogger) Error(msg string, fields ...interfaces.Field) {
	l.entry(fields).Error(msg)
}

func (l *logrusLogger) entry(fields []interfaces.Field) *logrus.Entry {
	if len(fields) == 0 {
		return logrus.NewEntry(l.log)
	}
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key] = f.Value
	}
	return l.log.WithFields(lf)
}
