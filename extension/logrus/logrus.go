// Package logrus adapts a logrus.FieldLogger to the engine's logger.Logger
// interface, letting logrus stand in wherever a logger.Logger is expected.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/go-eventry/eventry/logger"
)

var _ logger.Logger = &Wrapper{}

// Wrapper embeds a logrus.FieldLogger to implement logger.Logger.
type Wrapper struct {
	logrus.FieldLogger
}

// Wrap wraps a logrus.FieldLogger.
func Wrap(l logrus.FieldLogger) *Wrapper {
	return &Wrapper{l}
}

// Debug writes a log with log level debug.
func (w *Wrapper) Debug(msg string) { w.FieldLogger.Debug(msg) }

// Info writes a log with log level info.
func (w *Wrapper) Info(msg string) { w.FieldLogger.Info(msg) }

// Warn writes a log with log level warning.
func (w *Wrapper) Warn(msg string) { w.FieldLogger.Warn(msg) }

// Error writes a log with log level error.
func (w *Wrapper) Error(msg string) { w.FieldLogger.Error(msg) }

// WithField adds a field to the log entry.
func (w *Wrapper) WithField(key string, val interface{}) logger.Logger {
	return Wrap(w.FieldLogger.WithField(key, val))
}

// WithFields adds a set of fields to the log entry.
func (w *Wrapper) WithFields(fields logger.Fields) logger.Logger {
	return Wrap(w.FieldLogger.WithFields(logrus.Fields(fields)))
}

// WithError adds an error as a single field to the log entry.
func (w *Wrapper) WithError(err error) logger.Logger {
	return Wrap(w.FieldLogger.WithError(err))
}
