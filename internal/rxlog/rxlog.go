// Package rxlog is the structured logger used by the dispatcher, the
// handshake state machine, and the sender/receiver engines. It keeps the
// teacher's WithField/WithFields call shape but is backed by logrus
// instead of a hand-rolled level+color writer, so log lines are
// field-structured and parseable instead of formatted prose.
package rxlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry, exposing only the calls the transport
// packages actually use.
type Logger struct {
	entry *logrus.Entry
}

// New builds a text-formatted logger writing to stderr at info level,
// suitable as the default for both cmd/filexferd and cmd/filexfer.
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &Logger{entry: logrus.NewEntry(l)}
}

// NewFile builds a logger appending JSON lines to path at debug level,
// used by cmd/filexferd's -log-file option.
func NewFile(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)
	return &Logger{entry: logrus.NewEntry(l)}, nil
}

// Level re-exports logrus.Level so callers never need to import logrus
// directly just to call SetLevel.
type Level = logrus.Level

// LevelDebug is the verbose level enabled by callers' -v flags.
const LevelDebug = logrus.DebugLevel

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level Level) { l.entry.Logger.SetLevel(level) }

// WithField returns a derived logger carrying one additional field,
// using per-call derivation instead of mutating shared state.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a derived logger carrying several additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }
