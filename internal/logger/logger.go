// Package logger provides context-aware structured logging on top of logrus.
// Request-scoped fields (request id, user id) travel in the context and are
// attached to every log line emitted with that context.
package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey string

const loggerKey contextKey = "kioku_logger"

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the global log level, e.g. from configuration.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)
}

// GetLogger returns the entry stored in ctx, or a plain entry if none is set.
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(base)
}

// WithField returns a context whose logger carries an extra field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return context.WithValue(ctx, loggerKey, GetLogger(ctx).WithField(key, value))
}

// WithFields returns a context whose logger carries the given fields.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, loggerKey, GetLogger(ctx).WithFields(fields))
}

func Debugf(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Debugf(format, args...)
}

func Info(ctx context.Context, args ...interface{}) {
	GetLogger(ctx).Info(args...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Warnf(format, args...)
}

func Error(ctx context.Context, args ...interface{}) {
	GetLogger(ctx).Error(args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Errorf(format, args...)
}
