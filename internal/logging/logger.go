package logging

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type contextKey string

// ExecutionIDKey carries the apply execution id through request contexts.
const ExecutionIDKey contextKey = "execution_id"

type Logger struct {
	*logrus.Logger
}

func NewLogger(level, format string) *Logger {
	logger := logrus.New()

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return &Logger{Logger: logger}
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	logger := NewLogger("error", "text")
	logger.SetOutput(io.Discard)
	return logger
}

// WithContext adds context information to log entries
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithFields(logrus.Fields{})

	if executionID := ctx.Value(ExecutionIDKey); executionID != nil {
		entry = entry.WithField("execution_id", executionID)
	}

	return entry
}

// LogRealize logs the outcome of a single realize-operation against a provider.
func (l *Logger) LogRealize(kind, name string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"type":     "realize",
		"kind":     kind,
		"name":     name,
		"duration": duration.Milliseconds(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.WithFields(fields).Error("Realize operation failed")
	} else {
		l.WithFields(fields).Info("Realize operation completed")
	}
}

func (l *Logger) LogMCPCallTool(name string, arguments map[string]interface{}) {
	l.WithFields(logrus.Fields{
		"tool":      name,
		"arguments": arguments,
	}).Info("Processing MCP tool call")
}
