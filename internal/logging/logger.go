// Package logging provides structured logging with job/event/flow correlation.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through tick/job/flow scopes.
type ContextKey string

const (
	// JobIDKey is the context key for a job id.
	JobIDKey ContextKey = "job_id"
	// EventIDKey is the context key for an event id.
	EventIDKey ContextKey = "event_id"
	// FlowIDKey is the context key for a flow id.
	FlowIDKey ContextKey = "flow_id"
	// WorkerIDKey is the context key for a worker id.
	WorkerIDKey ContextKey = "worker_id"
)

// Logger wraps logrus.Logger with orchestrator-scoped context fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger from the given level/format values (as read
// from LOG_LEVEL/LOG_FORMAT by the caller); empty values default to info/json.
func NewFromEnv(service, level, format string) *Logger {
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext creates a logger entry carrying job/event/flow/worker ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if v := ctx.Value(JobIDKey); v != nil {
		entry = entry.WithField("job_id", v)
	}
	if v := ctx.Value(EventIDKey); v != nil {
		entry = entry.WithField("event_id", v)
	}
	if v := ctx.Value(FlowIDKey); v != nil {
		entry = entry.WithField("flow_id", v)
	}
	if v := ctx.Value(WorkerIDKey); v != nil {
		entry = entry.WithField("worker_id", v)
	}
	return entry
}

// WithFields creates a logger entry with custom fields plus the service tag.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a logger entry carrying an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// Context helpers

// WithJobID attaches a job id to ctx.
func WithJobID(ctx context.Context, jobID int64) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithEventID attaches an event id to ctx.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// WithFlowID attaches a flow id to ctx.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, FlowIDKey, flowID)
}

// WithWorkerID attaches a worker id to ctx.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

// Domain-scoped structured logging helpers, mirroring the shape the teacher
// uses for its HTTP/DB/chain logging (one method per recurring event kind).

// LogTick logs one engine or monitor tick's summary.
func (l *Logger) LogTick(ctx context.Context, loop string, candidates, acted int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"loop":        loop,
		"candidates":  candidates,
		"acted":       acted,
		"duration_ms": duration.Milliseconds(),
	}).Debug("tick complete")
}

// LogJobResult logs the terminal outcome of a job execution.
func (l *Logger) LogJobResult(ctx context.Context, jobID int64, actionType, result string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"job_id":      jobID,
		"action_type": actionType,
		"result":      result,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("job failed")
		return
	}
	entry.Info("job completed")
}

// LogAlert logs an ops alert at a severity-appropriate level.
func (l *Logger) LogAlert(ctx context.Context, severity, category, message string) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"category": category,
		"severity": severity,
	})
	switch severity {
	case "critical":
		entry.Error(message)
	case "warning":
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Fatal logs a fatal error and exits.
func (l *Logger) Fatal(ctx context.Context, message string, err error) {
	l.WithContext(ctx).WithError(err).Fatal(message)
}

// Global logger instance

var defaultLogger *Logger

// InitDefault initializes the default logger.
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the default logger, constructing a basic one if unset.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("nexaas", "info", "json")
	}
	return defaultLogger
}
