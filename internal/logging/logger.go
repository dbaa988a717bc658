package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/austindbirch/harbor_connect/internal/tracing"
)

// LogLevel represents the severity of the log entry
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

func (l LogLevel) toZerolog() zerolog.Level {
	switch l {
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogEntry is a structured log line under construction
type LogEntry struct {
	logger        *Logger
	TraceID       string
	OrgID         string
	AccountID     string
	CorrelationID string
	RouteID       string
	Target        string
	Fields        map[string]any
}

// Logger provides structured JSON logging with trace correlation
type Logger struct {
	service string
	zl      zerolog.Logger
}

// New creates a structured logger for the given service writing to stdout
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a structured logger writing JSON lines to w
func NewWithWriter(service string, w io.Writer) *Logger {
	zl := zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	return &Logger{service: service, zl: zl}
}

// Service returns the service name attached to every line
func (l *Logger) Service() string {
	return l.service
}

// WithContext creates a log entry carrying the trace id found in ctx
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	return &LogEntry{
		logger:  l,
		TraceID: tracing.GetTraceID(ctx),
		Fields:  make(map[string]any),
	}
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return &LogEntry{logger: l, Fields: make(map[string]any)}
}

func (e *LogEntry) WithOrg(orgID string) *LogEntry {
	e.OrgID = orgID
	return e
}

func (e *LogEntry) WithAccount(accountID string) *LogEntry {
	e.AccountID = accountID
	return e
}

func (e *LogEntry) WithCorrelation(correlationID string) *LogEntry {
	e.CorrelationID = correlationID
	return e
}

// WithRoute sets the connector route identifier
func (e *LogEntry) WithRoute(routeID string) *LogEntry {
	e.RouteID = routeID
	return e
}

func (e *LogEntry) WithTarget(target string) *LogEntry {
	e.Target = target
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

func (e *LogEntry) Info(message string) { e.output(LevelInfo, message) }

func (e *LogEntry) Infof(format string, args ...any) {
	e.output(LevelInfo, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Warn(message string) { e.output(LevelWarn, message) }

func (e *LogEntry) Warnf(format string, args ...any) {
	e.output(LevelWarn, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Error(message string) { e.output(LevelError, message) }

func (e *LogEntry) Errorf(format string, args ...any) {
	e.output(LevelError, fmt.Sprintf(format, args...))
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) {
	e.output(LevelFatal, message)
	os.Exit(1)
}

// Fatalf logs at fatal level with formatting and exits
func (e *LogEntry) Fatalf(format string, args ...any) {
	e.output(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (e *LogEntry) output(level LogLevel, message string) {
	ev := e.logger.zl.WithLevel(level.toZerolog())
	if ev == nil {
		return
	}
	str := func(key, value string) {
		if value != "" {
			ev.Str(key, value)
		}
	}
	str("trace_id", e.TraceID)
	str("org_id", e.OrgID)
	str("account_id", e.AccountID)
	str("correlation_id", e.CorrelationID)
	str("route_id", e.RouteID)
	str("target", e.Target)
	if len(e.Fields) > 0 {
		ev.Fields(e.Fields)
	}
	ev.Msg(message)
}
