package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string into a LogLevel.
// Unknown values fall back to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	vehicleKey contextKey = "vehicle"
)

// WithRunID returns a context carrying the analysis run identifier
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithVehicle returns a context carrying the vehicle class being processed
func WithVehicle(ctx context.Context, vehicle string) context.Context {
	return context.WithValue(ctx, vehicleKey, vehicle)
}

// RunID extracts the run identifier from ctx, or "" when absent
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// StructuredLogger provides structured logging with context, backed by zerolog
type StructuredLogger struct {
	mu      sync.Mutex
	level   LogLevel
	format  string
	service string
	version string
	output  io.Writer
	zl      zerolog.Logger
	exit    func(int)
}

// NewStructuredLogger creates a new structured JSON logger writing to stdout
func NewStructuredLogger(service, version string, level LogLevel) *StructuredLogger {
	l := &StructuredLogger{
		level:   level,
		format:  "json",
		service: service,
		version: version,
		output:  os.Stdout,
		exit:    os.Exit,
	}
	l.rebuild()
	return l
}

// rebuild must be called with mu held (or before the logger is shared)
func (l *StructuredLogger) rebuild() {
	out := l.output
	if l.format == "console" {
		out = zerolog.ConsoleWriter{Out: l.output, TimeFormat: "15:04:05", NoColor: true}
	}

	hostname, _ := os.Hostname()
	l.zl = zerolog.New(out).
		Level(l.level.zerolog()).
		With().
		Timestamp().
		Str("service", l.service).
		Str("version", l.version).
		Str("hostname", hostname).
		Logger()
}

// SetOutput sets the output destination for logs
func (l *StructuredLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// SetFormat switches between "json" and "console" output
func (l *StructuredLogger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
	l.rebuild()
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs a warning message with structured fields
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, WarnLevel, message, fields, nil)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs a fatal message and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
	l.exit(1)
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var event *zerolog.Event
	switch level {
	case DebugLevel:
		event = l.zl.Debug()
	case WarnLevel:
		event = l.zl.Warn()
	case ErrorLevel:
		event = l.zl.Error().Caller(2)
	case FatalLevel:
		// WithLevel avoids zerolog's own os.Exit so Fatal stays testable
		event = l.zl.WithLevel(zerolog.FatalLevel).Caller(2).Stack()
	default:
		event = l.zl.Info()
	}

	if ctx != nil {
		if runID, ok := ctx.Value(runIDKey).(string); ok {
			event = event.Str("run_id", runID)
		}
		if vehicle, ok := ctx.Value(vehicleKey).(string); ok {
			event = event.Str("vehicle", vehicle)
		}
	}

	if len(fields) > 0 {
		event = event.Fields(map[string]interface{}(fields))
	}
	if err != nil {
		event = event.Err(err)
	}

	event.Time("logged_at", time.Now().UTC()).Msg(message)
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

// Debug logs a debug message with context fields
func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.Debug(ctx, message, c.mergeFields(fields))
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.Info(ctx, message, c.mergeFields(fields))
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.Warn(ctx, message, c.mergeFields(fields))
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.Error(ctx, message, c.mergeFields(fields), err)
}

// mergeFields merges context fields with provided fields
func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
