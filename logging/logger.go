package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive string to a LogLevel. The empty
// string maps to info. Leading and trailing whitespace is ignored.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return LogLevelInfo, nil
	case "debug", "trace":
		return LogLevelDebug, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
}

// Logger defines the minimal logging interface used across relaymesh.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// LoggerConfig configures construction of a TurnLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json, text or otel
	Output    io.Writer
	AddSource bool
	Component string
	// Scope is the instrumentation scope name used by the otel format.
	Scope string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, Scope: "github.com/hupe1980/relaymesh"}
}

// TurnLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. It is cheap to copy via the With* methods.
type TurnLogger struct {
	logger         *slog.Logger
	level          LogLevel
	attrs          []slog.Attr
	component      string
	sessionID      string
	conversationID string
}

// NewLogger builds a TurnLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *TurnLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "otel":
		scope := cfg.Scope
		if scope == "" {
			scope = DefaultLoggerConfig().Scope
		}
		handler = otelslog.NewHandler(scope)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return &TurnLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
}

// NewSlogLogger creates a TurnLogger with the given level, format and source option.
func NewSlogLogger(level LogLevel, format string, addSource bool) *TurnLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *TurnLogger) clone() *TurnLogger {
	nl := *l
	nl.attrs = append([]slog.Attr(nil), l.attrs...)
	return &nl
}

// With adds key/value attributes attached to every record.
func (l *TurnLogger) With(args ...any) *TurnLogger {
	nl := l.clone()
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "", 0)
	r.Add(args...)
	r.Attrs(func(a slog.Attr) bool {
		nl.attrs = append(nl.attrs, a)
		return true
	})
	return nl
}

// WithComponent sets the logical component (engine, agent, server, ...).
func (l *TurnLogger) WithComponent(c string) *TurnLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithTurn attaches session and conversation identifiers.
func (l *TurnLogger) WithTurn(sessionID, conversationID string) *TurnLogger {
	nl := l.clone()
	nl.sessionID = sessionID
	nl.conversationID = conversationID
	return nl
}

func (l *TurnLogger) baseAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", l.sessionID))
	}
	if l.conversationID != "" {
		attrs = append(attrs, slog.String("conversation_id", l.conversationID))
	}
	return append(attrs, l.attrs...)
}

func (l *TurnLogger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.logger.LogAttrs(context.Background(), slogLevel(level), msg, append(l.baseAttrs(), argsToAttrs(args)...)...)
}

func argsToAttrs(args []any) []slog.Attr {
	if len(args) == 0 {
		return nil
	}
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "", 0)
	r.Add(args...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return attrs
}

// Debug logs at debug level.
func (l *TurnLogger) Debug(msg string, args ...any) { l.log(LogLevelDebug, msg, args...) }

// Info logs at info level.
func (l *TurnLogger) Info(msg string, args ...any) { l.log(LogLevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *TurnLogger) Warn(msg string, args ...any) { l.log(LogLevelWarn, msg, args...) }

// Error logs at error level.
func (l *TurnLogger) Error(msg string, args ...any) { l.log(LogLevelError, msg, args...) }

// LogStep records the execution of a single dispatch step.
func (l *TurnLogger) LogStep(handler string, step int, dur time.Duration, err error) {
	args := []any{"handler", handler, "step", step, "duration", dur, "success", err == nil}
	if err != nil {
		l.Error("step.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("step.completed", args...)
}

// LogModelCall records model call latency and success.
func (l *TurnLogger) LogModelCall(model string, dur time.Duration, err error) {
	args := []any{"model", model, "duration", dur, "success", err == nil}
	if err != nil {
		l.Error("model.call.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("model.call.completed", args...)
}

// LogTurn records aggregate turn metrics.
func (l *TurnLogger) LogTurn(phase string, steps int, dur time.Duration, err error) {
	args := []any{"phase", phase, "steps", steps, "duration", dur, "success", err == nil}
	if err != nil {
		l.Error("turn.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("turn.completed", args...)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *TurnLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Debug("operation.completed", "operation", op, "duration", time.Since(start)) }
}
