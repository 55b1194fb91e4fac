package mqttcore

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

// Log levels, lowest first.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone silences the logger.
	LogLevelNone
)

// String returns the upper-case level name.
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
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// LogFields are structured key/value pairs attached to a log record.
type LogFields map[string]any

// Logger is the logging interface used by the client. Fields may be nil.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a child logger that adds fields to every record.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything. It is the default.
type NoOpLogger struct {
	level LogLevel
}

// NewNoOpLogger returns a logger at LogLevelNone.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{level: LogLevelNone}
}

func (n *NoOpLogger) Debug(string, LogFields) {}
func (n *NoOpLogger) Info(string, LogFields)  {}
func (n *NoOpLogger) Warn(string, LogFields)  {}
func (n *NoOpLogger) Error(string, LogFields) {}

// WithFields returns n itself.
func (n *NoOpLogger) WithFields(LogFields) Logger { return n }

func (n *NoOpLogger) Level() LogLevel         { return n.level }
func (n *NoOpLogger) SetLevel(level LogLevel) { n.level = level }

// SlogLogger adapts a *slog.Logger to Logger so the client can share the
// agent's structured log output.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogLogger wraps logger. A nil logger uses slog.Default(). Records
// below level are dropped before they reach the handler.
func NewSlogLogger(logger *slog.Logger, level LogLevel) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	lv := new(slog.LevelVar)
	l := &SlogLogger{logger: logger, level: lv}
	l.SetLevel(level)
	return l
}

func (s *SlogLogger) Debug(msg string, fields LogFields) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields LogFields)  { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields LogFields)  { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields LogFields) { s.log(slog.LevelError, msg, fields) }

// WithFields returns a child logger sharing the level of s.
func (s *SlogLogger) WithFields(fields LogFields) Logger {
	return &SlogLogger{
		logger: s.logger.With(fieldArgs(fields)...),
		level:  s.level,
	}
}

// Level maps the slog threshold back to a LogLevel.
func (s *SlogLogger) Level() LogLevel {
	switch l := s.level.Level(); {
	case l >= slog.LevelError+4:
		return LogLevelNone
	case l >= slog.LevelError:
		return LogLevelError
	case l >= slog.LevelWarn:
		return LogLevelWarn
	case l >= slog.LevelInfo:
		return LogLevelInfo
	default:
		return LogLevelDebug
	}
}

// SetLevel changes the threshold of s and every logger derived from it.
func (s *SlogLogger) SetLevel(level LogLevel) {
	s.level.Set(slogLevel(level))
}

func (s *SlogLogger) log(level slog.Level, msg string, fields LogFields) {
	if level < s.level.Level() {
		return
	}
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}
	s.logger.Log(ctx, level, msg, fieldArgs(fields)...)
}

// slogLevel maps a LogLevel to the slog level that admits it.
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// ParseLogLevel converts a level name such as "debug" or "warning" to a
// LogLevel. Unknown names map to LogLevelInfo.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(name) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "none", "off":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

// fieldArgs flattens fields into sorted slog key/value arguments.
func fieldArgs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}
	return args
}

// Field names used in client log records.
const (
	LogFieldClientID   = "client_id"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	// LogFieldReasonCode carries CONNACK and SUBACK return codes.
	LogFieldReasonCode = "return_code"
	LogFieldError      = "error"
	LogFieldRemoteAddr = "remote_addr"
	LogFieldDuration   = "duration"
	LogFieldBytes      = "bytes"
)
