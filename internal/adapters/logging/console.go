// Package logging implements ports.Logger for the CLI. ConsoleLogger writes
// run and step events as text or JSON lines.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// Format selects how ConsoleLogger renders entries.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps a --log-format value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want text or json)", s)
	}
}

// ParseLevel maps a level name such as "debug" or "WARN" to a ports.Level.
func ParseLevel(s string) (ports.Level, error) {
	for _, level := range []ports.Level{ports.LevelDebug, ports.LevelInfo, ports.LevelWarn, ports.LevelError} {
		if strings.EqualFold(s, level.String()) {
			return level, nil
		}
	}
	return ports.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ConsoleLogger writes one line per entry, as key=value text or JSON.
// Loggers derived with With share the writer and its lock.
type ConsoleLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	level  ports.Level
	fields []ports.Field
	format Format
	now    func() time.Time
	stamp  bool
}

// ConsoleLoggerOption configures the console logger.
type ConsoleLoggerOption func(*ConsoleLogger)

// WithOutput sets the output writer (default: os.Stderr).
func WithOutput(w io.Writer) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.out = w
	}
}

// WithLevel sets the minimum log level (default: Info).
func WithLevel(level ports.Level) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.level = level
	}
}

// WithFormat sets the output format (default: text).
func WithFormat(format Format) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.format = format
	}
}

// WithTimestamp includes a timestamp in log entries.
func WithTimestamp(enabled bool) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.stamp = enabled
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.now = now
	}
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(opts ...ConsoleLoggerOption) *ConsoleLogger {
	l := &ConsoleLogger{
		mu:     &sync.Mutex{},
		out:    os.Stderr,
		level:  ports.LevelInfo,
		format: FormatText,
		now:    time.Now,
		stamp:  true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewNopLogger returns a logger whose entries go nowhere.
func NewNopLogger() *ConsoleLogger {
	return NewConsoleLogger(WithOutput(io.Discard), WithLevel(ports.LevelError))
}

// Debug logs a debug message.
func (l *ConsoleLogger) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelDebug, msg, fields)
}

// Info logs an informational message.
func (l *ConsoleLogger) Info(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *ConsoleLogger) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelWarn, msg, fields)
}

// Error logs an error message.
func (l *ConsoleLogger) Error(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelError, msg, fields)
}

// With returns a logger that adds fields to every entry.
func (l *ConsoleLogger) With(fields ...ports.Field) ports.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := *l
	c.fields = append(append(make([]ports.Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &c
}

// Level returns the minimum log level.
func (l *ConsoleLogger) Level() ports.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevel sets the minimum log level.
func (l *ConsoleLogger) SetLevel(level ports.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) log(_ context.Context, level ports.Level, msg string, fields []ports.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	all := append(append(make([]ports.Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	var line string
	if l.format == FormatJSON {
		line = l.json(level, msg, all)
	} else {
		line = l.text(level, msg, all)
	}
	_, _ = fmt.Fprintln(l.out, line)
}

func (l *ConsoleLogger) json(level ports.Level, msg string, fields []ports.Field) string {
	entry := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		entry[f.Key] = jsonValue(f.Value)
	}
	if l.stamp {
		entry["time"] = l.now().UTC().Format(time.RFC3339)
	}
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"msg":%q,"log_error":%q}`, level.String(), msg, err.Error())
	}
	return string(data)
}

func jsonValue(v any) any {
	switch v := v.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}

func (l *ConsoleLogger) text(level ports.Level, msg string, fields []ports.Field) string {
	var b strings.Builder
	if l.stamp {
		b.WriteString(l.now().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s %s", level.String(), msg)
	for _, f := range fields {
		value := fmt.Sprint(f.Value)
		if value == "" {
			continue
		}
		if strings.ContainsAny(value, " \t\"=") {
			value = fmt.Sprintf("%q", value)
		}
		fmt.Fprintf(&b, " %s=%s", f.Key, value)
	}
	return b.String()
}

var _ ports.Logger = (*ConsoleLogger)(nil)
