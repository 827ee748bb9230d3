package flow

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger is the runtime logging contract shared by the engine and commands.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger extends Logger with structured-field support.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// Level orders log severities.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// FmtLogger is the local fallback logger used when no external logger is configured.
type FmtLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	ctx    context.Context
	fields map[string]any
	min    Level
}

// NewFmtLogger constructs a fallback logger writing to stderr when out is nil.
func NewFmtLogger(out io.Writer) *FmtLogger {
	if out == nil {
		out = os.Stderr
	}
	return &FmtLogger{mu: &sync.Mutex{}, out: out, ctx: context.Background(), min: LevelInfo}
}

// WithLevel returns a copy of the logger that drops entries below min.
func (l *FmtLogger) WithLevel(min Level) *FmtLogger {
	cp := *l.normalize()
	cp.min = min
	return &cp
}

func (l *FmtLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *FmtLogger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *FmtLogger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *FmtLogger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *FmtLogger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }
func (l *FmtLogger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args...) }

func (l *FmtLogger) WithContext(ctx context.Context) Logger {
	cp := *l.normalize()
	if ctx == nil {
		ctx = context.Background()
	}
	cp.ctx = ctx
	return &cp
}

// WithFields adds fields on a shallow-copy logger.
func (l *FmtLogger) WithFields(fields map[string]any) Logger {
	cp := *l.normalize()
	cp.fields = mergeFields(cp.fields, fields)
	return &cp
}

func (l *FmtLogger) normalize() *FmtLogger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	if l.mu == nil {
		l.mu = &sync.Mutex{}
	}
	return l
}

func (l *FmtLogger) log(level Level, msg string, args ...any) {
	l = l.normalize()
	if level < l.min {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line := fmt.Sprintf("%s %-5s %s", time.Now().UTC().Format(time.RFC3339Nano), level, strings.TrimSpace(msg))
	if fields := formatFields(l.fields); fields != "" {
		line += " " + fields
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
}

type nopLogger struct{}

// NopLogger discards every entry.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Trace(string, ...any)                 {}
func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (nopLogger) Fatal(string, ...any)                 {}
func (n nopLogger) WithContext(context.Context) Logger { return n }

// NormalizeLogger returns logger or the fallback logger when nil.
func NormalizeLogger(logger Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return logger
}

// WithLoggerFields attaches fields when the logger supports them.
func WithLoggerFields(logger Logger, fields map[string]any) Logger {
	logger = NormalizeLogger(logger)
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

func mergeFields(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
