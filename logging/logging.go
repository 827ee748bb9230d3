// Package logging adapts go-logger to the flow.Logger contract used across
// the module.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-acommand/flow"
)

// Adapter exposes a glog.Logger as a flow.Logger.
type Adapter struct {
	logger glog.Logger
}

var (
	_ flow.Logger       = Adapter{}
	_ flow.FieldsLogger = Adapter{}
)

// Wrap adapts logger. A nil logger yields the flow fallback logger.
func Wrap(logger glog.Logger) flow.Logger {
	if logger == nil {
		return flow.NewFmtLogger(nil)
	}
	return Adapter{logger: logger}
}

// flow.Logger callers pass printf arguments while glog reads trailing args
// as attributes, so messages are formatted before they reach glog.
func (l Adapter) Trace(msg string, args ...any) { l.logger.Trace(format(msg, args)) }
func (l Adapter) Debug(msg string, args ...any) { l.logger.Debug(format(msg, args)) }
func (l Adapter) Info(msg string, args ...any)  { l.logger.Info(format(msg, args)) }
func (l Adapter) Warn(msg string, args ...any)  { l.logger.Warn(format(msg, args)) }
func (l Adapter) Error(msg string, args ...any) { l.logger.Error(format(msg, args)) }
func (l Adapter) Fatal(msg string, args ...any) { l.logger.Fatal(format(msg, args)) }

func format(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l Adapter) WithContext(ctx context.Context) flow.Logger {
	return Adapter{logger: l.logger.WithContext(ctx)}
}

func (l Adapter) WithFields(fields map[string]any) flow.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return Adapter{logger: fl.WithFields(fields)}
	}
	return l
}

type options struct {
	writer io.Writer
	level  string
	format string
}

// Option configures New.
type Option func(*options)

// WithWriter sets the output, stderr by default.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLevel sets the minimum level by name: trace, debug, info, warn, error.
func WithLevel(level string) Option {
	return func(o *options) { o.level = level }
}

// WithFormat selects "json" (default) or "console" output.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// New builds a go-logger backed flow.Logger.
func New(opts ...Option) flow.Logger {
	o := options{writer: os.Stderr, level: "info", format: "json"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	glogOpts := []glog.Option{
		glog.WithWriter(o.writer),
		glog.WithLevel(strings.ToLower(strings.TrimSpace(o.level))),
	}
	switch strings.ToLower(strings.TrimSpace(o.format)) {
	case "console", "text":
		glogOpts = append(glogOpts, glog.WithLoggerTypeConsole())
	default:
		glogOpts = append(glogOpts, glog.WithLoggerTypeJSON())
	}
	return Wrap(glog.NewLogger(glogOpts...))
}
