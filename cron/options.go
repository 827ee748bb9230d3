package cron

import (
	"fmt"
	"io"
	"time"

	"github.com/goliatone/go-acommand/flow"
)

// LogLevel controls how much of the cron loop chatter reaches the logger.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser represents a cron expression parser type
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option defines the functional option type for Scheduler
type Option func(*Scheduler)

// WithLocation sets the timezone location for the scheduler
func WithLocation(loc *time.Location) Option {
	return func(cs *Scheduler) {
		cs.location = loc
	}
}

// WithLogger sets the logger for the scheduler and the cron loop.
func WithLogger(logger flow.Logger) Option {
	return func(cs *Scheduler) {
		cs.logger = logger
	}
}

// WithLogWriter logs through the fallback logger writing to writer.
func WithLogWriter(writer io.Writer) Option {
	return func(cs *Scheduler) {
		cs.logger = flow.NewFmtLogger(writer)
	}
}

// WithLogLevel sets the logging level
func WithLogLevel(level LogLevel) Option {
	return func(cs *Scheduler) {
		cs.logLevel = level
	}
}

// WithErrorHandler sets a custom error handler for the scheduler
func WithErrorHandler(handler func(error)) Option {
	return func(cs *Scheduler) {
		cs.errorHandler = handler
	}
}

// WithParser sets the type of cron expression parser to use
func WithParser(p Parser) Option {
	return func(cs *Scheduler) {
		cs.parser = p
	}
}

// WithSkipIfRunning skips a cron tick while the previous run of the same
// schedule is still in progress.
func WithSkipIfRunning(skip bool) Option {
	return func(cs *Scheduler) {
		cs.skipRunning = skip
	}
}

// WithJobTimeout bounds each scheduled dispatch.
func WithJobTimeout(d time.Duration) Option {
	return func(cs *Scheduler) {
		cs.jobTimeout = d
	}
}

// loggerAdapter adapts flow.Logger to robfig/cron's logger
type loggerAdapter struct {
	logger flow.Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logger.Info("cron: %s %s", msg, formatKeysAndValues(args))
	}
}

func (l *loggerAdapter) Error(err error, msg string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s: %v %s", msg, err, formatKeysAndValues(args))
	}
}

// robfig/cron passes structured key/value pairs rather than format args.
func formatKeysAndValues(kv []interface{}) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return out
}

// errorHandlerAdapter adapts a simple error handler function to implement cron.Logger
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(string, ...interface{}) {}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...interface{}) {
	if e.handler == nil {
		return
	}
	if err != nil {
		e.handler(err)
		return
	}
	e.handler(fmt.Errorf("%s %s", msg, formatKeysAndValues(args)))
}
