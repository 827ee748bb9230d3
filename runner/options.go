package runner

import (
	"time"

	"github.com/goliatone/go-acommand/flow"
)

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds every run, retries and backoff included. Non positive
// values leave runs unbounded.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d < 0 {
			d = 0
		}
		h.timeout = d
	}
}

// WithDeadline stops runs at d. When both a deadline and a timeout are set
// the earlier one wins.
func WithDeadline(d time.Time) Option {
	return func(h *Handler) {
		h.deadline = d
	}
}

// WithRunOnce skips every run after the first successful one.
func WithRunOnce(once bool) Option {
	return func(h *Handler) {
		h.once = once
	}
}

// WithMaxRetries sets how many times a failed command is rebuilt and run
// again. A dispatch makes at most n+1 attempts.
func WithMaxRetries(n int) Option {
	return func(h *Handler) {
		h.maxRetries = max(0, n)
	}
}

// WithMaxRuns skips runs once n runs succeeded and calls the done
// handler when the limit is reached.
func WithMaxRuns(n int) Option {
	return func(h *Handler) {
		h.maxRuns = max(0, n)
	}
}

// WithErrorHandler receives every failed attempt and the final failure.
func WithErrorHandler(fn func(error)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.errorHandler = fn
		}
	}
}

func WithLogger(l flow.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDoneHandler is called after the run that reaches WithMaxRuns.
func WithDoneHandler(fn func(*Handler)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.doneHandler = fn
		}
	}
}

// WithRetryStrategy sets the delay between attempts. A nil strategy retries
// without delay.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(h *Handler) {
		if s == nil {
			s = NoDelayStrategy{}
		}
		h.retryStrategy = s
	}
}

// WithBackoff retries with ExponentialBackoffStrategy. A zero base keeps
// retries immediate.
func WithBackoff(base time.Duration, factor float64, limit time.Duration) Option {
	if base <= 0 {
		return WithRetryStrategy(NoDelayStrategy{})
	}
	return WithRetryStrategy(ExponentialBackoffStrategy{Base: base, Factor: factor, Max: limit})
}
