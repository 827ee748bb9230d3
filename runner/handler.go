package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/flow"
)

// Handler runs a function with retries, timeout and deadline handling, and
// keeps counters across runs.
type Handler struct {
	mu sync.Mutex

	logger        flow.Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy

	EntryID        int
	runs           int
	successfulRuns int

	maxRuns    int
	maxRetries int
	timeout    time.Duration
	deadline   time.Time
	once       bool
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		logger:        flow.NopLogger(),
		errorHandler:  func(error) {},
		doneHandler:   func(*Handler) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Run calls fn until it succeeds or retries are exhausted and returns the
// last error. Runs skipped because of WithRunOnce or WithMaxRuns return nil.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	if h.once && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}
	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.mu.Unlock()
		return nil
	}
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		err = fn(ctx)
		if err == nil || attempt == maxRetries {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}

		h.logger.Warn("run failed, attempt %d of %d: %v", attempt+1, maxRetries+1, err)
		h.errorHandler(errors.Wrap(err, errors.CategoryHandler, fmt.Sprintf("run failed, attempt %d of %d", attempt+1, maxRetries+1)).
			WithTextCode("RUN_ATTEMPT_FAILED"))

		if sleepErr := sleep(ctx, decision.Delay); sleepErr != nil {
			err = errors.Join(err, sleepErr)
			break
		}
	}

	h.mu.Lock()
	h.runs++
	if err == nil {
		h.successfulRuns++
		done := h.maxRuns > 0 && h.successfulRuns == h.maxRuns
		h.mu.Unlock()
		// handlers run unlocked so they may read the counters
		if done {
			h.doneHandler(h)
		}
		return nil
	}
	h.mu.Unlock()

	wrapped := errors.Wrap(err, errors.CategoryHandler, fmt.Sprintf("run failed after %d attempts", attempts)).
		WithTextCode("RUN_FAILED").
		WithMetadata(map[string]any{"attempts": attempts})
	h.logger.Error("run failed after %d attempts: %v", attempts, err)
	h.errorHandler(wrapped)
	return wrapped
}

// Runs returns the number of completed runs.
func (h *Handler) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// SuccessfulRuns returns the number of runs that succeeded.
func (h *Handler) SuccessfulRuns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successfulRuns
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// RunCommand executes a command per attempt. build is called for every
// attempt since a processed command never runs again. A FAILED command counts
// as a failed attempt; errors that prevent the command from running at all
// are not retried. The last command built is returned.
func RunCommand(ctx context.Context, h *Handler, build func() (*command.Command, error)) (*command.Command, error) {
	var last *command.Command
	err := h.Run(ctx, func(ctx context.Context) error {
		cmd, err := build()
		if err != nil {
			return Permanent(err)
		}
		last = cmd
		if _, err := cmd.Execute(ctx); err != nil {
			return Permanent(err)
		}
		if cmd.Status() == command.StatusFailed {
			if cerr := cmd.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("command %s failed", cmd.Code())
		}
		return nil
	})
	return last, err
}
