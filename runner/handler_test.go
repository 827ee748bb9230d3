package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

func TestHandler_NoError_NoRetries(t *testing.T) {
	h := NewHandler()

	cf := countingFunc{failUntil: 0}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 1 {
		t.Errorf("expected calls=1, got %d", cf.calls)
	}
	if runs := h.Runs(); runs != 1 {
		t.Errorf("Handler.runs should be 1, got %d", runs)
	}
	if success := h.SuccessfulRuns(); success != 1 {
		t.Errorf("Handler.successfulRuns should be 1, got %d", success)
	}
}

func TestHandler_SuccessOnSecondAttempt(t *testing.T) {
	h := NewHandler(WithMaxRetries(3))

	cf := countingFunc{failUntil: 1}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 2 {
		t.Errorf("expected calls=2, got %d", cf.calls)
	}
	if h.Runs() != 1 {
		t.Errorf("expected Handler runs=1, got %d", h.Runs())
	}
	if h.SuccessfulRuns() != 1 {
		t.Errorf("expected Handler successfulRuns=1, got %d", h.SuccessfulRuns())
	}
}

func TestHandler_AllAttemptsFail(t *testing.T) {
	var handled []error
	h := NewHandler(
		WithMaxRetries(2),
		WithErrorHandler(func(err error) { handled = append(handled, err) }),
	)

	cf := countingFunc{failUntil: 5}
	err := h.Run(context.Background(), cf.fn)
	if err == nil {
		t.Fatal("expected an error after all attempts failed")
	}

	if cf.calls != 3 {
		t.Errorf("expected calls=3 (1 initial + 2 retries), got %d", cf.calls)
	}
	if h.SuccessfulRuns() != 0 {
		t.Errorf("Handler.successfulRuns should remain 0 for all fail, got %d", h.SuccessfulRuns())
	}
	// two retry notifications plus the final failure
	if len(handled) != 3 {
		t.Errorf("expected 3 handled errors, got %d", len(handled))
	}
}

func TestHandler_PermanentErrorStopsRetries(t *testing.T) {
	h := NewHandler(WithMaxRetries(5))

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errors.New("invalid"))
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestHandler_RunOnce(t *testing.T) {
	h := NewHandler(WithRunOnce(true))

	cf := countingFunc{}

	h.Run(context.Background(), cf.fn)
	if cf.calls != 1 {
		t.Errorf("expected calls=1 after first run, got %d", cf.calls)
	}

	h.Run(context.Background(), cf.fn)
	if cf.calls != 1 {
		t.Errorf("expected calls=1 after second run (skipped), got %d", cf.calls)
	}

	if h.SuccessfulRuns() != 1 {
		t.Errorf("expected successfulRuns=1, got %d", h.SuccessfulRuns())
	}
}

func TestHandler_MaxRuns(t *testing.T) {
	done := 0
	h := NewHandler(
		WithMaxRuns(2),
		WithMaxRetries(0),
		WithDoneHandler(func(*Handler) { done++ }),
	)

	cf := countingFunc{}

	h.Run(context.Background(), cf.fn)
	if h.SuccessfulRuns() != 1 {
		t.Errorf("expected 1 success, got %d", h.SuccessfulRuns())
	}

	h.Run(context.Background(), cf.fn)
	if h.SuccessfulRuns() != 2 {
		t.Errorf("expected 2 successes, got %d", h.SuccessfulRuns())
	}

	h.Run(context.Background(), cf.fn)

	if cf.calls != 2 {
		t.Errorf("expected calls=2, got %d", cf.calls)
	}
	if done != 1 {
		t.Errorf("expected done handler to run once, got %d", done)
	}
}

func TestHandler_HandlersCanReadCounters(t *testing.T) {
	got := make(chan [2]int, 1)
	h := NewHandler(
		WithMaxRuns(1),
		WithDoneHandler(func(h *Handler) { got <- [2]int{h.Runs(), h.SuccessfulRuns()} }),
	)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		h.Run(context.Background(), func(context.Context) error { return nil })
	}()

	select {
	case counts := <-got:
		if counts != [2]int{1, 1} {
			t.Errorf("expected done handler to see 1 run and 1 success, got %v", counts)
		}
	case <-time.After(time.Second):
		t.Fatal("done handler calling Runs never returned")
	}
	<-finished

	runs := make(chan int, 2)
	h = NewHandler(WithErrorHandler(func(error) { runs <- h.Runs() }))
	errDone := make(chan error, 1)
	go func() {
		errDone <- h.Run(context.Background(), func(context.Context) error { return errors.New("boom") })
	}()
	select {
	case err := <-errDone:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(time.Second):
		t.Fatal("error handler calling Runs never returned")
	}
	if n := <-runs; n != 1 {
		t.Errorf("expected error handler to see 1 run, got %d", n)
	}
}

func TestOptions_Guards(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(-3),
		WithMaxRuns(-1),
		WithTimeout(-time.Second),
		WithRetryStrategy(nil),
		WithErrorHandler(nil),
		WithDoneHandler(nil),
		WithLogger(nil),
	)
	if h.maxRetries != 0 || h.maxRuns != 0 || h.timeout != 0 {
		t.Errorf("expected negative limits to clamp to zero, got retries=%d runs=%d timeout=%s", h.maxRetries, h.maxRuns, h.timeout)
	}
	if _, ok := h.retryStrategy.(NoDelayStrategy); !ok {
		t.Errorf("expected nil strategy to fall back to NoDelayStrategy, got %T", h.retryStrategy)
	}
	if h.errorHandler == nil || h.doneHandler == nil || h.logger == nil {
		t.Error("nil handlers must keep the defaults")
	}

	h = NewHandler(WithBackoff(10*time.Millisecond, 2, 15*time.Millisecond))
	backoff, ok := h.retryStrategy.(ExponentialBackoffStrategy)
	if !ok {
		t.Fatalf("expected ExponentialBackoffStrategy, got %T", h.retryStrategy)
	}
	if d := backoff.SleepDuration(1, nil); d != 15*time.Millisecond {
		t.Errorf("expected capped delay of 15ms, got %s", d)
	}

	h = NewHandler(WithBackoff(0, 2, time.Second))
	if _, ok := h.retryStrategy.(NoDelayStrategy); !ok {
		t.Errorf("expected zero base to keep NoDelayStrategy, got %T", h.retryStrategy)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := NewHandler(
		WithTimeout(50*time.Millisecond),
		WithMaxRetries(0),
	)

	start := time.Now()
	err := h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	elapsed := time.Since(start)

	if elapsed >= 500*time.Millisecond {
		t.Error("expected function to time out quickly, but took too long")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if h.SuccessfulRuns() != 0 {
		t.Errorf("expected 0 successful runs, got %d", h.SuccessfulRuns())
	}
}

func TestHandler_Deadline(t *testing.T) {
	deadline := time.Now().Add(50 * time.Millisecond)
	h := NewHandler(WithDeadline(deadline))

	start := time.Now()
	h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	elapsed := time.Since(start)

	if elapsed >= 500*time.Millisecond {
		t.Error("expected function to stop at deadline, but took too long")
	}
	if h.SuccessfulRuns() != 0 {
		t.Errorf("expected 0 successful runs, got %d", h.SuccessfulRuns())
	}
}

func TestHandler_BackoffInterruptedByContext(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(3),
		WithTimeout(30*time.Millisecond),
		WithRetryStrategy(ExponentialBackoffStrategy{Base: time.Second, Factor: 2}),
	)

	start := time.Now()
	err := h.Run(context.Background(), func(context.Context) error {
		return errors.New("always")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if time.Since(start) >= time.Second {
		t.Error("expected backoff sleep to stop when the context expired")
	}
}

func TestHandler_Concurrency(t *testing.T) {
	h := NewHandler(WithMaxRetries(1))
	wg := sync.WaitGroup{}
	const goroutines = 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cf := &countingFunc{failUntil: 1}
			h.Run(context.Background(), cf.fn)
		}()
	}
	wg.Wait()

	if h.Runs() != goroutines {
		t.Errorf("expected Handler.runs=%d, got %d", goroutines, h.Runs())
	}
	if h.SuccessfulRuns() != goroutines {
		t.Errorf("expected Handler.successfulRuns=%d, got %d", goroutines, h.SuccessfulRuns())
	}
}

func TestHandler_Logger(t *testing.T) {
	ml := &mockLogger{}
	h := NewHandler(
		WithLogger(ml),
		WithMaxRetries(1),
	)

	cf := countingFunc{failUntil: 2}
	h.Run(context.Background(), cf.fn)

	if len(ml.errorMessages) == 0 {
		t.Error("expected some error logs, got none")
	}
	if len(ml.warnMessages) != 1 {
		t.Errorf("expected one retry warning, got %d", len(ml.warnMessages))
	}
}

func TestRunCommand_RetriesWithFreshCommands(t *testing.T) {
	attempts := 0
	flaky := command.NewType("flaky", command.OnExecute(
		func(context.Context, *command.Command, *scope.Scope) (map[string]any, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("not yet")
			}
			return map[string]any{"attempt": attempts}, nil
		},
	))

	var built []*command.Command
	h := NewHandler(WithMaxRetries(2))
	cmd, err := RunCommand(context.Background(), h, func() (*command.Command, error) {
		c := flaky.New(nil, command.WithLogger(flow.NopLogger()))
		built = append(built, c)
		return c, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(built) != 2 {
		t.Fatalf("expected 2 commands built, got %d", len(built))
	}
	if built[0].Status() != command.StatusFailed {
		t.Errorf("first attempt should be FAILED, got %s", built[0].Status())
	}
	if cmd != built[1] || cmd.Status() != command.StatusCompleted {
		t.Errorf("expected the last command to be COMPLETED, got %s", cmd.Status())
	}
	if cmd.Result()["attempt"] != 2 {
		t.Errorf("unexpected result: %v", cmd.Result())
	}
}

func TestRunCommand_BuildErrorIsNotRetried(t *testing.T) {
	h := NewHandler(WithMaxRetries(3))
	calls := 0
	cmd, err := RunCommand(context.Background(), h, func() (*command.Command, error) {
		calls++
		return nil, errors.New("unknown code")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if cmd != nil {
		t.Error("expected no command")
	}
	if calls != 1 {
		t.Errorf("expected a single build, got %d", calls)
	}
}

type mockLogger struct {
	mu            sync.Mutex
	warnMessages  []string
	errorMessages []string
}

func (m *mockLogger) Trace(string, ...any) {}
func (m *mockLogger) Debug(string, ...any) {}
func (m *mockLogger) Info(string, ...any)  {}
func (m *mockLogger) Fatal(string, ...any) {}

func (m *mockLogger) Warn(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMessages = append(m.warnMessages, fmt.Sprintf(msg, args...))
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMessages = append(m.errorMessages, fmt.Sprintf(msg, args...))
}

func (m *mockLogger) WithContext(context.Context) flow.Logger { return m }

type countingFunc struct {
	calls     int
	failUntil int // fail this many times, then succeed
}

func (cf *countingFunc) fn(_ context.Context) error {
	cf.calls++
	if cf.calls <= cf.failUntil {
		return fmt.Errorf("forced error attempt %d", cf.calls)
	}
	return nil
}
