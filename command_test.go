package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

type trail struct {
	mu    sync.Mutex
	steps []string
}

func (t *trail) add(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *trail) get() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

func (t *trail) hook(step string) Hook {
	return func(context.Context, *Command, *scope.Scope) error {
		t.add(step)
		return nil
	}
}

// stepClock returns a clock advancing by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		out := now
		now = now.Add(step)
		return out
	}
}

func quiet() Option { return WithLogger(flow.NopLogger()) }

func TestExecuteRunsHooksInOrder(t *testing.T) {
	tr := &trail{}
	typ := NewType("ordered",
		OnInit(tr.hook("init")),
		OnBeforeExecute(tr.hook("before")),
		OnExecute(
			func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
				tr.add("execute-1")
				return map[string]any{"a": 1, "b": 1}, nil
			},
			func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
				tr.add("execute-2")
				return map[string]any{"b": 2}, nil
			},
		),
		OnAfterExecute(tr.hook("after")),
		OnComplete(tr.hook("complete")),
		OnFail(tr.hook("fail")),
	)

	cmd := typ.New(map[string]any{"x": "y"}, quiet())
	for _, ev := range []Event{EventInit, EventExecute, EventComplete, EventFail} {
		ev := ev
		cmd.On(ev, func(*Command) { tr.add("event:" + string(ev)) })
	}

	result, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, result)
	assert.Equal(t, StatusCompleted, cmd.Status())
	assert.True(t, cmd.IsProcessed())
	assert.Nil(t, cmd.Err())
	assert.Equal(t, []string{
		"init", "event:init",
		"event:execute", "before", "execute-1", "execute-2", "after",
		"complete", "event:complete",
	}, tr.get())
}

func TestCommandWithoutHooksCompletes(t *testing.T) {
	cmd := NewType("empty").New(nil, quiet())

	result, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StatusCompleted, cmd.Status())
	assert.Equal(t, OriginInvoked, cmd.Origin())
}

func TestCompileHooksReportCompiled(t *testing.T) {
	var during Status
	typ := NewType("compiled", OnCompile(func(_ context.Context, cmd *Command, _ *scope.Scope) error {
		during = cmd.Status()
		return nil
	}))

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompiled, during)
	assert.Equal(t, StatusCompleted, cmd.Status())
}

func TestCompileFailureFailsCommand(t *testing.T) {
	typ := NewType("bad-compile", OnCompile(func(context.Context, *Command, *scope.Scope) error {
		return errors.New("cannot compile")
	}))

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status())
	assert.ErrorContains(t, cmd.Err(), "cannot compile")
}

func TestExecuteFailureMovesToFailed(t *testing.T) {
	tr := &trail{}
	cause := errors.New("boom")
	typ := NewType("failing",
		OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
			return map[string]any{"partial": true}, cause
		}),
		OnAfterExecute(tr.hook("after")),
		OnComplete(tr.hook("complete")),
		OnFail(tr.hook("fail")),
		OnError(tr.hook("error")),
	)

	cmd := typ.New(nil, quiet())
	var failEvents int
	cmd.On(EventFail, func(*Command) { failEvents++ })

	result, err := cmd.Execute(context.Background())
	require.NoError(t, err, "hook failures are reported through the command")
	assert.Nil(t, result)

	assert.Equal(t, StatusFailed, cmd.Status())
	assert.Nil(t, cmd.Result())
	assert.Equal(t, []string{"fail", "error"}, tr.get())
	assert.Equal(t, 1, failEvents)

	cerr := cmd.Err()
	require.NotNil(t, cerr)
	assert.Equal(t, TitleExecution, cerr.Title)
	assert.True(t, errors.Is(cerr, ErrExecution))
	assert.True(t, errors.Is(cerr, cause))

	_, ended := cmd.EndedAt()
	assert.True(t, ended)
}

func TestInitHookFailure(t *testing.T) {
	typ := NewType("init-fails", OnInit(func(context.Context, *Command, *scope.Scope) error {
		return errors.New("not ready")
	}))

	cmd := typ.New(nil, quiet())
	err := cmd.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecution))
	assert.Equal(t, StatusFailed, cmd.Status())
	assert.ErrorContains(t, cmd.Err(), "not ready")

	_, err = cmd.Execute(context.Background())
	assert.True(t, errors.Is(err, ErrInterrupted))

	cmd = typ.New(nil, quiet())
	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status())
}

func TestInitIsIdempotent(t *testing.T) {
	calls := 0
	typ := NewType("init-once", OnInit(func(context.Context, *Command, *scope.Scope) error {
		calls++
		return nil
	}))

	cmd := typ.New(nil, quiet())
	require.NoError(t, cmd.Init(context.Background()))
	require.NoError(t, cmd.Init(context.Background()))
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestValidatorRejectsParamsBeforeExecute(t *testing.T) {
	executed := false
	typ := NewType("validated",
		WithParamsValidator(func(params map[string]any) error {
			if _, ok := params["id"]; !ok {
				return errors.New("id is required")
			}
			return nil
		}),
		OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
			executed = true
			return nil, nil
		}),
	)

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Equal(t, StatusFailed, cmd.Status())
	assert.ErrorContains(t, cmd.Err(), "id is required")

	cmd = typ.New(map[string]any{"id": 1}, quiet())
	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestPanicInHookFailsCommand(t *testing.T) {
	typ := NewType("panics", OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
		panic("kaboom")
	}))

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status())

	var perr *flow.PanicError
	require.ErrorAs(t, cmd.Err(), &perr)
	assert.Equal(t, "kaboom", perr.Value)
	assert.Equal(t, "execute[0]", perr.Hook)
}

func TestCompleteHookFailureBecomesResultProcessingError(t *testing.T) {
	typ := NewType("bad-complete",
		OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}),
		OnComplete(func(context.Context, *Command, *scope.Scope) error {
			return errors.New("cannot store result")
		}),
	)

	cmd := typ.New(nil, quiet())
	var completed bool
	cmd.On(EventComplete, func(*Command) { completed = true })

	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, StatusFailed, cmd.Status())
	assert.Nil(t, cmd.Result())
	require.NotNil(t, cmd.Err())
	assert.Equal(t, TitleResultProcessing, cmd.Err().Title)
}

func TestFailHookFailureDoesNotChangeOutcome(t *testing.T) {
	errorHookRan := false
	typ := NewType("bad-fail-hook",
		OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
			return nil, errors.New("boom")
		}),
		OnFail(func(context.Context, *Command, *scope.Scope) error {
			return errors.New("fail hook broke")
		}),
		OnError(func(context.Context, *Command, *scope.Scope) error {
			errorHookRan = true
			return nil
		}),
	)

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status())
	assert.True(t, errorHookRan)
	assert.ErrorContains(t, cmd.Err(), "boom")
}

func TestHookCanFailCommand(t *testing.T) {
	typ := NewType("self-fail", OnExecute(func(ctx context.Context, cmd *Command, _ *scope.Scope) (map[string]any, error) {
		require.NoError(t, cmd.Fail(ctx, errors.New("giving up")))
		return map[string]any{"ignored": true}, nil
	}))

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status())
	assert.Nil(t, cmd.Result())
	assert.ErrorContains(t, cmd.Err(), "giving up")
}

func TestCompleteAndFailAreNoOpsOnceProcessed(t *testing.T) {
	ctx := context.Background()
	cmd := NewType("done").New(nil, quiet())
	_, err := cmd.Execute(ctx)
	require.NoError(t, err)

	require.NoError(t, cmd.Fail(ctx, errors.New("late")))
	require.NoError(t, cmd.Complete(ctx, map[string]any{"late": true}))
	assert.Equal(t, StatusCompleted, cmd.Status())
	assert.Nil(t, cmd.Err())
	assert.Nil(t, cmd.Result())
}

func TestExecuteRejectsReentryAndProcessed(t *testing.T) {
	var reentry error
	typ := NewType("reentrant", OnExecute(func(ctx context.Context, cmd *Command, _ *scope.Scope) (map[string]any, error) {
		_, reentry = cmd.Execute(ctx)
		return nil, nil
	}))

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	require.Error(t, reentry)
	assert.True(t, errors.Is(reentry, ErrInterrupted))
	assert.Equal(t, StatusCompleted, cmd.Status())

	_, err = cmd.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs int
	typ := NewType("single-flight", OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
		runs++
		close(started)
		<-release
		return nil, nil
	}))
	cmd := typ.New(nil, quiet())

	done := make(chan error, 1)
	go func() {
		_, err := cmd.Execute(context.Background())
		done <- err
	}()
	<-started

	_, err := cmd.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))

	err = cmd.Init(context.Background())
	assert.True(t, errors.Is(err, ErrInterrupted))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, runs)
	assert.Equal(t, StatusCompleted, cmd.Status())
}

func TestScopeBindingError(t *testing.T) {
	parent := scope.New()
	cmd := NewType("detached").New(nil, quiet()).
		Register(parent).
		UseExecutionScope(scope.New())

	_, err := cmd.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScopeBinding))
	assert.Equal(t, StatusCreated, cmd.Status())
}

func TestScopes(t *testing.T) {
	parent := scope.New()
	parent.Register("tenant-a")

	var (
		tenant string
		op     *flow.OperationContext
		self   *Command
	)
	typ := NewType("scoped", OnExecute(func(_ context.Context, _ *Command, sc *scope.Scope) (map[string]any, error) {
		tenant, _ = scope.Resolve[string](sc)
		op, _ = scope.Resolve[*flow.OperationContext](sc)
		self, _ = scope.Resolve[*Command](sc)
		return nil, nil
	}))

	cmd := typ.New(map[string]any{"k": "v"}, quiet(), WithScope(parent))
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tenant-a", tenant)
	require.NotNil(t, op)
	assert.Equal(t, "execute", op.Name())
	assert.Equal(t, map[string]any{"k": "v"}, op.Params())
	assert.Same(t, cmd, self)

	assert.Same(t, parent, cmd.ContextScope())
	assert.True(t, cmd.ExecutionScope().IsInheritedFrom(parent))
	assert.True(t, cmd.ExecutionScope().Destroyed())
	assert.False(t, parent.Destroyed())
}

func TestRegisterOnlyRebindsCreatedCommands(t *testing.T) {
	first, second := scope.New(), scope.New()
	cmd := NewType("bind").New(nil, quiet()).Register(first)
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	cmd.Register(second)
	assert.Same(t, first, cmd.ContextScope())
}

func TestTiming(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cmd := NewType("timed").New(nil, quiet(), WithClock(stepClock(start, 250*time.Millisecond)))

	_, ok := cmd.Duration()
	assert.False(t, ok)
	_, ok = cmd.IdleTime()
	assert.False(t, ok)
	assert.Equal(t, start, cmd.CreatedAt())

	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	startedAt, ok := cmd.StartedAt()
	require.True(t, ok)
	endedAt, ok := cmd.EndedAt()
	require.True(t, ok)

	idle, ok := cmd.IdleTime()
	require.True(t, ok)
	assert.Equal(t, startedAt.Sub(start), idle)
	assert.Greater(t, idle, time.Duration(0))

	d, ok := cmd.Duration()
	require.True(t, ok)
	assert.Equal(t, endedAt.Sub(startedAt), d)
}

func TestDurationGrowsWhileExecuting(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var first, second time.Duration
	typ := NewType("running", OnExecute(func(_ context.Context, cmd *Command, _ *scope.Scope) (map[string]any, error) {
		var ok bool
		first, ok = cmd.Duration()
		require.True(t, ok)
		second, ok = cmd.Duration()
		require.True(t, ok)
		return nil, nil
	}))
	cmd := typ.New(nil, quiet(), WithClock(stepClock(start, 100*time.Millisecond)))

	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	assert.Greater(t, first, time.Duration(0))
	assert.Greater(t, second, first)

	final, ok := cmd.Duration()
	require.True(t, ok)
	again, _ := cmd.Duration()
	assert.Equal(t, final, again, "an ended command has a fixed duration")
}

// failOn returns a transition hook failing only for the from -> to transition.
func failOn(from, to Status, msg string) flow.TransitionHook {
	id := flow.TransitionID(string(from), string(to))
	return func(_ context.Context, sc *scope.Scope) error {
		if rec, ok := scope.Resolve[*flow.TransitionRecord](sc); ok && rec.ID() == id {
			return errors.New(msg)
		}
		return nil
	}
}

func TestFailTransitionFailureIsFatal(t *testing.T) {
	cases := map[string]flow.MachineOption{
		"after handler": flow.WithAfterTransition(failOn(StatusExecuting, StatusFailed, "audit down")),
		"before handler": flow.WithBeforeTransition(failOn(StatusExecuting, StatusFailed, "audit down")),
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			failHooks, errorHooks := 0, 0
			typ := NewType("fatal",
				WithMachineOptions(opt),
				OnExecute(func(context.Context, *Command, *scope.Scope) (map[string]any, error) {
					return nil, errors.New("disk full")
				}),
				OnFail(func(context.Context, *Command, *scope.Scope) error {
					failHooks++
					return nil
				}),
				OnError(func(context.Context, *Command, *scope.Scope) error {
					errorHooks++
					return nil
				}),
			)

			failEvents := 0
			cmd := typ.New(nil, quiet(), WithListener(EventFail, func(*Command) { failEvents++ }))

			_, err := cmd.Execute(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, flow.ErrTransition))
			assert.ErrorContains(t, err, "audit down")

			assert.Equal(t, StatusFailed, cmd.Status())
			assert.True(t, cmd.IsProcessed())
			assert.True(t, cmd.ExecutionScope().Destroyed())
			assert.ErrorContains(t, cmd.Err(), "disk full")
			_, ended := cmd.EndedAt()
			assert.True(t, ended)
			assert.Equal(t, 1, failEvents)
			assert.Zero(t, failHooks)
			assert.Zero(t, errorHooks)

			require.NoError(t, cmd.Fail(context.Background(), errors.New("again")))
			assert.Equal(t, 1, failEvents)
			assert.Zero(t, failHooks)
			assert.ErrorContains(t, cmd.Err(), "disk full")
		})
	}
}

func TestInitTransitionFailureFailsCommand(t *testing.T) {
	typ := NewType("init-transition",
		WithMachineOptions(flow.WithBeforeTransition(failOn(StatusCreated, StatusInitialized, "not allowed"))),
	)

	cmd := typ.New(nil, quiet())
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status())
	require.NotNil(t, cmd.Err())
	assert.True(t, errors.Is(cmd.Err(), flow.ErrTransition))
	assert.ErrorContains(t, cmd.Err(), "not allowed")
	assert.True(t, cmd.ExecutionScope().Destroyed())

	cmd = typ.New(nil, quiet())
	err = cmd.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, flow.ErrTransition))
	assert.Equal(t, StatusFailed, cmd.Status())
}

func TestCompleteRejectedBeforeExecution(t *testing.T) {
	ctx := context.Background()
	cmd := NewType("early").New(nil, quiet())

	err := cmd.Complete(ctx, map[string]any{"x": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
	assert.Equal(t, StatusCreated, cmd.Status())
	_, started := cmd.StartedAt()
	assert.False(t, started)

	require.NoError(t, cmd.Init(ctx))
	assert.True(t, errors.Is(cmd.Complete(ctx, nil), ErrInterrupted))

	_, err = cmd.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cmd.Status())
}

func TestTimestampsAreUTCMilliseconds(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 678901234, loc) }
	cmd := NewType("utc").New(nil, quiet(), WithClock(clock))

	created := cmd.CreatedAt()
	assert.Equal(t, time.UTC, created.Location())
	assert.Equal(t, 678000000, created.Nanosecond())
	assert.Equal(t, 0, created.Hour())
}

func TestParamsAreCopied(t *testing.T) {
	params := map[string]any{"a": 1}
	cmd := NewType("copy").New(params, quiet())
	params["a"] = 2

	v, ok := cmd.Param("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	got := cmd.Params()
	got["a"] = 3
	v, _ = cmd.Param("a")
	assert.Equal(t, 1, v)
}

func TestMachineOptionsReachCommandEngine(t *testing.T) {
	var typeIDs, cmdIDs []string
	record := func(dst *[]string) flow.MachineOption {
		return flow.WithAfterTransition(func(_ context.Context, sc *scope.Scope) error {
			if rec, ok := scope.Resolve[*flow.TransitionRecord](sc); ok {
				*dst = append(*dst, rec.ID())
			}
			return nil
		})
	}

	typ := NewType("observed", WithMachineOptions(record(&typeIDs)))
	cmd := typ.New(nil, quiet(), WithEngineOptions(record(&cmdIDs)))
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	want := []string{
		TransitionCreatedToInitialized.ID(),
		TransitionInitializedToExecuting.ID(),
		TransitionExecutingToCompleted.ID(),
	}
	assert.Equal(t, want, typeIDs)
	assert.Equal(t, want, cmdIDs)
	assert.Equal(t, "created_initialized", TransitionCreatedToInitialized.ID())
}

func TestStatusHelpers(t *testing.T) {
	st, ok := ParseStatus(" completed ")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, st)

	_, ok = ParseStatus("done")
	assert.False(t, ok)

	assert.Len(t, Statuses(), 6)
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusCompiled.IsTerminal())
	assert.False(t, Status("BOGUS").Valid())
}

func TestNewTypeRequiresCode(t *testing.T) {
	assert.Panics(t, func() { NewType("  ") })
}
