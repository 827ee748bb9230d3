package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

// Init moves a CREATED command to INITIALIZED. It is a no-op for commands
// past CREATED. A scope binding error leaves the command CREATED; any other
// init failure fails the command and is returned.
func (c *Command) Init(ctx context.Context) error {
	c.mu.RLock()
	running, st := c.running, c.status
	c.mu.RUnlock()
	if running {
		return NewInterruptedError(c.typ.code, st, "init called while executing")
	}
	err := c.init(ctx)
	if err != nil && !errors.Is(err, ErrScopeBinding) {
		if ferr := c.Fail(ctx, err); ferr != nil {
			return ferr
		}
	}
	return err
}

func (c *Command) init(ctx context.Context) error {
	if c.Status() != StatusCreated {
		return nil
	}

	contextScope, execScope := c.ensureScopes()
	if !execScope.IsInheritedFrom(contextScope) {
		err := NewScopeBindingError(c.typ.code, execScope.ID(), contextScope.ID())
		c.logger.WithContext(ctx).Error("command init rejected: %v", err)
		return err
	}

	phase, op := c.openPhase(execScope, "init", c.Params())
	defer phase.Destroy()

	t := TransitionCreatedToInitialized
	if err := c.engine().Transition(ctx, string(t.From), string(t.To), nil); err != nil {
		op.Fail(err)
		return err
	}

	if err := c.runHooks(ctx, phase, "init", c.typ.init); err != nil {
		wrapped := NewExecutionError(c.typ.code, err)
		op.Fail(wrapped)
		return wrapped
	}

	op.Succeed(nil)
	c.logger.WithContext(ctx).Debug("command initialized")
	c.events.emit(EventInit, c)
	return nil
}

// Execute runs the command to a terminal state and returns its result.
//
// Hook failures never surface as errors: the command ends FAILED and the
// cause is available from Err. Errors are returned when the command cannot
// start (scope binding, re-entry, already processed) or when failing the
// command itself failed.
func (c *Command) Execute(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	switch {
	case c.running:
		st := c.status
		c.mu.Unlock()
		return nil, NewInterruptedError(c.typ.code, st, "execution already in progress")
	case c.status.IsTerminal():
		st := c.status
		c.mu.Unlock()
		return nil, NewInterruptedError(c.typ.code, st, "command already processed")
	case c.status != StatusCreated && c.status != StatusInitialized:
		st := c.status
		c.mu.Unlock()
		return nil, NewInterruptedError(c.typ.code, st, "command cannot be executed from this status")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logger := c.logger.WithContext(ctx)

	if err := c.init(ctx); err != nil {
		if errors.Is(err, ErrScopeBinding) {
			return nil, err
		}
		logger.Warn("command init failed: %v", err)
		return c.failAndReport(ctx, err)
	}

	result, err := c.execute(ctx)
	if err != nil {
		logger.Warn("command execution failed: %v", err)
		return c.failAndReport(ctx, err)
	}

	if err := c.Complete(ctx, result); err != nil {
		logger.Warn("command completion failed: %v", err)
		return c.failAndReport(ctx, err)
	}

	logger.Info("command completed")
	return c.Result(), nil
}

func (c *Command) failAndReport(ctx context.Context, cause error) (map[string]any, error) {
	if err := c.Fail(ctx, cause); err != nil {
		c.logger.WithContext(ctx).Error("command could not be failed: %v", err)
		return nil, err
	}
	return nil, nil
}

func (c *Command) execute(ctx context.Context) (map[string]any, error) {
	_, execScope := c.ensureScopes()
	phase, op := c.openPhase(execScope, "execute", c.Params())
	defer phase.Destroy()

	t := TransitionInitializedToExecuting
	if err := c.engine().Transition(ctx, string(t.From), string(t.To), nil); err != nil {
		op.Fail(err)
		return nil, err
	}
	c.events.emit(EventExecute, c)

	params := c.Params()
	for _, validate := range c.typ.validators {
		if err := flow.CallSafely("validate", func() error { return validate(params) }); err != nil {
			wrapped := NewExecutionError(c.typ.code, err)
			op.Fail(wrapped)
			return nil, wrapped
		}
	}

	if err := c.runHooks(ctx, phase, "before_execute", c.typ.beforeExecute); err != nil {
		wrapped := NewExecutionError(c.typ.code, err)
		op.Fail(wrapped)
		return nil, wrapped
	}

	var result map[string]any
	for idx, fn := range c.typ.execute {
		var out map[string]any
		err := flow.CallSafely(fmt.Sprintf("execute[%d]", idx), func() error {
			var hookErr error
			out, hookErr = fn(ctx, c, phase)
			return hookErr
		})
		if err != nil {
			wrapped := NewExecutionError(c.typ.code, err)
			op.Fail(wrapped)
			return nil, wrapped
		}
		if len(out) > 0 && result == nil {
			result = make(map[string]any, len(out))
		}
		for k, v := range out {
			result[k] = v
		}
	}

	if err := c.runHooks(ctx, phase, "after_execute", c.typ.afterExecute); err != nil {
		wrapped := NewExecutionError(c.typ.code, err)
		op.Fail(wrapped)
		return nil, wrapped
	}

	op.Succeed(result)
	return result, nil
}

// Complete moves the command to COMPLETED with result. It is a no-op once
// the command is processed and is rejected with an interrupted error before
// the command is EXECUTING. When the transition or a complete hook fails the
// command is left EXECUTING and a result processing error is returned.
func (c *Command) Complete(ctx context.Context, result map[string]any) error {
	c.mu.Lock()
	st := c.status
	switch {
	case st.IsTerminal() || c.finishing:
		c.mu.Unlock()
		return nil
	case st != StatusExecuting:
		c.mu.Unlock()
		return NewInterruptedError(c.typ.code, st, "complete called before execution started")
	}
	c.finishing = true
	c.mu.Unlock()

	_, execScope := c.ensureScopes()
	phase, op := c.openPhase(execScope, "complete", map[string]any{"result": result})
	defer phase.Destroy()

	t := TransitionExecutingToCompleted
	err := c.engine().Transition(ctx, string(t.From), string(t.To), copyParams(result))
	if err == nil {
		err = c.runHooks(ctx, phase, "complete", c.typ.complete)
	}
	if err != nil {
		c.mu.Lock()
		if c.status == StatusCompleted {
			c.status = StatusExecuting
			c.result = nil
			c.endedAt = nil
		}
		c.finishing = false
		c.mu.Unlock()

		wrapped := NewResultProcessingError(c.typ.code, err)
		op.Fail(wrapped)
		return wrapped
	}

	op.Succeed(result)
	c.events.emit(EventComplete, c)
	c.releaseScope()
	return nil
}

// Fail moves the command to FAILED, storing cause wrapped as a lifecycle
// error. It is a no-op once the command is processed.
//
// A failure of the executing -> failed transition is fatal: the command is
// forced to FAILED with cause, fail and error hooks are skipped, the fail
// event is emitted, the execution scope is destroyed and the transition
// error is returned.
func (c *Command) Fail(ctx context.Context, cause error) error {
	if !c.claimTerminal() {
		return nil
	}

	if cause == nil {
		cause = fmt.Errorf("command %s failed without a cause", c.typ.code)
	}
	var wrapped *flow.Error
	if !errors.As(cause, &wrapped) {
		wrapped = NewExecutionError(c.typ.code, cause)
	}

	_, execScope := c.ensureScopes()
	phase, op := c.openPhase(execScope, "fail", nil)
	defer phase.Destroy()
	phase.Register(wrapped)

	t := TransitionExecutingToFailed
	if err := c.engine().Transition(ctx, string(t.From), string(t.To), wrapped); err != nil {
		c.forceFailed(wrapped)
		op.Fail(err)
		c.logger.WithContext(ctx).Error("command failure handling failed: %v", err)
		c.events.emit(EventFail, c)
		c.releaseScope()
		return err
	}
	op.Fail(wrapped)

	logger := c.logger.WithContext(ctx)
	if err := c.runHooks(ctx, phase, "fail", c.typ.fail); err != nil {
		logger.Error("command fail hook failed: %v", err)
	}
	if err := c.runHooks(ctx, phase, "error", c.typ.onError); err != nil {
		logger.Error("command error hook failed: %v", err)
	}

	logger.Info("command failed: %v", wrapped)
	c.events.emit(EventFail, c)
	c.releaseScope()
	return nil
}

// forceFailed stores the FAILED state when the transition could not.
func (c *Command) forceFailed(cause *flow.Error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishing = false
	if c.status == StatusFailed && c.err != nil {
		return
	}
	c.status = StatusFailed
	if c.endedAt == nil {
		c.endedAt = &now
	}
	c.result = nil
	c.err = cause
}

// claimTerminal reserves the right to move the command to a terminal state.
func (c *Command) claimTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsTerminal() || c.finishing {
		return false
	}
	c.finishing = true
	return true
}

func (c *Command) releaseScope() {
	c.mu.RLock()
	sc := c.execScope
	c.mu.RUnlock()
	sc.Destroy()
}

// ensureScopes binds an unregistered command to a fresh root scope.
func (c *Command) ensureScopes() (contextScope, execScope *scope.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contextScope == nil {
		c.contextScope = scope.New()
	}
	if c.execScope == nil {
		c.execScope = c.contextScope.Child()
	}
	return c.contextScope, c.execScope
}

// engine returns the command state machine, building it on first use.
func (c *Command) engine() *flow.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine != nil {
		return c.machine
	}

	execScope := c.execScope
	opts := []flow.MachineOption{
		flow.WithScope(execScope),
		flow.WithLogger(c.logger),
		flow.WithInitializer(func(context.Context) error {
			execScope.Register(c)
			return nil
		}),
		handle(TransitionCreatedToInitialized, c.enterInitialized),
		handle(TransitionInitializedToExecuting, c.enterExecuting),
		handle(TransitionExecutingToCompleted, c.enterCompleted),
		handle(TransitionExecutingToFailed, c.enterFailed),
	}
	opts = append(opts, c.typ.machineOpts...)
	opts = append(opts, c.machineOpts...)
	c.machine = flow.NewMachine(opts...)
	return c.machine
}

func handle(t Transition, hook flow.TransitionHook) flow.MachineOption {
	return flow.WithTransitionHandler(string(t.From), string(t.To), hook)
}

func (c *Command) enterInitialized(context.Context, *scope.Scope) error {
	c.setStatus(StatusInitialized)
	return nil
}

func (c *Command) enterExecuting(ctx context.Context, sc *scope.Scope) error {
	if len(c.typ.compile) > 0 {
		c.setStatus(StatusCompiled)
		if err := c.runHooks(ctx, sc, "compile", c.typ.compile); err != nil {
			return err
		}
	}
	now := c.now()
	c.mu.Lock()
	c.status = StatusExecuting
	c.startedAt = &now
	c.mu.Unlock()
	return nil
}

func (c *Command) enterCompleted(_ context.Context, sc *scope.Scope) error {
	var result map[string]any
	if rec, ok := scope.Resolve[*flow.TransitionRecord](sc); ok {
		result, _ = rec.Props.(map[string]any)
	}
	now := c.now()
	c.mu.Lock()
	c.status = StatusCompleted
	c.endedAt = &now
	c.result = result
	c.mu.Unlock()
	return nil
}

func (c *Command) enterFailed(_ context.Context, sc *scope.Scope) error {
	var failure *flow.Error
	if rec, ok := scope.Resolve[*flow.TransitionRecord](sc); ok {
		failure, _ = rec.Props.(*flow.Error)
	}
	now := c.now()
	c.mu.Lock()
	c.status = StatusFailed
	c.endedAt = &now
	c.result = nil
	c.err = failure
	c.mu.Unlock()
	return nil
}

func (c *Command) setStatus(st Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// openPhase opens the scope of one lifecycle phase.
func (c *Command) openPhase(parent *scope.Scope, name string, params map[string]any) (*scope.Scope, *flow.OperationContext) {
	op := flow.NewOperationContext(name, params)
	sc := parent.Child().Register(c).Register(op)
	return sc, op
}

func (c *Command) runHooks(ctx context.Context, sc *scope.Scope, name string, hooks []Hook) error {
	for idx, hook := range hooks {
		err := flow.CallSafely(fmt.Sprintf("%s[%d]", name, idx), func() error {
			return hook(ctx, c, sc)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
