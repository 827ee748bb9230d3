package flow

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-acommand/scope"
)

// InitializeHook prepares a machine before its first transition.
type InitializeHook func(ctx context.Context) error

// TransitionHook runs inside the per-transition scope. The scope holds the
// *TransitionRecord for the running transition and, on the error path, the
// wrapped *Error.
type TransitionHook func(ctx context.Context, sc *scope.Scope) error

// Machine executes named transitions through an ordered hook pipeline:
// before hooks, the handlers registered for the transition, then after hooks.
// Failures are wrapped as transition errors and surfaced to error hooks.
//
// Transition is not serialized unless WithSerializedTransitions is set:
// overlapping calls on one machine run their hooks concurrently.
type Machine struct {
	mu           sync.RWMutex
	scope        *scope.Scope
	logger       Logger
	initializers []InitializeHook
	before       []TransitionHook
	after        []TransitionHook
	onError      []TransitionHook
	handlers     map[string][]TransitionHook

	serialize bool
	txMu      sync.Mutex

	readyOnce sync.Once
	readyErr  error
}

// NewMachine builds a machine. Without WithScope it owns a fresh root scope.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		handlers: make(map[string][]TransitionHook),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.scope == nil {
		m.scope = scope.New()
	}
	m.logger = NormalizeLogger(m.logger)
	return m
}

// Scope returns the machine scope every transition scope inherits from.
func (m *Machine) Scope() *scope.Scope {
	return m.scope
}

// OnInitialize appends an initialization hook. Hooks added after the machine
// became ready never run.
func (m *Machine) OnInitialize(hook InitializeHook) *Machine {
	if hook == nil {
		return m
	}
	m.mu.Lock()
	m.initializers = append(m.initializers, hook)
	m.mu.Unlock()
	return m
}

// OnBeforeTransition appends a hook that runs before transition handlers.
func (m *Machine) OnBeforeTransition(hook TransitionHook) *Machine {
	return m.appendHook(&m.before, hook)
}

// OnAfterTransition appends a hook that runs after transition handlers.
func (m *Machine) OnAfterTransition(hook TransitionHook) *Machine {
	return m.appendHook(&m.after, hook)
}

// OnError appends a hook invoked when a transition fails.
func (m *Machine) OnError(hook TransitionHook) *Machine {
	return m.appendHook(&m.onError, hook)
}

// Handle registers a handler for the from -> to transition.
func (m *Machine) Handle(from, to string, hook TransitionHook) *Machine {
	if hook == nil {
		return m
	}
	id := TransitionID(from, to)
	m.mu.Lock()
	m.handlers[id] = append(m.handlers[id], hook)
	m.mu.Unlock()
	return m
}

// HasHandler reports whether any handler is registered for from -> to.
func (m *Machine) HasHandler(from, to string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[TransitionID(from, to)]) > 0
}

func (m *Machine) appendHook(list *[]TransitionHook, hook TransitionHook) *Machine {
	if hook == nil {
		return m
	}
	m.mu.Lock()
	*list = append(*list, hook)
	m.mu.Unlock()
	return m
}

// Ready initializes the machine once. Every caller, including concurrent
// ones, observes the result of that single initialization. A failed
// initialization is permanent for this machine.
func (m *Machine) Ready(ctx context.Context) error {
	m.readyOnce.Do(func() {
		m.readyErr = m.initialize(ctx)
	})
	return m.readyErr
}

func (m *Machine) initialize(ctx context.Context) error {
	m.mu.RLock()
	hooks := append([]InitializeHook(nil), m.initializers...)
	m.mu.RUnlock()

	for idx, hook := range hooks {
		err := CallSafely(fmt.Sprintf("initialize[%d]", idx), func() error {
			return hook(ctx)
		})
		if err != nil {
			wrapped := NewInitializationError(err)
			m.logger.WithContext(ctx).Error("state machine initialization failed: %v", err)
			return wrapped
		}
	}
	return nil
}

// Transition runs the from -> to transition. Errors returned are always
// initialization or transition errors from the lifecycle taxonomy.
func (m *Machine) Transition(ctx context.Context, from, to string, props any) error {
	if err := m.Ready(ctx); err != nil {
		return err
	}

	if m.serialize {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}

	id := TransitionID(from, to)
	record := NewTransitionRecord(from, to, props)

	sc := m.scope.Child().Register(record)
	defer sc.Destroy()

	logger := WithLoggerFields(m.logger.WithContext(ctx), map[string]any{
		"transition_id": id,
		"scope_id":      sc.ID(),
	})
	logger.Debug("transition started from=%s to=%s", from, to)

	m.mu.RLock()
	before := append([]TransitionHook(nil), m.before...)
	handlers := append([]TransitionHook(nil), m.handlers[id]...)
	after := append([]TransitionHook(nil), m.after...)
	onError := append([]TransitionHook(nil), m.onError...)
	m.mu.RUnlock()

	err := runHooks(ctx, sc, "before_transition", before)
	if err == nil {
		err = runHooks(ctx, sc, id, handlers)
	}
	if err == nil {
		err = runHooks(ctx, sc, "after_transition", after)
	}
	if err == nil {
		record.Succeed(to)
		logger.Debug("transition completed")
		return nil
	}

	terr := NewTransitionError(id, err)
	record.Fail(terr)
	sc.Register(terr)
	logger.Error("transition failed: %v", err)

	if hookErr := runAllHooks(ctx, sc, "on_error", onError); hookErr != nil {
		logger.Warn("transition error hook failed: %v", hookErr)
	}
	return terr
}

func runHooks(ctx context.Context, sc *scope.Scope, name string, hooks []TransitionHook) error {
	for idx, hook := range hooks {
		err := CallSafely(fmt.Sprintf("%s[%d]", name, idx), func() error {
			return hook(ctx, sc)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runAllHooks runs every hook even when some fail and joins the failures.
func runAllHooks(ctx context.Context, sc *scope.Scope, name string, hooks []TransitionHook) error {
	var errs []error
	for idx, hook := range hooks {
		err := CallSafely(fmt.Sprintf("%s[%d]", name, idx), func() error {
			return hook(ctx, sc)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
