package dispatcher

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/runner"
	"github.com/goliatone/go-acommand/scope"
	"github.com/goliatone/go-acommand/store"
)

// ExecutionID is registered into the execution scope of every dispatched
// command so hooks can resolve it.
type ExecutionID string

// Observer is attached to every command built by the dispatcher before it
// runs, typically to subscribe to its lifecycle events.
type Observer interface {
	Observe(cmd *command.Command)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(cmd *command.Command)

func (f ObserverFunc) Observe(cmd *command.Command) { f(cmd) }

// Execution is the outcome of a dispatch.
type Execution struct {
	ID       string
	Command  *command.Command
	Record   command.Record
	Attempts int
}

// Status is a shortcut for the final command status.
func (e *Execution) Status() command.Status {
	return e.Record.Status
}

type observerEntry struct {
	id       uint64
	observer Observer
}

// Dispatcher builds commands from the registry, runs them through a retry
// handler and persists the final record.
type Dispatcher struct {
	mu        sync.RWMutex
	registry  *command.Registry
	store     store.RecordStore
	scope     *scope.Scope
	observers []observerEntry
	seq       uint64

	runnerOpts  []runner.Option
	commandOpts []command.Option
	logger      flow.Logger
	newID       func() string
	breaker     *breaker
}

// Option defines the functional option signature.
type Option func(*Dispatcher)

// WithStore persists final records in s.
func WithStore(s store.RecordStore) Option {
	return func(d *Dispatcher) {
		d.store = s
	}
}

// WithScope sets the scope dispatched commands are registered into.
func WithScope(sc *scope.Scope) Option {
	return func(d *Dispatcher) {
		if sc != nil {
			d.scope = sc
		}
	}
}

// WithRunnerOptions configures the retry handler built for each dispatch.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(d *Dispatcher) {
		d.runnerOpts = append(d.runnerOpts, opts...)
	}
}

// WithCommandOptions applies opts to every command built.
func WithCommandOptions(opts ...command.Option) Option {
	return func(d *Dispatcher) {
		d.commandOpts = append(d.commandOpts, opts...)
	}
}

// WithObserver attaches o to every command built.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.addObserver(o)
	}
}

func WithLogger(logger flow.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithIDGenerator replaces the uuid based execution id generator.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// NewDispatcher applies the given options to a new instance of the dispatcher.
func NewDispatcher(registry *command.Registry, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = command.NewRegistry()
	}
	d := &Dispatcher{
		registry: registry,
		scope:    scope.New(),
		logger:   flow.NopLogger(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.scope.Register(d)
	return d
}

// Registry returns the registry commands are resolved from.
func (d *Dispatcher) Registry() *command.Registry {
	return d.registry
}

// Subscribe attaches o to every command built from now on.
func (d *Dispatcher) Subscribe(o Observer) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.addObserver(o)
	return &subs{dispatcher: d, id: id}
}

// addObserver expects d.mu to be held or d not to be shared yet.
func (d *Dispatcher) addObserver(o Observer) uint64 {
	if o == nil {
		return 0
	}
	d.seq++
	d.observers = append(d.observers, observerEntry{id: d.seq, observer: o})
	return d.seq
}

// Dispatch runs the command registered under code with params.
//
// Every attempt builds a fresh command: a processed command never runs again.
// A command that ends FAILED is not an error, its status and error are in
// the returned execution. Errors are returned when the command cannot be
// built or run at all, or when the record cannot be saved.
func (d *Dispatcher) Dispatch(ctx context.Context, code string, params map[string]any) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "context canceled or deadline exceeded").
			WithTextCode("DISPATCH_CONTEXT_DONE")
	}

	t, err := d.registry.Get(code)
	if err != nil {
		return nil, err
	}

	record := func(bool) {}

	if d.breaker != nil {
		if !d.breaker.canExecute(t.Code()) {
			return nil, newCircuitOpenError(t.Code())
		}
		recorded := false
		defer func() {
			if !recorded {
				d.breaker.release(t.Code())
			}
		}()
		record = func(failed bool) {
			recorded = true
			d.breaker.recordResult(t.Code(), failed)
		}
	}

	id := d.newID()
	logger := flow.WithLoggerFields(d.logger.WithContext(ctx), map[string]any{
		"code":         t.Code(),
		"execution_id": id,
	})

	d.mu.RLock()
	observers := append([]observerEntry(nil), d.observers...)
	d.mu.RUnlock()

	handler := runner.NewHandler(append([]runner.Option{runner.WithLogger(logger)}, d.runnerOpts...)...)
	attempts := 0
	cmd, runErr := runner.RunCommand(ctx, handler, func() (*command.Command, error) {
		attempts++
		cmd := t.New(params, d.commandOpts...).Register(d.scope)
		cmd.ExecutionScope().Register(ExecutionID(id))
		for _, o := range observers {
			o.observer.Observe(cmd)
		}
		return cmd, nil
	})
	if cmd == nil {
		return nil, runErr
	}
	if runErr != nil && cmd.Status() != command.StatusFailed {
		return nil, runErr
	}

	exec := &Execution{
		ID:       id,
		Command:  cmd,
		Record:   cmd.ToRecord(),
		Attempts: attempts,
	}
	record(exec.Status() == command.StatusFailed)

	if d.store != nil {
		if err := d.store.Save(ctx, id, exec.Record); err != nil {
			return exec, err
		}
	}

	if exec.Status() == command.StatusFailed {
		logger.Warn("dispatch finished with a failed command after %d attempts", attempts)
	} else {
		logger.Info("dispatch completed after %d attempts", attempts)
	}
	return exec, nil
}

// Load rehydrates the command stored under id.
func (d *Dispatcher) Load(ctx context.Context, id string) (*command.Command, error) {
	if d.store == nil {
		return nil, errors.New("dispatcher has no record store", errors.CategoryInternal).
			WithTextCode("STORE_NOT_CONFIGURED")
	}
	rec, err := d.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := d.registry.Get(rec.Code)
	if err != nil {
		return nil, err
	}
	return t.FromRecord(rec, d.commandOpts...)
}

// List returns the ids of the stored executions.
func (d *Dispatcher) List(ctx context.Context) ([]string, error) {
	if d.store == nil {
		return nil, nil
	}
	return d.store.List(ctx)
}
