package registry

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/config"
	"github.com/goliatone/go-acommand/cron"
	"github.com/goliatone/go-acommand/dispatcher"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/metrics"
	"github.com/goliatone/go-acommand/scope"
	"github.com/goliatone/go-acommand/store"
	"github.com/goliatone/go-acommand/tracing"
)

// RuntimeDependencies captures explicit runtime wiring dependencies. Zero
// values are filled from Config.
type RuntimeDependencies struct {
	Registry *command.Registry
	Config   config.Config
	Logger   flow.Logger
	Scope    *scope.Scope

	// Metrics receives the command collector when Config.Metrics is enabled.
	// Nil uses the default Prometheus registerer.
	Metrics prometheus.Registerer

	// Tracer overrides the tracer built from Config.Tracing.
	Tracer trace.Tracer

	// Store overrides the store opened from Config.Store. The container does
	// not close an injected store.
	Store store.RecordStore

	DispatcherOptions []dispatcher.Option
	CronOptions       []cron.Option
}

// RuntimeContainer is an instance-first composition of registry, store,
// dispatcher and scheduler.
type RuntimeContainer struct {
	mu      sync.Mutex
	deps    RuntimeDependencies
	reg     *command.Registry
	store   store.RecordStore
	disp    *dispatcher.Dispatcher
	sched   *cron.Scheduler
	handles []cron.Handle
	closers []func(context.Context) error
	started bool
}

// NewRuntimeContainer builds a runtime with explicit dependencies.
func NewRuntimeContainer(ctx context.Context, deps RuntimeDependencies) (*RuntimeContainer, error) {
	reg := deps.Registry
	if reg == nil {
		reg = command.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = flow.NopLogger()
	}
	cfg := deps.Config

	rt := &RuntimeContainer{deps: deps, reg: reg}

	rs := deps.Store
	if rs == nil {
		opened, closeStore, err := cfg.Store.Open(ctx)
		if err != nil {
			return nil, err
		}
		rs = opened
		rt.closers = append(rt.closers, func(context.Context) error { return closeStore() })
	}
	rt.store = rs

	opts := []dispatcher.Option{
		dispatcher.WithStore(rs),
		dispatcher.WithLogger(logger),
		dispatcher.WithRunnerOptions(cfg.Runner.Options()...),
		dispatcher.WithCommandOptions(command.WithLogger(logger)),
	}
	if deps.Scope != nil {
		opts = append(opts, dispatcher.WithScope(deps.Scope))
	}

	if cfg.Metrics.Enabled {
		collector, err := metrics.NewCollector(cfg.Metrics.Namespace, deps.Metrics)
		if err != nil {
			rt.close(ctx)
			return nil, errors.Wrap(err, errors.CategoryInternal, "metrics registration failed").
				WithTextCode("METRICS_REGISTER_FAILED")
		}
		opts = append(opts, dispatcher.WithObserver(collector))
	}

	tracer := deps.Tracer
	if tracer == nil && cfg.Tracing.Enabled {
		t, shutdown, err := tracing.Setup(ctx, true, cfg.Tracing.Service, cfg.Tracing.Endpoint)
		if err != nil {
			rt.close(ctx)
			return nil, errors.Wrap(err, errors.CategoryExternal, "tracing setup failed").
				WithTextCode("TRACING_SETUP_FAILED")
		}
		tracer = t
		rt.closers = append(rt.closers, shutdown)
	}
	if tracer != nil {
		opts = append(opts,
			dispatcher.WithObserver(tracing.NewObserver(tracer)),
			dispatcher.WithCommandOptions(command.WithEngineOptions(tracing.TransitionSpans(tracer))),
		)
	}

	opts = append(opts, deps.DispatcherOptions...)
	rt.disp = dispatcher.NewDispatcher(reg, opts...)

	cronOpts := append([]cron.Option{cron.WithLogger(logger)}, deps.CronOptions...)
	rt.sched = cron.NewScheduler(rt.disp, cronOpts...)

	return rt, nil
}

// Dependencies returns a copy of runtime dependencies.
func (r *RuntimeContainer) Dependencies() RuntimeDependencies {
	if r == nil {
		return RuntimeDependencies{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.deps
	out.DispatcherOptions = append([]dispatcher.Option(nil), r.deps.DispatcherOptions...)
	out.CronOptions = append([]cron.Option(nil), r.deps.CronOptions...)
	return out
}

// Registry returns the backing command registry instance.
func (r *RuntimeContainer) Registry() *command.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *RuntimeContainer) Dispatcher() *dispatcher.Dispatcher {
	if r == nil {
		return nil
	}
	return r.disp
}

func (r *RuntimeContainer) Scheduler() *cron.Scheduler {
	if r == nil {
		return nil
	}
	return r.sched
}

func (r *RuntimeContainer) Store() store.RecordStore {
	if r == nil {
		return nil
	}
	return r.store
}

// Register adds types to the backing registry.
func (r *RuntimeContainer) Register(types ...*command.Type) error {
	if r == nil || r.reg == nil {
		return nil
	}
	return r.reg.Register(types...)
}

// Start registers the configured schedules and starts the scheduler. Calling
// Start on a started container is a no-op.
func (r *RuntimeContainer) Start(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	handles, err := r.deps.Config.ApplySchedules(r.sched)
	if err != nil {
		return err
	}
	if err := r.sched.Start(ctx); err != nil {
		for _, h := range handles {
			h.Cancel()
		}
		return err
	}
	r.handles = handles
	r.started = true
	return nil
}

// Stop stops the scheduler, waiting for running jobs until ctx is done,
// then closes the store and flushes tracing. Errors are joined.
func (r *RuntimeContainer) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	started := r.started
	r.started = false
	r.handles = nil
	r.mu.Unlock()

	var errs []error
	if started {
		if err := r.sched.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Handles returns the handles of the schedules registered by Start.
func (r *RuntimeContainer) Handles() []cron.Handle {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cron.Handle(nil), r.handles...)
}

func (r *RuntimeContainer) close(ctx context.Context) error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
