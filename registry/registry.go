// Package registry holds the process wide command registry and composes it
// with a store, dispatcher and scheduler into a runnable runtime.
package registry

import (
	"context"
	"sync"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/config"
)

var (
	globalMu       sync.Mutex
	globalRegistry = command.NewRegistry()
	globalRuntime  *RuntimeContainer
)

// Default returns the global registry.
func Default() *command.Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalRegistry
}

// RegisterType adds types to the global registry.
func RegisterType(types ...*command.Type) error {
	return Default().Register(types...)
}

// MustRegisterType is RegisterType that panics on error.
func MustRegisterType(types ...*command.Type) {
	if err := RegisterType(types...); err != nil {
		panic(err)
	}
}

// Start builds a runtime around the global registry from cfg and starts it.
// A running global runtime is stopped first.
func Start(ctx context.Context, cfg config.Config, deps ...RuntimeDependencies) (*RuntimeContainer, error) {
	if err := Stop(ctx); err != nil {
		return nil, err
	}

	var d RuntimeDependencies
	if len(deps) > 0 {
		d = deps[0]
	}
	d.Registry = Default()
	d.Config = cfg

	rt, err := NewRuntimeContainer(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := rt.Start(ctx); err != nil {
		_ = rt.Stop(ctx)
		return nil, err
	}

	globalMu.Lock()
	globalRuntime = rt
	globalMu.Unlock()
	return rt, nil
}

// Stop stops the global runtime, if any. The registry keeps its types.
func Stop(ctx context.Context) error {
	globalMu.Lock()
	rt := globalRuntime
	globalRuntime = nil
	globalMu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Stop(ctx)
}

// WithTestRegistry runs fn against a fresh global registry and restores the
// previous one afterwards.
func WithTestRegistry(fn func()) {
	globalMu.Lock()
	old, oldRuntime := globalRegistry, globalRuntime
	globalRegistry = command.NewRegistry()
	globalRuntime = nil
	globalMu.Unlock()

	defer func() {
		_ = Stop(context.Background())
		globalMu.Lock()
		globalRegistry, globalRuntime = old, oldRuntime
		globalMu.Unlock()
	}()
	fn()
}
