package flow

import "github.com/goliatone/go-acommand/scope"

// MachineOption customizes machine construction.
type MachineOption func(*Machine)

// WithScope sets the scope transition scopes inherit from.
func WithScope(sc *scope.Scope) MachineOption {
	return func(m *Machine) {
		m.scope = sc
	}
}

// WithLogger sets the machine logger.
func WithLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		m.logger = NormalizeLogger(logger)
	}
}

// WithInitializer appends initialization hooks.
func WithInitializer(hooks ...InitializeHook) MachineOption {
	return func(m *Machine) {
		for _, h := range hooks {
			m.OnInitialize(h)
		}
	}
}

// WithBeforeTransition appends before-transition hooks.
func WithBeforeTransition(hooks ...TransitionHook) MachineOption {
	return func(m *Machine) {
		for _, h := range hooks {
			m.OnBeforeTransition(h)
		}
	}
}

// WithAfterTransition appends after-transition hooks.
func WithAfterTransition(hooks ...TransitionHook) MachineOption {
	return func(m *Machine) {
		for _, h := range hooks {
			m.OnAfterTransition(h)
		}
	}
}

// WithErrorHook appends error hooks.
func WithErrorHook(hooks ...TransitionHook) MachineOption {
	return func(m *Machine) {
		for _, h := range hooks {
			m.OnError(h)
		}
	}
}

// WithTransitionHandler registers a handler for the from -> to transition.
func WithTransitionHandler(from, to string, hook TransitionHook) MachineOption {
	return func(m *Machine) {
		m.Handle(from, to, hook)
	}
}

// WithSerializedTransitions makes Transition hold a machine-wide lock.
func WithSerializedTransitions() MachineOption {
	return func(m *Machine) {
		m.serialize = true
	}
}
