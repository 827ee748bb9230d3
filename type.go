package command

import (
	"context"
	"strings"

	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

// Hook is a lifecycle extension point. sc is the scope of the running phase;
// it resolves the phase *flow.OperationContext and the *Command itself.
type Hook func(ctx context.Context, cmd *Command, sc *scope.Scope) error

// ExecuteFunc performs the work of a command. Results returned by successive
// execute hooks are merged in registration order.
type ExecuteFunc func(ctx context.Context, cmd *Command, sc *scope.Scope) (map[string]any, error)

// ParamsValidator rejects invalid params before any execute hook runs.
type ParamsValidator func(params map[string]any) error

// Type describes one kind of command: its stable code and its hook pipelines.
// Types are meant to be declared once, usually as package-level variables.
type Type struct {
	code          string
	description   string
	init          []Hook
	compile       []Hook
	beforeExecute []Hook
	execute       []ExecuteFunc
	afterExecute  []Hook
	complete      []Hook
	fail          []Hook
	onError       []Hook
	validators    []ParamsValidator
	machineOpts   []flow.MachineOption
	logger        flow.Logger
	cli           CLIConfig
	exposure      Exposure
}

// TypeOption configures a Type.
type TypeOption func(*Type)

// NewType declares a command type. It panics when code is empty.
func NewType(code string, opts ...TypeOption) *Type {
	code = strings.TrimSpace(code)
	if code == "" {
		panic("command: type code cannot be empty")
	}
	t := &Type{code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Code returns the stable type identifier.
func (t *Type) Code() string { return t.code }

// Description returns the human readable description of the type.
func (t *Type) Description() string { return t.description }

// WithDescription sets a human readable description.
func WithDescription(desc string) TypeOption {
	return func(t *Type) { t.description = strings.TrimSpace(desc) }
}

// OnInit appends hooks run after the created -> initialized transition.
func OnInit(hooks ...Hook) TypeOption {
	return func(t *Type) { t.init = appendHooks(t.init, hooks) }
}

// OnCompile appends hooks run while entering EXECUTING. When present the
// command reports COMPILED while they run.
func OnCompile(hooks ...Hook) TypeOption {
	return func(t *Type) { t.compile = appendHooks(t.compile, hooks) }
}

// OnBeforeExecute appends hooks run before the execute hooks.
func OnBeforeExecute(hooks ...Hook) TypeOption {
	return func(t *Type) { t.beforeExecute = appendHooks(t.beforeExecute, hooks) }
}

// OnExecute appends execute hooks.
func OnExecute(fns ...ExecuteFunc) TypeOption {
	return func(t *Type) {
		for _, fn := range fns {
			if fn != nil {
				t.execute = append(t.execute, fn)
			}
		}
	}
}

// OnAfterExecute appends hooks run after the execute hooks.
func OnAfterExecute(hooks ...Hook) TypeOption {
	return func(t *Type) { t.afterExecute = appendHooks(t.afterExecute, hooks) }
}

// OnComplete appends hooks run once the command reached COMPLETED.
func OnComplete(hooks ...Hook) TypeOption {
	return func(t *Type) { t.complete = appendHooks(t.complete, hooks) }
}

// OnFail appends hooks run once the command reached FAILED.
func OnFail(hooks ...Hook) TypeOption {
	return func(t *Type) { t.fail = appendHooks(t.fail, hooks) }
}

// OnError appends hooks run after the fail hooks.
func OnError(hooks ...Hook) TypeOption {
	return func(t *Type) { t.onError = appendHooks(t.onError, hooks) }
}

// WithParamsValidator appends params validators.
func WithParamsValidator(validators ...ParamsValidator) TypeOption {
	return func(t *Type) {
		for _, v := range validators {
			if v != nil {
				t.validators = append(t.validators, v)
			}
		}
	}
}

// WithMachineOptions forwards engine options, such as transition hooks, to
// the state machine of every command of this type.
func WithMachineOptions(opts ...flow.MachineOption) TypeOption {
	return func(t *Type) { t.machineOpts = append(t.machineOpts, opts...) }
}

// WithTypeLogger sets the default logger for commands of this type.
func WithTypeLogger(logger flow.Logger) TypeOption {
	return func(t *Type) { t.logger = logger }
}

func appendHooks(list []Hook, hooks []Hook) []Hook {
	for _, h := range hooks {
		if h != nil {
			list = append(list, h)
		}
	}
	return list
}
