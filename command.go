package command

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

// Command is a unit of work moving through a fixed lifecycle:
//
//	CREATED -> INITIALIZED -> EXECUTING -> COMPLETED | FAILED
//
// Every transition runs through a flow.Machine owned by the command, every
// lifecycle phase gets its own short-lived scope, and the command can be
// serialized at any point with ToRecord or json.Marshal.
//
// Lifecycle methods are guarded: Execute rejects re-entry, and Complete and
// Fail are no-ops once the command is processed. Hooks may call Complete or
// Fail themselves.
type Command struct {
	mu sync.RWMutex

	typ       *Type
	status    Status
	origin    Origin
	params    map[string]any
	result    map[string]any
	err       *flow.Error
	createdAt time.Time
	startedAt *time.Time
	endedAt   *time.Time

	contextScope  *scope.Scope
	execScope     *scope.Scope
	explicitScope bool
	machine       *flow.Machine
	machineOpts   []flow.MachineOption

	running   bool
	finishing bool

	events *emitter
	logger flow.Logger
	clock  func() time.Time
}

// Option configures a single command instance.
type Option func(*Command)

// WithClock overrides the time source. Returned times are truncated to
// milliseconds and converted to UTC.
func WithClock(clock func() time.Time) Option {
	return func(c *Command) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the command logger.
func WithLogger(logger flow.Logger) Option {
	return func(c *Command) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithScope registers the command into parent at construction.
func WithScope(parent *scope.Scope) Option {
	return func(c *Command) {
		c.contextScope = parent
	}
}

// WithListener subscribes fn to event at construction.
func WithListener(event Event, fn Listener) Option {
	return func(c *Command) {
		c.events.on(event, fn)
	}
}

// WithEngineOptions appends state machine options to the ones declared on
// the type.
func WithEngineOptions(opts ...flow.MachineOption) Option {
	return func(c *Command) {
		c.machineOpts = append(c.machineOpts, opts...)
	}
}

// New builds an invoked command from params.
func (t *Type) New(params map[string]any, opts ...Option) *Command {
	c := t.newCommand(OriginInvoked, opts...)
	c.params = copyParams(params)
	return c
}

// FromRecord rehydrates a command from its serialized form. Params are not
// restored: a rehydrated command describes a past execution, and callers
// that want to run it again must supply params through New.
func (t *Type) FromRecord(rec Record, opts ...Option) (*Command, error) {
	if rec.Code != t.code {
		return nil, apperrors.New("record code does not match command type", apperrors.CategoryBadInput).
			WithTextCode("RECORD_CODE_MISMATCH").
			WithMetadata(map[string]any{"expected": t.code, "actual": rec.Code})
	}
	if !rec.Status.Valid() {
		return nil, apperrors.New("record status is not a known command status", apperrors.CategoryBadInput).
			WithTextCode("RECORD_STATUS_INVALID").
			WithMetadata(map[string]any{"status": string(rec.Status)})
	}
	c := t.newCommand(OriginSerialized, opts...)
	c.status = rec.Status
	c.createdAt = rec.CreatedAt.UTC()
	c.startedAt = copyTime(rec.StartedAt)
	c.endedAt = copyTime(rec.EndedAt)
	c.result = copyParams(rec.Result)
	c.err = flow.FromRecord(rec.Error)
	return c, nil
}

// FromJSON rehydrates a command from a JSON encoded Record.
func (t *Type) FromJSON(data []byte, opts ...Option) (*Command, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryBadInput, "invalid command record").
			WithTextCode("RECORD_DECODE_FAILED")
	}
	return t.FromRecord(rec, opts...)
}

// FromString builds a command from a string. A serialized record is
// rehydrated, a JSON object is used as params, and anything else becomes the
// "input" param.
func (t *Type) FromString(s string, opts ...Option) (*Command, error) {
	raw := strings.TrimSpace(s)
	if looksLikeRecord(raw) {
		return t.FromJSON([]byte(raw), opts...)
	}
	var params map[string]any
	if strings.HasPrefix(raw, "{") && json.Unmarshal([]byte(raw), &params) == nil {
		return t.New(params, opts...), nil
	}
	return t.New(map[string]any{"input": s}, opts...), nil
}

func (t *Type) newCommand(origin Origin, opts ...Option) *Command {
	c := &Command{
		typ:    t,
		status: StatusCreated,
		origin: origin,
		events: newEmitter(),
		logger: t.logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = flow.WithLoggerFields(c.logger, map[string]any{"code": t.code})
	c.createdAt = c.now()
	return c
}

func looksLikeRecord(raw string) bool {
	if !strings.HasPrefix(raw, "{") {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return false
	}
	for _, key := range []string{"code", "status", "createdAt"} {
		if _, ok := probe[key]; !ok {
			return false
		}
	}
	return true
}

// Type returns the command type.
func (c *Command) Type() *Type { return c.typ }

// Code returns the type code.
func (c *Command) Code() string { return c.typ.code }

// Status returns the current lifecycle status.
func (c *Command) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Origin reports how the command was built.
func (c *Command) Origin() Origin {
	return c.origin
}

// Params returns a copy of the command params.
func (c *Command) Params() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyParams(c.params)
}

// Param returns a single param.
func (c *Command) Param(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.params[key]
	return v, ok
}

// Result returns a copy of the stored result.
func (c *Command) Result() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyParams(c.result)
}

// Err returns the stored lifecycle error.
func (c *Command) Err() *flow.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// CreatedAt returns the construction time.
func (c *Command) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// StartedAt returns the time the command entered EXECUTING.
func (c *Command) StartedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startedAt == nil {
		return time.Time{}, false
	}
	return *c.startedAt, true
}

// EndedAt returns the time the command reached a terminal state.
func (c *Command) EndedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.endedAt == nil {
		return time.Time{}, false
	}
	return *c.endedAt, true
}

// Duration is endedAt - startedAt once ended, now - startedAt while running,
// and undefined before the command started.
func (c *Command) Duration() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startedAt == nil {
		return 0, false
	}
	if c.endedAt != nil {
		return c.endedAt.Sub(*c.startedAt), true
	}
	return c.clock().Sub(*c.startedAt), true
}

// IdleTime is the time spent between construction and execution start.
func (c *Command) IdleTime() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startedAt == nil {
		return 0, false
	}
	return c.startedAt.Sub(c.createdAt), true
}

// IsProcessed reports whether the command reached COMPLETED or FAILED.
func (c *Command) IsProcessed() bool {
	return c.Status().IsTerminal()
}

// Register binds the command to parent: the scope it is registered into.
// The execution scope becomes a child of parent unless one was set with
// UseExecutionScope. Only CREATED commands can be re-bound.
func (c *Command) Register(parent *scope.Scope) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusCreated || parent == nil {
		return c
	}
	c.contextScope = parent
	if !c.explicitScope {
		c.execScope = parent.Child()
	}
	return c
}

// UseExecutionScope sets the execution scope explicitly.
func (c *Command) UseExecutionScope(sc *scope.Scope) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusCreated || sc == nil {
		return c
	}
	c.execScope = sc
	c.explicitScope = true
	return c
}

// ContextScope returns the scope the command was registered into.
func (c *Command) ContextScope() *scope.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contextScope
}

// ExecutionScope returns the scope collaborators are resolved from during
// the run. It is destroyed once the command is processed.
func (c *Command) ExecutionScope() *scope.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.execScope
}

// Logger returns the command logger.
func (c *Command) Logger() flow.Logger {
	return c.logger
}

func (c *Command) now() time.Time {
	return c.clock().UTC().Truncate(time.Millisecond)
}

func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
