package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/dispatcher"
	"github.com/goliatone/go-acommand/flow"
)

// Dispatcher runs a command by code. *dispatcher.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, code string, params map[string]any) (*dispatcher.Execution, error)
}

// Scheduler triggers command dispatches on cron expressions or at fixed
// times.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	dispatcher   Dispatcher
	location     *time.Location
	errorHandler func(error)

	logger      flow.Logger
	panicLogger command.PanicLogger
	parser      Parser
	logLevel    LogLevel
	skipRunning bool
	jobTimeout  time.Duration

	nextHandleID int64
	handles      map[int64]*cronSubscription
}

// NewScheduler creates a scheduler dispatching through d.
func NewScheduler(d Dispatcher, opts ...Option) *Scheduler {
	cs := &Scheduler{
		dispatcher: d,
		location:   time.Local,
		parser:     DefaultParser,
		logLevel:   LogLevelError,
		handles:    make(map[int64]*cronSubscription),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cs)
		}
	}

	cs.logger = flow.NormalizeLogger(cs.logger)
	cs.panicLogger = command.LogPanics(cs.logger)
	if cs.errorHandler == nil {
		logger := cs.logger
		cs.errorHandler = func(err error) {
			logger.Error("scheduled dispatch failed: %v", err)
		}
	}

	cs.cron = rcron.New(cs.build()...)
	return cs
}

// ScheduleCron dispatches code with params every time expression fires.
// A failed run is recorded on the handle and the schedule stays active.
func (s *Scheduler) ScheduleCron(expression, code string, params map[string]any) (Handle, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.New("cron expression cannot be empty", errors.CategoryBadInput).
			WithTextCode("CRON_EXPRESSION_REQUIRED")
	}
	if err := s.validateCode(code); err != nil {
		return nil, err
	}

	sub := s.newHandle(code)
	job := rcron.FuncJob(func() {
		defer command.MakePanicHandler(s.panicLogger)("cron.ScheduleCron", map[string]any{"code": code})

		if !sub.begin() {
			return
		}
		run := s.run(code, params)
		if run.Err != nil {
			s.errorHandler(run.Err)
		}
		sub.finish(run, false)
	})

	var wrapped rcron.Job = job
	if s.skipRunning {
		wrapped = rcron.SkipIfStillRunning(&loggerAdapter{logger: s.logger, level: s.logLevel})(job)
	}

	entryID, err := s.cron.AddJob(expression, wrapped)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to add job").
			WithTextCode("CRON_EXPRESSION_INVALID").
			WithMetadata(map[string]any{"expression": expression, "code": code})
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter dispatches code once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, code string, params map[string]any) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), code, params)
}

// ScheduleAt dispatches code once at a specific time.
func (s *Scheduler) ScheduleAt(at time.Time, code string, params map[string]any) (Handle, error) {
	if err := s.validateCode(code); err != nil {
		return nil, err
	}

	sub := s.newHandle(code)
	s.storeHandle(sub)

	go func() {
		defer command.MakePanicHandler(s.panicLogger)("cron.ScheduleAt", map[string]any{"code": code})

		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if !sub.begin() {
			return
		}
		run := s.run(code, params)
		if run.Err != nil {
			s.errorHandler(run.Err)
		}
		s.removeStoredHandle(sub.id)
		sub.finish(run, true)
	}()

	return sub, nil
}

// RemoveHandler removes a scheduled job by entry ID.
func (s *Scheduler) RemoveHandler(entryID int) {
	if s == nil {
		return
	}

	var affected []*cronSubscription
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.end(ScheduleStatusCanceled)
	}
}

// Handles returns the active handles.
func (s *Scheduler) Handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Start begins executing scheduled cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops the cron loop, waits for running jobs until ctx is done and
// marks active handles as stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	if ctx == nil {
		ctx = context.Background()
	}

	var waitErr error
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	var handles []*cronSubscription
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*cronSubscription)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		handle.end(ScheduleStatusStopped)
	}
	return waitErr
}

func (s *Scheduler) validateCode(code string) error {
	if s.dispatcher == nil {
		return errors.New("scheduler has no dispatcher", errors.CategoryInternal).
			WithTextCode("DISPATCHER_REQUIRED")
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("command code cannot be empty", errors.CategoryBadInput).
			WithTextCode("COMMAND_CODE_REQUIRED")
	}
	return nil
}

// run dispatches a single scheduled command. A FAILED execution is reported
// as the command error and a panicking dispatch as a *flow.PanicError.
func (s *Scheduler) run(code string, params map[string]any) Run {
	run := Run{At: time.Now()}
	ctx := context.Background()
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	var exec *dispatcher.Execution
	err := flow.CallSafely("cron.dispatch", func() error {
		var derr error
		exec, derr = s.dispatcher.Dispatch(ctx, code, copyParams(params))
		return derr
	})
	if perr, ok := err.(*flow.PanicError); ok {
		s.panicLogger(perr.Hook, perr.Value, perr.Stack, map[string]any{"code": code})
	}
	if exec != nil {
		run.ExecutionID = exec.ID
		run.Status = exec.Status()
	}
	if err != nil {
		run.Err = err
		return run
	}
	if run.Status == command.StatusFailed {
		if cerr := exec.Command.Err(); cerr != nil {
			run.Err = cerr
		} else {
			run.Err = fmt.Errorf("command %s failed", code)
		}
		return run
	}
	s.logger.Debug("scheduled dispatch %s of %s: %s", exec.ID, code, run.Status)
	return run
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *cronSubscription {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *cronSubscription) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*cronSubscription)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle(code string) *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &cronSubscription{
		scheduler: s,
		id:        s.nextHandleID,
		code:      code,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	opts = append(opts, rcron.WithChain(
		rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
	))

	if s.logLevel > LogLevelSilent {
		opts = append(opts, rcron.WithLogger(&loggerAdapter{logger: s.logger, level: s.logLevel}))
	}

	return opts
}
