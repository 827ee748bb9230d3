package cron

import (
	"sync"
	"time"

	command "github.com/goliatone/go-acommand"
)

type Subscription interface {
	Unsubscribe()
}

// ScheduleStatus reports a schedule handle state.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusIdle      ScheduleStatus = "idle"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCanceled  ScheduleStatus = "canceled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusStopped   ScheduleStatus = "stopped"
)

func (s ScheduleStatus) terminal() bool {
	switch s {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

// Run is the outcome of one scheduled dispatch.
type Run struct {
	// ExecutionID is empty when the dispatch could not start.
	ExecutionID string
	Status      command.Status
	At          time.Time
	Err         error
}

// Handle controls a scheduled dispatch and reports what its runs did.
type Handle interface {
	Subscription
	Cancel()
	Status() ScheduleStatus
	// Err is the error of the last run, nil when it completed.
	Err() error
	Done() <-chan struct{}
	ID() int64
	Code() string
	Runs() int
	Last() (Run, bool)
}

type cronSubscription struct {
	scheduler *Scheduler
	id        int64
	entryID   int
	code      string
	done      chan struct{}
	once      sync.Once

	mu     sync.RWMutex
	status ScheduleStatus
	runs   int
	last   *Run
}

func (s *cronSubscription) Unsubscribe() {
	s.Cancel()
}

func (s *cronSubscription) Cancel() {
	if s == nil {
		return
	}
	if s.scheduler != nil {
		s.scheduler.removeHandle(s.id)
	}
	s.end(ScheduleStatusCanceled)
}

func (s *cronSubscription) Status() ScheduleStatus {
	if s == nil {
		return ScheduleStatusStopped
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *cronSubscription) Err() error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	return s.last.Err
}

func (s *cronSubscription) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *cronSubscription) ID() int64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Code returns the command code the handle dispatches.
func (s *cronSubscription) Code() string {
	if s == nil {
		return ""
	}
	return s.code
}

// Runs returns how many dispatches the handle made.
func (s *cronSubscription) Runs() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}

// Last returns the outcome of the most recent dispatch.
func (s *cronSubscription) Last() (Run, bool) {
	if s == nil {
		return Run{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// begin marks the handle running. It reports false once the handle ended.
func (s *cronSubscription) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.terminal() {
		return false
	}
	s.status = ScheduleStatusRunning
	return true
}

// finish records run. A recurring handle goes back to idle; a one shot
// handle ends completed or failed.
func (s *cronSubscription) finish(run Run, oneShot bool) {
	s.mu.Lock()
	s.runs++
	s.last = &run
	if s.status.terminal() {
		s.mu.Unlock()
		return
	}
	if !oneShot {
		s.status = ScheduleStatusIdle
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if run.Err != nil {
		s.end(ScheduleStatusFailed)
		return
	}
	s.end(ScheduleStatusCompleted)
}

// end moves the handle to a terminal status once and closes Done.
func (s *cronSubscription) end(status ScheduleStatus) {
	s.once.Do(func() {
		s.mu.Lock()
		s.status = status
		s.mu.Unlock()
		close(s.done)
	})
}
