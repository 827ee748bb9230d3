package command

import (
	"strings"

	"github.com/goliatone/go-acommand/flow"
)

// Status is the lifecycle state of a command.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusInitialized Status = "INITIALIZED"
	StatusCompiled    Status = "COMPILED"
	StatusExecuting   Status = "EXECUTING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

var statuses = []Status{
	StatusCreated,
	StatusInitialized,
	StatusCompiled,
	StatusExecuting,
	StatusCompleted,
	StatusFailed,
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// ParseStatus returns the status matching name, case-insensitively.
func ParseStatus(name string) (Status, bool) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(name)))
	for _, st := range statuses {
		if st == candidate {
			return st, true
		}
	}
	return "", false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string { return string(s) }

// Origin tells whether a command was built from params or from a record.
type Origin string

const (
	OriginInvoked    Origin = "INVOKED"
	OriginSerialized Origin = "SERIALIZED"
)

// Transition names one edge of the command lifecycle.
type Transition struct {
	From Status
	To   Status
}

// ID returns the engine dispatch key for the transition.
func (t Transition) ID() string {
	return flow.TransitionID(string(t.From), string(t.To))
}

// Lifecycle transitions driven through the command state machine.
var (
	TransitionCreatedToInitialized   = Transition{From: StatusCreated, To: StatusInitialized}
	TransitionInitializedToExecuting = Transition{From: StatusInitialized, To: StatusExecuting}
	TransitionExecutingToCompleted   = Transition{From: StatusExecuting, To: StatusCompleted}
	TransitionExecutingToFailed      = Transition{From: StatusExecuting, To: StatusFailed}
)
