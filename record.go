package command

import (
	"encoding/json"
	"time"

	"github.com/goliatone/go-acommand/flow"
)

// Record is the wire form of a command.
//
// Timestamps are UTC with millisecond precision. Duration and IdleTime are
// milliseconds and only present once the command started. Params are always
// emitted but are never restored by FromRecord.
type Record struct {
	Code      string            `json:"code"`
	Status    Status            `json:"status"`
	Params    map[string]any    `json:"params"`
	CreatedAt time.Time         `json:"createdAt"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Duration  *int64            `json:"duration,omitempty"`
	IdleTime  *int64            `json:"idleTime,omitempty"`
	Result    map[string]any    `json:"result,omitempty"`
	Error     *flow.ErrorRecord `json:"error,omitempty"`
}

// ToRecord snapshots the command.
func (c *Command) ToRecord() Record {
	rec := Record{Code: c.typ.code}

	c.mu.RLock()
	rec.Status = c.status
	rec.Params = copyParams(c.params)
	rec.CreatedAt = c.createdAt
	rec.StartedAt = copyTime(c.startedAt)
	rec.EndedAt = copyTime(c.endedAt)
	rec.Result = copyParams(c.result)
	if c.err != nil {
		rec.Error = c.err.Record()
	}
	c.mu.RUnlock()

	if rec.Params == nil {
		rec.Params = map[string]any{}
	}
	if d, ok := c.Duration(); ok {
		rec.Duration = millis(d)
	}
	if d, ok := c.IdleTime(); ok {
		rec.IdleTime = millis(d)
	}
	return rec
}

// MarshalJSON encodes the command as its Record.
func (c *Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToRecord())
}

// MarshalJSON writes timestamps as RFC 3339 with millisecond precision.
func (r Record) MarshalJSON() ([]byte, error) {
	type wire struct {
		Code      string            `json:"code"`
		Status    Status            `json:"status"`
		Params    map[string]any    `json:"params"`
		CreatedAt string            `json:"createdAt"`
		StartedAt string            `json:"startedAt,omitempty"`
		EndedAt   string            `json:"endedAt,omitempty"`
		Duration  *int64            `json:"duration,omitempty"`
		IdleTime  *int64            `json:"idleTime,omitempty"`
		Result    map[string]any    `json:"result,omitempty"`
		Error     *flow.ErrorRecord `json:"error,omitempty"`
	}
	params := r.Params
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(wire{
		Code:      r.Code,
		Status:    r.Status,
		Params:    params,
		CreatedAt: formatTime(&r.CreatedAt),
		StartedAt: formatTime(r.StartedAt),
		EndedAt:   formatTime(r.EndedAt),
		Duration:  r.Duration,
		IdleTime:  r.IdleTime,
		Result:    r.Result,
		Error:     r.Error,
	})
}

// TimeLayout is the timestamp layout of serialized records.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
