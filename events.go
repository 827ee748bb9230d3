package command

import (
	"sync"

	"github.com/goliatone/go-acommand/flow"
)

// Event names a lifecycle notification delivered to command listeners.
type Event string

const (
	EventInit     Event = "init"
	EventExecute  Event = "execute"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// Listener receives lifecycle notifications. Listeners run synchronously in
// subscription order; a panicking listener is recovered and logged.
type Listener func(cmd *Command)

// Subscription is returned by On and cancels the listener it refers to.
type Subscription struct {
	event Event
	id    uint64
	owner *emitter
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.owner == nil {
		return
	}
	s.owner.off(s.event, s.id)
}

type listenerEntry struct {
	id uint64
	fn Listener
}

type emitter struct {
	mu        sync.RWMutex
	seq       uint64
	listeners map[Event][]listenerEntry
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[Event][]listenerEntry)}
}

func (e *emitter) on(event Event, fn Listener) Subscription {
	if fn == nil {
		return Subscription{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: e.seq, fn: fn})
	return Subscription{event: event, id: e.seq, owner: e}
}

func (e *emitter) off(event Event, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[event]
	for i, entry := range list {
		if entry.id == id {
			e.listeners[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(event Event, cmd *Command) {
	e.mu.RLock()
	list := append([]listenerEntry(nil), e.listeners[event]...)
	e.mu.RUnlock()

	for _, entry := range list {
		fn := entry.fn
		err := flow.CallSafely("listener:"+string(event), func() error {
			fn(cmd)
			return nil
		})
		if err != nil {
			cmd.logger.Error("command listener failed: %v", err)
		}
	}
}

// On subscribes fn to event.
func (c *Command) On(event Event, fn Listener) Subscription {
	return c.events.on(event, fn)
}

// Off cancels sub. Equivalent to sub.Unsubscribe().
func (c *Command) Off(sub Subscription) {
	sub.Unsubscribe()
}

// Emit notifies the listeners of event.
func (c *Command) Emit(event Event) {
	c.events.emit(event, c)
}

// ListenerCount returns the number of listeners subscribed to event.
func (c *Command) ListenerCount(event Event) int {
	c.events.mu.RLock()
	defer c.events.mu.RUnlock()
	return len(c.events.listeners[event])
}
