package dispatcher

import (
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// TextCodeCircuitOpen marks dispatches rejected by an open circuit.
const TextCodeCircuitOpen = "CIRCUIT_OPEN"

func newCircuitOpenError(code string) error {
	return errors.New("circuit open", errors.CategoryOperation).
		WithTextCode(TextCodeCircuitOpen).
		WithMetadata(map[string]any{"code": code})
}

// IsCircuitOpen reports whether err is a dispatch rejected by the breaker.
func IsCircuitOpen(err error) bool {
	var e *errors.Error
	return errors.As(err, &e) && e.TextCode == TextCodeCircuitOpen
}

// breaker implements the circuit breaker pattern per command code. After
// threshold consecutive FAILED dispatches the code is rejected until
// resetTimeout elapsed. The circuit is then half open: a single dispatch
// probes it while the others are still rejected. A successful probe closes
// the circuit, a failed one opens it again.
type breaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	circuits map[string]*circuit
}

type circuit struct {
	failures    int
	lastFailure time.Time
	isOpen      bool
	probing     bool
}

func newBreaker(threshold int, reset time.Duration) *breaker {
	return &breaker{
		failureThreshold: threshold,
		resetTimeout:     reset,
		now:              time.Now,
		circuits:         make(map[string]*circuit),
	}
}

func (b *breaker) canExecute(code string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[code]
	if !ok {
		return true
	}
	switch {
	case !c.isOpen:
		return true
	case c.probing:
		return false
	case b.now().Sub(c.lastFailure) > b.resetTimeout:
		c.probing = true
		return true
	default:
		return false
	}
}

// release gives up a probe that never produced a result.
func (b *breaker) release(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[code]; ok {
		c.probing = false
	}
}

func (b *breaker) recordResult(code string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[code]
	if !ok {
		c = &circuit{}
		b.circuits[code] = c
	}
	probe := c.probing
	c.probing = false
	if !failed {
		c.failures = 0
		c.isOpen = false
		return
	}

	c.failures++
	if probe || c.failures >= b.failureThreshold {
		c.isOpen = true
		c.lastFailure = b.now()
	}
}

// WithCircuitBreaker rejects a code with a circuit open error after threshold
// consecutive FAILED dispatches, for resetTimeout.
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(d *Dispatcher) {
		if threshold > 0 {
			d.breaker = newBreaker(threshold, resetTimeout)
		}
	}
}
