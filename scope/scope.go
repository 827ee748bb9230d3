package scope

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Scope is a hierarchical container used to resolve collaborators and to hold
// short-lived records for the duration of one operation.
//
// Values are resolved from the nearest scope first, most recently registered
// value first, then walking up through parents. A destroyed scope drops its
// values and refuses new registrations.
type Scope struct {
	mu        sync.RWMutex
	id        string
	parent    *Scope
	values    []any
	onDestroy []func()
	destroyed bool
}

// New creates a root scope.
func New() *Scope {
	return &Scope{id: uuid.NewString()}
}

// Child creates a new scope inheriting from s.
func (s *Scope) Child() *Scope {
	return New().Inherit(s)
}

// ID returns the scope identifier.
func (s *Scope) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Parent returns the parent scope or nil for root scopes.
func (s *Scope) Parent() *Scope {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

// Inherit sets parent as the parent of s.
func (s *Scope) Inherit(parent *Scope) *Scope {
	if s == nil || parent == s {
		return s
	}
	s.mu.Lock()
	s.parent = parent
	s.mu.Unlock()
	return s
}

// Register stores v in the scope. Registering into a destroyed scope is a no-op.
func (s *Scope) Register(v any) *Scope {
	if s == nil || v == nil {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return s
	}
	s.values = append(s.values, v)
	return s
}

// OnDestroy registers fn to run when the scope is destroyed.
func (s *Scope) OnDestroy(fn func()) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.onDestroy = append(s.onDestroy, fn)
}

// IsInheritedFrom reports whether ancestor is s or one of its parents.
func (s *Scope) IsInheritedFrom(ancestor *Scope) bool {
	if s == nil || ancestor == nil {
		return false
	}
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Destroy releases registered values and runs destroy callbacks in reverse
// registration order. Calling Destroy more than once is safe.
func (s *Scope) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	callbacks := s.onDestroy
	s.onDestroy = nil
	s.values = nil
	s.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
}

// Destroyed reports whether Destroy has been called.
func (s *Scope) Destroyed() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

// Len returns the number of values registered directly in s.
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *Scope) snapshot() []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]any, len(s.values))
	copy(out, s.values)
	return out
}

// Resolve returns the nearest value assignable to T.
func Resolve[T any](s *Scope) (T, bool) {
	var zero T
	for cur := s; cur != nil; cur = cur.Parent() {
		values := cur.snapshot()
		for i := len(values) - 1; i >= 0; i-- {
			if v, ok := values[i].(T); ok {
				return v, true
			}
		}
	}
	return zero, false
}

// ResolveAll returns every value assignable to T, nearest first.
func ResolveAll[T any](s *Scope) []T {
	var out []T
	for cur := s; cur != nil; cur = cur.Parent() {
		values := cur.snapshot()
		for i := len(values) - 1; i >= 0; i-- {
			if v, ok := values[i].(T); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// MustResolve is Resolve for collaborators that are required to be present.
func MustResolve[T any](s *Scope) T {
	v, ok := Resolve[T](s)
	if !ok {
		panic(fmt.Sprintf("scope: unresolved collaborator %T", (*T)(nil)))
	}
	return v
}
