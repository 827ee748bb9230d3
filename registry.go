package command

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
)

// Registry indexes command types by code so serialized records can be
// rehydrated into the right type.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds types. Registering a code twice is a conflict; types
// registered before the failing one stay registered.
func (r *Registry) Register(types ...*Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		if t == nil {
			return errors.New("command type cannot be nil", errors.CategoryBadInput).
				WithTextCode("NIL_COMMAND_TYPE")
		}
		if _, exists := r.types[t.code]; exists {
			return errors.New("command type already registered", errors.CategoryConflict).
				WithTextCode("COMMAND_TYPE_EXISTS").
				WithMetadata(map[string]any{"code": t.code})
		}
		r.types[t.code] = t
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(types ...*Type) *Registry {
	if err := r.Register(types...); err != nil {
		panic(err)
	}
	return r
}

// Get returns the type registered under code.
func (r *Registry) Get(code string) (*Type, error) {
	r.mu.RLock()
	t, ok := r.types[strings.TrimSpace(code)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New("command type not registered", errors.CategoryNotFound).
			WithTextCode("COMMAND_TYPE_NOT_FOUND").
			WithMetadata(map[string]any{"code": code})
	}
	return t, nil
}

// New builds a command of the type registered under code.
func (r *Registry) New(code string, params map[string]any, opts ...Option) (*Command, error) {
	t, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	return t.New(params, opts...), nil
}

// Rehydrate rebuilds a command from a serialized record, resolving the type
// from the record code.
func (r *Registry) Rehydrate(data []byte, opts ...Option) (*Command, error) {
	var probe struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid command record").
			WithTextCode("RECORD_DECODE_FAILED")
	}
	t, err := r.Get(probe.Code)
	if err != nil {
		return nil, err
	}
	return t.FromJSON(data, opts...)
}

// Codes returns the registered codes sorted alphabetically.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.types))
	for code := range r.types {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
