package flow

import (
	"bytes"
	"encoding/json"
	"sync"
)

// ExecutionContext is a named metadata carrier. Keys keep their insertion
// order so serialized output is deterministic.
type ExecutionContext struct {
	mu    sync.RWMutex
	name  string
	keys  []string
	items map[string]any
}

// NewExecutionContext creates an empty context named name.
func NewExecutionContext(name string) *ExecutionContext {
	return &ExecutionContext{
		name:  name,
		items: make(map[string]any),
	}
}

// Name returns the context name.
func (c *ExecutionContext) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Get returns the value stored under key.
func (c *ExecutionContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Set stores value under key. Existing keys keep their original position.
func (c *ExecutionContext) Set(key string, value any) *ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]any)
	}
	if _, exists := c.items[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.items[key] = value
	return c
}

// Has reports whether key is set.
func (c *ExecutionContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Drop removes key.
func (c *ExecutionContext) Drop(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		return
	}
	delete(c.items, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Clear removes all metadata.
func (c *ExecutionContext) Clear() *ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.items = make(map[string]any)
	return c
}

// Keys returns metadata keys in insertion order.
func (c *ExecutionContext) Keys() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// ToRaw returns a copy of the metadata map.
func (c *ExecutionContext) ToRaw() map[string]any {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.items)
}

// MarshalJSON writes {"name": ..., <metadata...>} keeping insertion order.
// A metadata key named "name" overrides the context name.
func (c *ExecutionContext) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fields := make([]orderedField, 0, len(c.keys)+1)
	if _, shadowed := c.items["name"]; !shadowed {
		fields = append(fields, orderedField{key: "name", value: c.name})
	}
	for _, k := range c.keys {
		fields = append(fields, orderedField{key: k, value: c.items[k]})
	}
	return marshalOrdered(fields)
}

type orderedField struct {
	key   string
	value any
}

func marshalOrdered(fields []orderedField) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
