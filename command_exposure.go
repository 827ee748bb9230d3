package command

import "sort"

// Exposure declares optional operator facing metadata of a type.
// The zero value is safe: Expose is false and Mutates is read-only.
type Exposure struct {
	// Expose signals the type can be listed by operator tooling.
	Expose bool
	// Tags for grouping/filtering (e.g. "debug", "ops").
	Tags []string
	// Permissions required to execute. If empty, consumers should derive
	// defaults from Mutates.
	Permissions []string
	// Mutates signals side effects; false implies read-only.
	Mutates bool
}

// WithExposure sets the exposure metadata of a type.
func WithExposure(e Exposure) TypeOption {
	return func(t *Type) {
		e.Tags = append([]string(nil), e.Tags...)
		e.Permissions = append([]string(nil), e.Permissions...)
		t.exposure = e
	}
}

// Exposure returns the exposure metadata of the type.
func (t *Type) Exposure() Exposure {
	return t.exposure
}

// Exposed returns the types marked as exposed, sorted by code.
func (r *Registry) Exposed() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		if t.exposure.Expose {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}
