// Package registry holds the immutable table of launch profiles.
//
// A Registry is built once at startup from explicit profile structs (the
// built-in table, optionally merged with a profiles file) and never mutated
// afterwards. Resolve is a pure lookup.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"servectl/pkg/types"
)

type Registry struct {
	order    []string
	profiles map[string]types.Profile
}

// New builds a registry. Empty or duplicate keys and profiles failing
// Validate are rejected.
func New(profiles ...types.Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]types.Profile, len(profiles))}
	for _, p := range profiles {
		key := strings.TrimSpace(p.Key)
		if key == "" {
			return nil, fmt.Errorf("profile with empty key (model %q)", p.ModelID)
		}
		if _, dup := r.profiles[key]; dup {
			return nil, fmt.Errorf("duplicate profile key: %s", key)
		}
		p.Key = key
		if err := Validate(p); err != nil {
			return nil, err
		}
		r.profiles[key] = p.Clone()
		r.order = append(r.order, key)
	}
	return r, nil
}

// MustNew is New for compiled-in tables; a bad table is a programming error.
func MustNew(profiles ...types.Profile) *Registry {
	r, err := New(profiles...)
	if err != nil {
		panic(err)
	}
	return r
}

// Merge returns a new registry with base profiles followed by overrides.
// An override whose key already exists in base replaces it in place.
func Merge(base *Registry, overrides ...types.Profile) (*Registry, error) {
	byKey := make(map[string]types.Profile, len(overrides))
	for _, p := range overrides {
		k := strings.TrimSpace(p.Key)
		if _, dup := byKey[k]; dup {
			return nil, fmt.Errorf("duplicate profile key: %s", k)
		}
		byKey[k] = p
	}
	var out []types.Profile
	if base != nil {
		for _, p := range base.List() {
			if o, ok := byKey[p.Key]; ok {
				out = append(out, o)
				delete(byKey, p.Key)
				continue
			}
			out = append(out, p)
		}
	}
	for _, p := range overrides {
		if _, pending := byKey[strings.TrimSpace(p.Key)]; pending {
			out = append(out, p)
		}
	}
	return New(out...)
}

// Resolve returns a copy of the profile registered under key.
func (r *Registry) Resolve(key string) (types.Profile, error) {
	p, ok := r.profiles[strings.TrimSpace(key)]
	if !ok {
		return types.Profile{}, NotFoundError{Key: key}
	}
	return p.Clone(), nil
}

// Keys returns the registered keys sorted alphabetically.
func (r *Registry) Keys() []string {
	keys := append([]string(nil), r.order...)
	sort.Strings(keys)
	return keys
}

// List returns copies of all profiles in registration order.
func (r *Registry) List() []types.Profile {
	out := make([]types.Profile, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.profiles[k].Clone())
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Validate checks the launch preconditions of a profile.
func Validate(p types.Profile) error {
	switch {
	case strings.TrimSpace(p.ModelID) == "":
		return InvalidProfileError{Key: p.Key, Reason: "model id is empty"}
	case p.ContextLength <= 0:
		return InvalidProfileError{Key: p.Key, Reason: fmt.Sprintf("context length must be > 0, got %d", p.ContextLength)}
	case p.MaxConcurrentRequests <= 0:
		return InvalidProfileError{Key: p.Key, Reason: fmt.Sprintf("max concurrent requests must be > 0, got %d", p.MaxConcurrentRequests)}
	case !(p.MemoryFraction > 0 && p.MemoryFraction <= 1):
		return InvalidProfileError{Key: p.Key, Reason: fmt.Sprintf("memory fraction must be in (0,1], got %v", p.MemoryFraction)}
	}
	return nil
}
