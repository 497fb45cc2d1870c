package transform

import (
	"fmt"

	"github.com/morphproxy/morph/internal/api"
	"github.com/morphproxy/morph/internal/config"
)

// Registry maps template ids to compiled transformations. It is built once
// per config load and read-only afterwards.
type Registry struct {
	byID map[string]*Transformation
}

// NewRegistry compiles every named transformation in cfg. One bad
// transformation fails the whole load.
func NewRegistry(cfgs map[string]config.TransformationConfig, rng api.RandomGenerator) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Transformation, len(cfgs))}
	for id, tc := range cfgs {
		tr, err := New(tc, rng)
		if err != nil {
			return nil, fmt.Errorf("transformation %q: %w", id, err)
		}
		r.byID[id] = tr
	}
	return r, nil
}

// Lookup returns the transformation registered under id.
func (r *Registry) Lookup(id string) (*Transformation, bool) {
	tr, ok := r.byID[id]
	return tr, ok
}

// Len reports how many transformations are registered.
func (r *Registry) Len() int { return len(r.byID) }
