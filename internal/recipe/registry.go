// Package recipe maps step names to functions and phases to ordered step
// lists. A name that does not resolve is a configuration error, never a
// silent skip.
package recipe

import (
	"context"
	"fmt"
	"sort"

	"github.com/rescale/simchain/internal/config"
)

// Step transforms a run context.
type Step[C any] func(ctx context.Context, c C) (C, error)

// Registry holds named steps.
type Registry[C any] struct {
	steps map[string]Step[C]
}

func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{steps: make(map[string]Step[C])}
}

// Register adds a step. Names are unique.
func (r *Registry[C]) Register(name string, fn Step[C]) error {
	if name == "" || fn == nil {
		return fmt.Errorf("step needs a name and a function")
	}
	if _, dup := r.steps[name]; dup {
		return fmt.Errorf("step %q registered twice", name)
	}
	r.steps[name] = fn
	return nil
}

// MustRegister panics on a duplicate; used for built-in steps at startup.
func (r *Registry[C]) MustRegister(name string, fn Step[C]) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry[C]) Lookup(name string) (Step[C], error) {
	fn, ok := r.steps[name]
	if !ok {
		return nil, config.NewConfigError("general.recipes", "unknown step %q", name)
	}
	return fn, nil
}

// Resolve looks up every name before anything runs.
func (r *Registry[C]) Resolve(names []string) ([]Step[C], error) {
	out := make([]Step[C], 0, len(names))
	for _, n := range names {
		fn, err := r.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

func (r *Registry[C]) Names() []string {
	names := make([]string, 0, len(r.steps))
	for n := range r.steps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Observer is told about each step before it runs.
type Observer func(step string)

// Run resolves names and threads c through the steps in order. It stops
// at the first error or when ctx is cancelled.
func Run[C any](ctx context.Context, r *Registry[C], names []string, c C, observe Observer) (C, error) {
	steps, err := r.Resolve(names)
	if err != nil {
		return c, err
	}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		if observe != nil {
			observe(names[i])
		}
		next, err := step(ctx, c)
		if err != nil {
			return next, fmt.Errorf("step %s: %w", names[i], err)
		}
		c = next
	}
	return c, nil
}
