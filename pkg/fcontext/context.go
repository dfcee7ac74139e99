// Package fcontext implements the Context Store: a typed key/value bag
// carried on a runtime State and mutated by behaviors across one RTC
// step. It is the component described in spec section 4 under
// "Context" — deliberately not context.Context: the interpreter core
// has no ambient I/O or cancellation to thread, only a value bag that
// must be copyable and validated after each mutation cluster.
package fcontext

import (
	"fmt"
	"sync"

	"github.com/fluo-sh/fluo/pkg/ferrors"
)

// FieldRule validates a single key's value whenever the context is
// validated. Required, when true, fails validation if the key is
// absent entirely.
type FieldRule struct {
	Key      string
	Required bool
	Validate func(value any, present bool) error
}

// Shape is a named collection of field rules, the typed-context
// equivalent of spec section 4.1's "typed class reference".
type Shape struct {
	Name   string
	Fields []FieldRule
}

// Context is the mutable key/value bag threaded through one run.
// Safe for sequential use by the Step Engine; the RWMutex guards
// against a behavior reading context concurrently with another
// behavior's write within the same step's goroutine-free dispatch,
// mirroring the teacher's StateMachineContext locking discipline even
// though the core never runs two behaviors concurrently by design.
type Context struct {
	mu    sync.RWMutex
	data  map[string]any
	shape *Shape
}

// New creates a Context seeded with defaults and an optional typed
// shape. Shape validation runs immediately against the defaults, per
// spec section 4.5.1 ("typed contexts run their declared validations
// now").
func New(defaults map[string]any, shape *Shape) (*Context, error) {
	c := &Context{data: make(map[string]any, len(defaults)), shape: shape}
	for k, v := range defaults {
		c.data[k] = v
	}
	if shape != nil {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get retrieves a value.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set stores a value. Callers that must observe the typed shape call
// Validate afterward; the Step Engine does this after each calculator,
// and actions are not followed by a validation pass.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// GetAll returns a shallow copy of the whole bag.
func (c *Context) GetAll() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// RequireKeys fails if any of the given keys is absent, the "all
// required keys for a behavior exist before it runs" invariant of
// spec section 3.
func (c *Context) RequireKeys(keys []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range keys {
		if _, ok := c.data[k]; !ok {
			return ferrors.NewValidationError("context", fmt.Sprintf("required key %q missing", k))
		}
	}
	return nil
}

// Validate runs the typed shape's field rules, if any, against the
// current data. A Context with no shape always validates.
func (c *Context) Validate() error {
	if c.shape == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.shape.Fields {
		v, present := c.data[f.Key]
		if f.Required && !present {
			return ferrors.NewValidationError("context:"+c.shape.Name, fmt.Sprintf("required field %q missing", f.Key))
		}
		if f.Validate == nil {
			continue
		}
		if err := f.Validate(v, present); err != nil {
			return ferrors.NewValidationError("context:"+c.shape.Name, fmt.Sprintf("field %q: %s", f.Key, err.Error()))
		}
	}
	return nil
}

// Clone returns an independent copy, used when the public API hands a
// runtime State to a caller between steps so later mutation of one
// State's context can never leak into a previously returned snapshot.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Context{data: make(map[string]any, len(c.data)), shape: c.shape}
	for k, v := range c.data {
		out.data[k] = v
	}
	return out
}
