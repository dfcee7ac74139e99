// Package registry implements the Behavior Registry: resolution of
// symbolic behavior names (calculators, guards, actions, event types,
// result extractors, context validators) to invokable units, per spec
// section 4.2.
//
// Two call shapes are supported, per spec section 4.2 and design note
// 9 ("Polymorphic behaviors"): an inline Go function registered
// directly, whose parameters are injected by declared type, and an
// Invokable — a self-describing value exposing Type, optional
// ShouldLog/RequiredContextKeys, and a uniform Invoke entry point.
// Grounded on the teacher's ActionFunc/GuardFunc typed-closure style
// (state.go) generalized with reflect-based parameter injection, and
// on the panic-recovery discipline of the teacher's
// safeEvaluateGuard/safeExecuteAction (machine.go).
package registry

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fluo-sh/fluo/pkg/fcontext"
	"github.com/fluo-sh/fluo/pkg/ferrors"
	"github.com/fluo-sh/fluo/pkg/fevent"
	"github.com/fluo-sh/fluo/pkg/queue"
	"github.com/fluo-sh/fluo/pkg/runtime"
)

// Kind names one of the registry's keyed tables.
type Kind string

const (
	KindAction     Kind = "action"
	KindGuard      Kind = "guard"
	KindCalculator Kind = "calculator"
	KindEvent      Kind = "event"
	KindResult     Kind = "result"
	KindContext    Kind = "context"
)

// Args are the positional argument strings parsed out of a
// "name:a,b,c" behavior spec.
type Args []string

// Inputs is the uniform argument vector passed to every behavior
// invocation. The engine fills it once per call; individual behaviors
// only see the fields their declared signature asked for.
type Inputs struct {
	Context *fcontext.Context
	Event   fevent.Event
	State   *runtime.State
	Args    Args
	Raise   queue.Raiser
}

// GuardOutcome is the result of invoking a guard. Validation-style
// guards set Message and IsValidation on failure so the Step Engine
// can surface a ValidationError (spec section 4.2).
type GuardOutcome struct {
	Pass         bool
	Message      string
	IsValidation bool
}

// Invokable is the self-describing call shape of spec section 4.2: a
// unit that can report its own type and optionally the context keys it
// requires, and exposes one Invoke entry point.
type Invokable interface {
	Type() string
	Invoke(in Inputs) (any, error)
}

// ShouldLogger lets an Invokable opt into should_log on its outcome
// records (used by validation-style guards, mainly).
type ShouldLogger interface {
	ShouldLog() bool
}

// RequiresContext lets an Invokable declare context keys that must be
// present before it runs. The Step Engine checks these keys before
// invoking a guard; actions and calculators are invoked without the
// check.
type RequiresContext interface {
	RequiredContextKeys() []string
}

type entry struct {
	kind      Kind
	name      string
	inline    reflect.Value // zero if invokable is set
	inlineTy  reflect.Type
	invokable Invokable
}

// Registry holds the four required keyed tables plus the optional
// results and typed-context tables.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*entry
	guards  map[string]*entry
	calcs   map[string]*entry
	events  map[string]string // class token name -> effective event type
	results map[string]*entry
	ctxs    map[string]*fcontext.Shape
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		actions: map[string]*entry{},
		guards:  map[string]*entry{},
		calcs:   map[string]*entry{},
		events:  map[string]string{},
		results: map[string]*entry{},
		ctxs:    map[string]*fcontext.Shape{},
	}
}

var injectableTypes = []reflect.Type{
	reflect.TypeOf((*fcontext.Context)(nil)),
	reflect.TypeOf(fevent.Event{}),
	reflect.TypeOf((*runtime.State)(nil)),
	reflect.TypeOf(Args(nil)),
	reflect.TypeOf(queue.Raiser(nil)),
}

// RegisterAction registers an inline action. fn must be a func whose
// parameters are drawn from {*fcontext.Context, fevent.Event,
// *runtime.State, registry.Args, queue.Raiser} in any subset/order, and
// whose only return value (if any) is an error.
func (r *Registry) RegisterAction(name string, fn any) error {
	return r.registerInline(r.actions, KindAction, name, fn)
}

// RegisterGuard registers an inline guard: it must return bool, or
// (bool, error), or, for a validation-style guard, (bool, string) where
// the string is the failure message.
func (r *Registry) RegisterGuard(name string, fn any) error {
	return r.registerInline(r.guards, KindGuard, name, fn)
}

// RegisterCalculator registers an inline calculator, same return shape
// as an action.
func (r *Registry) RegisterCalculator(name string, fn any) error {
	return r.registerInline(r.calcs, KindCalculator, name, fn)
}

// RegisterInvokable registers a self-describing behavior under its own
// Type() as the lookup name, in the named table.
func (r *Registry) RegisterInvokable(kind Kind, inv Invokable) error {
	table, err := r.tableFor(kind)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	table[inv.Type()] = &entry{kind: kind, name: inv.Type(), invokable: inv}
	return nil
}

// RegisterEventClass registers a class-valued event token: its
// declared type becomes the effective event name (spec section 4.1,
// compiler step 5).
func (r *Registry) RegisterEventClass(token, eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[token] = eventType
}

// ResolveEventClass looks up a previously registered class token.
func (r *Registry) ResolveEventClass(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.events[token]
	return t, ok
}

// RegisterContextShape registers a typed context shape by name, for
// machine configs that reference `context: <name>`.
func (r *Registry) RegisterContextShape(name string, shape *fcontext.Shape) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxs[name] = shape
}

// ResolveContextShape looks up a previously registered context shape.
func (r *Registry) ResolveContextShape(name string) (*fcontext.Shape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.ctxs[name]
	return s, ok
}

func (r *Registry) tableFor(kind Kind) (map[string]*entry, error) {
	switch kind {
	case KindAction:
		return r.actions, nil
	case KindGuard:
		return r.guards, nil
	case KindCalculator:
		return r.calcs, nil
	case KindResult:
		return r.results, nil
	default:
		return nil, fmt.Errorf("registry: kind %q has no invokable table", kind)
	}
}

func (r *Registry) registerInline(table map[string]*entry, kind Kind, name string, fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("registry: %s %q: not a function", kind, name)
	}
	t := v.Type()
	for i := 0; i < t.NumIn(); i++ {
		if !isInjectable(t.In(i)) {
			return fmt.Errorf("registry: %s %q: parameter %d has unsupported type %s", kind, name, i, t.In(i))
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	table[name] = &entry{kind: kind, name: name, inline: v, inlineTy: t}
	return nil
}

func isInjectable(t reflect.Type) bool {
	for _, it := range injectableTypes {
		if t == it {
			return true
		}
	}
	return false
}

// Binding is a resolved, args-bound reference to a registered
// behavior, produced by the Definition Compiler and held directly on a
// Transition Branch (spec section 2, item 3: "transitions resolved to
// ... behavior references").
type Binding struct {
	kind Kind
	name string
	args Args
	e    *entry
}

// Name returns the behavior's registered name (without arguments).
func (b *Binding) Name() string { return b.name }

// parseSpec splits "name:a,b,c" into name and positional args.
func parseSpec(spec string) (string, Args) {
	name, rest, found := strings.Cut(spec, ":")
	if !found {
		return name, nil
	}
	if rest == "" {
		return name, Args{}
	}
	return name, Args(strings.Split(rest, ","))
}

func (r *Registry) resolve(table map[string]*entry, kind Kind, spec string) (*Binding, error) {
	name, args := parseSpec(spec)
	r.mu.RLock()
	e, ok := table[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.NewBehaviorNotFoundError(string(kind), name)
	}
	return &Binding{kind: kind, name: name, args: args, e: e}, nil
}

// ResolveAction resolves an action behavior spec.
func (r *Registry) ResolveAction(spec string) (*Binding, error) { return r.resolve(r.actions, KindAction, spec) }

// ResolveGuard resolves a guard behavior spec.
func (r *Registry) ResolveGuard(spec string) (*Binding, error) { return r.resolve(r.guards, KindGuard, spec) }

// ResolveCalculator resolves a calculator behavior spec.
func (r *Registry) ResolveCalculator(spec string) (*Binding, error) {
	return r.resolve(r.calcs, KindCalculator, spec)
}

// ResolveResult resolves a result-extractor behavior spec.
func (r *Registry) ResolveResult(spec string) (*Binding, error) { return r.resolve(r.results, KindResult, spec) }

// ShouldLog reports whether this binding's failures should be
// recorded as loggable, honoring an Invokable's ShouldLogger.
func (b *Binding) ShouldLog() bool {
	if b.e.invokable == nil {
		return false
	}
	if sl, ok := b.e.invokable.(ShouldLogger); ok {
		return sl.ShouldLog()
	}
	return false
}

// RequiredContextKeys reports the context keys this binding requires,
// honoring an Invokable's RequiresContext.
func (b *Binding) RequiredContextKeys() []string {
	if b.e.invokable == nil {
		return nil
	}
	if rc, ok := b.e.invokable.(RequiresContext); ok {
		return rc.RequiredContextKeys()
	}
	return nil
}

// InvokeAction runs this binding as an action: side effects only, no
// meaningful return value beyond error.
func (b *Binding) InvokeAction(in Inputs) (err error) {
	in.Args = b.args
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q panicked: %v", b.name, r)
		}
	}()
	if b.e.invokable != nil {
		_, err = b.e.invokable.Invoke(in)
		return err
	}
	out := callInline(b.e.inline, b.e.inlineTy, in)
	return lastError(out)
}

// InvokeCalculator runs this binding as a calculator: same shape as an
// action, evaluated before guards on its branch.
func (b *Binding) InvokeCalculator(in Inputs) (err error) {
	in.Args = b.args
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("calculator %q panicked: %v", b.name, r)
		}
	}()
	if b.e.invokable != nil {
		_, err = b.e.invokable.Invoke(in)
		return err
	}
	out := callInline(b.e.inline, b.e.inlineTy, in)
	return lastError(out)
}

// InvokeGuard runs this binding as a guard and interprets its result.
// An inline plain guard returns bool (or bool, error); an inline
// validation-style guard returns (bool, string) where the string is the
// failure message. An Invokable guard's Invoke result may be a bool or
// a GuardOutcome; any other result counts as a failed guard.
func (b *Binding) InvokeGuard(in Inputs) (out GuardOutcome, err error) {
	in.Args = b.args
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guard %q panicked: %v", b.name, r)
		}
	}()
	if b.e.invokable != nil {
		res, ierr := b.e.invokable.Invoke(in)
		if ierr != nil {
			return GuardOutcome{}, ierr
		}
		return interpretGuardResult(res, b.ShouldLog()), nil
	}
	results := callInline(b.e.inline, b.e.inlineTy, in)
	return interpretGuardReturn(results)
}

func callInline(fn reflect.Value, ty reflect.Type, in Inputs) []reflect.Value {
	args := make([]reflect.Value, ty.NumIn())
	for i := 0; i < ty.NumIn(); i++ {
		switch ty.In(i) {
		case reflect.TypeOf((*fcontext.Context)(nil)):
			args[i] = reflect.ValueOf(in.Context)
		case reflect.TypeOf(fevent.Event{}):
			args[i] = reflect.ValueOf(in.Event)
		case reflect.TypeOf((*runtime.State)(nil)):
			args[i] = reflect.ValueOf(in.State)
		case reflect.TypeOf(Args(nil)):
			args[i] = reflect.ValueOf(in.Args)
		case reflect.TypeOf(queue.Raiser(nil)):
			args[i] = reflect.ValueOf(in.Raise)
		}
	}
	return fn.Call(args)
}

func lastError(results []reflect.Value) error {
	if len(results) == 0 {
		return nil
	}
	last := results[len(results)-1]
	if err, ok := last.Interface().(error); ok {
		return err
	}
	return nil
}

func interpretGuardReturn(results []reflect.Value) (GuardOutcome, error) {
	if len(results) == 0 {
		return GuardOutcome{}, fmt.Errorf("guard must return at least a bool")
	}
	var out GuardOutcome
	switch v := results[0].Interface().(type) {
	case bool:
		out.Pass = v
	default:
		return GuardOutcome{}, fmt.Errorf("guard's first return value must be bool, got %T", v)
	}
	if len(results) >= 2 {
		switch v := results[1].Interface().(type) {
		case string:
			out.Message = v
			out.IsValidation = v != ""
		case error:
			if v != nil {
				return out, v
			}
		}
	}
	return out, nil
}

func interpretGuardResult(res any, shouldLog bool) GuardOutcome {
	switch v := res.(type) {
	case bool:
		return GuardOutcome{Pass: v}
	case GuardOutcome:
		return v
	default:
		return GuardOutcome{Pass: false}
	}
}
