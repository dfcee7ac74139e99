// Package fluo is an event-driven hierarchical statechart interpreter
// core: a declarative machine configuration compiles once into an
// immutable transition graph, and every step advances an immutable
// State value in response to one event, run to completion.
package fluo

import (
	"io"

	"github.com/fluo-sh/fluo/pkg/compiler"
	"github.com/fluo-sh/fluo/pkg/config"
	"github.com/fluo-sh/fluo/pkg/definition"
	"github.com/fluo-sh/fluo/pkg/engine"
	"github.com/fluo-sh/fluo/pkg/eventlog"
	"github.com/fluo-sh/fluo/pkg/fcontext"
	"github.com/fluo-sh/fluo/pkg/fevent"
	"github.com/fluo-sh/fluo/pkg/logprinter"
	"github.com/fluo-sh/fluo/pkg/queue"
	"github.com/fluo-sh/fluo/pkg/registry"
	"github.com/fluo-sh/fluo/pkg/runtime"
)

// Core types
type (
	// Machine is the compiled, immutable transition graph produced by
	// Compile.
	Machine = definition.Machine

	// State is the immutable snapshot a caller holds between steps.
	State = runtime.State

	// Event is a trigger processed by one run-to-completion step.
	Event = fevent.Event

	// Context is the mutable key/value bag threaded through a run.
	Context = fcontext.Context

	// StepResult reports what one call to Step actually did.
	StepResult = engine.StepResult

	// Registry resolves symbolic behavior names to invokable units.
	Registry = registry.Registry

	// Args are the positional arguments parsed out of a behavior spec.
	Args = registry.Args

	// Inputs is the uniform argument vector passed to a behavior.
	Inputs = registry.Inputs

	// GuardOutcome is the result of invoking a guard.
	GuardOutcome = registry.GuardOutcome

	// Invokable is the self-describing behavior call shape.
	Invokable = registry.Invokable

	// Raiser lets a behavior enqueue an internal event.
	Raiser = queue.Raiser

	// MachineConfig is the raw, declarative configuration document.
	MachineConfig = config.MachineConfig

	// StateConfig is one node of a declarative configuration tree.
	StateConfig = config.StateConfig

	// LogRecord is one row of a run's internal event trace.
	LogRecord = eventlog.Record

	// LogTag identifies the kind of interpreter action a LogRecord
	// describes.
	LogTag = eventlog.Tag

	// ContextShape is a named collection of context field rules.
	ContextShape = fcontext.Shape

	// FieldRule validates a single context key.
	FieldRule = fcontext.FieldRule

	// LogPrinter formats an internal event trace for human consumption.
	LogPrinter = logprinter.Printer
)

// NewLogPrinter creates a LogPrinter that writes to stdout.
func NewLogPrinter(prefix string) *LogPrinter { return logprinter.New(prefix) }

// Re-export registry kind constants.
const (
	KindAction     = registry.KindAction
	KindGuard      = registry.KindGuard
	KindCalculator = registry.KindCalculator
	KindEvent      = registry.KindEvent
	KindResult     = registry.KindResult
	KindContext    = registry.KindContext
)

// Re-export config state-type constants.
const (
	TypeAtomic   = config.TypeAtomic
	TypeCompound = config.TypeCompound
	TypeParallel = config.TypeParallel
	TypeFinal    = config.TypeFinal
)

// Re-export event-log tag constants.
const (
	MachineStart        = eventlog.MachineStart
	MachineFinish       = eventlog.MachineFinish
	StateEnter          = eventlog.StateEnter
	StateExit           = eventlog.StateExit
	StateEntryStart     = eventlog.StateEntryStart
	StateEntryFinish    = eventlog.StateEntryFinish
	StateExitStart      = eventlog.StateExitStart
	StateExitFinish     = eventlog.StateExitFinish
	ParallelRegionEnter = eventlog.ParallelRegionEnter
	ParallelDone        = eventlog.ParallelDone
	TransitionStart     = eventlog.TransitionStart
	TransitionFinish    = eventlog.TransitionFinish
	TransitionFail      = eventlog.TransitionFail
	ActionStart         = eventlog.ActionStart
	ActionFinish        = eventlog.ActionFinish
	GuardStart          = eventlog.GuardStart
	GuardPass           = eventlog.GuardPass
	GuardFail           = eventlog.GuardFail
	CalculatorStart     = eventlog.CalculatorStart
	CalculatorFinish    = eventlog.CalculatorFinish
	EventRaised         = eventlog.EventRaised
)

// NewRegistry creates an empty Behavior Registry.
func NewRegistry() *Registry { return registry.New() }

// NewEvent creates an Event with no payload.
func NewEvent(eventType string) Event { return fevent.New(eventType) }

// NewContextShape names a collection of context field rules.
func NewContextShape(name string, fields []FieldRule) *ContextShape {
	return &fcontext.Shape{Name: name, Fields: fields}
}

// Compile compiles a declarative configuration into an immutable
// Machine, resolving every behavior reference against reg.
func Compile(cfg *MachineConfig, reg *Registry) (*Machine, error) {
	return compiler.Compile(cfg, reg)
}

// LoadConfig decodes a YAML machine configuration document.
func LoadConfig(r io.Reader) (*MachineConfig, error) { return config.Load(r) }

// LoadConfigJSON decodes a JSON machine configuration document.
func LoadConfigJSON(r io.Reader) (*MachineConfig, error) { return config.LoadJSON(r) }

// InitialState builds the State a compiled Machine starts in.
func InitialState(m *Machine) (*State, error) {
	return engine.InitialState(m)
}

// Step advances state by one run-to-completion step in response to
// event. On success the returned State is independent of the one
// passed in; on error (e.g. NoTransitionForEventError) the step
// aborts and the input State is returned unchanged.
func Step(m *Machine, state *State, event Event) (*State, StepResult, error) {
	return engine.Step(m, state, event)
}

// CurrentValue returns the set of fully-qualified active leaf ids.
func CurrentValue(s *State) []string { return runtime.CurrentValue(s) }

// Matches reports whether path is, or is a descendant of, one of
// state's active leaves.
func Matches(s *State, path string) bool { return runtime.Matches(s, path) }

// EventNames returns the flat, sorted set of event names the compiled
// Machine reacts to anywhere in its hierarchy.
func EventNames(m *Machine) []string { return m.EventNames() }
