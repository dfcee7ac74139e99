// Package definition implements the Machine Definition and State
// Definition of spec section 3: the compiled, immutable tree the
// Definition Compiler produces and the Step Engine drives.
//
// Grounded on design note 9 ("State/transition tree"): nodes live in a
// flat arena addressed by a compact integer Handle; cross-links
// (parent, children, transition targets) are handle-indexed rather
// than pointer cycles, so the whole Machine is trivially immutable and
// shareable once Compile returns.
package definition

import (
	"sort"

	"github.com/fluo-sh/fluo/pkg/registry"
)

// Handle addresses one StateDef within a Machine's arena.
type Handle int

// NoHandle marks the absence of a state reference (e.g. a root's
// parent, or a self-transition's target).
const NoHandle Handle = -1

// StateType is the structural kind of a state, spec section 3.
type StateType int

const (
	Atomic StateType = iota
	Compound
	Parallel
	Final
)

// TransitionBranch is one arbitrated option under a Transition, spec
// section 3. HasTarget distinguishes an explicit self-transition
// (branch present, no target — exit/entry do not re-fire) from a
// normal branch.
type TransitionBranch struct {
	Target      Handle
	HasTarget   bool
	Guards      []*registry.Binding
	Calculators []*registry.Binding
	Actions     []*registry.Binding
	Description string
}

// TransitionDef is a named reaction to an event at a state, spec
// section 3.
type TransitionDef struct {
	Source    Handle
	EventType string
	Branches  []TransitionBranch
	IsAlways  bool
}

// StateDef is one node of the compiled hierarchy, spec section 3.
type StateDef struct {
	Handle        Handle
	Key           string
	ID            string
	Parent        Handle
	Children      []Handle // insertion order
	ChildrenByKey map[string]Handle
	Type          StateType
	Entry         []*registry.Binding
	Exit          []*registry.Binding
	Transitions   map[string]*TransitionDef
	Always        *TransitionDef
	OnDone        *TransitionDef
	Initial       string // key of initial child, compound states only
	History       string // "", "shallow", or "deep" — compound states only
	Meta          map[string]any
}

// Machine is the compiled, immutable root produced by Compile. Shared
// and read-only for the lifetime of every State derived from it (spec
// section 3, "Machine Definition").
type Machine struct {
	ID            string
	Delimiter     string
	Version       string
	Root          Handle
	States        []StateDef
	ByID          map[string]Handle
	EventNamesSet map[string]struct{}
	Registry      *registry.Registry
	ContextShape  string
	ContextDefaults map[string]any
	Scenarios     map[string]Handle
}

// State returns the StateDef addressed by h.
func (m *Machine) State(h Handle) *StateDef {
	return &m.States[h]
}

// Resolve looks up a state by its fully-qualified id.
func (m *Machine) Resolve(id string) (Handle, bool) {
	h, ok := m.ByID[id]
	return h, ok
}

// EventNames returns the flat, sorted set of all user-visible event
// names a transition somewhere in the machine declares (spec section
// 3, "flat event-name set"). Internal pseudo-events (@always,
// done.state.*) are excluded.
func (m *Machine) EventNames() []string {
	out := make([]string, 0, len(m.EventNamesSet))
	for name := range m.EventNamesSet {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsDescendantOrSelf reports whether h is anc or nested under anc.
func (m *Machine) IsDescendantOrSelf(h, anc Handle) bool {
	for cur := h; cur != NoHandle; cur = m.States[cur].Parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// InitialLeaves descends through Initial children (and, for a parallel
// state, every region) starting at h, returning every resulting leaf
// handle in declaration order.
func (m *Machine) InitialLeaves(h Handle) []Handle {
	sd := &m.States[h]
	switch sd.Type {
	case Atomic, Final:
		return []Handle{h}
	case Compound:
		child, ok := sd.ChildrenByKey[sd.Initial]
		if !ok {
			return []Handle{h}
		}
		return m.InitialLeaves(child)
	case Parallel:
		var leaves []Handle
		for _, region := range sd.Children {
			leaves = append(leaves, m.InitialLeaves(region)...)
		}
		return leaves
	}
	return []Handle{h}
}

// ParallelAncestors returns every Parallel-type ancestor of h, nearest
// first.
func (m *Machine) ParallelAncestors(h Handle) []Handle {
	var out []Handle
	for cur := m.States[h].Parent; cur != NoHandle; cur = m.States[cur].Parent {
		if m.States[cur].Type == Parallel {
			out = append(out, cur)
		}
	}
	return out
}
