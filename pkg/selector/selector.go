// Package selector implements the Transition Selector of spec section
// 4.4: given an active leaf and an event type, find the nearest
// enclosing state (the leaf itself or an ancestor) that declares a
// transition for it. Branch arbitration (calculators, guards, and
// logging) is left to the Step Engine, which is the only component
// that also needs to write Internal Event Records for each candidate
// it tries — keeping that here would mean evaluating guards twice.
//
// Grounded on the teacher's StateMachineImpl.findTransition ancestor
// walk (machine.go), adapted from the teacher's pointer-chained
// *CompositeStateImpl.Parent() walk to the handle-indexed
// definition.Machine arena.
package selector

import "github.com/fluo-sh/fluo/pkg/definition"

// Found is the result of a successful lookup: the transition
// definition and the state that declared it, which may be an ancestor
// of the leaf the search started from.
type Found struct {
	Def     *definition.TransitionDef
	OwnerID definition.Handle
}

// FindTransition bubbles from leaf up through its ancestors, returning
// the first state that declares a transition for eventType: the search
// starts at the leaf itself and stops at the first state that declares
// the event, so a closer declaration always shadows a farther one.
func FindTransition(m *definition.Machine, leaf definition.Handle, eventType string) (Found, bool) {
	for cur := leaf; cur != definition.NoHandle; cur = m.States[cur].Parent {
		sd := &m.States[cur]
		if sd.Transitions == nil {
			continue
		}
		if td, ok := sd.Transitions[eventType]; ok {
			return Found{Def: td, OwnerID: cur}, true
		}
	}
	return Found{}, false
}

// FindAlways returns state's own @always transition, if declared. Spec
// section 4.1 scopes eventless transitions to the declaring state only
// — they do not bubble like ordinary events.
func FindAlways(m *definition.Machine, h definition.Handle) (*definition.TransitionDef, bool) {
	sd := &m.States[h]
	if sd.Always == nil {
		return nil, false
	}
	return sd.Always, true
}
