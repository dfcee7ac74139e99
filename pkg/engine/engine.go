// Package engine implements the Step Engine of spec sections 4.5 and
// 5: constructing the initial State, and advancing a State by one
// run-to-completion step in response to an event, including internal
// events raised along the way.
//
// Grounded on the teacher's StateMachineImpl.Fire/executeTransition
// (machine.go) for the overall exit/action/entry ordering, generalized
// from the teacher's single mutable machine to the handle-indexed,
// value-in/value-out definition.Machine and runtime.State.
package engine

import (
	"errors"
	"strings"

	"github.com/fluo-sh/fluo/pkg/config"
	"github.com/fluo-sh/fluo/pkg/definition"
	"github.com/fluo-sh/fluo/pkg/eventlog"
	"github.com/fluo-sh/fluo/pkg/fcontext"
	"github.com/fluo-sh/fluo/pkg/ferrors"
	"github.com/fluo-sh/fluo/pkg/fevent"
	"github.com/fluo-sh/fluo/pkg/queue"
	"github.com/fluo-sh/fluo/pkg/registry"
	"github.com/fluo-sh/fluo/pkg/runtime"
	"github.com/fluo-sh/fluo/pkg/selector"
)

// maxAlwaysIterations guards against a misconfigured machine whose
// @always transitions never settle.
const maxAlwaysIterations = 1000

// StepResult reports what one call to Step actually did, beyond the
// State it returns, per spec section 4.5's "observable outcome of a
// step" — whether the triggering event found a match at all, and
// whatever internal events it caused to be raised and processed.
type StepResult struct {
	Matched      bool
	EventType    string
	RaisedEvents []string
}

// InitialState builds the State a machine starts in: a fresh Context
// seeded from the Machine's declared defaults (and typed shape, if
// any), and entry into the initial leaf set computed from the root
// down (spec section 4.5.1).
func InitialState(m *definition.Machine) (*runtime.State, error) {
	var shape *fcontext.Shape
	if m.ContextShape != "" {
		shape, _ = m.Registry.ResolveContextShape(m.ContextShape)
	}
	ctx, err := fcontext.New(m.ContextDefaults, shape)
	if err != nil {
		return nil, err
	}

	st := &runtime.State{
		MachineID: m.ID,
		Delimiter: m.Delimiter,
		Context:   ctx,
		Log:       eventlog.NewLog(),
		History:   map[string]string{},
	}
	st.RootEventID = st.Log.RootEventID()

	ec := &exec{m: m, st: st, q: queue.New(), entered: map[definition.Handle]bool{}}
	st.Log.Append(eventlog.MachineStart, m.ID, nil, true)

	leaves := ec.resolveEntryLeaves(m.Root)
	if err := ec.enterChain(definition.NoHandle, ancestorChain(m, m.Root)); err != nil {
		return nil, err
	}
	for _, leaf := range leaves {
		if leaf == m.Root {
			continue
		}
		chain := ancestorChain(m, leaf)
		if err := ec.enterChain(m.Root, chain); err != nil {
			return nil, err
		}
	}
	ec.active = leafIDs(m, leaves)
	st.Active = ec.active

	if err := ec.settleAlways(); err != nil {
		return nil, err
	}
	if err := ec.drainQueue(); err != nil {
		return nil, err
	}
	st.Active = ec.active
	ec.checkFinish()

	return st, nil
}

// Step advances state by one run-to-completion step in response to
// event: it looks up a transition, arbitrates its branches, executes
// exit/action/entry in order, and drains every internal event raised
// along the way before returning (spec section 4.5.2, section 9 —
// queue lifetime scoped to a single step).
func Step(m *definition.Machine, state *runtime.State, event fevent.Event) (*runtime.State, StepResult, error) {
	st := state.Clone()
	ec := &exec{m: m, st: st, q: queue.New(), active: append([]string(nil), st.Active...), entered: map[definition.Handle]bool{}}

	matched, err := ec.fire(event)
	if err != nil {
		return state, StepResult{EventType: event.Type}, err
	}

	if err := ec.settleAlways(); err != nil {
		return state, StepResult{EventType: event.Type}, err
	}
	if err := ec.drainQueue(); err != nil {
		return state, StepResult{EventType: event.Type}, err
	}

	st.Active = ec.active
	ec.checkFinish()
	return st, StepResult{Matched: matched, EventType: event.Type, RaisedEvents: ec.raisedLog}, nil
}

// exec carries the mutable working state of one in-flight RTC step:
// the handles currently active, the event queue behaviors can raise
// into, and the state/log being built up.
type exec struct {
	m         *definition.Machine
	st        *runtime.State
	q         *queue.Queue
	active    []string
	raisedLog []string
	entered   map[definition.Handle]bool
}

func (ec *exec) activeHandles() []definition.Handle {
	out := make([]definition.Handle, 0, len(ec.active))
	for _, id := range ec.active {
		if h, ok := ec.m.Resolve(id); ok {
			out = append(out, h)
		}
	}
	return out
}

func (ec *exec) inputs(event fevent.Event) registry.Inputs {
	return registry.Inputs{
		Context: ec.st.Context,
		Event:   event,
		State:   ec.st,
		Raise:   ec.q.Raiser(),
	}
}

// fire looks up and arbitrates a transition for event across every
// active leaf, in declaration order, stopping at the first leaf whose
// ancestor chain declares one (spec section 4.4).
func (ec *exec) fire(event fevent.Event) (bool, error) {
	leaves := ec.activeHandles()
	for _, leaf := range leaves {
		found, ok := selector.FindTransition(ec.m, leaf, event.Type)
		if !ok {
			continue
		}
		ec.st.Log.Append(eventlog.TransitionStart, ec.m.States[found.OwnerID].ID, map[string]any{"event": event.Type}, true)
		matched, err := ec.arbitrate(found.Def, leaf, event)
		if err != nil {
			ec.st.Log.Append(eventlog.TransitionFail, ec.m.States[found.OwnerID].ID, map[string]any{"error": err.Error()}, true)
			return false, err
		}
		if matched {
			ec.st.Log.Append(eventlog.TransitionFinish, ec.m.States[found.OwnerID].ID, map[string]any{"event": event.Type}, true)
			return true, nil
		}
		ec.st.Log.Append(eventlog.TransitionFail, ec.m.States[found.OwnerID].ID, map[string]any{"reason": "no branch guard passed"}, true)
		return false, nil
	}

	// No active leaf's ancestor chain declares this event at all —
	// distinct from a declared transition whose branches all failed
	// their guards, which stays silent (spec section 7).
	stateID := ""
	if len(leaves) > 0 {
		stateID = ec.m.States[leaves[0]].ID
	}
	return false, ferrors.NewNoTransitionForEventError(stateID, event.Type)
}

// arbitrate runs a transition's branches in declared order: calculators
// always run, guards gate, and the first branch whose guards all pass
// is executed (spec section 4.4, "ordered branch arbitration").
func (ec *exec) arbitrate(td *definition.TransitionDef, source definition.Handle, event fevent.Event) (bool, error) {
	in := ec.inputs(event)
	for _, branch := range td.Branches {
		for _, calc := range branch.Calculators {
			ec.st.Log.Append(eventlog.CalculatorStart, calc.Name(), nil, false)
			if err := calc.InvokeCalculator(in); err != nil {
				return false, err
			}
			ec.st.Log.Append(eventlog.CalculatorFinish, calc.Name(), nil, false)
			if err := ec.st.Context.Validate(); err != nil {
				return false, err
			}
		}

		pass := true
		for _, guard := range branch.Guards {
			if err := ec.st.Context.RequireKeys(guard.RequiredContextKeys()); err != nil {
				return false, err
			}
			ec.st.Log.Append(eventlog.GuardStart, guard.Name(), nil, false)
			outcome, err := guard.InvokeGuard(in)
			if err != nil {
				return false, err
			}
			if !outcome.Pass {
				ec.st.Log.Append(eventlog.GuardFail, guard.Name(), map[string]any{guard.Name(): outcome.Message}, outcome.IsValidation || guard.ShouldLog())
				if outcome.IsValidation {
					return false, ferrors.NewValidationError(guard.Name(), outcome.Message)
				}
				pass = false
				break
			}
			ec.st.Log.Append(eventlog.GuardPass, guard.Name(), nil, false)
		}
		if !pass {
			continue
		}

		if err := ec.execBranch(branch, source, event, td); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// execBranch performs the exit/action/entry sequence for a matched
// branch (spec section 4.5.2, steps 4-7). A branch with no target is
// an internal transition: its actions run with no state change.
func (ec *exec) execBranch(branch definition.TransitionBranch, source definition.Handle, event fevent.Event, td *definition.TransitionDef) error {
	in := ec.inputs(event)

	if !branch.HasTarget {
		return ec.runActions(branch.Actions, in)
	}

	owner := td.Source
	lca := lowestCommonAncestor(ec.m, owner, branch.Target)

	exited := ec.exitDescendants(lca, in)

	if err := ec.runActions(branch.Actions, in); err != nil {
		return err
	}

	entryChain := chainBetween(ec.m, lca, branch.Target)
	if err := ec.enterChain(lca, entryChain); err != nil {
		return err
	}
	leaves := ec.resolveEntryLeaves(branch.Target)
	for _, leaf := range leaves {
		if leaf == branch.Target {
			continue
		}
		if err := ec.enterChain(branch.Target, chainBetween(ec.m, branch.Target, leaf)); err != nil {
			return err
		}
	}

	newActive := make([]string, 0, len(ec.active))
	exitedSet := map[string]bool{}
	for _, h := range exited {
		exitedSet[ec.m.States[h].ID] = true
	}
	for _, id := range ec.active {
		if !exitedSet[id] {
			newActive = append(newActive, id)
		}
	}
	newActive = append(newActive, leafIDs(ec.m, leaves)...)
	ec.active = newActive

	checked := map[definition.Handle]bool{}
	for _, leaf := range leaves {
		parent := ec.m.States[leaf].Parent
		if parent == definition.NoHandle || checked[parent] {
			continue
		}
		checked[parent] = true
		if err := ec.checkDone(parent); err != nil {
			return err
		}
	}
	return nil
}

// exitDescendants exits every currently active leaf that sits at or
// under boundary, deepest state first, running Exit actions along each
// leaf's chain up to (but not including) boundary. It returns the
// handles of every state exited so the caller can update Active.
func (ec *exec) exitDescendants(boundary definition.Handle, in registry.Inputs) []definition.Handle {
	var exited []definition.Handle
	for _, leafID := range ec.active {
		leaf, ok := ec.m.Resolve(leafID)
		if !ok || !ec.m.IsDescendantOrSelf(leaf, boundary) {
			continue
		}
		prev := leaf
		for cur := leaf; cur != boundary && cur != definition.NoHandle; cur = ec.m.States[cur].Parent {
			sd := &ec.m.States[cur]
			if cur != leaf && sd.Type == definition.Compound && sd.History != "" {
				if sd.History == config.HistoryDeep {
					ec.st.History[sd.ID] = leafID
				} else {
					ec.st.History[sd.ID] = ec.m.States[prev].ID
				}
			}
			prev = cur
			ec.st.Log.Append(eventlog.StateExitStart, sd.ID, nil, false)
			for _, act := range sd.Exit {
				ec.st.Log.Append(eventlog.ActionStart, act.Name(), nil, false)
				_ = act.InvokeAction(in)
				ec.st.Log.Append(eventlog.ActionFinish, act.Name(), nil, false)
			}
			ec.st.Log.Append(eventlog.StateExit, sd.ID, nil, true)
			ec.st.Log.Append(eventlog.StateExitFinish, sd.ID, nil, false)
			exited = append(exited, cur)
		}
	}
	return exited
}

// enterChain runs entry actions for every state in chain (excluding
// from, which is already active), root-to-leaf order.
func (ec *exec) enterChain(from definition.Handle, chain []definition.Handle) error {
	in := ec.inputs(fevent.Event{})
	for _, h := range chain {
		if h == from || ec.entered[h] {
			continue
		}
		ec.entered[h] = true
		sd := &ec.m.States[h]
		ec.st.Log.Append(eventlog.StateEntryStart, sd.ID, nil, false)
		for _, act := range sd.Entry {
			ec.st.Log.Append(eventlog.ActionStart, act.Name(), nil, false)
			if err := act.InvokeAction(in); err != nil {
				return err
			}
			ec.st.Log.Append(eventlog.ActionFinish, act.Name(), nil, false)
		}
		ec.st.Log.Append(eventlog.StateEnter, sd.ID, nil, true)
		ec.st.Log.Append(eventlog.StateEntryFinish, sd.ID, nil, false)
		if sd.Type == definition.Parallel {
			for _, region := range sd.Children {
				ec.st.Log.Append(eventlog.ParallelRegionEnter, ec.m.States[region].ID, nil, true)
			}
		}
	}
	return nil
}

func (ec *exec) runActions(actions []*registry.Binding, in registry.Inputs) error {
	for _, act := range actions {
		ec.st.Log.Append(eventlog.ActionStart, act.Name(), nil, false)
		if err := act.InvokeAction(in); err != nil {
			return err
		}
		ec.st.Log.Append(eventlog.ActionFinish, act.Name(), nil, false)
	}
	return nil
}

// checkDone walks up from the given state (the parent of a newly
// entered leaf) raising done.state.<id> for every
// compound ancestor whose single active child is now Final, and for
// every parallel ancestor all of whose regions have reached a Final
// leaf (spec section 4.5.3, completion).
func (ec *exec) checkDone(from definition.Handle) error {
	for cur := from; cur != definition.NoHandle; cur = ec.m.States[cur].Parent {
		sd := &ec.m.States[cur]
		switch sd.Type {
		case definition.Compound:
			child, ok := ec.activeChildOf(cur)
			if !ok || ec.m.States[child].Type != definition.Final {
				return nil
			}
		case definition.Parallel:
			for _, region := range sd.Children {
				child, ok := ec.activeChildOf(region)
				if !ok || ec.m.States[child].Type != definition.Final {
					return nil
				}
			}
			ec.st.Log.Append(eventlog.ParallelDone, sd.ID, nil, true)
		default:
			return nil
		}
		doneEvent := "done.state." + sd.ID
		ec.q.Raise(doneEvent, nil)
		ec.raisedLog = append(ec.raisedLog, doneEvent)
		ec.st.Log.Append(eventlog.EventRaised, doneEvent, nil, true)
	}
	return nil
}

// checkFinish emits MACHINE_FINISH once every currently active leaf is
// a Final state (spec section 4.5 step 5, scenario S2: "if the
// resulting state is final, emit MACHINE_FINISH").
func (ec *exec) checkFinish() {
	leaves := ec.activeHandles()
	if len(leaves) == 0 {
		return
	}
	for _, leaf := range leaves {
		if ec.m.States[leaf].Type != definition.Final {
			return
		}
	}
	ec.st.Log.Append(eventlog.MachineFinish, ec.m.ID, nil, true)
}

// activeChildOf returns the immediate child of parent that is an
// ancestor-or-self of whichever active leaf currently sits under it.
func (ec *exec) activeChildOf(parent definition.Handle) (definition.Handle, bool) {
	for _, id := range ec.active {
		h, ok := ec.m.Resolve(id)
		if !ok || !ec.m.IsDescendantOrSelf(h, parent) {
			continue
		}
		for cur := h; cur != definition.NoHandle; cur = ec.m.States[cur].Parent {
			if ec.m.States[cur].Parent == parent {
				return cur, true
			}
		}
	}
	return definition.NoHandle, false
}

// settleAlways repeatedly fires eventless @always transitions declared
// directly on any active leaf or its ancestors up to (not including)
// bubbling into siblings, until none apply (spec section 4.1, "always"
// transitions are evaluated to a fixed point after every step).
func (ec *exec) settleAlways() error {
	for i := 0; i < maxAlwaysIterations; i++ {
		fired := false
		for _, leaf := range ec.activeHandles() {
			for cur := leaf; cur != definition.NoHandle; cur = ec.m.States[cur].Parent {
				td, ok := selector.FindAlways(ec.m, cur)
				if !ok {
					continue
				}
				matched, err := ec.arbitrate(td, cur, fevent.Event{Type: "@always"})
				if err != nil {
					return err
				}
				if matched {
					fired = true
				}
				break
			}
			if fired {
				break
			}
		}
		if !fired {
			return nil
		}
	}
	return ferrors.NewInvariantViolationError("@always transitions did not settle")
}

// drainQueue processes every internal event raised during the step,
// strictly FIFO, feeding each back through fire/settleAlways until the
// queue (scoped to this single step only) is empty. A done.state.*
// completion event that no state handles is dropped; any other error
// aborts the step.
func (ec *exec) drainQueue() error {
	for {
		entry, ok := ec.q.Dequeue()
		if !ok {
			return nil
		}
		if _, err := ec.fire(fevent.Event{Type: entry.Type, Payload: entry.Payload}); err != nil {
			var noTransition *ferrors.NoTransitionForEventError
			if !errors.As(err, &noTransition) || !strings.HasPrefix(entry.Type, "done.state.") {
				return err
			}
		}
		if err := ec.settleAlways(); err != nil {
			return err
		}
	}
}

// ancestorChain returns h's chain from the machine root down to and
// including h.
func ancestorChain(m *definition.Machine, h definition.Handle) []definition.Handle {
	var rev []definition.Handle
	for cur := h; cur != definition.NoHandle; cur = m.States[cur].Parent {
		rev = append(rev, cur)
	}
	out := make([]definition.Handle, len(rev))
	for i, h := range rev {
		out[len(rev)-1-i] = h
	}
	return out
}

// chainBetween returns the chain from (excluding) ancestor down to
// (including) h.
func chainBetween(m *definition.Machine, ancestor, h definition.Handle) []definition.Handle {
	full := ancestorChain(m, h)
	for i, cur := range full {
		if cur == ancestor {
			return full[i+1:]
		}
	}
	return full
}

// lowestCommonAncestor returns the deepest state that is an ancestor
// (or is) both a and b.
func lowestCommonAncestor(m *definition.Machine, a, b definition.Handle) definition.Handle {
	ca := ancestorChain(m, a)
	idx := map[definition.Handle]int{}
	for i, h := range ca {
		idx[h] = i
	}
	for cur := b; cur != definition.NoHandle; cur = m.States[cur].Parent {
		if _, ok := idx[cur]; ok {
			return cur
		}
	}
	return definition.NoHandle
}

// resolveEntryLeaves descends from h the way definition.Machine.InitialLeaves
// does, except a compound state declaring history (spec section 6
// supplement) resumes its last-recorded child/leaf instead of its
// declared Initial, when one was recorded on a prior exit.
func (ec *exec) resolveEntryLeaves(h definition.Handle) []definition.Handle {
	sd := &ec.m.States[h]
	switch sd.Type {
	case definition.Atomic, definition.Final:
		return []definition.Handle{h}
	case definition.Compound:
		if sd.History != "" {
			if rec, ok := ec.st.History[sd.ID]; ok {
				if rh, ok := ec.m.Resolve(rec); ok && ec.m.IsDescendantOrSelf(rh, h) {
					if sd.History == config.HistoryDeep {
						return []definition.Handle{rh}
					}
					return ec.resolveEntryLeaves(rh)
				}
			}
		}
		child, ok := sd.ChildrenByKey[sd.Initial]
		if !ok {
			return []definition.Handle{h}
		}
		return ec.resolveEntryLeaves(child)
	case definition.Parallel:
		var leaves []definition.Handle
		for _, region := range sd.Children {
			leaves = append(leaves, ec.resolveEntryLeaves(region)...)
		}
		return leaves
	}
	return []definition.Handle{h}
}

func leafIDs(m *definition.Machine, leaves []definition.Handle) []string {
	out := make([]string, len(leaves))
	for i, h := range leaves {
		out[i] = m.States[h].ID
	}
	return out
}
