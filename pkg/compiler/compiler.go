// Package compiler implements the Definition Compiler of spec section
// 4.1: it walks a declarative config.MachineConfig depth-first and
// emits an immutable *definition.Machine, resolving every transition
// target and behavior reference and validating the structural
// invariants of spec section 3.
//
// Grounded on the teacher's CompositeStateImpl.AddSubstate /
// WithInitialState parent-linking pattern (state.go), adapted from an
// interface tree to the handle arena of pkg/definition.
package compiler

import (
	"fmt"
	"strings"

	"github.com/fluo-sh/fluo/pkg/config"
	"github.com/fluo-sh/fluo/pkg/definition"
	"github.com/fluo-sh/fluo/pkg/ferrors"
	"github.com/fluo-sh/fluo/pkg/registry"
)

// build tracks per-compile state the definition.Machine itself doesn't
// need to keep around afterward: the original config node behind each
// handle, needed for the second pass that resolves transitions only
// after every state in the tree has a handle.
type build struct {
	machine *definition.Machine
	reg     *registry.Registry
	cfgs    map[definition.Handle]*config.StateConfig
}

// Compile turns cfg into an immutable Machine Definition, resolving
// behavior and event-class references against reg. reg may be nil, in
// which case an empty registry is used. A behavior reference that does
// not resolve fails compilation with a CompilationError whose detail
// carries the BehaviorNotFoundError message.
func Compile(cfg *config.MachineConfig, reg *registry.Registry) (*definition.Machine, error) {
	if cfg == nil || cfg.Root == nil {
		return nil, ferrors.NewCompilationError("empty-config", "", "machine config has no root state")
	}
	if reg == nil {
		reg = registry.New()
	}

	delim := cfg.Delimiter
	if delim == "" {
		delim = "."
	}
	id := cfg.ID
	if id == "" {
		id = "machine"
	}

	m := &definition.Machine{
		ID:              id,
		Delimiter:       delim,
		Version:         cfg.Version,
		ByID:            map[string]definition.Handle{},
		EventNamesSet:   map[string]struct{}{},
		Registry:        reg,
		ContextShape:    cfg.ContextShape,
		ContextDefaults: cfg.Context,
		Scenarios:       map[string]definition.Handle{},
	}
	b := &build{machine: m, reg: reg, cfgs: map[definition.Handle]*config.StateConfig{}}

	rootHandle, err := b.buildTree(definition.NoHandle, id, cfg.Root, id)
	if err != nil {
		return nil, err
	}
	m.Root = rootHandle

	if cfg.ScenariosEnabled {
		for name, scfg := range cfg.Scenarios {
			h, err := b.buildTree(definition.NoHandle, name, scfg, id+delim+name)
			if err != nil {
				return nil, err
			}
			m.Scenarios[name] = h
		}
	}

	for h, scfg := range b.cfgs {
		if err := b.buildTransitions(h, scfg); err != nil {
			return nil, err
		}
	}

	if err := b.validate(rootHandle); err != nil {
		return nil, err
	}

	return m, nil
}

// buildTree is pass 1: depth-first structural build with no
// transitions yet, since target resolution needs the whole tree.
func (b *build) buildTree(parent definition.Handle, key string, cfg *config.StateConfig, id string) (definition.Handle, error) {
	if cfg.ID != "" {
		id = cfg.ID
	}

	typ := inferType(cfg)

	sd := definition.StateDef{
		Key:           key,
		ID:            id,
		Parent:        parent,
		Type:          typ,
		ChildrenByKey: map[string]definition.Handle{},
		Initial:       cfg.Initial,
		History:       cfg.History,
		Meta:          cfg.Meta,
	}

	entryActions, err := b.resolveActions(cfg.Entry)
	if err != nil {
		return definition.NoHandle, err
	}
	exitActions, err := b.resolveActions(cfg.Exit)
	if err != nil {
		return definition.NoHandle, err
	}
	sd.Entry = entryActions
	sd.Exit = exitActions

	handle := definition.Handle(len(b.machine.States))
	b.machine.States = append(b.machine.States, sd)
	b.machine.ByID[id] = handle
	b.cfgs[handle] = cfg

	for _, key := range cfg.ChildrenOrder {
		childCfg, ok := cfg.States[key]
		if !ok {
			continue
		}
		childHandle, err := b.buildTree(handle, key, childCfg, id+b.machine.Delimiter+key)
		if err != nil {
			return definition.NoHandle, err
		}
		b.machine.States[handle].Children = append(b.machine.States[handle].Children, childHandle)
		b.machine.States[handle].ChildrenByKey[key] = childHandle
	}

	return handle, nil
}

func inferType(cfg *config.StateConfig) definition.StateType {
	switch cfg.Type {
	case config.TypeFinal:
		return definition.Final
	case config.TypeParallel:
		return definition.Parallel
	case config.TypeCompound:
		return definition.Compound
	case config.TypeAtomic:
		return definition.Atomic
	}
	if len(cfg.ChildrenOrder) > 0 {
		return definition.Compound
	}
	return definition.Atomic
}

func (b *build) resolveActions(refs []config.BehaviorRef) ([]*registry.Binding, error) {
	out := make([]*registry.Binding, 0, len(refs))
	for _, ref := range refs {
		bd, err := b.reg.ResolveAction(string(ref))
		if err != nil {
			return nil, ferrors.NewCompilationError("unresolved-action", "", err.Error())
		}
		out = append(out, bd)
	}
	return out, nil
}

func (b *build) resolveGuards(refs []config.BehaviorRef) ([]*registry.Binding, error) {
	out := make([]*registry.Binding, 0, len(refs))
	for _, ref := range refs {
		bd, err := b.reg.ResolveGuard(string(ref))
		if err != nil {
			return nil, ferrors.NewCompilationError("unresolved-guard", "", err.Error())
		}
		out = append(out, bd)
	}
	return out, nil
}

func (b *build) resolveCalculators(refs []config.BehaviorRef) ([]*registry.Binding, error) {
	out := make([]*registry.Binding, 0, len(refs))
	for _, ref := range refs {
		bd, err := b.reg.ResolveCalculator(string(ref))
		if err != nil {
			return nil, ferrors.NewCompilationError("unresolved-calculator", "", err.Error())
		}
		out = append(out, bd)
	}
	return out, nil
}

// buildTransitions is pass 2: every state now has a handle, so branch
// targets can be resolved by nearest-ancestor scoping (spec section
// 4.1, step 6).
func (b *build) buildTransitions(h definition.Handle, cfg *config.StateConfig) error {
	m := b.machine
	sd := &m.States[h]

	if sd.Type == definition.Final {
		if len(cfg.On) > 0 || len(cfg.Always.Branches) > 0 || len(cfg.OnDone.Branches) > 0 {
			return ferrors.NewCompilationError("invalid-final-state", sd.ID, "final states may not declare transitions")
		}
		return nil
	}

	sd.Transitions = map[string]*definition.TransitionDef{}

	for key, raw := range cfg.On {
		eventType := key
		if resolved, ok := b.reg.ResolveEventClass(key); ok {
			eventType = resolved
		}
		if raw.IsNull && len(raw.Branches) == 0 {
			raw.Branches = []config.TransitionConfig{{}}
		}
		td, err := b.buildTransitionDef(h, eventType, raw.Branches, false)
		if err != nil {
			return err
		}
		sd.Transitions[eventType] = td
		m.EventNamesSet[eventType] = struct{}{}
	}

	if len(cfg.Always.Branches) > 0 {
		td, err := b.buildTransitionDef(h, "@always", cfg.Always.Branches, true)
		if err != nil {
			return err
		}
		sd.Always = td
	}

	if len(cfg.OnDone.Branches) > 0 {
		doneEvent := "done.state." + sd.ID
		td, err := b.buildTransitionDef(h, doneEvent, cfg.OnDone.Branches, false)
		if err != nil {
			return err
		}
		sd.OnDone = td
		sd.Transitions[doneEvent] = td
	}

	return nil
}

func (b *build) buildTransitionDef(source definition.Handle, eventType string, branches []config.TransitionConfig, isAlways bool) (*definition.TransitionDef, error) {
	td := &definition.TransitionDef{Source: source, EventType: eventType, IsAlways: isAlways}
	for _, bc := range branches {
		branch := definition.TransitionBranch{Description: bc.Description}
		if bc.Target != "" {
			target, err := b.resolveTarget(source, bc.Target)
			if err != nil {
				return nil, err
			}
			branch.Target = target
			branch.HasTarget = true
		} else {
			branch.Target = definition.NoHandle
			branch.HasTarget = false
		}
		guards, err := b.resolveGuards(bc.Guards)
		if err != nil {
			return nil, err
		}
		calcs, err := b.resolveCalculators(bc.Calculators)
		if err != nil {
			return nil, err
		}
		actions, err := b.resolveActions(bc.Actions)
		if err != nil {
			return nil, err
		}
		branch.Guards, branch.Calculators, branch.Actions = guards, calcs, actions
		td.Branches = append(td.Branches, branch)
	}
	if len(td.Branches) == 0 {
		return nil, ferrors.NewCompilationError("empty-transition", "", fmt.Sprintf("event %q has no branches", eventType))
	}
	return td, nil
}

// resolveTarget implements spec section 4.1 step 6: nearest-ancestor
// scoping, with an absolute path (machine id prefix) bypassing it.
func (b *build) resolveTarget(source definition.Handle, target string) (definition.Handle, error) {
	m := b.machine
	if target == m.ID || strings.HasPrefix(target, m.ID+m.Delimiter) {
		if h, ok := m.ByID[target]; ok {
			return h, nil
		}
		return definition.NoHandle, ferrors.NewCompilationError("no-state-definition-found", m.States[source].ID, "target "+target+" does not resolve")
	}

	for anc := source; ; {
		cand := m.States[anc].ID + m.Delimiter + target
		if h, ok := m.ByID[cand]; ok {
			return h, nil
		}
		if m.States[anc].Parent == definition.NoHandle {
			break
		}
		anc = m.States[anc].Parent
	}
	cand := m.ID + m.Delimiter + target
	if h, ok := m.ByID[cand]; ok {
		return h, nil
	}
	return definition.NoHandle, ferrors.NewCompilationError("no-state-definition-found", m.States[source].ID, "target "+target+" does not resolve")
}

// validate checks the structural invariants of spec section 3: every
// parallel state has no initial and at least one compound child; every
// compound state's initial names an existing child.
func (b *build) validate(root definition.Handle) error {
	m := b.machine
	for h := range m.States {
		sd := &m.States[definition.Handle(h)]
		switch sd.Type {
		case definition.Parallel:
			if sd.Initial != "" {
				return ferrors.NewCompilationError("invalid-parallel-state", sd.ID, "parallel states may not declare initial")
			}
			if len(sd.Children) == 0 {
				return ferrors.NewCompilationError("invalid-parallel-state", sd.ID, "parallel states need at least one region")
			}
			for _, c := range sd.Children {
				if m.States[c].Type != definition.Compound {
					return ferrors.NewCompilationError("invalid-parallel-state", sd.ID, "every region must be a compound state with its own initial")
				}
			}
		case definition.Compound:
			if sd.Initial == "" {
				return ferrors.NewCompilationError("invalid-compound-state", sd.ID, "compound states require initial")
			}
			if _, ok := sd.ChildrenByKey[sd.Initial]; !ok {
				return ferrors.NewCompilationError("invalid-compound-state", sd.ID, "initial "+sd.Initial+" is not a child")
			}
			if sd.History != "" && sd.History != config.HistoryShallow && sd.History != config.HistoryDeep {
				return ferrors.NewCompilationError("invalid-compound-state", sd.ID, "history must be \"shallow\" or \"deep\"")
			}
		default:
			if sd.History != "" {
				return ferrors.NewCompilationError("invalid-history", sd.ID, "only compound states may declare history")
			}
		}
	}
	return nil
}
