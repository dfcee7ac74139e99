// Package config defines the raw, serializable configuration tree that
// feeds the Definition Compiler (spec section 4.1). The shapes mirror
// _examples/comalice-statechartx/internal/primitives: a StateConfig
// with ID/Type/Initial/On/Entry/Exit/Children, and a per-branch
// TransitionConfig — adapted here to spec section 6's recognized
// per-state options and loaded through gopkg.in/yaml.v3 so a machine
// can be described as a nested mapping rather than built with Go code.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// StateType names a state node's structural kind, matching spec
// section 6: atomic (default), compound (implicit from having
// children), parallel, final.
type StateType string

const (
	TypeAtomic   StateType = "atomic"
	TypeCompound StateType = "compound"
	TypeParallel StateType = "parallel"
	TypeFinal    StateType = "final"
)

// History pseudostate kinds a compound state may declare, spec section
// 6 supplement: shallow restores only the immediate child active when
// the state was last exited; deep restores the exact leaf.
const (
	HistoryShallow = "shallow"
	HistoryDeep    = "deep"
)

// BehaviorRef is a raw "name" or "name:a,b,c" reference into the
// Behavior Registry.
type BehaviorRef string

// TransitionConfig is one branch of a transition: an optional target,
// ordered guards/calculators/actions, and a description (spec section
// 3, "Transition Branch").
type TransitionConfig struct {
	Target      string        `yaml:"target,omitempty" json:"target,omitempty"`
	Guards      []BehaviorRef `yaml:"guards,omitempty" json:"guards,omitempty"`
	Calculators []BehaviorRef `yaml:"calculators,omitempty" json:"calculators,omitempty"`
	Actions     []BehaviorRef `yaml:"actions,omitempty" json:"actions,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
}

// RawTransition holds the normalized branch list for one event entry.
// The source config may have supplied null (self, no target), a bare
// string (shorthand target), a single mapping, or a list of mappings.
// UnmarshalYAML turns the last three into Branches; a null entry under
// "on" is marked IsNull (by StateConfig.UnmarshalYAML) with no
// Branches, and the compiler makes it one branch with no target.
type RawTransition struct {
	IsNull   bool
	Branches []TransitionConfig
}

// UnmarshalYAML normalizes the four shapes spec section 6 allows for a
// transition value into a flat branch list.
func (t *RawTransition) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		t.IsNull = true
		return nil
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			t.IsNull = true
			return nil
		}
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		t.Branches = []TransitionConfig{{Target: s}}
		return nil
	case yaml.MappingNode:
		var tc TransitionConfig
		if err := value.Decode(&tc); err != nil {
			return err
		}
		t.Branches = []TransitionConfig{tc}
		return nil
	case yaml.SequenceNode:
		return value.Decode(&t.Branches)
	default:
		return fmt.Errorf("config: unsupported transition node kind %v", value.Kind)
	}
}

// StateConfig is one node of the declarative state tree (spec section
// 6). Children are kept in an ordered slice (ChildrenOrder) because map
// iteration order is not the insertion order the compiler needs for
// deterministic traversal (spec section 4.1, step 3) — UnmarshalYAML
// below rebuilds that order from the YAML document's own key order.
type StateConfig struct {
	ID            string                   `yaml:"id,omitempty" json:"id,omitempty"`
	Type          StateType                `yaml:"type,omitempty" json:"type,omitempty"`
	Initial       string                   `yaml:"initial,omitempty" json:"initial,omitempty"`
	States        map[string]*StateConfig  `yaml:"states,omitempty" json:"states,omitempty"`
	ChildrenOrder []string                 `yaml:"-" json:"-"`
	Entry         []BehaviorRef            `yaml:"entry,omitempty" json:"entry,omitempty"`
	Exit          []BehaviorRef            `yaml:"exit,omitempty" json:"exit,omitempty"`
	On            map[string]RawTransition `yaml:"on,omitempty" json:"on,omitempty"`
	Always        RawTransition            `yaml:"always,omitempty" json:"always,omitempty"`
	OnDone        RawTransition            `yaml:"onDone,omitempty" json:"onDone,omitempty"`
	History       string                   `yaml:"history,omitempty" json:"history,omitempty"`
	Meta          map[string]any           `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// UnmarshalYAML decodes a StateConfig the normal way, then walks the
// raw mapping node a second time to recover the declaration order of
// the "states" children.
func (s *StateConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain StateConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = StateConfig(p)

	// The decoder never hands a null node to RawTransition.UnmarshalYAML,
	// so null entries under "on" are marked here.
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value != "on" || s.On == nil {
			continue
		}
		onNode := value.Content[i+1]
		for j := 0; j+1 < len(onNode.Content); j += 2 {
			if onNode.Content[j+1].ShortTag() == "!!null" {
				s.On[onNode.Content[j].Value] = RawTransition{IsNull: true}
			}
		}
	}

	if s.States == nil {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "states" {
			statesNode := value.Content[i+1]
			for j := 0; j+1 < len(statesNode.Content); j += 2 {
				s.ChildrenOrder = append(s.ChildrenOrder, statesNode.Content[j].Value)
			}
		}
	}
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML's order-recovery trick using
// encoding/json's token stream instead of a yaml.Node.
func (s *StateConfig) UnmarshalJSON(data []byte) error {
	type plain StateConfig
	aux := struct {
		States json.RawMessage `json:"states,omitempty"`
		*plain
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.States) == 0 || string(aux.States) == "null" {
		return nil
	}
	var states map[string]*StateConfig
	if err := json.Unmarshal(aux.States, &states); err != nil {
		return err
	}
	s.States = states

	dec := json.NewDecoder(bytes.NewReader(aux.States))
	if _, err := dec.Token(); err != nil { // opening '{'
		return err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		s.ChildrenOrder = append(s.ChildrenOrder, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	return nil
}

// MachineConfig is the top-level document (spec section 6, "Machine-
// level config"). Its root behaves like a StateConfig (Type/Initial/
// States/On/...) in addition to the machine-wide fields.
type MachineConfig struct {
	ID               string                  `yaml:"id,omitempty" json:"id,omitempty"`
	Version          string                  `yaml:"version,omitempty" json:"version,omitempty"`
	Delimiter        string                  `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Context          map[string]any          `yaml:"context,omitempty" json:"context,omitempty"`
	ContextShape     string                  `yaml:"contextShape,omitempty" json:"contextShape,omitempty"`
	ScenariosEnabled bool                    `yaml:"scenariosEnabled,omitempty" json:"scenariosEnabled,omitempty"`
	Scenarios        map[string]*StateConfig `yaml:"scenarios,omitempty" json:"scenarios,omitempty"`
	Root             *StateConfig            `yaml:"-" json:"-"`
}

// UnmarshalYAML decodes the machine-wide fields and the embedded root
// state shape from the same mapping node.
func (m *MachineConfig) UnmarshalYAML(value *yaml.Node) error {
	type meta struct {
		ID               string                  `yaml:"id,omitempty"`
		Version          string                  `yaml:"version,omitempty"`
		Delimiter        string                  `yaml:"delimiter,omitempty"`
		Context          map[string]any          `yaml:"context,omitempty"`
		ContextShape     string                  `yaml:"contextShape,omitempty"`
		ScenariosEnabled bool                    `yaml:"scenariosEnabled,omitempty"`
		Scenarios        map[string]*StateConfig `yaml:"scenarios,omitempty"`
	}
	var mt meta
	if err := value.Decode(&mt); err != nil {
		return err
	}
	var root StateConfig
	if err := value.Decode(&root); err != nil {
		return err
	}
	m.ID, m.Version, m.Delimiter = mt.ID, mt.Version, mt.Delimiter
	m.Context, m.ContextShape = mt.Context, mt.ContextShape
	m.ScenariosEnabled, m.Scenarios = mt.ScenariosEnabled, mt.Scenarios
	m.Root = &root
	return nil
}

// UnmarshalJSON decodes the machine-wide fields and the embedded root
// state shape from the same JSON object.
func (m *MachineConfig) UnmarshalJSON(data []byte) error {
	type meta struct {
		ID               string                  `json:"id,omitempty"`
		Version          string                  `json:"version,omitempty"`
		Delimiter        string                  `json:"delimiter,omitempty"`
		Context          map[string]any          `json:"context,omitempty"`
		ContextShape     string                  `json:"contextShape,omitempty"`
		ScenariosEnabled bool                    `json:"scenariosEnabled,omitempty"`
		Scenarios        map[string]*StateConfig `json:"scenarios,omitempty"`
	}
	var mt meta
	if err := json.Unmarshal(data, &mt); err != nil {
		return err
	}
	var root StateConfig
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	m.ID, m.Version, m.Delimiter = mt.ID, mt.Version, mt.Delimiter
	m.Context, m.ContextShape = mt.Context, mt.ContextShape
	m.ScenariosEnabled, m.Scenarios = mt.ScenariosEnabled, mt.Scenarios
	m.Root = &root
	return nil
}

// Load decodes a YAML document into a MachineConfig.
func Load(r io.Reader) (*MachineConfig, error) {
	var cfg MachineConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return &cfg, nil
}

// LoadJSON decodes a JSON document into a MachineConfig using the
// stdlib encoding/json path (the teacher's machine.go already shapes
// its snapshot interchange this way).
func LoadJSON(r io.Reader) (*MachineConfig, error) {
	var cfg MachineConfig
	dec := json.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	return &cfg, nil
}
