// Package visualization renders a compiled Machine Definition as a
// Graphviz DOT graph, for inspecting the transition graph the compiler
// produced rather than the declarative config that fed it.
//
// Adapted from the teacher's DOTGenerator/SVGGenerator (visualization/
// dot.go), which walked its own MachineDefinition/State/Transition
// interfaces; this version walks the handle-indexed definition.Machine
// arena instead.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fluo-sh/fluo/pkg/definition"
)

// DOTOptions configures the DOT generation.
type DOTOptions struct {
	RankDirection string // "TB", "LR", "BT", "RL"
	NodeShape     string
}

// DefaultDOTOptions returns sensible default options for DOT generation.
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{RankDirection: "TB", NodeShape: "box"}
}

// DOTGenerator generates Graphviz DOT representations of a compiled
// Machine.
type DOTGenerator struct {
	machine *definition.Machine
	options DOTOptions
}

// NewDOTGenerator creates a DOT generator for the given compiled Machine.
func NewDOTGenerator(m *definition.Machine, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &DOTGenerator{machine: m, options: opts}
}

// Generate creates a DOT representation of the machine.
func (g *DOTGenerator) Generate() (string, error) {
	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString("  node [shape=box];\n")
	dot.WriteString("  edge [fontsize=10];\n\n")

	g.generateStates(&dot)
	g.generateTransitions(&dot)

	dot.WriteString("}\n")
	return dot.String(), nil
}

func (g *DOTGenerator) generateStates(dot *strings.Builder) {
	dot.WriteString("  // States\n")
	for h := range g.machine.States {
		sd := &g.machine.States[definition.Handle(h)]
		style, fill := g.options.NodeShape, "lightblue"
		label := sd.ID
		if definition.Handle(h) == g.machine.Root {
			fill = "lightgreen"
		}
		switch sd.Type {
		case definition.Final:
			style, fill = "doublecircle", "lightcoral"
		case definition.Parallel:
			fill = "lavender"
			label += "\\n[parallel]"
		case definition.Compound:
			fill = "lightcyan"
		}
		dot.WriteString(fmt.Sprintf("  \"%s\" [shape=%s style=\"filled\" fillcolor=%s label=\"%s\"];\n",
			sd.ID, style, fill, label))
	}
}

func (g *DOTGenerator) generateTransitions(dot *strings.Builder) {
	dot.WriteString("  // Transitions\n")
	for h := range g.machine.States {
		sd := &g.machine.States[definition.Handle(h)]
		for eventType, td := range sd.Transitions {
			for _, branch := range td.Branches {
				if !branch.HasTarget {
					continue
				}
				target := &g.machine.States[branch.Target]
				dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%s\"];\n", sd.ID, target.ID, eventType))
			}
		}
	}
}

// GenerateToFile writes the DOT representation to a file.
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator renders a Machine to SVG by shelling out to Graphviz.
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates an SVG generator for the given compiled Machine.
func NewSVGGenerator(m *definition.Machine, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{dotGenerator: NewDOTGenerator(m, options...)}
}

// Generate creates an SVG representation of the machine.
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}
	return out.String(), nil
}

// GenerateSVG is a convenience method on DOTGenerator for callers that
// only hold a DOTGenerator.
func (g *DOTGenerator) GenerateSVG() (string, error) {
	return (&SVGGenerator{dotGenerator: g}).Generate()
}
