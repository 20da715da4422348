// Package plantuml renders a statechart definition as a PlantUML state
// diagram.
package plantuml

import (
	"fmt"
	"io"
	"strings"

	"github.com/stateforward/go-statechart/embedded"
	"github.com/stateforward/go-statechart/kinds"
)

func idFromQualifiedName(qualifiedName string) string {
	return strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(strings.TrimPrefix(qualifiedName, "#"))
}

type generator struct {
	builder  strings.Builder
	model    embedded.Model
	children map[string][]embedded.StateNode
}

func (g *generator) id(qualifiedName string) string {
	if qualifiedName == "" {
		return idFromQualifiedName(g.model.Id())
	}
	return idFromQualifiedName(qualifiedName)
}

func (g *generator) state(depth int, state embedded.StateNode) {
	id := g.id(state.QualifiedName())
	indent := strings.Repeat(" ", depth*2)
	children := g.children[state.QualifiedName()]
	if len(children) > 0 {
		fmt.Fprintf(&g.builder, "%sstate \"%s\" as %s {\n", indent, state.Name(), id)
		g.body(depth+1, state, children)
		fmt.Fprintf(&g.builder, "%s}\n", indent)
	} else {
		fmt.Fprintf(&g.builder, "%sstate \"%s\" as %s\n", indent, state.Name(), id)
	}
	for _, entry := range state.Entry() {
		fmt.Fprintf(&g.builder, "%s%s : entry / %s\n", indent, id, entry)
	}
	for _, exit := range state.Exit() {
		fmt.Fprintf(&g.builder, "%s%s : exit / %s\n", indent, id, exit)
	}
	for _, src := range state.Invocations() {
		fmt.Fprintf(&g.builder, "%s%s : invoke / %s\n", indent, id, src)
	}
	if kinds.IsKind(state.Kind(), kinds.Final) {
		fmt.Fprintf(&g.builder, "%s%s --> [*]\n", indent, id)
	}
}

func (g *generator) body(depth int, owner embedded.StateNode, children []embedded.StateNode) {
	indent := strings.Repeat(" ", depth*2)
	parallel := owner.Kind() == kinds.Parallel
	for i, child := range children {
		if parallel && i > 0 {
			fmt.Fprintf(&g.builder, "%s--\n", indent)
		}
		g.state(depth, child)
	}
	if initial := owner.Initial(); initial != "" && !parallel {
		fmt.Fprintf(&g.builder, "%s[*] --> %s\n", indent, idFromQualifiedName(join(owner.QualifiedName(), initial)))
	}
}

func (g *generator) transition(transition embedded.Transition) {
	source := g.id(transition.Source())
	label := strings.Join(transition.Events(), "|")
	if guard := transition.Guard(); guard != "" {
		label = fmt.Sprintf("%s [%s]", label, guard)
	}
	if actions := transition.Actions(); len(actions) > 0 {
		label = fmt.Sprintf("%s / %s", label, strings.Join(actions, ", "))
	}
	if transition.Kind() == kinds.Internal {
		fmt.Fprintf(&g.builder, "%s : %s\n", source, label)
		return
	}
	fmt.Fprintf(&g.builder, "%s --> %s : %s\n", source, g.id(transition.Target()), label)
}

func join(owner, id string) string {
	if owner == "" {
		return id
	}
	return owner + "." + id
}

// Generate writes the diagram of model to writer.
func Generate(writer io.Writer, model embedded.Model) error {
	g := &generator{model: model, children: map[string][]embedded.StateNode{}}
	members := model.Members()
	if len(members) == 0 {
		return fmt.Errorf("model %q has no root", model.Id())
	}
	for _, member := range members[1:] {
		g.children[member.Owner()] = append(g.children[member.Owner()], member)
	}
	fmt.Fprintf(&g.builder, "@startuml %s\n", idFromQualifiedName(model.Id()))
	g.state(0, members[0])
	for _, member := range members {
		for _, transition := range member.Transitions() {
			g.transition(transition)
		}
	}
	fmt.Fprintln(&g.builder, "@enduml")
	_, err := io.WriteString(writer, g.builder.String())
	return err
}
