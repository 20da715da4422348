// Package chartyaml loads statechart definitions from YAML documents.
//
// A document describes the root state:
//
//	id: player
//	initial: Idle
//	states:
//	  Idle:
//	    on:
//	      play: Playing
//	  Playing:
//	    entry: [startPlayback]
//	    on:
//	      stop:
//	        target: Idle
//	        guard: canStop
//	        actions: [stopPlayback]
//
// States and transitions keep the order in which they appear in the document.
package chartyaml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/stateforward/go-statechart"
)

var ErrSyntax = errors.New("chart syntax")

type options struct {
	implementations statechart.Implementations
	elements        []statechart.RedefinableElement
	stubs           bool
}

type Option func(*options)

// WithImplementations supplies the actions, guards and actors the document
// refers to by name.
func WithImplementations(implementations statechart.Implementations) Option {
	return func(options *options) {
		options.implementations = implementations
	}
}

// WithElements appends Go elements, such as Context or Output, to the root.
func WithElements(elements ...statechart.RedefinableElement) Option {
	return func(options *options) {
		options.elements = append(options.elements, elements...)
	}
}

// WithStubs resolves every name without an implementation to a placeholder:
// actions do nothing, guards never pass and actors are empty machines. It is
// meant for tools that only inspect the structure of a chart.
func WithStubs() Option {
	return func(options *options) {
		options.stubs = true
	}
}

type loader struct {
	actions []string
	guards  []string
	actors  []string
}

// Decode reads a whole document from reader and loads it.
func Decode(reader io.Reader, opts ...Option) (*statechart.Definition, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read chart: %w", err)
	}
	return Load(data, opts...)
}

// Load builds a definition from a YAML document.
func Load(data []byte, opts ...Option) (*statechart.Definition, error) {
	options := options{}
	for _, opt := range opts {
		opt(&options)
	}
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parse chart: %w", err)
	}
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrSyntax)
	}
	root := document.Content[0]
	id, err := rootID(root)
	if err != nil {
		return nil, err
	}
	l := &loader{}
	elements, err := l.state(root, true)
	if err != nil {
		return nil, err
	}
	implementations := options.implementations
	if options.stubs {
		implementations = l.stubs(implementations)
	}
	elements = append(elements, statechart.Provide(implementations))
	elements = append(elements, options.elements...)
	return statechart.Define(id, elements...)
}

func rootID(root *yaml.Node) (string, error) {
	if root.Kind != yaml.MappingNode {
		return "", syntaxf(root, "chart must be a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "id" {
			return scalar(root.Content[i+1])
		}
	}
	return "", syntaxf(root, "chart has no id")
}

func syntaxf(node *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, node.Line, fmt.Sprintf(format, args...))
}

func scalar(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", syntaxf(node, "expected a string")
	}
	return node.Value, nil
}

// list accepts a single string or a sequence of strings.
func list(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			value, err := scalar(item)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
		return values, nil
	}
	return nil, syntaxf(node, "expected a string or a list of strings")
}

func (l *loader) state(node *yaml.Node, root bool) ([]statechart.RedefinableElement, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, syntaxf(node, "state must be a mapping")
	}
	var elements []statechart.RedefinableElement
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "id":
			if !root {
				return nil, syntaxf(key, "id is only allowed on the chart")
			}
		case "type", "description":
		case "initial":
			initial, err := scalar(value)
			if err != nil {
				return nil, err
			}
			elements = append(elements, statechart.Initial(initial))
		case "entry", "exit":
			names, err := list(value)
			if err != nil {
				return nil, err
			}
			l.actions = append(l.actions, names...)
			if key.Value == "entry" {
				elements = append(elements, statechart.Entry(names...))
			} else {
				elements = append(elements, statechart.Exit(names...))
			}
		case "on":
			transitions, err := l.transitions(value)
			if err != nil {
				return nil, err
			}
			elements = append(elements, transitions...)
		case "invoke":
			invocations, err := l.invocations(value)
			if err != nil {
				return nil, err
			}
			elements = append(elements, invocations...)
		case "states":
			if value.Kind != yaml.MappingNode {
				return nil, syntaxf(value, "states must be a mapping")
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				child, err := l.child(value.Content[j], value.Content[j+1])
				if err != nil {
					return nil, err
				}
				elements = append(elements, child)
			}
		default:
			return nil, syntaxf(key, "unknown state field %q", key.Value)
		}
	}
	return elements, nil
}

func (l *loader) child(key, value *yaml.Node) (statechart.RedefinableElement, error) {
	id, err := scalar(key)
	if err != nil {
		return nil, err
	}
	elements, err := l.state(value, false)
	if err != nil {
		return nil, err
	}
	kind := ""
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "type" {
				kind = value.Content[i+1].Value
			}
		}
	}
	switch kind {
	case "", "atomic", "compound":
		return statechart.State(id, elements...), nil
	case "parallel":
		return statechart.Parallel(id, elements...), nil
	case "final":
		return statechart.Final(id, elements...), nil
	}
	return nil, syntaxf(value, "state %q has unknown type %q", id, kind)
}

func (l *loader) transitions(node *yaml.Node) ([]statechart.RedefinableElement, error) {
	if node.Kind != yaml.MappingNode {
		return nil, syntaxf(node, "on must be a mapping of events")
	}
	var elements []statechart.RedefinableElement
	for i := 0; i+1 < len(node.Content); i += 2 {
		event, err := scalar(node.Content[i])
		if err != nil {
			return nil, err
		}
		value := node.Content[i+1]
		candidates := []*yaml.Node{value}
		if value.Kind == yaml.SequenceNode {
			candidates = value.Content
		}
		for _, candidate := range candidates {
			transition, err := l.transition(candidate)
			if err != nil {
				return nil, err
			}
			elements = append(elements, statechart.On(event, transition...))
		}
	}
	return elements, nil
}

func (l *loader) transition(node *yaml.Node) ([]statechart.RedefinableElement, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []statechart.RedefinableElement{statechart.Target(node.Value)}, nil
	case yaml.MappingNode:
	default:
		return nil, syntaxf(node, "transition must be a target or a mapping")
	}
	var elements []statechart.RedefinableElement
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "target":
			target, err := scalar(value)
			if err != nil {
				return nil, err
			}
			elements = append(elements, statechart.Target(target))
		case "guard":
			guard, err := scalar(value)
			if err != nil {
				return nil, err
			}
			l.guards = append(l.guards, guard)
			elements = append(elements, statechart.Guard(guard))
		case "actions":
			names, err := list(value)
			if err != nil {
				return nil, err
			}
			l.actions = append(l.actions, names...)
			elements = append(elements, statechart.Actions(names...))
		case "description":
		default:
			return nil, syntaxf(key, "unknown transition field %q", key.Value)
		}
	}
	return elements, nil
}

func (l *loader) invocations(node *yaml.Node) ([]statechart.RedefinableElement, error) {
	candidates := []*yaml.Node{node}
	if node.Kind == yaml.SequenceNode {
		candidates = node.Content
	}
	var elements []statechart.RedefinableElement
	for _, candidate := range candidates {
		var invoke struct {
			Src      string `yaml:"src"`
			ID       string `yaml:"id"`
			SystemID string `yaml:"systemId"`
		}
		if err := candidate.Decode(&invoke); err != nil {
			return nil, syntaxf(candidate, "invalid invoke: %v", err)
		}
		if invoke.Src == "" {
			return nil, syntaxf(candidate, "invoke needs a src")
		}
		var opts []statechart.SpawnOption
		if invoke.ID != "" {
			opts = append(opts, statechart.WithName(invoke.ID))
		}
		if invoke.SystemID != "" {
			opts = append(opts, statechart.WithSystemID(invoke.SystemID))
		}
		l.actors = append(l.actors, invoke.Src)
		elements = append(elements, statechart.Invoke(invoke.Src, opts...))
	}
	return elements, nil
}

func (l *loader) stubs(implementations statechart.Implementations) statechart.Implementations {
	stubbed := statechart.Implementations{
		Actions: map[string]statechart.ActionFunc{},
		Guards:  map[string]statechart.GuardFunc{},
		Actors:  map[string]*statechart.Definition{},
	}
	for _, name := range slices.Compact(slices.Sorted(slices.Values(l.actions))) {
		if fn, ok := implementations.Actions[name]; ok {
			stubbed.Actions[name] = fn
			continue
		}
		stubbed.Actions[name] = func(context.Context, statechart.Scope, statechart.Event) (statechart.Effect, error) {
			return nil, nil
		}
	}
	for _, name := range l.guards {
		if fn, ok := implementations.Guards[name]; ok {
			stubbed.Guards[name] = fn
			continue
		}
		stubbed.Guards[name] = func(any, statechart.Event) bool { return false }
	}
	for _, name := range l.actors {
		if definition, ok := implementations.Actors[name]; ok {
			stubbed.Actors[name] = definition
			continue
		}
		stubbed.Actors[name] = statechart.MustDefine(name)
	}
	return stubbed
}
