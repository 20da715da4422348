// Package embedded holds the read-only views of definition elements used by
// packages that inspect a definition without depending on the engine.
package embedded

type Element interface {
	Kind() uint64
	Id() string
}

type NamedElement interface {
	Element
	Owner() string
	QualifiedName() string
	Name() string
}

type Transition interface {
	NamedElement
	Source() string
	Target() string
	Guard() string
	Actions() []string
	Events() []string
}

type StateNode interface {
	NamedElement
	Initial() string
	Entry() []string
	Exit() []string
	Invocations() []string
	Transitions() []Transition
}

// Model is a whole definition. Members lists every state node in document
// order, starting with the root.
type Model interface {
	NamedElement
	Members() []StateNode
}
