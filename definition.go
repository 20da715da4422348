package statechart

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"runtime"
	"slices"
	"strings"

	"github.com/stateforward/go-statechart/embedded"
	"github.com/stateforward/go-statechart/kinds"
	"github.com/stateforward/go-statechart/pkg/set"
)

/******* StateNode *******/

// StateNode is one node of a Definition. Nodes are addressed by a dotted path
// from the root; the root itself has the empty path.
type StateNode struct {
	kind        uint64
	id          string
	path        string
	parent      *StateNode
	children    []*StateNode
	initial     string
	transitions []*Transition
	entry       []*action
	exit        []*action
	invocations []*invocation
	order       int
	depth       int
}

func (node *StateNode) Kind() uint64 {
	if node == nil {
		return kinds.Null
	}
	return node.kind
}

// Id returns the identifier of the node, unique among its siblings.
func (node *StateNode) Id() string {
	if node == nil {
		return ""
	}
	return node.id
}

func (node *StateNode) Name() string {
	return node.Id()
}

// QualifiedName returns the dotted path of the node.
func (node *StateNode) QualifiedName() string {
	if node == nil {
		return ""
	}
	return node.path
}

func (node *StateNode) Path() string {
	return node.QualifiedName()
}

func (node *StateNode) Owner() string {
	if node == nil || node.parent == nil {
		return ""
	}
	return node.parent.path
}

func (node *StateNode) Parent() *StateNode {
	return node.parent
}

func (node *StateNode) Children() []*StateNode {
	return slices.Clone(node.children)
}

func (node *StateNode) Initial() string {
	return node.initial
}

func (node *StateNode) Entry() []string {
	return names(node.entry)
}

func (node *StateNode) Exit() []string {
	return names(node.exit)
}

func (node *StateNode) Invocations() []string {
	srcs := make([]string, 0, len(node.invocations))
	for _, invocation := range node.invocations {
		srcs = append(srcs, invocation.src)
	}
	return srcs
}

func (node *StateNode) Transitions() []embedded.Transition {
	transitions := make([]embedded.Transition, 0, len(node.transitions))
	for _, transition := range node.transitions {
		transitions = append(transitions, transition)
	}
	return transitions
}

// IsFinal reports whether the node is a final state.
func (node *StateNode) IsFinal() bool {
	return kinds.IsKind(node.kind, kinds.Final)
}

func (node *StateNode) isParallel() bool {
	return node.kind == kinds.Parallel
}

// isCompound reports whether the node descends into exactly one child. The
// root is compound as soon as it has children.
func (node *StateNode) isCompound() bool {
	return kinds.IsKind(node.kind, kinds.Compound) && len(node.children) > 0
}

func (node *StateNode) child(id string) *StateNode {
	for _, child := range node.children {
		if child.id == id {
			return child
		}
	}
	return nil
}

// isAncestorOf reports whether node is a proper ancestor of other.
func (node *StateNode) isAncestorOf(other *StateNode) bool {
	for current := other.parent; current != nil; current = current.parent {
		if current == node {
			return true
		}
	}
	return false
}

/******* Transition *******/

// Transition reacts to events matching its descriptor while its source is
// active.
type Transition struct {
	kind    uint64
	event   string
	source  *StateNode
	target  *StateNode
	ref     string
	guard   *guard
	actions []*action
	domain  *StateNode
	index   int
}

func (transition *Transition) Kind() uint64 {
	if transition == nil {
		return kinds.Null
	}
	return transition.kind
}

func (transition *Transition) Id() string {
	return fmt.Sprintf("%s.on.%s[%d]", transition.source.path, transition.event, transition.index)
}

func (transition *Transition) Name() string {
	return transition.event
}

func (transition *Transition) QualifiedName() string {
	return transition.Id()
}

func (transition *Transition) Owner() string {
	return transition.source.path
}

func (transition *Transition) Events() []string {
	return []string{transition.event}
}

func (transition *Transition) Source() string {
	return transition.source.path
}

// Target returns the resolved target path, or the empty string for a
// targetless transition.
func (transition *Transition) Target() string {
	if transition.target == nil {
		return ""
	}
	return transition.target.path
}

func (transition *Transition) Guard() string {
	if transition.guard == nil {
		return ""
	}
	return transition.guard.name
}

func (transition *Transition) Actions() []string {
	return names(transition.actions)
}

/******* Behavior *******/

type action struct {
	name string
	fn   ActionFunc
}

type guard struct {
	name string
	fn   GuardFunc
}

type invocation struct {
	src        string
	options    spawnOptions
	definition *Definition
	node       *StateNode
}

func names(actions []*action) []string {
	result := make([]string, 0, len(actions))
	for _, action := range actions {
		result = append(result, action.name)
	}
	return result
}

func getFunctionName(fn any) string {
	if fn == nil {
		return ""
	}
	return path.Base(runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name())
}

/******* Definition *******/

// RedefinableElement is a partial definition applied against the definition
// under construction. The stack holds the enclosing elements, innermost last.
type RedefinableElement = func(definition *Definition, stack []embedded.Element) embedded.Element

// Definition is the immutable description of a statechart. It is built once
// by Define and may back any number of interpreters.
type Definition struct {
	root            *StateNode
	nodes           map[string]*StateNode
	ordered         []*StateNode
	implementations Implementations
	context         func(ctx context.Context, scope Scope, input any) (any, error)
	output          func(context any, event Event) any
	elements        []RedefinableElement
	errs            []error
}

// Define builds and validates a definition. Every problem found is reported
// in the returned error, which wraps ErrInvalidDefinition.
func Define(id string, elements ...RedefinableElement) (*Definition, error) {
	definition := &Definition{
		root:  &StateNode{kind: kinds.Machine, id: id},
		nodes: map[string]*StateNode{},
	}
	definition.nodes[""] = definition.root
	stack := []embedded.Element{definition.root}
	apply(definition, stack, elements...)
	definition.structure()
	for len(definition.elements) > 0 {
		elements := definition.elements
		definition.elements = nil
		apply(definition, stack, elements...)
	}
	if len(definition.errs) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidDefinition, id, errors.Join(definition.errs...))
	}
	return definition, nil
}

// MustDefine is like Define but panics on an invalid definition.
func MustDefine(id string, elements ...RedefinableElement) *Definition {
	definition, err := Define(id, elements...)
	if err != nil {
		panic(err)
	}
	return definition
}

func apply(definition *Definition, stack []embedded.Element, partials ...RedefinableElement) {
	for _, partial := range partials {
		partial(definition, stack)
	}
}

// Push queues an element to be applied once the node tree is complete.
func (definition *Definition) Push(partial RedefinableElement) {
	definition.elements = append(definition.elements, partial)
}

func (definition *Definition) errorf(format string, args ...any) {
	definition.errs = append(definition.errs, fmt.Errorf(format, args...))
}

func (definition *Definition) Kind() uint64 {
	return kinds.Machine
}

func (definition *Definition) Id() string {
	return definition.root.id
}

func (definition *Definition) Name() string {
	return definition.root.id
}

func (definition *Definition) QualifiedName() string {
	return ""
}

func (definition *Definition) Owner() string {
	return ""
}

// Root returns the root node.
func (definition *Definition) Root() *StateNode {
	return definition.root
}

// Resolve returns the node at the dotted path.
func (definition *Definition) Resolve(path string) (*StateNode, bool) {
	node, ok := definition.nodes[strings.TrimPrefix(path, "#")]
	return node, ok
}

// Nodes returns every node in document order, root first.
func (definition *Definition) Nodes() []*StateNode {
	return slices.Clone(definition.ordered)
}

// Members exposes the nodes through the read-only element interfaces.
func (definition *Definition) Members() []embedded.StateNode {
	members := make([]embedded.StateNode, 0, len(definition.ordered))
	for _, node := range definition.ordered {
		members = append(members, node)
	}
	return members
}

// InitialConfiguration returns the configuration Start settles in before any
// raised event is processed.
func (definition *Definition) InitialConfiguration() Configuration {
	entries := set.New[*StateNode]()
	definition.descend(definition.root, entries)
	return configuration(entries)
}

// descend adds node and its default descendants to entries.
func (definition *Definition) descend(node *StateNode, entries set.Set[*StateNode]) {
	entries.Add(node)
	switch {
	case node.isParallel():
		for _, child := range node.children {
			if !containsDescendant(entries, child) {
				definition.descend(child, entries)
			}
		}
	case node.isCompound():
		definition.descend(node.child(node.initial), entries)
	}
}

// ascend adds the proper ancestors of node below domain, completing any
// parallel ancestor with the default entry of its other regions.
func (definition *Definition) ascend(node, domain *StateNode, entries set.Set[*StateNode]) {
	for ancestor := node.parent; ancestor != nil && ancestor != domain; ancestor = ancestor.parent {
		entries.Add(ancestor)
		if !ancestor.isParallel() {
			continue
		}
		for _, child := range ancestor.children {
			if !containsDescendant(entries, child) {
				definition.descend(child, entries)
			}
		}
	}
}

func containsDescendant(entries set.Set[*StateNode], node *StateNode) bool {
	if entries.Contains(node) {
		return true
	}
	for entry := range entries.Items() {
		if node.isAncestorOf(entry) {
			return true
		}
	}
	return false
}

// structure assigns kinds, paths order and default initial children once the
// tree is complete.
func (definition *Definition) structure() {
	definition.ordered = definition.ordered[:0]
	var walk func(node *StateNode, depth int)
	walk = func(node *StateNode, depth int) {
		node.order = len(definition.ordered)
		node.depth = depth
		definition.ordered = append(definition.ordered, node)
		switch {
		case node.kind == kinds.Machine, kinds.IsKind(node.kind, kinds.Final):
		case node.isParallel():
			if len(node.children) == 0 {
				definition.errorf("parallel state %q has no regions", node.path)
			}
			if node.initial != "" {
				definition.errorf("parallel state %q cannot declare an initial state", node.path)
			}
		case len(node.children) > 0:
			node.kind = kinds.Compound
		default:
			node.kind = kinds.Atomic
		}
		if node.isCompound() {
			if node.initial == "" {
				node.initial = node.children[0].id
			} else if node.child(node.initial) == nil {
				definition.errorf("initial state %q is not a child of %q", node.initial, node.path)
				node.initial = node.children[0].id
			}
		} else if node.initial != "" && !node.isParallel() {
			definition.errorf("state %q has no children to start in %q", node.path, node.initial)
		}
		// exact descriptors are tried before wildcards, each group in declaration order
		slices.SortStableFunc(node.transitions, func(a, b *Transition) int {
			switch wa, wb := isWildcard(a.event), isWildcard(b.event); {
			case wa == wb:
				return 0
			case wb:
				return -1
			}
			return 1
		})
		for _, child := range node.children {
			walk(child, depth+1)
		}
	}
	walk(definition.root, 0)
}

// resolveTarget resolves a target reference declared on source. A leading '#'
// is absolute, a leading '.' is relative to the source and anything else is
// looked up among the source's siblings before falling back to the root.
func (definition *Definition) resolveTarget(source *StateNode, ref string) (*StateNode, error) {
	var candidates []string
	switch {
	case strings.HasPrefix(ref, "#"):
		candidates = append(candidates, ref[1:])
	case strings.HasPrefix(ref, "."):
		candidates = append(candidates, join(source.path, ref[1:]))
	default:
		if source.parent != nil {
			candidates = append(candidates, join(source.parent.path, ref))
		}
		candidates = append(candidates, ref)
	}
	for _, candidate := range candidates {
		if node, ok := definition.nodes[candidate]; ok {
			return node, nil
		}
	}
	return nil, fmt.Errorf("state %q targets unknown state %q", source.path, ref)
}

func (definition *Definition) resolveTransition(transition *Transition) {
	source := transition.source
	if transition.ref == "" {
		transition.kind = kinds.Internal
		return
	}
	target, err := definition.resolveTarget(source, transition.ref)
	if err != nil {
		definition.errs = append(definition.errs, err)
		return
	}
	if target == definition.root {
		definition.errorf("transition %q on %q cannot target the machine", transition.event, source.path)
		return
	}
	transition.target = target
	switch {
	case target == source:
		transition.kind = kinds.Self
	case source.isAncestorOf(target) && kinds.IsKind(source.kind, kinds.Compound):
		transition.kind = kinds.Local
	default:
		transition.kind = kinds.External
	}
	transition.domain = transition.computeDomain()
}

// computeDomain returns the innermost non-parallel node that is a proper
// ancestor of both ends, or the source itself for a local transition.
func (transition *Transition) computeDomain() *StateNode {
	if transition.kind == kinds.Local {
		return transition.source
	}
	for ancestor := transition.source.parent; ancestor != nil; ancestor = ancestor.parent {
		if ancestor.isParallel() {
			continue
		}
		if ancestor.isAncestorOf(transition.target) {
			return ancestor
		}
	}
	return nil
}

func (definition *Definition) resolveAction(action *action, where string) {
	if action.fn != nil {
		return
	}
	fn, ok := definition.implementations.Actions[action.name]
	if !ok || fn == nil {
		definition.errorf("%s references unknown action %q", where, action.name)
		return
	}
	action.fn = fn
}

func join(base, id string) string {
	if base == "" {
		return id
	}
	if id == "" {
		return base
	}
	return base + "." + id
}

func find(stack []embedded.Element, maybeKinds ...uint64) embedded.Element {
	for i := len(stack) - 1; i >= 0; i-- {
		if kinds.IsKind(stack[i].Kind(), maybeKinds...) {
			return stack[i]
		}
	}
	return nil
}

/******* Elements *******/

func state(kind uint64, id string, partialElements ...RedefinableElement) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		owner, ok := find(stack, kinds.StateNode).(*StateNode)
		if !ok {
			definition.errorf("state %q must be declared within Define or a state", id)
			return nil
		}
		if id == "" || strings.ContainsAny(id, ".#") {
			definition.errorf("state %q in %q has an invalid id", id, owner.path)
			return nil
		}
		if owner.IsFinal() {
			definition.errorf("final state %q cannot have children", owner.path)
			return nil
		}
		if owner.isParallel() && kinds.IsKind(kind, kinds.Final) {
			definition.errorf("parallel state %q cannot have a final region %q", owner.path, id)
			return nil
		}
		if owner.child(id) != nil {
			definition.errorf("state %q is declared twice in %q", id, owner.path)
			return nil
		}
		node := &StateNode{kind: kind, id: id, path: join(owner.path, id), parent: owner}
		owner.children = append(owner.children, node)
		definition.nodes[node.path] = node
		apply(definition, append(stack, node), partialElements...)
		return node
	}
}

// State declares a child state. It is atomic unless it declares children.
func State(id string, partialElements ...RedefinableElement) RedefinableElement {
	return state(kinds.Atomic, id, partialElements...)
}

// Parallel declares a state whose children are all active together.
func Parallel(id string, partialElements ...RedefinableElement) RedefinableElement {
	return state(kinds.Parallel, id, partialElements...)
}

// Final declares a final state. Entering it completes its parent.
func Final(id string, partialElements ...RedefinableElement) RedefinableElement {
	return state(kinds.Final, id, partialElements...)
}

// Initial names the child a compound state starts in. The first child is used
// when no initial state is declared.
func Initial(id string) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		owner, ok := find(stack, kinds.StateNode).(*StateNode)
		if !ok {
			definition.errorf("initial %q must be declared within Define or a state", id)
			return nil
		}
		if owner.initial != "" {
			definition.errorf("state %q declares more than one initial state", owner.path)
			return nil
		}
		owner.initial = id
		return owner
	}
}

// On declares a transition on the enclosing state for events matching the
// descriptor. A '*' in the descriptor matches any run of characters.
func On(event string, partialElements ...RedefinableElement) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		owner, ok := find(stack, kinds.StateNode).(*StateNode)
		if !ok {
			definition.errorf("transition %q must be declared within Define or a state", event)
			return nil
		}
		if event == "" {
			definition.errorf("transition on %q has an empty event descriptor", owner.path)
			return nil
		}
		if owner.IsFinal() {
			definition.errorf("final state %q cannot have transitions", owner.path)
			return nil
		}
		transition := &Transition{
			kind:   kinds.Transition,
			event:  event,
			source: owner,
			index:  len(owner.transitions),
		}
		owner.transitions = append(owner.transitions, transition)
		apply(definition, append(stack, transition), partialElements...)
		definition.Push(func(definition *Definition, stack []embedded.Element) embedded.Element {
			definition.resolveTransition(transition)
			where := fmt.Sprintf("transition %q on %q", event, owner.path)
			for _, action := range transition.actions {
				definition.resolveAction(action, where)
			}
			if transition.guard != nil && transition.guard.fn == nil {
				fn, ok := definition.implementations.Guards[transition.guard.name]
				if !ok || fn == nil {
					definition.errorf("%s references unknown guard %q", where, transition.guard.name)
				}
				transition.guard.fn = fn
			}
			return transition
		})
		return transition
	}
}

// OnDone declares a transition taken when the enclosing state completes.
func OnDone(partialElements ...RedefinableElement) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		owner, ok := find(stack, kinds.StateNode).(*StateNode)
		if !ok || owner.parent == nil {
			definition.errorf("done transition must be declared within a state")
			return nil
		}
		return On(DoneStatePrefix+owner.path, partialElements...)(definition, stack)
	}
}

// Target sets the target of the enclosing transition.
func Target(ref string) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		transition, ok := find(stack, kinds.Transition).(*Transition)
		if !ok {
			definition.errorf("target %q must be declared within a transition", ref)
			return nil
		}
		if transition.ref != "" {
			definition.errorf("transition %q on %q declares more than one target", transition.event, transition.source.path)
			return nil
		}
		transition.ref = ref
		return transition
	}
}

// Guard gates the enclosing transition. It accepts a registered guard name or
// a guard function.
func Guard[T interface {
	~string | ~func(context any, event Event) bool
}](nameOrFunc T) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		transition, ok := find(stack, kinds.Transition).(*Transition)
		if !ok {
			definition.errorf("guard must be declared within a transition")
			return nil
		}
		if transition.guard != nil {
			definition.errorf("transition %q on %q declares more than one guard", transition.event, transition.source.path)
			return nil
		}
		switch value := any(nameOrFunc).(type) {
		case string:
			transition.guard = &guard{name: value}
		case GuardFunc:
			transition.guard = &guard{name: getFunctionName(value), fn: value}
		case func(context any, event Event) bool:
			transition.guard = &guard{name: getFunctionName(value), fn: value}
		default:
			definition.errorf("transition %q on %q has an unsupported guard %T", transition.event, transition.source.path, value)
		}
		return transition
	}
}

type actionRef interface {
	~string | ~func(ctx context.Context, scope Scope, event Event) (Effect, error)
}

func toActions[T actionRef](values []T) ([]*action, error) {
	actions := make([]*action, 0, len(values))
	for _, value := range values {
		switch value := any(value).(type) {
		case string:
			actions = append(actions, &action{name: value})
		case ActionFunc:
			actions = append(actions, &action{name: getFunctionName(value), fn: value})
		case func(ctx context.Context, scope Scope, event Event) (Effect, error):
			actions = append(actions, &action{name: getFunctionName(value), fn: value})
		default:
			return nil, fmt.Errorf("unsupported action %T", value)
		}
	}
	return actions, nil
}

// Actions appends actions to the enclosing transition. Each value is either a
// registered action name or an ActionFunc.
func Actions[T actionRef](values ...T) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		transition, ok := find(stack, kinds.Transition).(*Transition)
		if !ok {
			definition.errorf("actions must be declared within a transition")
			return nil
		}
		actions, err := toActions(values)
		if err != nil {
			definition.errorf("transition %q on %q: %w", transition.event, transition.source.path, err)
			return nil
		}
		transition.actions = append(transition.actions, actions...)
		return transition
	}
}

func behavior[T actionRef](step string, values []T) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		owner, ok := find(stack, kinds.StateNode).(*StateNode)
		if !ok {
			definition.errorf("%s must be declared within Define or a state", step)
			return nil
		}
		actions, err := toActions(values)
		if err != nil {
			definition.errorf("%s of %q: %w", step, owner.path, err)
			return nil
		}
		if step == "entry" {
			owner.entry = append(owner.entry, actions...)
		} else {
			owner.exit = append(owner.exit, actions...)
		}
		definition.Push(func(definition *Definition, stack []embedded.Element) embedded.Element {
			for _, action := range actions {
				definition.resolveAction(action, fmt.Sprintf("%s of %q", step, owner.path))
			}
			return owner
		})
		return owner
	}
}

// Entry appends actions run when the enclosing state is entered.
func Entry[T actionRef](values ...T) RedefinableElement {
	return behavior("entry", values)
}

// Exit appends actions run when the enclosing state is exited.
func Exit[T actionRef](values ...T) RedefinableElement {
	return behavior("exit", values)
}

// Invoke spawns an actor from the registered definition src while the
// enclosing state is active. The child is named src unless WithName is given.
func Invoke(src string, opts ...SpawnOption) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		owner, ok := find(stack, kinds.StateNode).(*StateNode)
		if !ok {
			definition.errorf("invoke %q must be declared within Define or a state", src)
			return nil
		}
		invocation := &invocation{src: src, node: owner, options: spawnOptions{name: src}}
		for _, opt := range opts {
			opt(&invocation.options)
		}
		for _, other := range owner.invocations {
			if other.options.name == invocation.options.name {
				definition.errorf("state %q invokes %q twice", owner.path, invocation.options.name)
				return nil
			}
		}
		owner.invocations = append(owner.invocations, invocation)
		definition.Push(func(definition *Definition, stack []embedded.Element) embedded.Element {
			child, ok := definition.implementations.Actors[src]
			if !ok || child == nil {
				definition.errorf("state %q invokes unknown actor %q", owner.path, src)
				return owner
			}
			invocation.definition = child
			return owner
		})
		return owner
	}
}

func root(definition *Definition, stack []embedded.Element, what string) bool {
	if owner, ok := find(stack, kinds.StateNode).(*StateNode); !ok || owner != definition.root {
		definition.errorf("%s must be declared at the top level of Define", what)
		return false
	}
	return true
}

// Context sets the factory computing the initial context from the input given
// to Start. Without it the input itself becomes the context.
func Context(fn func(ctx context.Context, scope Scope, input any) (any, error)) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		if root(definition, stack, "context") {
			definition.context = fn
		}
		return definition
	}
}

// Output sets the mapping computed once when the machine reaches a top level
// final state.
func Output(fn func(context any, event Event) any) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		if root(definition, stack, "output") {
			definition.output = fn
		}
		return definition
	}
}

// Provide registers named actions, guards and actor definitions. Names are
// resolved once the whole definition has been applied.
func Provide(implementations Implementations) RedefinableElement {
	return func(definition *Definition, stack []embedded.Element) embedded.Element {
		if root(definition, stack, "implementations") {
			definition.implementations.merge(implementations)
		}
		return definition
	}
}
