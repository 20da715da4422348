package statechart

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/stateforward/go-statechart/clock"
	"github.com/stateforward/go-statechart/kinds"
	"github.com/stateforward/go-statechart/pkg/set"
	"github.com/stateforward/go-statechart/queue"
)

// Status is the lifecycle stage of an interpreter.
type Status uint8

const (
	StatusIdle Status = iota
	StatusActive
	StatusDone
	StatusStopped
)

func (status Status) String() string {
	switch status {
	case StatusActive:
		return "active"
	case StatusDone:
		return "done"
	case StatusStopped:
		return "stopped"
	}
	return "idle"
}

// Trace is invoked around each step of the engine. The returned function is
// called when the step ends, with the step's error if it failed.
type Trace func(ctx context.Context, step string, data ...any) (context.Context, func(...any))

// Snapshot is a point-in-time copy of an interpreter's observable state.
type Snapshot struct {
	Status        Status        `json:"status"`
	Configuration Configuration `json:"configuration"`
	Context       any           `json:"context,omitempty"`
	Output        any           `json:"output,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Matches reports whether the state at path is active.
func (snapshot Snapshot) Matches(path string) bool {
	return snapshot.Configuration.Matches(path)
}

// host is the actor side of an interpreter: it receives what the interpreter
// defers until the end of a macrostep.
type host interface {
	scope() Scope
	deliver(ctx context.Context, sent Sent)
	invoke(ctx context.Context, invocation *invocation)
	revoke(ctx context.Context, invocation *invocation)
	finished(ctx context.Context, output any)
}

// Interpreter runs one instance of a Definition. It is not safe for
// concurrent use; Actor serializes access to it.
type Interpreter struct {
	definition *Definition
	active     set.Set[*StateNode]
	context    any
	status     Status
	output     any
	reported   bool
	processing bool
	internal   *queue.Queue[Event]
	external   []Event
	outbox     []Sent
	spawns     []*invocation
	revokes    []*invocation
	host       host
	emitter    *Emitter
	trace      Trace
	logger     *slog.Logger
	clock      clock.Clock
}

// NewInterpreter creates an idle interpreter for definition.
func NewInterpreter(definition *Definition, opts ...Option) *Interpreter {
	options := newOptions(opts...)
	return &Interpreter{
		definition: definition,
		active:     set.New[*StateNode](),
		internal:   queue.New[Event](0),
		emitter:    NewEmitter(),
		trace:      options.trace,
		logger:     options.logger.With("machine", definition.Id()),
		clock:      options.clock,
	}
}

func (i *Interpreter) span(ctx context.Context, step string, data ...any) (context.Context, func(...any)) {
	if i.trace == nil {
		return ctx, func(...any) {}
	}
	return i.trace(ctx, step, data...)
}

// Start computes the initial context and configuration and runs the entry
// actions of every initial state, outermost first.
func (i *Interpreter) Start(ctx context.Context, input any) (Configuration, error) {
	if i.status != StatusIdle {
		return i.Configuration(), ErrAlreadyStarted
	}
	ctx, end := i.span(ctx, "start", i.definition.Id())
	err := i.start(ctx, input)
	end(err)
	if err != nil {
		i.active.Clear()
		i.internal.Clear()
		i.reset()
		i.status = StatusIdle
		return nil, err
	}
	i.flush(ctx)
	return i.Configuration(), nil
}

func (i *Interpreter) start(ctx context.Context, input any) error {
	i.context = input
	if factory := i.definition.context; factory != nil {
		value, err := factory(ctx, i.scope(), input)
		if err != nil {
			return fmt.Errorf("context of %q: %w", i.definition.Id(), err)
		}
		i.context = value
	}
	i.status = StatusActive
	entries := set.New[*StateNode]()
	i.definition.descend(i.definition.root, entries)
	if err := i.enter(ctx, NewEvent(InitEvent, input), entries); err != nil {
		return err
	}
	return i.settle(ctx)
}

// Send processes event to completion, together with every event it raises.
// An event no active state handles leaves the interpreter unchanged. When an
// action fails the configuration is restored to what it was before the
// event, while context patches of actions that had already completed stay.
func (i *Interpreter) Send(ctx context.Context, event Event) (Configuration, error) {
	switch i.status {
	case StatusIdle:
		return nil, ErrNotStarted
	case StatusStopped:
		return nil, ErrStopped
	case StatusDone:
		return i.Configuration(), nil
	}
	i.external = append(i.external, event)
	// sends from inside an action or subscriber are queued
	if i.processing {
		return i.Configuration(), nil
	}
	i.processing = true
	defer func() { i.processing = false }()
	for len(i.external) > 0 && i.status == StatusActive {
		event := i.external[0]
		i.external = i.external[1:]
		if err := i.macrostep(ctx, event); err != nil {
			i.external = nil
			return i.Configuration(), err
		}
		i.flush(ctx)
	}
	i.external = nil
	return i.Configuration(), nil
}

func (i *Interpreter) macrostep(ctx context.Context, event Event) error {
	ctx, end := i.span(ctx, "send", event.Type, event.Data)
	active := i.active.Clone()
	status, output := i.status, i.output
	err := i.microstep(ctx, event)
	if err == nil {
		err = i.settle(ctx)
	}
	end(err)
	if err != nil {
		i.active = active
		i.status, i.output = status, output
		i.internal.Clear()
		i.reset()
		return err
	}
	return nil
}

// settle processes raised events until none are left.
func (i *Interpreter) settle(ctx context.Context) error {
	for i.status == StatusActive {
		event, ok := i.internal.Pop()
		if !ok {
			return nil
		}
		if err := i.microstep(ctx, event); err != nil {
			return err
		}
	}
	i.internal.Clear()
	return nil
}

func (i *Interpreter) microstep(ctx context.Context, event Event) error {
	transitions := i.enabledTransitions(ctx, event)
	if len(transitions) == 0 {
		return nil
	}
	return i.fire(ctx, event, transitions)
}

// enabledTransitions walks up from every active leaf, in document order, and
// keeps the innermost enabled transition of each.
func (i *Interpreter) enabledTransitions(ctx context.Context, event Event) []*Transition {
	var enabled []*Transition
	for _, leaf := range i.leaves() {
		// a completed region only reacts to its own completion
		restricted := ""
		if leaf.IsFinal() && leaf.parent != nil {
			restricted = DoneStatePrefix + leaf.parent.path
		}
		for node := leaf; node != nil; node = node.parent {
			if restricted != "" && (node == leaf || node == leaf.parent) && event.Type != restricted {
				continue
			}
			if transition := i.enabled(ctx, node, event); transition != nil {
				if !slices.Contains(enabled, transition) {
					enabled = append(enabled, transition)
				}
				break
			}
		}
	}
	return i.resolveConflicts(enabled)
}

func (i *Interpreter) enabled(ctx context.Context, node *StateNode, event Event) *Transition {
	for _, transition := range node.transitions {
		if transition.event != event.Type && !(isWildcard(transition.event) && Match(event.Type, transition.event)) {
			continue
		}
		if transition.guard == nil || i.evaluate(ctx, transition.guard, event) {
			return transition
		}
	}
	return nil
}

func (i *Interpreter) evaluate(ctx context.Context, guard *guard, event Event) bool {
	_, end := i.span(ctx, "evaluate", guard.name)
	ok := guard.fn(i.context, event)
	end(ok)
	return ok
}

// resolveConflicts drops transitions whose exit sets intersect an earlier
// one. A transition whose source is a descendant of the earlier source
// replaces it.
func (i *Interpreter) resolveConflicts(enabled []*Transition) []*Transition {
	var filtered []*Transition
	for _, candidate := range enabled {
		exits := i.exitSet(candidate)
		preempted := false
		var replaced []*Transition
		for _, other := range filtered {
			if !exits.Intersects(i.exitSet(other)) {
				continue
			}
			if other.source.isAncestorOf(candidate.source) {
				replaced = append(replaced, other)
				continue
			}
			preempted = true
			break
		}
		if preempted {
			continue
		}
		filtered = slices.DeleteFunc(filtered, func(transition *Transition) bool {
			return slices.Contains(replaced, transition)
		})
		filtered = append(filtered, candidate)
	}
	return filtered
}

func (i *Interpreter) exitSet(transition *Transition) set.Set[*StateNode] {
	exits := set.New[*StateNode]()
	if transition.domain == nil {
		return exits
	}
	for node := range i.active.Items() {
		if transition.domain.isAncestorOf(node) {
			exits.Add(node)
		}
	}
	return exits
}

func (i *Interpreter) fire(ctx context.Context, event Event, transitions []*Transition) error {
	exits := set.New[*StateNode]()
	for _, transition := range transitions {
		exits = exits.Union(i.exitSet(transition))
	}
	ordered := exits.Sorted(byOrder)
	slices.Reverse(ordered)
	for _, node := range ordered {
		if err := i.exit(ctx, node, event); err != nil {
			return err
		}
	}
	entries := set.New[*StateNode]()
	for _, transition := range transitions {
		ctx, end := i.span(ctx, "transition", transition.Id())
		for _, action := range transition.actions {
			if err := i.execute(ctx, action, event); err != nil {
				end(err)
				return err
			}
		}
		end()
		if transition.target != nil {
			i.definition.descend(transition.target, entries)
			i.definition.ascend(transition.target, transition.domain, entries)
		}
	}
	return i.enter(ctx, event, entries)
}

func (i *Interpreter) exit(ctx context.Context, node *StateNode, event Event) error {
	ctx, end := i.span(ctx, "exit", node.path)
	for _, action := range node.exit {
		if err := i.execute(ctx, action, event); err != nil {
			end(err)
			return err
		}
	}
	for _, invocation := range node.invocations {
		i.cancel(invocation)
	}
	i.active.Remove(node)
	end()
	return nil
}

func (i *Interpreter) enter(ctx context.Context, event Event, entries set.Set[*StateNode]) error {
	for _, node := range entries.Sorted(byOrder) {
		ctx, end := i.span(ctx, "enter", node.path)
		i.active.Add(node)
		for _, action := range node.entry {
			if err := i.execute(ctx, action, event); err != nil {
				end(err)
				return err
			}
		}
		i.spawns = append(i.spawns, node.invocations...)
		if node.IsFinal() {
			i.complete(node, event)
		}
		end()
	}
	return nil
}

// complete raises the done events caused by entering the final state node.
func (i *Interpreter) complete(node *StateNode, event Event) {
	parent := node.parent
	if parent == i.definition.root {
		i.status = StatusDone
		if i.definition.output != nil {
			i.output = i.definition.output(i.context, event)
		}
		return
	}
	i.raise(DoneState(parent.path, nil))
	for ancestor := parent.parent; ancestor != nil && ancestor.isParallel() && i.inFinalState(ancestor); ancestor = ancestor.parent {
		i.raise(DoneState(ancestor.path, nil))
	}
}

func (i *Interpreter) inFinalState(node *StateNode) bool {
	switch {
	case node.isParallel():
		for _, child := range node.children {
			if !i.inFinalState(child) {
				return false
			}
		}
		return true
	case node.isCompound():
		for _, child := range node.children {
			if child.IsFinal() && i.active.Contains(child) {
				return true
			}
		}
	}
	return false
}

func (i *Interpreter) raise(event Event) {
	// raised events bypass the capacity check
	_ = i.internal.Push(event.raised())
}

func (i *Interpreter) cancel(invocation *invocation) {
	if index := slices.Index(i.spawns, invocation); index >= 0 {
		i.spawns = slices.Delete(i.spawns, index, index+1)
		return
	}
	i.revokes = append(i.revokes, invocation)
}

func (i *Interpreter) execute(ctx context.Context, action *action, event Event) error {
	ctx, end := i.span(ctx, "execute", action.name)
	effect, err := action.fn(ctx, i.scope(), event)
	var pending staged
	if err == nil {
		err = pending.add(effect)
	}
	if err == nil {
		i.commit(&pending)
	}
	end(err)
	if err != nil {
		return fmt.Errorf("action %q: %w", action.name, err)
	}
	return nil
}

// staged holds the effects of one action until all of them are accepted.
type staged struct {
	patched bool
	context any
	effects []Effect
}

func (s *staged) add(effect Effect) error {
	switch effect := effect.(type) {
	case nil:
	case Patch:
		s.patched, s.context = true, effect.Context
	case Emitted, Sent, Raised:
		s.effects = append(s.effects, effect)
	case Effects:
		for _, effect := range effect {
			if err := s.add(effect); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported effect %T (%s)", effect, kinds.Name(effect.Kind()))
	}
	return nil
}

// commit applies the patch first so that subscribers observe it.
func (i *Interpreter) commit(pending *staged) {
	if pending.patched {
		i.context = pending.context
	}
	for _, effect := range pending.effects {
		switch effect := effect.(type) {
		case Emitted:
			i.emitter.Emit(effect.Event.stamped())
		case Sent:
			i.outbox = append(i.outbox, effect)
		case Raised:
			i.raise(effect.Event)
		}
	}
}

func (i *Interpreter) reset() {
	i.outbox = nil
	i.spawns = nil
	i.revokes = nil
}

// flush hands the work deferred during a macrostep to the host. Without a
// host only events sent to self are kept.
func (i *Interpreter) flush(ctx context.Context) {
	outbox, spawns, revokes := i.outbox, i.spawns, i.revokes
	i.reset()
	if i.host == nil {
		for _, sent := range outbox {
			if sent.To.kind == toSelf {
				i.external = append(i.external, sent.Event)
				continue
			}
			i.logger.Warn("dropped event, interpreter has no actor system", "event", sent.Event.Type, "to", sent.To.String())
		}
		if len(spawns) > 0 {
			i.logger.Warn("ignored invocations, interpreter has no actor system", "count", len(spawns))
		}
		return
	}
	for _, invocation := range revokes {
		i.host.revoke(ctx, invocation)
	}
	for _, invocation := range spawns {
		i.host.invoke(ctx, invocation)
	}
	for _, sent := range outbox {
		i.host.deliver(ctx, sent)
	}
	if i.status == StatusDone && !i.reported {
		i.reported = true
		i.host.finished(ctx, i.output)
	}
}

func (i *Interpreter) scope() Scope {
	scope := Scope{Logger: i.logger}
	if i.host != nil {
		scope = i.host.scope()
	}
	scope.Context = i.context
	return scope
}

func (i *Interpreter) leaves() []*StateNode {
	var leaves []*StateNode
	for _, node := range i.nodes() {
		leaf := true
		for _, child := range node.children {
			if i.active.Contains(child) {
				leaf = false
				break
			}
		}
		if leaf {
			leaves = append(leaves, node)
		}
	}
	return leaves
}

func (i *Interpreter) nodes() []*StateNode {
	return i.active.Sorted(byOrder)
}

// Stop marks the interpreter stopped. Exit actions are not run.
func (i *Interpreter) Stop() {
	i.status = StatusStopped
	i.internal.Clear()
	i.external = nil
	i.reset()
}

func (i *Interpreter) Definition() *Definition {
	return i.definition
}

func (i *Interpreter) Status() Status {
	return i.status
}

func (i *Interpreter) Context() any {
	return i.context
}

func (i *Interpreter) Output() any {
	return i.output
}

func (i *Interpreter) Configuration() Configuration {
	return configuration(i.active)
}

// Matches reports whether the state at path is active.
func (i *Interpreter) Matches(path string) bool {
	return i.Configuration().Matches(path)
}

func (i *Interpreter) Snapshot() Snapshot {
	return Snapshot{
		Status:        i.status,
		Configuration: i.Configuration(),
		Context:       i.context,
		Output:        i.output,
		Timestamp:     i.clock.Now(),
	}
}

// On subscribes fn to emitted events matching filter and returns a function
// that removes the subscription.
func (i *Interpreter) On(filter string, fn func(Event)) func() {
	return i.emitter.Subscribe(filter, fn).Unsubscribe
}

func (i *Interpreter) Emitter() *Emitter {
	return i.emitter
}
