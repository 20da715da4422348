package statechart

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stateforward/go-statechart/kinds"
)

// Scope is what an action sees while it runs: the machine context as of the
// start of the action, the actor running it and the system it lives in.
// Self, Parent and System are nil for an interpreter that is not hosted by an
// actor.
type Scope struct {
	Context any
	Self    *ActorRef
	Parent  *ActorRef
	System  *System
	Logger  *slog.Logger
	actor   *Actor
}

// Spawn starts a child actor owned by the actor running the action.
func (scope Scope) Spawn(ctx context.Context, definition *Definition, opts ...SpawnOption) (*ActorRef, error) {
	if scope.actor == nil {
		return nil, ErrNoSystem
	}
	return scope.actor.Spawn(ctx, definition, opts...)
}

// ActionFunc is the action hook. It returns the effect the engine applies
// once the function has returned without error. Long running work must be
// started in the background and report back with Self.Send.
type ActionFunc func(ctx context.Context, scope Scope, event Event) (Effect, error)

// GuardFunc is a pure predicate over the context and the triggering event.
type GuardFunc func(context any, event Event) bool

// Effect is the closed set of results an action can produce.
type Effect interface {
	Kind() uint64
}

// Patch replaces the machine context.
type Patch struct {
	Context any
}

func (Patch) Kind() uint64 { return kinds.Assign }

// Emitted publishes an event to the actor's subscribers.
type Emitted struct {
	Event Event
}

func (Emitted) Kind() uint64 { return kinds.Emit }

// Sent delivers an event to another actor once the current step completes.
type Sent struct {
	To    Recipient
	Event Event
}

func (Sent) Kind() uint64 { return kinds.SendTo }

// Raised queues an internal event that is processed before any external one.
type Raised struct {
	Event Event
}

func (Raised) Kind() uint64 { return kinds.Raise }

// Effects groups several effects produced by a single action. They are
// staged first and all of them or none of them take effect. A Patch is
// committed before the emitted, sent and raised events, which keep their
// order.
type Effects []Effect

func (Effects) Kind() uint64 { return kinds.Effect }

type recipientKind uint8

const (
	toSelf recipientKind = iota
	toParent
	toChild
	toSystem
	toRef
)

// Recipient addresses the target of a Sent effect without holding the actor.
type Recipient struct {
	kind recipientKind
	id   string
	ref  *ActorRef
}

func ToSelf() Recipient { return Recipient{kind: toSelf} }
func ToParent() Recipient { return Recipient{kind: toParent} }
func ToChild(name string) Recipient { return Recipient{kind: toChild, id: name} }
func ToSystem(systemID string) Recipient { return Recipient{kind: toSystem, id: systemID} }
func ToRef(ref *ActorRef) Recipient { return Recipient{kind: toRef, ref: ref} }

func (r Recipient) String() string {
	switch r.kind {
	case toParent:
		return "parent"
	case toChild:
		return "child:" + r.id
	case toSystem:
		return "system:" + r.id
	case toRef:
		if r.ref == nil {
			return "ref:<nil>"
		}
		return "ref:" + r.ref.ID()
	}
	return "self"
}

// As converts a context value to C. A nil context yields the zero value of C.
func As[C any](value any) (C, error) {
	var zero C
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(C)
	if !ok {
		return zero, fmt.Errorf("%w: have %T, want %T", ErrContextType, value, zero)
	}
	return typed, nil
}

// Assign returns an action that replaces the context with fn's result.
func Assign[C any](fn func(c C, event Event) C) ActionFunc {
	return func(_ context.Context, scope Scope, event Event) (Effect, error) {
		c, err := As[C](scope.Context)
		if err != nil {
			return nil, err
		}
		return Patch{Context: fn(c, event)}, nil
	}
}

// Emit returns an action that publishes fn's event to subscribers.
func Emit[C any](fn func(c C, event Event) Event) ActionFunc {
	return func(_ context.Context, scope Scope, event Event) (Effect, error) {
		c, err := As[C](scope.Context)
		if err != nil {
			return nil, err
		}
		return Emitted{Event: fn(c, event)}, nil
	}
}

// SendTo returns an action that sends fn's event to the recipient after the
// current step.
func SendTo[C any](to Recipient, fn func(c C, event Event) Event) ActionFunc {
	return func(_ context.Context, scope Scope, event Event) (Effect, error) {
		c, err := As[C](scope.Context)
		if err != nil {
			return nil, err
		}
		return Sent{To: to, Event: fn(c, event)}, nil
	}
}

// Raise returns an action that queues fn's event on the machine itself.
func Raise[C any](fn func(c C, event Event) Event) ActionFunc {
	return func(_ context.Context, scope Scope, event Event) (Effect, error) {
		c, err := As[C](scope.Context)
		if err != nil {
			return nil, err
		}
		return Raised{Event: fn(c, event)}, nil
	}
}

// Do wraps a side effect that produces no engine effect.
func Do(fn func(ctx context.Context, scope Scope, event Event) error) ActionFunc {
	return func(ctx context.Context, scope Scope, event Event) (Effect, error) {
		return nil, fn(ctx, scope, event)
	}
}

// Log writes the event through the scope's logger.
func Log(level slog.Level, message string) ActionFunc {
	return func(ctx context.Context, scope Scope, event Event) (Effect, error) {
		logger := scope.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Log(ctx, level, message, "event", event.Type, "data", event.Data)
		return nil, nil
	}
}

// When adapts a typed predicate. A context of another type never passes.
func When[C any](fn func(c C, event Event) bool) GuardFunc {
	return func(value any, event Event) bool {
		c, err := As[C](value)
		if err != nil {
			return false
		}
		return fn(c, event)
	}
}

func Not(guard GuardFunc) GuardFunc {
	return func(value any, event Event) bool {
		return !guard(value, event)
	}
}

func And(guards ...GuardFunc) GuardFunc {
	return func(value any, event Event) bool {
		for _, guard := range guards {
			if !guard(value, event) {
				return false
			}
		}
		return true
	}
}

func Or(guards ...GuardFunc) GuardFunc {
	return func(value any, event Event) bool {
		for _, guard := range guards {
			if guard(value, event) {
				return true
			}
		}
		return false
	}
}

// Implementations maps symbolic names used by a definition to the functions
// and child definitions supplied by the embedding application.
type Implementations struct {
	Actions map[string]ActionFunc
	Guards  map[string]GuardFunc
	Actors  map[string]*Definition
}

func (impl *Implementations) merge(other Implementations) {
	if impl.Actions == nil {
		impl.Actions = map[string]ActionFunc{}
	}
	if impl.Guards == nil {
		impl.Guards = map[string]GuardFunc{}
	}
	if impl.Actors == nil {
		impl.Actors = map[string]*Definition{}
	}
	for name, action := range other.Actions {
		impl.Actions[name] = action
	}
	for name, guard := range other.Guards {
		impl.Guards[name] = guard
	}
	for name, actor := range other.Actors {
		impl.Actors[name] = actor
	}
}
