package statechart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/stateforward/go-statechart/queue"
)

// Actor hosts one interpreter. Events sent to it are queued in its mailbox
// and processed one at a time by whichever caller holds the processing token.
type Actor struct {
	id          string
	name        string
	systemID    string
	system      *System
	parent      *Actor
	children    []*Actor
	interpreter *Interpreter
	mailbox     *queue.Queue[Event]
	processing  atomic.Bool
	stopped     atomic.Bool
	snapshot    atomic.Pointer[Snapshot]
	logger      *slog.Logger
	ref         *ActorRef
}

func newActor(system *System, parent *Actor, definition *Definition, options spawnOptions) *Actor {
	id := uuid.NewString()
	name := options.name
	if name == "" {
		name = id
	}
	actor := &Actor{
		id:       id,
		name:     name,
		systemID: options.systemID,
		system:   system,
		parent:   parent,
		mailbox:  queue.New[Event](system.options.config.MailboxSize),
	}
	attrs := []any{"actor", id, "name", name}
	if options.systemID != "" {
		attrs = append(attrs, "system_id", options.systemID)
	}
	actor.logger = system.logger.With(attrs...)
	actor.interpreter = NewInterpreter(definition,
		WithLogger(actor.logger),
		WithTrace(system.options.trace),
		WithClock(system.options.clock),
	)
	actor.interpreter.host = actor
	actor.ref = &ActorRef{id: id, name: name, systemID: options.systemID, system: system}
	return actor
}

func (actor *Actor) String() string {
	if actor.name != actor.id {
		return fmt.Sprintf("%s(%s)", actor.name, actor.id)
	}
	return actor.id
}

func (actor *Actor) start(ctx context.Context, input any) error {
	var err error
	func() {
		actor.processing.Store(true)
		defer actor.processing.Store(false)
		_, err = actor.interpreter.Start(ctx, input)
		actor.publish()
	}()
	if err != nil {
		return err
	}
	actor.logger.Debug("actor started", "configuration", actor.interpreter.Configuration().String())
	actor.drain(ctx, "")
	return nil
}

// Spawn starts a child actor owned by this actor.
func (actor *Actor) Spawn(ctx context.Context, definition *Definition, opts ...SpawnOption) (*ActorRef, error) {
	options := spawnOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return actor.system.spawn(ctx, actor, definition, options)
}

// Send queues event and processes the mailbox unless another caller is
// already doing so. The processing error of event is returned when it was
// processed by this call.
func (actor *Actor) Send(ctx context.Context, event Event) error {
	if actor.stopped.Load() {
		return fmt.Errorf("send %q to %s: %w", event.Type, actor, ErrStopped)
	}
	event = event.stamped()
	if err := actor.mailbox.Push(event); err != nil {
		if errors.Is(err, queue.ErrFull) {
			return fmt.Errorf("send %q to %s: %w", event.Type, actor, ErrMailboxFull)
		}
		return err
	}
	return actor.drain(ctx, event.ID)
}

func (actor *Actor) drain(ctx context.Context, id string) error {
	var result error
	for actor.mailbox.Len() > 0 && !actor.stopped.Load() && actor.processing.CompareAndSwap(false, true) {
		func() {
			defer actor.processing.Store(false)
			for !actor.stopped.Load() {
				event, ok := actor.mailbox.Pop()
				if !ok {
					return
				}
				if err := actor.process(ctx, event); err != nil && event.ID == id {
					result = err
				}
			}
		}()
	}
	return result
}

func (actor *Actor) process(ctx context.Context, event Event) error {
	_, err := actor.interpreter.Send(ctx, event)
	actor.publish()
	if err == nil {
		return nil
	}
	actor.logger.Error("event failed", "event", event.Type, "error", err)
	if actor.parent != nil {
		if err := actor.parent.Send(ctx, ErrorActor(actor.name, err)); err != nil {
			actor.logger.Warn("dropped error notification", "error", err)
		}
	}
	return err
}

func (actor *Actor) publish() {
	snapshot := actor.interpreter.Snapshot()
	actor.snapshot.Store(&snapshot)
}

// Snapshot returns the state as of the last processed event.
func (actor *Actor) Snapshot() Snapshot {
	var snapshot Snapshot
	if stored := actor.snapshot.Load(); stored != nil {
		snapshot = *stored
	}
	if actor.stopped.Load() {
		snapshot.Status = StatusStopped
	}
	return snapshot
}

// stop stops every owned actor, most recently spawned first, then this one.
func (actor *Actor) stop(ctx context.Context) {
	if !actor.stopped.CompareAndSwap(false, true) {
		return
	}
	children := actor.system.children(actor)
	for i := len(children) - 1; i >= 0; i-- {
		children[i].stop(ctx)
	}
	actor.system.unregister(actor)
	actor.mailbox.Clear()
	actor.interpreter.emitter.Close()
	actor.logger.Debug("actor stopped")
}

func (actor *Actor) child(name string) *Actor {
	for _, child := range actor.system.children(actor) {
		if child.name == name {
			return child
		}
	}
	return nil
}

func (actor *Actor) resolve(to Recipient) (*ActorRef, bool) {
	switch to.kind {
	case toSelf:
		return actor.ref, true
	case toParent:
		if actor.parent == nil {
			return nil, false
		}
		return actor.parent.ref, true
	case toChild:
		child := actor.child(to.id)
		if child == nil {
			return nil, false
		}
		return child.ref, true
	case toSystem:
		return actor.system.Lookup(to.id)
	case toRef:
		return to.ref, to.ref != nil
	}
	return nil, false
}

/******* host *******/

func (actor *Actor) scope() Scope {
	scope := Scope{
		Self:   actor.ref,
		System: actor.system,
		Logger: actor.logger,
		actor:  actor,
	}
	if actor.parent != nil {
		scope.Parent = actor.parent.ref
	}
	return scope
}

func (actor *Actor) deliver(ctx context.Context, sent Sent) {
	ref, ok := actor.resolve(sent.To)
	if !ok {
		actor.logger.Warn("dropped event, recipient not found", "event", sent.Event.Type, "to", sent.To.String())
		return
	}
	if err := ref.Send(ctx, sent.Event); err != nil {
		actor.logger.Warn("dropped event", "event", sent.Event.Type, "to", sent.To.String(), "error", err)
	}
}

func (actor *Actor) invoke(ctx context.Context, invocation *invocation) {
	if _, err := actor.system.spawn(ctx, actor, invocation.definition, invocation.options); err != nil {
		actor.logger.Error("invoke failed", "src", invocation.src, "error", err)
		if err := actor.mailbox.Push(ErrorActor(invocation.options.name, err).stamped()); err != nil {
			actor.logger.Warn("dropped error notification", "error", err)
		}
	}
}

func (actor *Actor) revoke(ctx context.Context, invocation *invocation) {
	if child := actor.child(invocation.options.name); child != nil {
		child.stop(ctx)
	}
}

func (actor *Actor) finished(ctx context.Context, output any) {
	actor.logger.Debug("actor done")
	children := actor.system.children(actor)
	for i := len(children) - 1; i >= 0; i-- {
		children[i].stop(ctx)
	}
	if actor.parent == nil {
		return
	}
	if err := actor.parent.Send(ctx, DoneActor(actor.name, output)); err != nil {
		actor.logger.Warn("dropped done notification", "error", err)
	}
}

/******* ActorRef *******/

// ActorRef addresses an actor without owning it. It stays valid after the
// actor stops; operations on it then report ErrStopped or do nothing.
type ActorRef struct {
	id       string
	name     string
	systemID string
	system   *System
}

func (ref *ActorRef) ID() string {
	return ref.id
}

func (ref *ActorRef) Name() string {
	return ref.name
}

// SystemID returns the receptionist id, or the empty string.
func (ref *ActorRef) SystemID() string {
	return ref.systemID
}

func (ref *ActorRef) String() string {
	if ref.name != ref.id {
		return fmt.Sprintf("%s(%s)", ref.name, ref.id)
	}
	return ref.id
}

func (ref *ActorRef) actor() (*Actor, error) {
	if ref == nil || ref.system == nil {
		return nil, ErrUnknownActor
	}
	actor := ref.system.get(ref.id)
	if actor == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrStopped)
	}
	return actor, nil
}

func (ref *ActorRef) Send(ctx context.Context, event Event) error {
	actor, err := ref.actor()
	if err != nil {
		return fmt.Errorf("send %q: %w", event.Type, err)
	}
	return actor.Send(ctx, event)
}

// On subscribes fn to events the actor emits whose type matches filter. The
// returned function unsubscribes and may be called more than once.
func (ref *ActorRef) On(filter string, fn func(Event)) func() {
	actor, err := ref.actor()
	if err != nil {
		return func() {}
	}
	return actor.interpreter.On(filter, fn)
}

func (ref *ActorRef) Snapshot() Snapshot {
	actor, err := ref.actor()
	if err != nil {
		return Snapshot{Status: StatusStopped}
	}
	return actor.Snapshot()
}

// Stop stops the actor and everything it owns.
func (ref *ActorRef) Stop(ctx context.Context) error {
	if ref == nil || ref.system == nil {
		return ErrUnknownActor
	}
	return ref.system.Stop(ctx, ref)
}

// Spawn starts a child actor owned by the referenced actor.
func (ref *ActorRef) Spawn(ctx context.Context, definition *Definition, opts ...SpawnOption) (*ActorRef, error) {
	actor, err := ref.actor()
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	return actor.Spawn(ctx, definition, opts...)
}

// Children returns the actors owned by the referenced actor in spawn order.
func (ref *ActorRef) Children() []*ActorRef {
	actor, err := ref.actor()
	if err != nil {
		return nil
	}
	children := actor.system.children(actor)
	refs := make([]*ActorRef, 0, len(children))
	for _, child := range children {
		refs = append(refs, child.ref)
	}
	return refs
}

// Child returns the owned actor with the given name.
func (ref *ActorRef) Child(name string) (*ActorRef, bool) {
	actor, err := ref.actor()
	if err != nil {
		return nil, false
	}
	child := actor.child(name)
	if child == nil {
		return nil, false
	}
	return child.ref, true
}
