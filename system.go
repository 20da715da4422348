package statechart

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/stateforward/go-statechart/clock"
)

type options struct {
	logger *slog.Logger
	trace  Trace
	clock  clock.Clock
	config *Config
}

// Option configures a System or a standalone Interpreter.
type Option func(*options)

func newOptions(opts ...Option) options {
	options := options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.config == nil {
		options.config = &Config{}
	}
	if options.logger == nil {
		if options.config.LogLevel != nil {
			options.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: options.config.LogLevel}))
		} else {
			options.logger = slog.Default()
		}
	}
	if options.clock == nil {
		options.clock = clock.Make()
	}
	return options
}

func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithTrace installs a hook called around every engine step.
func WithTrace(trace Trace) Option {
	return func(options *options) {
		options.trace = trace
	}
}

// WithClock sets the clock used to timestamp snapshots.
func WithClock(clock clock.Clock) Option {
	return func(options *options) {
		options.clock = clock
	}
}

func WithConfig(config Config) Option {
	return func(options *options) {
		options.config = &config
	}
}

type spawnOptions struct {
	name     string
	systemID string
	input    any
}

// SpawnOption configures a spawned or invoked actor.
type SpawnOption func(*spawnOptions)

// WithName sets the actor's local name, unique among its siblings. Actors
// spawned without a name are named after their id.
func WithName(name string) SpawnOption {
	return func(options *spawnOptions) {
		options.name = name
	}
}

// WithSystemID registers the actor with the system's receptionist.
func WithSystemID(systemID string) SpawnOption {
	return func(options *spawnOptions) {
		options.systemID = systemID
	}
}

// WithInput passes input to the actor's context factory.
func WithInput(input any) SpawnOption {
	return func(options *spawnOptions) {
		options.input = input
	}
}

// System owns a tree of actors and the receptionist mapping system ids to
// them.
type System struct {
	mutex    sync.RWMutex
	actors   map[string]*Actor
	registry map[string]*Actor
	roots    []*Actor
	options  options
	logger   *slog.Logger
}

func NewSystem(opts ...Option) *System {
	options := newOptions(opts...)
	return &System{
		actors:   map[string]*Actor{},
		registry: map[string]*Actor{},
		options:  options,
		logger:   options.logger,
	}
}

// Spawn starts a top level actor. It fails without creating anything when
// the system id is taken or the machine fails to start.
func (system *System) Spawn(ctx context.Context, definition *Definition, opts ...SpawnOption) (*ActorRef, error) {
	options := spawnOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return system.spawn(ctx, nil, definition, options)
}

func (system *System) spawn(ctx context.Context, parent *Actor, definition *Definition, options spawnOptions) (*ActorRef, error) {
	if definition == nil {
		return nil, fmt.Errorf("spawn: %w: nil definition", ErrInvalidDefinition)
	}
	actor := newActor(system, parent, definition, options)
	if err := system.register(actor); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", actor, err)
	}
	if err := actor.start(ctx, options.input); err != nil {
		actor.stop(ctx)
		return nil, fmt.Errorf("spawn %s: %w", actor, err)
	}
	return actor.ref, nil
}

func (system *System) register(actor *Actor) error {
	system.mutex.Lock()
	defer system.mutex.Unlock()
	siblings := system.roots
	if actor.parent != nil {
		if actor.parent.stopped.Load() {
			return fmt.Errorf("parent %s: %w", actor.parent, ErrStopped)
		}
		siblings = actor.parent.children
	}
	if actor.systemID != "" {
		if _, ok := system.registry[actor.systemID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateSystemID, actor.systemID)
		}
	}
	for _, sibling := range siblings {
		if sibling.name == actor.name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, actor.name)
		}
	}
	system.actors[actor.id] = actor
	if actor.systemID != "" {
		system.registry[actor.systemID] = actor
	}
	if actor.parent != nil {
		actor.parent.children = append(actor.parent.children, actor)
	} else {
		system.roots = append(system.roots, actor)
	}
	return nil
}

func (system *System) unregister(actor *Actor) {
	system.mutex.Lock()
	defer system.mutex.Unlock()
	delete(system.actors, actor.id)
	if actor.systemID != "" && system.registry[actor.systemID] == actor {
		delete(system.registry, actor.systemID)
	}
	remove := func(other *Actor) bool { return other == actor }
	if actor.parent != nil {
		actor.parent.children = slices.DeleteFunc(actor.parent.children, remove)
	} else {
		system.roots = slices.DeleteFunc(system.roots, remove)
	}
}

func (system *System) get(id string) *Actor {
	system.mutex.RLock()
	defer system.mutex.RUnlock()
	return system.actors[id]
}

func (system *System) children(actor *Actor) []*Actor {
	system.mutex.RLock()
	defer system.mutex.RUnlock()
	if actor == nil {
		return slices.Clone(system.roots)
	}
	return slices.Clone(actor.children)
}

// Lookup returns the actor registered under systemID. Absence is a normal
// outcome: the actor may not have been spawned yet or may have stopped.
func (system *System) Lookup(systemID string) (*ActorRef, bool) {
	system.mutex.RLock()
	defer system.mutex.RUnlock()
	actor, ok := system.registry[systemID]
	if !ok {
		return nil, false
	}
	return actor.ref, true
}

// Actors returns the top level actors in spawn order.
func (system *System) Actors() []*ActorRef {
	roots := system.children(nil)
	refs := make([]*ActorRef, 0, len(roots))
	for _, actor := range roots {
		refs = append(refs, actor.ref)
	}
	return refs
}

// Stop stops the actor and, before it, every actor it owns. Stopping an
// actor that already stopped is a no-op.
func (system *System) Stop(ctx context.Context, ref *ActorRef) error {
	if ref == nil {
		return ErrUnknownActor
	}
	if actor := system.get(ref.id); actor != nil {
		actor.stop(ctx)
	}
	return nil
}

// Shutdown stops every top level actor, most recently spawned first.
func (system *System) Shutdown(ctx context.Context) error {
	roots := system.children(nil)
	for i := len(roots) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		roots[i].stop(ctx)
	}
	system.logger.Debug("system shut down", "actors", len(roots))
	return nil
}
