package statechart

import "errors"

// Sentinel errors returned by the engine and the actor system. They are
// wrapped with context and can be checked with errors.Is.
var (
	// ErrInvalidDefinition wraps every problem found while building a Definition.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrDuplicateSystemID is returned by Spawn when the system id is taken.
	ErrDuplicateSystemID = errors.New("system id already registered")
	// ErrDuplicateName is returned by Spawn when a sibling already uses the name.
	ErrDuplicateName = errors.New("actor name already used by a sibling")
	// ErrStopped is returned when sending to, or spawning from, a stopped actor.
	ErrStopped = errors.New("actor stopped")
	// ErrNotStarted is returned when an interpreter is used before Start.
	ErrNotStarted = errors.New("interpreter not started")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("interpreter already started")
	// ErrMailboxFull is returned when an actor's mailbox is at capacity.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrContextType is returned by typed helpers when the context has another type.
	ErrContextType = errors.New("unexpected context type")
	// ErrUnknownActor is returned for a reference that does not belong to a system.
	ErrUnknownActor = errors.New("unknown actor")
	// ErrNoSystem is returned when an operation needs an actor system and there is none.
	ErrNoSystem = errors.New("no actor system")
)
