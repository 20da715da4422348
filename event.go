package statechart

import (
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/stateforward/go-statechart/kinds"
)

// Event is the unit of communication between actors. Type is the
// discriminator transitions and subscriptions match against; Data carries the
// optional payload.
type Event struct {
	Type string `json:"type" yaml:"type"`
	Data any    `json:"data,omitempty" yaml:"data,omitempty"`
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	kind uint64
}

// NewEvent creates an event of the given type with an optional payload.
func NewEvent(eventType string, maybeData ...any) Event {
	var data any
	if len(maybeData) > 0 {
		data = maybeData[0]
	}
	return Event{Type: eventType, Data: data, kind: kinds.Event}
}

func (e Event) Kind() uint64 {
	if e.kind == 0 {
		return kinds.Event
	}
	return e.kind
}

func (e Event) Name() string {
	return e.Type
}

// WithData returns a copy of the event carrying data.
func (e Event) WithData(data any) Event {
	e.Data = data
	return e
}

func (e Event) stamped() Event {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	return e
}

func (e Event) raised() Event {
	if !kinds.IsKind(e.Kind(), kinds.Raised) {
		e.kind = kinds.Raised
	}
	return e
}

// Built-in event type prefixes produced by the runtime.
const (
	// InitEvent is the event passed to entry actions run by Start.
	InitEvent = "statechart.init"
	// DoneStatePrefix prefixes the event raised when a compound or parallel
	// node completes, followed by the node's path.
	DoneStatePrefix = "done.state."
	// DoneActorPrefix prefixes the event a parent receives when a child
	// actor reaches its final state, followed by the child's name.
	DoneActorPrefix = "done.actor."
	// ErrorActorPrefix prefixes the event a parent receives when a child
	// actor fails while processing an event.
	ErrorActorPrefix = "error.actor."
)

// DoneState builds the completion event for the node at path.
func DoneState(path string, output any) Event {
	return Event{Type: DoneStatePrefix + path, Data: output, kind: kinds.DoneEvent}
}

// DoneActor builds the event delivered to a parent when its child finishes.
func DoneActor(name string, output any) Event {
	return Event{Type: DoneActorPrefix + name, Data: output, kind: kinds.Event}
}

// ErrorActor builds the event delivered to a parent when its child fails.
func ErrorActor(name string, err error) Event {
	return Event{Type: ErrorActorPrefix + name, Data: err, kind: kinds.ErrorEvent}
}

// Match reports whether value matches any of the patterns. A '*' in a
// pattern matches zero or more characters.
func Match(value string, patterns ...string) bool {
	for _, pattern := range patterns {
		if pattern == value || pattern == "*" {
			return true
		}
		if pattern == "" {
			continue
		}
		if !strings.Contains(pattern, "*") {
			continue
		}
		if match(value, pattern) {
			return true
		}
	}
	return false
}

func match(value, pattern string) bool {
	v, p := 0, 0
	star, backtrack := -1, -1
	for v < len(value) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			backtrack = v
			p++
		case p < len(pattern) && pattern[p] == value[v]:
			v++
			p++
		case star != -1:
			backtrack++
			v = backtrack
			p = star + 1
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

func isWildcard(descriptor string) bool {
	return strings.Contains(descriptor, "*")
}
