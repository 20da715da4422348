// Package queue implements the per-actor mailbox. Raised events (internal
// events such as done notifications) jump ahead of external events but keep
// FIFO order among themselves.
package queue

import (
	"errors"
	"sync"

	"github.com/stateforward/go-statechart/kinds"
)

var ErrFull = errors.New("queue full")

type Item interface {
	Kind() uint64
}

type Queue[T Item] struct {
	mutex     sync.Mutex
	events    []T
	partition int
	capacity  int
}

// New returns an empty queue. A capacity <= 0 means unbounded.
func New[T Item](capacity int) *Queue[T] {
	return &Queue[T]{capacity: capacity}
}

func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.events)
}

func (q *Queue[T]) Pop() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	var zero T
	if len(q.events) == 0 {
		return zero, false
	}
	event := q.events[0]
	q.events[0] = zero
	q.events = q.events[1:]
	if q.partition > 0 {
		q.partition--
	}
	return event, true
}

// Push appends event, or inserts it behind the other raised events when it
// is a raised event. Raised events are never rejected for capacity.
func (q *Queue[T]) Push(event T) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if kinds.IsKind(event.Kind(), kinds.Raised) {
		q.events = append(q.events, event)
		copy(q.events[q.partition+1:], q.events[q.partition:len(q.events)-1])
		q.events[q.partition] = event
		q.partition++
		return nil
	}
	if q.capacity > 0 && len(q.events) >= q.capacity {
		return ErrFull
	}
	q.events = append(q.events, event)
	return nil
}

// Clear drops every queued event and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	n := len(q.events)
	q.events = nil
	q.partition = 0
	return n
}
