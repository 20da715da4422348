// Package tests provides helpers shared by the statechart tests.
package tests

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/stateforward/go-statechart"
)

// Recorder collects the names of executed actions and traced engine steps.
// It is safe for concurrent use.
type Recorder struct {
	mutex   sync.Mutex
	actions []string
	steps   []string
}

func (r *Recorder) Record(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.actions = append(r.actions, name)
}

// Action returns an action that records name and has no effect.
func (r *Recorder) Action(name string) statechart.ActionFunc {
	return func(context.Context, statechart.Scope, statechart.Event) (statechart.Effect, error) {
		r.Record(name)
		return nil, nil
	}
}

// Fail returns an action that records name and fails with err.
func (r *Recorder) Fail(name string, err error) statechart.ActionFunc {
	return func(context.Context, statechart.Scope, statechart.Event) (statechart.Effect, error) {
		r.Record(name)
		return nil, err
	}
}

// Actions returns the recorded action names in execution order.
func (r *Recorder) Actions() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return slices.Clone(r.actions)
}

// Steps returns the traced steps as "step:element".
func (r *Recorder) Steps() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return slices.Clone(r.steps)
}

func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.actions = nil
	r.steps = nil
}

// Matches reports whether the recorded actions are exactly expected.
func (r *Recorder) Matches(expected ...string) bool {
	return slices.Equal(r.Actions(), expected)
}

// Trace returns a trace hook recording each step with its first datum.
func (r *Recorder) Trace() statechart.Trace {
	return func(ctx context.Context, step string, data ...any) (context.Context, func(...any)) {
		entry := step
		if len(data) > 0 {
			entry = fmt.Sprintf("%s:%v", step, data[0])
		}
		r.mutex.Lock()
		r.steps = append(r.steps, entry)
		r.mutex.Unlock()
		return ctx, func(...any) {}
	}
}
