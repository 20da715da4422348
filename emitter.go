package statechart

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Subscription is the handle returned by Emitter.Subscribe.
type Subscription struct {
	ID      string
	filter  string
	fn      func(Event)
	emitter *Emitter
	removed atomic.Bool
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (subscription *Subscription) Unsubscribe() {
	if subscription == nil || subscription.emitter == nil {
		return
	}
	subscription.emitter.Unsubscribe(subscription.ID)
}

// Emitter delivers emitted events to subscribers. Each actor owns one.
type Emitter struct {
	mutex         sync.Mutex
	subscriptions []*Subscription
	closed        bool
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers fn for events whose type matches filter. A '*' in the
// filter matches any run of characters. Subscribing to a closed emitter
// returns an inert subscription.
func (emitter *Emitter) Subscribe(filter string, fn func(Event)) *Subscription {
	subscription := &Subscription{
		ID:      ulid.Make().String(),
		filter:  filter,
		fn:      fn,
		emitter: emitter,
	}
	emitter.mutex.Lock()
	defer emitter.mutex.Unlock()
	if emitter.closed || fn == nil {
		subscription.removed.Store(true)
		return subscription
	}
	emitter.subscriptions = append(emitter.subscriptions, subscription)
	return subscription
}

// Unsubscribe removes the subscription with the given id and reports whether
// it was still registered.
func (emitter *Emitter) Unsubscribe(id string) bool {
	emitter.mutex.Lock()
	defer emitter.mutex.Unlock()
	index := slices.IndexFunc(emitter.subscriptions, func(subscription *Subscription) bool {
		return subscription.ID == id
	})
	if index < 0 {
		return false
	}
	emitter.subscriptions[index].removed.Store(true)
	emitter.subscriptions = slices.Delete(emitter.subscriptions, index, index+1)
	return true
}

// Emit invokes every matching callback synchronously, in subscription order,
// and returns how many were invoked. Callbacks may subscribe or unsubscribe;
// a subscription removed during delivery is not invoked afterwards.
func (emitter *Emitter) Emit(event Event) int {
	emitter.mutex.Lock()
	subscriptions := slices.Clone(emitter.subscriptions)
	emitter.mutex.Unlock()
	delivered := 0
	for _, subscription := range subscriptions {
		if subscription.removed.Load() || !Match(event.Type, subscription.filter) {
			continue
		}
		subscription.fn(event)
		delivered++
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (emitter *Emitter) Len() int {
	emitter.mutex.Lock()
	defer emitter.mutex.Unlock()
	return len(emitter.subscriptions)
}

// Close drops every subscription. Later subscriptions are ignored.
func (emitter *Emitter) Close() {
	emitter.mutex.Lock()
	defer emitter.mutex.Unlock()
	emitter.closed = true
	for _, subscription := range emitter.subscriptions {
		subscription.removed.Store(true)
	}
	emitter.subscriptions = nil
}
