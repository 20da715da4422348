package statechart_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stateforward/go-statechart"
)

func TestEmitter(t *testing.T) {
	emitter := statechart.NewEmitter()
	var received []string
	first := emitter.Subscribe("uploaded", func(event statechart.Event) {
		received = append(received, "first:"+event.Type)
	})
	emitter.Subscribe("upload*", func(event statechart.Event) {
		received = append(received, "second:"+event.Type)
	})
	assert.NotEqual(t, "", first.ID)
	assert.Equal(t, 2, emitter.Len())

	assert.Equal(t, 2, emitter.Emit(statechart.NewEvent("uploaded")))
	assert.Equal(t, 1, emitter.Emit(statechart.NewEvent("uploading")))
	assert.Equal(t, 0, emitter.Emit(statechart.NewEvent("other")))
	assert.Equal(t, []string{"first:uploaded", "second:uploaded", "second:uploading"}, received)

	first.Unsubscribe()
	first.Unsubscribe()
	assert.False(t, emitter.Unsubscribe(first.ID))
	assert.Equal(t, 1, emitter.Len())
	assert.Equal(t, 1, emitter.Emit(statechart.NewEvent("uploaded")))
}

func TestEmitterUnsubscribeDuringDelivery(t *testing.T) {
	emitter := statechart.NewEmitter()
	calls := 0
	var second *statechart.Subscription
	emitter.Subscribe("*", func(statechart.Event) {
		calls++
		second.Unsubscribe()
	})
	second = emitter.Subscribe("*", func(statechart.Event) {
		calls++
	})
	assert.Equal(t, 1, emitter.Emit(statechart.NewEvent("any")))
	assert.Equal(t, 1, calls)
}

func TestEmitterClose(t *testing.T) {
	emitter := statechart.NewEmitter()
	emitter.Subscribe("*", func(statechart.Event) {
		t.Fatal("closed emitter delivered an event")
	})
	emitter.Close()
	assert.Equal(t, 0, emitter.Len())
	assert.Equal(t, 0, emitter.Emit(statechart.NewEvent("any")))

	late := emitter.Subscribe("*", func(statechart.Event) {})
	assert.Equal(t, 0, emitter.Len())
	late.Unsubscribe()
}

func TestMatch(t *testing.T) {
	tests := []struct {
		value    string
		patterns []string
		want     bool
	}{
		{"uploaded", []string{"uploaded"}, true},
		{"uploaded", []string{"*"}, true},
		{"done.state.P.R1", []string{"done.state.*"}, true},
		{"done.actor.worker", []string{"done.*.worker"}, true},
		{"done.actor.worker", []string{"error.*"}, false},
		{"x", []string{""}, false},
		{"abc", []string{"a*c*"}, true},
		{"abc", []string{"x", "ab*"}, true},
		{"ab", []string{"abc*"}, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, statechart.Match(test.value, test.patterns...), "%s %v", test.value, test.patterns)
	}
}

func TestEventHelpers(t *testing.T) {
	done := statechart.DoneState("P.R1", nil)
	assert.Equal(t, "done.state.P.R1", done.Type)
	assert.Equal(t, "done.actor.worker", statechart.DoneActor("worker", 1).Type)
	assert.Equal(t, "error.actor.worker", statechart.ErrorActor("worker", assert.AnError).Type)

	event := statechart.NewEvent("upload", 42)
	assert.Equal(t, 42, event.Data)
	assert.Equal(t, "more", event.WithData("more").Data)
	assert.Equal(t, 42, event.Data)
	assert.Nil(t, statechart.NewEvent("bare").Data)
}
