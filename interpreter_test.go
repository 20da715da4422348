package statechart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateforward/go-statechart"
	"github.com/stateforward/go-statechart/clock"
	"github.com/stateforward/go-statechart/pkg/tests"
)

func start(t *testing.T, definition *statechart.Definition, input any, opts ...statechart.Option) *statechart.Interpreter {
	t.Helper()
	interpreter := statechart.NewInterpreter(definition, opts...)
	_, err := interpreter.Start(context.Background(), input)
	require.NoError(t, err)
	return interpreter
}

func send(t *testing.T, interpreter *statechart.Interpreter, eventType string, data ...any) statechart.Configuration {
	t.Helper()
	configuration, err := interpreter.Send(context.Background(), statechart.NewEvent(eventType, data...))
	require.NoError(t, err)
	return configuration
}

func TestTransitionOrder(t *testing.T) {
	trace := &tests.Recorder{}
	definition := statechart.MustDefine("machine",
		statechart.State("A",
			statechart.Entry(trace.Action("A.entry")),
			statechart.Exit(trace.Action("A.exit")),
			statechart.State("B",
				statechart.Entry(trace.Action("B.entry")),
				statechart.Exit(trace.Action("B.exit")),
				statechart.On("toC", statechart.Target("C"), statechart.Actions(trace.Action("B.toC"))),
				statechart.On("toE", statechart.Target("#D.E")),
			),
			statechart.State("C",
				statechart.Entry(trace.Action("C.entry")),
				statechart.Exit(trace.Action("C.exit")),
				statechart.On("back", statechart.Target("B")),
			),
		),
		statechart.State("D",
			statechart.Entry(trace.Action("D.entry")),
			statechart.State("E", statechart.Entry(trace.Action("E.entry"))),
		),
	)
	interpreter := start(t, definition, nil)
	assert.Equal(t, statechart.Configuration{"A", "A.B"}, interpreter.Configuration())
	assert.Equal(t, []string{"A.entry", "B.entry"}, trace.Actions())

	trace.Reset()
	assert.Equal(t, statechart.Configuration{"A", "A.C"}, send(t, interpreter, "toC"))
	assert.True(t, trace.Matches("B.exit", "B.toC", "C.entry"), trace.Actions())

	send(t, interpreter, "back")
	trace.Reset()
	assert.Equal(t, statechart.Configuration{"D", "D.E"}, send(t, interpreter, "toE"))
	assert.True(t, trace.Matches("B.exit", "A.exit", "D.entry", "E.entry"), trace.Actions())
}

func TestTransitionKinds(t *testing.T) {
	trace := &tests.Recorder{}
	definition := statechart.MustDefine("machine",
		statechart.State("P",
			statechart.Entry(trace.Action("P.entry")),
			statechart.Exit(trace.Action("P.exit")),
			statechart.State("X",
				statechart.Entry(trace.Action("X.entry")),
				statechart.Exit(trace.Action("X.exit")),
			),
			statechart.State("Y",
				statechart.Entry(trace.Action("Y.entry")),
				statechart.Exit(trace.Action("Y.exit")),
			),
			statechart.On("self", statechart.Target("P"), statechart.Actions(trace.Action("P.self"))),
			statechart.On("internal", statechart.Actions(trace.Action("P.internal"))),
			statechart.On("local", statechart.Target(".Y")),
		),
	)
	interpreter := start(t, definition, nil)

	t.Run("internal", func(t *testing.T) {
		trace.Reset()
		assert.Equal(t, statechart.Configuration{"P", "P.X"}, send(t, interpreter, "internal"))
		assert.Equal(t, []string{"P.internal"}, trace.Actions())
	})
	t.Run("self", func(t *testing.T) {
		trace.Reset()
		assert.Equal(t, statechart.Configuration{"P", "P.X"}, send(t, interpreter, "self"))
		assert.Equal(t, []string{"X.exit", "P.exit", "P.self", "P.entry", "X.entry"}, trace.Actions())
	})
	t.Run("local", func(t *testing.T) {
		trace.Reset()
		assert.Equal(t, statechart.Configuration{"P", "P.Y"}, send(t, interpreter, "local"))
		assert.Equal(t, []string{"X.exit", "Y.entry"}, trace.Actions())
	})
}

func TestUnhandledEvent(t *testing.T) {
	trace := &tests.Recorder{}
	definition := statechart.MustDefine("machine",
		statechart.State("A", statechart.Exit(trace.Action("A.exit")), statechart.On("go", statechart.Target("B"))),
		statechart.State("B"),
	)
	interpreter := start(t, definition, map[string]int{"count": 1})
	before := interpreter.Snapshot()

	assert.Equal(t, statechart.Configuration{"A"}, send(t, interpreter, "unknown"))
	assert.Empty(t, trace.Actions())
	assert.Equal(t, before.Context, interpreter.Context())
	assert.Equal(t, statechart.StatusActive, interpreter.Status())
}

func TestGuardPrecedence(t *testing.T) {
	definition := statechart.MustDefine("machine",
		statechart.State("outer",
			statechart.On("go", statechart.Target("#fallback")),
			statechart.State("inner",
				statechart.On("go",
					statechart.Guard(func(_ any, event statechart.Event) bool { return event.Data == true }),
					statechart.Target("#handled"),
				),
				statechart.On("pick", statechart.Target("#first")),
				statechart.On("pick", statechart.Target("#second")),
			),
		),
		statechart.State("handled"),
		statechart.State("fallback"),
		statechart.State("first"),
		statechart.State("second"),
	)

	t.Run("innermost enabled transition wins", func(t *testing.T) {
		interpreter := start(t, definition, nil)
		assert.Equal(t, statechart.Configuration{"handled"}, send(t, interpreter, "go", true))
	})
	t.Run("ancestor handles when the guard fails", func(t *testing.T) {
		interpreter := start(t, definition, nil)
		assert.Equal(t, statechart.Configuration{"fallback"}, send(t, interpreter, "go", false))
	})
	t.Run("first declared wins", func(t *testing.T) {
		interpreter := start(t, definition, nil)
		assert.Equal(t, statechart.Configuration{"first"}, send(t, interpreter, "pick"))
	})
}

func TestWildcardDescriptors(t *testing.T) {
	trace := &tests.Recorder{}
	definition := statechart.MustDefine("machine",
		statechart.State("A",
			statechart.On("x.*", statechart.Actions(trace.Action("wildcard"))),
			statechart.On("x.y", statechart.Actions(trace.Action("exact"))),
		),
		statechart.On("*", statechart.Actions(trace.Action("any"))),
	)
	interpreter := start(t, definition, nil)
	send(t, interpreter, "x.y")
	send(t, interpreter, "x.z")
	send(t, interpreter, "other")
	assert.Equal(t, []string{"exact", "wildcard", "any"}, trace.Actions())
}

func TestParallelRegions(t *testing.T) {
	trace := &tests.Recorder{}
	definition := statechart.MustDefine("machine",
		statechart.Parallel("P",
			statechart.State("R1",
				statechart.State("a",
					statechart.Exit(trace.Action("a.exit")),
					statechart.On("step", statechart.Target("a2"), statechart.Actions(trace.Action("R1.step"))),
					statechart.On("leave", statechart.Target("#Out")),
				),
				statechart.State("a2", statechart.On("finish", statechart.Target("done1"))),
				statechart.Final("done1"),
				statechart.On("reset", statechart.Target(".a")),
				statechart.OnDone(statechart.Actions(trace.Action("R1.done"))),
			),
			statechart.State("R2",
				statechart.State("b",
					statechart.Exit(trace.Action("b.exit")),
					statechart.On("step", statechart.Target("b2"), statechart.Actions(trace.Action("R2.step"))),
					statechart.On("leave", statechart.Target("b2")),
				),
				statechart.State("b2", statechart.On("finish2", statechart.Target("done2"))),
				statechart.Final("done2"),
			),
			statechart.OnDone(statechart.Target("#Complete")),
		),
		statechart.State("Out"),
		statechart.State("Complete"),
	)

	t.Run("both regions take their transition", func(t *testing.T) {
		trace.Reset()
		interpreter := start(t, definition, nil)
		assert.Equal(t, []string{"P.R1.a", "P.R2.b"}, interpreter.Configuration().Leaves())
		configuration := send(t, interpreter, "step")
		assert.Equal(t, []string{"P.R1.a2", "P.R2.b2"}, configuration.Leaves())
		assert.Equal(t, []string{"b.exit", "a.exit", "R1.step", "R2.step"}, trace.Actions())
	})
	t.Run("leaving the parallel state preempts the other region", func(t *testing.T) {
		interpreter := start(t, definition, nil)
		assert.Equal(t, statechart.Configuration{"Out"}, send(t, interpreter, "leave"))
	})
	t.Run("done events", func(t *testing.T) {
		trace.Reset()
		interpreter := start(t, definition, nil)
		send(t, interpreter, "step")
		configuration := send(t, interpreter, "finish")
		assert.Equal(t, []string{"P.R1.done1", "P.R2.b2"}, configuration.Leaves())
		assert.Contains(t, trace.Actions(), "R1.done")

		// a completed region ignores its own transitions
		configuration = send(t, interpreter, "reset")
		assert.Equal(t, []string{"P.R1.done1", "P.R2.b2"}, configuration.Leaves())

		assert.Equal(t, statechart.Configuration{"Complete"}, send(t, interpreter, "finish2"))
		assert.Equal(t, statechart.StatusActive, interpreter.Status())
	})
	t.Run("nested parallel states complete outward", func(t *testing.T) {
		nested := statechart.MustDefine("machine",
			statechart.Parallel("Outer",
				statechart.Parallel("Inner",
					statechart.State("R1",
						statechart.State("A", statechart.On("go", statechart.Target("F"))),
						statechart.Final("F"),
					),
				),
				statechart.State("R2", statechart.Final("G")),
				statechart.OnDone(statechart.Target("#Done")),
			),
			statechart.State("Done"),
		)
		interpreter := start(t, nested, nil)
		assert.Equal(t, []string{"Outer.Inner.R1.A", "Outer.R2.G"}, interpreter.Configuration().Leaves())
		assert.Equal(t, statechart.Configuration{"Done"}, send(t, interpreter, "go"))
	})
}

func TestFinalState(t *testing.T) {
	calls := 0
	definition := statechart.MustDefine("machine",
		statechart.State("running", statechart.On("stop", statechart.Target("finished"))),
		statechart.Final("finished"),
		statechart.Output(func(c any, _ statechart.Event) any {
			calls++
			return c.(int) * 2
		}),
	)
	interpreter := start(t, definition, 21)
	send(t, interpreter, "stop")
	assert.Equal(t, statechart.StatusDone, interpreter.Status())
	assert.Equal(t, 42, interpreter.Output())

	assert.Equal(t, statechart.Configuration{"finished"}, send(t, interpreter, "stop"))
	assert.Equal(t, 1, calls)

	snapshot := interpreter.Snapshot()
	assert.Equal(t, statechart.StatusDone, snapshot.Status)
	assert.Equal(t, 42, snapshot.Output)
	assert.True(t, snapshot.Matches("#finished"))
}

func TestActionFailure(t *testing.T) {
	errBoom := errors.New("boom")
	trace := &tests.Recorder{}
	increment := statechart.Assign(func(c int, _ statechart.Event) int { return c + 1 })
	definition := statechart.MustDefine("machine",
		statechart.State("A",
			statechart.Exit(trace.Action("A.exit")),
			statechart.On("go", statechart.Target("B"), statechart.Actions(increment, trace.Fail("fail", errBoom))),
			statechart.On("enter", statechart.Target("C")),
			statechart.On("emit", statechart.Actions(
				statechart.Emit(func(c int, _ statechart.Event) statechart.Event { return statechart.NewEvent("emitted") }),
				statechart.SendTo(statechart.ToSelf(), func(c int, _ statechart.Event) statechart.Event { return statechart.NewEvent("enter") }),
				trace.Fail("fail", errBoom),
			)),
		),
		statechart.State("B", statechart.Entry(trace.Action("B.entry"))),
		statechart.State("C", statechart.Entry(trace.Fail("C.entry", errBoom))),
	)
	interpreter := start(t, definition, 0)

	t.Run("transition action", func(t *testing.T) {
		trace.Reset()
		configuration, err := interpreter.Send(context.Background(), statechart.NewEvent("go"))
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, statechart.Configuration{"A"}, configuration)
		assert.Equal(t, 1, interpreter.Context())
		assert.Equal(t, []string{"A.exit", "fail"}, trace.Actions())
		assert.Equal(t, statechart.StatusActive, interpreter.Status())
	})
	t.Run("entry action", func(t *testing.T) {
		_, err := interpreter.Send(context.Background(), statechart.NewEvent("enter"))
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, statechart.Configuration{"A"}, interpreter.Configuration())
	})
	t.Run("deferred sends are discarded", func(t *testing.T) {
		emitted := 0
		unsubscribe := interpreter.On("emitted", func(statechart.Event) { emitted++ })
		defer unsubscribe()
		_, err := interpreter.Send(context.Background(), statechart.NewEvent("emit"))
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, emitted)
		assert.Equal(t, statechart.Configuration{"A"}, interpreter.Configuration())
	})
	t.Run("recovers", func(t *testing.T) {
		assert.Equal(t, statechart.Configuration{"A"}, send(t, interpreter, "unknown"))
	})
}

type unsupportedEffect struct{}

func (unsupportedEffect) Kind() uint64 { return 0 }

func TestGroupedEffects(t *testing.T) {
	group := func(last statechart.Effect) statechart.ActionFunc {
		return func(context.Context, statechart.Scope, statechart.Event) (statechart.Effect, error) {
			return statechart.Effects{
				statechart.Patch{Context: 2},
				statechart.Emitted{Event: statechart.NewEvent("emitted")},
				statechart.Raised{Event: statechart.NewEvent("next")},
				last,
			}, nil
		}
	}
	definition := statechart.MustDefine("machine",
		statechart.State("A",
			statechart.On("bad", statechart.Actions(group(unsupportedEffect{}))),
			statechart.On("good", statechart.Actions(group(nil))),
			statechart.On("next", statechart.Target("B")),
		),
		statechart.State("B"),
	)
	interpreter := start(t, definition, 1)
	emitted := 0
	unsubscribe := interpreter.On("emitted", func(statechart.Event) { emitted++ })
	defer unsubscribe()

	_, err := interpreter.Send(context.Background(), statechart.NewEvent("bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported effect")
	assert.Equal(t, 1, interpreter.Context())
	assert.Zero(t, emitted)
	assert.Equal(t, statechart.Configuration{"A"}, interpreter.Configuration())

	assert.Equal(t, statechart.Configuration{"B"}, send(t, interpreter, "good"))
	assert.Equal(t, 2, interpreter.Context())
	assert.Equal(t, 1, emitted)
}

func TestRaisedEvents(t *testing.T) {
	definition := statechart.MustDefine("machine",
		statechart.State("A", statechart.On("go", statechart.Target("B"), statechart.Actions(
			statechart.Raise(func(_ any, _ statechart.Event) statechart.Event { return statechart.NewEvent("next") }),
		))),
		statechart.State("B", statechart.On("next", statechart.Target("C"))),
		statechart.State("C"),
	)
	interpreter := start(t, definition, nil)
	assert.Equal(t, statechart.Configuration{"C"}, send(t, interpreter, "go"))
}

func TestSendToSelf(t *testing.T) {
	definition := statechart.MustDefine("machine",
		statechart.State("A", statechart.On("go", statechart.Target("B"), statechart.Actions(
			statechart.SendTo(statechart.ToSelf(), func(_ any, _ statechart.Event) statechart.Event { return statechart.NewEvent("next") }),
			statechart.SendTo(statechart.ToParent(), func(_ any, _ statechart.Event) statechart.Event { return statechart.NewEvent("dropped") }),
		))),
		statechart.State("B", statechart.On("next", statechart.Target("C"))),
		statechart.State("C"),
	)
	interpreter := start(t, definition, nil)
	assert.Equal(t, statechart.Configuration{"C"}, send(t, interpreter, "go"))
}

func TestReentrantSend(t *testing.T) {
	definition := statechart.MustDefine("machine",
		statechart.State("A", statechart.On("go", statechart.Target("B"), statechart.Actions(
			statechart.Emit(func(_ any, _ statechart.Event) statechart.Event { return statechart.NewEvent("ping") }),
		))),
		statechart.State("B", statechart.On("pong", statechart.Target("C"))),
		statechart.State("C"),
	)
	interpreter := start(t, definition, nil)
	var pings []statechart.Event
	interpreter.On("ping", func(event statechart.Event) {
		pings = append(pings, event)
		// queued until the current event completes
		_, err := interpreter.Send(context.Background(), statechart.NewEvent("pong"))
		assert.NoError(t, err)
		assert.False(t, interpreter.Matches("C"))
	})
	assert.Equal(t, statechart.Configuration{"C"}, send(t, interpreter, "go"))
	require.Len(t, pings, 1)
	assert.NotEmpty(t, pings[0].ID)
}

func TestTraceSteps(t *testing.T) {
	trace := &tests.Recorder{}
	definition := statechart.MustDefine("machine",
		statechart.State("A", statechart.On("go", statechart.Guard("ready"), statechart.Target("B"))),
		statechart.State("B"),
		statechart.Provide(statechart.Implementations{
			Guards: map[string]statechart.GuardFunc{
				"ready": func(any, statechart.Event) bool { return true },
			},
		}),
	)
	interpreter := start(t, definition, nil, statechart.WithTrace(trace.Trace()))
	assert.Equal(t, []string{"start:machine", "enter:", "enter:A"}, trace.Steps())

	trace.Reset()
	send(t, interpreter, "go")
	assert.Equal(t, []string{"send:go", "evaluate:ready", "exit:A", "transition:A.on.go[0]", "enter:B"}, trace.Steps())
}

func TestLifecycle(t *testing.T) {
	definition := statechart.MustDefine("machine", statechart.State("A"))
	interpreter := statechart.NewInterpreter(definition)

	_, err := interpreter.Send(context.Background(), statechart.NewEvent("go"))
	assert.ErrorIs(t, err, statechart.ErrNotStarted)

	_, err = interpreter.Start(context.Background(), nil)
	require.NoError(t, err)
	_, err = interpreter.Start(context.Background(), nil)
	assert.ErrorIs(t, err, statechart.ErrAlreadyStarted)

	interpreter.Stop()
	assert.Equal(t, statechart.StatusStopped, interpreter.Status())
	_, err = interpreter.Send(context.Background(), statechart.NewEvent("go"))
	assert.ErrorIs(t, err, statechart.ErrStopped)
}

func TestStartFailure(t *testing.T) {
	errBoom := errors.New("boom")
	definition := statechart.MustDefine("machine",
		statechart.State("A"),
		statechart.Context(func(context.Context, statechart.Scope, any) (any, error) {
			return nil, errBoom
		}),
	)
	interpreter := statechart.NewInterpreter(definition)
	_, err := interpreter.Start(context.Background(), nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, statechart.StatusIdle, interpreter.Status())
	assert.Empty(t, interpreter.Configuration())
}

func TestContextFactory(t *testing.T) {
	type counter struct{ Count int }
	definition := statechart.MustDefine("machine",
		statechart.Context(func(_ context.Context, _ statechart.Scope, input any) (any, error) {
			return counter{Count: input.(int)}, nil
		}),
		statechart.State("A", statechart.On("inc", statechart.Actions(
			statechart.Assign(func(c counter, _ statechart.Event) counter {
				c.Count++
				return c
			}),
		))),
	)
	interpreter := start(t, definition, 5)
	send(t, interpreter, "inc")
	send(t, interpreter, "inc")
	assert.Equal(t, counter{Count: 7}, interpreter.Context())
}

func TestContextTypeMismatch(t *testing.T) {
	definition := statechart.MustDefine("machine",
		statechart.State("A", statechart.On("inc", statechart.Actions(
			statechart.Assign(func(c int, _ statechart.Event) int { return c + 1 }),
		))),
	)
	interpreter := start(t, definition, "not a number")
	_, err := interpreter.Send(context.Background(), statechart.NewEvent("inc"))
	assert.ErrorIs(t, err, statechart.ErrContextType)
}

func TestSnapshotTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fake := clock.NewFake(now)
	definition := statechart.MustDefine("machine", statechart.State("A"))
	interpreter := start(t, definition, nil, statechart.WithClock(fake))
	assert.Equal(t, now, interpreter.Snapshot().Timestamp)
	fake.Advance(time.Minute)
	assert.Equal(t, now.Add(time.Minute), interpreter.Snapshot().Timestamp)
}

func TestGuardCombinators(t *testing.T) {
	positive := statechart.When(func(c int, _ statechart.Event) bool { return c > 0 })
	even := statechart.When(func(c int, _ statechart.Event) bool { return c%2 == 0 })
	assert.True(t, statechart.And(positive, even)(4, statechart.Event{}))
	assert.False(t, statechart.And(positive, even)(3, statechart.Event{}))
	assert.True(t, statechart.Or(positive, even)(-2, statechart.Event{}))
	assert.True(t, statechart.Not(positive)(-1, statechart.Event{}))
	assert.False(t, positive("text", statechart.Event{}))
}
