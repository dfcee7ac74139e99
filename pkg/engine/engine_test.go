package engine_test

import (
	"strings"
	"testing"

	"github.com/fluo-sh/fluo/pkg/compiler"
	"github.com/fluo-sh/fluo/pkg/config"
	"github.com/fluo-sh/fluo/pkg/definition"
	"github.com/fluo-sh/fluo/pkg/engine"
	"github.com/fluo-sh/fluo/pkg/eventlog"
	"github.com/fluo-sh/fluo/pkg/fcontext"
	"github.com/fluo-sh/fluo/pkg/ferrors"
	"github.com/fluo-sh/fluo/pkg/fevent"
	"github.com/fluo-sh/fluo/pkg/registry"
	"github.com/fluo-sh/fluo/pkg/runtime"
	"github.com/stretchr/testify/require"
)

func buildMachine(t *testing.T, yamlDoc string, reg *registry.Registry) *definition.Machine {
	t.Helper()
	cfg, err := config.Load(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	m, err := compiler.Compile(cfg, reg)
	require.NoError(t, err)
	return m
}

func TestInitialStateEntersNestedInitialLeaf(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  a:
    states:
      a1: {}
      a2: {}
    initial: a1
  b: {}
initial: a
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)
	require.Equal(t, []string{"m.a.a1"}, runtime.CurrentValue(st))
	require.True(t, runtime.Matches(st, "a"))
	require.True(t, runtime.Matches(st, "a.a1"))
	require.False(t, runtime.Matches(st, "b"))
}

func TestInitialStateEntersEveryParallelRegion(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  p:
    type: parallel
    states:
      r1:
        states:
          r1a: {}
        initial: r1a
      r2:
        states:
          r2a: {}
        initial: r2a
initial: p
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"m.p.r1.r1a", "m.p.r2.r2a"}, runtime.CurrentValue(st))
}

func TestStepExitsEntersAndRunsActions(t *testing.T) {
	reg := registry.New()
	var trail []string
	require.NoError(t, reg.RegisterAction("leaveA", func() { trail = append(trail, "exit:a") }))
	require.NoError(t, reg.RegisterAction("enterB", func() { trail = append(trail, "enter:b") }))
	require.NoError(t, reg.RegisterAction("onGo", func() { trail = append(trail, "action:go") }))

	m := buildMachine(t, `
id: m
states:
  a:
    exit: [leaveA]
    on:
      go: { target: b, actions: [onGo] }
  b:
    entry: [enterB]
initial: a
`, reg)

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	st, res, err := engine.Step(m, st, fevent.New("go"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"m.b"}, runtime.CurrentValue(st))
	require.Equal(t, []string{"exit:a", "action:go", "enter:b"}, trail)
}

func TestStepUnmatchedEventAbortsAndLeavesStateUnchanged(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  a: {}
  b: {}
initial: a
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	next, res, err := engine.Step(m, st, fevent.New("nope"))
	require.Error(t, err)
	var target *ferrors.NoTransitionForEventError
	require.ErrorAs(t, err, &target)
	require.Equal(t, "nope", target.EventType)
	require.False(t, res.Matched)
	require.Same(t, st, next)
	require.Equal(t, []string{"m.a"}, runtime.CurrentValue(next))
}

func TestArbitrationPicksFirstPassingBranch(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterGuard("isBig", func(ctx *fcontext.Context) bool {
		v, _ := ctx.Get("amount")
		n, _ := v.(int)
		return n > 100
	}))

	m := buildMachine(t, `
id: m
context:
  amount: 5
states:
  a:
    on:
      submit:
        - { target: big, guards: [isBig] }
        - { target: small }
  big: {}
  small: {}
initial: a
`, reg)

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	st, res, err := engine.Step(m, st, fevent.New("submit"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"m.small"}, runtime.CurrentValue(st))
}

func TestInternalTransitionKeepsActiveState(t *testing.T) {
	reg := registry.New()
	var fired bool
	require.NoError(t, reg.RegisterAction("bump", func() { fired = true }))

	m := buildMachine(t, `
id: m
states:
  a:
    on:
      tick: { actions: [bump] }
initial: a
`, reg)

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	st, res, err := engine.Step(m, st, fevent.New("tick"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"m.a"}, runtime.CurrentValue(st))
	require.True(t, fired)
}

func TestAlwaysSettlesToFixedPoint(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  a:
    always: b
  b:
    always: c
  c: {}
initial: a
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)
	require.Equal(t, []string{"m.c"}, runtime.CurrentValue(st))
}

func TestDoneStateBubblesFromCompoundChild(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  wrapper:
    onDone: { target: finished }
    states:
      working:
        on:
          complete: done
      done:
        type: final
    initial: working
  finished: {}
initial: wrapper
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)
	require.Equal(t, []string{"m.wrapper.working"}, runtime.CurrentValue(st))

	st, res, err := engine.Step(m, st, fevent.New("complete"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"m.finished"}, runtime.CurrentValue(st))
	require.Contains(t, res.RaisedEvents, "done.state.m.wrapper")
}

func TestDoneStateRequiresEveryParallelRegionFinal(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  p:
    onDone: { target: finished }
    type: parallel
    states:
      r1:
        states:
          working1:
            on:
              c1: done1
          done1:
            type: final
        initial: working1
      r2:
        states:
          working2:
            on:
              c2: done2
          done2:
            type: final
        initial: working2
  finished: {}
initial: p
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	st, res, err := engine.Step(m, st, fevent.New("c1"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.ElementsMatch(t, []string{"m.p.r1.done1", "m.p.r2.working2"}, runtime.CurrentValue(st))
	require.Contains(t, res.RaisedEvents, "done.state.m.p.r1")
	require.NotContains(t, res.RaisedEvents, "done.state.m.p")

	st, res, err = engine.Step(m, st, fevent.New("c2"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"m.finished"}, runtime.CurrentValue(st))
	require.Contains(t, res.RaisedEvents, "done.state.m.p")
}

func TestShallowHistoryResumesLastActiveChild(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  player:
    history: shallow
    states:
      playing: { on: { pause: paused } }
      paused: { on: { play: playing } }
    initial: playing
    on:
      stop: stopped
  stopped:
    on:
      resume: player
initial: player
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	st, _, err = engine.Step(m, st, fevent.New("pause"))
	require.NoError(t, err)
	require.Equal(t, []string{"m.player.paused"}, runtime.CurrentValue(st))

	st, _, err = engine.Step(m, st, fevent.New("stop"))
	require.NoError(t, err)
	require.Equal(t, []string{"m.stopped"}, runtime.CurrentValue(st))

	st, _, err = engine.Step(m, st, fevent.New("resume"))
	require.NoError(t, err)
	require.Equal(t, []string{"m.player.paused"}, runtime.CurrentValue(st))
}

func TestStepDoesNotMutateInputState(t *testing.T) {
	reg := registry.New()
	m := buildMachine(t, `
id: m
states:
  a:
    on:
      go: b
  b: {}
initial: a
`, reg)

	before, err := engine.InitialState(m)
	require.NoError(t, err)

	_, _, err = engine.Step(m, before, fevent.New("go"))
	require.NoError(t, err)
	require.Equal(t, []string{"m.a"}, runtime.CurrentValue(before))
}

func TestInitialStateEmitsMachineFinishWhenAlwaysChainLandsOnFinal(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  a:
    always: b
  b:
    always: c
  c:
    type: final
initial: a
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)
	require.Equal(t, []string{"m.c"}, runtime.CurrentValue(st))

	var tags []eventlog.Tag
	for _, rec := range st.Log.Records() {
		tags = append(tags, rec.Tag)
	}
	require.Equal(t, eventlog.MachineStart, tags[0])
	require.Equal(t, eventlog.MachineFinish, tags[len(tags)-1])
}

func TestStepEmitsMachineFinishWhenTransitionLandsOnFinal(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  a:
    on:
      go: b
  b:
    type: final
initial: a
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	var before []eventlog.Tag
	for _, rec := range st.Log.Records() {
		before = append(before, rec.Tag)
	}
	require.NotContains(t, before, eventlog.MachineFinish)

	st, res, err := engine.Step(m, st, fevent.New("go"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"m.b"}, runtime.CurrentValue(st))

	recs := st.Log.Records()
	require.Equal(t, eventlog.MachineFinish, recs[len(recs)-1].Tag)
}

func TestStepDoesNotEmitMachineFinishWhenOnlySomeLeavesAreFinal(t *testing.T) {
	m := buildMachine(t, `
id: m
states:
  p:
    type: parallel
    states:
      r1:
        initial: working
        states:
          working:
            on:
              done1: finished
          finished:
            type: final
      r2:
        initial: pending
        states:
          pending: {}
initial: p
`, registry.New())

	st, err := engine.InitialState(m)
	require.NoError(t, err)

	st, _, err = engine.Step(m, st, fevent.New("done1"))
	require.NoError(t, err)

	for _, rec := range st.Log.Records() {
		require.NotEqual(t, eventlog.MachineFinish, rec.Tag)
	}
}
