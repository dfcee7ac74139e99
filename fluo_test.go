package fluo_test

import (
	"strings"
	"testing"

	fluo "github.com/fluo-sh/fluo"
	"github.com/stretchr/testify/require"
)

const turnstileYAML = `
id: turnstile
context:
  coins: 0
states:
  locked:
    entry: [announce:locked]
    on:
      coin: { target: unlocked, actions: [addCoin] }
      push: { actions: [denyEntry] }
  unlocked:
    entry: [announce:unlocked]
    on:
      push: { target: locked }
initial: locked
`

func TestEndToEndTurnstile(t *testing.T) {
	reg := fluo.NewRegistry()
	var announcements []string
	require.NoError(t, reg.RegisterAction("announce", func(args fluo.Args) {
		announcements = append(announcements, args[0])
	}))
	var coins int
	require.NoError(t, reg.RegisterAction("addCoin", func(ctx *fluo.Context) {
		coins++
		ctx.Set("coins", coins)
	}))
	var denied int
	require.NoError(t, reg.RegisterAction("denyEntry", func() { denied++ }))

	cfg, err := fluo.LoadConfig(strings.NewReader(turnstileYAML))
	require.NoError(t, err)

	machine, err := fluo.Compile(cfg, reg)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"coin", "push"}, fluo.EventNames(machine))

	state, err := fluo.InitialState(machine)
	require.NoError(t, err)
	require.Equal(t, []string{"turnstile.locked"}, fluo.CurrentValue(state))

	state, res, err := fluo.Step(machine, state, fluo.NewEvent("push"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"turnstile.locked"}, fluo.CurrentValue(state))
	require.Equal(t, 1, denied)

	state, res, err = fluo.Step(machine, state, fluo.NewEvent("coin"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.True(t, fluo.Matches(state, "unlocked"))
	require.False(t, fluo.Matches(state, "locked"))

	v, ok := state.Context.Get("coins")
	require.True(t, ok)
	require.Equal(t, 1, v)

	state, res, err = fluo.Step(machine, state, fluo.NewEvent("push"))
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, []string{"turnstile.locked"}, fluo.CurrentValue(state))

	require.Equal(t, []string{"locked", "unlocked", "locked"}, announcements)

	printer := fluo.NewLogPrinter("turnstile")
	require.NotNil(t, printer)
}

func TestEndToEndUnmatchedEventAbortsWithNoTransitionForEvent(t *testing.T) {
	reg := fluo.NewRegistry()
	cfg, err := fluo.LoadConfig(strings.NewReader(`
id: m
states:
  a: {}
initial: a
`))
	require.NoError(t, err)

	machine, err := fluo.Compile(cfg, reg)
	require.NoError(t, err)

	state, err := fluo.InitialState(machine)
	require.NoError(t, err)

	got, res, err := fluo.Step(machine, state, fluo.NewEvent("nope"))
	require.Error(t, err)
	var target *fluo.NoTransitionForEventError
	require.ErrorAs(t, err, &target)
	require.Equal(t, "nope", target.EventType)
	require.False(t, res.Matched)
	require.Same(t, state, got)
}
