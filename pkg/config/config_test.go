package config_test

import (
	"strings"
	"testing"

	"github.com/fluo-sh/fluo/pkg/config"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
id: order
delimiter: "."
context:
  total: 0
states:
  pending:
    on:
      pay: { target: paid, guards: [hasFunds], actions: [charge] }
  paid:
    entry: [notify]
  cancelled:
    type: final
initial: pending
on:
  cancel: cancelled
`

func TestLoadPreservesChildOrder(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "order", cfg.ID)
	require.NotNil(t, cfg.Root)
	require.Equal(t, []string{"pending", "paid", "cancelled"}, cfg.Root.ChildrenOrder)
	require.Equal(t, "pending", cfg.Root.Initial)
}

func TestLoadNormalizesTransitionShapes(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	pending := cfg.Root.States["pending"]
	raw, ok := pending.On["pay"]
	require.True(t, ok)
	require.Len(t, raw.Branches, 1)
	require.Equal(t, "paid", raw.Branches[0].Target)
	require.Equal(t, []config.BehaviorRef{"hasFunds"}, raw.Branches[0].Guards)

	rootOn, ok := cfg.Root.On["cancel"]
	require.True(t, ok)
	require.Equal(t, "cancelled", rootOn.Branches[0].Target)
}

func TestLoadJSONMirrorsYAMLOrder(t *testing.T) {
	jsonDoc := `{
		"id": "order",
		"states": {
			"pending": {"on": {"pay": {"target": "paid"}}},
			"paid": {},
			"cancelled": {"type": "final"}
		},
		"initial": "pending"
	}`
	cfg, err := config.LoadJSON(strings.NewReader(jsonDoc))
	require.NoError(t, err)
	require.Equal(t, []string{"pending", "paid", "cancelled"}, cfg.Root.ChildrenOrder)
}

func TestRawTransitionNullMeansSelfNoTarget(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(`
id: m
states:
  a:
    on:
      noop: null
initial: a
`))
	require.NoError(t, err)
	raw := cfg.Root.States["a"].On["noop"]
	require.True(t, raw.IsNull)
	require.Empty(t, raw.Branches)
}

func TestRawTransitionSequenceOfBranches(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(`
id: m
states:
  a:
    on:
      go:
        - target: b
          guards: [g1]
        - target: c
initial: a
  `))
	require.NoError(t, err)
	raw := cfg.Root.States["a"].On["go"]
	require.Len(t, raw.Branches, 2)
	require.Equal(t, "b", raw.Branches[0].Target)
	require.Equal(t, "c", raw.Branches[1].Target)
}
