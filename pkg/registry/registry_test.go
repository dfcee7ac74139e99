package registry_test

import (
	"testing"

	"github.com/fluo-sh/fluo/pkg/fcontext"
	"github.com/fluo-sh/fluo/pkg/fevent"
	"github.com/fluo-sh/fluo/pkg/queue"
	"github.com/fluo-sh/fluo/pkg/registry"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndInvokeAction(t *testing.T) {
	reg := registry.New()
	var called bool
	err := reg.RegisterAction("greet", func(ctx *fcontext.Context, args registry.Args) {
		called = true
		ctx.Set("greeted", args[0])
	})
	require.NoError(t, err)

	binding, err := reg.ResolveAction("greet:world")
	require.NoError(t, err)
	require.Equal(t, "greet", binding.Name())

	ctx, _ := fcontext.New(nil, nil)
	err = binding.InvokeAction(registry.Inputs{Context: ctx})
	require.NoError(t, err)
	require.True(t, called)

	v, _ := ctx.Get("greeted")
	require.Equal(t, "world", v)
}

func TestRegisterActionRejectsUnsupportedParam(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterAction("bad", func(x int) {})
	require.Error(t, err)
}

func TestResolveUnknownBehaviorFails(t *testing.T) {
	reg := registry.New()
	_, err := reg.ResolveAction("missing")
	require.Error(t, err)
}

func TestGuardPlainBoolReturn(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterGuard("isReady", func(ctx *fcontext.Context) bool {
		v, _ := ctx.Get("ready")
		ready, _ := v.(bool)
		return ready
	}))

	binding, err := reg.ResolveGuard("isReady")
	require.NoError(t, err)

	ctx, _ := fcontext.New(map[string]any{"ready": true}, nil)
	outcome, err := binding.InvokeGuard(registry.Inputs{Context: ctx})
	require.NoError(t, err)
	require.True(t, outcome.Pass)
}

func TestGuardValidationStyleReturn(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterGuard("hasStock", func(ctx *fcontext.Context) (bool, string) {
		return false, "out of stock"
	}))

	binding, _ := reg.ResolveGuard("hasStock")
	ctx, _ := fcontext.New(nil, nil)
	outcome, err := binding.InvokeGuard(registry.Inputs{Context: ctx})
	require.NoError(t, err)
	require.False(t, outcome.Pass)
	require.Equal(t, "out of stock", outcome.Message)
	require.True(t, outcome.IsValidation)
}

func TestCalculatorUsesEventAndRaise(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterCalculator("echo", func(ev fevent.Event, raise queue.Raiser) {
		raise("echoed", ev.Payload)
	}))

	binding, err := reg.ResolveCalculator("echo")
	require.NoError(t, err)

	var capturedType string
	var raise queue.Raiser = func(eventType string, payload any) { capturedType = eventType }
	err = binding.InvokeCalculator(registry.Inputs{Event: fevent.New("x").WithPayload(7), Raise: raise})
	require.NoError(t, err)
	require.Equal(t, "echoed", capturedType)
}

type upperCaseInvokable struct{}

func (upperCaseInvokable) Type() string { return "upper" }
func (upperCaseInvokable) Invoke(in registry.Inputs) (any, error) {
	return true, nil
}

func TestRegisterInvokable(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterInvokable(registry.KindGuard, upperCaseInvokable{}))

	binding, err := reg.ResolveGuard("upper")
	require.NoError(t, err)
	outcome, err := binding.InvokeGuard(registry.Inputs{})
	require.NoError(t, err)
	require.True(t, outcome.Pass)
}

func TestEventClassAndContextShape(t *testing.T) {
	reg := registry.New()
	reg.RegisterEventClass("OrderPlaced", "order.placed")
	eventType, ok := reg.ResolveEventClass("OrderPlaced")
	require.True(t, ok)
	require.Equal(t, "order.placed", eventType)

	shape := &fcontext.Shape{Name: "order"}
	reg.RegisterContextShape("order", shape)
	got, ok := reg.ResolveContextShape("order")
	require.True(t, ok)
	require.Same(t, shape, got)
}

func TestActionPanicIsRecoveredAsError(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterAction("boom", func() {
		panic("kaboom")
	}))
	binding, _ := reg.ResolveAction("boom")
	err := binding.InvokeAction(registry.Inputs{})
	require.Error(t, err)
}
