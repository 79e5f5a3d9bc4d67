package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/tool"
)

// slowTool is a configurable tool used to exercise the parallel executor.
type slowTool struct {
	name       string
	delay      time.Duration
	result     any
	err        error
	stateKey   string
	stateValue any
}

func (t *slowTool) Name() string                { return t.name }
func (t *slowTool) Description() string         { return "test tool" }
func (t *slowTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (t *slowTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.stateKey != "" {
		tc.SetState(t.stateKey, t.stateValue)
	}
	return t.result, t.err
}

type panicTool struct{}

func (panicTool) Name() string                                     { return "panics" }
func (panicTool) Description() string                              { return "always panics" }
func (panicTool) Parameters() map[string]any                       { return map[string]any{"type": "object"} }
func (panicTool) Call(*core.ToolContext, map[string]any) (any, error) { panic("kaboom") }

func execBatch(t *testing.T, registry map[string]tool.Tool, cfg FunctionExecutorConfig, calls []core.FunctionCall) ([]core.Event, error) {
	t.Helper()
	rc := newFlowRunContext("batch")
	agent := &mockFlowAgent{name: "order_agent", tools: registry}
	exec := NewParallelFunctionExecutor(cfg)

	var emitted []core.Event
	err := exec.Execute(rc, agent, registry, calls, func(ev core.Event) error {
		emitted = append(emitted, ev)
		return nil
	})
	return emitted, err
}

func TestParallelFunctionExecutor_PreservesOrder(t *testing.T) {
	registry := map[string]tool.Tool{
		"t1": &slowTool{name: "t1", delay: 30 * time.Millisecond, result: "r1", stateKey: "a", stateValue: 1},
		"t2": &slowTool{name: "t2", delay: 5 * time.Millisecond, result: "r2"},
	}
	calls := []core.FunctionCall{
		{ID: "fc1", Name: "t1", Arguments: "{}"},
		{ID: "fc2", Name: "t2", Arguments: "{}"},
	}

	emitted, err := execBatch(t, registry, FunctionExecutorConfig{PreserveOrder: true}, calls)
	require.NoError(t, err)
	require.Len(t, emitted, 2)

	// t2 finishes first but the slower t1 must still be emitted first.
	assert.Equal(t, "t1", emitted[0].GetFunctionResponses()[0].Name)
	assert.Equal(t, "t2", emitted[1].GetFunctionResponses()[0].Name)
	assert.Equal(t, 1, emitted[0].Actions.StateDelta["a"])
}

func TestParallelFunctionExecutor_ToolErrorBecomesResponse(t *testing.T) {
	registry := map[string]tool.Tool{
		"bad": &slowTool{name: "bad", err: errors.New("boom")},
	}
	emitted, err := execBatch(t, registry, FunctionExecutorConfig{}, []core.FunctionCall{
		{ID: "fc1", Name: "bad", Arguments: "{}"},
	})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, "boom", emitted[0].GetFunctionResponses()[0].Error)
}

func TestParallelFunctionExecutor_UnknownTool(t *testing.T) {
	emitted, err := execBatch(t, map[string]tool.Tool{}, FunctionExecutorConfig{}, []core.FunctionCall{
		{ID: "fc1", Name: "nope", Arguments: "{}"},
	})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Contains(t, emitted[0].GetFunctionResponses()[0].Error, "not found")
}

func TestParallelFunctionExecutor_RecoversPanic(t *testing.T) {
	registry := map[string]tool.Tool{"panics": panicTool{}}
	emitted, err := execBatch(t, registry, FunctionExecutorConfig{}, []core.FunctionCall{
		{ID: "fc1", Name: "panics", Arguments: "{}"},
	})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.NotEmpty(t, emitted[0].GetFunctionResponses()[0].Error)
}

func TestParallelFunctionExecutor_SuspensionShortCircuits(t *testing.T) {
	gated := tool.WithConfirmation(tool.NewFunctionTool("refund_order", "Refund an order",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return "refunded", nil }))

	registry := map[string]tool.Tool{
		"ok":           &slowTool{name: "ok", result: "fine"},
		"refund_order": gated,
	}
	calls := []core.FunctionCall{
		{ID: "fc1", Name: "ok", Arguments: "{}"},
		{ID: "fc2", Name: "refund_order", Arguments: "{}"},
	}

	emitted, err := execBatch(t, registry, FunctionExecutorConfig{PreserveOrder: true}, calls)
	require.Error(t, err)

	var confirm *tool.ConfirmationRequired
	require.True(t, errors.As(err, &confirm))
	assert.Equal(t, "refund_order", confirm.Pending.ActionType)

	// The completed call still yields its response; the gated call yields none.
	require.Len(t, emitted, 1)
	assert.Equal(t, "ok", emitted[0].GetFunctionResponses()[0].Name)
}
