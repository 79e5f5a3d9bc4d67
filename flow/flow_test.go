package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/tool"
)

// mockFlowAgent is a minimal FlowAgent for exercising flows without the agent
// package (avoids an import cycle in tests).
type mockFlowAgent struct {
	name      string
	llm       model.Model
	tools     map[string]tool.Tool
	transfer  bool
	subs      []FlowAgent
	outputKey string
	streaming bool
}

func (a *mockFlowAgent) GetName() string                                      { return a.name }
func (a *mockFlowAgent) GetLLM() model.Model                                  { return a.llm }
func (a *mockFlowAgent) ResolveInstructions(*core.RunContext) (string, error) { return "You help.", nil }
func (a *mockFlowAgent) GetTools() map[string]tool.Tool                       { return a.tools }
func (a *mockFlowAgent) GetSubAgents() []FlowAgent                            { return a.subs }
func (a *mockFlowAgent) IsFunctionCallingEnabled() bool                       { return true }
func (a *mockFlowAgent) IsStreamingEnabled() bool                             { return a.streaming }
func (a *mockFlowAgent) IsTransferEnabled() bool                              { return a.transfer }
func (a *mockFlowAgent) GetOutputKey() string                                 { return a.outputKey }
func (a *mockFlowAgent) MaxHistoryMessages() int                              { return 20 }

func (a *mockFlowAgent) ExecuteTool(toolCtx *core.ToolContext, toolName string, args string) (any, error) {
	impl, ok := a.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", toolName)
	}
	var argMap map[string]any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, err
		}
	}
	return impl.Call(toolCtx, argMap)
}

func (a *mockFlowAgent) TransferToAgent(*core.RunContext, string) error { return nil }

func newFlowRunContext(userText string) *core.RunContext {
	emit := make(chan core.Event, 100)
	userContent := core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: userText}}}
	return core.NewRunContext(
		context.Background(),
		"sess", "run-1",
		core.AgentInfo{Name: "order_agent", Type: "capability"},
		userContent,
		100,
		emit, nil,
		core.NewSession("sess"), nil,
		logging.NoOpLogger{},
	)
}

func drain(t *testing.T, ch <-chan core.Event) []core.Event {
	t.Helper()
	var events []core.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timeout draining events, got %d so far", len(events))
		}
	}
}

func TestBaseFlow_PlainTextTurn(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.AddResponse("hello", "hi, how can I help?")

	agent := &mockFlowAgent{name: "order_agent", llm: m, tools: map[string]tool.Tool{}}
	bf := NewBaseFlow(agent)
	bf.AddRequestProcessor(NewInstructionsProcessor())
	bf.AddRequestProcessor(NewContentsProcessor())

	rc := newFlowRunContext("hello")
	evCh, err := bf.Execute(rc)
	require.NoError(t, err)

	events := drain(t, evCh)
	require.Len(t, events, 1)
	assert.Equal(t, "hi, how can I help?", events[0].Text())
	assert.NotNil(t, events[0].TurnComplete)
	assert.True(t, *events[0].TurnComplete)
}

func TestBaseFlow_ToolLoop(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.AddToolCall("where is my order?", "fc-1", "view_order", map[string]any{"order_id": "100000023"})
	m.AddResponse("where is my order?", "Your order shipped yesterday.")

	viewOrder := tool.NewFunctionTool("view_order", "Look up an order",
		map[string]any{"type": "object", "properties": map[string]any{
			"order_id": map[string]any{"type": "string"},
		}},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return map[string]any{"status": "shipped", "order_id": args["order_id"]}, nil
		})

	agent := &mockFlowAgent{name: "order_agent", llm: m, tools: map[string]tool.Tool{"view_order": viewOrder}}
	bf := NewBaseFlow(agent)
	bf.AddRequestProcessor(NewInstructionsProcessor())
	bf.AddRequestProcessor(NewContentsProcessor())

	rc := newFlowRunContext("where is my order?")
	evCh, err := bf.Execute(rc)
	require.NoError(t, err)

	events := drain(t, evCh)
	require.Len(t, events, 3, "call event, response event, final text")

	assert.Len(t, events[0].GetFunctionCalls(), 1)

	resps := events[1].GetFunctionResponses()
	require.Len(t, resps, 1)
	assert.Equal(t, "view_order", resps[0].Name)
	assert.Empty(t, resps[0].Error)

	assert.Equal(t, "Your order shipped yesterday.", events[2].Text())
}

func TestBaseFlow_ConfirmationSuspendsRun(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.AddToolCall("cancel my order", "fc-1", "cancel_order", map[string]any{"order_id": "100000023"})

	executed := false
	cancelOrder := tool.WithConfirmation(tool.NewFunctionTool("cancel_order", "Cancel an order",
		map[string]any{"type": "object", "properties": map[string]any{
			"order_id": map[string]any{"type": "string"},
		}},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			executed = true
			return "cancelled", nil
		}))

	agent := &mockFlowAgent{name: "order_agent", llm: m, tools: map[string]tool.Tool{"cancel_order": cancelOrder}}
	bf := NewBaseFlow(agent)
	bf.AddRequestProcessor(NewInstructionsProcessor())
	bf.AddRequestProcessor(NewContentsProcessor())

	rc := newFlowRunContext("cancel my order")
	evCh, err := bf.Execute(rc)
	require.NoError(t, err)

	events := drain(t, evCh)
	require.Len(t, events, 2, "call event then interruption")

	assert.False(t, executed, "gated tool must not execute before approval")

	intEv := events[1]
	require.True(t, intEv.IsInterruption())
	assert.Equal(t, "cancel_order", intEv.Pending.ActionType)
	assert.Equal(t, "order_agent", intEv.Pending.OriginAgent)
	assert.Equal(t, "100000023", intEv.Pending.Arguments["order_id"])
	assert.Contains(t, intEv.Text(), "cancel_order")
}

func TestBaseFlow_OutputKeyWritesStateDelta(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.AddResponse("ping", "pong")

	agent := &mockFlowAgent{name: "order_agent", llm: m, tools: map[string]tool.Tool{}, outputKey: "order_agent_result"}
	bf := NewBaseFlow(agent)
	bf.AddRequestProcessor(NewInstructionsProcessor())
	bf.AddRequestProcessor(NewContentsProcessor())

	rc := newFlowRunContext("ping")
	evCh, err := bf.Execute(rc)
	require.NoError(t, err)

	events := drain(t, evCh)
	require.Len(t, events, 1)
	assert.Equal(t, "pong", events[0].Actions.StateDelta["order_agent_result"])
}

func TestSelector(t *testing.T) {
	solo := &mockFlowAgent{name: "solo"}
	assert.IsType(t, &SingleAgentFlow{}, NewSelector().SelectFlow(solo))

	router := &mockFlowAgent{name: "router", transfer: true, subs: []FlowAgent{solo}}
	assert.IsType(t, &MultiAgentFlow{}, NewSelector().SelectFlow(router))
}
