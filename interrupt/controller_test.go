package interrupt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/agent"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/session"
	"github.com/shopmesh/shopmesh/tool"
)

type fixture struct {
	controller *Controller
	store      core.SessionStore
	emit       chan core.Event
	executed   []map[string]any
	events     []core.Event
	drained    chan struct{}
}

// newFixture builds an order agent with a gated cancel_order tool and a
// session already suspended on it. The emit channel is drained concurrently
// so the streamed continuation cannot block on a full buffer.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   session.NewInMemoryStore(),
		emit:    make(chan core.Event, 32),
		drained: make(chan struct{}),
	}

	go func() {
		defer close(f.drained)
		for ev := range f.emit {
			f.events = append(f.events, ev)
		}
	}()

	m := model.NewMockModel("m", "test")
	m.AddResponse("cancel order 100000023", "Done, order 100000023 is cancelled.")

	gated := tool.WithConfirmation(tool.NewFunctionTool("cancel_order", "Cancel an order",
		map[string]any{"type": "object", "properties": map[string]any{
			"order_id": map[string]any{"type": "string"},
			"reason":   map[string]any{"type": "string"},
		}},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			f.executed = append(f.executed, args)
			return map[string]any{"cancelled": true}, nil
		}))

	orderAgent := agent.NewCapabilityAgent("order_agent", m)
	orderAgent.RegisterTool(gated)
	f.controller = NewController(orderAgent)

	require.NoError(t, f.store.AppendEvent("s1", core.NewUserMessageEvent("run-1", "cancel order 100000023")))

	pending := core.PendingAction{
		ActionType:  "cancel_order",
		Arguments:   map[string]any{"order_id": "100000023"},
		OriginAgent: "order_agent",
		Prompt:      "Cancel order 100000023?",
	}
	cp := core.NewCheckpoint("run-1", "order_agent", pending, nil)
	require.NoError(t, f.store.SaveCheckpoint("s1", cp, core.NewInterruptionEvent("run-1", pending)))

	return f
}

func (f *fixture) runContext(t *testing.T) *core.RunContext {
	t.Helper()
	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	return core.NewRunContext(
		context.Background(),
		"s1", "run-2",
		core.AgentInfo{Name: "runner", Type: "runner"},
		core.Content{},
		100,
		f.emit, nil,
		sess, f.store,
		logging.NoOpLogger{},
	)
}

func (f *fixture) collect() []core.Event {
	close(f.emit)
	<-f.drained
	return f.events
}

func TestController_AcceptExecutesAndContinues(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.controller.Resume(f.runContext(t), core.Decision{Kind: core.DecisionAccept}))

	require.Len(t, f.executed, 1)
	assert.Equal(t, "100000023", f.executed[0]["order_id"])

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Nil(t, sess.LiveCheckpoint(), "slot freed after execution")

	// Tool outcome recorded before the continuation ran.
	var sawResult bool
	for _, ev := range sess.GetEvents() {
		for _, fr := range ev.GetFunctionResponses() {
			if fr.Name == "cancel_order" {
				sawResult = true
			}
		}
	}
	assert.True(t, sawResult)

	events := f.collect()
	require.NotEmpty(t, events)
	assert.Equal(t, "Done, order 100000023 is cancelled.", events[len(events)-1].Text())
}

func TestController_EditMergesArguments(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.controller.Resume(f.runContext(t), core.Decision{
		Kind:            core.DecisionEdit,
		EditedArguments: map[string]any{"reason": "customer request"},
	}))

	require.Len(t, f.executed, 1)
	assert.Equal(t, "100000023", f.executed[0]["order_id"], "original argument kept")
	assert.Equal(t, "customer request", f.executed[0]["reason"], "edit merged over originals")
}

func TestController_RejectNeverExecutes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.controller.Resume(f.runContext(t), core.Decision{Kind: core.DecisionReject}))

	assert.Empty(t, f.executed)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Nil(t, sess.LiveCheckpoint())

	var sawNotice bool
	for _, ev := range sess.GetEvents() {
		if ev.Author == "system" && ev.Text() == RejectedNotice {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice, "fixed rejection notice recorded")

	events := f.collect()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Text(), "won't go ahead")
	assert.NotNil(t, events[0].TurnComplete)
}

func TestController_NoActiveCheckpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.ClearCheckpoint("s1"))

	err := f.controller.Resume(f.runContext(t), core.Decision{Kind: core.DecisionAccept})
	assert.ErrorIs(t, err, core.ErrNoActiveCheckpoint)
}

func TestController_InvalidDecision(t *testing.T) {
	f := newFixture(t)

	err := f.controller.Resume(f.runContext(t), core.Decision{Kind: "maybe"})
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr))

	err = f.controller.Resume(f.runContext(t), core.Decision{Kind: core.DecisionEdit})
	assert.True(t, errors.As(err, &vErr), "edit without overrides is invalid")
}
