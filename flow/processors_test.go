package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/model"
)

func TestInstructionsProcessor_RendersTemplate(t *testing.T) {
	rc := newFlowRunContext("hi")
	rc.Session.SetState("store_name", "Acme Outlet")

	agent := &templatedAgent{mockFlowAgent{name: "root"}}
	req := &model.Request{}
	require.NoError(t, NewInstructionsProcessor().ProcessRequest(rc, req, agent))
	assert.Equal(t, "You work for Acme Outlet.", req.Instructions)
}

type templatedAgent struct{ mockFlowAgent }

func (a *templatedAgent) ResolveInstructions(*core.RunContext) (string, error) {
	return "You work for {store_name}.", nil
}

func TestContentsProcessor_AppendsUserContentOnce(t *testing.T) {
	rc := newFlowRunContext("what is the status of order 100000023?")
	agent := &mockFlowAgent{name: "order_agent"}

	req := &model.Request{Instructions: "You help."}
	require.NoError(t, NewContentsProcessor().ProcessRequest(rc, req, agent))

	// system + current user turn
	require.Len(t, req.Contents, 2)
	assert.Equal(t, "system", req.Contents[0].Role)
	assert.Equal(t, "user", req.Contents[1].Role)

	// If the history already ends with the same user text, it is not duplicated.
	rc.Session.AddEvent(core.NewUserMessageEvent("run-1", "what is the status of order 100000023?"))
	req = &model.Request{Instructions: "You help."}
	require.NoError(t, NewContentsProcessor().ProcessRequest(rc, req, agent))
	require.Len(t, req.Contents, 2)
}

func TestContentsProcessor_TruncatesHistory(t *testing.T) {
	rc := newFlowRunContext("")
	for i := 0; i < 50; i++ {
		rc.Session.AddEvent(core.NewUserMessageEvent("run-1", "msg"))
	}
	agent := &mockFlowAgent{name: "order_agent"} // MaxHistoryMessages 20

	req := &model.Request{Instructions: "You help."}
	require.NoError(t, NewContentsProcessor().ProcessRequest(rc, req, agent))
	assert.Len(t, req.Contents, 21, "system prompt plus capped history")
}

func TestTransferToolInjector(t *testing.T) {
	child := &mockFlowAgent{name: "sales_team"}
	agent := &mockFlowAgent{name: "root", transfer: true, subs: []FlowAgent{child}}
	rc := newFlowRunContext("hi")

	req := &model.Request{}
	inj := NewTransferToolInjector()
	require.NoError(t, inj.ProcessRequest(rc, req, agent))

	found := 0
	for _, td := range req.Tools {
		if td.Function.Name == "transfer_to_agent" {
			found++
			assert.Contains(t, td.Function.Description, "sales_team")
		}
	}
	assert.Equal(t, 1, found)

	// Second call must not duplicate the definition.
	require.NoError(t, inj.ProcessRequest(rc, req, agent))
	count := 0
	for _, td := range req.Tools {
		if td.Function.Name == "transfer_to_agent" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// No sub-agents: nothing injected.
	solo := &mockFlowAgent{name: "solo", transfer: true}
	req = &model.Request{}
	require.NoError(t, inj.ProcessRequest(rc, req, solo))
	assert.Empty(t, req.Tools)
}
