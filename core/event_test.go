package core

import (
	"errors"
	"testing"
)

// Event constructor & helper method tests
func TestEvent_ConstructorsAndMethods(t *testing.T) {
	e := NewEvent("run-123", "authorA")
	if e.Author != "authorA" || e.RunID != "run-123" || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}

	msg := NewMessageEvent("agent1", "hello world")
	if msg.Content == nil || msg.Content.Role != "assistant" || len(msg.Content.Parts) != 1 {
		t.Fatalf("NewMessageEvent malformed: %+v", msg)
	}
	if msg.Text() != "hello world" {
		t.Fatalf("Text() = %q", msg.Text())
	}

	user := NewUserMessageEvent("run-123", "hi")
	if user.Content == nil || user.Content.Role != "user" {
		t.Fatalf("NewUserMessageEvent malformed: %+v", user)
	}

	callArgs := `{"sku":"ABC-123"}`
	fCall := NewFunctionCallEvent("agent2", "view_product", callArgs)
	calls := fCall.GetFunctionCalls()
	if len(calls) != 1 || calls[0].Name != "view_product" || calls[0].Arguments != callArgs {
		t.Fatalf("GetFunctionCalls extraction failed: %+v", calls)
	}

	fRespOK := NewFunctionResponseEvent("agent2", "call-1", "view_product", 42, nil)
	resps := fRespOK.GetFunctionResponses()
	if len(resps) != 1 || resps[0].Response.(int) != 42 || resps[0].Error != "" {
		t.Fatalf("Function response success extraction failed: %+v", resps)
	}

	fRespErr := NewFunctionResponseEvent("agent2", "call-2", "view_product", nil, errors.New("boom"))
	resps = fRespErr.GetFunctionResponses()
	if resps[0].Error == "" {
		t.Fatalf("Expected error message in function response: %+v", resps[0])
	}
}

func TestEvent_IsFinalResponseLogic(t *testing.T) {
	e := NewEvent("run", "authorA")
	if !e.IsFinalResponse() {
		t.Error("Expected basic event to be final")
	}

	partial := true
	e2 := NewEvent("run", "agent")
	e2.Partial = &partial
	if e2.IsFinalResponse() {
		t.Error("Partial event should not be final")
	}

	e3 := NewFunctionCallEvent("agent", "f", "")
	if e3.IsFinalResponse() {
		t.Error("Event with function call should not be final")
	}
}

func TestEvent_Interruption(t *testing.T) {
	pending := PendingAction{
		ActionType:  "create_order",
		Arguments:   map[string]any{"sku": "ABC-123", "qty": 2},
		OriginAgent: "order_agent",
		Prompt:      "Place an order for 2x ABC-123?",
	}

	ev := NewInterruptionEvent("run-1", pending)
	if !ev.IsInterruption() {
		t.Fatal("expected interruption event")
	}
	if !ev.IsFinalResponse() {
		t.Error("interruption terminates the turn")
	}
	if ev.Text() != pending.Prompt {
		t.Errorf("interruption should surface the prompt, got %q", ev.Text())
	}
	if ev.Author != "order_agent" {
		t.Errorf("interruption author = %q", ev.Author)
	}

	// The event owns an independent copy of the pending action.
	pending.ActionType = "mutated"
	if ev.Pending.ActionType != "create_order" {
		t.Error("event should hold a copy of the pending action")
	}
}
