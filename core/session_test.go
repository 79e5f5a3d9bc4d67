package core

import "testing"

func TestSession_ApplyStateDeltaAndClone(t *testing.T) {
	s := NewSession("s1")

	delta := map[string]any{"a": 1, "b": "x"}

	s.ApplyStateDelta(delta)
	if v, ok := s.GetState("a"); !ok || v.(int) != 1 {
		t.Fatalf("State not applied: %+v", s.State)
	}

	clone := s.Clone()
	if clone == s {
		t.Error("Clone should be a different pointer")
	}

	clone.SetState("c", 2)
	if _, exists := s.GetState("c"); exists {
		t.Error("Original should not have clone's new key")
	}
}

func TestSession_AddEventAssignsSequence(t *testing.T) {
	s := NewSession("s2")
	s.AddEvent(NewUserMessageEvent("run-1", "hi"))
	s.AddEvent(NewMessageEvent("assistant", "hello"))
	s.AddEvent(NewMessageEvent("assistant", "again"))

	all := s.GetEvents()
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	for i, ev := range all {
		if ev.Sequence != i {
			t.Errorf("event %d has sequence %d", i, ev.Sequence)
		}
	}

	orig := all[0].Author
	all[0].Author = "changed"
	if s.GetEvents()[0].Author != orig {
		t.Error("events slice should be copied on read")
	}
}

func TestSession_ConversationHistoryFiltersPartials(t *testing.T) {
	s := NewSession("s3")
	s.AddEvent(NewUserMessageEvent("run-1", "hi"))

	partial := NewMessageEvent("assistant", "hel")
	b := true
	partial.Partial = &b
	s.AddEvent(partial)
	s.AddEvent(NewMessageEvent("assistant", "hello"))
	s.AddEvent(NewSystemMessageEvent("run-1", "internal notice"))

	history := s.GetConversationHistory()
	if len(history) != 2 {
		t.Fatalf("expected 2 conversational events, got %d", len(history))
	}
	if history[0].Content.Role != "user" || history[1].Content.Role != "assistant" {
		t.Errorf("unexpected history roles: %+v", history)
	}
}

func TestSession_SingleCheckpointSlot(t *testing.T) {
	s := NewSession("s4")
	pending := PendingAction{ActionType: "create_order", OriginAgent: "order_agent", Prompt: "Place the order?"}

	if s.LiveCheckpoint() != nil {
		t.Fatal("fresh session should have no live checkpoint")
	}

	cp := NewCheckpoint("run-1", "order_agent", pending, nil)
	if err := s.SetCheckpoint(cp); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}

	if s.LiveCheckpoint() == nil {
		t.Fatal("expected live checkpoint after SetCheckpoint")
	}

	second := NewCheckpoint("run-2", "shipment_agent", pending, nil)
	if err := s.SetCheckpoint(second); err != ErrCheckpointExists {
		t.Fatalf("expected ErrCheckpointExists, got %v", err)
	}

	s.ClearCheckpoint()
	if s.LiveCheckpoint() != nil {
		t.Error("checkpoint should be cleared")
	}

	// A resolved checkpoint no longer blocks a new suspension.
	cp2 := NewCheckpoint("run-3", "order_agent", pending, nil)
	if err := s.SetCheckpoint(cp2); err != nil {
		t.Fatalf("SetCheckpoint after clear: %v", err)
	}
}

func TestSession_LiveCheckpointReturnsCopy(t *testing.T) {
	s := NewSession("s5")
	pending := PendingAction{ActionType: "cancel_order", OriginAgent: "order_agent"}
	if err := s.SetCheckpoint(NewCheckpoint("run-1", "order_agent", pending, nil)); err != nil {
		t.Fatal(err)
	}

	live := s.LiveCheckpoint()
	live.ResumeAgent = "mutated"
	if s.LiveCheckpoint().ResumeAgent != "order_agent" {
		t.Error("LiveCheckpoint should return a defensive copy")
	}
}
