package core

import (
	"testing"
)

func TestCheckpoint_MarshalRoundTrip(t *testing.T) {
	cp := NewCheckpoint("run-1", "order_agent", PendingAction{
		ActionType:  "create_order",
		Arguments:   map[string]any{"sku": "ABC-123", "qty": float64(2), "customer_email": "john@email.com"},
		OriginAgent: "order_agent",
		Prompt:      "Place an order for 2x ABC-123 for john@email.com?",
	}, []string{"customer john@email.com resolved to id 7"})

	data, err := cp.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := UnmarshalCheckpoint(data)
	if err != nil {
		t.Fatalf("UnmarshalCheckpoint: %v", err)
	}

	if got.ID != cp.ID || got.RunID != cp.RunID || got.ResumeAgent != cp.ResumeAgent {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.State != CheckpointSuspended {
		t.Errorf("state = %q", got.State)
	}
	if got.Pending.Arguments["sku"] != "ABC-123" || got.Pending.Arguments["qty"] != float64(2) {
		t.Errorf("arguments lost: %+v", got.Pending.Arguments)
	}
	if len(got.PartialContext) != 1 {
		t.Errorf("partial context lost: %+v", got.PartialContext)
	}
}

func TestDecision_Validate(t *testing.T) {
	cases := []struct {
		decision Decision
		wantErr  bool
	}{
		{Decision{Kind: DecisionAccept}, false},
		{Decision{Kind: DecisionReject}, false},
		{Decision{Kind: DecisionEdit, EditedArguments: map[string]any{"sku": "NEW"}}, false},
		{Decision{Kind: DecisionEdit}, true},
		{Decision{Kind: "approve"}, true},
		{Decision{}, true},
	}

	for _, tc := range cases {
		err := tc.decision.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("decision %+v: expected error", tc.decision)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("decision %+v: unexpected error %v", tc.decision, err)
		}
	}
}

func TestDecision_MergedArguments(t *testing.T) {
	pending := PendingAction{
		ActionType: "create_order",
		Arguments:  map[string]any{"sku": "ABC-123", "qty": 2, "customer_email": "john@email.com"},
	}

	accept := Decision{Kind: DecisionAccept}
	merged := accept.MergedArguments(pending)
	if merged["sku"] != "ABC-123" || merged["qty"] != 2 {
		t.Errorf("accept should keep original arguments: %+v", merged)
	}

	edit := Decision{Kind: DecisionEdit, EditedArguments: map[string]any{"sku": "NEW-SKU"}}
	merged = edit.MergedArguments(pending)
	if merged["sku"] != "NEW-SKU" {
		t.Errorf("edit should override sku: %+v", merged)
	}
	if merged["qty"] != 2 || merged["customer_email"] != "john@email.com" {
		t.Errorf("edit must leave untouched fields intact: %+v", merged)
	}

	// The merge never mutates the original pending action.
	if pending.Arguments["sku"] != "ABC-123" {
		t.Error("MergedArguments mutated the pending action")
	}
}
