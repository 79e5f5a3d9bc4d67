package model

import (
	"context"
	"testing"

	"github.com/shopmesh/shopmesh/core"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) []Response {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestMockModel_CannedResponse(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hello", "hi there")

	respCh, errCh := m.Generate(context.Background(), Request{
		Contents: []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: "hello"}}}},
	})

	resps := collect(t, respCh, errCh)
	if len(resps) != 1 || resps[0].Content.Text() != "hi there" {
		t.Fatalf("unexpected responses: %+v", resps)
	}
	if resps[0].FinishReason != "stop" {
		t.Errorf("finish reason = %q", resps[0].FinishReason)
	}
}

func TestMockModel_ScriptedToolCall(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddToolCall("order 2 widgets", "call-1", "create_order", map[string]any{"sku": "WID-1", "qty": 2})
	m.AddResponse("order 2 widgets", "Order placed.")

	req := Request{
		Contents: []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: "order 2 widgets"}}}},
	}

	respCh, errCh := m.Generate(context.Background(), req)
	resps := collect(t, respCh, errCh)
	if len(resps) != 1 || resps[0].FinishReason != "tool_calls" {
		t.Fatalf("expected a single tool_calls response, got %+v", resps)
	}
	fc, ok := resps[0].Content.Parts[0].(core.FunctionCallPart)
	if !ok || fc.FunctionCall.Name != "create_order" {
		t.Fatalf("unexpected part: %+v", resps[0].Content.Parts[0])
	}

	// The script is consumed; a follow-up call (same user turn, now carrying
	// the tool result) falls through to the canned text completion.
	req.Contents = append(req.Contents,
		core.Content{Role: "assistant", Parts: resps[0].Content.Parts},
		core.Content{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{
			FunctionResponse: core.FunctionResponse{ID: "call-1", Name: "create_order", Response: "ok"},
		}}},
	)
	respCh, errCh = m.Generate(context.Background(), req)
	resps = collect(t, respCh, errCh)
	if len(resps) != 1 || resps[0].Content.Text() != "Order placed." {
		t.Fatalf("expected canned follow-up, got %+v", resps)
	}
}
