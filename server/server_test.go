package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/agent"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/runner"
	"github.com/shopmesh/shopmesh/session"
	"github.com/shopmesh/shopmesh/tool"
)

// newOrderServer serves a single capability agent with a gated cancel_order
// tool; "cancel order 5" proposes the action, anything else gets the mock
// default reply.
func newOrderServer(t *testing.T) (*Server, *[]map[string]any) {
	t.Helper()

	var executed []map[string]any
	gated := tool.WithConfirmation(tool.NewFunctionTool(
		"cancel_order",
		"Cancel an order by id.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "number"},
			},
			"required": []string{"order_id"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			executed = append(executed, args)
			return map[string]any{"cancelled": true}, nil
		},
	))

	llm := model.NewMockModel("cap", "test")
	llm.AddToolCall("cancel order 5", "fc-1", "cancel_order", map[string]any{"order_id": float64(5)})
	llm.AddResponse("cancel order 5", "Done, order 5 is cancelled.")
	llm.AddResponse("hello", "Hi! How can I help?")

	orders := agent.NewCapabilityAgent("order_agent", llm)
	orders.RegisterTools(gated)

	r := runner.New(orders, func(o *runner.Options) { o.SessionStore = session.NewInMemoryStore() })

	return New(r), &executed
}

func doJSON(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_ChatReturnsReply(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat", `{"session_id":"s1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	assert.Equal(t, "s1", resp.SessionID)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "Hi! How can I help?", resp.Reply)
	assert.Nil(t, resp.Interruption)
}

func TestServer_ChatMintsSessionID(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeChat(t, rec).SessionID)
}

func TestServer_SuspendedChatCarriesInterruption(t *testing.T) {
	s, executed := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat", `{"session_id":"s1","message":"cancel order 5"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	require.NotNil(t, resp.Interruption)
	assert.Equal(t, "cancel_order", resp.Interruption.Type)
	assert.Contains(t, resp.Interruption.Message, "cancel_order")
	assert.Equal(t, float64(5), resp.Interruption.Args["order_id"])
	assert.Empty(t, *executed)

	// The session refuses new messages while the action is pending.
	rec = doJSON(t, s, http.MethodPost, "/assistant/chat", `{"session_id":"s1","message":"status of order 6"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ResumeAccept(t *testing.T) {
	s, executed := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat", `{"session_id":"s1","message":"cancel order 5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decodeChat(t, rec).Interruption)

	rec = doJSON(t, s, http.MethodPost, "/assistant/resume", `{"session_id":"s1","decision":"accept"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	assert.Nil(t, resp.Interruption)
	assert.Equal(t, "Done, order 5 is cancelled.", resp.Reply)
	require.Len(t, *executed, 1)
	assert.Equal(t, float64(5), (*executed)[0]["order_id"])
}

func TestServer_ResumeReject(t *testing.T) {
	s, executed := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat", `{"session_id":"s1","message":"cancel order 5"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/assistant/resume", `{"session_id":"s1","decision":"reject"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, decodeChat(t, rec).Reply, "won't go ahead")
	assert.Empty(t, *executed)
}

func TestServer_ResumeWithoutCheckpointConflicts(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/resume", `{"session_id":"s1","decision":"accept"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ResumeBadDecision(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/resume", `{"session_id":"s1","decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StreamWritesText(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat/stream", `{"session_id":"s1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", rec.Header().Get("X-Session-Id"))
	assert.Equal(t, "Hi! How can I help?", rec.Body.String())
}

func TestServer_StreamSurfacesPromptOnSuspension(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat/stream", `{"session_id":"s1","message":"cancel order 5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancel_order")
}

func TestServer_HistoryAndClear(t *testing.T) {
	s, _ := newOrderServer(t)

	rec := doJSON(t, s, http.MethodPost, "/assistant/chat", `{"session_id":"s1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/assistant/history/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var hist struct {
		SessionID string           `json:"session_id"`
		Messages  []historyMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "user", hist.Messages[0].Role)
	assert.Equal(t, "hello", hist.Messages[0].Text)

	rec = doJSON(t, s, http.MethodGet, "/assistant/history/s1?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "Hi! How can I help?", hist.Messages[0].Text)

	rec = doJSON(t, s, http.MethodDelete, "/assistant/chat/s1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/assistant/history/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Empty(t, hist.Messages)
}
