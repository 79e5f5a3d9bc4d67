package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/model"
)

type apiRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *apiRecorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, req.Method+" "+req.URL.Path)
}

func (r *apiRecorder) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

func newTestAssistant(t *testing.T, supervisorModel, agentModel model.Model) (*apiRecorder, func(string) []core.Event) {
	t.Helper()

	rec := &apiRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch {
		case r.URL.Path == "/products" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(commerce.ProductList{
				Items:      []commerce.Product{{SKU: "WID-1", Name: "Widget", Price: 9.99}},
				TotalCount: 1,
			})
		case r.URL.Path == "/directory/countries":
			json.NewEncoder(w).Encode([]commerce.Country{{ID: "FR", FullName: "France"}})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	t.Cleanup(srv.Close)

	root, err := New(Config{
		SupervisorModel: supervisorModel,
		AgentModel:      agentModel,
		Commerce:        commerce.NewClient(srv.URL, "token"),
		StoreName:       "Acme Outlet",
	})
	require.NoError(t, err)

	run := func(userText string) []core.Event {
		emit := make(chan core.Event, 1024)
		rc := core.NewRunContext(
			context.Background(),
			"sess", "run-1",
			core.AgentInfo{Name: "root_supervisor", Type: "supervisor"},
			core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: userText}}},
			100,
			emit, nil,
			core.NewSession("sess"), nil,
			logging.NoOpLogger{},
		)

		done := make(chan error, 1)
		go func() { done <- root.Run(rc) }()

		var events []core.Event
		timeout := time.After(5 * time.Second)
		for {
			select {
			case ev := <-emit:
				events = append(events, ev)
			case err := <-done:
				require.NoError(t, err)
				for {
					select {
					case ev := <-emit:
						events = append(events, ev)
					default:
						return events
					}
				}
			case <-timeout:
				t.Fatal("run did not finish")
			}
		}
	}

	return rec, run
}

func TestAssistant_HierarchyShape(t *testing.T) {
	_, _ = newTestAssistant(t, model.NewMockModel("sup", "test"), model.NewMockModel("cap", "test"))
}

func TestAssistant_CatalogSearchEndToEnd(t *testing.T) {
	sup := model.NewMockModel("sup", "test")
	sup.AddResponse("do you have widgets?",
		`{"steps": [{"agent": "catalog", "request": "search products named widget"}]}`)
	sup.AddResponse("search products named widget",
		`{"steps": [{"agent": "products", "request": "search for widget"}]}`)

	capModel := model.NewMockModel("cap", "test")
	capModel.AddToolCall("search for widget", "fc-1", "search_products", map[string]any{"query": "widget"})
	capModel.AddResponse("search for widget", "We carry the Widget (WID-1) at $9.99.")

	rec, run := newTestAssistant(t, sup, capModel)
	events := run("do you have widgets?")

	assert.True(t, rec.seen("GET /products"), "read-only tool executes eagerly")

	require.NotEmpty(t, events)
	var finalText string
	for _, ev := range events {
		if !ev.IsPartial() && ev.Text() != "" && !ev.IsInterruption() {
			finalText = ev.Text()
		}
	}
	assert.Equal(t, "We carry the Widget (WID-1) at $9.99.", finalText)
}

func TestAssistant_CancelOrderSuspends(t *testing.T) {
	sup := model.NewMockModel("sup", "test")
	sup.AddResponse("cancel my order 7",
		`{"steps": [{"agent": "sales", "request": "cancel order entity 7"}]}`)
	sup.AddResponse("cancel order entity 7",
		`{"steps": [{"agent": "orders", "request": "cancel order entity 7"}]}`)

	// Order steps prefetch the directory sibling; its (default mock) answer is
	// appended to the order agent's request.
	rewritten := "cancel order entity 7"
	combined := rewritten + "\n\nContext from directory_agent:\nMock response to: " + rewritten

	capModel := model.NewMockModel("cap", "test")
	capModel.AddToolCall(combined, "fc-1", "cancel_order", map[string]any{"order_id": float64(7)})

	rec, run := newTestAssistant(t, sup, capModel)
	events := run("cancel my order 7")

	var interruption *core.Event
	for i := range events {
		if events[i].IsInterruption() {
			interruption = &events[i]
		}
	}
	require.NotNil(t, interruption, "gated tool must suspend the run")
	assert.Equal(t, "cancel_order", interruption.Pending.ActionType)
	assert.Equal(t, "order_agent", interruption.Pending.OriginAgent)
	assert.Contains(t, interruption.Text(), "Cancel order 7?")

	assert.False(t, rec.seen("POST /orders/7/cancel"), "gated mutation must not reach the API before approval")
}

func TestAssistant_RootAnswersChitChatDirectly(t *testing.T) {
	sup := model.NewMockModel("sup", "test")
	sup.AddResponse("hi there", `{"respond": "Hello! I can help with products, orders and your account."}`)

	_, run := newTestAssistant(t, sup, model.NewMockModel("cap", "test"))
	events := run("hi there")

	require.Len(t, events, 1)
	assert.Equal(t, "root_supervisor", events[0].Author)
	assert.Contains(t, events[0].Text(), "Hello!")
}
