package commerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	requests []*http.Request
	handler  http.HandlerFunc
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.requests = append(h.requests, r)
	h.handler(w, r)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingHandler) {
	t.Helper()
	rec := &recordingHandler{handler: handler}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token"), rec
}

func TestClient_GetProduct(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/WID-1", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Product{SKU: "WID-1", Name: "Widget", Price: 9.99})
	})

	p, err := client.GetProduct(context.Background(), "WID-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)
	assert.Len(t, rec.requests, 1)
}

func TestClient_GetRetriesOnceOn5xx(t *testing.T) {
	calls := 0
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"message": "temporarily unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Product{SKU: "WID-1", Name: "Widget"})
	})

	p, err := client.GetProduct(context.Background(), "WID-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)
	assert.Len(t, rec.requests, 2, "exactly one retry")
}

func TestClient_GetGivesUpAfterSecondFailure(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "down"}`, http.StatusInternalServerError)
	})

	_, err := client.GetProduct(context.Background(), "WID-1")
	require.Error(t, err)
	assert.Len(t, rec.requests, 2)
}

func TestClient_MutationsNeverRetry(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "gateway exploded mid-write"}`, http.StatusBadGateway)
	})

	_, err := client.CreateOrder(context.Background(), OrderDraft{
		Email: "jo@example.com",
		Items: []OrderItem{{SKU: "WID-1", Qty: 2}},
	})
	require.Error(t, err)
	assert.Len(t, rec.requests, 1, "a failed mutation must not be retried")

	err = client.CancelOrder(context.Background(), 7)
	require.Error(t, err)
	assert.Len(t, rec.requests, 2)

	err = client.DeleteProduct(context.Background(), "WID-1")
	require.Error(t, err)
	assert.Len(t, rec.requests, 3)
}

func TestClient_NotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Requested product doesn't exist"}`, http.StatusNotFound)
	})

	_, err := client.GetProduct(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "doesn't exist")
}

func TestClient_SearchProductsBuildsCriteria(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "name", q.Get("searchCriteria[filter_groups][0][filters][0][field]"))
		assert.Equal(t, "%widget%", q.Get("searchCriteria[filter_groups][0][filters][0][value]"))
		assert.Equal(t, "like", q.Get("searchCriteria[filter_groups][0][filters][0][condition_type]"))
		assert.Equal(t, "5", q.Get("searchCriteria[pageSize]"))
		json.NewEncoder(w).Encode(ProductList{Items: []Product{{SKU: "WID-1"}}, TotalCount: 1})
	})

	list, err := client.SearchProducts(context.Background(), "widget", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)
}

func TestClient_CreateOrderRoundTrip(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/create", r.URL.Path)

		var draft OrderDraft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		assert.Nil(t, draft.CustomerID, "guest order")
		assert.Equal(t, "jo@example.com", draft.Email)

		json.NewEncoder(w).Encode(Order{EntityID: 12, IncrementID: "100000023", Status: "pending"})
	})

	placed, err := client.CreateOrder(context.Background(), OrderDraft{
		Email: "jo@example.com",
		Items: []OrderItem{{SKU: "WID-1", Qty: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "100000023", placed.IncrementID)
}

func TestClient_Regions(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/directory/countries/FR", r.URL.Path)
		json.NewEncoder(w).Encode(Country{
			ID:       "FR",
			FullName: "France",
			Regions:  []Region{{ID: "182", Code: "IDF", Name: "Ile-de-France"}},
		})
	})

	regions, err := client.Regions(context.Background(), "FR")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Ile-de-France", regions[0].Name)
}
