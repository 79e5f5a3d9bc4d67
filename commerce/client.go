// Package commerce is a typed client for the store's REST API: catalog,
// inventory, customers, sales documents and directory data.
//
// Failure policy: idempotent reads (GET) retry exactly once on a retryable
// failure (network error or 5xx); mutations never retry. After an uncertain
// POST/PUT/DELETE the outcome is unknown upstream and a blind retry could
// duplicate an order or a refund. Callers surface that uncertainty to the
// user instead.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
)

// APIError is a non-2xx response from the commerce API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce api: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the commerce API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ClientOptions configure a commerce Client.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     logging.Logger
	Timeout    time.Duration
}

// Client talks to one store's REST API using a bearer integration token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a commerce client for the API at baseURL (e.g.
// "https://shop.example.com/rest/V1").
func NewClient(baseURL, token string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Timeout: 30 * time.Second,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// do performs one API call, decoding a 2xx body into out (when non-nil).
// GET requests retry once on retryable failures; everything else is
// single-shot.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	attempts := 1
	if method == http.MethodGet {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("commerce.retry", "method", method, "path", path, "error", lastErr.Error())
		}

		err := c.doOnce(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var upErr *core.UpstreamError
		if !errors.As(err, &upErr) || !upErr.Retryable {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}

	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.UpstreamError{Op: method + " " + path, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.UpstreamError{Op: method + " " + path, Retryable: true, Err: err}
	}

	if resp.StatusCode >= 500 {
		return &core.UpstreamError{
			Op:        method + " " + path,
			Retryable: true,
			Err:       &APIError{StatusCode: resp.StatusCode, Message: apiMessage(raw)},
		}
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// apiMessage extracts the platform's error message field, falling back to the
// raw body.
func apiMessage(raw []byte) string {
	var wire struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &wire); err == nil && wire.Message != "" {
		return wire.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

// searchQuery builds the platform's searchCriteria query parameters for a
// single-field LIKE filter.
func searchQuery(field, value string, pageSize int) url.Values {
	q := url.Values{}
	q.Set("searchCriteria[filter_groups][0][filters][0][field]", field)
	q.Set("searchCriteria[filter_groups][0][filters][0][value]", "%"+value+"%")
	q.Set("searchCriteria[filter_groups][0][filters][0][condition_type]", "like")
	q.Set("searchCriteria[pageSize]", strconv.Itoa(pageSize))
	return q
}

// Products

// SearchProducts finds products whose name matches the query.
func (c *Client) SearchProducts(ctx context.Context, nameQuery string, pageSize int) (*ProductList, error) {
	var list ProductList
	if err := c.do(ctx, http.MethodGet, "/products", searchQuery("name", nameQuery, pageSize), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetProduct fetches one product by SKU.
func (c *Client) GetProduct(ctx context.Context, sku string) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(sku), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct creates a catalog product.
func (c *Client) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	var created Product
	body := map[string]any{"product": p}
	if err := c.do(ctx, http.MethodPost, "/products", nil, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProduct updates a catalog product by SKU.
func (c *Client) UpdateProduct(ctx context.Context, sku string, p Product) (*Product, error) {
	var updated Product
	body := map[string]any{"product": p}
	if err := c.do(ctx, http.MethodPut, "/products/"+url.PathEscape(sku), nil, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteProduct removes a product from the catalog.
func (c *Client) DeleteProduct(ctx context.Context, sku string) error {
	return c.do(ctx, http.MethodDelete, "/products/"+url.PathEscape(sku), nil, nil, nil)
}

// Inventory

// GetStockItem fetches inventory for a SKU.
func (c *Client) GetStockItem(ctx context.Context, sku string) (*StockItem, error) {
	var item StockItem
	if err := c.do(ctx, http.MethodGet, "/stockItems/"+url.PathEscape(sku), nil, nil, &item); err != nil {
		return nil, err
	}
	item.SKU = sku
	return &item, nil
}

// UpdateStockItem sets quantity and availability for a SKU.
func (c *Client) UpdateStockItem(ctx context.Context, sku string, item StockItem) error {
	itemID := strconv.Itoa(item.ItemID)
	body := map[string]any{"stockItem": item}
	return c.do(ctx, http.MethodPut, "/products/"+url.PathEscape(sku)+"/stockItems/"+itemID, nil, body, nil)
}

// LowStockItems lists inventory at or below the given quantity.
func (c *Client) LowStockItems(ctx context.Context, qty float64, pageSize int) ([]StockItem, error) {
	q := url.Values{}
	q.Set("scopeId", "0")
	q.Set("qty", strconv.FormatFloat(qty, 'f', -1, 64))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var wire struct {
		Items []StockItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/stockItems/lowStock/", q, nil, &wire); err != nil {
		return nil, err
	}
	return wire.Items, nil
}

// Categories

// ListCategories returns the flattened category tree.
func (c *Client) ListCategories(ctx context.Context, pageSize int) (*CategoryList, error) {
	q := url.Values{}
	q.Set("searchCriteria[pageSize]", strconv.Itoa(pageSize))

	var list CategoryList
	if err := c.do(ctx, http.MethodGet, "/categories/list", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateCategory creates a category.
func (c *Client) CreateCategory(ctx context.Context, cat Category) (*Category, error) {
	var created Category
	body := map[string]any{"category": cat}
	if err := c.do(ctx, http.MethodPost, "/categories", nil, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteCategory removes a category.
func (c *Client) DeleteCategory(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, "/categories/"+strconv.Itoa(id), nil, nil, nil)
}

// Customers

// SearchCustomers finds customers whose email matches the query.
func (c *Client) SearchCustomers(ctx context.Context, emailQuery string, pageSize int) (*CustomerList, error) {
	var list CustomerList
	if err := c.do(ctx, http.MethodGet, "/customers/search", searchQuery("email", emailQuery, pageSize), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateCustomer registers a customer account.
func (c *Client) CreateCustomer(ctx context.Context, cust Customer) (*Customer, error) {
	var created Customer
	body := map[string]any{"customer": cust}
	if err := c.do(ctx, http.MethodPost, "/customers", nil, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateCustomer updates an existing customer account.
func (c *Client) UpdateCustomer(ctx context.Context, id int, cust Customer) (*Customer, error) {
	var updated Customer
	body := map[string]any{"customer": cust}
	if err := c.do(ctx, http.MethodPut, "/customers/"+strconv.Itoa(id), nil, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCustomer removes a customer account.
func (c *Client) DeleteCustomer(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, "/customers/"+strconv.Itoa(id), nil, nil, nil)
}

// Orders

// CreateOrder places an order from a draft. Guest orders (nil CustomerID) and
// registered-customer orders share the same endpoint.
func (c *Client) CreateOrder(ctx context.Context, draft OrderDraft) (*Order, error) {
	var placed Order
	if err := c.do(ctx, http.MethodPost, "/orders/create", nil, draft, &placed); err != nil {
		return nil, err
	}
	return &placed, nil
}

// GetOrder fetches an order by entity id.
func (c *Client) GetOrder(ctx context.Context, entityID int) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.Itoa(entityID), nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// SearchOrders finds orders by increment id.
func (c *Client) SearchOrders(ctx context.Context, incrementID string, pageSize int) ([]Order, error) {
	var wire struct {
		Items []Order `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders", searchQuery("increment_id", incrementID, pageSize), nil, &wire); err != nil {
		return nil, err
	}
	return wire.Items, nil
}

// CancelOrder cancels an order. Irreversible upstream.
func (c *Client) CancelOrder(ctx context.Context, entityID int) error {
	var ok bool
	return c.do(ctx, http.MethodPost, "/orders/"+strconv.Itoa(entityID)+"/cancel", nil, nil, &ok)
}

// Sales documents

// CreateInvoice bills an order in full and returns the invoice id.
func (c *Client) CreateInvoice(ctx context.Context, orderID int) (int, error) {
	var invoiceID int
	body := map[string]any{"capture": true}
	if err := c.do(ctx, http.MethodPost, "/order/"+strconv.Itoa(orderID)+"/invoice", nil, body, &invoiceID); err != nil {
		return 0, err
	}
	return invoiceID, nil
}

// CreateShipment fulfills an order in full and returns the shipment id.
func (c *Client) CreateShipment(ctx context.Context, orderID int) (int, error) {
	var shipmentID int
	if err := c.do(ctx, http.MethodPost, "/order/"+strconv.Itoa(orderID)+"/ship", nil, map[string]any{}, &shipmentID); err != nil {
		return 0, err
	}
	return shipmentID, nil
}

// Directory

// Countries lists shippable countries with their regions.
func (c *Client) Countries(ctx context.Context) ([]Country, error) {
	var countries []Country
	if err := c.do(ctx, http.MethodGet, "/directory/countries", nil, nil, &countries); err != nil {
		return nil, err
	}
	return countries, nil
}

// Regions returns the subdivisions of one country.
func (c *Client) Regions(ctx context.Context, countryID string) ([]Region, error) {
	var country Country
	if err := c.do(ctx, http.MethodGet, "/directory/countries/"+url.PathEscape(countryID), nil, nil, &country); err != nil {
		return nil, err
	}
	return country.Regions, nil
}

// Currency returns the store's currency configuration.
func (c *Client) Currency(ctx context.Context) (*CurrencyInfo, error) {
	var info CurrencyInfo
	if err := c.do(ctx, http.MethodGet, "/directory/currency", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
