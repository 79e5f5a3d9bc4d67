package commerce

// Wire types for the commerce REST API. Shapes follow the upstream platform's
// JSON: search endpoints return an items/total_count envelope, entities use
// snake_case fields.

// Product is a catalog product.
type Product struct {
	ID     int     `json:"id,omitempty"`
	SKU    string  `json:"sku"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Status int     `json:"status,omitempty"` // 1 enabled, 2 disabled
	TypeID string  `json:"type_id,omitempty"`
}

// ProductList is the search envelope for products.
type ProductList struct {
	Items      []Product `json:"items"`
	TotalCount int       `json:"total_count"`
}

// StockItem tracks inventory for one SKU.
type StockItem struct {
	ItemID    int     `json:"item_id,omitempty"`
	SKU       string  `json:"sku,omitempty"`
	Qty       float64 `json:"qty"`
	IsInStock bool    `json:"is_in_stock"`
}

// Category is a catalog category node.
type Category struct {
	ID       int    `json:"id,omitempty"`
	ParentID int    `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// CategoryList is the flattened category tree.
type CategoryList struct {
	Items      []Category `json:"items"`
	TotalCount int        `json:"total_count"`
}

// Customer is a registered shopper account.
type Customer struct {
	ID        int    `json:"id,omitempty"`
	Email     string `json:"email"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	GroupID   int    `json:"group_id,omitempty"`
}

// CustomerList is the search envelope for customers.
type CustomerList struct {
	Items      []Customer `json:"items"`
	TotalCount int        `json:"total_count"`
}

// Address is a billing or shipping address on an order.
type Address struct {
	Firstname string   `json:"firstname"`
	Lastname  string   `json:"lastname"`
	Street    []string `json:"street"`
	City      string   `json:"city"`
	Region    string   `json:"region,omitempty"`
	RegionID  int      `json:"region_id,omitempty"`
	CountryID string   `json:"country_id"`
	Postcode  string   `json:"postcode"`
	Telephone string   `json:"telephone,omitempty"`
	Email     string   `json:"email,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	SKU   string  `json:"sku"`
	Qty   float64 `json:"qty"`
	Name  string  `json:"name,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// Order is a placed order.
type Order struct {
	EntityID      int         `json:"entity_id,omitempty"`
	IncrementID   string      `json:"increment_id,omitempty"`
	CustomerID    int         `json:"customer_id,omitempty"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Status        string      `json:"status,omitempty"`
	GrandTotal    float64     `json:"grand_total,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`
}

// OrderDraft is the input for order placement; a nil CustomerID places a
// guest order.
type OrderDraft struct {
	CustomerID *int        `json:"customer_id,omitempty"`
	Email      string      `json:"email"`
	Items      []OrderItem `json:"items"`
	Shipping   Address     `json:"shipping"`
	Billing    Address     `json:"billing"`
}

// Invoice bills an order (fully, in this client).
type Invoice struct {
	EntityID int    `json:"entity_id,omitempty"`
	OrderID  int    `json:"order_id"`
	State    string `json:"state,omitempty"`
}

// Shipment records fulfillment of an order.
type Shipment struct {
	EntityID int    `json:"entity_id,omitempty"`
	OrderID  int    `json:"order_id"`
	TrackNum string `json:"track_number,omitempty"`
	Carrier  string `json:"carrier_code,omitempty"`
}

// Country is a shippable country with its subdivisions.
type Country struct {
	ID       string   `json:"id"`
	FullName string   `json:"full_name_english"`
	Regions  []Region `json:"available_regions,omitempty"`
}

// Region is a country subdivision (state, province, ...).
type Region struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// CurrencyInfo describes the store's currency configuration.
type CurrencyInfo struct {
	BaseCurrencyCode    string   `json:"base_currency_code"`
	DefaultDisplayCode  string   `json:"default_display_currency_code"`
	AvailableCurrencies []string `json:"available_currency_codes,omitempty"`
}
