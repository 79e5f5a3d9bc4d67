package assistant

import (
	"fmt"

	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/tool"
)

// newOrderStatusTool looks an order up by increment id.
func newOrderStatusTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"order_status",
		"Look up an order's status by its increment id (e.g. 100000023).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"increment_id": map[string]any{"type": "string"},
			},
			"required": []string{"increment_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			orders, err := client.SearchOrders(tc.Context(), argString(args, "increment_id"), 1)
			if err != nil {
				return nil, err
			}
			if len(orders) == 0 {
				return map[string]any{"found": false}, nil
			}
			return orders[0], nil
		},
	)
}

// newCreateOrderTool places an order for a registered customer or a guest.
// Confirmation-gated: placing an order charges the customer.
func newCreateOrderTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"create_order",
		"Place an order. Provide customer_id for a registered customer, or only an email for a guest order.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_id": map[string]any{"type": "integer"},
				"email":       map[string]any{"type": "string"},
				"sku":         map[string]any{"type": "string"},
				"qty":         map[string]any{"type": "number"},
				"country_id":  map[string]any{"type": "string"},
				"city":        map[string]any{"type": "string"},
				"street":      map[string]any{"type": "string"},
				"postcode":    map[string]any{"type": "string"},
				"firstname":   map[string]any{"type": "string"},
				"lastname":    map[string]any{"type": "string"},
			},
			"required": []string{"email", "sku", "qty", "country_id", "city", "street", "postcode"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			addr := commerce.Address{
				Firstname: argString(args, "firstname"),
				Lastname:  argString(args, "lastname"),
				Street:    []string{argString(args, "street")},
				City:      argString(args, "city"),
				CountryID: argString(args, "country_id"),
				Postcode:  argString(args, "postcode"),
				Email:     argString(args, "email"),
			}

			draft := commerce.OrderDraft{
				Email:    argString(args, "email"),
				Items:    []commerce.OrderItem{{SKU: argString(args, "sku"), Qty: argFloat(args, "qty", 1)}},
				Shipping: addr,
				Billing:  addr,
			}
			if id := argInt(args, "customer_id"); id > 0 {
				draft.CustomerID = &id
			}

			placed, err := client.CreateOrder(tc.Context(), draft)
			if err != nil {
				return nil, err
			}

			tc.SetState("last_order_id", placed.EntityID)
			return placed, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Place an order for %v x %s shipped to %s, %s (%s)?",
			args["qty"], argString(args, "sku"), argString(args, "city"),
			argString(args, "country_id"), argString(args, "email"))
	}))
}

// newCancelOrderTool cancels an order. Confirmation-gated and irreversible.
func newCancelOrderTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"cancel_order",
		"Cancel an order by its entity id. Irreversible.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "integer"},
			},
			"required": []string{"order_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			id := argInt(args, "order_id")
			if err := client.CancelOrder(tc.Context(), id); err != nil {
				return nil, err
			}
			return map[string]any{"cancelled": true, "order_id": id}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Cancel order %d? This cannot be undone.", argInt(args, "order_id"))
	}))
}

// newCreateShipmentTool fulfills an order. Confirmation-gated.
func newCreateShipmentTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"create_shipment",
		"Create a shipment fulfilling an order in full.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "integer"},
			},
			"required": []string{"order_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			id := argInt(args, "order_id")
			shipmentID, err := client.CreateShipment(tc.Context(), id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"shipment_id": shipmentID, "order_id": id}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Ship order %d in full?", argInt(args, "order_id"))
	}))
}

// newCreateInvoiceTool bills an order. Confirmation-gated: invoicing captures
// payment.
func newCreateInvoiceTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"create_invoice",
		"Create an invoice billing an order in full and capturing payment.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "integer"},
			},
			"required": []string{"order_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			id := argInt(args, "order_id")
			invoiceID, err := client.CreateInvoice(tc.Context(), id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"invoice_id": invoiceID, "order_id": id}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Invoice order %d in full and capture payment?", argInt(args, "order_id"))
	}))
}
