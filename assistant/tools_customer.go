package assistant

import (
	"fmt"

	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/tool"
)

// newSearchCustomersTool finds customer accounts by email.
func newSearchCustomersTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"search_customers",
		"Search customer accounts by email address.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"email": map[string]any{"type": "string"},
			},
			"required": []string{"email"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.SearchCustomers(tc.Context(), argString(args, "email"), defaultPageSize)
		},
	)
}

// newCreateCustomerTool registers a customer account.
func newCreateCustomerTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"create_customer",
		"Register a new customer account.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"email":     map[string]any{"type": "string"},
				"firstname": map[string]any{"type": "string"},
				"lastname":  map[string]any{"type": "string"},
			},
			"required": []string{"email", "firstname", "lastname"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.CreateCustomer(tc.Context(), commerce.Customer{
				Email:     argString(args, "email"),
				Firstname: argString(args, "firstname"),
				Lastname:  argString(args, "lastname"),
			})
		},
	)
}

// newUpdateCustomerTool updates an existing account's name or email.
func newUpdateCustomerTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"update_customer",
		"Update an existing customer's name or email.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_id": map[string]any{"type": "integer"},
				"email":       map[string]any{"type": "string"},
				"firstname":   map[string]any{"type": "string"},
				"lastname":    map[string]any{"type": "string"},
			},
			"required": []string{"customer_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.UpdateCustomer(tc.Context(), argInt(args, "customer_id"), commerce.Customer{
				ID:        argInt(args, "customer_id"),
				Email:     argString(args, "email"),
				Firstname: argString(args, "firstname"),
				Lastname:  argString(args, "lastname"),
			})
		},
	)
}

// newDeleteCustomerTool removes a customer account. Confirmation-gated.
func newDeleteCustomerTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"delete_customer",
		"Permanently delete a customer account.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_id": map[string]any{"type": "integer"},
			},
			"required": []string{"customer_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			id := argInt(args, "customer_id")
			if err := client.DeleteCustomer(tc.Context(), id); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "customer_id": id}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Permanently delete customer account %d?", argInt(args, "customer_id"))
	}))
}
