package assistant

import (
	"fmt"

	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/tool"
)

// Argument coercion helpers. JSON object arguments arrive as map[string]any
// with float64 numbers.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	if f, ok := args[key].(float64); ok {
		return f
	}
	return fallback
}

func argInt(args map[string]any, key string) int {
	return int(argFloat(args, key, 0))
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return fallback
}

const defaultPageSize = 10

// newSearchProductsTool finds catalog products by name.
func newSearchProductsTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"search_products",
		"Search catalog products by name.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Product name or fragment"},
			},
			"required": []string{"query"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.SearchProducts(tc.Context(), argString(args, "query"), defaultPageSize)
		},
	)
}

// newViewProductTool fetches one product by SKU.
func newViewProductTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"view_product",
		"Fetch one product by SKU.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku": map[string]any{"type": "string"},
			},
			"required": []string{"sku"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.GetProduct(tc.Context(), argString(args, "sku"))
		},
	)
}

// newCreateProductTool adds a product to the catalog.
func newCreateProductTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"create_product",
		"Create a new catalog product.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku":   map[string]any{"type": "string"},
				"name":  map[string]any{"type": "string"},
				"price": map[string]any{"type": "number"},
			},
			"required": []string{"sku", "name", "price"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.CreateProduct(tc.Context(), commerce.Product{
				SKU:    argString(args, "sku"),
				Name:   argString(args, "name"),
				Price:  argFloat(args, "price", 0),
				Status: 1,
				TypeID: "simple",
			})
		},
	)
}

// newUpdateProductTool updates name/price of an existing product.
func newUpdateProductTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"update_product",
		"Update an existing product's name or price.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku":   map[string]any{"type": "string"},
				"name":  map[string]any{"type": "string"},
				"price": map[string]any{"type": "number"},
			},
			"required": []string{"sku"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			sku := argString(args, "sku")
			current, err := client.GetProduct(tc.Context(), sku)
			if err != nil {
				return nil, err
			}
			if name := argString(args, "name"); name != "" {
				current.Name = name
			}
			if price := argFloat(args, "price", -1); price >= 0 {
				current.Price = price
			}
			return client.UpdateProduct(tc.Context(), sku, *current)
		},
	)
}

// newDeleteProductTool removes a product. Confirmation-gated.
func newDeleteProductTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"delete_product",
		"Permanently delete a product from the catalog.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku": map[string]any{"type": "string"},
			},
			"required": []string{"sku"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			sku := argString(args, "sku")
			if err := client.DeleteProduct(tc.Context(), sku); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "sku": sku}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Permanently delete product %s from the catalog?", argString(args, "sku"))
	}))
}

// newCheckStockTool reads inventory for a SKU.
func newCheckStockTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"check_stock",
		"Check inventory quantity and availability for a SKU.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku": map[string]any{"type": "string"},
			},
			"required": []string{"sku"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.GetStockItem(tc.Context(), argString(args, "sku"))
		},
	)
}

// newLowStockTool lists items at or below a threshold quantity.
func newLowStockTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"low_stock_alert",
		"List products whose stock is at or below a threshold quantity.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"threshold": map[string]any{"type": "number", "description": "Quantity threshold"},
			},
			"required": []string{"threshold"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.LowStockItems(tc.Context(), argFloat(args, "threshold", 0), defaultPageSize)
		},
	)
}

// newUpdateStockTool sets inventory for a SKU. Confirmation-gated: stock
// mutations ripple into availability on the storefront.
func newUpdateStockTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"update_stock",
		"Set the inventory quantity for a SKU.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku":         map[string]any{"type": "string"},
				"qty":         map[string]any{"type": "number"},
				"is_in_stock": map[string]any{"type": "boolean"},
			},
			"required": []string{"sku", "qty"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			sku := argString(args, "sku")
			current, err := client.GetStockItem(tc.Context(), sku)
			if err != nil {
				return nil, err
			}
			qty := argFloat(args, "qty", current.Qty)
			item := commerce.StockItem{
				ItemID:    current.ItemID,
				Qty:       qty,
				IsInStock: argBool(args, "is_in_stock", qty > 0),
			}
			if err := client.UpdateStockItem(tc.Context(), sku, item); err != nil {
				return nil, err
			}
			return map[string]any{"sku": sku, "qty": qty}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Set stock of %s to %v units?", argString(args, "sku"), args["qty"])
	}))
}

// newListCategoriesTool lists the category tree.
func newListCategoriesTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"list_categories",
		"List catalog categories.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			return client.ListCategories(tc.Context(), 50)
		},
	)
}

// newCreateCategoryTool adds a category.
func newCreateCategoryTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"create_category",
		"Create a catalog category.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":      map[string]any{"type": "string"},
				"parent_id": map[string]any{"type": "integer"},
			},
			"required": []string{"name"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.CreateCategory(tc.Context(), commerce.Category{
				Name:     argString(args, "name"),
				ParentID: argInt(args, "parent_id"),
				IsActive: true,
			})
		},
	)
}

// newDeleteCategoryTool removes a category. Confirmation-gated.
func newDeleteCategoryTool(client *commerce.Client) tool.Tool {
	return tool.WithConfirmation(tool.NewFunctionTool(
		"delete_category",
		"Permanently delete a catalog category.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category_id": map[string]any{"type": "integer"},
			},
			"required": []string{"category_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			id := argInt(args, "category_id")
			if err := client.DeleteCategory(tc.Context(), id); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "category_id": id}, nil
		},
	), withPrompt(func(args map[string]any) string {
		return fmt.Sprintf("Permanently delete category %d?", argInt(args, "category_id"))
	}))
}

// withPrompt adapts a per-tool prompt renderer into ConfirmedToolOptions.
func withPrompt(render func(args map[string]any) string) func(o *tool.ConfirmedToolOptions) {
	return func(o *tool.ConfirmedToolOptions) {
		o.Prompt = func(_ string, args map[string]any) string { return render(args) }
	}
}
