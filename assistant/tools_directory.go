package assistant

import (
	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/tool"
)

// newListCountriesTool lists shippable countries.
func newListCountriesTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"list_countries",
		"List the countries the store ships to.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			return client.Countries(tc.Context())
		},
	)
}

// newListRegionsTool lists the regions of one country.
func newListRegionsTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"list_regions",
		"List the regions (states, provinces) of a country by its two-letter id.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"country_id": map[string]any{"type": "string", "description": "ISO country id, e.g. FR"},
			},
			"required": []string{"country_id"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return client.Regions(tc.Context(), argString(args, "country_id"))
		},
	)
}

// newCurrencyTool returns the store currency configuration.
func newCurrencyTool(client *commerce.Client) tool.Tool {
	return tool.NewFunctionTool(
		"currency_info",
		"Get the store's base and display currency configuration.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			return client.Currency(tc.Context())
		},
	)
}
