// Package assistant assembles the store assistant's agent hierarchy:
//
//	root supervisor
//	  ├── catalog_supervisor   → product_agent, category_agent, stock_agent
//	  ├── sales_supervisor     → order_agent, shipment_agent, invoice_agent
//	  ├── customer_supervisor  → customer_agent
//	  └── directory_supervisor → directory_agent
//
// Supervisors only classify and delegate. Capability agents carry the
// commerce tools; every irreversible operation (order placement and
// cancellation, shipment, invoice, deletions, stock mutation) is
// confirmation-gated and suspends the run until the caller decides.
package assistant

import (
	"fmt"

	"github.com/shopmesh/shopmesh/agent"
	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/model"
)

// Config wires the assistant's collaborators.
type Config struct {
	// SupervisorModel serves the routing classification calls.
	SupervisorModel model.Model
	// AgentModel serves the capability agents' react loops.
	AgentModel model.Model
	// Commerce is the store API client shared by all tools.
	Commerce *commerce.Client
	// StoreName appears in agent instructions.
	StoreName string
}

// New builds the full hierarchy and returns its root supervisor.
func New(cfg Config) (*agent.Supervisor, error) {
	if cfg.SupervisorModel == nil || cfg.AgentModel == nil {
		return nil, fmt.Errorf("assistant: both models are required")
	}
	if cfg.Commerce == nil {
		return nil, fmt.Errorf("assistant: commerce client is required")
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "the store"
	}

	catalog, err := newCatalogSupervisor(cfg)
	if err != nil {
		return nil, err
	}
	sales, err := newSalesSupervisor(cfg)
	if err != nil {
		return nil, err
	}
	customer, err := newCustomerSupervisor(cfg)
	if err != nil {
		return nil, err
	}
	directory, err := newDirectorySupervisor(cfg)
	if err != nil {
		return nil, err
	}

	root := agent.NewSupervisor("root_supervisor", cfg.SupervisorModel, func(o *agent.SupervisorOptions) {
		o.Instruction = agent.NewInstructionFromText(fmt.Sprintf(
			"You are the assistant for %s, an online store. Classify the shopper's request into the store domains and delegate.", cfg.StoreName))
		o.Routes = map[string]string{
			"catalog":   "catalog_supervisor",
			"sales":     "sales_supervisor",
			"customer":  "customer_supervisor",
			"directory": "directory_supervisor",
		}
	})
	root.SetDescription("Top-level router over the catalog, sales, customer and directory domains.")

	if err := root.SetSubAgents(catalog, sales, customer, directory); err != nil {
		return nil, err
	}

	return root, nil
}

func newCatalogSupervisor(cfg Config) (*agent.Supervisor, error) {
	products := agent.NewCapabilityAgent("product_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(
			"You manage the product catalog. Use your tools to search, inspect, create, update and delete products. Never invent SKUs.")
		o.OutputKey = "product_agent_result"
	})
	products.SetDescription("Product catalog: search, view, create, update, delete products.")
	products.RegisterTools(
		newSearchProductsTool(cfg.Commerce),
		newViewProductTool(cfg.Commerce),
		newCreateProductTool(cfg.Commerce),
		newUpdateProductTool(cfg.Commerce),
		newDeleteProductTool(cfg.Commerce),
	)

	categories := agent.NewCapabilityAgent("category_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(
			"You manage catalog categories: list the tree, create new categories, delete obsolete ones.")
		o.OutputKey = "category_agent_result"
	})
	categories.SetDescription("Catalog categories: list, create, delete.")
	categories.RegisterTools(
		newListCategoriesTool(cfg.Commerce),
		newCreateCategoryTool(cfg.Commerce),
		newDeleteCategoryTool(cfg.Commerce),
	)

	stock := agent.NewCapabilityAgent("stock_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(
			"You manage inventory. Check stock levels, report low-stock items and update quantities when asked.")
		o.OutputKey = "stock_agent_result"
	})
	stock.SetDescription("Inventory: stock lookup, low-stock alerts, stock updates.")
	stock.RegisterTools(
		newCheckStockTool(cfg.Commerce),
		newLowStockTool(cfg.Commerce),
		newUpdateStockTool(cfg.Commerce),
	)

	sup := agent.NewSupervisor("catalog_supervisor", cfg.SupervisorModel, func(o *agent.SupervisorOptions) {
		o.Instruction = agent.NewInstructionFromText("You route catalog requests: products, categories and inventory.")
		o.Routes = map[string]string{
			"products":   "product_agent",
			"categories": "category_agent",
			"inventory":  "stock_agent",
		}
	})
	sup.SetDescription("Catalog domain: products, categories and stock.")

	if err := sup.SetSubAgents(products, categories, stock); err != nil {
		return nil, err
	}
	return sup, nil
}

func newSalesSupervisor(cfg Config) (*agent.Supervisor, error) {
	orders := agent.NewCapabilityAgent("order_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(
			"You handle orders: status lookups, placing orders for registered customers or guests, and cancellations. " +
				"Collect a full shipping address before placing an order.")
		o.OutputKey = "order_agent_result"
	})
	orders.SetDescription("Orders: status, placement (registered or guest), cancellation.")
	orders.RegisterTools(
		newOrderStatusTool(cfg.Commerce),
		newCreateOrderTool(cfg.Commerce),
		newCancelOrderTool(cfg.Commerce),
	)

	shipments := agent.NewCapabilityAgent("shipment_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText("You create shipments that fulfill orders.")
		o.OutputKey = "shipment_agent_result"
	})
	shipments.SetDescription("Shipments: fulfill an order.")
	shipments.RegisterTools(newCreateShipmentTool(cfg.Commerce))

	invoices := agent.NewCapabilityAgent("invoice_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText("You create invoices that bill orders and capture payment.")
		o.OutputKey = "invoice_agent_result"
	})
	invoices.SetDescription("Invoices: bill an order.")
	invoices.RegisterTools(newCreateInvoiceTool(cfg.Commerce))

	sup := agent.NewSupervisor("sales_supervisor", cfg.SupervisorModel, func(o *agent.SupervisorOptions) {
		o.Instruction = agent.NewInstructionFromText("You route sales requests: orders, shipments and invoices.")
		o.Routes = map[string]string{
			"orders":    "order_agent",
			"shipments": "shipment_agent",
			"invoices":  "invoice_agent",
		}
		// Order placement needs valid country/region data; fetch it from the
		// sibling directory domain before the order agent runs.
		o.Prefetch = map[string][]string{
			"order_agent": {"directory_agent"},
		}
	})
	sup.SetDescription("Sales domain: orders, shipments and invoices.")

	if err := sup.SetSubAgents(orders, shipments, invoices); err != nil {
		return nil, err
	}
	return sup, nil
}

func newCustomerSupervisor(cfg Config) (*agent.Supervisor, error) {
	customers := agent.NewCapabilityAgent("customer_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(
			"You manage customer accounts: search by email, register, update and delete accounts.")
		o.OutputKey = "customer_agent_result"
	})
	customers.SetDescription("Customer accounts: search, create, update, delete.")
	customers.RegisterTools(
		newSearchCustomersTool(cfg.Commerce),
		newCreateCustomerTool(cfg.Commerce),
		newUpdateCustomerTool(cfg.Commerce),
		newDeleteCustomerTool(cfg.Commerce),
	)

	sup := agent.NewSupervisor("customer_supervisor", cfg.SupervisorModel, func(o *agent.SupervisorOptions) {
		o.Instruction = agent.NewInstructionFromText("You route customer account requests.")
		o.Routes = map[string]string{"accounts": "customer_agent"}
	})
	sup.SetDescription("Customer domain: account management.")

	if err := sup.SetSubAgents(customers); err != nil {
		return nil, err
	}
	return sup, nil
}

func newDirectorySupervisor(cfg Config) (*agent.Supervisor, error) {
	directory := agent.NewCapabilityAgent("directory_agent", cfg.AgentModel, func(o *agent.CapabilityAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(
			"You answer questions about shipping destinations and currency: countries, regions and currency configuration.")
		o.OutputKey = "directory_agent_result"
	})
	directory.SetDescription("Directory data: countries, regions, currency.")
	directory.RegisterTools(
		newListCountriesTool(cfg.Commerce),
		newListRegionsTool(cfg.Commerce),
		newCurrencyTool(cfg.Commerce),
	)

	sup := agent.NewSupervisor("directory_supervisor", cfg.SupervisorModel, func(o *agent.SupervisorOptions) {
		o.Instruction = agent.NewInstructionFromText("You route directory requests: countries, regions, currency.")
		o.Routes = map[string]string{"directory": "directory_agent"}
	})
	sup.SetDescription("Directory domain: countries, regions and currency.")

	if err := sup.SetSubAgents(directory); err != nil {
		return nil, err
	}
	return sup, nil
}
