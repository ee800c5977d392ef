package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/inventory"
	"github.com/kalambet/rxdesk/internal/sales"
	"github.com/kalambet/rxdesk/internal/screens"
	"github.com/kalambet/rxdesk/internal/storage"
	"github.com/kalambet/rxdesk/internal/tabs"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Resolver   *screens.Resolver
	Desks      *sales.Desks
	Projection *inventory.Projection
}

// NewMCPServer creates an MCP server with the rxdesk tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rxdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rxdesk: pharmacy stock levels, screen permissions and open carts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("stock_level",
			mcp.WithDescription("Current on-hand quantity in a warehouse, for one product or all of them."),
			mcp.WithString("warehouse_id", mcp.Description("Warehouse ID"), mcp.Required()),
			mcp.WithString("product_id", mcp.Description("Optional product ID")),
		),
		mcpStockLevel(deps),
	)

	s.AddTool(
		mcp.NewTool("screen_access",
			mcp.WithDescription("Check whether a role with the given permissions may open a screen."),
			mcp.WithString("screen", mcp.Description("Screen key, e.g. pos.main"), mcp.Required()),
			mcp.WithString("role", mcp.Description("Role name")),
			mcp.WithArray("permissions", mcp.Description("Permissions held")),
		),
		mcpScreenAccess(deps),
	)

	s.AddTool(
		mcp.NewTool("tab_totals",
			mcp.WithDescription("Totals of an employee's open tab."),
			mcp.WithString("employee_id", mcp.Description("Employee ID"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Workspace kind: pos or order"), mcp.Required()),
			mcp.WithString("tab_id", mcp.Description("Tab ID (default: active tab)")),
		),
		mcpTabTotals(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://products",
			"Product Catalog",
			mcp.WithResourceDescription("First 100 products as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProducts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"screens://registry",
			"Screen Registry",
			mcp.WithResourceDescription("Every registered screen with its required permissions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceScreens(deps),
	)

	return s
}

func mcpStockLevel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		wh, err := req.RequireString("warehouse_id")
		if err != nil {
			return mcpError("warehouse_id is required"), nil
		}
		levels, err := deps.Projection.Levels(ctx, wh)
		if err != nil {
			return mcpError(fmt.Sprintf("loading stock failed: %v", err)), nil
		}

		if product := req.GetString("product_id", ""); product != "" {
			return mcpText(fmt.Sprintf("%s in %s: %d", product, wh, levels[product])), nil
		}

		b, err := json.Marshal(levels)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal levels: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpScreenAccess(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("screen")
		if err != nil {
			return mcpError("screen is required"), nil
		}
		sc, ok := deps.Resolver.Registry().Screen(key)
		if !ok {
			return mcpError(fmt.Sprintf("unknown screen %q", key)), nil
		}
		u := auth.User{
			Role:        req.GetString("role", ""),
			Permissions: req.GetStringSlice("permissions", nil),
		}

		out := struct {
			Screen   string   `json:"screen"`
			Allowed  bool     `json:"allowed"`
			Required []string `json:"required"`
		}{Screen: key, Allowed: deps.Resolver.HasScreenPermission(key, u), Required: sc.Permissions}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTabTotals(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		employee, err := req.RequireString("employee_id")
		if err != nil {
			return mcpError("employee_id is required"), nil
		}
		kind, ok := tabs.ParseKind(req.GetString("kind", ""))
		if !ok {
			return mcpError("kind must be pos or order"), nil
		}
		desk, err := deps.Desks.For(ctx, employee)
		if err != nil {
			return mcpError(fmt.Sprintf("opening desk failed: %v", err)), nil
		}
		ws, _ := desk.Workspace(kind)
		id := req.GetString("tab_id", "")
		if id == "" {
			id = ws.ActiveID()
		}
		totals, err := ws.Totals(id)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		b, err := json.Marshal(totals)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal totals: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProducts(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		products, err := deps.Store.ListProducts(ctx, 100)
		if err != nil {
			return nil, fmt.Errorf("failed to list products: %w", err)
		}
		if products == nil {
			products = []storage.Product{}
		}
		b, err := json.Marshal(products)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal products: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceScreens(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		reg := deps.Resolver.Registry()
		list := make([]screens.Screen, 0, len(reg.Keys()))
		for _, k := range reg.Keys() {
			sc, _ := reg.Screen(k)
			list = append(list, sc)
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal screens: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
