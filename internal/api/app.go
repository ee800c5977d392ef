// Package api exposes the desk over HTTP, a websocket stock feed and MCP.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/inventory"
	"github.com/kalambet/rxdesk/internal/sales"
	"github.com/kalambet/rxdesk/internal/screens"
	"github.com/kalambet/rxdesk/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds everything the HTTP surface needs.
type AppDeps struct {
	Store      *storage.Store
	Resolver   *screens.Resolver
	Issuer     *auth.Issuer
	Desks      *sales.Desks
	Projection *inventory.Projection
	Logger     *slog.Logger // optional
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Post("/auth/login", handleLogin(deps))

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.Issuer))

		r.Get("/me", handleMe)
		r.Get("/menu", handleMenu(deps))
		r.Get("/routes", handleRoutes(deps))
		r.Get("/screens/{key}", handleRenderScreen(deps))
		r.Get("/products", handleListProducts(deps))

		r.Group(func(r chi.Router) {
			r.Use(RequireScreen(deps.Resolver, "inventory.view"))
			r.Get("/inventory/{warehouse}", handleStockLevels(deps))
			r.Get("/ws/inventory/{warehouse}", handleStockStream(deps))
		})

		r.Route("/workspaces/{kind}", func(r chi.Router) {
			r.Use(workspaceCtx(deps))
			r.Get("/", handleGetWorkspace)
			r.Post("/save", handleSaveWorkspace)
			r.Post("/tabs", handleCreateTab)
			r.Get("/tabs/{id}", handleGetTab)
			r.Delete("/tabs/{id}", handleCloseTab)
			r.Post("/tabs/{id}/activate", handleSwitchTab)
			r.Post("/tabs/{id}/items", handleAddItem)
			r.Delete("/tabs/{id}/items", handleClearTab)
			r.Patch("/tabs/{id}/items/{line}", handleUpdateItem)
			r.Delete("/tabs/{id}/items/{line}", handleRemoveItem)
			r.Patch("/tabs/{id}/selection", handleSelection)
			r.Get("/tabs/{id}/totals", handleTotals)
			r.Post("/tabs/{id}/commit", handleCommit)
			r.Get("/tabs/{id}/commit", handleCommitState)
		})
	})

	return r
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
