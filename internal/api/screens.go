package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/screens"
)

func handleMenu(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, _ := auth.FromContext(r.Context())
		menu := deps.Resolver.GenerateMenu(u)
		if menu == nil {
			menu = []screens.MenuItem{}
		}
		writeJSON(w, http.StatusOK, menu)
	}
}

func handleRoutes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, _ := auth.FromContext(r.Context())
		routes := deps.Resolver.GenerateRoutes(u)
		if routes == nil {
			routes = []screens.Route{}
		}
		writeJSON(w, http.StatusOK, routes)
	}
}

// handleRenderScreen resolves a screen for the caller. Query parameters are
// passed through as string props. Denied screens render the placeholder
// with 200; only unknown keys are 404.
func handleRenderScreen(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		u, _ := auth.FromContext(r.Context())

		props := make(map[string]any)
		for k, v := range r.URL.Query() {
			if k == "access_token" || len(v) == 0 {
				continue
			}
			props[k] = v[0]
		}

		ctx := screens.WithAmbient(r.Context(), map[string]any{"path": r.URL.Path})
		view := deps.Resolver.Render(ctx, key, props, u)
		if view.Component == "" {
			httpError(w, http.StatusNotFound, "not_found", "screen %q not found", key)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
