package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/sales"
	"github.com/kalambet/rxdesk/internal/tabs"
)

// workspaceScreens names the screen guarding each workspace kind.
var workspaceScreens = map[tabs.Kind]string{
	tabs.KindPOS:   "pos.main",
	tabs.KindOrder: "b2b.orders",
}

type workspaceKey struct{}

type workspaceScope struct {
	kind tabs.Kind
	desk *sales.Desk
	ws   *tabs.Workspace
}

func scopeFrom(ctx context.Context) workspaceScope {
	s, _ := ctx.Value(workspaceKey{}).(workspaceScope)
	return s
}

// workspaceCtx resolves {kind}, checks the guarding screen and loads the
// caller's desk.
func workspaceCtx(deps AppDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kind, ok := tabs.ParseKind(chi.URLParam(r, "kind"))
			if !ok {
				httpError(w, http.StatusNotFound, "not_found", "unknown workspace %q", chi.URLParam(r, "kind"))
				return
			}
			u, _ := auth.FromContext(r.Context())
			if screen := workspaceScreens[kind]; !deps.Resolver.HasScreenPermission(screen, u) {
				httpError(w, http.StatusForbidden, "permission_error", "screen %s is not accessible", screen)
				return
			}
			desk, err := deps.Desks.For(r.Context(), u.ID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to open desk: %v", err)
				return
			}
			ws, _ := desk.Workspace(kind)
			ctx := context.WithValue(r.Context(), workspaceKey{}, workspaceScope{kind: kind, desk: desk, ws: ws})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

type workspaceView struct {
	Kind   tabs.Kind  `json:"kind"`
	Active string     `json:"active"`
	Tabs   []tabs.Tab `json:"tabs"`
}

type tabView struct {
	tabs.Tab
	Totals tabs.Totals `json:"totals"`
}

func handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	s := scopeFrom(r.Context())
	writeJSON(w, http.StatusOK, workspaceView{Kind: s.kind, Active: s.ws.ActiveID(), Tabs: s.ws.Tabs()})
}

func handleSaveWorkspace(w http.ResponseWriter, r *http.Request) {
	s := scopeFrom(r.Context())
	if err := s.desk.Save(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func handleCreateTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	t := scopeFrom(r.Context()).ws.CreateTab(req.Title)
	writeJSON(w, http.StatusCreated, t)
}

func writeTab(w http.ResponseWriter, ws *tabs.Workspace, id string) {
	t, err := ws.Tab(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tabView{Tab: t, Totals: tabs.ComputeTotals(t)})
}

func handleGetTab(w http.ResponseWriter, r *http.Request) {
	writeTab(w, scopeFrom(r.Context()).ws, chi.URLParam(r, "id"))
}

func handleCloseTab(w http.ResponseWriter, r *http.Request) {
	ws := scopeFrom(r.Context()).ws
	if err := ws.CloseTab(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workspaceView{Kind: ws.Kind(), Active: ws.ActiveID(), Tabs: ws.Tabs()})
}

func handleSwitchTab(w http.ResponseWriter, r *http.Request) {
	ws := scopeFrom(r.Context()).ws
	id := chi.URLParam(r, "id")
	if err := ws.SwitchTab(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeTab(w, ws, id)
}

func handleAddItem(w http.ResponseWriter, r *http.Request) {
	var it tabs.Item
	if !decodeBody(w, r, &it) {
		return
	}
	if it.EntityID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "entity_id is required")
		return
	}
	line, err := scopeFrom(r.Context()).ws.AddItem(chi.URLParam(r, "id"), it)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var p tabs.Patch
	if !decodeBody(w, r, &p) {
		return
	}
	line, err := scopeFrom(r.Context()).ws.UpdateItem(chi.URLParam(r, "id"), chi.URLParam(r, "line"), p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ws := scopeFrom(r.Context()).ws
	id := chi.URLParam(r, "id")
	if err := ws.RemoveItem(id, chi.URLParam(r, "line")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeTab(w, ws, id)
}

func handleClearTab(w http.ResponseWriter, r *http.Request) {
	ws := scopeFrom(r.Context()).ws
	id := chi.URLParam(r, "id")
	if err := ws.Clear(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeTab(w, ws, id)
}

type selectionRequest struct {
	Party           *string           `json:"party"`
	WarehouseID     *string           `json:"warehouse_id"`
	LocationID      *string           `json:"location_id"`
	PaymentMethod   *string           `json:"payment_method"`
	DiscountPercent *decimal.Decimal  `json:"discount_percent"`
	TaxPercent      *decimal.Decimal  `json:"tax_percent"`
	Form            map[string]string `json:"form"`
}

// handleSelection applies the present fields in a fixed order and stops at
// the first rejected one.
func handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws := scopeFrom(r.Context()).ws
	id := chi.URLParam(r, "id")

	var steps []func() error
	if req.Party != nil {
		steps = append(steps, func() error { return ws.SetParty(id, *req.Party) })
	}
	if req.WarehouseID != nil {
		steps = append(steps, func() error { return ws.SetWarehouse(id, *req.WarehouseID) })
	}
	if req.LocationID != nil {
		steps = append(steps, func() error { return ws.SetLocation(id, *req.LocationID) })
	}
	if req.PaymentMethod != nil {
		steps = append(steps, func() error { return ws.SetPaymentMethod(id, *req.PaymentMethod) })
	}
	if req.DiscountPercent != nil {
		steps = append(steps, func() error { return ws.SetDiscountPercent(id, *req.DiscountPercent) })
	}
	if req.TaxPercent != nil {
		steps = append(steps, func() error { return ws.SetTaxPercent(id, *req.TaxPercent) })
	}
	for field, value := range req.Form {
		steps = append(steps, func() error { return ws.SetFormField(id, field, value) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeTab(w, ws, id)
}

func handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := scopeFrom(r.Context()).ws.Totals(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func handleCommit(w http.ResponseWriter, r *http.Request) {
	s := scopeFrom(r.Context())
	res, err := s.desk.Commit(r.Context(), s.kind, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CommitState is the wire form of a tab's shared commit state.
type CommitState struct {
	Loading   bool   `json:"loading"`
	Error     string `json:"error,omitempty"`
	NoOwner   bool   `json:"no_owner,omitempty"`
	Result    any    `json:"result,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func handleCommitState(w http.ResponseWriter, r *http.Request) {
	s := scopeFrom(r.Context())
	st := s.desk.CommitState(s.kind, chi.URLParam(r, "id"))
	out := CommitState{Loading: st.IsLoading, NoOwner: st.NoOwner, Result: st.Data}
	if st.IsError && st.Err != nil {
		out.Error = st.Err.Error()
	}
	if !st.LastFetch.IsZero() {
		out.UpdatedAt = st.LastFetch.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}
