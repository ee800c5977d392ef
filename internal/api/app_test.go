package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/inventory"
	"github.com/kalambet/rxdesk/internal/mutation"
	"github.com/kalambet/rxdesk/internal/query"
	"github.com/kalambet/rxdesk/internal/sales"
	"github.com/kalambet/rxdesk/internal/screens"
	"github.com/kalambet/rxdesk/internal/storage"
)

type testEnv struct {
	store      *storage.Store
	issuer     *auth.Issuer
	resolver   *screens.Resolver
	projection *inventory.Projection
	desks      *sales.Desks
	handler    http.Handler
}

var (
	cashier = auth.User{ID: "emp-cashier", Name: "Cass", Role: "cashier", Permissions: []string{"pos.access", "dashboard.view"}}
	manager = auth.User{ID: "emp-manager", Name: "Mona", Role: "manager", Permissions: []string{"inventory.view", "b2b.access", "orders.create"}}
	admin   = auth.User{ID: "emp-admin", Name: "Ada", Role: "admin"}
)

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for id, qty := range map[string]int64{"amox": 10, "para": 5} {
		p := storage.Product{ID: id, SKU: "SKU-" + id, Name: id, Unit: "box", Price: decimal.NewFromInt(10)}
		if err := store.UpsertProduct(ctx, p); err != nil {
			t.Fatal(err)
		}
		if err := store.SetStock(ctx, "wh1", id, qty); err != nil {
			t.Fatal(err)
		}
	}

	reg, err := screens.Default()
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		store:      store,
		issuer:     auth.NewIssuer("test-secret", time.Hour),
		resolver:   screens.NewResolver(reg, "admin"),
		projection: inventory.NewProjection(query.New(), store, time.Minute, nil),
	}
	env.desks = sales.NewDesks(store, mutation.NewRegistry(), env.projection, nil)
	env.handler = NewAppHandler(AppDeps{
		Store:      store,
		Resolver:   env.resolver,
		Issuer:     env.issuer,
		Desks:      env.desks,
		Projection: env.projection,
	})
	return env
}

func (e *testEnv) token(t *testing.T, u auth.User) string {
	t.Helper()
	tok, err := e.issuer.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(t *testing.T, u *auth.User, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	tok := ""
	if u != nil {
		tok = e.token(t, *u)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, authReq(method, url, body, tok))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, nil, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestLogin(t *testing.T) {
	env := setupEnv(t)
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	emp := storage.Employee{ID: "emp-1", Username: "cass", Name: "Cass", PasswordHash: hash, Role: "cashier", Permissions: []string{"pos.access"}}
	if err := env.store.CreateEmployee(context.Background(), emp); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, nil, http.MethodPost, "/auth/login", `{"username":"cass","password":"hunter22"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	resp := decode[loginResponse](t, w)
	u, err := env.issuer.Parse(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if u.ID != "emp-1" || u.Role != "cashier" || len(u.Permissions) != 1 {
		t.Errorf("token user = %+v", u)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"username":"cass","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"ghost","password":"hunter22"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"cass"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, nil, http.MethodPost, "/auth/login", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupEnv(t)
	if w := env.do(t, nil, http.MethodGet, "/menu", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", w.Code)
	}
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, authReq(http.MethodGet, "/menu", "", "garbage"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", w.Code)
	}
	w = env.do(t, &cashier, http.MethodGet, "/me", "")
	if me := decode[auth.User](t, w); me.ID != cashier.ID {
		t.Errorf("/me = %+v", me)
	}
}

func TestMenu_FiltersByPermission(t *testing.T) {
	env := setupEnv(t)
	menu := decode[[]screens.MenuItem](t, env.do(t, &cashier, http.MethodGet, "/menu", ""))
	if len(menu) != 2 {
		t.Fatalf("menu = %+v, want Dashboard and Sales", menu)
	}
	if menu[0].Label != "Dashboard" || menu[1].Label != "Sales" {
		t.Errorf("menu labels = %q, %q", menu[0].Label, menu[1].Label)
	}
	if len(menu[1].Children) != 1 || menu[1].Children[0].Screen != "pos.main" {
		t.Errorf("sales children = %+v", menu[1].Children)
	}

	if adminMenu := decode[[]screens.MenuItem](t, env.do(t, &admin, http.MethodGet, "/menu", "")); len(adminMenu) != 4 {
		t.Errorf("admin menu has %d entries, want 4", len(adminMenu))
	}
}

func TestRoutes(t *testing.T) {
	env := setupEnv(t)
	routes := decode[[]screens.Route](t, env.do(t, &manager, http.MethodGet, "/routes", ""))
	got := make(map[string]bool)
	for _, r := range routes {
		got[r.Screen] = true
	}
	for _, want := range []string{"auth.login", "b2b.orders", "inventory.view"} {
		if !got[want] {
			t.Errorf("routes missing %s: %+v", want, routes)
		}
	}
	if got["pos.main"] || got["inventory.lots"] {
		t.Errorf("routes include inaccessible screens: %+v", routes)
	}
}

func TestRenderScreen(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, &cashier, http.MethodGet, "/screens/pos.main?mode=quick", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	view := decode[screens.View](t, w)
	if view.Component != "PosTerminal" || view.Denied {
		t.Errorf("view = %+v", view)
	}
	if view.Props["maxTabs"] != float64(8) || view.Props["mode"] != "quick" || view.Props["path"] != "/screens/pos.main" {
		t.Errorf("props = %v", view.Props)
	}
	if _, ok := view.Props["user"]; !ok {
		t.Error("props missing user")
	}

	denied := decode[screens.View](t, env.do(t, &cashier, http.MethodGet, "/screens/staff.employees", ""))
	if !denied.Denied || denied.Component != screens.DeniedComponent {
		t.Errorf("denied view = %+v", denied)
	}

	if w := env.do(t, &cashier, http.MethodGet, "/screens/no.such", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown screen status = %d", w.Code)
	}
}

func TestProducts(t *testing.T) {
	env := setupEnv(t)
	products := decode[[]storage.Product](t, env.do(t, &cashier, http.MethodGet, "/products?limit=1", ""))
	if len(products) != 1 {
		t.Errorf("products = %+v, want 1", products)
	}
}

func TestStockLevels(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, &manager, http.MethodGet, "/inventory/wh1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	msg := decode[StockMessage](t, w)
	if msg.Levels["amox"] != 10 || msg.Levels["para"] != 5 {
		t.Errorf("levels = %v", msg.Levels)
	}

	if w := env.do(t, &cashier, http.MethodGet, "/inventory/wh1", ""); w.Code != http.StatusForbidden {
		t.Errorf("cashier status = %d, want 403", w.Code)
	}
}

func TestStockStream(t *testing.T) {
	env := setupEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/inventory/wh1?access_token=" + env.token(t, manager)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor := func(want int64) {
		t.Helper()
		for i := 0; i < 10; i++ {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var msg StockMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read: %v", err)
			}
			if msg.Levels["amox"] == want {
				return
			}
		}
		t.Fatalf("never saw amox = %d", want)
	}

	waitFor(10)
	err = env.projection.ApplyDeltas(context.Background(), "wh1", []inventory.Delta{{EntityID: "amox", QuantityChange: -3}})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(7)
}

func TestStockStream_RequiresToken(t *testing.T) {
	env := setupEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/inventory/wh1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v", resp)
	}
}
