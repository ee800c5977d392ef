package screens

import (
	"context"
	"strings"
	"testing"

	"github.com/kalambet/rxdesk/internal/auth"
)

const testTable = `
screens:
  open:
    component: Open
    permissions: []
  ab:
    component: AB
    permissions: [a, b]
    props:
      mode: default
      size: 1
  c:
    component: C
    permissions: [c]
menu:
  - label: Open
    screen: open
  - label: Group
    children:
      - label: AB
        screen: ab
      - label: C
        screen: c
  - label: OnlyC
    children:
      - label: C
        screen: c
routes:
  - path: /open
    screen: open
  - path: /ab
    screen: ab
  - path: /c
    screen: c
`

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	reg, err := Load(strings.NewReader(testTable))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return NewResolver(reg, "super_admin")
}

func TestHasScreenPermission_Subset(t *testing.T) {
	r := testResolver(t)

	cases := []struct {
		screen string
		perms  []string
		want   bool
	}{
		{"ab", []string{"a", "b", "c"}, true},
		{"ab", []string{"a"}, false},
		{"open", nil, true},
		{"open", []string{}, true},
		{"missing", []string{"a", "b", "c"}, false},
	}
	for _, tc := range cases {
		got := r.HasScreenPermission(tc.screen, auth.User{Permissions: tc.perms})
		if got != tc.want {
			t.Errorf("HasScreenPermission(%q, %v) = %v, want %v", tc.screen, tc.perms, got, tc.want)
		}
	}
}

func TestHasScreenPermission_SuperAdmin(t *testing.T) {
	r := testResolver(t)
	if !r.HasScreenPermission("ab", auth.User{Role: "super_admin"}) {
		t.Error("super admin denied")
	}
	if r.HasScreenPermission("ab", auth.User{Role: "cashier"}) {
		t.Error("cashier without permissions allowed")
	}
	if r.HasScreenPermission("ab", auth.User{Permissions: []string{"*"}}) {
		t.Error("wildcard permission string must not bypass checks")
	}

	noBypass := NewResolver(r.Registry(), "")
	if noBypass.IsSuperAdmin("") {
		t.Error("empty role treated as super admin")
	}
}

func TestRender_MergeOrder(t *testing.T) {
	r := testResolver(t)
	u := auth.User{ID: "u1", Permissions: []string{"a", "b"}}

	ctx := WithAmbient(context.Background(), map[string]any{"theme": "dark", "mode": "ambient", "user": "ambient-user"})
	v := r.Render(ctx, "ab", map[string]any{"size": 2}, u)

	if v.Component != "AB" || v.Denied {
		t.Fatalf("view = %+v", v)
	}
	if v.Props["theme"] != "dark" {
		t.Errorf("theme = %v, want ambient value", v.Props["theme"])
	}
	if v.Props["mode"] != "default" {
		t.Errorf("mode = %v, want screen default over ambient", v.Props["mode"])
	}
	if v.Props["size"] != 2 {
		t.Errorf("size = %v, want call-site 2", v.Props["size"])
	}
	if got, ok := v.Props["user"].(auth.User); !ok || got.ID != "u1" {
		t.Errorf("user = %v, want current user last", v.Props["user"])
	}
}

func TestRender_Denied(t *testing.T) {
	r := testResolver(t)
	v := r.Render(context.Background(), "ab", nil, auth.User{Permissions: []string{"a"}})
	if !v.Denied || v.Component != DeniedComponent {
		t.Errorf("view = %+v, want access denied placeholder", v)
	}
	if _, leaked := v.Props["user"]; leaked {
		t.Error("denied view carries user props")
	}
}

func TestRender_UnknownKey(t *testing.T) {
	r := testResolver(t)
	v := r.Render(context.Background(), "nope", nil, auth.User{Role: "super_admin"})
	if v.Component != "" || v.Screen != "" || v.Denied {
		t.Errorf("view = %+v, want zero View", v)
	}
}

func TestGenerateMenu_ParentNeedsChild(t *testing.T) {
	r := testResolver(t)
	menu := r.GenerateMenu(auth.User{Permissions: []string{"a", "b"}})

	if len(menu) != 2 {
		t.Fatalf("len(menu) = %d, want 2 (%+v)", len(menu), menu)
	}
	if menu[0].Label != "Open" {
		t.Errorf("menu[0] = %q", menu[0].Label)
	}
	if menu[1].Label != "Group" || len(menu[1].Children) != 1 || menu[1].Children[0].Screen != "ab" {
		t.Errorf("Group = %+v, want only the ab child", menu[1])
	}
}

func TestGenerateMenu_DoesNotMutateRegistry(t *testing.T) {
	r := testResolver(t)
	r.GenerateMenu(auth.User{})
	full := r.GenerateMenu(auth.User{Role: "super_admin"})
	if len(full) != 3 || len(full[1].Children) != 2 {
		t.Errorf("full menu = %+v", full)
	}
}

func TestGenerateRoutes(t *testing.T) {
	r := testResolver(t)
	routes := r.GenerateRoutes(auth.User{Permissions: []string{"c"}})
	var paths []string
	for _, rt := range routes {
		paths = append(paths, rt.Path)
	}
	if strings.Join(paths, ",") != "/open,/c" {
		t.Errorf("routes = %v", paths)
	}
}

func TestLoad_RejectsUnknownScreenReference(t *testing.T) {
	bad := `
screens:
  a:
    component: A
routes:
  - path: /b
    screen: b
`
	if _, err := Load(strings.NewReader(bad)); err == nil {
		t.Error("expected error for route to unknown screen")
	}
}

func TestLoad_RequiresComponent(t *testing.T) {
	if _, err := Load(strings.NewReader("screens:\n  a:\n    title: A\n")); err == nil {
		t.Error("expected error for screen without component")
	}
}

func TestDefault(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, key := range []string{"auth.login", "pos.main", "b2b.orders", "inventory.view"} {
		if _, ok := reg.Screen(key); !ok {
			t.Errorf("default table missing %q", key)
		}
	}
	r := NewResolver(reg, "owner")
	if !r.HasScreenPermission("auth.login", auth.User{}) {
		t.Error("login screen should be public")
	}
}
