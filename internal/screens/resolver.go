package screens

import (
	"context"
	"maps"

	"github.com/kalambet/rxdesk/internal/auth"
)

// DeniedComponent is the placeholder rendered when a user lacks a screen's permissions.
const DeniedComponent = "AccessDenied"

// View is a resolved screen ready for the client. The zero View means no
// component exists for the requested key.
type View struct {
	Screen    string         `json:"screen,omitempty"`
	Component string         `json:"component,omitempty"`
	Title     string         `json:"title,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
	Denied    bool           `json:"denied,omitempty"`
}

// Resolver answers permission questions against a Registry.
type Resolver struct {
	reg            *Registry
	superAdminRole string
}

// NewResolver creates a Resolver. Users whose role equals superAdminRole
// hold every permission. An empty superAdminRole disables the bypass.
func NewResolver(reg *Registry, superAdminRole string) *Resolver {
	return &Resolver{reg: reg, superAdminRole: superAdminRole}
}

// Registry returns the underlying screen table.
func (r *Resolver) Registry() *Registry { return r.reg }

// IsSuperAdmin reports whether role bypasses permission checks.
func (r *Resolver) IsSuperAdmin(role string) bool {
	return r.superAdminRole != "" && role == r.superAdminRole
}

// HasPermissions reports whether have contains every entry of required.
func HasPermissions(required, have []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, p := range have {
		set[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}

// HasScreenPermission reports whether u may open the screen named key.
// Unknown screens are never accessible.
func (r *Resolver) HasScreenPermission(key string, u auth.User) bool {
	s, ok := r.reg.Screen(key)
	if !ok {
		return false
	}
	if r.IsSuperAdmin(u.Role) {
		return true
	}
	return HasPermissions(s.Permissions, u.Permissions)
}

type ambientKey struct{}

// WithAmbient returns ctx carrying props that every Render call merges first.
func WithAmbient(ctx context.Context, props map[string]any) context.Context {
	merged := make(map[string]any)
	if prev, ok := ctx.Value(ambientKey{}).(map[string]any); ok {
		maps.Copy(merged, prev)
	}
	maps.Copy(merged, props)
	return context.WithValue(ctx, ambientKey{}, merged)
}

// Render resolves key for u. Props merge ambient, screen defaults, props
// and finally "user", later sources overwriting earlier ones.
func (r *Resolver) Render(ctx context.Context, key string, props map[string]any, u auth.User) View {
	s, ok := r.reg.Screen(key)
	if !ok {
		return View{}
	}
	if !r.HasScreenPermission(key, u) {
		return View{
			Screen:    key,
			Component: DeniedComponent,
			Title:     s.Title,
			Props:     map[string]any{"required": s.Permissions},
			Denied:    true,
		}
	}

	merged := make(map[string]any)
	if amb, ok := ctx.Value(ambientKey{}).(map[string]any); ok {
		maps.Copy(merged, amb)
	}
	maps.Copy(merged, s.Props)
	maps.Copy(merged, props)
	merged["user"] = u

	return View{Screen: key, Component: s.Component, Title: s.Title, Props: merged}
}

// GenerateMenu returns the menu entries u can reach. A parent entry is kept
// only while at least one child survives.
func (r *Resolver) GenerateMenu(u auth.User) []MenuItem {
	return r.filterMenu(r.reg.menu, u)
}

func (r *Resolver) filterMenu(items []MenuItem, u auth.User) []MenuItem {
	var out []MenuItem
	for _, it := range items {
		if len(it.Children) > 0 {
			children := r.filterMenu(it.Children, u)
			if len(children) == 0 {
				continue
			}
			it.Children = children
			out = append(out, it)
			continue
		}
		if it.Screen != "" && !r.HasScreenPermission(it.Screen, u) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// GenerateRoutes returns the routes u can reach.
func (r *Resolver) GenerateRoutes(u auth.User) []Route {
	var out []Route
	for _, rt := range r.reg.routes {
		if r.HasScreenPermission(rt.Screen, u) {
			out = append(out, rt)
		}
	}
	return out
}
