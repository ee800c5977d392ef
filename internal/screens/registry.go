// Package screens holds the static screen table and resolves which screens,
// menu entries and routes a user may reach.
package screens

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

// Screen is one registry entry. Every permission listed is required.
type Screen struct {
	Key         string         `yaml:"-" json:"key"`
	Component   string         `yaml:"component" json:"component"`
	Permissions []string       `yaml:"permissions" json:"permissions"`
	Category    string         `yaml:"category" json:"category"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Props       map[string]any `yaml:"props" json:"props,omitempty"`
}

// MenuItem is a navigation entry. Leaves point at a screen; parents group children.
type MenuItem struct {
	Label    string     `yaml:"label" json:"label"`
	Icon     string     `yaml:"icon" json:"icon,omitempty"`
	Path     string     `yaml:"path" json:"path,omitempty"`
	Screen   string     `yaml:"screen" json:"screen,omitempty"`
	Children []MenuItem `yaml:"children" json:"children,omitempty"`
}

// Route binds a path to a screen.
type Route struct {
	Path   string `yaml:"path" json:"path"`
	Screen string `yaml:"screen" json:"screen"`
}

// Registry is the immutable screen table.
type Registry struct {
	screens map[string]Screen
	menu    []MenuItem
	routes  []Route
}

type table struct {
	Screens map[string]Screen `yaml:"screens"`
	Menu    []MenuItem        `yaml:"menu"`
	Routes  []Route           `yaml:"routes"`
}

// Load parses a YAML screen table and checks that every menu entry and
// route names a known screen.
func Load(r io.Reader) (*Registry, error) {
	var t table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parsing screen table: %w", err)
	}

	reg := &Registry{screens: make(map[string]Screen, len(t.Screens))}
	for key, s := range t.Screens {
		if s.Component == "" {
			return nil, fmt.Errorf("screen %q: component is required", key)
		}
		s.Key = key
		reg.screens[key] = s
	}

	for _, rt := range t.Routes {
		if _, ok := reg.screens[rt.Screen]; !ok {
			return nil, fmt.Errorf("route %q: unknown screen %q", rt.Path, rt.Screen)
		}
	}
	if err := reg.checkMenu(t.Menu); err != nil {
		return nil, err
	}

	reg.menu = t.Menu
	reg.routes = t.Routes
	return reg, nil
}

func (r *Registry) checkMenu(items []MenuItem) error {
	for _, it := range items {
		if it.Screen != "" {
			if _, ok := r.screens[it.Screen]; !ok {
				return fmt.Errorf("menu %q: unknown screen %q", it.Label, it.Screen)
			}
		}
		if err := r.checkMenu(it.Children); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the built-in screen table.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultTable))
}

// Screen looks up a screen by key.
func (r *Registry) Screen(key string) (Screen, bool) {
	s, ok := r.screens[key]
	return s, ok
}

// Keys returns all screen keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.screens))
	for k := range r.screens {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
