// Package menu builds the admin navigation, hiding every entry the current
// user lacks the capability for.
package menu

import (
	"context"
	"html"
	"sort"
	"strings"
	"sync"

	"go-cms/hook"

	"go.uber.org/zap"
)

// Authorizer answers capability checks for the current user.
type Authorizer interface {
	Can(capability string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(capability string) bool

// Can implements Authorizer.
func (f AuthorizerFunc) Can(capability string) bool { return f(capability) }

// Item is one admin menu entry.
type Item struct {
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Capability string `json:"capability"`
	Icon       string `json:"icon,omitempty"`
	Position   int    `json:"position"`
	Children   []Item `json:"children,omitempty"`
}

// Link renders an anchor for url. It returns "", false when a is nil or the
// user lacks capability. An empty capability is open to everyone with an
// authorizer.
func Link(a Authorizer, title, url, capability string) (string, bool) {
	if a == nil {
		return "", false
	}
	if capability != "" && !a.Can(capability) {
		return "", false
	}
	return anchor(title, url, false), true
}

func anchor(title, url string, active bool) string {
	var b strings.Builder
	b.WriteString(`<a href="`)
	b.WriteString(html.EscapeString(url))
	b.WriteString(`"`)
	if active {
		b.WriteString(` class="active"`)
	}
	b.WriteString(`>`)
	b.WriteString(html.EscapeString(title))
	b.WriteString(`</a>`)
	return b.String()
}

// Menu is the registry of admin menu items.
type Menu struct {
	hooks *hook.Dispatcher
	log   *zap.SugaredLogger

	mu    sync.RWMutex
	items []Item
}

// New creates an empty menu whose items pass through the admin_menu filter.
func New(hooks *hook.Dispatcher, log *zap.SugaredLogger) *Menu {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if hooks == nil {
		hooks = hook.NewDispatcher(log)
	}
	return &Menu{hooks: hooks, log: log}
}

// Add registers a top-level item. An item with an existing slug replaces it.
func (m *Menu) Add(item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		if m.items[i].Slug == item.Slug {
			m.items[i] = item
			return
		}
	}
	m.items = append(m.items, item)
}

// AddSubmenu appends item below the parent slug. It reports false when the
// parent is not registered.
func (m *Menu) AddSubmenu(parent string, item Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		if m.items[i].Slug == parent {
			m.items[i].Children = append(m.items[i].Children, item)
			return true
		}
	}
	m.log.Warnf("Cannot add submenu %s: parent %s not found", item.Slug, parent)
	return false
}

func (m *Menu) registered() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Item, len(m.items))
	for i, it := range m.items {
		out[i] = it
		out[i].Children = append([]Item(nil), it.Children...)
	}
	return out
}

// Items returns the filtered menu visible to a, sorted by position.
func (m *Menu) Items(ctx context.Context, a Authorizer) []Item {
	if a == nil {
		return nil
	}
	items := hook.Apply(ctx, m.hooks, hook.AdminMenu, m.registered())
	return visible(a, items)
}

func visible(a Authorizer, items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Capability != "" && !a.Can(it.Capability) {
			continue
		}
		it.Children = visible(a, it.Children)
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// Render returns the menu as nested lists. current marks the link whose URL
// matches. Users without any visible item get an empty string.
func (m *Menu) Render(ctx context.Context, a Authorizer, current string) string {
	items := m.Items(ctx, a)
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	m.renderList(ctx, &b, items, current, "admin-menu")
	return b.String()
}

func (m *Menu) renderList(ctx context.Context, b *strings.Builder, items []Item, current, class string) {
	b.WriteString(`<ul class="`)
	b.WriteString(class)
	b.WriteString(`">`)
	for _, it := range items {
		link := hook.Apply(ctx, m.hooks, hook.AdminMenuLink, anchor(it.Title, it.URL, it.URL == current), it)
		b.WriteString(`<li id="menu-`)
		b.WriteString(html.EscapeString(it.Slug))
		b.WriteString(`">`)
		b.WriteString(link)
		if len(it.Children) > 0 {
			m.renderList(ctx, b, it.Children, current, "admin-submenu")
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul>`)
}
