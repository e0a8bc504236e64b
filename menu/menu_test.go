package menu

import (
	"context"
	"testing"

	"go-cms/hook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caps(granted ...string) Authorizer {
	set := make(map[string]bool, len(granted))
	for _, c := range granted {
		set[c] = true
	}
	return AuthorizerFunc(func(c string) bool { return set[c] })
}

func TestLink(t *testing.T) {
	link, ok := Link(caps("manage_plugins"), "Plugins & Themes", "/admin/plugins?x=1&y=2", "manage_plugins")
	require.True(t, ok)
	assert.Equal(t, `<a href="/admin/plugins?x=1&amp;y=2">Plugins &amp; Themes</a>`, link)
}

func TestLink_Unauthorized(t *testing.T) {
	link, ok := Link(caps("edit_posts"), "Plugins", "/admin/plugins", "manage_plugins")
	assert.False(t, ok)
	assert.Empty(t, link)

	link, ok = Link(nil, "Dashboard", "/admin", "")
	assert.False(t, ok)
	assert.Empty(t, link)
}

func TestLink_NoCapabilityRequired(t *testing.T) {
	_, ok := Link(caps(), "Dashboard", "/admin", "")
	assert.True(t, ok)
}

func newTestMenu(hooks *hook.Dispatcher) *Menu {
	m := New(hooks, nil)
	m.Add(Item{Slug: "settings", Title: "Settings", URL: "/admin/settings", Capability: "manage_options", Position: 80})
	m.Add(Item{Slug: "dashboard", Title: "Dashboard", URL: "/admin", Capability: "read", Position: 2})
	m.Add(Item{Slug: "plugins", Title: "Plugins", URL: "/admin/plugins", Capability: "manage_plugins", Position: 65})
	m.AddSubmenu("settings", Item{Slug: "settings-general", Title: "General", URL: "/admin/settings/general", Capability: "manage_options"})
	m.AddSubmenu("dashboard", Item{Slug: "dashboard-updates", Title: "Updates", URL: "/admin/updates", Capability: "update_core"})
	return m
}

func TestItems_PrunedAndSorted(t *testing.T) {
	m := newTestMenu(nil)

	items := m.Items(context.Background(), caps("read", "manage_options"))

	require.Len(t, items, 2)
	assert.Equal(t, "dashboard", items[0].Slug)
	assert.Empty(t, items[0].Children)
	assert.Equal(t, "settings", items[1].Slug)
	require.Len(t, items[1].Children, 1)
	assert.Equal(t, "settings-general", items[1].Children[0].Slug)

	assert.Nil(t, m.Items(context.Background(), nil))
}

func TestAddSubmenu_UnknownParent(t *testing.T) {
	m := New(nil, nil)
	assert.False(t, m.AddSubmenu("nope", Item{Slug: "x"}))
}

func TestAdd_ReplacesSlug(t *testing.T) {
	m := New(nil, nil)
	m.Add(Item{Slug: "a", Title: "Old"})
	m.Add(Item{Slug: "a", Title: "New"})

	items := m.Items(context.Background(), caps())
	require.Len(t, items, 1)
	assert.Equal(t, "New", items[0].Title)
}

func TestItems_AdminMenuFilter(t *testing.T) {
	hooks := hook.NewDispatcher(nil)
	hooks.AddFilter(hook.AdminMenu, "HelloPlugin", func(ctx context.Context, value any, args ...any) any {
		items := value.([]Item)
		return append(items, Item{Slug: "hello", Title: "Hello", URL: "/admin/hello", Capability: "manage_options", Position: 70})
	}, hook.DefaultPriority)
	m := newTestMenu(hooks)

	items := m.Items(context.Background(), caps("read", "manage_options", "manage_plugins"))
	slugs := make([]string, 0, len(items))
	for _, it := range items {
		slugs = append(slugs, it.Slug)
	}
	assert.Equal(t, []string{"dashboard", "plugins", "hello", "settings"}, slugs)

	// the filter does not leak into the registry
	m2 := m.registered()
	assert.Len(t, m2, 3)
}

func TestRender(t *testing.T) {
	m := newTestMenu(nil)

	out := m.Render(context.Background(), caps("read", "manage_options"), "/admin/settings/general")

	assert.Equal(t,
		`<ul class="admin-menu">`+
			`<li id="menu-dashboard"><a href="/admin">Dashboard</a></li>`+
			`<li id="menu-settings"><a href="/admin/settings">Settings</a>`+
			`<ul class="admin-submenu"><li id="menu-settings-general"><a href="/admin/settings/general" class="active">General</a></li></ul>`+
			`</li></ul>`,
		out)
}

func TestRender_Unauthorized(t *testing.T) {
	m := newTestMenu(nil)
	assert.Empty(t, m.Render(context.Background(), caps(), "/admin"))
	assert.Empty(t, m.Render(context.Background(), nil, "/admin"))
}

func TestRender_AdminMenuLinkFilter(t *testing.T) {
	hooks := hook.NewDispatcher(nil)
	hooks.AddFilter(hook.AdminMenuLink, "test", func(ctx context.Context, value any, args ...any) any {
		if args[0].(Item).Slug == "dashboard" {
			return value.(string) + `<span class="badge">3</span>`
		}
		return value
	}, hook.DefaultPriority)
	m := newTestMenu(hooks)

	out := m.Render(context.Background(), caps("read"), "")
	assert.Equal(t, `<ul class="admin-menu"><li id="menu-dashboard"><a href="/admin">Dashboard</a><span class="badge">3</span></li></ul>`, out)
}
