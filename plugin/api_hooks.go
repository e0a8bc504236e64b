package plugin

import (
	"context"

	"go-cms/hook"
	"go-cms/menu"

	lua "github.com/yuin/gopher-lua"
)

// HooksAPI lets a plugin register actions, filters and admin menu pages,
// and gives it its URL, directory and translations.
type HooksAPI struct {
	m       *Manager
	p       *Plugin
	sandbox *Sandbox
}

// NewHooksAPI creates the hook API for plugin p running in sandbox.
func NewHooksAPI(m *Manager, p *Plugin, sandbox *Sandbox) *HooksAPI {
	return &HooksAPI{m: m, p: p, sandbox: sandbox}
}

// Register adds the hook functions to the Lua state
func (h *HooksAPI) Register(L *lua.LState) {
	L.SetGlobal("add_action", L.NewFunction(h.addAction))
	L.SetGlobal("add_filter", L.NewFunction(h.addFilter))
	L.SetGlobal("remove_hook", L.NewFunction(h.removeHook))
	L.SetGlobal("do_action", L.NewFunction(h.doAction))
	L.SetGlobal("apply_filters", L.NewFunction(h.applyFilters))
	L.SetGlobal("did_action", L.NewFunction(h.didAction))
	L.SetGlobal("add_menu_page", L.NewFunction(h.addMenuPage))
	L.SetGlobal("plugin_url", L.NewFunction(h.pluginURL))
	L.SetGlobal("plugin_dir", L.NewFunction(h.pluginDir))
	L.SetGlobal("__", L.NewFunction(h.gettext))
	L.SetGlobal("_n", L.NewFunction(h.ngettext))
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func luaArgs(L *lua.LState, from int) []any {
	var args []any
	for i := from; i <= L.GetTop(); i++ {
		args = append(args, luaToGo(L.Get(i)))
	}
	return args
}

func (h *HooksAPI) addAction(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	priority := L.OptInt(3, hook.DefaultPriority)

	id := h.m.hooks.AddAction(name, h.p.Class, func(ctx context.Context, args ...any) {
		if _, err := h.sandbox.Call(ctx, fn, 0, args...); err != nil {
			h.m.log.Errorf("Plugin %s action %s failed: %v", h.p.Class, name, err)
		}
	}, priority)

	L.Push(lua.LNumber(id))
	return 1
}

func (h *HooksAPI) addFilter(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	priority := L.OptInt(3, hook.DefaultPriority)

	id := h.m.hooks.AddFilter(name, h.p.Class, func(ctx context.Context, value any, args ...any) any {
		out, err := h.sandbox.Call(ctx, fn, 1, append([]any{value}, args...)...)
		if err != nil {
			h.m.log.Errorf("Plugin %s filter %s failed: %v", h.p.Class, name, err)
			return value
		}
		return filterResult(out[0], value)
	}, priority)

	L.Push(lua.LNumber(id))
	return 1
}

func (h *HooksAPI) removeHook(L *lua.LState) int {
	name := L.CheckString(1)
	id := L.CheckInt64(2)
	L.Push(lua.LBool(h.m.hooks.Remove(name, hook.ID(id))))
	return 1
}

func (h *HooksAPI) doAction(L *lua.LState) int {
	name := L.CheckString(1)
	h.m.hooks.DoAction(luaContext(L), name, luaArgs(L, 2)...)
	return 0
}

func (h *HooksAPI) applyFilters(L *lua.LState) int {
	name := L.CheckString(1)
	value := luaToGo(L.Get(2))
	out := h.m.hooks.ApplyFilters(luaContext(L), name, value, luaArgs(L, 3)...)
	L.Push(goToLua(L, out))
	return 1
}

func (h *HooksAPI) didAction(L *lua.LState) int {
	L.Push(lua.LNumber(h.m.hooks.Did(L.CheckString(1))))
	return 1
}

// add_menu_page(slug, title, capability[, url[, position]])
func (h *HooksAPI) addMenuPage(L *lua.LState) int {
	item := menu.Item{
		Slug:       L.CheckString(1),
		Title:      L.CheckString(2),
		Capability: L.CheckString(3),
		URL:        L.OptString(4, ""),
		Position:   L.OptInt(5, 100),
	}
	if item.URL == "" {
		item.URL = "/admin/plugins/" + item.Slug
	}

	h.m.hooks.AddFilter(hook.AdminMenu, h.p.Class, func(ctx context.Context, value any, args ...any) any {
		items, _ := value.([]menu.Item)
		return append(items, item)
	}, hook.DefaultPriority)
	return 0
}

func (h *HooksAPI) pluginURL(L *lua.LState) int {
	path := L.OptString(1, "")
	L.Push(lua.LString(h.m.URL(luaContext(L), path, h.p.File)))
	return 1
}

func (h *HooksAPI) pluginDir(L *lua.LState) int {
	L.Push(lua.LString(h.m.Dir(h.p.File)))
	return 1
}

// __(msgid[, domain]) defaults to the plugin's own text domain.
func (h *HooksAPI) gettext(L *lua.LState) int {
	msgid := L.CheckString(1)
	domain := L.OptString(2, h.p.TextDomain())
	if h.m.translator == nil {
		L.Push(lua.LString(msgid))
		return 1
	}
	L.Push(lua.LString(h.m.translator.Gettext(domain, msgid)))
	return 1
}

func (h *HooksAPI) ngettext(L *lua.LState) int {
	singular := L.CheckString(1)
	plural := L.CheckString(2)
	n := L.CheckInt(3)
	domain := L.OptString(4, h.p.TextDomain())
	if h.m.translator == nil {
		if n == 1 {
			L.Push(lua.LString(singular))
		} else {
			L.Push(lua.LString(plural))
		}
		return 1
	}
	L.Push(lua.LString(h.m.translator.NGettext(domain, singular, plural, n)))
	return 1
}
