package plugin

import (
	"encoding/json"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// luaToGo converts a Lua value for hooks, JSON and storage. Tables with
// keys 1..n and nothing else become slices, other tables become maps keyed
// by the string form of the key. Functions and userdata become nil.
func luaToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 && tableSize(v) == n {
			out := make([]any, n)
			for i := 1; i <= n; i++ {
				out[i-1] = luaToGo(v.RawGetInt(i))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return nil
	}
}

func tableSize(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// goToLua converts a Go value for Lua. Types without a direct mapping go
// through their JSON form.
func goToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []string:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(lua.LString(item))
		}
		return t
	case []any:
		t := L.CreateTable(len(v), 0)
		for i, item := range v {
			t.RawSetInt(i+1, goToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			t.RawSetString(k, goToLua(L, item))
		}
		return t
	}

	data, err := json.Marshal(val)
	if err != nil {
		return lua.LNil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LNil
	}
	return goToLua(L, generic)
}

// filterResult maps what a Lua filter returned back onto the Go type of
// the value it received. Other Go types are decoded from the JSON form of
// the result. Results that do not fit the type leave the value unchanged.
func filterResult(out, in any) any {
	switch in.(type) {
	case nil:
		return out
	case string, bool, float64, []any, map[string]any:
		if out == nil {
			return in
		}
		return out
	case int:
		if f, ok := out.(float64); ok {
			return int(f)
		}
	case int64:
		if f, ok := out.(float64); ok {
			return int64(f)
		}
	default:
		if out != nil {
			return decodeAs(out, in)
		}
	}
	return in
}

func decodeAs(out, in any) any {
	typ := reflect.TypeOf(in)
	// an empty Lua table converts to an empty map
	if m, ok := out.(map[string]any); ok && len(m) == 0 && typ.Kind() == reflect.Slice {
		return reflect.MakeSlice(typ, 0, 0).Interface()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return in
	}
	ptr := reflect.New(typ)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return in
	}
	return ptr.Elem().Interface()
}
