package plugin

import (
	"encoding/json"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// UtilsAPI exposes log(msg[, level]) and json.encode/json.decode.
type UtilsAPI struct {
	class string
	log   *zap.SugaredLogger
}

// NewUtilsAPI creates the utils module for one plugin.
func NewUtilsAPI(class string, log *zap.SugaredLogger) *UtilsAPI {
	return &UtilsAPI{class: class, log: log.With("plugin", class)}
}

// Register installs the module globals.
func (u *UtilsAPI) Register(L *lua.LState) {
	L.SetGlobal("log", L.NewFunction(u.logFn))
	L.SetGlobal("json", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"encode": u.jsonEncode,
		"decode": u.jsonDecode,
	}))
}

func (u *UtilsAPI) logFn(L *lua.LState) int {
	msg := L.CheckString(1)
	switch strings.ToLower(L.OptString(2, "info")) {
	case "debug":
		u.log.Debug(msg)
	case "warn", "warning":
		u.log.Warn(msg)
	case "error":
		u.log.Error(msg)
	default:
		u.log.Info(msg)
	}
	return 0
}

func (u *UtilsAPI) jsonEncode(L *lua.LState) int {
	data, err := json.Marshal(luaToGo(L.Get(1)))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

func (u *UtilsAPI) jsonDecode(L *lua.LState) int {
	var v any
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		return pushError(L, err)
	}
	L.Push(goToLua(L, v))
	return 1
}

// pushError pushes the nil, message pair Lua callers check for.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
